package blob

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"

	"faultcore/internal/catalog"
	"faultcore/internal/trace"
)

// minTraceSection is a header plus at least one payload word.
const minTraceSection = trace.HeaderBytes + 4

// TraceEntry is one replayed record.
type TraceEntry struct {
	// Offset is the position of the tag byte in the payload.
	Offset uint32
	Tag    uint8
	Args   []uint32
	Text   string
	// Skipped holds unknown bytes found just before this entry.
	Skipped []byte
}

// TraceReport is the replayed trace section.
type TraceReport struct {
	Capacity uint32
	Cursor   uint32
	// Start is the payload offset replay began at.
	Start   uint32
	Entries []TraceEntry
	// Unused is the incomplete data left before the cursor.
	Unused   []byte
	Replayed bool
	// Problem is set when the header is inconsistent and nothing was replayed.
	Problem string
}

// ring reads the circular payload. Values are big-endian. Reading stops
// when the cursor is reached again, except on the very first read.
type ring struct {
	buf []byte
	put uint32
}

func (r ring) next(idx uint32) uint32 {
	idx++
	if idx >= uint32(len(r.buf)) {
		idx = 0
	}
	return idx
}

func (r ring) get(idx uint32, n int, first bool) (uint32, uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		if idx == r.put && !first {
			return 0, idx, io.EOF
		}
		v = v<<8 | uint32(r.buf[idx])
		idx = r.next(idx)
	}
	return v, idx, nil
}

// left counts how many of the next n bytes can be read.
func (r ring) left(idx uint32, n int) (int, uint32) {
	got := 0
	for got < n && idx != r.put {
		idx = r.next(idx)
		got++
	}
	return got, idx
}

func (d *Decoder) replay(body []byte, order binary.ByteOrder) *TraceReport {
	tr := &TraceReport{}
	if len(body) < minTraceSection {
		tr.Problem = fmt.Sprintf("insufficient trace buffer size - %d bytes", len(body))
		return tr
	}
	tr.Capacity = order.Uint32(body[8:])
	tr.Cursor = order.Uint32(body[12:])
	if uint64(tr.Capacity)+trace.HeaderBytes != uint64(len(body)) {
		tr.Problem = fmt.Sprintf("invalid trace buf_len: %d bytes", tr.Capacity)
		return tr
	}
	if tr.Cursor >= tr.Capacity {
		tr.Problem = fmt.Sprintf("invalid trace put_idx: %d", tr.Cursor)
		return tr
	}
	r := ring{buf: body[trace.HeaderBytes:], put: tr.Cursor}
	tr.Start = optimalStart(r, d.cat)
	d.logger.Debug("trace replay",
		zap.Uint32("capacity", tr.Capacity), zap.Uint32("put_idx", tr.Cursor), zap.Uint32("start", tr.Start))

	idx := tr.Start
	first := true
	var unusedFrom uint32
	for {
		var skipped []byte
		var e catalog.Entry
		entryStart := idx
		tagIdx := idx
		eof := false
		for {
			tagIdx = idx
			id, next, err := r.get(idx, 1, first)
			if err != nil {
				eof = true
				break
			}
			idx = next
			first = false
			tr.Replayed = true
			var ok bool
			if e, ok = d.cat.Lookup(uint8(id)); ok {
				break
			}
			skipped = append(skipped, uint8(id))
		}
		if eof {
			unusedFrom = entryStart
			break
		}
		args := make([]uint32, len(e.Args))
		for i, w := range e.Args {
			v, next, err := r.get(idx, w, false)
			if err != nil {
				eof = true
				break
			}
			args[i] = v
			idx = next
		}
		if eof {
			unusedFrom = tagIdx
			if len(skipped) > 0 {
				unusedFrom = entryStart
			}
			break
		}
		tr.Entries = append(tr.Entries, TraceEntry{
			Offset:  tagIdx,
			Tag:     e.ID,
			Args:    args,
			Text:    e.Render(args),
			Skipped: skipped,
		})
	}
	if tr.Replayed {
		for idx := unusedFrom; ; {
			v, next, err := r.get(idx, 1, false)
			if err != nil {
				break
			}
			tr.Unused = append(tr.Unused, uint8(v))
			idx = next
		}
	}
	return tr
}

// optimalStart picks the replay start in [cursor, cursor+MaxMsgLen] that
// meets the fewest unknown tags, never wrapping back onto the cursor. The cursor may point into the middle of an
// overwritten entry, so the oldest bytes are not necessarily a tag. Ties go
// to the earliest offset.
func optimalStart(r ring, cat *catalog.Catalog) uint32 {
	best := r.put
	bestInvalid := len(r.buf) + 1
	for off := 0; off <= min(cat.MaxMsgLen(), len(r.buf)-1); off++ {
		start := uint32((int(r.put) + off) % len(r.buf))
		idx := start
		first := off == 0
		invalid := 0
		for {
			id, next, err := r.get(idx, 1, first)
			if err != nil {
				break
			}
			idx = next
			first = false
			e, ok := cat.Lookup(uint8(id))
			if !ok {
				invalid++
				continue
			}
			got, next := r.left(idx, e.ArgBytes())
			idx = next
			if got < e.ArgBytes() {
				break
			}
		}
		if invalid < bestInvalid {
			bestInvalid = invalid
			best = start
		}
	}
	return best
}
