//go:build property
// +build property

package blob

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"faultcore/internal/catalog"
	"faultcore/internal/hw/sim"
	"faultcore/internal/trace"
)

type written struct {
	start, end uint64
	entry      TraceEntry
}

// record writes one self-test entry derived from seed. Argument bytes are
// kept at 0x80 and above so they can never be read as a tag.
func record(r *trace.Recorder, cat *catalog.Catalog, seed uint32, pos uint64) written {
	e, _ := cat.Lookup(uint8(1 + seed%4))
	var raw []byte
	args := make([]uint32, len(e.Args))
	b := seed
	for i, w := range e.Args {
		var v uint32
		for j := 0; j < w; j++ {
			c := byte(0x80 | b)
			b = b>>3 | b<<29
			raw = append(raw, c)
			v = v<<8 | uint32(c)
		}
		args[i] = v
	}
	r.Record(e.ID, raw...)
	return written{
		start: pos,
		end:   pos + uint64(1+len(raw)),
		entry: TraceEntry{Tag: e.ID, Args: args, Text: e.Render(args)},
	}
}

// TestReplayRecoversSurvivingEntries checks that replay returns exactly the
// entries still wholly inside the buffer, oldest first, wrapped or not.
func TestReplayRecoversSurvivingEntries(t *testing.T) {
	cat := catalog.Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("surviving entries replay in order", prop.ForAll(
		func(capacity uint32, seeds []uint32) bool {
			r, err := trace.New(trace.Config{Capacity: capacity}, &sim.IRQ{})
			if err != nil {
				return false
			}
			r.Enable(true)
			var all []written
			var total uint64
			for _, s := range seeds {
				w := record(r, cat, s, total)
				all = append(all, w)
				total = w.end
			}
			if total == 0 {
				return true
			}
			// Without a wrap the unwritten tail must be longer than the
			// largest entry, or the search window reaches real entries.
			if total < uint64(capacity) && uint64(capacity)-total <= uint64(cat.MaxMsgLen()) {
				return true
			}

			var want []TraceEntry
			oldest := uint64(0)
			if total > uint64(capacity) {
				oldest = total - uint64(capacity)
			}
			for _, w := range all {
				if w.start >= oldest {
					want = append(want, w.entry)
				}
			}

			rep, err := NewDecoder(cat, nil).Decode(r.Buffer())
			if err != nil || rep.Trace == nil || len(rep.Trace.Entries) != len(want) {
				return false
			}
			for i, e := range rep.Trace.Entries {
				if e.Text != want[i].Text || e.Tag != want[i].Tag {
					return false
				}
			}
			return len(rep.Trace.Unused) == 0
		},
		gen.UInt32Range(16, 256),
		gen.SliceOf(gen.UInt32()),
	))

	properties.TestingRun(t)
}
