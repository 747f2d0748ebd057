// Package trace implements the lightweight circular trace recorder. Entries
// are a one byte tag followed by zero or more argument bytes; the decoder
// learns argument widths from a tag catalog.
package trace

import (
	"encoding/binary"
	"fmt"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
)

const (
	// DefaultCapacity makes the section 1024 bytes.
	DefaultCapacity = 1008
	// HeaderBytes covers magic, section length, capacity and cursor.
	HeaderBytes = 16
)

// Tags used by SelfTest.
const (
	TagTest1 byte = 1 + iota
	TagTest2
	TagTest3
	TagTest4
)

// Config sizes the recorder.
type Config struct {
	Capacity uint32
	// ProgramUnit, if set, must divide the section length so the section can
	// be written to flash as is.
	ProgramUnit uint32
}

// Status is a snapshot for the "trace status" command.
type Status struct {
	Enabled   bool
	Cursor    uint32
	Capacity  uint32
	Countdown uint32
}

func (s Status) String() string {
	on := 0
	if s.Enabled {
		on = 1
	}
	return fmt.Sprintf("on=%d put_idx=%d", on, s.Cursor)
}

// Recorder is the process-wide trace buffer. Record may be called from any
// context; it never blocks or allocates.
type Recorder struct {
	irq      hw.IRQMasker
	section  []byte
	payload  []byte
	capacity uint32
	cursor   uint32
	active   bool
	offCnt   uint32
}

// New allocates the section once. The recorder starts disabled.
func New(cfg Config, irq hw.IRQMasker) (*Recorder, error) {
	if cfg.Capacity == 0 {
		return nil, common.Errorf(diag.ErrArg, "trace capacity must be non-zero")
	}
	if irq == nil {
		return nil, common.Errorf(diag.ErrArg, "trace recorder needs an interrupt masker")
	}
	if cfg.ProgramUnit != 0 {
		if !diag.IsPow2(cfg.ProgramUnit) {
			return nil, common.Errorf(diag.ErrArg, "program unit %d is not a power of two", cfg.ProgramUnit)
		}
		if !diag.Aligned(HeaderBytes+cfg.Capacity, cfg.ProgramUnit) {
			return nil, common.Errorf(diag.ErrArg, "trace section of %d bytes is not a multiple of %d",
				HeaderBytes+cfg.Capacity, cfg.ProgramUnit)
		}
	}
	section := make([]byte, HeaderBytes+cfg.Capacity)
	return &Recorder{
		irq:      irq,
		section:  section,
		payload:  section[HeaderBytes:],
		capacity: cfg.Capacity,
	}, nil
}

// Record appends tag and args. It is a no-op while disabled, and entries
// that could not fit in the buffer are dropped.
//
// The cursor is reserved inside the critical section and the bytes are
// stored after it ends. A fault between the two leaves stale bytes behind
// a cursor that looks valid.
func (r *Recorder) Record(tag byte, args ...byte) {
	n := uint32(len(args))
	if n >= r.capacity {
		return
	}

	st := r.irq.Disable()
	if !r.active {
		r.irq.Restore(st)
		return
	}
	if r.offCnt != 0 {
		r.offCnt--
		if r.offCnt == 0 {
			r.active = false
		}
	}
	put := r.cursor % r.capacity
	r.cursor = (put + 1 + n) % r.capacity
	r.irq.Restore(st)

	r.payload[put] = tag
	for _, b := range args {
		put++
		if put == r.capacity {
			put = 0
		}
		r.payload[put] = b
	}
}

// Record8 records a one byte argument.
func (r *Recorder) Record8(tag byte, v uint8) {
	r.Record(tag, v)
}

// Record16 records a two byte argument, most significant byte first.
func (r *Recorder) Record16(tag byte, v uint16) {
	r.Record(tag, byte(v>>8), byte(v))
}

// Record32 records a four byte argument, most significant byte first.
func (r *Recorder) Record32(tag byte, v uint32) {
	r.Record(tag, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Enable turns recording on or off and cancels any pending countdown.
func (r *Recorder) Enable(on bool) {
	st := r.irq.Disable()
	r.active = on
	r.offCnt = 0
	r.irq.Restore(st)
}

// EnableFor turns recording on for k more records; the k-th record is kept
// and leaves the recorder disabled. k == 0 means no limit.
func (r *Recorder) EnableFor(k uint32) {
	st := r.irq.Disable()
	r.active = true
	r.offCnt = k
	r.irq.Restore(st)
}

func (r *Recorder) Enabled() bool { return r.active }

// Cursor is the index the next entry will be written at.
func (r *Recorder) Cursor() uint32 { return r.cursor }

func (r *Recorder) Capacity() uint32 { return r.capacity }

// Buffer returns the header and payload, ready to be persisted. The header is
// filled in here rather than on every write. The slice aliases the live
// buffer.
func (r *Recorder) Buffer() []byte {
	binary.LittleEndian.PutUint32(r.section[0:], diag.MagicTrace)
	binary.LittleEndian.PutUint32(r.section[4:], uint32(len(r.section)))
	binary.LittleEndian.PutUint32(r.section[8:], r.capacity)
	binary.LittleEndian.PutUint32(r.section[12:], r.cursor)
	return r.section
}

// Status returns the current state.
func (r *Recorder) Status() Status {
	return Status{
		Enabled:   r.active,
		Cursor:    r.cursor,
		Capacity:  r.capacity,
		Countdown: r.offCnt,
	}
}

// SelfTest records one entry of each test tag and then disables recording.
func (r *Recorder) SelfTest() {
	a, b, c := uint32(10), uint32(1000), uint32(100000)
	r.Record(TagTest1)
	r.Record8(TagTest2, uint8(a))
	r.Record(TagTest3, byte(a), byte(b>>8), byte(b))
	r.Record(TagTest4, byte(a), byte(b>>8), byte(b),
		byte(c>>24), byte(c>>16), byte(c>>8), byte(c))
	r.Enable(false)
}
