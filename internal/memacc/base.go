package memacc

import (
	"fmt"

	"faultcore/internal/common"
	"faultcore/internal/diag"
)

// Kind says what backs an address range.
type Kind int

const (
	KindUnknown Kind = iota
	KindRAM          // writable byte slice
	KindDevice       // read-only window onto a live device
)

func (k Kind) String() string {
	switch k {
	case KindRAM:
		return "RAM"
	case KindDevice:
		return "Device"
	}
	return "Unknown"
}

// Accessor maps one contiguous address range. Ranges are inclusive.
type Accessor interface {
	// ReadBytes copies up to len(p) bytes from address and returns the count.
	ReadBytes(address uint32, p []byte) uint32
	// WriteBytes stores up to len(p) bytes at address and returns the count.
	WriteBytes(address uint32, p []byte) uint32

	Range() Span
}

// Span is an inclusive, word aligned address range.
type Span struct {
	Start uint32
	End   uint32
	Kind  Kind
}

// Range lets an embedding accessor satisfy Accessor.
func (s Span) Range() Span { return s }

// Has reports whether address lies in the span.
func (s Span) Has(address uint32) bool {
	return address >= s.Start && address <= s.End
}

// Avail returns how many of want bytes starting at address lie in the span.
func (s Span) Avail(address, want uint32) uint32 {
	if !s.Has(address) {
		return 0
	}
	left := uint64(s.End) - uint64(address) + 1
	if left < uint64(want) {
		return uint32(left)
	}
	return want
}

// Overlaps reports whether o shares any address with s.
func (s Span) Overlaps(o Span) bool {
	return s.Has(o.Start) || s.Has(o.End) || (o.Start < s.Start && o.End > s.End)
}

// Valid requires word aligned bounds and a non-empty range.
func (s Span) Valid() bool {
	return diag.Aligned(s.Start, 4) && (uint64(s.End)+1)&3 == 0 && s.Start < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("%v 0x%08x-0x%08x", s.Kind, s.Start, s.End)
}

func errOutOfRange(addr uint32, n int) error {
	return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr,
		fmt.Sprintf("%d bytes not mapped", n))
}
