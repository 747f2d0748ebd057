package memacc

import (
	"encoding/binary"
	"fmt"
	"sort"

	"faultcore/internal/common"
	"faultcore/internal/diag"
)

// Mapper maps target addresses onto a set of non-overlapping accessors. It
// implements hw.Memory with little-endian word access.
type Mapper struct {
	accessors []Accessor
	accCurr   Accessor
}

func NewMapper() *Mapper {
	return &Mapper{}
}

// AddAccessor adds a new memory accessor to the mapper.
func (m *Mapper) AddAccessor(accessor Accessor) error {
	sp := accessor.Range()
	if !sp.Valid() {
		return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, sp.Start, "invalid accessor range")
	}
	for _, a := range m.accessors {
		if a.Range().Overlaps(sp) {
			return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, sp.Start,
				fmt.Sprintf("%v overlaps %v", sp, a.Range()))
		}
	}
	m.accessors = append(m.accessors, accessor)
	sort.Slice(m.accessors, func(i, j int) bool {
		return m.accessors[i].Range().Start < m.accessors[j].Range().Start
	})
	return nil
}

// RemoveAllAccessors clears all accessors.
func (m *Mapper) RemoveAllAccessors() {
	m.accessors = nil
	m.accCurr = nil
}

// Contains reports whether every byte of [addr, addr+n) is mapped.
func (m *Mapper) Contains(addr uint32, n uint32) bool {
	for n > 0 {
		acc := m.find(addr)
		if acc == nil {
			return false
		}
		got := acc.Range().Avail(addr, n)
		addr += got
		n -= got
	}
	return true
}

func (m *Mapper) find(address uint32) Accessor {
	if m.accCurr != nil && m.accCurr.Range().Has(address) {
		return m.accCurr
	}
	for _, acc := range m.accessors {
		if acc.Range().Has(address) {
			m.accCurr = acc
			return acc
		}
	}
	return nil
}

// Read fills p from target memory. Reads may span adjacent accessors; any
// unmapped byte fails the whole read.
func (m *Mapper) Read(addr uint32, p []byte) error {
	if !m.Contains(addr, uint32(len(p))) {
		return errOutOfRange(addr, len(p))
	}
	for done := 0; done < len(p); {
		a := addr + uint32(done)
		done += int(m.find(a).ReadBytes(a, p[done:]))
	}
	return nil
}

// Write stores p into target memory.
func (m *Mapper) Write(addr uint32, p []byte) error {
	if !m.Contains(addr, uint32(len(p))) {
		return errOutOfRange(addr, len(p))
	}
	for done := 0; done < len(p); {
		a := addr + uint32(done)
		n := m.find(a).WriteBytes(a, p[done:])
		if n == 0 {
			return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, a, "range is read-only")
		}
		done += int(n)
	}
	return nil
}

func (m *Mapper) ReadWord(addr uint32) (uint32, error) {
	var b [4]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (m *Mapper) WriteWord(addr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(addr, b[:])
}
