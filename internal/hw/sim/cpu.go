// Package sim provides in-memory doubles for the hardware ports in package
// hw. A simulated system reset is raised as a panic carrying *ResetEvent so
// that "never returns" paths can be exercised from tests.
package sim

import (
	"fmt"

	"faultcore/internal/hw"
)

// ResetEvent is the panic value raised by SCB.SystemReset.
type ResetEvent struct {
	Cause uint32
}

func (r *ResetEvent) Error() string {
	return fmt.Sprintf("system reset (cause 0x%08x)", r.Cause)
}

// CatchReset runs fn and reports whether it ended in a simulated reset.
// Any other panic is propagated.
func CatchReset(fn func()) (ev *ResetEvent) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*ResetEvent)
			if !ok {
				panic(r)
			}
			ev = re
		}
	}()
	fn()
	return nil
}

// IRQ is a nestable interrupt mask for a single simulated core.
type IRQ struct {
	masked bool
	Depth  int
}

var _ hw.IRQMasker = (*IRQ)(nil)

func (q *IRQ) Disable() hw.IRQState {
	prev := q.masked
	q.masked = true
	q.Depth++
	if prev {
		return 1
	}
	return 0
}

func (q *IRQ) Restore(st hw.IRQState) {
	if q.Depth > 0 {
		q.Depth--
	}
	q.masked = st != 0
}

// Masked reports whether interrupts are currently masked.
func (q *IRQ) Masked() bool { return q.masked }

// CPU holds the core registers.
type CPU struct {
	IPSRVal uint32
	LRVal   uint32
	SPVal   uint32
}

var _ hw.CPU = (*CPU)(nil)

func (c *CPU) IPSR() uint32    { return c.IPSRVal }
func (c *CPU) LR() uint32      { return c.LRVal }
func (c *CPU) SP() uint32      { return c.SPVal }
func (c *CPU) SetSP(sp uint32) { c.SPVal = sp }

// SCB holds the fault registers and raises ResetEvent on SystemReset.
type SCB struct {
	Regs   hw.FaultRegs
	Resets int
	// Cause is latched into the reset controller on SystemReset, if set.
	Cause *ResetCause
}

var _ hw.SCB = (*SCB)(nil)

func (s *SCB) FaultRegs() hw.FaultRegs { return s.Regs }

func (s *SCB) SystemReset() {
	s.Resets++
	if s.Cause != nil {
		s.Cause.Latch(hw.ResetSoftware)
	}
	panic(&ResetEvent{Cause: hw.ResetSoftware})
}

// ResetCause models the latched reset flags of the clock controller.
type ResetCause struct {
	flags uint32
}

var _ hw.ResetCause = (*ResetCause)(nil)

func NewResetCause(flags uint32) *ResetCause { return &ResetCause{flags: flags} }

func (r *ResetCause) Flags() uint32 { return r.flags }
func (r *ResetCause) ClearFlags()   { r.flags = 0 }

// Latch records the cause of a reset that is about to happen.
func (r *ResetCause) Latch(flags uint32) { r.flags |= flags }

// MPU records region configuration and the enable state.
type MPU struct {
	Regions map[uint8]hw.MPURegion
	Enabled bool
}

var _ hw.MPU = (*MPU)(nil)

func (m *MPU) ConfigureRegion(r hw.MPURegion) {
	if m.Regions == nil {
		m.Regions = make(map[uint8]hw.MPURegion)
	}
	m.Regions[r.Number] = r
}

func (m *MPU) Enable()  { m.Enabled = true }
func (m *MPU) Disable() { m.Enabled = false }

// WriteProtected reports whether a store to addr would take a protection fault.
func (m *MPU) WriteProtected(addr uint32) bool {
	if !m.Enabled {
		return false
	}
	for _, r := range m.Regions {
		if r.ReadOnly && addr >= r.Base && addr-r.Base < r.Size {
			return true
		}
	}
	return false
}

// Retained is a block of RAM that survives a simulated reset.
type Retained struct {
	words []uint32
}

var _ hw.RetainedMemory = (*Retained)(nil)

func NewRetained(numWords int) *Retained {
	return &Retained{words: make([]uint32, numWords)}
}

func (r *Retained) Words() []uint32 { return r.words }
