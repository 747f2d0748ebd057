package sim

import "faultcore/internal/hw"

// Flash status error flags.
const (
	FlagOpErr   uint32 = 1 << 1
	FlagProgErr uint32 = 1 << 3
	FlagWrpErr  uint32 = 1 << 4
	FlagPgaErr  uint32 = 1 << 5
	FlagSizErr  uint32 = 1 << 6
	FlagPgsErr  uint32 = 1 << 7
)

type flashCmd int

const (
	cmdNone flashCmd = iota
	cmdProgram
	cmdErase
)

// FlashGeometry describes the simulated array.
type FlashGeometry struct {
	BaseAddr    uint32
	PageSize    uint32
	NumPages    uint32
	NumBanks    uint32
	ProgramUnit uint32
}

// Flash is a memory mapped flash array behind an erase/program controller.
// The array starts erased (all 0xff).
type Flash struct {
	geo  FlashGeometry
	data []byte

	locked bool
	cmd    flashCmd
	sr     uint32

	ICache bool
	DCache bool

	// BusyPolls is the number of Busy polls that report true.
	BusyPolls int
	// OpBusyPolls is loaded into BusyPolls each time an operation starts.
	OpBusyPolls int
	// InjectErrors is raised in the status register by the next operation.
	InjectErrors uint32
	// WriteWaitFlag is reported by WriteWait.
	WriteWaitFlag bool

	Erases         int
	Programs       int
	Invalidations  int
	OpsWithCacheOn int
}

var _ hw.FlashController = (*Flash)(nil)

// NewFlash creates an erased, locked array with both caches enabled.
func NewFlash(geo FlashGeometry) *Flash {
	if geo.NumBanks == 0 {
		geo.NumBanks = 1
	}
	f := &Flash{
		geo:    geo,
		data:   make([]byte, geo.PageSize*geo.NumPages),
		locked: true,
		ICache: true,
		DCache: true,
	}
	for i := range f.data {
		f.data[i] = 0xff
	}
	return f
}

func (f *Flash) Busy() bool {
	if f.BusyPolls > 0 {
		f.BusyPolls--
		return true
	}
	return false
}

func (f *Flash) WriteWait() bool { return f.WriteWaitFlag }

func (f *Flash) Unlock() { f.locked = false }

// Lock sets the lock bit again, as a reset does.
func (f *Flash) Lock() { f.locked = true }

func (f *Flash) ErrorFlags() uint32 { return f.sr }

func (f *Flash) ClearErrorFlags(mask uint32) { f.sr &^= mask }

func (f *Flash) ClearCommand() { f.cmd = cmdNone }

func (f *Flash) Caches() (bool, bool) { return f.ICache, f.DCache }

func (f *Flash) SetCaches(icache, dcache bool) {
	f.ICache = icache
	f.DCache = dcache
}

func (f *Flash) InvalidateCaches() { f.Invalidations++ }

func (f *Flash) startOp() bool {
	if f.ICache || f.DCache {
		f.OpsWithCacheOn++
	}
	if f.locked {
		f.sr |= FlagPgsErr
		return false
	}
	f.BusyPolls = f.OpBusyPolls
	f.sr |= f.InjectErrors
	f.InjectErrors = 0
	return true
}

func (f *Flash) StartErase(bank, page uint32) {
	f.cmd = cmdErase
	if !f.startOp() {
		return
	}
	pagesPerBank := f.geo.NumPages / f.geo.NumBanks
	if bank >= f.geo.NumBanks || page >= pagesPerBank {
		f.sr |= FlagPgsErr
		return
	}
	off := (bank*pagesPerBank + page) * f.geo.PageSize
	for i := off; i < off+f.geo.PageSize; i++ {
		f.data[i] = 0xff
	}
	f.Erases++
}

func (f *Flash) BeginProgram() { f.cmd = cmdProgram }

func (f *Flash) ProgramUnit(addr uint32, data []byte) {
	if f.cmd != cmdProgram {
		f.sr |= FlagPgsErr
		return
	}
	if !f.startOp() {
		return
	}
	if uint32(len(data)) != f.geo.ProgramUnit {
		f.sr |= FlagSizErr
		return
	}
	if addr%f.geo.ProgramUnit != 0 {
		f.sr |= FlagPgaErr
		return
	}
	off, ok := f.offset(addr, uint32(len(data)))
	if !ok {
		f.sr |= FlagWrpErr
		return
	}
	for i := range data {
		if f.data[off+uint32(i)] != 0xff {
			f.sr |= FlagProgErr
			return
		}
	}
	copy(f.data[off:], data)
	f.Programs++
}

func (f *Flash) Read(addr uint32, p []byte) {
	off, ok := f.offset(addr, uint32(len(p)))
	if !ok {
		for i := range p {
			p[i] = 0
		}
		return
	}
	copy(p, f.data[off:])
}

// Bytes returns the whole array.
func (f *Flash) Bytes() []byte { return f.data }

// Geometry returns the array description.
func (f *Flash) Geometry() FlashGeometry { return f.geo }

func (f *Flash) offset(addr, n uint32) (uint32, bool) {
	if addr < f.geo.BaseAddr {
		return 0, false
	}
	off := addr - f.geo.BaseAddr
	if uint64(off)+uint64(n) > uint64(len(f.data)) {
		return 0, false
	}
	return off, true
}
