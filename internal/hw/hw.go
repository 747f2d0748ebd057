// Package hw declares the narrow hardware ports the reliability core is
// built on. Each port exposes only the operations the core needs, so the
// components can run against real registers or the in-memory doubles in
// package sim.
package hw

// IRQState is the interrupt mask state saved on entry to a critical section.
type IRQState uint32

// IRQMasker provides nestable critical sections. Restore must be passed the
// state returned by the matching Disable.
type IRQMasker interface {
	Disable() IRQState
	Restore(st IRQState)
}

// Clock is a monotonic millisecond clock. It wraps at 2^32.
type Clock interface {
	NowMs() uint32
}

// TimerAction is returned by a timer callback.
type TimerAction int

const (
	TimerStop TimerAction = iota
	TimerRestart
)

// TimerFunc is called by the timer service when a timer expires.
type TimerFunc func(timerID int, userData uint32) TimerAction

// TimerService runs callbacks from the base level of the super loop.
type TimerService interface {
	Start(periodMs uint32, fn TimerFunc, userData uint32) (int, error)
}

// FlashController is the erase/program peripheral. Flash is memory mapped,
// so Read is a plain load from the array.
type FlashController interface {
	Busy() bool
	// WriteWait reports a pending program buffer on parts that have one.
	WriteWait() bool
	Unlock()
	ErrorFlags() uint32
	ClearErrorFlags(mask uint32)
	ClearCommand()
	Caches() (icache, dcache bool)
	SetCaches(icache, dcache bool)
	InvalidateCaches()
	StartErase(bank, page uint32)
	BeginProgram()
	// ProgramUnit writes one program unit at addr and starts the operation.
	ProgramUnit(addr uint32, data []byte)
	Read(addr uint32, p []byte)
}

// WatchdogTimer is the independent hardware watchdog.
type WatchdogTimer interface {
	Enable()
	EnableWriteAccess()
	SetPrescaler(div uint32)
	SetReload(v uint32)
	Ready() bool
	Reload()
	FreezeInDebug()
}

// MPURegion describes one protection region.
type MPURegion struct {
	Number       uint8
	Base         uint32
	Size         uint32
	ReadOnly     bool
	ExecuteNever bool
}

// MPU is the memory protection unit.
type MPU interface {
	ConfigureRegion(r MPURegion)
	Enable()
	Disable()
}

// CPU exposes the core registers the fault handler captures.
type CPU interface {
	IPSR() uint32
	LR() uint32
	SP() uint32
	SetSP(sp uint32)
}

// FaultRegs is a snapshot of the system control block fault registers.
type FaultRegs struct {
	ICSR  uint32
	SHCSR uint32
	CFSR  uint32
	HFSR  uint32
	MMFAR uint32
	BFAR  uint32
}

// SCB reads the fault status registers and requests a system reset.
// SystemReset does not return on hardware.
type SCB interface {
	FaultRegs() FaultRegs
	SystemReset()
}

// Reset cause flags, as latched by the reset and clock controller.
const (
	ResetLowPower  uint32 = 1 << 31
	ResetWindowWdg uint32 = 1 << 30
	ResetIndepWdg  uint32 = 1 << 29
	ResetSoftware  uint32 = 1 << 28
	ResetPowerOn   uint32 = 1 << 27
	ResetPin       uint32 = 1 << 26
	ResetBrownOut  uint32 = 1 << 25
)

// ResetCause reads and clears the latched reset flags.
type ResetCause interface {
	Flags() uint32
	ClearFlags()
}

// RetainedMemory is RAM excluded from zero initialization at startup. Words
// returns a view of the region; writes through it persist across a reset.
type RetainedMemory interface {
	Words() []uint32
}

// Memory gives word and byte access to target RAM.
type Memory interface {
	Read(addr uint32, p []byte) error
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr uint32, v uint32) error
}
