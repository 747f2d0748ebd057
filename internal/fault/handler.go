// Package fault is the terminal fault path. A detected fault or an
// unexpected exception is captured into a fixed record, written to the
// diagnostic flash region together with the trace buffer and mirrored to the
// sink as hex rows, and then the system is reset.
package fault

import (
	"encoding/binary"
	"io"

	"go.uber.org/zap"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
	"faultcore/internal/printers"
	"faultcore/internal/wdg"
)

const (
	// StackPattern fills unused stack so the high-water mark can be found.
	StackPattern uint32 = 0xcafebadd
	// GuardBlockBytes is the read-only region at the bottom of the stack.
	GuardBlockBytes = 32
)

// TraceSource is the trace recorder as seen from the panic path.
type TraceSource interface {
	Enable(on bool)
	Buffer() []byte
}

// PanicStore is the flash writer used while panicking.
type PanicStore interface {
	Region() (addr, size uint32)
	PageSize() uint32
	EraseBlock(addr uint32) error
	WriteBlock(addr uint32, data []byte) error
	Read(addr uint32, p []byte) error
}

// Watchdog is the part of the coordinator the handler needs.
type Watchdog interface {
	RegisterTriggered(fn wdg.TriggeredFunc)
	FeedHardware()
}

// ResetFlags gives the reset flags latched at power on and the live value.
type ResetFlags interface {
	Flags() uint32
	Current() uint32
}

// Config locates the stack and the guard block.
type Config struct {
	ProgramUnit uint32
	// DataStart is the lowest RAM address an exception frame may sit at.
	DataStart uint32
	// StackTop is the initial stack pointer; the stack grows down from it.
	StackTop uint32
	// GuardStart is the lowest stack address. With an MPU the first
	// GuardBlockBytes from here are write protected.
	GuardStart uint32
	ToFlash    bool
	ToSink     bool
}

// Validate checks the layout.
func (c Config) Validate() error {
	if !diag.IsPow2(c.ProgramUnit) || c.ProgramUnit < 4 || c.ProgramUnit > 16 {
		return common.Errorf(diag.ErrArg, "program unit %d not supported", c.ProgramUnit)
	}
	if !diag.Aligned(c.StackTop, 8) || !diag.Aligned(c.GuardStart, GuardBlockBytes) {
		return common.Errorf(diag.ErrArg, "stack top 0x%08x or guard 0x%08x misaligned", c.StackTop, c.GuardStart)
	}
	if c.GuardStart < c.DataStart || c.StackTop <= c.GuardStart+GuardBlockBytes {
		return common.Errorf(diag.ErrArg, "stack 0x%08x..0x%08x does not fit above data at 0x%08x",
			c.GuardStart, c.StackTop, c.DataStart)
	}
	return nil
}

// Deps are the ports the handler runs on. MPU may be nil on parts without
// one; Store may be nil when ToFlash is off.
type Deps struct {
	Trace      TraceSource
	Store      PanicStore
	Watchdog   Watchdog
	CPU        hw.CPU
	SCB        hw.SCB
	MPU        hw.MPU
	RAM        hw.Memory
	Clock      hw.Clock
	IRQ        hw.IRQMasker
	ResetCause ResetFlags
	Sink       io.Writer
}

// Phase is the progress of the fault pipeline.
type Phase int

const (
	PhaseNormal Phase = iota
	PhaseCapturing
	PhasePersisting
	PhaseReporting
	PhaseResetting
)

var phaseNames = [...]string{"normal", "capturing", "persisting", "reporting", "resetting"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Handler owns the fault record. All buffers used on the panic path are
// allocated by New.
type Handler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	out    *printers.HexPrinter

	rec      Record
	recBuf   []byte
	endBuf   []byte
	frameBuf [ExceptionFrameBytes]byte
	magicBuf [4]byte

	guardEnd   uint32
	guardArmed bool
	phase      Phase
	powerOn    uint32
}

// New creates the handler and latches the reset cause.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Trace == nil || deps.CPU == nil || deps.SCB == nil || deps.RAM == nil ||
		deps.Clock == nil || deps.IRQ == nil || deps.ResetCause == nil {
		return nil, common.Errorf(diag.ErrArg, "fault handler dependencies incomplete")
	}
	if cfg.ToFlash && deps.Store == nil {
		return nil, common.Errorf(diag.ErrArg, "fault to flash needs a panic store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if !cfg.ToSink {
		sink = io.Discard
	}
	h := &Handler{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("fault"),
		out:      printers.NewHexPrinter(sink),
		recBuf:   make([]byte, RecordBytes(cfg.ProgramUnit)),
		endBuf:   make([]byte, EndMarkerBytes(cfg.ProgramUnit)),
		guardEnd: cfg.GuardStart,
	}
	if deps.MPU != nil {
		h.guardEnd = cfg.GuardStart + GuardBlockBytes
	}
	h.powerOn = deps.ResetCause.Flags()
	return h, nil
}

// Start hooks the watchdog, paints the free stack and installs the guard.
func (h *Handler) Start() error {
	if h.deps.Watchdog != nil {
		h.deps.Watchdog.RegisterTriggered(h.onWatchdog)
	}
	sp := h.deps.CPU.SP() &^ 3
	for a := sp; a > h.cfg.GuardStart; {
		a -= 4
		if err := h.deps.RAM.WriteWord(a, StackPattern); err != nil {
			return err
		}
	}
	if h.deps.MPU != nil {
		h.deps.MPU.ConfigureRegion(hw.MPURegion{
			Number:       0,
			Base:         h.cfg.GuardStart,
			Size:         GuardBlockBytes,
			ReadOnly:     true,
			ExecuteNever: true,
		})
		h.deps.MPU.Enable()
		h.guardArmed = true
	}
	h.logger.Debug("started",
		zap.String("stack_top", hex32(h.cfg.StackTop)),
		zap.String("guard_end", hex32(h.guardEnd)))
	return nil
}

// Phase reports how far the pipeline got.
func (h *Handler) Phase() Phase { return h.phase }

// Record returns the captured record.
func (h *Handler) Record() Record { return h.rec }

func (h *Handler) onWatchdog(clientID uint32) diag.NoReturn {
	return h.Detected(KindWatchdog, clientID)
}

// Detected is called by software that found a fault. The stack is assumed
// usable, but the stack pointer is saved and moved back to the top before
// anything else runs.
func (h *Handler) Detected(kind Kind, param uint32) diag.NoReturn {
	h.enterPanic()
	h.rec.Kind = kind
	h.rec.Param = param
	h.rec.Frame = ExceptionFrame{}
	h.rec.LR = h.deps.CPU.LR()
	h.rec.SP = h.deps.CPU.SP()
	h.deps.CPU.SetSP(h.cfg.StackTop)
	return h.commonHandler()
}

// Exception is entered from the exception vector with the stack pointer at
// the time of the exception. The stacked frame is copied only when sp is
// aligned and the frame lies inside RAM.
func (h *Handler) Exception(sp uint32) diag.NoReturn {
	h.enterPanic()
	h.rec.Kind = KindException
	h.rec.Param = h.deps.CPU.IPSR()
	h.rec.LR = h.deps.CPU.LR()
	h.rec.SP = sp
	h.deps.CPU.SetSP(h.cfg.StackTop)
	h.rec.Frame = ExceptionFrame{}
	if h.frameReadable(sp) {
		if err := h.deps.RAM.Read(sp, h.frameBuf[:]); err == nil {
			h.rec.Frame = decodeFrame(h.frameBuf[:])
		}
	}
	return h.commonHandler()
}

func (h *Handler) frameReadable(sp uint32) bool {
	return sp&7 == 0 && sp >= h.cfg.DataStart &&
		uint64(sp)+ExceptionFrameBytes+4 <= uint64(h.cfg.StackTop)
}

func (h *Handler) enterPanic() {
	h.deps.IRQ.Disable()
	if h.deps.Watchdog != nil {
		h.deps.Watchdog.FeedHardware()
	}
	if h.deps.MPU != nil {
		h.deps.MPU.Disable()
	}
	h.phase = PhaseCapturing
}

func (h *Handler) commonHandler() diag.NoReturn {
	h.deps.Trace.Enable(false)
	h.out.Printf("\nFault type=%d param=%d\n", uint32(h.rec.Kind), h.rec.Param)
	h.logger.Error("fault",
		zap.Stringer("kind", h.rec.Kind),
		zap.Uint32("param", h.rec.Param),
		zap.String("sp", hex32(h.rec.SP)))

	regs := h.deps.SCB.FaultRegs()
	h.rec.Magic = diag.MagicFault
	h.rec.SectionBytes = uint32(len(h.recBuf))
	h.rec.IPSR = h.deps.CPU.IPSR()
	h.rec.ICSR = regs.ICSR
	h.rec.SHCSR = regs.SHCSR
	h.rec.CFSR = regs.CFSR
	h.rec.HFSR = regs.HFSR
	h.rec.MMFAR = regs.MMFAR
	h.rec.BFAR = regs.BFAR
	h.rec.TickMs = h.deps.Clock.NowMs()
	h.rec.Encode(h.recBuf)
	encodeEndMarker(h.endBuf)

	sections := [3][]byte{h.recBuf, h.deps.Trace.Buffer(), h.endBuf}

	h.phase = PhasePersisting
	if h.cfg.ToFlash {
		h.persist(sections)
	}

	h.phase = PhaseReporting
	var off uint32
	for _, s := range sections {
		h.out.WriteSection(off, s)
		off += uint32(len(s))
	}

	h.phase = PhaseResetting
	h.deps.SCB.SystemReset()
	panic("fault: system reset returned")
}

// persist writes the blob unless the region already holds an unread report.
// Errors are printed and the pipeline continues.
func (h *Handler) persist(sections [3][]byte) {
	store := h.deps.Store
	addr, size := store.Region()
	if err := store.Read(addr, h.magicBuf[:]); err == nil &&
		binary.LittleEndian.Uint32(h.magicBuf[:]) == diag.MagicFault {
		h.logger.Warn("diagnostic region holds an earlier report, not overwritten")
		return
	}
	var total uint32
	for _, s := range sections {
		total += uint32(len(s))
	}
	if total > size {
		h.out.Printf("Fault data of %d bytes exceeds flash region of %d bytes\n", total, size)
		return
	}
	for a := addr; a < addr+total; a += store.PageSize() {
		if err := store.EraseBlock(a); err != nil {
			h.out.Printf("flash erase at 0x%08x returns %v\n", a, err)
		}
	}
	off := addr
	for _, s := range sections {
		if err := store.WriteBlock(off, s); err != nil {
			h.out.Printf("flash write at 0x%08x returns %v\n", off, err)
		}
		off += uint32(len(s))
	}
}

// BlobBytes is the size of the full diagnostic blob.
func (h *Handler) BlobBytes() uint32 {
	return uint32(len(h.recBuf)+len(h.endBuf)) + uint32(len(h.deps.Trace.Buffer()))
}

// PowerOnResetFlags returns the reset flags latched at init.
func (h *Handler) PowerOnResetFlags() uint32 { return h.powerOn }
