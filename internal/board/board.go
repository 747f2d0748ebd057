// Package board runs the reliability core on simulated hardware in the order
// the firmware dispatcher uses: init guard, init, start, init successful,
// hardware watchdog, then the super loop. Flash, the retained RAM block and
// the reset controller survive a reset; everything else is rebuilt on Boot.
package board

import (
	_ "embed"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"faultcore/internal/catalog"
	"faultcore/internal/common"
	"faultcore/internal/config"
	"faultcore/internal/diag"
	"faultcore/internal/fault"
	"faultcore/internal/flash"
	"faultcore/internal/hw"
	"faultcore/internal/hw/sim"
	"faultcore/internal/memacc"
	"faultcore/internal/trace"
	"faultcore/internal/wdg"
)

// Trace tags recorded by the board.
const (
	TagBoot        byte = 16
	TagTaskFed     byte = 17
	TagTaskStarved byte = 18
)

//go:embed tags.yaml
var boardTags []byte

// Catalog returns the self test tags merged with the board tags.
func Catalog() *catalog.Catalog {
	own, err := catalog.Parse(boardTags)
	if err != nil {
		panic("board: embedded tag catalog: " + err.Error())
	}
	cat, err := catalog.Default().Merge(own)
	if err != nil {
		panic("board: tag catalog: " + err.Error())
	}
	return cat
}

type task struct {
	client  uint32
	every   uint32
	starved bool
}

// Board is one simulated target.
type Board struct {
	cfg     config.Config
	logger  *zap.Logger
	meter   metric.Meter
	console io.Writer

	Flash    *sim.Flash
	Retained *sim.Retained
	Cause    *sim.ResetCause

	Clock  *sim.Clock
	Timers *sim.Timers
	IRQ    *sim.IRQ
	CPU    *sim.CPU
	SCB    *sim.SCB
	MPU    *sim.MPU
	HWWdg  *sim.Watchdog
	RAM    *memacc.Mapper
	Latch  *hw.ResetLatch

	Trace *trace.Recorder
	Store *flash.Store
	Wdg   *wdg.Coordinator
	Fault *fault.Handler

	tasks    map[uint32]*task
	boots    uint32
	hangInit bool
}

// New powers the board on. The console receives the fault sink and command
// output. A nil logger or meter is replaced by a no-op.
func New(cfg *config.Config, console io.Writer, logger *zap.Logger, meter metric.Meter) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if console == nil {
		console = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := cfg.Flash
	return &Board{
		cfg:     *cfg,
		logger:  logger,
		meter:   meter,
		console: console,
		Flash: sim.NewFlash(sim.FlashGeometry{
			BaseAddr:    f.BaseAddr,
			PageSize:    f.PageSize,
			NumPages:    f.NumPages,
			NumBanks:    f.NumBanks,
			ProgramUnit: f.ProgramUnit,
		}),
		Retained: sim.NewRetained(int(cfg.Board.RetainedWords)),
		Cause:    sim.NewResetCause(hw.ResetPowerOn | hw.ResetPin),
	}, nil
}

// Boots counts calls to Boot since power on.
func (b *Board) Boots() uint32 { return b.boots }

// HangInit makes the following boots stall after the init guard is armed.
func (b *Board) HangInit(on bool) { b.hangInit = on }

// Boot rebuilds the volatile hardware and brings the core up. It returns a
// reset event if the init guard fired during a hung init.
func (b *Board) Boot() (*sim.ResetEvent, error) {
	b.boots++
	log := b.logger.Named("board")
	if err := b.powerUp(); err != nil {
		return nil, err
	}

	var err error
	b.Wdg, err = wdg.New(b.cfg.Watchdog, wdg.Deps{
		Clock:      b.Clock,
		Timers:     b.Timers,
		Watchdog:   b.HWWdg,
		Retained:   b.Retained,
		ResetCause: b.Latch,
		IRQ:        b.IRQ,
	}, b.logger, b.meter)
	if err != nil {
		return nil, err
	}
	armed, err := b.Wdg.StartInitGuard()
	if err != nil {
		return nil, err
	}
	if b.hangInit {
		return b.hang(armed)
	}

	if b.Trace, err = trace.New(b.cfg.Trace, b.IRQ); err != nil {
		return nil, err
	}
	b.Trace.Enable(true)
	if b.Store, err = flash.New(b.cfg.Flash, b.Flash, b.logger, b.meter); err != nil {
		return nil, err
	}
	deps := fault.Deps{
		Trace:      b.Trace,
		Watchdog:   b.Wdg,
		CPU:        b.CPU,
		SCB:        b.SCB,
		RAM:        b.RAM,
		Clock:      b.Clock,
		IRQ:        b.IRQ,
		ResetCause: b.Latch,
		Sink:       b.console,
	}
	if b.cfg.Fault.ToFlash {
		deps.Store = b.Store
	}
	if b.MPU != nil {
		deps.MPU = b.MPU
	}
	if b.Fault, err = fault.New(b.cfg.Fault, deps, b.logger); err != nil {
		return nil, err
	}

	if err = b.Wdg.Start(); err != nil {
		return nil, err
	}
	if err = b.Fault.Start(); err != nil {
		return nil, err
	}
	b.Wdg.InitSuccessful()
	if err = b.Wdg.ArmHardware(b.cfg.Watchdog.HardTimeoutMs); err != nil {
		return nil, err
	}

	b.Trace.Record16(TagBoot, uint16(b.boots))
	log.Info("boot complete",
		zap.Uint32("boot", b.boots),
		zap.String("reset_flags", hex32(b.Latch.Flags())))
	return nil, nil
}

func (b *Board) powerUp() error {
	c := b.cfg
	b.Clock = &sim.Clock{}
	b.Timers = sim.NewTimers(b.Clock, c.Board.MaxTimers)
	b.IRQ = &sim.IRQ{}
	b.CPU = &sim.CPU{SPVal: c.Fault.StackTop - c.Board.StackReserve}
	b.SCB = &sim.SCB{Cause: b.Cause}
	b.MPU = nil
	if c.Board.MPU {
		b.MPU = &sim.MPU{}
	}
	b.HWWdg = sim.NewWatchdog(b.Clock)
	b.Latch = hw.NewResetLatch(b.Cause)
	b.tasks = make(map[uint32]*task)
	b.Trace, b.Store, b.Fault = nil, nil, nil

	b.RAM = memacc.NewMapper()
	if err := b.RAM.AddAccessor(memacc.NewBufferAccessor(c.Board.RAMBase, make([]byte, c.Board.RAMSize))); err != nil {
		return err
	}
	flashEnd := c.Flash.BaseAddr + c.Flash.PageSize*c.Flash.NumPages - 1
	return b.RAM.AddAccessor(memacc.NewCBAccessor(c.Flash.BaseAddr, flashEnd, b.Flash.Read))
}

// hang spins the clock with no timers running, as a stuck init would.
func (b *Board) hang(armed bool) (*sim.ResetEvent, error) {
	limit := 2 * b.cfg.Watchdog.InitTimeoutMs
	for ms := uint32(0); ms < limit; ms++ {
		b.Clock.Advance(1)
		if b.HWWdg.Expired() {
			return b.reset(hw.ResetIndepWdg), nil
		}
	}
	if armed {
		return nil, common.Errorf(diag.ErrInternal, "init guard armed but did not fire")
	}
	return nil, common.Errorf(diag.ErrState, "init hung with the init guard disarmed")
}

func (b *Board) reset(cause uint32) *sim.ResetEvent {
	b.Cause.Latch(cause)
	b.logger.Named("board").Warn("reset", zap.String("cause", hex32(cause)))
	return &sim.ResetEvent{Cause: cause}
}

// AddTask registers a watchdog client that must check in every periodMs and
// a task that feeds it every everyMs.
func (b *Board) AddTask(client, periodMs, everyMs uint32) error {
	if b.Wdg == nil || b.Fault == nil {
		return common.Errorf(diag.ErrState, "board not booted")
	}
	if err := b.Wdg.Register(client, periodMs); err != nil {
		return err
	}
	tk := &task{client: client, every: everyMs}
	if _, err := b.Timers.Start(everyMs, b.runTask, client); err != nil {
		return err
	}
	b.tasks[client] = tk
	return nil
}

func (b *Board) runTask(_ int, client uint32) hw.TimerAction {
	tk := b.tasks[client]
	if tk.starved {
		return hw.TimerRestart
	}
	b.Trace.Record8(TagTaskFed, uint8(client))
	if err := b.Wdg.Feed(client); err != nil {
		b.logger.Named("board").Warn("task feed failed", zap.Uint32("client", client), zap.Error(err))
	}
	return hw.TimerRestart
}

// Starve stops the task feeding client.
func (b *Board) Starve(client uint32) error {
	tk, ok := b.tasks[client]
	if !ok {
		return common.Errorf(diag.ErrArg, "no task for client %d", client)
	}
	tk.starved = true
	b.Trace.Record8(TagTaskStarved, uint8(client))
	return nil
}

// Run executes the super loop for ms milliseconds or until a reset.
func (b *Board) Run(ms uint32) *sim.ResetEvent {
	for i := uint32(0); i < ms; i++ {
		if ev := sim.CatchReset(func() { b.Timers.Step(1) }); ev != nil {
			return ev
		}
		if b.HWWdg.Expired() {
			return b.reset(hw.ResetIndepWdg)
		}
	}
	return nil
}

// StoredBlob reads the diagnostic region.
func (b *Board) StoredBlob() ([]byte, error) {
	if b.Fault == nil {
		return nil, common.Errorf(diag.ErrState, "board not booted")
	}
	return b.Fault.Data()
}

func hex32(v uint32) string { return fmt.Sprintf("0x%08x", v) }
