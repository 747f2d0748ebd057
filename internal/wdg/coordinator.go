// Package wdg is the watchdog coordinator: a table of software liveness
// clients checked from a periodic timer, and the independent hardware
// watchdog that is fed only while every client is alive.
package wdg

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
)

// Hardware watchdog clocking: 32 kHz LSI divided by 64.
const (
	LSIFreqHz      = 32000
	Prescaler      = 64
	ClockHz        = LSIFreqHz / Prescaler
	MaxReload      = 0xfff
	MaxTimeoutMs   = (MaxReload + 1) * 1000 / ClockHz
	readyPollLimit = 1000000
)

// TriggeredFunc is called with the id of an overdue client. It must escalate
// to the fault handler and never return.
type TriggeredFunc func(clientID uint32) diag.NoReturn

// Config sizes the client table and sets the timing.
type Config struct {
	NumClients    uint32
	CheckPeriodMs uint32
	InitTimeoutMs uint32
	// MaxInitFails is the number of consecutive failed inits after which the
	// init guard is no longer armed. Zero always arms it.
	MaxInitFails  uint32
	HardTimeoutMs uint32
}

// Deps are the ports the coordinator runs on.
type Deps struct {
	Clock      hw.Clock
	Timers     hw.TimerService
	Watchdog   hw.WatchdogTimer
	Retained   hw.RetainedMemory
	ResetCause hw.ResetCause
	IRQ        hw.IRQMasker
}

type client struct {
	periodMs   uint32
	lastFeedMs uint32
	overdue    bool
}

// Coordinator owns the client table and the cross-reset state.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	state  *CrossResetState

	clients   []client
	triggered TriggeredFunc
	timerID   int

	failHardware bool
	disabled     bool

	checks   metric.Int64Counter
	feeds    metric.Int64Counter
	overdues metric.Int64Counter
}

// New creates a coordinator. Nothing is armed until StartInitGuard or
// ArmHardware is called.
func New(cfg Config, deps Deps, logger *zap.Logger, meter metric.Meter) (*Coordinator, error) {
	if cfg.NumClients == 0 || cfg.CheckPeriodMs == 0 {
		return nil, common.Errorf(diag.ErrArg, "watchdog needs clients and a check period")
	}
	if deps.Clock == nil || deps.Timers == nil || deps.Watchdog == nil ||
		deps.ResetCause == nil || deps.IRQ == nil {
		return nil, common.Errorf(diag.ErrArg, "watchdog dependencies incomplete")
	}
	state, err := NewCrossResetState(deps.Retained)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter("faultcore/wdg")
	}
	checks, _ := meter.Int64Counter("wdg_checks_total",
		metric.WithDescription("Periodic liveness checks run"))
	feeds, _ := meter.Int64Counter("wdg_hardware_feeds_total",
		metric.WithDescription("Hardware watchdog reloads"))
	overdues, _ := meter.Int64Counter("wdg_overdue_total",
		metric.WithDescription("Clients found overdue"))

	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("wdg"),
		state:    state,
		clients:  make([]client, cfg.NumClients),
		timerID:  -1,
		checks:   checks,
		feeds:    feeds,
		overdues: overdues,
	}, nil
}

// State exposes the cross-reset block.
func (c *Coordinator) State() *CrossResetState { return c.state }

// Register declares that client id must be fed at least every periodMs. A
// zero period removes the requirement.
func (c *Coordinator) Register(id, periodMs uint32) error {
	if id >= c.cfg.NumClients {
		return common.Errorf(diag.ErrArg, "watchdog client %d out of range", id)
	}
	st := c.deps.IRQ.Disable()
	cl := &c.clients[id]
	cl.lastFeedMs = c.deps.Clock.NowMs()
	cl.periodMs = periodMs
	cl.overdue = false
	c.deps.IRQ.Restore(st)
	return nil
}

// Feed records that client id is alive. Safe from interrupt context.
func (c *Coordinator) Feed(id uint32) error {
	if id >= c.cfg.NumClients {
		return common.Errorf(diag.ErrArg, "watchdog client %d out of range", id)
	}
	st := c.deps.IRQ.Disable()
	c.clients[id].lastFeedMs = c.deps.Clock.NowMs()
	c.clients[id].overdue = false
	c.deps.IRQ.Restore(st)
	return nil
}

// RegisterTriggered sets the single overdue callback.
func (c *Coordinator) RegisterTriggered(fn TriggeredFunc) {
	c.triggered = fn
}

// Start schedules the periodic check.
func (c *Coordinator) Start() error {
	id, err := c.deps.Timers.Start(c.cfg.CheckPeriodMs, c.onTimer, 0)
	if err != nil {
		c.logger.Error("wdg start: timer error", zap.Error(err))
		return err
	}
	c.timerID = id
	return nil
}

func (c *Coordinator) onTimer(int, uint32) hw.TimerAction {
	c.Check()
	return hw.TimerRestart
}

// Check scans the clients. An overdue client is reported once per episode
// through the triggered callback, and while any client is overdue the
// hardware watchdog is not fed.
func (c *Coordinator) Check() {
	ctx := context.Background()
	c.checks.Add(ctx, 1)

	if c.disabled {
		c.FeedHardware()
		return
	}

	triggered := false
	for id := range c.clients {
		cl := &c.clients[id]
		st := c.deps.IRQ.Disable()
		period, last, reported := cl.periodMs, cl.lastFeedMs, cl.overdue
		c.deps.IRQ.Restore(st)
		if period == 0 {
			continue
		}
		// Read last feed before now, so a feed from an interrupt in between
		// cannot make the difference negative.
		now := c.deps.Clock.NowMs()
		if now-last <= period {
			continue
		}
		triggered = true
		if reported {
			continue
		}
		st = c.deps.IRQ.Disable()
		cl.overdue = true
		c.deps.IRQ.Restore(st)
		c.overdues.Add(ctx, 1)
		c.logger.Warn("watchdog client overdue",
			zap.Int("client", id), zap.Uint32("period_ms", period), zap.Uint32("elapsed_ms", now-last))
		if c.triggered != nil {
			c.triggered(uint32(id))
		}
	}

	if !triggered && !c.failHardware {
		c.FeedHardware()
	}
}

// StartInitGuard runs before the other modules initialize. The failed init
// counter is cleared unless the last reset came from the hardware watchdog,
// then incremented; the init timeout is armed only while the counter is
// within MaxInitFails.
func (c *Coordinator) StartInitGuard() (armed bool, err error) {
	if !c.state.Validate() {
		c.logger.Info("cross-reset state invalid, reinitialized")
	}
	if c.deps.ResetCause.Flags()&hw.ResetIndepWdg == 0 {
		c.state.SetCounter(0)
	}
	ctr := c.state.Counter() + 1
	c.state.SetCounter(ctr)

	if c.cfg.MaxInitFails == 0 || ctr <= c.cfg.MaxInitFails {
		if err = c.ArmHardware(c.cfg.InitTimeoutMs); err != nil {
			c.logger.Error("init guard not armed", zap.Error(err))
			return false, err
		}
		armed = true
	} else {
		c.logger.Warn("too many failed inits, init guard not armed",
			zap.Uint32("consec_failed_init", ctr-1), zap.Uint32("max", c.cfg.MaxInitFails))
	}
	return armed, nil
}

// InitSuccessful clears the failed init counter.
func (c *Coordinator) InitSuccessful() {
	c.state.Validate()
	c.state.SetCounter(0)
}

// ReloadFor converts a timeout to the reload register value, rounding to the
// nearest watchdog tick.
func ReloadFor(timeoutMs uint32) (uint32, error) {
	rl := (int64(timeoutMs)*ClockHz+500)/1000 - 1
	if rl < 0 {
		rl = 0
	} else if rl > MaxReload {
		return 0, common.Errorf(diag.ErrArg, "watchdog timeout %d ms exceeds %d ms", timeoutMs, MaxTimeoutMs)
	}
	return uint32(rl), nil
}

// ArmHardware starts the hardware watchdog with the given timeout, waiting a
// bounded time for the peripheral to accept the settings.
func (c *Coordinator) ArmHardware(timeoutMs uint32) error {
	rl, err := ReloadFor(timeoutMs)
	if err != nil {
		return err
	}

	w := c.deps.Watchdog
	w.Enable()
	w.EnableWriteAccess()
	w.SetPrescaler(Prescaler)
	w.SetReload(rl)
	ready := false
	for i := 0; i < readyPollLimit; i++ {
		if w.Ready() {
			ready = true
			break
		}
	}
	if !ready {
		return common.Errorf(diag.ErrPeriph, "watchdog did not accept reload %d", rl)
	}
	w.FreezeInDebug()

	c.logger.Debug("hardware watchdog armed", zap.Uint32("timeout_ms", timeoutMs), zap.Uint32("reload", rl))
	return nil
}

// FeedHardware reloads the hardware watchdog counter.
func (c *Coordinator) FeedHardware() {
	c.deps.Watchdog.Reload()
	c.feeds.Add(context.Background(), 1)
}

// FailHardware stops all hardware feeds so the hardware watchdog expires.
func (c *Coordinator) FailHardware() { c.failHardware = true }

// SetChecks turns the liveness checks off (the hardware watchdog is then fed
// on every tick) or back on.
func (c *Coordinator) SetChecks(on bool) { c.disabled = !on }

// SetInitFails overwrites the failed init counter.
func (c *Coordinator) SetInitFails(n uint32) {
	c.state.SetCounter(n)
}

// TestHelp lists the operations accepted by Test.
const TestHelp = "Test operations and param(s) are as follows:\n" +
	"  Fail hardware wdg: usage: wdg test fail-hdw\n" +
	"  Disable wdg: usage: wdg test disable\n" +
	"  Enable wdg: usage: wdg test enable\n" +
	"  Set init fails: usage: wdg test init-fails N\n"

// Test runs one of the "wdg test" operations.
func (c *Coordinator) Test(op string, args ...string) error {
	switch strings.ToLower(op) {
	case "fail-hdw":
		c.FailHardware()
	case "disable":
		c.SetChecks(false)
	case "enable":
		c.SetChecks(true)
	case "init-fails":
		if len(args) != 1 {
			return common.Errorf(diag.ErrBadCmd, "init-fails needs one value")
		}
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return common.Errorf(diag.ErrBadCmd, "bad init-fails value %q", args[0])
		}
		c.SetInitFails(uint32(n))
	default:
		return common.Errorf(diag.ErrBadCmd, "invalid test '%s'", op)
	}
	return nil
}

// ClientStatus is one row of the status table.
type ClientStatus struct {
	ID         uint32
	PeriodMs   uint32
	LastFeedMs uint32
	ElapsedMs  int32
	Overdue    bool
}

// Status is a snapshot for the "wdg status" command.
type Status struct {
	NowMs            uint32
	Enabled          bool
	FailHardware     bool
	ConsecFailedInit uint32
	Clients          []ClientStatus
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	now := c.deps.Clock.NowMs()
	s := Status{
		NowMs:            now,
		Enabled:          !c.disabled,
		FailHardware:     c.failHardware,
		ConsecFailedInit: c.state.Counter(),
		Clients:          make([]ClientStatus, len(c.clients)),
	}
	for id, cl := range c.clients {
		s.Clients[id] = ClientStatus{
			ID:         uint32(id),
			PeriodMs:   cl.periodMs,
			LastFeedMs: cl.lastFeedMs,
			ElapsedMs:  int32(now - cl.lastFeedMs),
			Overdue:    cl.overdue,
		}
	}
	return s
}

// WriteTo prints the status table.
func (s Status) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	state := "enabled"
	if !s.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(&sb, "Current time: %10d\nWatchdog %s.\n", s.NowMs, state)
	fmt.Fprintf(&sb, "consec_failed_init_ctr=%d\n", s.ConsecFailedInit)
	sb.WriteString("\nID  PERIOD LAST_FEED  ELAPSED\n--- ------ ---------- -------\n")
	for _, cl := range s.Clients {
		fmt.Fprintf(&sb, "%3d %6d %10d %7d\n", cl.ID, cl.PeriodMs, cl.LastFeedMs, cl.ElapsedMs)
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}
