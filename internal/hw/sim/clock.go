package sim

import (
	"sort"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
)

// Clock is a manually advanced millisecond clock.
type Clock struct {
	ms uint32
}

var _ hw.Clock = (*Clock)(nil)

func (c *Clock) NowMs() uint32 { return c.ms }

// Set moves the clock to ms; it may wrap.
func (c *Clock) Set(ms uint32) { c.ms = ms }

// Advance moves the clock forward by ms.
func (c *Clock) Advance(ms uint32) { c.ms += ms }

type timer struct {
	id       int
	period   uint32
	deadline uint32
	fn       hw.TimerFunc
	userData uint32
	active   bool
}

// Timers is a timer service driven by Clock. Callbacks run from Run, which
// stands in for the base level of the super loop.
type Timers struct {
	clock  *Clock
	timers []*timer
	max    int
}

var _ hw.TimerService = (*Timers)(nil)

// NewTimers creates a service with room for max timers.
func NewTimers(clock *Clock, max int) *Timers {
	return &Timers{clock: clock, max: max}
}

func (t *Timers) Start(periodMs uint32, fn hw.TimerFunc, userData uint32) (int, error) {
	if fn == nil || periodMs == 0 {
		return -1, common.Errorf(diag.ErrArg, "timer needs a callback and a period")
	}
	if len(t.timers) >= t.max {
		return -1, common.Errorf(diag.ErrInternal, "no free timer (%d in use)", len(t.timers))
	}
	tm := &timer{
		id:       len(t.timers),
		period:   periodMs,
		deadline: t.clock.NowMs() + periodMs,
		fn:       fn,
		userData: userData,
		active:   true,
	}
	t.timers = append(t.timers, tm)
	return tm.id, nil
}

// Run invokes every expired timer once, oldest deadline first.
func (t *Timers) Run() {
	now := t.clock.NowMs()
	due := make([]*timer, 0, len(t.timers))
	for _, tm := range t.timers {
		if tm.active && int32(now-tm.deadline) >= 0 {
			due = append(due, tm)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return int32(due[i].deadline-due[j].deadline) < 0
	})
	for _, tm := range due {
		if tm.fn(tm.id, tm.userData) == hw.TimerRestart {
			tm.deadline = now + tm.period
		} else {
			tm.active = false
		}
	}
}

// Step advances the clock one millisecond at a time, calling Run after each.
func (t *Timers) Step(ms uint32) {
	for i := uint32(0); i < ms; i++ {
		t.clock.Advance(1)
		t.Run()
	}
}
