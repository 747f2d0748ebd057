package sim

import "faultcore/internal/hw"

// LSIHz is the clock of the simulated independent watchdog.
const LSIHz = 32000

// Watchdog models the independent watchdog. It counts time on Clock and
// reports expiry once the reload period passes without a Reload.
type Watchdog struct {
	clock *Clock

	Enabled     bool
	WriteAccess bool
	Prescaler   uint32
	ReloadValue uint32
	Frozen      bool
	Reloads     int

	// NeverReady keeps Ready false to exercise the bounded poll.
	NeverReady bool
	// ReadyAfter is the number of Ready polls that return false after a
	// configuration write.
	ReadyAfter int
	pending    int

	lastReload uint32
}

var _ hw.WatchdogTimer = (*Watchdog)(nil)

func NewWatchdog(clock *Clock) *Watchdog {
	return &Watchdog{clock: clock, Prescaler: 4, ReloadValue: 0xfff}
}

func (w *Watchdog) Enable() {
	if !w.Enabled {
		w.Enabled = true
		w.lastReload = w.clock.NowMs()
	}
}

func (w *Watchdog) EnableWriteAccess() { w.WriteAccess = true }

func (w *Watchdog) SetPrescaler(div uint32) {
	if w.WriteAccess {
		w.Prescaler = div
		w.pending = w.ReadyAfter
	}
}

func (w *Watchdog) SetReload(v uint32) {
	if w.WriteAccess {
		w.ReloadValue = v & 0xfff
		w.pending = w.ReadyAfter
	}
}

func (w *Watchdog) Ready() bool {
	if w.NeverReady {
		return false
	}
	if w.pending > 0 {
		w.pending--
		return false
	}
	return true
}

func (w *Watchdog) Reload() {
	w.Reloads++
	w.lastReload = w.clock.NowMs()
}

func (w *Watchdog) FreezeInDebug() { w.Frozen = true }

// TimeoutMs is the current expiry period in milliseconds.
func (w *Watchdog) TimeoutMs() uint32 {
	return uint32((uint64(w.ReloadValue) + 1) * uint64(w.Prescaler) * 1000 / LSIHz)
}

// Expired reports whether the counter has reached zero.
func (w *Watchdog) Expired() bool {
	return w.Enabled && w.clock.NowMs()-w.lastReload > w.TimeoutMs()
}
