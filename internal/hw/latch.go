package hw

// ResetLatch reads the reset flags once, clears them in the controller so
// the next reset starts clean, and keeps the value for the rest of the run.
// The watchdog init guard and the fault status report share one latch.
type ResetLatch struct {
	src   ResetCause
	flags uint32
	got   bool
}

var _ ResetCause = (*ResetLatch)(nil)

func NewResetLatch(src ResetCause) *ResetLatch {
	return &ResetLatch{src: src}
}

// Flags returns the flags as they were at power on.
func (l *ResetLatch) Flags() uint32 {
	if !l.got {
		l.got = true
		l.flags = l.src.Flags()
		l.src.ClearFlags()
	}
	return l.flags
}

// Current returns the flags now held by the controller.
func (l *ResetLatch) Current() uint32 { return l.src.Flags() }

// ClearFlags clears the controller; the latched value is kept.
func (l *ResetLatch) ClearFlags() { l.src.ClearFlags() }
