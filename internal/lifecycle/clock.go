package lifecycle

import "time"

// Clock abstracts time so deletion deadlines can be driven by tests.
type Clock interface {
	Now() time.Time
	// TimerAt returns a timer that fires once the clock reaches deadline.
	// A deadline in the past fires immediately.
	TimerAt(deadline time.Time) Timer
}

// Timer is a one-shot timer created by a Clock.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) TimerAt(deadline time.Time) Timer {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return systemTimer{time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time {
	return s.t.C
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}
