package resilience

import (
	"time"
)

// Clock abstracts time for timed-retry policies and warm-up delays so tests
// can simulate time deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns a Clock backed by the system clock
func RealClock() Clock {
	return realClock{}
}
