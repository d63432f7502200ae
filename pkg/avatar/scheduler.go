package avatar

import "time"

// timerScheduler fires blend callbacks on a wall-clock timer and hands them
// back to the tick goroutine through the controller queue.
type timerScheduler struct {
	post func(fn func()) bool
}

func (s timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.post(fn) })
}
