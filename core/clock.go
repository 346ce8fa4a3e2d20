package core

import "time"

// Clock abstracts wall-clock reads so the engine can run against a fake
// clock in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func NewClock() Clock { return realClock{} }

// TimeMillis converts t to Unix milliseconds, the timestamp unit used
// throughout the progress event model.
func TimeMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
