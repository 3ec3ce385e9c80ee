package game

import "time"

// Timer is a single-shot timer the service can tear down before it fires.
type Timer interface {
	C() <-chan time.Time
	Stop()
}

type NewTimerFunc func(d time.Duration) Timer

func newSysTimer(d time.Duration) Timer {
	return sysTimer{t: time.NewTimer(d)}
}

type sysTimer struct {
	t *time.Timer
}

func (t sysTimer) C() <-chan time.Time { return t.t.C }

func (t sysTimer) Stop() { t.t.Stop() }
