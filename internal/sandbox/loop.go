package sandbox

import (
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

const (
	// minTimerDelay is the smallest delay a timer can be scheduled with
	minTimerDelay = time.Millisecond

	// holdTick is the period of the idle interval backing Hold
	holdTick = time.Hour
)

// Loop is the single-threaded scheduler that owns a Context.
//
// It wraps goja_nodejs' event loop. Every piece of script code runs on the
// goroutine calling Run. Other goroutines (the channel receiver, signal
// handling) hand work over with Post. Run returns once Stop is called or no
// timers and no Hold keep the loop alive.
type Loop struct {
	el *eventloop.EventLoop

	// Owned by the loop goroutine
	stopped bool
	hold    *eventloop.Interval
	timers  map[int64]timerHandle
	nextID  int64

	// OnPanic receives values recovered from a job
	OnPanic func(v interface{})
}

type timerHandle struct {
	timeout  *eventloop.Timer
	interval *eventloop.Interval
}

// NewLoop creates an idle loop. The loop's own console is left off; the
// context provisions a logging one.
func NewLoop() *Loop {
	return &Loop{
		el:     eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		timers: make(map[int64]timerHandle),
	}
}

// Run calls fn with the runtime, then processes posted jobs and timers until
// the loop stops or has nothing left to wait for.
func (l *Loop) Run(fn func(vm *goja.Runtime)) {
	l.el.Run(func(vm *goja.Runtime) {
		l.guard(func() { fn(vm) })
	})
}

// Post queues job for the loop goroutine. Jobs run in the order they were
// posted. Returns false once the loop has been terminated.
func (l *Loop) Post(job func()) bool {
	return l.el.RunOnLoop(func(*goja.Runtime) {
		l.guard(job)
	})
}

// Hold keeps Run from returning until Release. Loop goroutine only.
func (l *Loop) Hold() {
	if l.stopped || l.hold != nil {
		return
	}
	l.hold = l.el.SetInterval(func(*goja.Runtime) {}, holdTick)
}

// Release drops the Hold. Loop goroutine only.
func (l *Loop) Release() {
	if l.hold == nil {
		return
	}
	l.el.ClearInterval(l.hold)
	l.hold = nil
}

// Stop ends Run and cancels all timers. Jobs posted afterwards never run.
// Loop goroutine only; repeated calls are no-ops.
func (l *Loop) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true

	l.Release()
	for id := range l.timers {
		l.ClearTimer(id)
	}
	l.el.StopNoWait()
}

// Terminate releases the loop for good. Must not be called from a job.
func (l *Loop) Terminate() {
	l.el.Terminate()
}

// SetTimer schedules fn after delay, repeating when repeat is set. It
// returns 0 without scheduling once the loop is stopped. Loop goroutine only.
func (l *Loop) SetTimer(delay time.Duration, repeat bool, fn func()) int64 {
	if l.stopped {
		return 0
	}
	if delay < minTimerDelay {
		delay = minTimerDelay
	}

	l.nextID++
	id := l.nextID

	var h timerHandle
	if repeat {
		h.interval = l.el.SetInterval(func(*goja.Runtime) {
			l.guard(fn)
		}, delay)
	} else {
		h.timeout = l.el.SetTimeout(func(*goja.Runtime) {
			delete(l.timers, id)
			l.guard(fn)
		}, delay)
	}
	l.timers[id] = h
	return id
}

// ClearTimer cancels a pending timer. Unknown ids are ignored. Loop goroutine only.
func (l *Loop) ClearTimer(id int64) {
	h, ok := l.timers[id]
	if !ok {
		return
	}
	delete(l.timers, id)

	if h.interval != nil {
		l.el.ClearInterval(h.interval)
	}
	if h.timeout != nil {
		l.el.ClearTimeout(h.timeout)
	}
}

// Pending returns the number of active timers. Loop goroutine only.
func (l *Loop) Pending() int {
	return len(l.timers)
}

func (l *Loop) guard(job func()) {
	defer func() {
		if v := recover(); v != nil {
			if l.OnPanic == nil {
				panic(v)
			}
			l.OnPanic(v)
		}
	}()
	job()
}
