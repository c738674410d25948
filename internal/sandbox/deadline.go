package sandbox

import (
	"context"
	"sync"
	"time"
)

// execDeadline is a pausable execution deadline for a guest call. It counts
// only guest execution time: while the host performs bridge I/O the
// countdown is paused and the remaining budget preserved, restarting from
// where it left off on resume. When the budget runs out it cancels the
// call's context, which fires the engine interrupt.
type execDeadline struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	timer     *time.Timer
	remaining time.Duration
	startedAt time.Time
	paused    bool
	fired     bool
}

// newExecDeadline creates a deadline that calls cancel once timeout elapses,
// excluding paused intervals.
func newExecDeadline(timeout time.Duration, cancel context.CancelFunc) *execDeadline {
	d := &execDeadline{
		cancel:    cancel,
		remaining: timeout,
		startedAt: time.Now(),
	}
	d.timer = time.AfterFunc(timeout, func() {
		d.mu.Lock()
		d.fired = true
		d.mu.Unlock()
		cancel()
	})
	return d
}

// Pause stops the countdown and preserves the remaining budget. Safe on a
// nil receiver; repeated calls are no-ops.
func (d *execDeadline) Pause() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused || d.fired {
		return
	}
	if d.timer.Stop() {
		d.remaining -= time.Since(d.startedAt)
		if d.remaining < 0 {
			d.remaining = 0
		}
	}
	d.paused = true
}

// Resume restarts the countdown with the remaining budget. Safe on a nil
// receiver; repeated calls are no-ops.
func (d *execDeadline) Resume() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused || d.fired {
		return
	}
	d.paused = false
	d.startedAt = time.Now()
	if d.remaining <= 0 {
		d.fired = true
		d.cancel()
		return
	}
	d.timer.Reset(d.remaining)
}

// Stop permanently disables the deadline without calling cancel. Safe on a
// nil receiver.
func (d *execDeadline) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timer.Stop()
}
