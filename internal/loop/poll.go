package loop

import (
	"errors"
	"time"
)

// ErrPollTimeout is passed to the Poll callback when every attempt failed.
var ErrPollTimeout = errors.New("poll attempts exhausted")

// Poller is a running bounded poll.
type Poller struct {
	timer    Timer
	finished bool
}

// Poll calls check immediately and then every interval until it returns true
// or attempts checks have failed. done receives nil on success, or
// ErrPollTimeout one interval after the last failed check. done runs at most
// once and never after Cancel.
func Poll(s Scheduler, attempts int, interval time.Duration, check func() bool, done func(error)) *Poller {
	p := &Poller{}
	if attempts < 1 {
		attempts = 1
	}

	failed := 0
	var tick func()
	tick = func() {
		if p.finished {
			return
		}
		if check() {
			p.finish(done, nil)
			return
		}
		failed++
		p.timer = s.AfterFunc(interval, func() {
			if failed >= attempts {
				p.finish(done, ErrPollTimeout)
				return
			}
			tick()
		})
	}
	tick()
	return p
}

// Cancel stops the poll; done will not be called.
func (p *Poller) Cancel() {
	if p.finished {
		return
	}
	p.finished = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Done reports whether the poll has completed or was cancelled.
func (p *Poller) Done() bool {
	return p.finished
}

func (p *Poller) finish(done func(error), err error) {
	if p.finished {
		return
	}
	p.finished = true
	if done != nil {
		done(err)
	}
}
