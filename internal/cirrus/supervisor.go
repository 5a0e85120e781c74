package cirrus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Supervisor retry policy.
const (
	// DefaultReconnectBackoff is the fixed wait between attempts.
	DefaultReconnectBackoff = 10 * time.Second

	// DefaultFinalPause is the pause taken once after cancellation.
	DefaultFinalPause = time.Second
)

// Supervisor runs Connect in an unbounded retry loop.
//
// Connect is expected to open a session, authenticate, subscribe and consume
// until something fails. Every return is followed by a fixed Backoff and a
// fresh attempt. There is no attempt cap and no exponential growth; the loop
// runs until ctx is cancelled, then pauses once for FinalPause and returns.
type Supervisor struct {
	// Name identifies the supervised loop in logs.
	Name string

	// Connect runs one connect-and-consume cycle.
	Connect func(ctx context.Context) error

	// Backoff is the wait between attempts. Default: 10s.
	Backoff time.Duration

	// FinalPause is the pause after cancellation. Default: 1s.
	FinalPause time.Duration

	// Logger is optional.
	Logger Logger

	attempts atomic.Uint64
	restarts atomic.Uint64
}

// Attempts returns how many times Connect has been called.
func (sv *Supervisor) Attempts() uint64 {
	return sv.attempts.Load()
}

// Restarts returns how many times Connect has returned while ctx was live.
func (sv *Supervisor) Restarts() uint64 {
	return sv.restarts.Load()
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (sv *Supervisor) Run(ctx context.Context) error {
	backoff := sv.Backoff
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}

	for {
		sv.attempts.Add(1)
		err := sv.Connect(ctx)

		if ctx.Err() != nil {
			sv.finalPause()
			return ctx.Err()
		}

		sv.restarts.Add(1)
		if sv.Logger != nil {
			if err == nil || errors.Is(err, ErrClosed) {
				sv.Logger.Info("session ended, reconnecting",
					"name", sv.Name, "backoff", backoff.String())
			} else {
				sv.Logger.Warn("session failed, reconnecting",
					"name", sv.Name, "error", err, "backoff", backoff.String())
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			sv.finalPause()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (sv *Supervisor) finalPause() {
	pause := sv.FinalPause
	if pause <= 0 {
		pause = DefaultFinalPause
	}
	time.Sleep(pause)
}
