package cirrus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) counts() (infos, warns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos), len(l.warns)
}

func TestSupervisorRetriesWithFixedBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls []time.Time
	)
	logger := &recordingLogger{}
	sv := &Supervisor{
		Name:       "test",
		Backoff:    30 * time.Millisecond,
		FinalPause: time.Millisecond,
		Logger:     logger,
		Connect: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, time.Now())
			if len(calls)%2 == 0 {
				return ErrClosed
			}
			return errors.New("connection refused")
		},
	}

	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx) }()

	waitFor(t, "four attempts", func() bool { return sv.Attempts() >= 4 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < 25*time.Millisecond {
			t.Errorf("attempt %d followed attempt %d after %v, want fixed backoff", i+1, i, gap)
		}
	}

	infos, warns := logger.counts()
	if infos == 0 || warns == 0 {
		t.Errorf("logged %d infos and %d warnings, want both clean and failed restarts", infos, warns)
	}
	if sv.Restarts() < 3 {
		t.Errorf("Restarts() = %d, want at least 3", sv.Restarts())
	}
}

func TestSupervisorStopsWhenConnectSeesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sv := &Supervisor{
		Backoff:    time.Hour,
		FinalPause: 50 * time.Millisecond,
		Connect: func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
	}

	start := time.Now()
	err := sv.Run(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if sv.Attempts() != 1 || sv.Restarts() != 0 {
		t.Errorf("Attempts() = %d, Restarts() = %d; want 1, 0", sv.Attempts(), sv.Restarts())
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Run() returned after %v, want the final pause", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Run() took %v, backoff must not apply after cancellation", elapsed)
	}
}

func TestSupervisorCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sv := &Supervisor{
		Backoff:    time.Hour,
		FinalPause: time.Millisecond,
		Connect: func(context.Context) error {
			return errors.New("refused")
		},
	}

	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx) }()

	waitFor(t, "first restart", func() bool { return sv.Restarts() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the backoff")
	}
}
