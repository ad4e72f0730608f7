package configclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	// DefaultWatchInitialDelay is the wait before the first watch tick.
	DefaultWatchInitialDelay = 180 * time.Second
	// DefaultWatchDelay is the wait between the end of one tick and the next.
	DefaultWatchDelay = 500 * time.Millisecond
)

// StateChanged reports whether a refresh is needed going from oldState to
// newState. Losing a state counts as a change; gaining one does too.
func StateChanged(oldState, newState string) bool {
	return (oldState == "" && newState != "") || (oldState != "" && oldState != newState)
}

// StateSource reports the current state token.
type StateSource func(ctx context.Context) (string, error)

// WatchOpts configures the watch timer.
type WatchOpts struct {
	InitialDelay time.Duration
	Delay        time.Duration
}

// Watch polls a state source on a fixed delay and triggers a refresh when the
// state changes.
type Watch struct {
	session      *Session
	source       StateSource
	refresh      func(context.Context) error
	initialDelay time.Duration
	delay        time.Duration
	log          *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatch creates a stopped watch. Zero delays take the defaults.
func NewWatch(session *Session, source StateSource, refresh func(context.Context) error, opts WatchOpts, log *slog.Logger) *Watch {
	if log == nil {
		log = slog.Default()
	}
	if opts.InitialDelay == 0 {
		opts.InitialDelay = DefaultWatchInitialDelay
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultWatchDelay
	}
	return &Watch{
		session:      session,
		source:       source,
		refresh:      refresh,
		initialDelay: opts.InitialDelay,
		delay:        opts.Delay,
		log:          log,
	}
}

// Start begins ticking. Starting a running watch does nothing.
func (w *Watch) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)
}

// Stop halts the timer and waits for an in-flight tick to finish.
func (w *Watch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.cancel()
	<-w.done
}

// Running reports whether the watch is started.
func (w *Watch) Running() bool {
	return w.running.Load()
}

func (w *Watch) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("Config watch failed", "err", err)
		}
		timer.Reset(w.delay)
	}
}

// Tick compares the source's state with the session's and refreshes on change.
// It returns whether a refresh ran. A stopped watch does nothing.
func (w *Watch) Tick(ctx context.Context) (bool, error) {
	if !w.running.Load() {
		return false, nil
	}

	newState, err := w.source(ctx)
	if err != nil {
		return false, err
	}
	oldState := w.session.State()
	if !StateChanged(oldState, newState) {
		return false, nil
	}
	if !w.session.CompareAndSwapState(oldState, newState) {
		return false, nil
	}

	w.log.Info("Config server state changed, refreshing", "old", oldState, "new", newState)
	return true, w.refresh(ctx)
}
