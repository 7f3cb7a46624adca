// Package sentinel supervises the long-lived pipeline tasks: the
// listener, the heartbeat monitor, the dispatcher, and the notification
// reporter. It owns their shared cancellation and joins them on exit so
// a shutdown never leaves a half-processed notice behind.
package sentinel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/dispatcher"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/listener"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notify"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// Supervisor wires the pipeline's tasks together and runs them until the
// context is canceled or a task fails fatally.
type Supervisor struct {
	Listener   *listener.Listener
	Heartbeat  *listener.HeartbeatMonitor
	Dispatcher *dispatcher.Dispatcher
	Reporter   *notify.Reporter
	Log        logging.Logger

	running atomic.Bool
}

// Running reports whether Run is currently active.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Run starts every task and blocks until ctx is canceled or the listener
// or dispatcher returns a non-cancellation error. The heartbeat monitor
// and reporter are support tasks; their exit never tears the pipeline
// down. All tasks are joined before Run returns, so the dispatcher has
// finished its in-flight notice by the time callers proceed.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.running.Store(true)
	defer s.running.Store(false)

	var wg sync.WaitGroup
	fatal := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Log.ErrorCtx(ctx, "listener exited", "error", err)
			fatal <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Log.ErrorCtx(ctx, "dispatcher exited", "error", err)
			fatal <- err
		}
	}()

	if s.Heartbeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Heartbeat.Run(ctx)
		}()
	}

	if s.Reporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Log.WarnCtx(ctx, "notification reporter exited", "error", err)
			}
		}()
	}

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-fatal:
		cancel()
	}
	wg.Wait()
	return firstErr
}
