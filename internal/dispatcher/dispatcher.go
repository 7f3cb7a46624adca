// Package dispatcher drains the listener's notice queue, rejecting
// already-seen or uninteresting notices before handing survivors to the
// handler, and separately runs the bounded Fermi skymap follow-up tasks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/alertdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/config"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/handler"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/listener"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notify"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/events"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/metrics"
)

// Dispatcher is the single consumer of a listener.Queue: it filters
// uninteresting notices, invokes the handler for the rest, and reports
// the outcome via notifications and the event bus. A processing error
// is logged and counted, never fatal to the loop.
type Dispatcher struct {
	Queue     listener.Queue
	AlertDB   alertdb.Store
	Handler   *handler.Handler
	Composer  *notify.Composer
	Sender    notify.Sender
	ConfigGet func() config.Config
	Bus       events.Bus
	Metrics   metrics.Provider
	Log       logging.Logger

	followupState

	processed metrics.Counter
	skipped   metrics.Counter
	failed    metrics.Counter
}

// Run drains the queue until ctx is canceled, processing one notice at a
// time. The dispatcher is the queue's only consumer; concurrency, where
// wanted, belongs to the follow-up tasks instead (see followup.go).
func (d *Dispatcher) Run(ctx context.Context) error {
	d.initMetrics()
	for {
		select {
		case n, ok := <-d.Queue:
			if !ok {
				return nil
			}
			d.process(ctx, n)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) initMetrics() {
	if d.Metrics == nil {
		return
	}
	d.processed = d.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "sentinel", Subsystem: "dispatcher", Name: "notices_processed_total", Help: "Notices handled to completion",
	}})
	d.skipped = d.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "sentinel", Subsystem: "dispatcher", Name: "notices_skipped_total", Help: "Notices filtered before handling",
	}})
	d.failed = d.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "sentinel", Subsystem: "dispatcher", Name: "notices_failed_total", Help: "Notices that errored during handling",
	}})
}

func (d *Dispatcher) process(ctx context.Context, n *notice.Notice) {
	cfg := d.ConfigGet()

	if skip, reason := d.shouldSkip(ctx, cfg, n); skip {
		d.Log.InfoCtx(ctx, "skipping notice", "ivorn", n.IVORN, "reason", reason)
		d.count(d.skipped)
		d.publish(ctx, events.CategoryDispatcher, "skipped", map[string]any{"ivorn": n.IVORN, "reason": reason})
		return
	}

	strategyKey, _ := d.peekStrategyKey(ctx, n)
	if d.Composer != nil && d.Sender != nil {
		sm, _ := d.Handler.PeekSkymap(ctx, n)
		msg := d.Composer.NoticeReport(n, sm, strategyKey)
		if _, err := d.Sender.Send(ctx, msg); err != nil {
			d.Log.WarnCtx(ctx, "notice report send failed", "ivorn", n.IVORN, "error", err)
		}
	}

	result, err := d.Handler.Handle(ctx, n, time.Now())
	if err != nil {
		if errors.Is(err, alertdb.ErrDuplicateIVORN) {
			d.Log.InfoCtx(ctx, "skipping duplicate notice", "ivorn", n.IVORN)
			d.count(d.skipped)
			return
		}
		d.Log.ErrorCtx(ctx, "handler failed", "ivorn", n.IVORN, "error", err)
		d.count(d.failed)
		d.publish(ctx, events.CategoryDispatcher, "error", map[string]any{"ivorn": n.IVORN, "error": err.Error()})
		d.maybeStartFermiFollowup(ctx, n)
		return
	}

	d.count(d.processed)
	d.publish(ctx, events.CategoryDispatcher, "handled", map[string]any{
		"ivorn": n.IVORN, "event": result.EventName, "strategy": result.StrategyKey, "ignored": result.Ignored,
	})

	if d.Composer != nil && d.Sender != nil && !result.Ignored {
		d.sendObservingReport(ctx, n, result)
		if d.catalogWakeupAlert(result.StrategyKey) {
			wake := d.Composer.WakeupSummary(n, result.StrategyKey)
			if _, err := d.Sender.Send(ctx, wake); err != nil {
				d.Log.WarnCtx(ctx, "wakeup alert send failed", "ivorn", n.IVORN, "error", err)
			}
		}
	}

	d.maybeStartFermiFollowup(ctx, n)
}

func (d *Dispatcher) sendObservingReport(ctx context.Context, n *notice.Notice, result *handler.Result) {
	tiles, err := d.Handler.TileVisibilities(ctx, result.SurveyName)
	if err != nil {
		d.Log.WarnCtx(ctx, "tile visibility lookup failed", "survey", result.SurveyName, "error", err)
		return
	}
	report := d.Composer.ObservingReport(n, result.SurveyName, tiles)
	if _, err := d.Sender.Send(ctx, report); err != nil {
		d.Log.WarnCtx(ctx, "observing report send failed", "survey", result.SurveyName, "error", err)
	}
}

func (d *Dispatcher) catalogWakeupAlert(key string) bool {
	tmpl, ok := d.Handler.Catalog[key]
	return ok && tmpl.WakeupAlert
}

// peekStrategyKey mirrors the handler's own decision for report
// composition purposes only; it never mutates durable state.
func (d *Dispatcher) peekStrategyKey(ctx context.Context, n *notice.Notice) (string, error) {
	sm, err := d.Handler.PeekSkymap(ctx, n)
	if err != nil {
		return "", err
	}
	return d.Handler.DecideOnly(n, sm)
}

// shouldSkip applies the pre-handler filters: unknown event type, an
// ignored role (role=test passes when process_test_notices is set), and
// an already-recorded IVORN.
func (d *Dispatcher) shouldSkip(ctx context.Context, cfg config.Config, n *notice.Notice) (bool, string) {
	if n.EventType == notice.EventUnknown {
		return true, "unknown event_type"
	}
	for _, role := range cfg.IgnoredRoles {
		if role != string(n.Role) {
			continue
		}
		if role == "test" && cfg.ProcessTestNotices {
			continue
		}
		return true, fmt.Sprintf("ignored role %q", role)
	}
	if _, err := d.AlertDB.GetNoticeByIVORN(ctx, n.IVORN); err == nil {
		return true, "duplicate IVORN"
	} else if !errors.Is(err, alertdb.ErrNotFound) {
		d.Log.WarnCtx(ctx, "duplicate check failed, proceeding", "ivorn", n.IVORN, "error", err)
	}
	return false, ""
}

func (d *Dispatcher) count(c metrics.Counter) {
	if c != nil {
		c.Inc(1)
	}
}

func (d *Dispatcher) publish(ctx context.Context, category, kind string, fields map[string]any) {
	if d.Bus == nil {
		return
	}
	d.Bus.PublishCtx(ctx, events.Event{Category: category, Type: kind, Fields: fields})
}
