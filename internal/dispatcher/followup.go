package dispatcher

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/events"
)

// SkymapProber checks whether a skymap URL currently resolves to a real
// file, without downloading and parsing the full FITS payload.
type SkymapProber interface {
	// Probe reports whether url currently resolves (true) or is absent
	// (false). A transport error is also treated as "absent" by callers.
	Probe(ctx context.Context, url string) (bool, error)
}

// HTTPProber probes a URL with an HTTP HEAD request; unlike the skymap
// Fetcher, it does not handle local file paths.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns an HTTPProber with a short per-probe timeout.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

const (
	defaultFollowupTimeout      = 600 * time.Second
	defaultFollowupPollInterval = 30 * time.Second
	newSkymapSuffix             = "_new_skymap"
)

// maybeStartFermiFollowup probes the guessed official skymap URL of a
// Fermi notice that hasn't already been through this loop and, if the
// map is not yet available, spawns a bounded follow-up task that polls
// until it appears or the task's budget is exhausted.
func (d *Dispatcher) maybeStartFermiFollowup(ctx context.Context, n *notice.Notice) {
	if n.Kind != notice.KindFermiGRB {
		return
	}
	if strings.HasSuffix(n.IVORN, newSkymapSuffix) {
		return
	}
	if n.SkymapURL == "" || d.Prober == nil {
		return
	}
	if !d.startInFlight(n.EventName()) {
		return
	}

	ok, err := d.Prober.Probe(ctx, n.SkymapURL)
	if err != nil {
		d.Log.WarnCtx(ctx, "fermi skymap probe failed, scheduling follow-up", "ivorn", n.IVORN, "error", err)
	}
	if ok {
		d.finishInFlight(n.EventName())
		return
	}

	d.spawnFermiFollowup(n)
}

// spawnFermiFollowup runs the poll loop in a goroutine bounded by the
// dispatcher's follow-up semaphore, so a burst of Fermi notices with
// missing skymaps cannot grow goroutines unboundedly.
func (d *Dispatcher) spawnFermiFollowup(n *notice.Notice) {
	sem := d.followupSem()
	select {
	case sem <- struct{}{}:
	default:
		d.Log.WarnCtx(context.Background(), "fermi follow-up capacity exhausted, dropping", "ivorn", n.IVORN)
		d.finishInFlight(n.EventName())
		return
	}

	go func() {
		defer func() { <-sem }()
		defer d.finishInFlight(n.EventName())
		d.runFermiFollowup(n)
	}()
}

func (d *Dispatcher) runFermiFollowup(n *notice.Notice) {
	timeout := d.FollowupTimeout
	if timeout <= 0 {
		timeout = defaultFollowupTimeout
	}
	poll := d.FollowupPollInterval
	if poll <= 0 {
		poll = defaultFollowupPollInterval
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	d.publish(ctx, events.CategoryFollowup, "started", map[string]any{"ivorn": n.IVORN, "url": n.SkymapURL})

	for {
		select {
		case <-ctx.Done():
			d.Log.WarnCtx(ctx, "fermi skymap follow-up timed out", "ivorn", n.IVORN, "timeout", timeout)
			d.publish(context.Background(), events.CategoryFollowup, "timeout", map[string]any{"ivorn": n.IVORN})
			return
		case <-ticker.C:
			ok, err := d.Prober.Probe(ctx, n.SkymapURL)
			if err != nil {
				d.Log.WarnCtx(ctx, "fermi skymap follow-up probe failed, retrying", "ivorn", n.IVORN, "error", err)
				continue
			}
			if !ok {
				continue
			}
			d.requeueWithNewSkymap(n)
			d.publish(context.Background(), events.CategoryFollowup, "succeeded", map[string]any{"ivorn": n.IVORN})
			return
		}
	}
}

// requeueWithNewSkymap clones n with an IVORN suffix marking it as the
// follow-up's re-delivery and appends it to the tail of the notice
// queue.
func (d *Dispatcher) requeueWithNewSkymap(n *notice.Notice) {
	clone := *n
	clone.IVORN = n.IVORN + newSkymapSuffix
	clone.Skymap = nil // force a fresh skymap fetch against the now-available URL

	select {
	case d.Queue <- &clone:
	default:
		d.Log.WarnCtx(context.Background(), "notice queue full, dropping fermi follow-up requeue", "ivorn", clone.IVORN)
	}
}

func (d *Dispatcher) followupSem() chan struct{} {
	d.followupOnce.Do(func() {
		capacity := d.MaxConcurrentFollowups
		if capacity <= 0 {
			capacity = 32
		}
		d.followupSlots = make(chan struct{}, capacity)
	})
	return d.followupSlots
}

// startInFlight reports whether eventName was newly registered as having
// an in-flight follow-up, refusing a second concurrent follow-up for the
// same event.
func (d *Dispatcher) startInFlight(eventName string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if d.inFlight == nil {
		d.inFlight = make(map[string]struct{})
	}
	if _, ok := d.inFlight[eventName]; ok {
		return false
	}
	d.inFlight[eventName] = struct{}{}
	return true
}

func (d *Dispatcher) finishInFlight(eventName string) {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	delete(d.inFlight, eventName)
}

// followupState is embedded into Dispatcher to keep this file's
// bookkeeping fields grouped with their helpers.
type followupState struct {
	MaxConcurrentFollowups int
	Prober                 SkymapProber
	// FollowupTimeout and FollowupPollInterval override the 600s/30s
	// defaults; zero keeps the defaults.
	FollowupTimeout      time.Duration
	FollowupPollInterval time.Duration

	followupOnce  sync.Once
	followupSlots chan struct{}

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}
