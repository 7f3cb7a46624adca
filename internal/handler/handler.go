// Package handler turns one classified notice into durable alert-DB and
// obs-DB state: an Event/Notice record, an observing Survey, and its
// Target rows.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/alertdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notify"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/obsdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/strategy"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// Tiler abstracts the grid-tiling step so handler does not depend on a
// concrete sky-grid implementation; a real deployment links in the
// GOTO-specific grid/tile library here.
type Tiler interface {
	// SelectTiles returns tiles covering sm down to contour, capped at
	// maxTiles and filtered to >= minProb, sorted by descending Prob.
	SelectTiles(ctx context.Context, gridName string, sm skymap.SkyMap, contour float64, maxTiles int, minProb float64) ([]Tile, error)
}

// Tile is one sky-grid tile with its enclosed probability.
type Tile struct {
	Name string
	Prob float64
}

// Handler orchestrates the full notice-to-plan pipeline.
type Handler struct {
	AlertDB  alertdb.Store
	ObsDB    obsdb.Store
	Acquirer *skymap.Acquirer
	Tiler    Tiler
	Catalog  map[string]strategy.Template
	Log      logging.Logger
}

// Result reports what the handler did, for notification composition and
// metrics.
type Result struct {
	EventName     string
	SurveyName    string
	StrategyKey   string
	RequiresUpdate bool
	TargetsCreated int
	Ignored       bool
}

// Handle runs the full pipeline for n as observed at t.
//
// A skymap that cannot be obtained at all fails the notice outright,
// before any database write: the caller reports it and nothing is
// recorded or tombstoned, so a later redelivery starts clean. This is
// distinct from a strategy decision failure, which maps to IGNORE and
// still records the notice.
func (h *Handler) Handle(ctx context.Context, n *notice.Notice, t time.Time) (*Result, error) {
	sm, err := h.fetchSkymap(ctx, n)
	if err != nil {
		if noticeRequiresSkymap(n.Kind) && errors.Is(err, skymap.ErrSkymapUnavailable) {
			return nil, fmt.Errorf("handler: %s: %w", n.IVORN, err)
		}
		if n.Kind != notice.KindGWRetraction {
			h.Log.WarnCtx(ctx, "skymap acquisition failed, continuing without one", "ivorn", n.IVORN, "error", err)
		}
	}

	eventName := n.EventName()
	if err := h.AlertDB.InsertEvent(ctx, alertdb.Event{
		Name: eventName, Type: string(n.EventType), Origin: n.Source, Time: n.EventTime,
	}); err != nil {
		return nil, fmt.Errorf("handler: insert event: %w", err)
	}

	key, decideErr := strategy.Decide(n, sm)
	if decideErr != nil {
		h.Log.WarnCtx(ctx, "strategy decision failed, falling back to IGNORE", "ivorn", n.IVORN, "error", decideErr)
		key = strategy.KeyIgnore
	}

	row := alertdb.NoticeRow{
		IVORN: n.IVORN, EventName: eventName, Payload: n.RawPayload,
		StrategyKey: key, SkymapDigest: skymapDigest(sm),
	}
	if err := h.AlertDB.InsertNotice(ctx, row); err != nil {
		return nil, err // ErrDuplicateIVORN propagates as-is
	}

	prior, err := h.ObsDB.SurveyCountForEvent(ctx, eventName)
	if err != nil {
		return nil, fmt.Errorf("handler: survey count: %w", err)
	}

	requiresUpdate, err := h.requiresUpdate(ctx, eventName, prior, row)
	if err != nil {
		return nil, err
	}

	if requiresUpdate && prior >= 1 {
		if err := h.tombstonePrior(ctx, eventName, t); err != nil {
			return nil, fmt.Errorf("handler: tombstone prior targets: %w", err)
		}
	}

	result := &Result{EventName: eventName, StrategyKey: key, RequiresUpdate: requiresUpdate}

	resolved, err := strategy.Resolve(h.Catalog, key, n.EventTime)
	if err != nil {
		h.Log.WarnCtx(ctx, "strategy undefined, routing to IGNORE", "key", key, "error", err)
		resolved = nil
	}
	if resolved == nil {
		result.Ignored = true
		return result, nil
	}

	surveyName, err := h.materializeSurvey(ctx, eventName, prior, requiresUpdate)
	if err != nil {
		return nil, err
	}
	result.SurveyName = surveyName
	if err := h.AlertDB.SetSurveyName(ctx, n.IVORN, surveyName); err != nil {
		return nil, fmt.Errorf("handler: set survey name: %w", err)
	}

	if !requiresUpdate {
		return result, nil
	}

	created, err := h.materializeTargets(ctx, eventName, surveyName, resolved, sm, t)
	if err != nil {
		return nil, fmt.Errorf("handler: materialize targets: %w", err)
	}
	result.TargetsCreated = created
	return result, nil
}

// PeekSkymap resolves n's skymap without touching durable state, for
// notification composition that runs before Handle.
func (h *Handler) PeekSkymap(ctx context.Context, n *notice.Notice) (skymap.SkyMap, error) {
	return h.fetchSkymap(ctx, n)
}

// DecideOnly runs the strategy decision rule for n without recording
// anything, for notification composition that runs before Handle.
func (h *Handler) DecideOnly(n *notice.Notice, sm skymap.SkyMap) (string, error) {
	return strategy.Decide(n, sm)
}

// TileVisibilities summarizes every target materialized under surveyName,
// for the post-handler observing report. Per-tile altitude/airmass
// tracking needs an ephemeris library the deployment links in alongside
// the grid library, so VisibleFraction reports whether the scheduling
// window is non-empty rather than a true per-minute visibility trace.
func (h *Handler) TileVisibilities(ctx context.Context, surveyName string) ([]notify.TileVisibility, error) {
	targets, err := h.ObsDB.TargetsForSurvey(ctx, surveyName)
	if err != nil {
		return nil, fmt.Errorf("targets for survey: %w", err)
	}
	out := make([]notify.TileVisibility, 0, len(targets))
	for _, t := range targets {
		visible := 0.0
		if t.StopTime.After(t.StartTime) {
			visible = 1.0
		}
		out = append(out, notify.TileVisibility{TargetName: t.Name, TotalProbability: t.Weight, VisibleFraction: visible})
	}
	return out, nil
}

// noticeRequiresSkymap reports whether a notice of kind fails when no
// localization map can be obtained: every kind except a GW retraction.
func noticeRequiresSkymap(kind notice.Kind) bool {
	return kind != notice.KindGWRetraction
}

func (h *Handler) fetchSkymap(ctx context.Context, n *notice.Notice) (skymap.SkyMap, error) {
	if n.Skymap != nil {
		if sm, ok := n.Skymap.(skymap.SkyMap); ok {
			return sm, nil
		}
	}
	src := skymap.Source{URL: n.SkymapURL}
	if n.Position != nil {
		src.HasPosition = true
		src.RA, src.Dec = n.Position.RA, n.Position.Dec
		src.PositionError = n.PositionError
	}
	if src.URL == "" && !src.HasPosition {
		return nil, fmt.Errorf("%w: notice carries neither a skymap URL nor a position", skymap.ErrSkymapUnavailable)
	}
	sm, err := h.Acquirer.Get(ctx, src)
	if err != nil {
		return nil, err
	}
	n.Skymap = sm
	return sm, nil
}

// requiresUpdate compares the just-inserted notice to the penultimate
// stored notice for this event (the last one inserted before it) by
// skymap content identity and strategy key.
func (h *Handler) requiresUpdate(ctx context.Context, eventName string, priorSurveys int, current alertdb.NoticeRow) (bool, error) {
	if priorSurveys == 0 {
		return true, nil
	}
	rows, err := h.AlertDB.NoticesForEvent(ctx, eventName)
	if err != nil {
		return false, fmt.Errorf("notices for event: %w", err)
	}
	// rows includes the notice just inserted as the last entry.
	if len(rows) < 2 {
		return true, nil
	}
	penultimate := rows[len(rows)-2]
	skymapChanged := penultimate.SkymapDigest != current.SkymapDigest
	strategyChanged := penultimate.StrategyKey != current.StrategyKey
	return skymapChanged || strategyChanged, nil
}

// skymapDigest returns an opaque content identity for sm, empty when no
// skymap was resolved. Real-valued contour areas stand in for pixel-level
// content identity since this package does not decode full pixel data
// (see internal/skymap).
func skymapDigest(sm skymap.SkyMap) string {
	if sm == nil {
		return ""
	}
	return fmt.Sprintf("%d:%.6f:%.6f", sm.Nside(), sm.ContourArea(0.5), sm.ContourArea(0.9))
}

func (h *Handler) tombstonePrior(ctx context.Context, eventName string, t time.Time) error {
	active, err := h.ObsDB.ActiveTargetsForEvent(ctx, eventName, t)
	if err != nil {
		return err
	}
	for _, tg := range active {
		if err := h.ObsDB.MarkDeleted(ctx, tg.Name, t); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) materializeSurvey(ctx context.Context, eventName string, prior int, requiresUpdate bool) (string, error) {
	if !requiresUpdate {
		// Reuse the latest survey name by convention: "{event}_{n}".
		return fmt.Sprintf("%s_%d", eventName, prior), nil
	}
	name := fmt.Sprintf("%s_%d", eventName, prior+1)
	if err := h.ObsDB.InsertSurvey(ctx, obsdb.Survey{Name: name, EventName: eventName, Index: prior + 1}); err != nil {
		return "", fmt.Errorf("insert survey: %w", err)
	}
	return name, nil
}

func (h *Handler) materializeTargets(ctx context.Context, eventName, surveyName string, resolved *strategy.Resolved, sm skymap.SkyMap, t time.Time) (int, error) {
	if sm == nil {
		return 0, nil
	}
	grid, err := h.ObsDB.CurrentGrid(ctx)
	if err != nil {
		return 0, fmt.Errorf("current grid: %w", err)
	}
	if _, err := h.ObsDB.EnsureUser(ctx, "sentinel"); err != nil {
		return 0, fmt.Errorf("ensure default user: %w", err)
	}

	regraded := sm
	if !sm.IsMOC() && (sm.Nside() > 128 || sm.Order() == skymap.OrderRing) {
		regraded = sm.Regrade(128, skymap.OrderNested)
	}

	tiles, err := h.Tiler.SelectTiles(ctx, grid, regraded, resolved.SkymapContour, resolved.TileLimit, resolved.ProbLimit)
	if err != nil {
		return 0, fmt.Errorf("select tiles: %w", err)
	}
	if len(tiles) == 0 {
		return 0, nil
	}

	exposureSets := make([]obsdb.ExposureSet, len(resolved.ExposureSets))
	for i, es := range resolved.ExposureSets {
		exposureSets[i] = obsdb.ExposureSet{NumExp: es.NumExp, ExpTime: es.ExpTime, Filter: es.Filter}
	}
	strategies := make([]obsdb.Strategy, len(resolved.Cadence))
	for i, c := range resolved.Cadence {
		strategies[i] = obsdb.Strategy{
			NumToDo:    c.NumToDo,
			StopTime:   c.StopTime,
			WaitTime:   time.Duration(c.WaitHours * float64(time.Hour)),
			RankChange: c.RankChange,
			MinAlt:     resolved.Constraints.MinAlt,
			MaxSunAlt:  resolved.Constraints.MaxSunAlt,
			MaxMoon:    resolved.Constraints.MaxMoon,
			MinMoonSep: resolved.Constraints.MinMoonSep,
			TooFlag:    resolved.TooFlag,
		}
	}
	startTime := resolved.Cadence[0].StartTime
	stopTime := resolved.Cadence[len(resolved.Cadence)-1].StopTime

	for _, tile := range tiles {
		target := obsdb.Target{
			Name:         fmt.Sprintf("%s_%s", eventName, tile.Name),
			SurveyName:   surveyName,
			TileName:     tile.Name,
			GridName:     grid,
			Username:     "sentinel",
			Rank:         resolved.Rank,
			Weight:       tile.Prob,
			StartTime:    startTime,
			StopTime:     stopTime,
			CreationTime: t,
			ExposureSets: exposureSets,
			Strategies:   strategies,
		}
		if err := h.ObsDB.InsertTarget(ctx, target); err != nil {
			return 0, fmt.Errorf("insert target %s: %w", target.Name, err)
		}
	}
	return len(tiles), nil
}
