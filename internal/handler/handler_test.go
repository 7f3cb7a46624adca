package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/alertdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/obsdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/strategy"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// fakeTiler returns a fixed, descending-probability tile list regardless
// of the skymap passed in, so tests can control target count directly.
type fakeTiler struct {
	tiles []Tile
}

func (f *fakeTiler) SelectTiles(ctx context.Context, gridName string, sm skymap.SkyMap, contour float64, maxTiles int, minProb float64) ([]Tile, error) {
	out := append([]Tile(nil), f.tiles...)
	if maxTiles > 0 && len(out) > maxTiles {
		out = out[:maxTiles]
	}
	return out, nil
}

func newTestHandler(tiles []Tile) (*Handler, *alertdb.MemStore, *obsdb.MemStore) {
	alertStore := alertdb.NewMemStore()
	obsStore := obsdb.NewMemStore()
	h := &Handler{
		AlertDB:  alertStore,
		ObsDB:    obsStore,
		Acquirer: skymap.NewAcquirer(128),
		Tiler:    &fakeTiler{tiles: tiles},
		Catalog:  strategy.DefaultCatalog(),
		Log:      logging.New(nil),
	}
	return h, alertStore, obsStore
}

func gwNotice(ivorn string) *notice.Notice {
	return &notice.Notice{
		Kind:      notice.KindGWDetection,
		IVORN:     ivorn,
		Source:    "LVC",
		EventID:   "S190510g",
		EventTime: time.Date(2019, 5, 10, 0, 0, 0, 0, time.UTC),
		Position:  &notice.Position{RA: 10, Dec: 20},
		GW: &notice.GWExtension{
			Group:          "CBC",
			FAR:            1e-9,
			Significant:    boolPtr(true),
			Classification: map[string]float64{"BNS": 0.8, "NSBH": 0.1},
			Properties:     map[string]float64{"HasRemnant": 0.9},
		},
		PositionError: 1.0,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestHandle_FirstNoticeCreatesSurveyAndTargets(t *testing.T) {
	h, _, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}, {Name: "T2", Prob: 0.3}})
	n := gwNotice("ivo://lvc/lvc#S190510g-1")

	result, err := h.Handle(context.Background(), n, time.Now())
	require.NoError(t, err)
	assert.False(t, result.Ignored)
	assert.True(t, result.RequiresUpdate)
	assert.Equal(t, "LVC_S190510g_1", result.SurveyName)
	assert.Equal(t, 2, result.TargetsCreated)

	targets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

// Inserting the same payload twice produces at most one Notice row and
// at most one downstream Survey per notice.
func TestHandle_DuplicateIVORN(t *testing.T) {
	h, _, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}})
	n := gwNotice("ivo://lvc/lvc#dup")

	_, err := h.Handle(context.Background(), n, time.Now())
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), n, time.Now())
	assert.True(t, errors.Is(err, alertdb.ErrDuplicateIVORN))

	targets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

// A second, materially different notice for the same event tombstones
// the first survey's targets and creates a second survey.
func TestHandle_UpdateTombstonesAndCreatesNewSurvey(t *testing.T) {
	h, _, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.9}})
	at1 := time.Date(2019, 5, 10, 1, 0, 0, 0, time.UTC)
	n1 := gwNotice("ivo://lvc/lvc#S190510g-1")
	_, err := h.Handle(context.Background(), n1, at1)
	require.NoError(t, err)

	// A second notice with a different position (and hence a different
	// synthesized skymap content-digest) for the same event.
	at2 := at1.Add(10 * time.Minute)
	n2 := gwNotice("ivo://lvc/lvc#S190510g-2")
	n2.Position = &notice.Position{RA: 50, Dec: -10}
	n2.PositionError = 5.0

	result, err := h.Handle(context.Background(), n2, at2)
	require.NoError(t, err)
	assert.True(t, result.RequiresUpdate)
	assert.Equal(t, "LVC_S190510g_2", result.SurveyName)

	priorTargets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	require.Len(t, priorTargets, 1)
	// Tombstoned targets are not scheduled/unscheduled at times after
	// the update.
	status := priorTargets[0].StatusAt(at2.Add(time.Minute))
	assert.True(t, status.IsTerminal())
	assert.Equal(t, obsdb.StatusDeleted, status)

	newTargets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_2")
	require.NoError(t, err)
	assert.Len(t, newTargets, 1)
}

// For repeated updates of the same event, survey names are sequential
// with no gaps,
// even when one update in the middle is a no-op for the skymap/strategy
// digest and so must reuse the latest survey instead of minting one.
func TestHandle_SurveyNumberingHasNoGaps(t *testing.T) {
	h, _, _ := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}})
	at := time.Date(2019, 5, 10, 0, 0, 0, 0, time.UTC)

	// positionErrors drives the skymap content digest (see
	// handler.skymapDigest); holding it fixed across steps 1 and 2
	// produces a no-op update that must reuse the prior survey.
	positionErrors := []float64{1.0, 5.0, 5.0, 9.0}
	var surveyNames []string
	for i, perr := range positionErrors {
		n := gwNotice(ivornFor(i))
		n.PositionError = perr
		result, err := h.Handle(context.Background(), n, at.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		if result.SurveyName != "" {
			surveyNames = append(surveyNames, result.SurveyName)
		}
	}

	assert.Equal(t, []string{
		"LVC_S190510g_1", "LVC_S190510g_2", "LVC_S190510g_2", "LVC_S190510g_3",
	}, surveyNames)
}

func ivornFor(i int) string {
	return "ivo://lvc/lvc#seq-" + string(rune('a'+i))
}

// A high-FAR, insignificant CBC notice resolves to IGNORE but the
// notice row is still inserted and any previously active targets for
// the event are tombstoned.
func TestHandle_IgnoreStillRecordsNoticeAndTombstones(t *testing.T) {
	h, alertStore, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}})
	at1 := time.Date(2019, 5, 10, 0, 0, 0, 0, time.UTC)
	n1 := gwNotice("ivo://lvc/lvc#ignore-1")
	_, err := h.Handle(context.Background(), n1, at1)
	require.NoError(t, err)

	n2 := gwNotice("ivo://lvc/lvc#ignore-2")
	n2.Position = &notice.Position{RA: 99, Dec: -45}
	n2.GW.FAR = 120.0 / (365 * 86400)
	n2.GW.Significant = boolPtr(false)

	at2 := at1.Add(time.Hour)
	result, err := h.Handle(context.Background(), n2, at2)
	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, "", result.SurveyName)

	row, err := alertStore.GetNoticeByIVORN(context.Background(), "ivo://lvc/lvc#ignore-2")
	require.NoError(t, err)
	assert.Equal(t, strategy.KeyIgnore, row.StrategyKey)

	priorTargets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	require.Len(t, priorTargets, 1)
	assert.True(t, priorTargets[0].StatusAt(at2.Add(time.Minute)).IsTerminal())
}

func TestHandle_RetractionTombstonesAndCreatesNoSurvey(t *testing.T) {
	h, _, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}})
	at1 := time.Date(2019, 5, 10, 0, 0, 0, 0, time.UTC)
	n1 := gwNotice("ivo://lvc/lvc#retr-1")
	_, err := h.Handle(context.Background(), n1, at1)
	require.NoError(t, err)

	retraction := &notice.Notice{
		Kind:      notice.KindGWRetraction,
		IVORN:     "ivo://lvc/lvc#retr-2",
		Source:    "LVC",
		EventID:   "S190510g",
		EventTime: n1.EventTime,
		GW:        &notice.GWExtension{},
	}
	at2 := at1.Add(time.Hour)
	result, err := h.Handle(context.Background(), retraction, at2)
	require.NoError(t, err)
	assert.True(t, result.Ignored)

	priorTargets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	require.Len(t, priorTargets, 1)
	assert.True(t, priorTargets[0].StatusAt(at2.Add(time.Minute)).IsTerminal())
}

// A skymap-requiring notice with no embedded map, no URL, and no
// position fails outright before any database write: no notice row is
// recorded and prior targets are left untouched. This is the one path
// that must not degrade into a decision failure and IGNORE.
func TestHandle_SkymapUnavailableFailsWithoutSideEffects(t *testing.T) {
	h, alertStore, obsStore := newTestHandler([]Tile{{Name: "T1", Prob: 0.5}})
	at1 := time.Date(2019, 5, 10, 1, 0, 0, 0, time.UTC)
	n1 := gwNotice("ivo://lvc/lvc#sky-1")
	_, err := h.Handle(context.Background(), n1, at1)
	require.NoError(t, err)

	n2 := gwNotice("ivo://lvc/lvc#sky-2")
	n2.Position = nil
	n2.PositionError = 0
	n2.SkymapURL = ""

	at2 := at1.Add(time.Hour)
	_, err = h.Handle(context.Background(), n2, at2)
	require.Error(t, err)
	assert.ErrorIs(t, err, skymap.ErrSkymapUnavailable)

	// The failed notice left no alert-DB record behind.
	_, err = alertStore.GetNoticeByIVORN(context.Background(), "ivo://lvc/lvc#sky-2")
	assert.ErrorIs(t, err, alertdb.ErrNotFound)

	// The prior survey's target is still live, not tombstoned.
	targets, err := obsStore.TargetsForSurvey(context.Background(), "LVC_S190510g_1")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.False(t, targets[0].StatusAt(at2.Add(time.Minute)).IsTerminal())
}

func TestHandle_FermiWithoutAnyLocalizationFails(t *testing.T) {
	h, _, _ := newTestHandler(nil)
	n := &notice.Notice{
		Kind:      notice.KindFermiGRB,
		IVORN:     "ivo://fermi/gbm#bare",
		Source:    "Fermi",
		EventID:   "687014659",
		EventTime: time.Date(2022, 10, 9, 13, 16, 59, 0, time.UTC),
		Fermi:     &notice.FermiExtension{},
	}
	_, err := h.Handle(context.Background(), n, time.Now())
	assert.ErrorIs(t, err, skymap.ErrSkymapUnavailable)
}

// countingFetcher counts download attempts, for asserting that repeated
// skymap access for the same notice never re-fetches.
type countingFetcher struct {
	calls int
}

func (f *countingFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	f.calls++
	return nil, errors.New("no network in tests")
}

// Once a notice's skymap has been resolved, repeated lookups reuse the
// same object with no further fetch attempt.
func TestPeekSkymap_CachesOnNotice(t *testing.T) {
	fetcher := &countingFetcher{}
	h, _, _ := newTestHandler(nil)
	h.Acquirer = &skymap.Acquirer{Fetcher: fetcher, Nside: 128}

	n := gwNotice("ivo://lvc/lvc#cache-1")
	n.SkymapURL = "http://example.invalid/map.fits"

	first, err := h.PeekSkymap(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, fetcher.calls)

	second, err := h.PeekSkymap(context.Background(), n)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, fetcher.calls, "second lookup must not re-fetch")
}
