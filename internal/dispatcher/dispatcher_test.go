package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/alertdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/config"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/handler"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/listener"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/obsdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/strategy"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

type stubTiler struct{}

func (stubTiler) SelectTiles(ctx context.Context, gridName string, sm skymap.SkyMap, contour float64, maxTiles int, minProb float64) ([]handler.Tile, error) {
	return []handler.Tile{{Name: "T0001", Prob: 0.6}}, nil
}

// stubProber reports the URL absent for the first `absentFor` probes and
// present afterwards.
type stubProber struct {
	calls     atomic.Int32
	absentFor int32
}

func (p *stubProber) Probe(ctx context.Context, url string) (bool, error) {
	return p.calls.Add(1) > p.absentFor, nil
}

func newTestDispatcher(cfg config.Config) (*Dispatcher, *alertdb.MemStore) {
	alertStore := alertdb.NewMemStore()
	h := &handler.Handler{
		AlertDB:  alertStore,
		ObsDB:    obsdb.NewMemStore(),
		Acquirer: skymap.NewAcquirer(128),
		Tiler:    stubTiler{},
		Catalog:  strategy.DefaultCatalog(),
		Log:      logging.New(nil),
	}
	d := &Dispatcher{
		Queue:     listener.NewQueue(16),
		AlertDB:   alertStore,
		Handler:   h,
		ConfigGet: func() config.Config { return cfg },
		Log:       logging.New(nil),
	}
	return d, alertStore
}

func swiftNotice(ivorn string, role notice.Role) *notice.Notice {
	return &notice.Notice{
		Kind:          notice.KindSwiftGRB,
		IVORN:         ivorn,
		Source:        "Swift",
		Role:          role,
		EventType:     notice.EventGRB,
		EventID:       "1104735",
		EventTime:     time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC),
		Position:      &notice.Position{RA: 120, Dec: -30},
		PositionError: 0.05,
		Swift:         &notice.SwiftExtension{},
	}
}

func TestShouldSkip_UnknownEventType(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	n := swiftNotice("ivo://swift/bat#1", notice.RoleObservation)
	n.EventType = notice.EventUnknown

	skip, reason := d.shouldSkip(context.Background(), d.ConfigGet(), n)
	assert.True(t, skip)
	assert.Contains(t, reason, "event_type")
}

func TestShouldSkip_IgnoredRoles(t *testing.T) {
	t.Run("test_role_skipped_by_default", func(t *testing.T) {
		d, _ := newTestDispatcher(config.Defaults())
		skip, _ := d.shouldSkip(context.Background(), d.ConfigGet(), swiftNotice("ivo://swift/bat#2", notice.RoleTest))
		assert.True(t, skip)
	})

	t.Run("test_role_allowed_when_configured", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.ProcessTestNotices = true
		d, _ := newTestDispatcher(cfg)
		skip, _ := d.shouldSkip(context.Background(), cfg, swiftNotice("ivo://swift/bat#3", notice.RoleTest))
		assert.False(t, skip)
	})

	t.Run("utility_role_always_skipped", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.ProcessTestNotices = true
		d, _ := newTestDispatcher(cfg)
		skip, _ := d.shouldSkip(context.Background(), cfg, swiftNotice("ivo://swift/bat#4", notice.RoleUtility))
		assert.True(t, skip)
	})
}

func TestShouldSkip_AlreadyRecordedIVORN(t *testing.T) {
	d, alertStore := newTestDispatcher(config.Defaults())
	n := swiftNotice("ivo://swift/bat#seen", notice.RoleObservation)
	require.NoError(t, alertStore.InsertNotice(context.Background(), alertdb.NoticeRow{
		IVORN: n.IVORN, EventName: "Swift_1104735",
	}))

	skip, reason := d.shouldSkip(context.Background(), d.ConfigGet(), n)
	assert.True(t, skip)
	assert.Equal(t, "duplicate IVORN", reason)
}

func TestProcess_RecordsNoticeAndSurvey(t *testing.T) {
	d, alertStore := newTestDispatcher(config.Defaults())
	n := swiftNotice("ivo://swift/bat#ok", notice.RoleObservation)

	d.process(context.Background(), n)

	row, err := alertStore.GetNoticeByIVORN(context.Background(), n.IVORN)
	require.NoError(t, err)
	assert.Equal(t, "GRB_SWIFT", row.StrategyKey)
	assert.Equal(t, "Swift_1104735_1", row.SurveyName)
}

func TestProcess_DuplicateIsNoOp(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	n := swiftNotice("ivo://swift/bat#dup", notice.RoleObservation)

	d.process(context.Background(), n)
	// A second pass with the same IVORN is caught by the dispatcher's
	// already-recorded-IVORN filter before the handler runs; it must not
	// error out of the loop.
	clone := *n
	d.process(context.Background(), &clone)
}

func fermiNotice(ivorn string) *notice.Notice {
	return &notice.Notice{
		Kind:          notice.KindFermiGRB,
		IVORN:         ivorn,
		Source:        "Fermi",
		Role:          notice.RoleObservation,
		EventType:     notice.EventGRB,
		EventID:       "687014659",
		EventTime:     time.Date(2022, 10, 9, 13, 16, 59, 0, time.UTC),
		Position:      &notice.Position{RA: 288, Dec: 19},
		PositionError: 5.7,
		SkymapURL:     "https://heasarc.gsfc.nasa.gov/FTP/fermi/glg_healpix_all_bn221009553.fit",
		Fermi:         &notice.FermiExtension{},
	}
}

// A Fermi notice whose official skymap is not yet published spawns a
// follow-up that polls until the map appears, then re-enqueues a clone
// with the _new_skymap IVORN suffix.
func TestFermiFollowup_RequeuesWhenSkymapAppears(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	prober := &stubProber{absentFor: 2}
	d.Prober = prober
	d.FollowupTimeout = 2 * time.Second
	d.FollowupPollInterval = 5 * time.Millisecond

	n := fermiNotice("ivo://fermi/gbm#fin")
	d.maybeStartFermiFollowup(context.Background(), n)

	select {
	case requeued := <-d.Queue:
		assert.Equal(t, "ivo://fermi/gbm#fin_new_skymap", requeued.IVORN)
		assert.Nil(t, requeued.Skymap)
	case <-time.After(time.Second):
		t.Fatal("follow-up never re-enqueued the notice")
	}
}

func TestFermiFollowup_SkipsWhenSkymapAlreadyAvailable(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	prober := &stubProber{absentFor: 0}
	d.Prober = prober

	d.maybeStartFermiFollowup(context.Background(), fermiNotice("ivo://fermi/gbm#avail"))

	assert.Equal(t, int32(1), prober.calls.Load())
	select {
	case n := <-d.Queue:
		t.Fatalf("unexpected requeue of %s", n.IVORN)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFermiFollowup_IgnoresRequeuedNotices(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	prober := &stubProber{}
	d.Prober = prober

	d.maybeStartFermiFollowup(context.Background(), fermiNotice("ivo://fermi/gbm#fin_new_skymap"))
	assert.Equal(t, int32(0), prober.calls.Load())
}

func TestFermiFollowup_OnePerEvent(t *testing.T) {
	d, _ := newTestDispatcher(config.Defaults())
	prober := &stubProber{absentFor: 1 << 30}
	d.Prober = prober
	// A poll interval far beyond the test's lifetime pins the call count
	// to the initial probes only.
	d.FollowupTimeout = time.Hour
	d.FollowupPollInterval = time.Hour

	d.maybeStartFermiFollowup(context.Background(), fermiNotice("ivo://fermi/gbm#a"))
	d.maybeStartFermiFollowup(context.Background(), fermiNotice("ivo://fermi/gbm#b"))
	// Same event, so the second notice must not start a second prober.
	assert.Equal(t, int32(1), prober.calls.Load())
}
