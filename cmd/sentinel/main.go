// Command sentinel runs the alert-ingestion pipeline: it subscribes to
// the configured broker topics (or the legacy VOEvent socket), classifies
// incoming notices, and records the resulting observing plans.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/slack-go/slack"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/alertdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/config"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/dispatcher"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/handler"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/listener"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notify"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/obsdb"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/sentinel"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/strategy"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/events"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/metrics"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "/etc/gtecs/sentinel.yaml", "path to the YAML configuration file")
		mode        = flag.String("mode", "stream", "message source: stream or socket")
		metricsAddr = flag.String("metrics-addr", ":9464", "listen address for the Prometheus /metrics endpoint (empty disables)")
		topicPrefix = flag.String("topic-prefix", "gcn.notices", "broker topic prefix")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	store := config.NewStore(cfg)

	log := logging.New(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, *configPath, store, log); err != nil {
		log.WarnCtx(ctx, "config watch unavailable, continuing without hot reload", "error", err)
	}

	_, shutdownTracing := tracing.Setup(tracing.Options{ServiceName: "gtecs-alert-sentinel"})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", provider.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WarnCtx(ctx, "metrics endpoint failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	bus := events.NewBus(provider)
	queue := listener.NewQueue(0)

	source, err := buildSource(cfg, *mode, *topicPrefix, log)
	if err != nil {
		return err
	}
	lst := &listener.Listener{Source: source, Queue: queue, Log: log.With("component", "listener")}
	monitor := listener.NewHeartbeatMonitor(lst, bus, log.With("component", "heartbeat"))

	sender := buildSender(cfg, log)
	composer := &notify.Composer{
		DefaultChannel: cfg.SlackDefaultChannel,
		WakeupChannel:  cfg.SlackWakeupChannel,
		EventChannels: map[notice.EventType]string{
			notice.EventGW:  cfg.SlackEventChannels.GW,
			notice.EventGRB: cfg.SlackEventChannels.GRB,
			notice.EventNu:  cfg.SlackEventChannels.NU,
		},
	}

	hdl := &handler.Handler{
		AlertDB:  alertdb.NewMemStore(),
		ObsDB:    obsdb.NewMemStore(),
		Acquirer: skymap.NewAcquirer(128),
		Tiler:    noopTiler{},
		Catalog:  strategy.DefaultCatalog(),
		Log:      log.With("component", "handler"),
	}

	disp := &dispatcher.Dispatcher{
		Queue:     queue,
		AlertDB:   hdl.AlertDB,
		Handler:   hdl,
		Composer:  composer,
		Sender:    sender,
		ConfigGet: store.Get,
		Bus:       bus,
		Metrics:   provider,
		Log:       log.With("component", "dispatcher"),
	}
	disp.Prober = dispatcher.NewHTTPProber()
	disp.MaxConcurrentFollowups = cfg.MaxConcurrentFollowups

	sup := &sentinel.Supervisor{
		Listener:   lst,
		Heartbeat:  monitor,
		Dispatcher: disp,
		Reporter:   &notify.Reporter{Bus: bus, Sender: sender, Channel: cfg.SlackDefaultChannel, Log: log.With("component", "reporter")},
		Log:        log,
	}
	log.InfoCtx(ctx, "sentinel starting", "mode", *mode)
	return sup.Run(ctx)
}

func buildSource(cfg config.Config, mode, topicPrefix string, log logging.Logger) (listener.MessageSource, error) {
	switch strings.ToLower(mode) {
	case "stream":
		if cfg.KafkaBroker == "" {
			return nil, fmt.Errorf("stream mode requires kafka_broker in the configuration")
		}
		mech := listener.AuthPLAIN
		if strings.EqualFold(cfg.KafkaMechanism, string(listener.AuthOAUTHBEARER)) {
			mech = listener.AuthOAUTHBEARER
		}
		return listener.NewStreamSource(listener.StreamConfig{
			Broker:            cfg.KafkaBroker,
			Mechanism:         mech,
			User:              cfg.KafkaUser,
			Password:          cfg.KafkaPassword,
			OAuthTokenURL:     cfg.KafkaTokenURL,
			OAuthClientID:     cfg.KafkaClientID,
			OAuthClientSecret: cfg.KafkaClientSecret,
			GroupID:           cfg.KafkaGroupID,
			Topics:            listener.StandardTopics(topicPrefix),
			Backdate:          cfg.KafkaBackdate,
		}, log.With("component", "stream")), nil
	case "socket":
		if cfg.VOServerHost == "" {
			return nil, fmt.Errorf("socket mode requires voserver_host in the configuration")
		}
		addr := fmt.Sprintf("%s:%d", cfg.VOServerHost, cfg.VOServerPort)
		return listener.NewSocketSource(listener.SocketConfig{Addresses: []string{addr}}, log.With("component", "socket")), nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want stream or socket)", mode)
	}
}

func buildSender(cfg config.Config, log logging.Logger) notify.Sender {
	if !cfg.EnableSlack || cfg.SlackBotToken == "" {
		return &notify.LogSender{Log: log.With("component", "notify")}
	}
	return &notify.SlackSender{Poster: slackPoster{client: slack.New(cfg.SlackBotToken)}}
}

// slackPoster adapts *slack.Client to the notify.APIPoster seam.
type slackPoster struct {
	client *slack.Client
}

func (p slackPoster) PostMessage(ctx context.Context, channel string, options ...slack.MsgOption) (string, string, error) {
	return p.client.PostMessageContext(ctx, channel, options...)
}

// noopTiler stands in where the sky-grid library plugs in. Without a
// grid to tile against, surveys are recorded with no targets.
type noopTiler struct{}

func (noopTiler) SelectTiles(ctx context.Context, gridName string, sm skymap.SkyMap, contour float64, maxTiles int, minProb float64) ([]handler.Tile, error) {
	return nil, nil
}
