package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"tripcards.app/internal/app"
	"tripcards.app/internal/appconf"
	"tripcards.app/internal/arrivals"
	"tripcards.app/internal/cache"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/feeds"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/matcher"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/restapi"
	"tripcards.app/internal/schedule"
	"tripcards.app/internal/timeloc"
	"tripcards.app/internal/topology"
	"tripcards.app/internal/webui"
)

// pinnedNowEnv names the variable that pins the server clock for replays.
const pinnedNowEnv = "TRIPCARDS_NOW"

// ParseAPIKeys splits a comma-separated list of API keys.
func ParseAPIKeys(apiKeysFlag string) []string {
	return appconf.ParseAPIKeys(apiKeysFlag)
}

// BuildApplication wires every collaborator of the arrivals service from cfg.
// Missing schedule snapshots are not fatal; their families answer from the
// static timetable.
func BuildApplication(ctx context.Context, cfg appconf.Config, build models.BuildInfo) (*app.Application, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stdout, level)
	slog.SetDefault(logger)

	loc, err := timeloc.New(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone: %w", err)
	}
	topo, err := topology.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load topology tables: %w", err)
	}

	clk := clock.NewPinnedClock(pinnedNowEnv, loc.Location(), logger)
	m := metrics.NewWithLogger(logger)
	client := feeds.NewHTTPClient(cfg.Feeds.HTTPTimeout)

	tokens := cache.NewTokenCache(cache.TokenCacheConfig{
		TTLs: map[string]time.Duration{
			feeds.NJRailTokenFamily: cfg.Feeds.NJRail.TokenTTL,
			feeds.NJBusTokenFamily:  cfg.Feeds.NJBus.TokenTTL,
		},
	}, clk, m, logger)

	store := schedule.Open(ctx, schedule.Config{
		Snapshots:  cfg.Snapshots.Families,
		ScratchDir: cfg.Snapshots.ScratchDir,
		Env:        cfg.Env,
		Verbose:    cfg.Verbose,
	}, topo.Timetable, loc, m, logger)

	alertEndpoints := make(map[models.Mode]string, len(cfg.Feeds.Alerts))
	for mode, url := range cfg.Feeds.Alerts {
		alertEndpoints[models.Mode(mode)] = url
	}

	service := arrivals.New(arrivals.Deps{
		Adapters:  buildAdapters(cfg.Feeds, tokens, loc, clk, client, m, logger),
		Matcher:   matcher.New(topo, cfg.Arrivals.SparseMetroRoutes),
		Schedule:  store,
		Alerts:    feeds.NewGTFSAlerts(alertEndpoints, cfg.Feeds.MTAKey, client, m, logger),
		Topology:  topo,
		Localizer: loc,
		Clock:     clk,
		Metrics:   m,
		Logger:    logger,
	}, cfg.Arrivals)

	logging.LogOperation(logger, "application_built",
		slog.String("env", cfg.Env.String()),
		slog.Int("modes", len(service.Modes())),
		slog.String("version", build.Version))

	return &app.Application{
		Config:    cfg,
		Logger:    logger,
		Clock:     clk,
		Metrics:   m,
		Localizer: loc,
		Arrivals:  service,
		Schedule:  store,
		Topology:  topo,
		Build:     build,
	}, nil
}

// buildAdapters creates one live source per configured mode. NJ Transit
// modes need credentials and are left out without them.
func buildAdapters(cfg appconf.FeedsConfig, tokens *cache.TokenCache, loc timeloc.Localizer, clk clock.Clock, client *http.Client, m *metrics.Metrics, logger *slog.Logger) map[models.Mode]feeds.Adapter {
	adapters := make(map[models.Mode]feeds.Adapter)

	for name, set := range cfg.GTFSRT {
		mode := models.Mode(name)
		if !mode.Valid() {
			logger.Warn("ignoring feed for unknown mode", slog.String("mode", name))
			continue
		}
		rt := feeds.GTFSRTConfig{
			Name:      name,
			Endpoints: feeds.Endpoints{Default: set.Default, Routes: set.Routes},
		}
		switch mode {
		case models.ModeSubway, models.ModeLIRR, models.ModeMNR:
			rt.APIKey = cfg.MTAKey
		}
		adapters[mode] = feeds.NewGTFSRTAdapter(rt, client, m, logger)
	}

	if cfg.BusFleetURL != "" {
		adapters[models.ModeBus] = feeds.NewBusFleetAdapter(feeds.BusFleetConfig{
			URL:    cfg.BusFleetURL,
			APIKey: cfg.SIRIKey,
			TTL:    cfg.BusFleetTTL,
		}, client, clk, m, logger)
	}
	if cfg.SIRIURL != "" {
		adapters[models.ModeBusSIRI] = feeds.NewSIRIAdapter(feeds.SIRIConfig{
			URL:    cfg.SIRIURL,
			APIKey: cfg.SIRIKey,
		}, client, m, logger)
	}
	if cfg.NJRail.Username != "" {
		adapters[models.ModeNJRail] = feeds.NewNJRailAdapter(njtConfig(cfg.NJRail), tokens, loc, client, m, logger)
	}
	if cfg.NJBus.Username != "" {
		adapters[models.ModeNJBus] = feeds.NewNJBusAdapter(njtConfig(cfg.NJBus), tokens, loc, clk, client, m, logger)
	}
	return adapters
}

func njtConfig(c appconf.NJTConfig) feeds.NJTConfig {
	return feeds.NJTConfig{BaseURL: c.BaseURL, Username: c.Username, Password: c.Password}
}

// CreateServer assembles the handler chain: request id, request logging,
// HTTP metrics and gzip around the API and debug routes.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webUI := &webui.WebUI{Application: coreApp}
	webUI.SetWebUIRoutes(mux)

	var handler http.Handler = gzhttp.GzipHandler(mux)
	handler = restapi.MetricsHandler(coreApp.Metrics)(handler)
	handler = restapi.NewRequestLoggingMiddleware(coreApp.Logger)(handler)
	handler = restapi.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// Writes must outlast the slowest resolve.
		WriteTimeout: cfg.Arrivals.QueryTimeout + 5*time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
	return srv, api
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests.
func Run(srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger
	defer api.Shutdown()
	defer logging.SafeCloseWithLogging(coreApp.Schedule, logger, "schedule_store")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.LogOperation(logger, "server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logging.LogOperation(logger, "server_stopped")
	return nil
}
