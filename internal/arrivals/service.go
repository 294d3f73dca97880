// Package arrivals answers trip-card queries: it fetches the live feed for the
// query's mode, matches it, merges it with the schedule and returns the next
// arrivals. A batch runs many queries with failures isolated per item.
package arrivals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"tripcards.app/internal/appconf"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/feeds"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/matcher"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/schedule"
	"tripcards.app/internal/timeloc"
	"tripcards.app/internal/topology"
)

var (
	// ErrInvalidQuery wraps validation failures.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrModeUnavailable means no live source is configured for the mode and
	// it has no schedule to fall back on.
	ErrModeUnavailable = errors.New("mode unavailable")
	// ErrTimeout is returned when the live source did not answer in time and
	// the mode has no schedule.
	ErrTimeout = errors.New("query timed out")
)

// Schedule is the part of the schedule store the orchestrator reads.
type Schedule interface {
	NextTrips(ctx context.Context, req schedule.Request) schedule.Answer
	StopName(ctx context.Context, family, stopID string) string
}

// families names the schedule used for fallback and the snapshot used for
// stop names, per mode. Modes missing here have neither.
var families = map[models.Mode]struct{ fallback, names string }{
	models.ModeSubway: {names: schedule.FamilySubway},
	models.ModeLIRR:   {fallback: schedule.FamilyRail, names: schedule.FamilyRail},
	models.ModeMNR:    {fallback: schedule.FamilyRail, names: schedule.FamilyRail},
	models.ModeFerry:  {fallback: schedule.FamilyFerry, names: schedule.FamilyFerry},
	models.ModeNJRail: {fallback: schedule.FamilyNJRail},
}

type Deps struct {
	// Adapters maps each mode to its live source.
	Adapters map[models.Mode]feeds.Adapter
	Matcher  *matcher.Matcher
	Schedule Schedule
	// Alerts is optional.
	Alerts    feeds.AlertSource
	Topology  *topology.Topology
	Localizer timeloc.Localizer
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Service struct {
	adapters map[models.Mode]feeds.Adapter
	matcher  *matcher.Matcher
	schedule Schedule
	alerts   feeds.AlertSource
	topology *topology.Topology
	loc      timeloc.Localizer
	clock    clock.Clock
	cfg      appconf.ArrivalsConfig
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(deps Deps, cfg appconf.ArrivalsConfig) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 3
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 25 * time.Second
	}
	if cfg.AlertsTimeout <= 0 {
		cfg.AlertsTimeout = 5 * time.Second
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Service{
		adapters: deps.Adapters,
		matcher:  deps.Matcher,
		schedule: deps.Schedule,
		alerts:   deps.Alerts,
		topology: deps.Topology,
		loc:      deps.Localizer,
		clock:    deps.Clock,
		cfg:      cfg,
		validate: models.NewValidator(),
		metrics:  deps.Metrics,
		logger:   logging.Component(deps.Logger, "arrivals"),
	}
}

// Modes lists the modes this service can answer.
func (s *Service) Modes() []models.Mode {
	var out []models.Mode
	for _, mode := range models.AllModes {
		if _, ok := s.adapters[mode]; ok || families[mode].fallback != "" {
			out = append(out, mode)
		}
	}
	return out
}

func (s *Service) countResolve(mode models.Mode, outcome string) {
	if s.metrics != nil {
		s.metrics.ResolvesTotal.WithLabelValues(string(mode), outcome).Inc()
	}
}

func (s *Service) countArrivals(mode models.Mode, arrivals []models.Arrival) {
	if s.metrics == nil {
		return
	}
	for _, a := range arrivals {
		s.metrics.ArrivalsTotal.WithLabelValues(string(mode), string(a.Status)).Inc()
	}
}
