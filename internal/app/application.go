package app

import (
	"log/slog"

	"tripcards.app/internal/appconf"
	"tripcards.app/internal/arrivals"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/schedule"
	"tripcards.app/internal/timeloc"
	"tripcards.app/internal/topology"
)

// Application holds the dependencies shared by the HTTP handlers and
// middleware. It is assembled once at startup.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Localizer timeloc.Localizer
	Arrivals  *arrivals.Service
	Schedule  *schedule.Store
	Topology  *topology.Topology
	Build     models.BuildInfo
}
