package restapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripcards.app/internal/app"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/models"
)

// RestAPI serves the arrivals API over the shared Application.
type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
	validate    *validator.Validate
}

func NewRestAPI(app *app.Application) *RestAPI {
	var clk clock.Clock = clock.RealClock{}
	if app.Clock != nil {
		clk = app.Clock
	}
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, time.Second, nil, clk),
		validate:    models.NewValidator(),
	}
}

// SetRoutes registers every endpoint on mux. Arrival responses are never
// cached downstream; the config changes only on deploy.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/arrivals", api.protect(CacheControlMiddleware(0, http.HandlerFunc(api.arrivalsHandler))))
	mux.Handle("POST /api/arrivals/batch", api.protect(CacheControlMiddleware(0, http.HandlerFunc(api.batchArrivalsHandler))))
	mux.Handle("GET /api/config", api.protect(CacheControlMiddleware(5*time.Minute, http.HandlerFunc(api.configHandler))))
	mux.Handle("GET /api/current-time", api.protect(CacheControlMiddleware(30*time.Second, http.HandlerFunc(api.currentTimeHandler))))
	mux.HandleFunc("GET /healthz", api.healthHandler)
	if api.Application != nil && api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// protect applies the API key check, then the per-key rate limit.
func (api *RestAPI) protect(next http.Handler) http.Handler {
	limited := api.rateLimiter.Handler()(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequiresAPIKey() && api.RequestHasInvalidAPIKey(r) {
			api.sendUnauthorized(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}

// Shutdown stops background work owned by the API.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}
