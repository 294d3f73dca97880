package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tripcards.app/internal/cache"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
)

const fleetCacheKey = "fleet"

// BusFleetAdapter downloads the trip updates of the whole bus fleet and keeps
// the decoded feed for a short TTL, since every bus query shares it.
// Concurrent misses may download twice; the later write wins.
type BusFleetAdapter struct {
	upstream
	url    string
	apiKey string
	feed   *cache.TTLStore[[]RawTripUpdate]
}

type BusFleetConfig struct {
	URL    string
	APIKey string
	TTL    time.Duration
}

func NewBusFleetAdapter(cfg BusFleetConfig, client *http.Client, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *BusFleetAdapter {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	a := &BusFleetAdapter{
		upstream: newUpstream("bus_fleet", client, m, logger),
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		feed:     cache.NewTTLStore[[]RawTripUpdate]("bus_fleet", 1, cfg.TTL, clk, m),
	}
	a.retries = 1
	return a
}

func (a *BusFleetAdapter) Fetch(ctx context.Context, q models.Query) ([]RawTripUpdate, error) {
	fleet, err := a.fleet(ctx)
	if err != nil {
		return nil, err
	}
	if q.WantsAnyRoute() {
		return fleet, nil
	}

	want := NormalizeRouteID(q.RouteID)
	var out []RawTripUpdate
	for _, u := range fleet {
		if NormalizeRouteID(u.RouteID) == want {
			out = append(out, u)
		}
	}
	return out, nil
}

func (a *BusFleetAdapter) fleet(ctx context.Context) (updates []RawTripUpdate, err error) {
	if cached, ok := a.feed.Get(fleetCacheKey); ok {
		return cached, nil
	}

	start := time.Now()
	defer func() { a.observe(start, err) }()

	endpoint := a.url
	if a.apiKey != "" {
		endpoint = withQuery(endpoint, url.Values{"key": {a.apiKey}})
	}
	body, err := a.do(ctx, request{url: endpoint})
	if err != nil {
		return nil, err
	}
	updates, err = DecodeTripUpdates(body)
	if err != nil {
		return nil, fmt.Errorf("bus fleet: %w", err)
	}
	a.feed.Set(fleetCacheKey, updates)
	return updates, nil
}

// NormalizeRouteID drops an agency prefix ("MTA NYCT_M15") and case so route
// spellings from different feeds compare equal.
func NormalizeRouteID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return strings.ToUpper(id)
}
