package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tripcards.app/internal/app"
	"tripcards.app/internal/appconf"
	"tripcards.app/internal/arrivals"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/feeds"
	"tripcards.app/internal/matcher"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/schedule"
	"tripcards.app/internal/timeloc"
	"tripcards.app/internal/topology"
)

var (
	testLoc = timeloc.MustNew(timeloc.DefaultZone)
	// A Monday morning.
	testNow = time.Date(2024, 7, 15, 6, 0, 0, 0, testLoc.Location())
)

type stubAdapter struct {
	fetch func(q models.Query) ([]feeds.RawTripUpdate, error)
}

func (s stubAdapter) Name() string { return "stub" }

func (s stubAdapter) Fetch(_ context.Context, q models.Query) ([]feeds.RawTripUpdate, error) {
	return s.fetch(q)
}

func subwayFeed(models.Query) ([]feeds.RawTripUpdate, error) {
	var out []feeds.RawTripUpdate
	for i, minutes := range []int{3, 9, 14, 22} {
		at := testNow.Add(time.Duration(minutes) * time.Minute).Unix()
		out = append(out, feeds.RawTripUpdate{
			TripID:          fmt.Sprintf("A-%d", i),
			RouteID:         "A",
			Headsign:        "Inwood - 207 St",
			StopTimeUpdates: []feeds.StopTimeUpdate{{StopID: "A27N", ArrivalTime: &at}},
		})
	}
	return out, nil
}

func failingFeed(models.Query) ([]feeds.RawTripUpdate, error) {
	return nil, fmt.Errorf("bus fleet: %w", feeds.ErrUpstreamUnavailable)
}

type testOptions struct {
	apiKeys   []string
	rateLimit int
	store     *schedule.Store
	logger    *slog.Logger
}

func createTestApiWith(t *testing.T, opts testOptions) *RestAPI {
	t.Helper()
	topo := topology.MustLoad()
	m := metrics.New()
	clk := clock.NewMockClock(testNow)

	cfg := appconf.Default()
	cfg.Env = appconf.Test
	cfg.ApiKeys = opts.apiKeys
	cfg.RateLimit = 100
	if opts.rateLimit > 0 {
		cfg.RateLimit = opts.rateLimit
	}

	store := opts.store
	if store == nil {
		store = schedule.NewStore(nil, topo.Timetable, testLoc, m, nil)
	}

	svc := arrivals.New(arrivals.Deps{
		Adapters: map[models.Mode]feeds.Adapter{
			models.ModeSubway: stubAdapter{fetch: subwayFeed},
			models.ModeBus:    stubAdapter{fetch: failingFeed},
			models.ModeFerry:  stubAdapter{fetch: failingFeed},
		},
		Matcher:   matcher.New(topo, cfg.Arrivals.SparseMetroRoutes),
		Schedule:  store,
		Topology:  topo,
		Localizer: testLoc,
		Clock:     clk,
		Metrics:   m,
		Logger:    opts.logger,
	}, cfg.Arrivals)

	api := NewRestAPI(&app.Application{
		Config:    cfg,
		Clock:     clk,
		Metrics:   m,
		Localizer: testLoc,
		Arrivals:  svc,
		Schedule:  store,
		Build:     models.BuildInfo{Version: "1.2.3", Commit: "abc1234"},
	})
	t.Cleanup(api.Shutdown)
	return api
}

func createTestApi(t *testing.T) *RestAPI {
	return createTestApiWith(t, testOptions{})
}

func newTestServer(t *testing.T, api *RestAPI) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// serveAndRetrieveEndpoint issues a GET against a fresh test API and decodes
// the JSON body into a generic map.
func serveAndRetrieveEndpoint(t *testing.T, endpoint string) (*RestAPI, *http.Response, map[string]interface{}) {
	t.Helper()
	api := createTestApi(t)
	resp, body := get(t, newTestServer(t, api), endpoint)
	return api, resp, body
}

func get(t *testing.T, server *httptest.Server, endpoint string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(server.URL + endpoint)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func post(t *testing.T, server *httptest.Server, endpoint, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(server.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var model map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &model), "body: %s", raw)
	return model
}
