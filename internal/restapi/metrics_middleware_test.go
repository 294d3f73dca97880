package restapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcards.app/internal/metrics"
)

func newMetricsServer(t *testing.T, api *RestAPI) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	server := httptest.NewServer(MetricsHandler(api.Metrics)(mux))
	t.Cleanup(server.Close)
	return server
}

func TestMetricsHandler_LabelsArrivalRoutes(t *testing.T) {
	api := createTestApiWith(t, testOptions{apiKeys: []string{"TEST"}})
	server := newMetricsServer(t, api)

	requests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/api/arrivals?key=TEST&mode=subway&routeId=A&stopId=A27&direction=N", "", http.StatusOK},
		{http.MethodGet, "/api/arrivals?key=TEST&mode=tram&stopId=1", "", http.StatusBadRequest},
		{http.MethodGet, "/api/arrivals?key=nope&mode=subway&stopId=A27", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/arrivals/batch?key=TEST", `{"requests":[{"id":"work","mode":"subway","routeId":"A","stopId":"A27","direction":"N"}]}`, http.StatusOK},
		{http.MethodGet, "/api/departures", "", http.StatusNotFound},
		{http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, r := range requests {
		req, err := http.NewRequest(r.method, server.URL+r.path, strings.NewReader(r.body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, r.status, resp.StatusCode, r.path)
	}

	counts := []struct {
		method, route, status string
		want                  float64
	}{
		{"GET", "/api/arrivals", "200", 1},
		{"GET", "/api/arrivals", "400", 1},
		{"GET", "/api/arrivals", "401", 1},
		{"POST", "/api/arrivals/batch", "200", 1},
		{"GET", "unmatched", "404", 1},
		{"GET", "/metrics", "200", 0},
	}
	for _, c := range counts {
		got := testutil.ToFloat64(api.Metrics.HTTPRequestsTotal.WithLabelValues(c.method, c.route, c.status))
		assert.Equal(t, c.want, got, "%s %s %s", c.method, c.route, c.status)
	}
	assert.Equal(t, 3, testutil.CollectAndCount(api.Metrics.HTTPRequestDuration), "one latency series per method and route, scrapes excluded")
}

func TestMetricsHandler_NilMetrics(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	rec := httptest.NewRecorder()
	MetricsHandler(nil)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"GET /api/arrivals", "/api/arrivals"},
		{"POST /api/arrivals/batch", "/api/arrivals/batch"},
		{"/healthz", "/healthz"},
		{"", "unmatched"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routeLabel(tt.pattern), tt.pattern)
	}
}

func TestMetricsResponseWriter_FirstStatusWins(t *testing.T) {
	m := metrics.New()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK)
	})
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", inner)

	rec := httptest.NewRecorder()
	MetricsHandler(m)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "503")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestsTotal))
}
