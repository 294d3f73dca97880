package restapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"tripcards.app/internal/arrivals"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/models"
)

const maxBatchBody = 1 << 20

// queryFromValues reads a query from URL parameters. The older parameter
// names are still accepted.
func queryFromValues(v url.Values) models.Query {
	return models.Query{
		Mode:              models.Mode(strings.ToLower(strings.TrimSpace(firstValue(v, "mode", "agencyMode")))),
		RouteID:           strings.TrimSpace(v.Get("routeId")),
		StopID:            strings.TrimSpace(v.Get("stopId")),
		Direction:         strings.TrimSpace(v.Get("direction")),
		DestinationStopID: strings.TrimSpace(firstValue(v, "destination", "destinationStopId")),
	}
}

func firstValue(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}

// arrivalsHandler answers one trip card. Upstream failures without a
// fallback still produce a 200 with no arrivals and the cause in debugInfo.
func (api *RestAPI) arrivalsHandler(w http.ResponseWriter, r *http.Request) {
	q := queryFromValues(r.URL.Query())

	res, err := api.Arrivals.Resolve(r.Context(), q)
	if errors.Is(err, arrivals.ErrInvalidQuery) {
		api.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("arrivals unavailable",
			slog.String("mode", string(q.Mode)),
			slog.String("route", q.RouteID),
			slog.String("stop", q.StopID),
			slog.String("error", err.Error()))
		if res.Debug.LiveError == "" {
			res.Debug.LiveError = err.Error()
		}
	}

	api.sendJSON(w, r, http.StatusOK, models.ArrivalsResponse{
		Arrivals:  res.Arrivals,
		Alerts:    res.Alerts,
		DebugInfo: res.Debug,
	})
}

func (api *RestAPI) batchArrivalsHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBody)

	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := api.validate.Struct(req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, models.ValidationMessage(err))
		return
	}
	for i := range req.Requests {
		req.Requests[i].Mode = models.Mode(strings.ToLower(string(req.Requests[i].Mode)))
	}

	api.sendJSON(w, r, http.StatusOK, api.Arrivals.ResolveBatch(r.Context(), req.Requests))
}
