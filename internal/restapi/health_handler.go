package restapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Snapshots maps each schedule family to "ok" or the reason it is down.
	Snapshots map[string]string `json:"snapshots,omitempty"`
}

// healthHandler checks every schedule snapshot. A missing snapshot degrades
// to the static timetable, so it is reported but still answers 200.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if api.Application == nil || api.Arrivals == nil || api.Schedule == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "application not initialized",
		})
		return
	}

	resp := HealthResponse{Status: "ok", Snapshots: map[string]string{}}
	var down []string
	for family, err := range api.Schedule.Ping(r.Context()) {
		if err != nil {
			resp.Snapshots[family] = err.Error()
			down = append(down, family)
			continue
		}
		resp.Snapshots[family] = "ok"
	}
	if len(down) > 0 {
		sort.Strings(down)
		resp.Status = "degraded"
		resp.Detail = "static timetable serving: " + strings.Join(down, ", ")
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
