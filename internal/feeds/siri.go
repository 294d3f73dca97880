package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
)

// SIRIAdapter reads SIRI stop-monitoring JSON for the legacy bus tracker.
// One request returns the vehicles approaching the queried stop; route
// filtering is left to the matcher because the same route appears under
// several spellings.
type SIRIAdapter struct {
	upstream
	url    string
	apiKey string
}

type SIRIConfig struct {
	URL    string
	APIKey string
}

func NewSIRIAdapter(cfg SIRIConfig, client *http.Client, m *metrics.Metrics, logger *slog.Logger) *SIRIAdapter {
	return &SIRIAdapter{
		upstream: newUpstream("siri", client, m, logger),
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
	}
}

type siriResponse struct {
	Siri struct {
		ServiceDelivery struct {
			StopMonitoringDelivery []struct {
				MonitoredStopVisit []struct {
					MonitoredVehicleJourney siriJourney `json:"MonitoredVehicleJourney"`
				} `json:"MonitoredStopVisit"`
				ErrorCondition *struct {
					Description string `json:"Description"`
				} `json:"ErrorCondition"`
			} `json:"StopMonitoringDelivery"`
		} `json:"ServiceDelivery"`
	} `json:"Siri"`
}

type siriJourney struct {
	LineRef                 string     `json:"LineRef"`
	DirectionRef            string     `json:"DirectionRef"`
	PublishedLineName       siriString `json:"PublishedLineName"`
	DestinationName         siriString `json:"DestinationName"`
	FramedVehicleJourneyRef struct {
		DatedVehicleJourneyRef string `json:"DatedVehicleJourneyRef"`
	} `json:"FramedVehicleJourneyRef"`
	VehicleRef    string `json:"VehicleRef"`
	MonitoredCall struct {
		StopPointRef          string `json:"StopPointRef"`
		ExpectedArrivalTime   string `json:"ExpectedArrivalTime"`
		ExpectedDepartureTime string `json:"ExpectedDepartureTime"`
		AimedArrivalTime      string `json:"AimedArrivalTime"`
		AimedDepartureTime    string `json:"AimedDepartureTime"`
	} `json:"MonitoredCall"`
}

// siriString is a text field that SIRI 1 sends as a string and SIRI 2 as a
// list of translations. The first entry is kept.
type siriString string

func (s *siriString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			*s = siriString(list[0])
		}
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = siriString(v)
	return nil
}

func (a *SIRIAdapter) Fetch(ctx context.Context, q models.Query) (updates []RawTripUpdate, err error) {
	start := time.Now()
	defer func() { a.observe(start, err) }()

	params := url.Values{
		"version":                   {"2"},
		"MonitoringRef":             {q.StopID},
		"StopMonitoringDetailLevel": {"minimum"},
	}
	if a.apiKey != "" {
		params.Set("key", a.apiKey)
	}
	if q.Direction != "" {
		params.Set("DirectionRef", q.Direction)
	}

	body, err := a.do(ctx, request{url: withQuery(a.url, params)})
	if err != nil {
		return nil, err
	}
	return decodeSIRI(body)
}

func decodeSIRI(body []byte) ([]RawTripUpdate, error) {
	var resp siriResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: siri: %v", ErrDecode, err)
	}

	var updates []RawTripUpdate
	for _, delivery := range resp.Siri.ServiceDelivery.StopMonitoringDelivery {
		if delivery.ErrorCondition != nil && len(delivery.MonitoredStopVisit) == 0 {
			return nil, fmt.Errorf("%w: siri: %s", ErrUpstreamUnavailable, delivery.ErrorCondition.Description)
		}
		for _, visit := range delivery.MonitoredStopVisit {
			u, err := visit.MonitoredVehicleJourney.toUpdate()
			if err != nil {
				return nil, err
			}
			updates = append(updates, u)
		}
	}
	return updates, nil
}

func (j siriJourney) toUpdate() (RawTripUpdate, error) {
	u := RawTripUpdate{
		TripID:   j.FramedVehicleJourneyRef.DatedVehicleJourneyRef,
		RouteID:  j.LineRef,
		Headsign: string(j.DestinationName),
	}
	if u.TripID == "" {
		u.TripID = j.VehicleRef
	}
	if name := string(j.PublishedLineName); name != "" && NormalizeRouteID(name) != NormalizeRouteID(j.LineRef) {
		u.RouteAliases = []string{name}
	}
	if d, err := strconv.Atoi(j.DirectionRef); err == nil {
		u.DirectionID = intPtr(d)
	}

	call := j.MonitoredCall
	s := StopTimeUpdate{StopID: TrimAgencyPrefix(call.StopPointRef)}
	var err error
	if s.ArrivalTime, err = siriTime(call.ExpectedArrivalTime, call.AimedArrivalTime); err != nil {
		return RawTripUpdate{}, err
	}
	if s.DepartureTime, err = siriTime(call.ExpectedDepartureTime, call.AimedDepartureTime); err != nil {
		return RawTripUpdate{}, err
	}
	if s.ArrivalTime != nil || s.DepartureTime != nil {
		u.StopTimeUpdates = []StopTimeUpdate{s}
	}
	return u, nil
}

// siriTime parses the first non-empty ISO-8601 value.
func siriTime(values ...string) (*int64, error) {
	for _, v := range values {
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%w: siri time %q: %v", ErrDecode, v, err)
		}
		return int64Ptr(t.Unix()), nil
	}
	return nil, nil
}

// TrimAgencyPrefix turns the bus tracker stop ref "MTA_401234" into "401234".
func TrimAgencyPrefix(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}
