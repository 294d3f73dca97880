package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
)

// Endpoints maps route ids to feed URLs. Default serves routes not listed.
type Endpoints struct {
	Default string
	Routes  map[string]string
}

// For picks the endpoint for routeID. Express variants ("6X") share their
// local route's feed.
func (e Endpoints) For(routeID string) (string, bool) {
	if u, ok := e.Routes[routeID]; ok {
		return u, true
	}
	if trimmed := strings.TrimSuffix(strings.ToUpper(routeID), "X"); trimmed != "" && trimmed != routeID {
		if u, ok := e.Routes[trimmed]; ok {
			return u, true
		}
	}
	return e.Default, e.Default != ""
}

// GTFSRTAdapter reads GTFS-realtime trip updates for subway, commuter rail,
// PATH and ferry.
type GTFSRTAdapter struct {
	upstream
	endpoints Endpoints
	apiKey    string
	keyHeader string
}

type GTFSRTConfig struct {
	Name      string
	Endpoints Endpoints
	APIKey    string
	// KeyHeader defaults to x-api-key.
	KeyHeader string
}

func NewGTFSRTAdapter(cfg GTFSRTConfig, client *http.Client, m *metrics.Metrics, logger *slog.Logger) *GTFSRTAdapter {
	a := &GTFSRTAdapter{
		upstream:  newUpstream(cfg.Name, client, m, logger),
		endpoints: cfg.Endpoints,
		apiKey:    cfg.APIKey,
		keyHeader: cfg.KeyHeader,
	}
	if a.keyHeader == "" {
		a.keyHeader = "x-api-key"
	}
	a.retries = 1
	return a
}

func (a *GTFSRTAdapter) Fetch(ctx context.Context, q models.Query) (updates []RawTripUpdate, err error) {
	start := time.Now()
	defer func() { a.observe(start, err) }()

	routeID := q.RouteID
	if q.WantsAnyRoute() {
		routeID = ""
	}
	endpoint, ok := a.endpoints.For(routeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no endpoint for route %q", ErrUpstreamUnavailable, a.name, q.RouteID)
	}

	body, err := a.do(ctx, a.request(endpoint))
	if err != nil {
		return nil, err
	}
	return DecodeTripUpdates(body)
}

func (a *GTFSRTAdapter) request(endpoint string) request {
	req := request{url: endpoint, header: http.Header{}}
	if a.apiKey != "" {
		req.header.Set(a.keyHeader, a.apiKey)
	}
	return req
}

// DecodeTripUpdates accepts a binary FeedMessage or its JSON rendering, which
// some ferry proxies serve.
func DecodeTripUpdates(body []byte) ([]RawTripUpdate, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return decodeJSONFeed(trimmed)
	}

	feed := &gtfsrt.FeedMessage{}
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("%w: feed message: %v", ErrDecode, err)
	}

	updates := make([]RawTripUpdate, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil || entity.GetIsDeleted() {
			continue
		}
		trip := tu.GetTrip()
		if trip.GetScheduleRelationship() == gtfsrt.TripDescriptor_CANCELED {
			continue
		}

		update := RawTripUpdate{TripID: trip.GetTripId(), RouteID: trip.GetRouteId()}
		if trip != nil && trip.DirectionId != nil {
			update.DirectionID = intPtr(int(trip.GetDirectionId()))
		}
		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetStopId() == "" || stu.GetScheduleRelationship() == gtfsrt.TripUpdate_StopTimeUpdate_SKIPPED {
				continue
			}
			s := StopTimeUpdate{
				StopID: stu.GetStopId(),
				Track:  stopTrack(stu),
			}
			if stu.StopSequence != nil {
				s.Sequence = intPtr(int(stu.GetStopSequence()))
			}
			if ev := stu.GetArrival(); ev != nil {
				if ev.Time != nil {
					s.ArrivalTime = int64Ptr(ev.GetTime())
				}
				if ev.Delay != nil {
					d := ev.GetDelay()
					s.DelaySeconds = &d
				}
			}
			if ev := stu.GetDeparture(); ev != nil {
				if ev.Time != nil {
					s.DepartureTime = int64Ptr(ev.GetTime())
				}
				if ev.Delay != nil && s.DelaySeconds == nil {
					d := ev.GetDelay()
					s.DelaySeconds = &d
				}
			}
			update.StopTimeUpdates = append(update.StopTimeUpdates, s)
		}
		updates = append(updates, update)
	}
	return updates, nil
}

// The MTA railroads publish their track extension without a registered
// descriptor, so it stays in the unknown fields.
const (
	railroadStopTimeExtension protowire.Number = 1005
	railroadFieldTrack        protowire.Number = 1
)

// stopTrack returns the platform track of a stop time update. NYCT's actual
// track wins over its scheduled one.
func stopTrack(stu *gtfsrt.TripUpdate_StopTimeUpdate) string {
	if proto.HasExtension(stu, gtfsrt.E_NyctStopTimeUpdate) {
		if ext, ok := proto.GetExtension(stu, gtfsrt.E_NyctStopTimeUpdate).(*gtfsrt.NyctStopTimeUpdate); ok {
			if track := ext.GetActualTrack(); track != "" {
				return track
			}
			if track := ext.GetScheduledTrack(); track != "" {
				return track
			}
		}
	}
	return railroadTrack(stu.ProtoReflect().GetUnknown())
}

func railroadTrack(raw []byte) string {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return ""
		}
		raw = raw[n:]

		if num == railroadStopTimeExtension && typ == protowire.BytesType {
			msg, m := protowire.ConsumeBytes(raw)
			if m < 0 {
				return ""
			}
			raw = raw[m:]
			if track := stringField(msg, railroadFieldTrack); track != "" {
				return track
			}
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, raw)
		if m < 0 {
			return ""
		}
		raw = raw[m:]
	}
	return ""
}

func stringField(msg []byte, field protowire.Number) string {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return ""
		}
		msg = msg[n:]
		m := protowire.ConsumeFieldValue(num, typ, msg)
		if m < 0 {
			return ""
		}
		if num == field && typ == protowire.BytesType {
			v, _ := protowire.ConsumeBytes(msg)
			return string(v)
		}
		msg = msg[m:]
	}
	return ""
}

type jsonFeed struct {
	Entity []struct {
		IsDeleted  bool `json:"isDeleted"`
		TripUpdate *struct {
			Trip struct {
				TripID      string `json:"tripId"`
				RouteID     string `json:"routeId"`
				DirectionID *int   `json:"directionId"`
			} `json:"trip"`
			StopTimeUpdate []struct {
				StopID       string     `json:"stopId"`
				StopSequence *int       `json:"stopSequence"`
				Arrival      *jsonEvent `json:"arrival"`
				Departure    *jsonEvent `json:"departure"`
			} `json:"stopTimeUpdate"`
		} `json:"tripUpdate"`
	} `json:"entity"`
}

type jsonEvent struct {
	Time  TimeValue `json:"time"`
	Delay *int32    `json:"delay"`
}

func decodeJSONFeed(body []byte) ([]RawTripUpdate, error) {
	var feed jsonFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: json feed: %v", ErrDecode, err)
	}

	updates := make([]RawTripUpdate, 0, len(feed.Entity))
	for _, entity := range feed.Entity {
		tu := entity.TripUpdate
		if tu == nil || entity.IsDeleted {
			continue
		}
		update := RawTripUpdate{
			TripID:      tu.Trip.TripID,
			RouteID:     tu.Trip.RouteID,
			DirectionID: tu.Trip.DirectionID,
		}
		for _, stu := range tu.StopTimeUpdate {
			if stu.StopID == "" {
				continue
			}
			s := StopTimeUpdate{StopID: stu.StopID, Sequence: stu.StopSequence}
			if stu.Arrival != nil {
				s.ArrivalTime = stu.Arrival.Time.Ptr()
				s.DelaySeconds = stu.Arrival.Delay
			}
			if stu.Departure != nil {
				s.DepartureTime = stu.Departure.Time.Ptr()
				if s.DelaySeconds == nil {
					s.DelaySeconds = stu.Departure.Delay
				}
			}
			update.StopTimeUpdates = append(update.StopTimeUpdates, s)
		}
		updates = append(updates, update)
	}
	return updates, nil
}

// withQuery appends params to endpoint, keeping any it already has.
func withQuery(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + params.Encode()
}
