package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
)

// GTFSAlerts serves service alerts from one GTFS-realtime alerts feed per mode.
type GTFSAlerts struct {
	upstream
	endpoints map[models.Mode]string
	apiKey    string
}

func NewGTFSAlerts(endpoints map[models.Mode]string, apiKey string, client *http.Client, m *metrics.Metrics, logger *slog.Logger) *GTFSAlerts {
	return &GTFSAlerts{
		upstream:  newUpstream("alerts", client, m, logger),
		endpoints: endpoints,
		apiKey:    apiKey,
	}
}

// AlertsForRoute returns the headers of alerts naming routeID. Modes without
// an alerts feed have none.
func (a *GTFSAlerts) AlertsForRoute(ctx context.Context, mode models.Mode, routeID string) (alerts []models.Alert, err error) {
	endpoint, ok := a.endpoints[mode]
	if !ok || endpoint == "" {
		return nil, nil
	}

	start := time.Now()
	defer func() { a.observe(start, err) }()

	req := request{url: endpoint, header: http.Header{}}
	if a.apiKey != "" {
		req.header.Set("x-api-key", a.apiKey)
	}
	body, err := a.do(ctx, req)
	if err != nil {
		return nil, err
	}
	realtime, err := gtfs.ParseRealtime(body, &gtfs.ParseRealtimeOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: alerts: %v", ErrDecode, err)
	}
	return alertsForRoute(realtime.Alerts, routeID), nil
}

func alertsForRoute(all []gtfs.Alert, routeID string) []models.Alert {
	want := NormalizeRouteID(routeID)
	var out []models.Alert
	for _, alert := range all {
		for _, entity := range alert.InformedEntities {
			if entity.RouteID == nil || NormalizeRouteID(*entity.RouteID) != want {
				continue
			}
			if header := alertText(alert.Header); header != "" {
				out = append(out, models.Alert{Header: header})
			}
			break
		}
	}
	return out
}

// alertText prefers English, then plain text without a language tag.
func alertText(texts []gtfs.AlertText) string {
	fallback := ""
	for _, t := range texts {
		switch strings.ToLower(t.Language) {
		case "en":
			return strings.TrimSpace(t.Text)
		case "":
			if fallback == "" {
				fallback = strings.TrimSpace(t.Text)
			}
		}
	}
	if fallback == "" && len(texts) > 0 {
		fallback = strings.TrimSpace(texts[0].Text)
	}
	return fallback
}
