package restapi

import (
	"net/http"
	"time"

	"tripcards.app/internal/timeloc"
)

// CurrentTimeResponse tells clients the server clock and the service day it
// falls in.
type CurrentTimeResponse struct {
	Time        int64  `json:"time"`
	ReadableISO string `json:"readableTime"`
	ServiceDate int    `json:"serviceDate"`
	TimeZone    string `json:"timeZone"`
}

func (api *RestAPI) currentTimeHandler(w http.ResponseWriter, r *http.Request) {
	now := api.now()
	loc := api.Localizer
	if loc == nil {
		loc = timeloc.MustNew(timeloc.DefaultZone)
	}

	api.sendJSON(w, r, http.StatusOK, CurrentTimeResponse{
		Time:        now.UnixMilli(),
		ReadableISO: now.In(loc.Location()).Format(time.RFC3339),
		ServiceDate: loc.ServiceDate(now),
		TimeZone:    loc.Location().String(),
	})
}

func (api *RestAPI) now() time.Time {
	if api.Application != nil && api.Clock != nil {
		return api.Clock.Now()
	}
	return time.Now()
}
