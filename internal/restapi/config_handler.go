package restapi

import (
	"net/http"

	"tripcards.app/internal/models"
)

func (api *RestAPI) configHandler(w http.ResponseWriter, r *http.Request) {
	configEntry := models.ConfigModel{
		Build:     api.Build,
		TimeZone:  api.Config.TimeZone,
		Modes:     api.Arrivals.Modes(),
		Snapshots: api.Schedule.Snapshots(r.Context()),
	}
	if configEntry.Modes == nil {
		configEntry.Modes = []models.Mode{}
	}
	if configEntry.Snapshots == nil {
		configEntry.Snapshots = []models.SnapshotInfo{}
	}

	api.sendJSON(w, r, http.StatusOK, configEntry)
}
