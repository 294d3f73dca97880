// Package webui serves the developer-facing pages next to the JSON API.
package webui

import (
	"net/http"

	"tripcards.app/internal/app"
)

type WebUI struct {
	*app.Application
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug", webUI.debugIndexHandler)
}
