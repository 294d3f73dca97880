package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"tripcards.app/internal/appconf"
	"tripcards.app/internal/models"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

type debugData struct {
	Title string
	Pre   string
}

// dumper prints raw fields, not String() output.
var dumper = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableMethods: true, SortKeys: true}

func writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	w.Header().Set("Content-Type", "text/html")
	err := debugTemplate.Execute(w, debugData{
		Title: title,
		Pre:   dumper.Sdump(data),
	})
	if err != nil {
		slog.Error("failed to execute debug template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	params := r.URL.Query()

	var data interface{}
	var title string

	switch params.Get("dataType") {
	case "config":
		cfg := webUI.Config
		cfg.ApiKeys = nil
		cfg.Feeds.MTAKey, cfg.Feeds.SIRIKey = "", ""
		cfg.Feeds.NJRail.Username, cfg.Feeds.NJRail.Password = "", ""
		cfg.Feeds.NJBus.Username, cfg.Feeds.NJBus.Password = "", ""
		data = cfg
		title = "Configuration"
	case "snapshots":
		if webUI.Schedule != nil {
			data = webUI.Schedule.Snapshots(r.Context())
		}
		title = "Schedule Snapshots"
	case "modes":
		if webUI.Arrivals != nil {
			data = webUI.Arrivals.Modes()
		}
		title = "Configured Modes"
	case "ferry_lines":
		if webUI.Topology != nil {
			data = webUI.Topology.Ferry.Lines()
		}
		title = "Ferry Lines"
	case "resolve":
		data, title = webUI.debugResolve(r)
	default:
		data = map[string]string{
			"error": "Please use one of the following: config, snapshots, modes, ferry_lines, resolve (with mode, routeId, stopId, direction, destination).",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, title, data)
}

// debugResolve runs one query and dumps the whole result, debug info included.
func (webUI *WebUI) debugResolve(r *http.Request) (interface{}, string) {
	if webUI.Arrivals == nil {
		return map[string]string{"error": "arrivals service not configured"}, "Resolve"
	}
	params := r.URL.Query()
	q := models.Query{
		Mode:              models.Mode(strings.ToLower(params.Get("mode"))),
		RouteID:           params.Get("routeId"),
		StopID:            params.Get("stopId"),
		Direction:         params.Get("direction"),
		DestinationStopID: params.Get("destination"),
	}
	res, err := webUI.Arrivals.Resolve(r.Context(), q)
	out := struct {
		Query  models.Query
		Result interface{}
		Error  string
	}{Query: q, Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	return out, "Resolve " + string(q.Mode) + " " + q.RouteID + " @ " + q.StopID
}
