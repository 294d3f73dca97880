package restapi

import (
	"encoding/json"
	"net/http"

	"tripcards.app/internal/logging"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Text        string `json:"text"`
	CurrentTime int64  `json:"currentTime"`
}

func (api *RestAPI) sendJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	setJSONResponseType(&w)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "failed to encode response", err)
	}
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found")
}

func (api *RestAPI) sendUnauthorized(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusUnauthorized, "permission denied")
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "internal server error", err)
	api.sendError(w, r, http.StatusInternalServerError, "internal server error")
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	api.sendJSON(w, r, code, ErrorResponse{
		Code:        code,
		Text:        message,
		CurrentTime: api.now().UnixMilli(),
	})
}
