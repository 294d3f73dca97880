package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendJSON(t *testing.T) {
	api := createTestApi(t)

	t.Run("sends valid JSON response", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendJSON(w, r, http.StatusOK, map[string]string{"test": "data"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var decoded map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&decoded))
		assert.Equal(t, "data", decoded["test"])
	})

	t.Run("sends null for nil data", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendJSON(w, r, http.StatusOK, nil)

		assert.Equal(t, "null\n", w.Body.String())
	})
}

func TestErrorResponses(t *testing.T) {
	api := createTestApi(t)

	tests := []struct {
		name     string
		send     func(w http.ResponseWriter, r *http.Request)
		wantCode int
		wantText string
	}{
		{"not found", api.sendNotFound, http.StatusNotFound, "resource not found"},
		{"unauthorized", api.sendUnauthorized, http.StatusUnauthorized, "permission denied"},
		{
			"server error hides the cause",
			func(w http.ResponseWriter, r *http.Request) {
				api.serverErrorResponse(w, r, errors.New("disk on fire"))
			},
			http.StatusInternalServerError,
			"internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/test", nil)

			tt.send(w, r)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantCode, response.Code)
			assert.Equal(t, tt.wantText, response.Text)
			assert.Equal(t, testNow.UnixMilli(), response.CurrentTime, "CurrentTime comes from the API clock")
		})
	}
}

func TestSetJSONResponseType(t *testing.T) {
	t.Run("sets JSON content type header", func(t *testing.T) {
		w := httptest.NewRecorder()
		var wInterface http.ResponseWriter = w

		setJSONResponseType(&wInterface)

		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("overwrites existing content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		w.Header().Set("Content-Type", "text/html")
		var wInterface http.ResponseWriter = w

		setJSONResponseType(&wInterface)

		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}
