package restapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHandler(t *testing.T) {
	_, resp, model := serveAndRetrieveEndpoint(t, "/api/config")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	build, ok := model["build"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1.2.3", build["version"])
	assert.Equal(t, "abc1234", build["commit"])

	assert.Equal(t, "America/New_York", model["timeZone"])
	assert.ElementsMatch(t, []interface{}{"subway", "bus", "ferry", "lirr", "mnr", "njt-rail"}, model["modes"],
		"modes with a live source or a schedule fallback")
	assert.Equal(t, []interface{}{}, model["snapshots"])
}
