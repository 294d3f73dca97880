package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Ferry ")
	require.NoError(t, err)
	assert.Equal(t, ModeFerry, m)

	m, err = ParseMode("njt-bus")
	require.NoError(t, err)
	assert.Equal(t, ModeNJBus, m)

	_, err = ParseMode("hovercraft")
	assert.Error(t, err)
}

func TestMinutesUntil(t *testing.T) {
	now := int64(1_700_000_000)
	assert.Equal(t, 0, MinutesUntil(now-120, now))
	assert.Equal(t, 0, MinutesUntil(now, now))
	assert.Equal(t, 0, MinutesUntil(now+59, now))
	assert.Equal(t, 1, MinutesUntil(now+60, now))
	assert.Equal(t, 12, MinutesUntil(now+12*60+30, now))
}

func TestBatchItemJSON(t *testing.T) {
	ok := NewBatchItem([]Arrival{
		{Time: 100, MinutesUntil: 0},
		{Time: 400, MinutesUntil: 5},
	})
	assert.Equal(t, []string{"Now", "5 min"}, ok.ETAs)
	assert.Equal(t, []int64{100, 400}, ok.Arrivals)

	data, err := json.Marshal(NewBatchItem(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"etas":[],"arrivals":[]}`, string(data))

	data, err = json.Marshal(FailedBatchItem(errors.New("upstream unavailable")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"etas":[],"arrivals":[],"error":"upstream unavailable"}`, string(data))
}

func TestArrivalJSONOmitsOptionalFields(t *testing.T) {
	data, err := json.Marshal(Arrival{RouteID: "A", Time: 10, Destination: "Far Rockaway", Status: StatusScheduled})
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, "destinationArrivalTime")
	assert.NotContains(t, s, "track")
	assert.Contains(t, s, `"status":"scheduled"`)
}
