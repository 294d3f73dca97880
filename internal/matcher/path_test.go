package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcards.app/internal/feeds"
	"tripcards.app/internal/models"
)

// Stops on route 1024 toward 33rd St: Journal Square 26731, Grove Street
// 26728, Newport 26733, Hoboken 26730, Christopher Street 26726.

func TestMatch_PATHDirectionalProxy(t *testing.T) {
	m := newTestMatcher(t)
	q := models.Query{Mode: models.ModePATH, RouteID: "1024", StopID: "26733", Direction: "NY"}

	tests := []struct {
		name  string
		trip  feeds.RawTripUpdate
		match bool
	}{
		{"first stop is the next stop toward NY", trip("T", "1024", stop("26730", 0, 100), stop("26726", 0, 200)), true},
		{"first stop is behind the origin", trip("T", "1024", stop("26728", 0, 100), stop("26731", 0, 200)), false},
		{"first stop not adjacent", trip("T", "1024", stop("26726", 0, 100)), false},
		{"route is not sparse", trip("T", "861", stop("26726", 0, 100)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Match(models.Query{Mode: q.Mode, RouteID: tt.trip.RouteID, StopID: q.StopID, Direction: q.Direction}, []feeds.RawTripUpdate{tt.trip})
			if !tt.match {
				assert.Empty(t, res.Matches)
				return
			}
			require.Len(t, res.Matches, 1)
			assert.Equal(t, RuleDirectionalProxy, res.Matches[0].Rule)
			assert.Equal(t, "26730", res.Matches[0].Origin.StopID)
		})
	}
}

func TestMatch_PATHProxyUsesFeedDirection(t *testing.T) {
	m := newTestMatcher(t)
	u := trip("T", "1024", stop("26730", 0, 100))
	u.DirectionID = dir(1)

	res := m.Match(models.Query{Mode: models.ModePATH, RouteID: "1024", StopID: "26733"}, []feeds.RawTripUpdate{u})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "33rd Street", res.Matches[0].Headsign)
	assert.Equal(t, "26724", res.Matches[0].TerminalStopID)
}

func TestMatch_PATHDirectionFilter(t *testing.T) {
	m := newTestMatcher(t)
	toNJ := trip("nj", "859", stop("26722", 0, 100))
	toNJ.DirectionID = dir(0)
	toNY := trip("ny", "859", stop("26722", 0, 200))
	toNY.DirectionID = dir(1)

	res := m.Match(models.Query{Mode: models.ModePATH, RouteID: "859", StopID: "26722", Direction: "NJ"}, []feeds.RawTripUpdate{toNJ, toNY})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "nj", res.Matches[0].TripID)
	assert.Equal(t, "Hoboken", res.Matches[0].Headsign)
}

func TestMatch_PATHRelaxedOnlyOnSparseRoutes(t *testing.T) {
	m := newTestMatcher(t)
	sparse := trip("s", "1024", stop("26733", 0, 100))
	dense := trip("d", "861", stop("26733", 0, 100))

	res := m.Match(models.Query{Mode: models.ModePATH, RouteID: "1024", StopID: "26733", DestinationStopID: "26724"}, []feeds.RawTripUpdate{sparse})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, RuleRelaxedDestination, res.Matches[0].Rule)
	assert.Nil(t, res.Matches[0].Destination)

	res = m.Match(models.Query{Mode: models.ModePATH, RouteID: "861", StopID: "26733", DestinationStopID: "26724"}, []feeds.RawTripUpdate{dense})
	assert.Empty(t, res.Matches)
}
