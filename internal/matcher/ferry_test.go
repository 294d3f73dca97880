package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcards.app/internal/feeds"
	"tripcards.app/internal/models"
)

func anyFerry(origin, dest string) models.Query {
	return models.Query{Mode: models.ModeFerry, RouteID: models.AnyRoute, StopID: origin, DestinationStopID: dest}
}

func TestMatch_FerrySparseEastRiverTrip(t *testing.T) {
	m := newTestMatcher(t)

	res := m.Match(anyFerry("4", ""), []feeds.RawTripUpdate{trip("F1", "", stop("4", 0, 100))})
	require.Len(t, res.Matches, 1)
	match := res.Matches[0]
	assert.Equal(t, "East River", match.Line)
	assert.Equal(t, "ER", match.RouteID)
	assert.False(t, match.Ambiguous)
	assert.Equal(t, "17", match.TerminalStopID, "a single stop reads as forward")
	assert.Equal(t, "East River", res.InferredLine)
	assert.Equal(t, 1, res.Rules[string(RuleLineInference)])
}

func TestMatch_FerryLineInferenceRoundTrip(t *testing.T) {
	m := newTestMatcher(t)

	for _, line := range m.ferry.Lines() {
		for _, s := range line.Stops {
			shared := len(m.ferry.Candidates([]string{s})) > 1
			res := m.Match(anyFerry(s, ""), []feeds.RawTripUpdate{trip("F", "", stop(s, 0, 100))})
			require.Len(t, res.Matches, 1, "%s stop %s", line.Name, s)
			match := res.Matches[0]

			if !shared {
				assert.Equal(t, line.Name, match.Line, "stop %s", s)
				assert.False(t, match.Ambiguous)
				continue
			}
			assert.True(t, match.Ambiguous, "shared stop %s is flagged", s)
			assert.True(t, res.AmbiguousLine)
		}
	}
}

func TestMatch_FerryContextResolvesSharedStops(t *testing.T) {
	m := newTestMatcher(t)

	// Pier 11 (87) is on every line; Astoria's 113 is on one.
	res := m.Match(anyFerry("87", "113"), []feeds.RawTripUpdate{trip("F", "", stop("87", 1, 100))})
	require.Len(t, res.Matches, 1)
	match := res.Matches[0]
	assert.Equal(t, "Astoria", match.Line)
	assert.False(t, match.Ambiguous)
	assert.Equal(t, RuleRelaxedDestination, match.Rule)
	assert.Nil(t, match.Destination)
}

func TestMatch_FerryNamedLine(t *testing.T) {
	m := newTestMatcher(t)
	er := trip("er", "", stop("87", 1, 100), stop("20", 2, 200))
	rw := trip("rw", "", stop("87", 1, 150), stop("23", 2, 250), stop("46", 3, 350))

	res := m.Match(models.Query{Mode: models.ModeFerry, RouteID: "ER", StopID: "87"}, []feeds.RawTripUpdate{er, rw})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "er", res.Matches[0].TripID)
	assert.Equal(t, "East River", res.Matches[0].Line)
	assert.False(t, res.Matches[0].Ambiguous)

	res = m.Match(models.Query{Mode: models.ModeFerry, RouteID: "Rockaway", StopID: "87"}, []feeds.RawTripUpdate{er, rw})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "rw", res.Matches[0].TripID)
	assert.Equal(t, "46", res.Matches[0].TerminalStopID)

	res = m.Match(models.Query{Mode: models.ModeFerry, RouteID: "Nowhere", StopID: "87"}, []feeds.RawTripUpdate{er, rw})
	assert.Empty(t, res.Matches)
}

func TestMatch_FerryDestinationInference(t *testing.T) {
	m := newTestMatcher(t)

	backward := trip("back", "", stop("19", 1, 100), stop("8", 2, 200), stop("20", 3, 300))
	res := m.Match(models.Query{Mode: models.ModeFerry, RouteID: "ER", StopID: "8"}, []feeds.RawTripUpdate{backward})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "87", res.Matches[0].TerminalStopID)

	withHeadsign := backward
	withHeadsign.Headsign = "Wall St/Pier 11"
	res = m.Match(models.Query{Mode: models.ModeFerry, RouteID: "ER", StopID: "8"}, []feeds.RawTripUpdate{withHeadsign})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "Wall St/Pier 11", res.Matches[0].Headsign)
	assert.Empty(t, res.Matches[0].TerminalStopID)
}

func TestMatch_FerryRelaxedRespectsTravelDirection(t *testing.T) {
	m := newTestMatcher(t)
	// Heading back toward Pier 11, so it never reaches East 34th (17) from 19.
	backward := trip("back", "", stop("19", 1, 100), stop("8", 2, 200))
	forward := trip("fwd", "", stop("19", 1, 150), stop("18", 2, 250))

	res := m.Match(models.Query{Mode: models.ModeFerry, RouteID: "ER", StopID: "19", DestinationStopID: "17"}, []feeds.RawTripUpdate{backward, forward})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "fwd", res.Matches[0].TripID)
	assert.Equal(t, RuleRelaxedDestination, res.Matches[0].Rule)
}

func TestMatch_FerryInferredLineDisagreement(t *testing.T) {
	m := newTestMatcher(t)
	er := trip("er", "", stop("87", 1, 100), stop("20", 2, 200))
	rw := trip("rw", "", stop("87", 1, 150), stop("46", 2, 250))

	res := m.Match(anyFerry("87", ""), []feeds.RawTripUpdate{er, rw})
	require.Len(t, res.Matches, 2)
	assert.Empty(t, res.InferredLine, "matches on different lines leave no single inferred line")
}
