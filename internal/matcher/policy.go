// Package matcher decides which live trip updates answer a query. Rules are
// chosen per mode from a fixed policy table; finding nothing is a normal
// result that sends the caller to the schedule.
package matcher

import (
	"strings"

	"tripcards.app/internal/feeds"
	"tripcards.app/internal/models"
)

type Rule string

const (
	// RuleExactStop: the trip reports the query stop and no destination was asked for.
	RuleExactStop Rule = "exact_stop"
	// RuleOriginDestination: origin and destination reported, origin first.
	RuleOriginDestination Rule = "origin_destination"
	// RuleRelaxedDestination accepts a trip whose feed has not reported the
	// destination yet. False positive: a trip that turns before the
	// destination is still shown.
	RuleRelaxedDestination Rule = "relaxed_destination"
	// RuleDirectionalProxy stands the first reported stop in for an
	// unreported origin when the two are adjacent in the travel direction.
	// False positive: a train that already left the origin is shown until the
	// feed drops its first stop.
	RuleDirectionalProxy Rule = "directional_proxy"
	// RuleLineInference marks ferry trips whose line was inferred from stops.
	// False positive: stops shared by several lines pick the wrong line; the
	// match is flagged ambiguous then.
	RuleLineInference Rule = "line_inference"
)

// RouteRule compares a trip's route spellings with the query route.
type RouteRule int

const (
	// RouteExact compares ids case-insensitively.
	RouteExact RouteRule = iota
	// RouteNormalized also drops agency prefixes and checks aliases.
	RouteNormalized
	// RouteTolerant adds substring containment in either direction, used only
	// when no trip in the batch matched by RouteNormalized. False positive:
	// "M1" is contained in "M15".
	RouteTolerant
	// RouteInferred ignores the feed route and infers the ferry line from stops.
	RouteInferred
)

// Policy is the rule set for one mode.
type Policy struct {
	Route RouteRule
	// AgencyStops drops an agency prefix from query stop ids ("MTA_401234"),
	// matching how the adapter spells the feed's stops.
	AgencyStops bool
	// SuffixDirection appends the query direction to stop ids ("A15" + "N").
	SuffixDirection bool
	// MetroDirection compares direction names through the metro table.
	MetroDirection bool
	// RelaxedDestination applies to every route of the mode; SparseRelaxed
	// only to the configured sparse routes.
	RelaxedDestination bool
	SparseRelaxed      bool
	DirectionalProxy   bool
	LineInference      bool
}

// DefaultPolicies is the policy table by mode.
var DefaultPolicies = map[models.Mode]Policy{
	models.ModeSubway:  {Route: RouteExact, SuffixDirection: true},
	models.ModeLIRR:    {Route: RouteExact},
	models.ModeMNR:     {Route: RouteExact},
	models.ModePATH:    {Route: RouteExact, MetroDirection: true, SparseRelaxed: true, DirectionalProxy: true},
	models.ModeFerry:   {Route: RouteInferred, RelaxedDestination: true, LineInference: true},
	models.ModeBus:     {Route: RouteNormalized, AgencyStops: true},
	models.ModeBusSIRI: {Route: RouteTolerant, AgencyStops: true},
	models.ModeNJRail:  {Route: RouteNormalized},
	models.ModeNJBus:   {Route: RouteNormalized},
}

// routeSpellings lists every normalized spelling of a trip's route.
func routeSpellings(u feeds.RawTripUpdate) []string {
	out := make([]string, 0, 1+len(u.RouteAliases))
	if id := feeds.NormalizeRouteID(u.RouteID); id != "" {
		out = append(out, id)
	}
	for _, alias := range u.RouteAliases {
		if a := feeds.NormalizeRouteID(alias); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func routeEquals(rule RouteRule, u feeds.RawTripUpdate, want string) bool {
	if rule == RouteExact {
		return strings.EqualFold(strings.TrimSpace(u.RouteID), strings.TrimSpace(want))
	}
	want = feeds.NormalizeRouteID(want)
	for _, s := range routeSpellings(u) {
		if s == want {
			return true
		}
	}
	return false
}

func routeContains(u feeds.RawTripUpdate, want string) bool {
	want = feeds.NormalizeRouteID(want)
	if want == "" {
		return false
	}
	for _, s := range routeSpellings(u) {
		if strings.Contains(s, want) || strings.Contains(want, s) {
			return true
		}
	}
	return false
}
