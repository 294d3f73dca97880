package matcher

import (
	"sort"
	"strconv"
	"strings"

	"tripcards.app/internal/feeds"
	"tripcards.app/internal/models"
	"tripcards.app/internal/topology"
)

// Match is one trip that boards at the query origin.
type Match struct {
	TripID  string
	RouteID string
	// Headsign is the feed's destination label, or one derived from topology.
	Headsign string
	// TerminalStopID is where the trip ends when the feed gave no headsign.
	TerminalStopID string
	Origin         feeds.StopTimeUpdate
	Destination    *feeds.StopTimeUpdate
	Rule           Rule
	// Line is the inferred ferry line; Ambiguous when several lines fit.
	Line      string
	Ambiguous bool
}

// BoardingTime is the origin departure, or arrival when no departure is known.
func (m Match) BoardingTime() int64 {
	t, _ := m.Origin.BoardingTime()
	return t
}

// Result is the outcome of matching one batch of trip updates.
type Result struct {
	Matches []Match
	Rules   map[string]int
	// InferredLine is set when every ferry match agreed on one line.
	InferredLine  string
	AmbiguousLine bool
}

type Matcher struct {
	policies map[models.Mode]Policy
	ferry    *topology.FerryTable
	metro    *topology.MetroTable
	sparse   map[string]bool
}

// New builds a matcher over the static tables. sparseRoutes lists metro
// routes whose feed routinely skips stops.
func New(topo *topology.Topology, sparseRoutes []string) *Matcher {
	m := &Matcher{
		policies: DefaultPolicies,
		ferry:    topo.Ferry,
		metro:    topo.Metro,
		sparse:   make(map[string]bool, len(sparseRoutes)),
	}
	for _, r := range sparseRoutes {
		m.sparse[r] = true
	}
	return m
}

func (m *Matcher) Policy(mode models.Mode) (Policy, bool) {
	p, ok := m.policies[mode]
	return p, ok
}

// Match returns the trips in updates that satisfy q, ordered by boarding time.
func (m *Matcher) Match(q models.Query, updates []feeds.RawTripUpdate) Result {
	res := Result{Rules: map[string]int{}}
	policy, ok := m.policies[q.Mode]
	if !ok {
		return res
	}

	candidates := m.filterRoutes(policy, q, updates)
	seen := make(map[string]bool)
	for _, u := range candidates {
		match, ok := m.matchTrip(policy, q, u)
		if !ok {
			continue
		}
		key := match.TripID + "@" + strconv.FormatInt(match.BoardingTime(), 10)
		if seen[key] {
			continue
		}
		seen[key] = true
		res.Matches = append(res.Matches, match)
		res.Rules[string(match.Rule)]++
		if match.Line != "" {
			res.Rules[string(RuleLineInference)]++
		}
	}

	sort.SliceStable(res.Matches, func(i, j int) bool {
		return res.Matches[i].BoardingTime() < res.Matches[j].BoardingTime()
	})

	for i, match := range res.Matches {
		if match.Ambiguous {
			res.AmbiguousLine = true
		}
		switch {
		case i == 0:
			res.InferredLine = match.Line
		case match.Line != res.InferredLine:
			res.InferredLine = ""
		}
	}
	return res
}

// filterRoutes keeps the updates on the query route. Tolerant matching
// falls back to substring containment only when nothing matched properly.
func (m *Matcher) filterRoutes(policy Policy, q models.Query, updates []feeds.RawTripUpdate) []feeds.RawTripUpdate {
	if q.WantsAnyRoute() || policy.Route == RouteInferred {
		return updates
	}

	var out []feeds.RawTripUpdate
	for _, u := range updates {
		if routeEquals(policy.Route, u, q.RouteID) {
			out = append(out, u)
		}
	}
	if len(out) > 0 || policy.Route != RouteTolerant {
		return out
	}
	for _, u := range updates {
		if routeContains(u, q.RouteID) {
			out = append(out, u)
		}
	}
	return out
}

func (m *Matcher) matchTrip(policy Policy, q models.Query, u feeds.RawTripUpdate) (Match, bool) {
	if len(u.StopTimeUpdates) == 0 {
		return Match{}, false
	}
	match := Match{TripID: u.TripID, RouteID: u.RouteID, Headsign: u.Headsign}

	var line topology.Line
	if policy.LineInference {
		var ok bool
		line, match.Ambiguous, ok = m.inferLine(q, u)
		if !ok && !q.WantsAnyRoute() {
			return Match{}, false
		}
		if ok {
			match.Line = line.Name
			match.RouteID = line.RouteID
		}
	}

	if !m.directionAgrees(policy, q, u) {
		return Match{}, false
	}

	origin, dest := m.stopIDs(policy, q)
	oi := indexOf(u.StopTimeUpdates, origin)
	rule := RuleExactStop
	if oi < 0 {
		if !policy.DirectionalProxy || !m.sparse[u.RouteID] {
			return Match{}, false
		}
		if !m.proxyOrigin(q, u) {
			return Match{}, false
		}
		oi = 0
		rule = RuleDirectionalProxy
	}
	match.Origin = u.StopTimeUpdates[oi]
	if _, ok := match.Origin.BoardingTime(); !ok {
		return Match{}, false
	}

	if dest != "" {
		di := indexOf(u.StopTimeUpdates, dest)
		switch {
		case di >= 0 && before(u.StopTimeUpdates, oi, di):
			d := u.StopTimeUpdates[di]
			if _, ok := d.AlightingTime(); ok {
				match.Destination = &d
			}
			if rule == RuleExactStop {
				rule = RuleOriginDestination
			}
		case di >= 0:
			// Reported, but behind the origin: wrong direction.
			return Match{}, false
		case policy.RelaxedDestination || (policy.SparseRelaxed && m.sparse[u.RouteID]):
			if match.Line != "" && !ferryHeadsToward(line, u, origin, dest) {
				return Match{}, false
			}
			if rule == RuleExactStop {
				rule = RuleRelaxedDestination
			}
		default:
			return Match{}, false
		}
	}
	match.Rule = rule

	m.fillHeadsign(policy, q, u, line, &match)
	return match, true
}

// stopIDs returns the origin and destination ids as the feed spells them.
func (m *Matcher) stopIDs(policy Policy, q models.Query) (string, string) {
	origin, dest := q.StopID, q.DestinationStopID
	if policy.AgencyStops {
		origin = feeds.TrimAgencyPrefix(origin)
		if dest != "" {
			dest = feeds.TrimAgencyPrefix(dest)
		}
	}
	if policy.SuffixDirection && q.Direction != "" {
		origin = withSuffix(origin, q.Direction)
		if dest != "" {
			dest = withSuffix(dest, q.Direction)
		}
	}
	return origin, dest
}

func withSuffix(stop, direction string) string {
	if strings.HasSuffix(stop, direction) {
		return stop
	}
	return stop + direction
}

// directionAgrees rejects trips whose reported direction contradicts the query.
func (m *Matcher) directionAgrees(policy Policy, q models.Query, u feeds.RawTripUpdate) bool {
	if q.Direction == "" || u.DirectionID == nil || policy.SuffixDirection {
		return true
	}
	if policy.MetroDirection {
		name, ok := m.metro.DirectionForID(*u.DirectionID)
		return !ok || strings.EqualFold(name, q.Direction)
	}
	if want, err := strconv.Atoi(q.Direction); err == nil {
		return want == *u.DirectionID
	}
	return true
}

// proxyOrigin reports whether the trip's first reported stop is the origin's
// neighbour in the direction of travel.
func (m *Matcher) proxyOrigin(q models.Query, u feeds.RawTripUpdate) bool {
	direction := q.Direction
	if direction == "" && u.DirectionID != nil {
		direction, _ = m.metro.DirectionForID(*u.DirectionID)
	}
	if direction == "" {
		return false
	}
	got, ok := m.metro.AdjacentDirection(u.RouteID, q.StopID, u.StopTimeUpdates[0].StopID)
	return ok && strings.EqualFold(got, direction)
}

// inferLine picks the ferry line holding every stop the trip reports. Query
// context narrows shared stops; what remains is resolved in table order and
// flagged ambiguous.
func (m *Matcher) inferLine(q models.Query, u feeds.RawTripUpdate) (line topology.Line, ambiguous, ok bool) {
	stops := make([]string, 0, len(u.StopTimeUpdates))
	for _, s := range u.StopTimeUpdates {
		stops = append(stops, s.StopID)
	}
	candidates := m.ferry.Candidates(stops)
	if len(candidates) == 0 {
		return topology.Line{}, false, false
	}

	if !q.WantsAnyRoute() {
		want, known := m.ferry.Lookup(q.RouteID)
		if !known {
			return topology.Line{}, false, false
		}
		for _, c := range candidates {
			if c.Name == want.Name {
				return c, false, true
			}
		}
		return topology.Line{}, false, false
	}

	narrowed := candidates[:0:0]
	for _, c := range candidates {
		if c.Contains(q.StopID) && (!q.HasDestination() || c.Contains(q.DestinationStopID)) {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) > 0 {
		candidates = narrowed
	}
	return candidates[0], len(candidates) > 1, true
}

// ferryForward compares the trip's first and last reported stops on the line.
// A single reported stop counts as forward.
func ferryForward(line topology.Line, u feeds.RawTripUpdate) bool {
	first := line.Index(u.StopTimeUpdates[0].StopID)
	last := line.Index(u.StopTimeUpdates[len(u.StopTimeUpdates)-1].StopID)
	return first <= last
}

// ferryHeadsToward checks a relaxed ferry match travels from origin toward
// dest. Trips reporting a single stop cannot tell and are accepted.
func ferryHeadsToward(line topology.Line, u feeds.RawTripUpdate, origin, dest string) bool {
	if len(u.StopTimeUpdates) < 2 {
		return true
	}
	oi, di := line.Index(origin), line.Index(dest)
	if oi < 0 || di < 0 {
		return true
	}
	return ferryForward(line, u) == (oi < di)
}

func (m *Matcher) fillHeadsign(policy Policy, q models.Query, u feeds.RawTripUpdate, line topology.Line, match *Match) {
	if match.Headsign != "" {
		return
	}
	switch {
	case match.Line != "":
		match.TerminalStopID = line.Terminal(ferryForward(line, u))
	case policy.MetroDirection:
		direction := q.Direction
		if direction == "" && u.DirectionID != nil {
			direction, _ = m.metro.DirectionForID(*u.DirectionID)
		}
		if terminal, ok := m.metro.Terminal(u.RouteID, direction); ok && direction != "" {
			match.TerminalStopID = terminal
			match.Headsign = m.metro.StopName(terminal)
		}
	}
	if match.TerminalStopID == "" {
		last := u.StopTimeUpdates[len(u.StopTimeUpdates)-1].StopID
		if policy.SuffixDirection && q.Direction != "" {
			last = strings.TrimSuffix(last, q.Direction)
		}
		match.TerminalStopID = last
	}
}

func indexOf(stops []feeds.StopTimeUpdate, id string) int {
	for i, s := range stops {
		if s.StopID == id {
			return i
		}
	}
	return -1
}

// before orders two reported stops by sequence when both carry one, else by
// position in the update.
func before(stops []feeds.StopTimeUpdate, i, j int) bool {
	a, b := stops[i].Sequence, stops[j].Sequence
	if a != nil && b != nil {
		return *a < *b
	}
	return i < j
}
