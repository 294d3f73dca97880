package topology

import "fmt"

// MetroTable knows, per route, which direction of travel each pair of
// adjacent stops represents.
type MetroTable struct {
	lines        map[string]Line
	order        []string
	adjacency    map[string]map[stopPair]string
	directionIDs map[int]string
	stopNames    map[string]string
}

type stopPair struct{ from, to string }

func loadMetro() (*MetroTable, error) {
	var doc struct {
		Toward       string            `json:"towardManhattan"`
		Away         string            `json:"awayFromManhattan"`
		DirectionIDs map[string]string `json:"directionIds"`
		Lines        []Line            `json:"lines"`
		StopNames    map[string]string `json:"stopNames"`
	}
	if err := readJSON("metro_lines.json", &doc); err != nil {
		return nil, err
	}

	m := &MetroTable{
		lines:        make(map[string]Line, len(doc.Lines)),
		adjacency:    make(map[string]map[stopPair]string, len(doc.Lines)),
		directionIDs: make(map[int]string, len(doc.DirectionIDs)),
		stopNames:    doc.StopNames,
	}
	for k, v := range doc.DirectionIDs {
		var id int
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("metro direction id %q: %w", k, err)
		}
		m.directionIDs[id] = v
	}

	// Stops are listed in the towardManhattan direction.
	for _, l := range doc.Lines {
		if l.RouteID == "" || len(l.Stops) < 2 {
			return nil, fmt.Errorf("metro line %q needs a route id and two stops", l.Name)
		}
		pairs := make(map[stopPair]string, 2*(len(l.Stops)-1))
		for i := 0; i+1 < len(l.Stops); i++ {
			pairs[stopPair{l.Stops[i], l.Stops[i+1]}] = doc.Toward
			pairs[stopPair{l.Stops[i+1], l.Stops[i]}] = doc.Away
		}
		m.lines[l.RouteID] = l
		m.order = append(m.order, l.RouteID)
		m.adjacency[l.RouteID] = pairs
	}
	return m, nil
}

// AdjacentDirection reports the direction of travel from one stop to the next
// on routeID. ok is false when the stops are not adjacent on that route.
func (m *MetroTable) AdjacentDirection(routeID, from, to string) (string, bool) {
	pairs, ok := m.adjacency[routeID]
	if !ok {
		return "", false
	}
	dir, ok := pairs[stopPair{from, to}]
	return dir, ok
}

// DirectionForID maps a feed direction_id onto the table's direction names.
func (m *MetroTable) DirectionForID(id int) (string, bool) {
	d, ok := m.directionIDs[id]
	return d, ok
}

func (m *MetroTable) Line(routeID string) (Line, bool) {
	l, ok := m.lines[routeID]
	return l, ok
}

// StopName falls back to the id for unknown stops.
func (m *MetroTable) StopName(stopID string) string {
	if name, ok := m.stopNames[stopID]; ok {
		return name
	}
	return stopID
}

// Terminal is the end of routeID's line in the given direction.
func (m *MetroTable) Terminal(routeID, direction string) (string, bool) {
	l, ok := m.lines[routeID]
	if !ok {
		return "", false
	}
	toward, _ := m.AdjacentDirection(routeID, l.Stops[0], l.Stops[1])
	return l.Terminal(direction == toward), true
}
