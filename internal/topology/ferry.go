package topology

import (
	"fmt"
	"strings"
)

// FerryTable is the ordered list of ferry lines. Order matters: it is the last
// tie-break when a trip's stops fit several lines.
type FerryTable struct {
	lines []Line
	sets  []map[string]struct{}
}

func loadFerry() (*FerryTable, error) {
	var doc struct {
		Lines []Line `json:"lines"`
	}
	if err := readJSON("ferry_lines.json", &doc); err != nil {
		return nil, err
	}
	return NewFerryTable(doc.Lines)
}

// NewFerryTable validates lines and indexes their stop sets.
func NewFerryTable(lines []Line) (*FerryTable, error) {
	t := &FerryTable{}
	seen := make(map[string]bool)
	for _, l := range lines {
		if l.Name == "" || len(l.Stops) == 0 {
			return nil, fmt.Errorf("ferry line %q has no name or stops", l.Name)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("duplicate ferry line %q", l.Name)
		}
		seen[l.Name] = true

		set := make(map[string]struct{}, len(l.Stops))
		for _, s := range l.Stops {
			set[s] = struct{}{}
		}
		l.Stops = append([]string(nil), l.Stops...)
		t.lines = append(t.lines, l)
		t.sets = append(t.sets, set)
	}
	return t, nil
}

func (t *FerryTable) Lines() []Line {
	return append([]Line(nil), t.lines...)
}

// Lookup finds a line by name or route id, case-insensitively.
func (t *FerryTable) Lookup(key string) (Line, bool) {
	for _, l := range t.lines {
		if strings.EqualFold(l.Name, key) || strings.EqualFold(l.RouteID, key) {
			return l, true
		}
	}
	return Line{}, false
}

// Candidates returns, in table order, every line whose stop set contains all
// of stops. An empty stops slice matches nothing.
func (t *FerryTable) Candidates(stops []string) []Line {
	if len(stops) == 0 {
		return nil
	}
	var out []Line
	for i, l := range t.lines {
		if containsAll(t.sets[i], stops) {
			out = append(out, l)
		}
	}
	return out
}

func containsAll(set map[string]struct{}, stops []string) bool {
	for _, s := range stops {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
