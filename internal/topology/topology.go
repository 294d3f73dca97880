// Package topology holds the hand-curated static tables: ferry line stop
// sequences used for line inference, metro stop adjacency used for the
// directional proxy, and representative timetables used when no schedule
// snapshot can answer.
package topology

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed data/*.json
var dataFS embed.FS

// Topology bundles every static table. It is immutable after Load.
type Topology struct {
	Ferry     *FerryTable
	Metro     *MetroTable
	Timetable *Timetable
}

func Load() (*Topology, error) {
	ferry, err := loadFerry()
	if err != nil {
		return nil, err
	}
	metro, err := loadMetro()
	if err != nil {
		return nil, err
	}
	tt, err := loadTimetable()
	if err != nil {
		return nil, err
	}
	return &Topology{Ferry: ferry, Metro: metro, Timetable: tt}, nil
}

// MustLoad panics on a malformed embedded table, which is a build defect.
func MustLoad() *Topology {
	t, err := Load()
	if err != nil {
		panic(err)
	}
	return t
}

func readJSON(name string, v any) error {
	b, err := dataFS.ReadFile("data/" + name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// Line is a canonical terminal-to-terminal stop sequence.
type Line struct {
	Name    string   `json:"name"`
	RouteID string   `json:"routeId"`
	Stops   []string `json:"stops"`
}

// Index is the position of stop in the sequence, or -1.
func (l Line) Index(stop string) int {
	for i, s := range l.Stops {
		if s == stop {
			return i
		}
	}
	return -1
}

func (l Line) Contains(stop string) bool { return l.Index(stop) >= 0 }

// Terminal is the last stop when travelling forward, the first otherwise.
func (l Line) Terminal(forward bool) string {
	if len(l.Stops) == 0 {
		return ""
	}
	if forward {
		return l.Stops[len(l.Stops)-1]
	}
	return l.Stops[0]
}
