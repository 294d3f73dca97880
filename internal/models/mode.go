package models

import (
	"fmt"
	"strings"
)

// Mode identifies an agency family and selects the adapter, matching policy and
// schedule family used to answer a query.
type Mode string

const (
	ModeSubway  Mode = "subway"
	ModeLIRR    Mode = "lirr"
	ModeMNR     Mode = "mnr"
	ModePATH    Mode = "path"
	ModeFerry   Mode = "ferry"
	ModeBus     Mode = "bus"
	ModeBusSIRI Mode = "bus-siri"
	ModeNJRail  Mode = "njt-rail"
	ModeNJBus   Mode = "njt-bus"
)

var AllModes = []Mode{
	ModeSubway, ModeLIRR, ModeMNR, ModePATH, ModeFerry,
	ModeBus, ModeBusSIRI, ModeNJRail, ModeNJBus,
}

func (m Mode) Valid() bool {
	for _, known := range AllModes {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}
