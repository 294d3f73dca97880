package models

// DebugInfo explains how an arrival list was assembled.
type DebugInfo struct {
	Mode            Mode           `json:"mode"`
	LiveUpdates     int            `json:"liveUpdates"`
	LiveMatches     int            `json:"liveMatches"`
	ScheduledTrips  int            `json:"scheduledTrips"`
	Rules           map[string]int `json:"rules,omitempty"`
	InferredLine    string         `json:"inferredLine,omitempty"`
	AmbiguousLine   bool           `json:"ambiguousLine,omitempty"`
	UsedFallback    bool           `json:"usedFallback"`
	StaticTimetable bool           `json:"staticTimetable,omitempty"`
	LiveError       string         `json:"liveError,omitempty"`
	ElapsedMs       int64          `json:"elapsedMs"`
}

type ArrivalsResponse struct {
	Arrivals  []Arrival `json:"arrivals"`
	Alerts    []Alert   `json:"alerts"`
	DebugInfo DebugInfo `json:"debugInfo"`
}

type BatchRequest struct {
	Requests []Query `json:"requests" validate:"required,min=1,max=50"`
}

type BatchItem struct {
	ETAs     []string `json:"etas"`
	Arrivals []int64  `json:"arrivals"`
	Error    string   `json:"error,omitempty"`
}

type BatchResponse struct {
	Results map[string]BatchItem `json:"results"`
}

// NewBatchItem flattens arrivals into the compact shape. Slices are never nil.
func NewBatchItem(arrivals []Arrival) BatchItem {
	item := BatchItem{
		ETAs:     make([]string, 0, len(arrivals)),
		Arrivals: make([]int64, 0, len(arrivals)),
	}
	for _, a := range arrivals {
		item.ETAs = append(item.ETAs, a.ETALabel())
		item.Arrivals = append(item.Arrivals, a.Time)
	}
	return item
}

func FailedBatchItem(err error) BatchItem {
	return BatchItem{ETAs: []string{}, Arrivals: []int64{}, Error: err.Error()}
}
