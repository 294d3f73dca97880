package models

// AnyRoute in Query.RouteID asks for every line of the mode (the "any ferry" card).
const AnyRoute = "any"

// Query is one saved trip card: board Route at Stop, optionally riding to
// DestinationStopID. It is built per request and never modified.
type Query struct {
	ID                string `json:"id,omitempty"`
	Mode              Mode   `json:"mode" validate:"required,mode"`
	RouteID           string `json:"routeId" validate:"max=64"`
	StopID            string `json:"stopId" validate:"required,max=64"`
	Direction         string `json:"direction,omitempty" validate:"omitempty,max=16"`
	DestinationStopID string `json:"destination,omitempty" validate:"omitempty,max=64"`
}

func (q Query) WantsAnyRoute() bool {
	return q.RouteID == "" || q.RouteID == AnyRoute
}

func (q Query) HasDestination() bool {
	return q.DestinationStopID != ""
}
