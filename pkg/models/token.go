package models

// Item is the product a state token refers to.
type Item struct {
	ID       string  `json:"item_id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Value    float64 `json:"value"`
	Location string  `json:"location"`
}

// TokenState is the lifecycle state claimed by a token.
type TokenState string

// Lifecycle states
const (
	StateInFacility       TokenState = "in_facility"
	StateReadyForDispatch TokenState = "ready_for_dispatch"
	StateDispatched       TokenState = "dispatched"
)

// Valid reports whether the state is one of the known lifecycle states.
func (s TokenState) Valid() bool {
	switch s {
	case StateInFacility, StateReadyForDispatch, StateDispatched:
		return true
	}
	return false
}

// StateToken is a signed claim that an item is in a given state at a facility.
// A new state always means a new token; tokens are never modified in place.
type StateToken struct {
	ID         string     `json:"token_id"`
	Item       Item       `json:"item"`
	Timestamp  int64      `json:"timestamp"` // unix seconds
	FacilityID string     `json:"facility_id"`
	ShipmentID string     `json:"shipment_id,omitempty"`
	State      TokenState `json:"state"`
	Signature  string     `json:"signature"` // hex HMAC-SHA-256
}
