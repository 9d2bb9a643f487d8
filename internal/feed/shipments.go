package feed

import (
	"errors"
	"fmt"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

var (
	// ErrInvalidTransition marks an event that the status machine rejects,
	// including any event against a terminal shipment.
	ErrInvalidTransition = errors.New("feed: invalid shipment transition")
	// ErrOutOfOrderEvent marks an event older than the shipment's last
	// applied event. The events list is append-only in timestamp order.
	ErrOutOfOrderEvent = errors.New("feed: shipment event out of order")
)

// shipmentTracker owns the live state of every shipment seen by one
// session. Not safe for concurrent use; the session serializes access.
type shipmentTracker struct {
	states map[string]*models.ShipmentLiveState
}

func newShipmentTracker() *shipmentTracker {
	return &shipmentTracker{states: make(map[string]*models.ShipmentLiveState)}
}

// Seed registers a shipment's starting state, usually carrier metadata the
// event stream itself does not carry. Existing state is left alone.
func (t *shipmentTracker) Seed(state models.ShipmentLiveState) {
	if _, ok := t.states[state.ID]; ok {
		return
	}
	t.states[state.ID] = state.Clone()
}

// Apply appends one tracking event. A rejected event leaves the stored
// state completely unchanged.
func (t *shipmentTracker) Apply(ev models.ShipmentEvent) (*models.ShipmentLiveState, error) {
	if ev.ShipmentID == "" {
		return nil, fmt.Errorf("%w: missing shipment id", ErrInvalidTransition)
	}
	state, ok := t.states[ev.ShipmentID]
	if !ok {
		// First sighting: the event itself establishes the shipment.
		state = &models.ShipmentLiveState{ID: ev.ShipmentID, Status: ev.Status}
		if !ev.Status.Terminal() && ev.Status != models.ShipmentPending && ev.Status != models.ShipmentInTransit && ev.Status != models.ShipmentDelayed {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, ev.Status)
		}
		state.Location = ev.Location
		state.UpdatedAt = ev.OccurredAt
		state.Events = []models.ShipmentEvent{ev}
		t.states[ev.ShipmentID] = state
		return state.Clone(), nil
	}

	if state.Status.Terminal() {
		return nil, fmt.Errorf("%w: shipment %s is %s", ErrInvalidTransition, state.ID, state.Status)
	}
	if !state.Status.CanTransitionTo(ev.Status) {
		return nil, fmt.Errorf("%w: %s -> %s for shipment %s", ErrInvalidTransition, state.Status, ev.Status, state.ID)
	}
	if n := len(state.Events); n > 0 && ev.OccurredAt.Before(state.Events[n-1].OccurredAt) {
		return nil, fmt.Errorf("%w: shipment %s", ErrOutOfOrderEvent, state.ID)
	}

	state.Status = ev.Status
	if ev.Location != "" {
		state.Location = ev.Location
	}
	state.UpdatedAt = ev.OccurredAt
	state.Events = append(state.Events, ev)
	return state.Clone(), nil
}

// Get returns a deep copy of the shipment's live state.
func (t *shipmentTracker) Get(id string) (*models.ShipmentLiveState, bool) {
	state, ok := t.states[id]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// All returns deep copies of every tracked shipment.
func (t *shipmentTracker) All() []*models.ShipmentLiveState {
	out := make([]*models.ShipmentLiveState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s.Clone())
	}
	return out
}
