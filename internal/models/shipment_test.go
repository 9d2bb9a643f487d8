package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShipmentStatusTransitions(t *testing.T) {
	t.Run("Forward progression", func(t *testing.T) {
		assert.True(t, ShipmentPending.CanTransitionTo(ShipmentInTransit))
		assert.True(t, ShipmentInTransit.CanTransitionTo(ShipmentDelivered))
		assert.True(t, ShipmentInTransit.CanTransitionTo(ShipmentDelayed))
		assert.True(t, ShipmentInTransit.CanTransitionTo(ShipmentException))
	})

	t.Run("Delay can clear back to in transit", func(t *testing.T) {
		assert.True(t, ShipmentDelayed.CanTransitionTo(ShipmentInTransit))
		assert.True(t, ShipmentDelayed.CanTransitionTo(ShipmentException))
	})

	t.Run("No skipping pending straight to delivered", func(t *testing.T) {
		assert.False(t, ShipmentPending.CanTransitionTo(ShipmentDelivered))
		assert.False(t, ShipmentPending.CanTransitionTo(ShipmentDelayed))
	})

	t.Run("Delivered and exception are absorbing", func(t *testing.T) {
		for _, next := range []ShipmentStatus{ShipmentPending, ShipmentInTransit, ShipmentDelayed, ShipmentDelivered, ShipmentException} {
			assert.False(t, ShipmentDelivered.CanTransitionTo(next), "delivered -> %s", next)
			assert.False(t, ShipmentException.CanTransitionTo(next), "exception -> %s", next)
		}
		assert.True(t, ShipmentDelivered.Terminal())
		assert.True(t, ShipmentException.Terminal())
		assert.False(t, ShipmentInTransit.Terminal())
	})

	t.Run("Same status refresh allowed outside terminal", func(t *testing.T) {
		assert.True(t, ShipmentInTransit.CanTransitionTo(ShipmentInTransit))
		assert.False(t, ShipmentDelivered.CanTransitionTo(ShipmentDelivered))
	})
}

func TestShipmentLiveStateClone(t *testing.T) {
	now := time.Now()
	state := &ShipmentLiveState{
		ID:     "SHP-1001",
		Status: ShipmentInTransit,
		Events: []ShipmentEvent{{ID: "ev-1", ShipmentID: "SHP-1001", Status: ShipmentInTransit, OccurredAt: now}},
	}

	clone := state.Clone()
	clone.Status = ShipmentDelivered
	clone.Events[0].Status = ShipmentDelivered
	clone.Events = append(clone.Events, ShipmentEvent{ID: "ev-2"})

	assert.Equal(t, ShipmentInTransit, state.Status)
	assert.Equal(t, ShipmentInTransit, state.Events[0].Status)
	assert.Len(t, state.Events, 1)

	var nilState *ShipmentLiveState
	assert.Nil(t, nilState.Clone())
}

func TestParseAction(t *testing.T) {
	for _, valid := range []string{"create", "read", "update", "delete", "manage", " Read ", "MANAGE"} {
		a, ok := ParseAction(valid)
		assert.True(t, ok, valid)
		assert.NotEmpty(t, a)
	}
	for _, invalid := range []string{"", "write", "admin", "readd"} {
		_, ok := ParseAction(invalid)
		assert.False(t, ok, invalid)
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("Administrator")
	assert.True(t, ok)
	assert.Equal(t, RoleAdministrator, r)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)
}

func TestPermissionAllows(t *testing.T) {
	p := Permission{Resource: "shipments", Actions: []Action{ActionCreate, ActionRead}}
	assert.True(t, p.Allows("shipments", ActionCreate))
	assert.False(t, p.Allows("shipments", ActionDelete))
	assert.False(t, p.Allows("payments", ActionRead))

	wild := Permission{Resource: WildcardResource}
	assert.True(t, wild.Allows("anything", ActionManage))
}
