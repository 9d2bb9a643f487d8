package feed

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

func newTestSim(t *testing.T) *SimSource {
	t.Helper()
	s := NewSimSource(42, log.New(io.Discard, "", 0))
	t.Cleanup(s.Stop)
	return s
}

func TestSimSourceSeeds(t *testing.T) {
	sim := newTestSim(t)

	seeds, err := sim.SeedShipments(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 4)
	for _, seed := range seeds {
		assert.Equal(t, models.ShipmentPending, seed.Status)
		assert.NotEmpty(t, seed.Carrier)
		assert.NotEmpty(t, seed.TrackingNumber)
	}
}

func TestSimSourceScenarioEventsApplyCleanly(t *testing.T) {
	sim := newTestSim(t)

	tracker := newShipmentTracker()
	seeds, err := sim.SeedShipments(context.Background())
	require.NoError(t, err)
	for _, seed := range seeds {
		tracker.Seed(seed)
	}

	// Drive the scenario directly instead of waiting on the scheduler.
	// Every generated event must pass the status machine.
	for i := 0; i < 50; i++ {
		sim.advanceShipments()
	}
	events, err := sim.PollShipmentEvents(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, ev := range events {
		_, err := tracker.Apply(ev)
		require.NoError(t, err, "scenario produced an invalid transition: %+v", ev)
	}

	// A second poll finds the queue drained.
	events, err = sim.PollShipmentEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSimSourceFailureInjection(t *testing.T) {
	sim := newTestSim(t)
	ctx := context.Background()

	sim.FailHandshakes(2)
	assert.ErrorIs(t, sim.Handshake(ctx), ErrSourceUnavailable)
	assert.ErrorIs(t, sim.Handshake(ctx), ErrSourceUnavailable)
	require.NoError(t, sim.Handshake(ctx))

	sim.DropTransport()
	err := sim.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	// A fresh handshake restores the transport.
	require.NoError(t, sim.Handshake(ctx))
	assert.NoError(t, sim.Ping(ctx))
}

func TestSimSourceMetricsTrackShipments(t *testing.T) {
	sim := newTestSim(t)

	snap, err := sim.PollMetrics(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 4, snap.ActiveShipments)
	assert.Zero(t, snap.DeliveredToday)

	// Run every shipment to its terminal status.
	for i := 0; i < 200; i++ {
		sim.advanceShipments()
	}
	snap, err = sim.PollMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.ActiveShipments)
	assert.Equal(t, 4, snap.DeliveredToday)
	assert.Greater(t, snap.RevenueToday, 0.0)
}
