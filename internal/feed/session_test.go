package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newton-b/raphtrack-core/internal/auth"
	"github.com/Newton-b/raphtrack-core/internal/models"
)

// stubSource is a hand-scripted Source for session tests.
type stubSource struct {
	mu             sync.Mutex
	handshakeFails int
	handshakeHangs int
	handshakes     int
	pingErr        error
	metricsErr     error
	metricsQueue   []*models.LiveMetricsSnapshot
	notifQueue     [][]models.Notification
	shipmentQueue  [][]models.ShipmentEvent
	seeds          []models.ShipmentLiveState
}

func (s *stubSource) Handshake(ctx context.Context) error {
	s.mu.Lock()
	s.handshakes++
	if s.handshakeHangs > 0 {
		s.handshakeHangs--
		s.mu.Unlock()
		// A stalled upstream: honor ctx like a real dial would.
		<-ctx.Done()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
	}
	if s.handshakeFails > 0 {
		s.handshakeFails--
		s.mu.Unlock()
		return fmt.Errorf("%w: scripted failure", ErrSourceUnavailable)
	}
	s.pingErr = nil
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *stubSource) PollMetrics(ctx context.Context) (*models.LiveMetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsErr != nil {
		return nil, s.metricsErr
	}
	if len(s.metricsQueue) == 0 {
		return nil, nil
	}
	out := s.metricsQueue[0]
	s.metricsQueue = s.metricsQueue[1:]
	return out, nil
}

func (s *stubSource) PollNotifications(ctx context.Context) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.notifQueue) == 0 {
		return nil, nil
	}
	out := s.notifQueue[0]
	s.notifQueue = s.notifQueue[1:]
	return out, nil
}

func (s *stubSource) PollShipmentEvents(ctx context.Context) ([]models.ShipmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shipmentQueue) == 0 {
		return nil, nil
	}
	out := s.shipmentQueue[0]
	s.shipmentQueue = s.shipmentQueue[1:]
	return out, nil
}

func (s *stubSource) SeedShipments(ctx context.Context) ([]models.ShipmentLiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeds, nil
}

func (s *stubSource) handshakeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

func (s *stubSource) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *stubSource) pushNotifications(batch ...models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifQueue = append(s.notifQueue, batch)
}

func (s *stubSource) pushShipmentEvents(batch ...models.ShipmentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipmentQueue = append(s.shipmentQueue, batch)
}

func (s *stubSource) pushMetrics(snap *models.LiveMetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsQueue = append(s.metricsQueue, snap)
}

func testConfig() Config {
	return Config{
		HeartbeatInterval:    5 * time.Millisecond,
		MetricsInterval:      5 * time.Millisecond,
		NotificationInterval: 5 * time.Millisecond,
		ShipmentInterval:     5 * time.Millisecond,
		HandshakeTimeout:     200 * time.Millisecond,
		RingCapacity:         50,
		Backoff:              Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond, Factor: 2, MaxAttempts: 3},
	}
}

func newTestSession(t *testing.T, source Source, tokens TokenValidator) *Session {
	t.Helper()
	s := NewSession(testConfig(), source, tokens, log.New(testWriter{t}, "", 0))
	t.Cleanup(s.Close)
	return s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// eventRecorder collects delivered events in arrival order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler() Handler {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSessionConnectLifecycle(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	states := &eventRecorder{}
	session.Subscribe(KindConnectionState, states.handler())

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, "usr-alice", session.PrincipalID())

	seen := states.snapshot()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, StateConnecting, seen[0].State)
	assert.Equal(t, StateConnected, seen[1].State)

	_, err = session.Connect(context.Background(), "usr-alice", "")
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	session.Disconnect()
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSessionConnectFailsClosedOnBadToken(t *testing.T) {
	source := &stubSource{}
	tokens := auth.NewJWTManager("secret", "test", time.Hour)
	session := newTestSession(t, source, tokens)

	t.Run("Garbage token", func(t *testing.T) {
		ok, err := session.Connect(context.Background(), "usr-alice", "garbage")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, StateDisconnected, session.State())
		assert.Zero(t, source.handshakeCount(), "no handshake without valid credentials")
	})

	t.Run("Token for a different principal", func(t *testing.T) {
		token, err := tokens.GenerateToken("usr-bob", "bob", "driver")
		require.NoError(t, err)
		ok, err := session.Connect(context.Background(), "usr-alice", token)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, source.handshakeCount())
	})

	t.Run("Valid token connects", func(t *testing.T) {
		token, err := tokens.GenerateToken("usr-alice", "alice", "shipper")
		require.NoError(t, err)
		ok, err := session.Connect(context.Background(), "usr-alice", token)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSessionNotificationDeliveryOrder(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	received := &eventRecorder{}
	session.Subscribe(KindNotification, received.handler())

	base := time.Now()
	source.pushNotifications(
		models.Notification{ID: "n-1", Type: models.NotificationShipmentUpdate, CreatedAt: base},
		models.Notification{ID: "n-2", Type: models.NotificationShipmentUpdate, CreatedAt: base.Add(time.Second)},
		models.Notification{ID: "n-3", Type: models.NotificationShipmentUpdate, CreatedAt: base.Add(2 * time.Second)},
	)

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return received.count() >= 3 }, time.Second, time.Millisecond)

	events := received.snapshot()
	assert.Equal(t, "n-1", events[0].Notification.ID)
	assert.Equal(t, "n-2", events[1].Notification.ID)
	assert.Equal(t, "n-3", events[2].Notification.ID)

	// Reads come back newest-first.
	notifications := session.Notifications()
	require.Len(t, notifications, 3)
	assert.Equal(t, "n-3", notifications[0].ID)
	assert.Equal(t, "n-1", notifications[2].ID)
}

func TestSessionMalformedNotificationSkipped(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	received := &eventRecorder{}
	session.Subscribe(KindNotification, received.handler())

	source.pushNotifications(
		models.Notification{ID: "", CreatedAt: time.Now()}, // malformed: no id
		models.Notification{ID: "n-good", CreatedAt: time.Now()},
	)

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return received.count() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "n-good", received.snapshot()[0].Notification.ID)
	assert.Equal(t, StateConnected, session.State(), "malformed payload must not drop the connection")
}

func TestSessionMarkNotificationRead(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	updated := &eventRecorder{}
	session.Subscribe(KindNotificationUpdated, updated.handler())

	source.pushNotifications(models.Notification{ID: "n-1", CreatedAt: time.Now()})
	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(session.Notifications()) == 1 }, time.Second, time.Millisecond)

	assert.True(t, session.MarkNotificationRead("n-1"))
	assert.False(t, session.MarkNotificationRead("n-1"), "second mark is a no-op")
	assert.False(t, session.MarkNotificationRead("n-missing"))

	// Exactly one emission for the one real transition.
	require.Eventually(t, func() bool { return updated.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, updated.count())
	assert.True(t, session.Notifications()[0].Read)
}

func TestSessionMetricsSnapshotReplaced(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	metrics := &eventRecorder{}
	session.Subscribe(KindMetrics, metrics.handler())

	first := &models.LiveMetricsSnapshot{ActiveShipments: 10, GeneratedAt: time.Now()}
	second := &models.LiveMetricsSnapshot{ActiveShipments: 12, GeneratedAt: time.Now().Add(time.Second)}
	source.pushMetrics(first)
	source.pushMetrics(second)

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return metrics.count() >= 2 }, time.Second, time.Millisecond)
	snap := session.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 12, snap.ActiveShipments, "each publish fully replaces the snapshot")
}

func TestSessionMetricsEventIsACopy(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	// A handler scribbling on its event must not reach the retained
	// snapshot.
	session.Subscribe(KindMetrics, func(ev Event) {
		ev.Metrics.ActiveShipments = -1
	})

	source.pushMetrics(&models.LiveMetricsSnapshot{ActiveShipments: 7, GeneratedAt: time.Now()})
	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return session.Snapshot() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, 7, session.Snapshot().ActiveShipments)
}

func TestSessionShipmentFlow(t *testing.T) {
	source := &stubSource{
		seeds: []models.ShipmentLiveState{{ID: "SHP-1", Status: models.ShipmentPending, Carrier: "Maersk"}},
	}
	session := newTestSession(t, source, nil)

	updates := &eventRecorder{}
	session.Subscribe(KindShipmentUpdate, updates.handler())

	base := time.Now()
	source.pushShipmentEvents(
		models.ShipmentEvent{ID: "ev-1", ShipmentID: "SHP-1", Status: models.ShipmentInTransit, OccurredAt: base},
		models.ShipmentEvent{ID: "ev-2", ShipmentID: "SHP-1", Status: models.ShipmentDelivered, OccurredAt: base.Add(time.Second)},
		// Terminal: must be rejected, not applied.
		models.ShipmentEvent{ID: "ev-3", ShipmentID: "SHP-1", Status: models.ShipmentInTransit, OccurredAt: base.Add(2 * time.Second)},
	)

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return updates.count() >= 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, updates.count(), "event against delivered shipment must not emit")

	state, found := session.ShipmentState("SHP-1")
	require.True(t, found)
	assert.Equal(t, models.ShipmentDelivered, state.Status)
	assert.Equal(t, "Maersk", state.Carrier, "seed metadata preserved")
	assert.Len(t, state.Events, 2)
}

func TestSessionDisconnectSilencesInFlightTicks(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	var mu sync.Mutex
	disconnected := false
	session.Subscribe(KindMetrics, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if disconnected {
			t.Error("metrics event delivered after Disconnect returned")
		}
	})

	for i := 0; i < 100; i++ {
		source.pushMetrics(&models.LiveMetricsSnapshot{ActiveShipments: i, GeneratedAt: time.Now()})
	}

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(15 * time.Millisecond) // let some ticks flow
	session.Disconnect()
	mu.Lock()
	disconnected = true
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSessionReconnectBackoffExhaustion(t *testing.T) {
	source := &stubSource{handshakeFails: 100}
	session := newTestSession(t, source, nil)

	states := &eventRecorder{}
	session.Subscribe(KindConnectionState, states.handler())

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	assert.False(t, ok, "initial handshake fails")

	require.Eventually(t, func() bool { return session.State() == StateFailed }, time.Second, time.Millisecond)

	// 1 initial + MaxAttempts reconnect handshakes, then nothing more.
	attempts := source.handshakeCount()
	assert.Equal(t, 1+testConfig().Backoff.MaxAttempts, attempts)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, attempts, source.handshakeCount(), "failed session must stop retrying on its own")

	var sawReconnecting, sawFailed bool
	for _, ev := range states.snapshot() {
		switch ev.State {
		case StateReconnecting:
			sawReconnecting = true
		case StateFailed:
			sawFailed = true
		}
	}
	assert.True(t, sawReconnecting)
	assert.True(t, sawFailed)

	t.Run("Explicit connect resets the attempt budget", func(t *testing.T) {
		source.mu.Lock()
		source.handshakeFails = 0
		source.mu.Unlock()

		ok, err := session.Connect(context.Background(), "usr-alice", "")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, StateConnected, session.State())
	})
}

func TestSessionHandshakeTimeout(t *testing.T) {
	source := &stubSource{handshakeHangs: 1}
	session := newTestSession(t, source, nil)

	states := &eventRecorder{}
	session.Subscribe(KindConnectionState, states.handler())

	start := time.Now()
	ok, err := session.Connect(context.Background(), "usr-alice", "")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.False(t, ok, "a stalled handshake must not connect")
	assert.Less(t, elapsed, 3*testConfig().HandshakeTimeout,
		"Connect must return within the handshake bound, not hang")

	// The timed-out attempt counts as a transport failure: the session
	// goes Reconnecting and the next (healthy) handshake heals it.
	require.Eventually(t, func() bool { return session.State() == StateConnected },
		time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, source.handshakeCount(), 2)

	var sawReconnecting bool
	for _, ev := range states.snapshot() {
		if ev.State == StateReconnecting {
			sawReconnecting = true
		}
	}
	assert.True(t, sawReconnecting)
}

func TestSessionTransportDropTriggersReconnect(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	source.setPingErr(fmt.Errorf("%w: link down", ErrSourceUnavailable))
	// Handshake clears pingErr, so the first reconnect attempt heals it.
	require.Eventually(t, func() bool { return session.State() == StateConnected && source.handshakeCount() >= 2 },
		time.Second, time.Millisecond)
}

func TestSessionTickFailureIsolation(t *testing.T) {
	source := &stubSource{metricsErr: errors.New("scrambled payload")}
	session := newTestSession(t, source, nil)

	received := &eventRecorder{}
	session.Subscribe(KindNotification, received.handler())
	source.pushNotifications(models.Notification{ID: "n-1", CreatedAt: time.Now()})

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	// The broken metrics producer must not stop notifications or drop the
	// connection.
	require.Eventually(t, func() bool { return received.count() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateConnected, session.State())
}

func TestSessionSubscriberOrder(t *testing.T) {
	source := &stubSource{}
	session := newTestSession(t, source, nil)

	var mu sync.Mutex
	var order []string
	appendHandler := func(name string) Handler {
		return func(Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	first := session.Subscribe(KindNotification, appendHandler("first"))
	session.Subscribe(KindNotification, appendHandler("second"))
	session.Subscribe(KindNotification, appendHandler("third"))

	source.pushNotifications(models.Notification{ID: "n-1", CreatedAt: time.Now()})
	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
	order = nil
	mu.Unlock()

	session.Unsubscribe(first)
	source.pushNotifications(models.Notification{ID: "n-2", CreatedAt: time.Now()})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"second", "third"}, order)
	mu.Unlock()
}

func TestSessionRequiresPrincipal(t *testing.T) {
	session := newTestSession(t, &stubSource{}, nil)
	_, err := session.Connect(context.Background(), "", "")
	assert.Error(t, err)
}

func TestSessionCloseStopsEverything(t *testing.T) {
	source := &stubSource{}
	session := NewSession(testConfig(), source, nil, log.New(testWriter{t}, "", 0))

	ok, err := session.Connect(context.Background(), "usr-alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	session.Close()
	_, err = session.Connect(context.Background(), "usr-alice", "")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, session.MarkNotificationRead("n-1"))
}
