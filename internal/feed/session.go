package feed

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Newton-b/raphtrack-core/internal/auth"
	"github.com/Newton-b/raphtrack-core/internal/models"
)

var (
	ErrSessionClosed    = errors.New("feed: session closed")
	ErrAlreadyConnected = errors.New("feed: session already connecting or connected")
)

// TokenValidator is the credential check performed before any handshake.
// A validation error always fails closed.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Config tunes one session. Zero values fall back to defaults.
type Config struct {
	HeartbeatInterval    time.Duration
	MetricsInterval      time.Duration
	NotificationInterval time.Duration
	ShipmentInterval     time.Duration
	HandshakeTimeout     time.Duration
	RingCapacity         int
	Backoff              Backoff
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 5 * time.Second
	}
	if c.NotificationInterval <= 0 {
		c.NotificationInterval = 8 * time.Second
	}
	if c.ShipmentInterval <= 0 {
		c.ShipmentInterval = 6 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

type subscriber struct {
	id uint64
	fn Handler
}

// Session is one live feed connection for a principal. All producer ticks
// and handler deliveries run on a single loop goroutine draining a task
// queue, so events of one kind arrive in generation order and ticks never
// run concurrently with each other.
type Session struct {
	cfg    Config
	source Source
	tokens TokenValidator
	logger *log.Logger

	tasks     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	mu          sync.RWMutex
	state       ConnState
	principalID string
	gen         uint64 // bumped by every Connect/Disconnect; stale work is discarded
	attempt     int
	cancelConn  context.CancelFunc
	subs        map[EventKind][]subscriber
	nextSubID   uint64
	ring        *notificationRing
	snapshot    *models.LiveMetricsSnapshot
	shipments   *shipmentTracker
}

// NewSession builds a disconnected session and starts its event loop.
// tokens may be nil to skip credential checks (tests, resident server
// session). Callers must Close the session when done with it.
func NewSession(cfg Config, source Source, tokens TokenValidator, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		source:    source,
		tokens:    tokens,
		logger:    logger,
		tasks:     make(chan func(), 64),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		state:     StateDisconnected,
		subs:      make(map[EventKind][]subscriber),
		ring:      newNotificationRing(cfg.RingCapacity),
		shipments: newShipmentTracker(),
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do schedules fn onto the event loop. Returns false once the session is
// closed.
func (s *Session) do(fn func()) bool {
	select {
	case s.tasks <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// doWait schedules fn and blocks until the loop has executed it.
func (s *Session) doWait(fn func()) bool {
	done := make(chan struct{})
	if !s.do(func() { defer close(done); fn() }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.loopDone:
		return false
	}
}

// Connect validates the token, performs a time-bounded handshake, and on
// success starts the periodic producers. It suspends the caller until the
// first handshake resolves. A transport failure switches the session to
// Reconnecting (returning false, nil); a credential failure denies outright
// without retrying, since no amount of retrying heals a bad token.
func (s *Session) Connect(ctx context.Context, principalID, token string) (bool, error) {
	if principalID == "" {
		return false, errors.New("feed: principal id required")
	}
	if s.tokens != nil {
		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Printf("feed: connect denied for %s: %v", principalID, err)
			return false, nil
		}
		if claims.PrincipalID != "" && claims.PrincipalID != principalID {
			s.logger.Printf("feed: connect denied: token subject %s does not match %s", claims.PrincipalID, principalID)
			return false, nil
		}
	}

	var gen uint64
	var begin bool
	ok := s.doWait(func() {
		s.mu.Lock()
		if s.state == StateDisconnected || s.state == StateFailed {
			s.gen++
			gen = s.gen
			s.attempt = 0
			s.principalID = principalID
			s.state = StateConnecting
			begin = true
		}
		s.mu.Unlock()
		if begin {
			s.deliver(Event{Kind: KindConnectionState, State: StateConnecting, At: time.Now()})
		}
	})
	if !ok {
		return false, ErrSessionClosed
	}
	if !begin {
		return false, ErrAlreadyConnected
	}

	seeds, err := s.handshake(ctx)
	if err != nil {
		s.logger.Printf("feed: handshake failed for %s: %v", principalID, err)
		s.enterReconnect(gen)
		return false, nil
	}
	if !s.becomeConnected(gen, seeds) {
		return false, nil
	}
	return true, nil
}

// handshake runs the source handshake plus initial shipment seeding under
// the configured timeout.
func (s *Session) handshake(ctx context.Context) ([]models.ShipmentLiveState, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := s.source.Handshake(hctx); err != nil {
		return nil, err
	}
	seeds, err := s.source.SeedShipments(hctx)
	if err != nil {
		return nil, err
	}
	return seeds, nil
}

// becomeConnected flips the session to Connected and starts producers,
// unless the connection attempt has been superseded. Reports whether the
// transition happened.
func (s *Session) becomeConnected(gen uint64, seeds []models.ShipmentLiveState) bool {
	var connected bool
	s.doWait(func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.attempt = 0
		for _, seed := range seeds {
			s.shipments.Seed(seed)
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelConn = cancel
		s.mu.Unlock()

		connected = true
		sessionsActive.Inc()
		s.deliver(Event{Kind: KindConnectionState, State: StateConnected, At: time.Now()})

		go s.runProducer(ctx, gen, "heartbeat", s.cfg.HeartbeatInterval, s.heartbeatTick)
		go s.runProducer(ctx, gen, "metrics", s.cfg.MetricsInterval, s.metricsTick)
		go s.runProducer(ctx, gen, "notifications", s.cfg.NotificationInterval, s.notificationsTick)
		go s.runProducer(ctx, gen, "shipments", s.cfg.ShipmentInterval, s.shipmentsTick)
	})
	return connected
}

// Disconnect tears the connection down: cancel-then-silence. Producers are
// cancelled and the generation is bumped before return, so a tick already
// queued behind this call is discarded rather than delivered.
func (s *Session) Disconnect() {
	s.doWait(func() {
		s.mu.Lock()
		if s.state == StateDisconnected {
			s.mu.Unlock()
			return
		}
		s.gen++
		wasConnected := s.state == StateConnected
		if s.cancelConn != nil {
			s.cancelConn()
			s.cancelConn = nil
		}
		s.state = StateDisconnected
		s.mu.Unlock()

		if wasConnected {
			sessionsActive.Dec()
		}
		s.deliver(Event{Kind: KindConnectionState, State: StateDisconnected, At: time.Now()})
	})
}

// Close disconnects and stops the event loop. The session is unusable
// afterwards.
func (s *Session) Close() {
	s.Disconnect()
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.loopDone
}

// Subscribe registers a handler for one event kind. Handlers for the same
// kind fire in registration order.
func (s *Session) Subscribe(kind EventKind, fn Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	sub := Subscription{kind: kind, id: s.nextSubID}
	s.subs[kind] = append(s.subs[kind], subscriber{id: sub.id, fn: fn})
	return sub
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are no-ops.
func (s *Session) Unsubscribe(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[sub.kind]
	for i, entry := range list {
		if entry.id == sub.id {
			s.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// MarkNotificationRead flips a notification's read flag. Idempotent: an
// unknown or already-read id changes nothing and emits nothing; a real
// transition emits exactly one notification-updated event.
func (s *Session) MarkNotificationRead(id string) bool {
	var changed bool
	s.doWait(func() {
		s.mu.Lock()
		n, ok := s.ring.MarkRead(id)
		s.mu.Unlock()
		if !ok {
			return
		}
		changed = true
		updated := n
		s.deliver(Event{Kind: KindNotificationUpdated, Notification: &updated, At: time.Now()})
	})
	return changed
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PrincipalID returns the principal the session was last connected for.
func (s *Session) PrincipalID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principalID
}

// Snapshot returns the last published metrics snapshot, nil before the
// first metrics tick. Never touches the network.
func (s *Session) Snapshot() *models.LiveMetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	out := *s.snapshot
	return &out
}

// Notifications returns the retained notifications, newest first.
func (s *Session) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.All()
}

// ShipmentState returns a copy of one shipment's live state.
func (s *Session) ShipmentState(id string) (*models.ShipmentLiveState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shipments.Get(id)
}

// Shipments returns copies of every tracked shipment.
func (s *Session) Shipments() []*models.ShipmentLiveState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shipments.All()
}

func (s *Session) genCurrent(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen
}

// deliver invokes subscribers for ev in registration order. Runs on the
// event loop; callers must not hold s.mu.
func (s *Session) deliver(ev Event) {
	s.mu.RLock()
	list := make([]subscriber, len(s.subs[ev.Kind]))
	copy(list, s.subs[ev.Kind])
	s.mu.RUnlock()
	if len(list) == 0 {
		return
	}
	eventsDelivered.WithLabelValues(string(ev.Kind)).Inc()
	for _, entry := range list {
		entry.fn(ev)
	}
}

// runProducer drives one periodic producer. Ticks are posted onto the event
// loop so they interleave with (never overlap) other producers, and a
// stale-generation tick is discarded instead of delivered.
func (s *Session) runProducer(ctx context.Context, gen uint64, name string, every time.Duration, tick func(context.Context, uint64)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.do(func() {
				if !s.genCurrent(gen) || s.State() != StateConnected {
					return
				}
				defer func() {
					// A malformed synthetic payload must not take down the
					// loop or the other producers.
					if r := recover(); r != nil {
						ticksFailed.WithLabelValues(name).Inc()
						s.logger.Printf("feed: %s tick panic: %v", name, r)
					}
				}()
				tick(ctx, gen)
			})
		}
	}
}

func (s *Session) heartbeatTick(ctx context.Context, gen uint64) {
	if err := s.source.Ping(ctx); err != nil {
		s.logger.Printf("feed: heartbeat lost: %v", err)
		s.transportFailure(gen)
	}
}

func (s *Session) metricsTick(ctx context.Context, gen uint64) {
	snap, err := s.source.PollMetrics(ctx)
	if err != nil {
		s.tickError(gen, "metrics", err)
		return
	}
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	// Hand subscribers their own copy; the retained snapshot must stay
	// out of reach of handler mutation.
	out := *snap
	s.deliver(Event{Kind: KindMetrics, Metrics: &out, At: time.Now()})
}

func (s *Session) notificationsTick(ctx context.Context, gen uint64) {
	items, err := s.source.PollNotifications(ctx)
	if err != nil {
		s.tickError(gen, "notifications", err)
		return
	}
	for _, n := range items {
		if n.ID == "" || n.CreatedAt.IsZero() {
			ticksFailed.WithLabelValues("notifications").Inc()
			s.logger.Printf("feed: dropping malformed notification %+v", n)
			continue
		}
		s.mu.Lock()
		before := s.ring.Evicted()
		s.ring.Insert(n)
		dropped := s.ring.Evicted() - before
		s.mu.Unlock()
		if dropped > 0 {
			notificationsEvicted.Add(float64(dropped))
		}
		item := n
		s.deliver(Event{Kind: KindNotification, Notification: &item, At: time.Now()})
	}
}

func (s *Session) shipmentsTick(ctx context.Context, gen uint64) {
	events, err := s.source.PollShipmentEvents(ctx)
	if err != nil {
		s.tickError(gen, "shipments", err)
		return
	}
	for _, ev := range events {
		s.mu.Lock()
		state, err := s.shipments.Apply(ev)
		s.mu.Unlock()
		if err != nil {
			invalidTransitions.Inc()
			s.logger.Printf("feed: anomalous shipment event %s for %s: %v", ev.ID, ev.ShipmentID, err)
			continue
		}
		s.deliver(Event{Kind: KindShipmentUpdate, Shipment: state, At: time.Now()})
	}
}

// tickError routes a poll failure: transport faults start the reconnect
// path, anything else is logged and the tick skipped.
func (s *Session) tickError(gen uint64, producer string, err error) {
	if errors.Is(err, ErrSourceUnavailable) {
		s.logger.Printf("feed: %s producer lost transport: %v", producer, err)
		s.transportFailure(gen)
		return
	}
	ticksFailed.WithLabelValues(producer).Inc()
	s.logger.Printf("feed: %s tick failed: %v", producer, err)
}

// transportFailure moves a connected session to Reconnecting and starts the
// backoff loop. Runs on the event loop.
func (s *Session) transportFailure(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	if s.cancelConn != nil {
		s.cancelConn()
		s.cancelConn = nil
	}
	s.state = StateReconnecting
	s.mu.Unlock()

	sessionsActive.Dec()
	s.deliver(Event{Kind: KindConnectionState, State: StateReconnecting, At: time.Now()})
	go s.reconnectLoop(gen)
}

// enterReconnect is the initial-connect flavor of transportFailure: the
// session was Connecting, not Connected.
func (s *Session) enterReconnect(gen uint64) {
	s.doWait(func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.state = StateReconnecting
		s.mu.Unlock()
		s.deliver(Event{Kind: KindConnectionState, State: StateReconnecting, At: time.Now()})
	})
	go s.reconnectLoop(gen)
}

// reconnectLoop retries the handshake with bounded exponential backoff.
// Attempt counts reset only on a successful handshake or an explicit
// Connect call; exhaustion parks the session in Failed until the caller
// connects again.
func (s *Session) reconnectLoop(gen uint64) {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		if s.cfg.Backoff.Exhausted(attempt) {
			s.transition(gen, StateFailed)
			s.logger.Printf("feed: reconnect attempts exhausted after %d tries", attempt-1)
			return
		}

		select {
		case <-time.After(s.cfg.Backoff.Delay(attempt)):
		case <-s.quit:
			return
		}
		if !s.genCurrent(gen) {
			return
		}

		reconnectAttempts.Inc()
		s.transition(gen, StateConnecting)
		seeds, err := s.handshake(context.Background())
		if err != nil {
			s.logger.Printf("feed: reconnect attempt %d failed: %v", attempt, err)
			s.transition(gen, StateReconnecting)
			continue
		}
		s.becomeConnected(gen, seeds)
		return
	}
}

// transition applies a gen-guarded state change and emits the
// connection-state event on the loop.
func (s *Session) transition(gen uint64, state ConnState) {
	s.doWait(func() {
		s.mu.Lock()
		if s.gen != gen || s.state == state {
			s.mu.Unlock()
			return
		}
		s.state = state
		s.mu.Unlock()
		s.deliver(Event{Kind: KindConnectionState, State: state, At: time.Now()})
	})
}
