package feed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

// SimSource is the development stand-in for the platform's real event
// stream: scripted shipments progressing through their lifecycle, periodic
// synthetic notifications, and jittered metrics. Scenario steps run on a
// cron schedule; polls drain what the scenarios produced. Failure injection
// hooks let tests drive the session's reconnect path.
type SimSource struct {
	logger *log.Logger
	cron   *cron.Cron
	rng    *rand.Rand

	startOnce sync.Once
	stopOnce  sync.Once

	mu             sync.Mutex
	notifications  []models.Notification
	shipmentQueue  []models.ShipmentEvent
	shipments      []*simShipment
	deliveredToday int
	revenueToday   float64
	failHandshakes int
	transportDown  bool
}

type simShipment struct {
	state models.ShipmentLiveState
	route []models.ShipmentStatus // remaining scripted statuses
	stops []string
}

func NewSimSource(seed int64, logger *log.Logger) *SimSource {
	if logger == nil {
		logger = log.Default()
	}
	s := &SimSource{
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
		rng:    rand.New(rand.NewSource(seed)),
	}
	s.seedShipments()

	// Scenario cadence: shipments move every 5s, a notification shows up
	// every 7s, daily counters roll over at midnight.
	mustSchedule(s.cron, "*/5 * * * * *", s.advanceShipments)
	mustSchedule(s.cron, "*/7 * * * * *", s.emitNotification)
	mustSchedule(s.cron, "0 0 0 * * *", s.resetDailyCounters)
	return s
}

func mustSchedule(c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		panic(fmt.Sprintf("feed: bad sim schedule %q: %v", spec, err))
	}
}

func (s *SimSource) seedShipments() {
	routes := []struct {
		id, carrier, tracking, origin string
		stops                         []string
	}{
		{"SHP-1001", "Maersk Line", "MAEU2041557", "Lagos, NG", []string{"Lagos Port", "Tema Transshipment", "Rotterdam Gateway", "Hamburg Terminal"}},
		{"SHP-1002", "DHL Global Forwarding", "DHL8837261", "Accra, GH", []string{"Accra Hub", "Frankfurt Hub", "East Midlands", "London Depot"}},
		{"SHP-1003", "MSC", "MSCU7719024", "Durban, ZA", []string{"Durban Port", "Suez Transit", "Valencia Hub", "Antwerp Terminal"}},
		{"SHP-1004", "Kuehne+Nagel", "KN55102983", "Nairobi, KE", []string{"Nairobi Depot", "Mombasa Port", "Jebel Ali", "Singapore Hub"}},
	}
	now := time.Now()
	for _, r := range routes {
		s.shipments = append(s.shipments, &simShipment{
			state: models.ShipmentLiveState{
				ID:             r.id,
				Status:         models.ShipmentPending,
				Location:       r.origin,
				Carrier:        r.carrier,
				TrackingNumber: r.tracking,
				UpdatedAt:      now,
			},
			route: []models.ShipmentStatus{
				models.ShipmentInTransit,
				models.ShipmentInTransit,
				models.ShipmentInTransit,
				models.ShipmentDelivered,
			},
			stops: r.stops,
		})
	}
}

// advanceShipments moves one random in-flight shipment along its scripted
// route, occasionally injecting a delay that later clears.
func (s *SimSource) advanceShipments() {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*simShipment, 0, len(s.shipments))
	for _, sh := range s.shipments {
		if len(sh.route) > 0 {
			candidates = append(candidates, sh)
		}
	}
	if len(candidates) == 0 {
		return
	}
	sh := candidates[s.rng.Intn(len(candidates))]

	next := sh.route[0]
	if next == models.ShipmentInTransit && sh.state.Status == models.ShipmentInTransit && s.rng.Float64() < 0.15 {
		// Detour: delay now, clear on the following step.
		next = models.ShipmentDelayed
	} else {
		sh.route = sh.route[1:]
	}

	location := sh.state.Location
	if len(sh.stops) > 0 && next == models.ShipmentInTransit {
		location = sh.stops[0]
		sh.stops = sh.stops[1:]
	}

	ev := models.ShipmentEvent{
		ID:          uuid.NewString(),
		ShipmentID:  sh.state.ID,
		Status:      next,
		Location:    location,
		Description: describeTransition(sh.state.Status, next),
		OccurredAt:  time.Now(),
	}
	sh.state.Status = next
	sh.state.Location = location
	sh.state.UpdatedAt = ev.OccurredAt
	s.shipmentQueue = appendBounded(s.shipmentQueue, ev)

	if next == models.ShipmentDelivered {
		s.deliveredToday++
		s.revenueToday += 1200 + s.rng.Float64()*3800
		s.notifications = appendBounded(s.notifications, models.Notification{
			ID:        uuid.NewString(),
			Type:      models.NotificationDeliveryConfirmation,
			Title:     "Delivery confirmed",
			Message:   fmt.Sprintf("Shipment %s delivered at %s", sh.state.ID, location),
			Priority:  models.PriorityMedium,
			CreatedAt: ev.OccurredAt,
		})
	}
}

func describeTransition(from, to models.ShipmentStatus) string {
	switch to {
	case models.ShipmentInTransit:
		if from == models.ShipmentDelayed {
			return "Delay cleared, back in transit"
		}
		return "Departed facility"
	case models.ShipmentDelayed:
		return "Held at customs inspection"
	case models.ShipmentDelivered:
		return "Delivered and signed for"
	case models.ShipmentException:
		return "Carrier reported an exception"
	}
	return ""
}

var simNotificationPool = []struct {
	typ      models.NotificationType
	priority models.NotificationPriority
	title    string
	message  string
}{
	{models.NotificationShipmentUpdate, models.PriorityLow, "Shipment update", "Carrier ETA refreshed"},
	{models.NotificationPaymentReceived, models.PriorityMedium, "Payment received", "Invoice settled by consignee"},
	{models.NotificationSystemAlert, models.PriorityHigh, "Capacity alert", "Port congestion affecting transit times"},
	{models.NotificationRouteChange, models.PriorityMedium, "Route change", "Shipment rerouted around weather system"},
}

func (s *SimSource) emitNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	pick := simNotificationPool[s.rng.Intn(len(simNotificationPool))]
	s.notifications = appendBounded(s.notifications, models.Notification{
		ID:        uuid.NewString(),
		Type:      pick.typ,
		Title:     pick.title,
		Message:   pick.message,
		Priority:  pick.priority,
		CreatedAt: time.Now(),
	})
}

func (s *SimSource) resetDailyCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveredToday = 0
	s.revenueToday = 0
}

// FailHandshakes makes the next n handshakes fail with a transport error.
func (s *SimSource) FailHandshakes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHandshakes = n
}

// DropTransport makes Ping fail until the next successful Handshake,
// simulating a connection drop.
func (s *SimSource) DropTransport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportDown = true
}

func (s *SimSource) Handshake(ctx context.Context) error {
	s.mu.Lock()
	if s.failHandshakes > 0 {
		s.failHandshakes--
		s.mu.Unlock()
		return fmt.Errorf("%w: simulated handshake failure", ErrSourceUnavailable)
	}
	s.transportDown = false
	s.mu.Unlock()

	s.startOnce.Do(s.cron.Start)
	return nil
}

func (s *SimSource) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transportDown {
		return fmt.Errorf("%w: simulated transport drop", ErrSourceUnavailable)
	}
	return nil
}

func (s *SimSource) PollMetrics(ctx context.Context) (*models.LiveMetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, sh := range s.shipments {
		if !sh.state.Status.Terminal() {
			active++
		}
	}
	jitter := func(base, spread float64) float64 { return base + (s.rng.Float64()-0.5)*spread }
	return &models.LiveMetricsSnapshot{
		ActiveShipments:   active,
		DeliveredToday:    s.deliveredToday,
		PendingPayments:   2 + s.rng.Intn(5),
		SystemHealth:      jitter(99.2, 1.2),
		AvgDeliveryHours:  jitter(52, 6),
		SatisfactionScore: jitter(4.6, 0.3),
		RevenueToday:      s.revenueToday,
		GeneratedAt:       time.Now(),
	}, nil
}

func (s *SimSource) PollNotifications(ctx context.Context) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notifications
	s.notifications = nil
	return out, nil
}

func (s *SimSource) PollShipmentEvents(ctx context.Context) ([]models.ShipmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.shipmentQueue
	s.shipmentQueue = nil
	return out, nil
}

func (s *SimSource) SeedShipments(ctx context.Context) ([]models.ShipmentLiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ShipmentLiveState, 0, len(s.shipments))
	for _, sh := range s.shipments {
		out = append(out, *sh.state.Clone())
	}
	return out, nil
}

// Stop halts the scenario scheduler.
func (s *SimSource) Stop() {
	s.stopOnce.Do(func() { s.cron.Stop() })
}
