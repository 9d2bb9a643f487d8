package feed

import (
	"context"
	"errors"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

// ErrSourceUnavailable marks a transport-level fault. The session reacts by
// entering the reconnect path; any other poll error is treated as a
// malformed tick, logged, and skipped without touching connection state.
var ErrSourceUnavailable = errors.New("feed: source unavailable")

// Source is the upstream seam the session polls. In production this is a
// message channel (the Redis pub/sub source); in development and tests it
// is the simulator. Implementations must be safe for use from a single
// session goroutine at a time.
type Source interface {
	// Handshake establishes (or re-establishes) the upstream connection.
	// The session bounds ctx with its handshake timeout.
	Handshake(ctx context.Context) error

	// Ping is the heartbeat probe; an error means the transport is down.
	Ping(ctx context.Context) error

	// PollMetrics returns the latest snapshot, or nil when nothing new
	// was published since the last poll.
	PollMetrics(ctx context.Context) (*models.LiveMetricsSnapshot, error)

	// PollNotifications drains pending notifications in generation order.
	PollNotifications(ctx context.Context) ([]models.Notification, error)

	// PollShipmentEvents drains pending tracking events in generation order.
	PollShipmentEvents(ctx context.Context) ([]models.ShipmentEvent, error)

	// SeedShipments returns initial shipment states (carrier metadata the
	// event stream does not carry). Called once per successful handshake.
	SeedShipments(ctx context.Context) ([]models.ShipmentLiveState, error)
}
