package feed

import "github.com/Newton-b/raphtrack-core/internal/models"

// DefaultRingCapacity bounds the notification history kept per session.
const DefaultRingCapacity = 50

// notificationRing keeps the most recent notifications newest-first.
// Inserting at capacity evicts the oldest entry. Not safe for concurrent
// use; the owning session serializes access.
type notificationRing struct {
	capacity int
	items    []models.Notification
	evicted  uint64
}

func newNotificationRing(capacity int) *notificationRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &notificationRing{
		capacity: capacity,
		items:    make([]models.Notification, 0, capacity),
	}
}

// Insert prepends n, dropping the oldest entry when full.
func (r *notificationRing) Insert(n models.Notification) {
	if len(r.items) == r.capacity {
		r.items = r.items[:r.capacity-1]
		r.evicted++
	}
	r.items = append([]models.Notification{n}, r.items...)
}

// All returns a newest-first copy.
func (r *notificationRing) All() []models.Notification {
	out := make([]models.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// MarkRead flips the read flag for id. Returns the updated entry and
// whether anything actually changed; already-read or unknown ids are
// no-ops.
func (r *notificationRing) MarkRead(id string) (models.Notification, bool) {
	for i := range r.items {
		if r.items[i].ID == id {
			if r.items[i].Read {
				return r.items[i], false
			}
			r.items[i].Read = true
			return r.items[i], true
		}
	}
	return models.Notification{}, false
}

func (r *notificationRing) Len() int { return len(r.items) }

// Evicted counts entries dropped on overflow since creation.
func (r *notificationRing) Evicted() uint64 { return r.evicted }
