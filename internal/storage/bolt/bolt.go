package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketRoutes        = []byte("routes")
	bucketGate          = []byte("gate")
	bucketSubscriptions = []byte("subscriptions")
	bucketBookings      = []byte("bookings")
	bucketDispatchLog   = []byte("dispatch_logs")

	keyGate = []byte("reservation")
)

// Store is a BoltDB-backed Store implementation.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRoutes, bucketGate, bucketSubscriptions, bucketBookings, bucketDispatchLog} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func putJSON(bkt *bolt.Bucket, key []byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put(key, payload)
}

// CreateRoute inserts a new route keyed by its route_id.
func (s *Store) CreateRoute(ctx context.Context, route *model.Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketRoutes)
		if bkt.Get([]byte(route.RouteID)) != nil {
			return fmt.Errorf("route %s: %w", route.RouteID, storage.ErrConflict)
		}
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		route.ID = id
		if route.CreatedAt.IsZero() {
			route.CreatedAt = now
		}
		route.UpdatedAt = now
		return putJSON(bkt, []byte(route.RouteID), route)
	})
}

// GetRoute fetches a route by route_id.
func (s *Store) GetRoute(ctx context.Context, routeID string) (*model.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var route *model.Route
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		route, err = loadRoute(tx, routeID)
		return err
	})
	return route, err
}

func loadRoute(tx *bolt.Tx, routeID string) (*model.Route, error) {
	raw := tx.Bucket(bucketRoutes).Get([]byte(routeID))
	if raw == nil {
		return nil, fmt.Errorf("route %s: %w", routeID, storage.ErrNotFound)
	}
	var route model.Route
	if err := json.Unmarshal(raw, &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// ListRoutes returns all routes in creation order.
func (s *Store) ListRoutes(ctx context.Context) ([]*model.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var routes []*model.Route
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutes).ForEach(func(_, v []byte) error {
			var route model.Route
			if err := json.Unmarshal(v, &route); err != nil {
				return err
			}
			routes = append(routes, &route)
			return nil
		})
	})
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, err
}

// UpdateRoute applies fn to the stored route inside a single write transaction.
func (s *Store) UpdateRoute(ctx context.Context, routeID string, fn func(*model.Route) error) (*model.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var route *model.Route
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadRoute(tx, routeID)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		// route_id is the bucket key and cannot be changed in place
		current.RouteID = routeID
		current.UpdatedAt = time.Now().UTC()
		route = current
		return putJSON(tx.Bucket(bucketRoutes), []byte(routeID), current)
	})
	if err != nil {
		return nil, err
	}
	return route, nil
}

// DeleteRoute removes a route if guard accepts it.
func (s *Store) DeleteRoute(ctx context.Context, routeID string, guard func(*model.Route) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadRoute(tx, routeID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketRoutes).Delete([]byte(routeID))
	})
}

// GetGate returns the persisted gate, or the closed zero value before the first write.
func (s *Store) GetGate(ctx context.Context) (model.ReservationGate, error) {
	var gate model.ReservationGate
	if err := ctx.Err(); err != nil {
		return gate, err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketGate).Get(keyGate)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &gate)
	})
	return gate, err
}

// PutGate overwrites the gate record.
func (s *Store) PutGate(ctx context.Context, gate model.ReservationGate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketGate), keyGate, gate)
	})
}

// UpsertSubscription stores or replaces the channel of a subscriber.
func (s *Store) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSubscriptions)
		if raw := bkt.Get([]byte(sub.SubscriberID)); raw != nil {
			var existing model.Subscription
			if err := json.Unmarshal(raw, &existing); err == nil {
				sub.CreatedAt = existing.CreatedAt
			}
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		sub.UpdatedAt = now
		return putJSON(bkt, []byte(sub.SubscriberID), sub)
	})
}

// GetSubscription fetches the subscription of one subscriber.
func (s *Store) GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sub *model.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSubscriptions).Get([]byte(subscriberID))
		if raw == nil {
			return fmt.Errorf("subscription %s: %w", subscriberID, storage.ErrNotFound)
		}
		sub = &model.Subscription{}
		return json.Unmarshal(raw, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions returns every registered subscription.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var subs []*model.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(_, v []byte) error {
			var sub model.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			subs = append(subs, &sub)
			return nil
		})
	})
	return subs, err
}

// DeleteSubscription removes a subscriber and reports whether it existed.
func (s *Store) DeleteSubscription(ctx context.Context, subscriberID string) (bool, error) {
	return s.deleteSubscription(ctx, subscriberID, func(*model.Subscription) bool { return true })
}

// DeleteSubscriptionIf removes a subscriber only while its channel endpoint is unchanged.
func (s *Store) DeleteSubscriptionIf(ctx context.Context, subscriberID, endpoint string) (bool, error) {
	return s.deleteSubscription(ctx, subscriberID, func(sub *model.Subscription) bool {
		return sub.Channel.Endpoint == endpoint
	})
}

func (s *Store) deleteSubscription(ctx context.Context, subscriberID string, match func(*model.Subscription) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSubscriptions)
		raw := bkt.Get([]byte(subscriberID))
		if raw == nil {
			return nil
		}
		var sub model.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		if !match(&sub) {
			return nil
		}
		removed = true
		return bkt.Delete([]byte(subscriberID))
	})
	return removed, err
}

// CreateBooking stores booking and the route mutated by reserve in one transaction.
func (s *Store) CreateBooking(ctx context.Context, booking *model.Booking, reserve func(*model.Route) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bookings := tx.Bucket(bucketBookings)
		if bookings.Get([]byte(booking.ID)) != nil {
			return fmt.Errorf("booking %s: %w", booking.ID, storage.ErrConflict)
		}
		route, err := loadRoute(tx, booking.RouteID)
		if err != nil {
			return err
		}
		if err := reserve(route); err != nil {
			return err
		}
		route.UpdatedAt = now
		if err := putJSON(tx.Bucket(bucketRoutes), []byte(route.RouteID), route); err != nil {
			return err
		}
		if booking.CreatedAt.IsZero() {
			booking.CreatedAt = now
		}
		return putJSON(bookings, []byte(booking.ID), booking)
	})
}

// GetBooking fetches a booking by id.
func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var booking *model.Booking
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		booking, err = loadBooking(tx, id)
		return err
	})
	return booking, err
}

func loadBooking(tx *bolt.Tx, id string) (*model.Booking, error) {
	raw := tx.Bucket(bucketBookings).Get([]byte(id))
	if raw == nil {
		return nil, fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
	}
	var booking model.Booking
	if err := json.Unmarshal(raw, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// CancelBooking marks a booking cancelled and lets release return its seats.
func (s *Store) CancelBooking(ctx context.Context, id string, release func(*model.Route, *model.Booking) error) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var booking *model.Booking
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadBooking(tx, id)
		if err != nil {
			return err
		}
		// a route deleted after booking leaves nothing to return seats to
		route, err := loadRoute(tx, current.RouteID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err := release(route, current); err != nil {
			return err
		}
		if route != nil {
			route.UpdatedAt = time.Now().UTC()
			if err := putJSON(tx.Bucket(bucketRoutes), []byte(route.RouteID), route); err != nil {
				return err
			}
		}
		current.Status = model.BookingCancelled
		booking = current
		return putJSON(tx.Bucket(bucketBookings), []byte(id), current)
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// ListBookingsByStudent returns a student's bookings, newest first.
func (s *Store) ListBookingsByStudent(ctx context.Context, studentID string) ([]*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var bookings []*model.Booking
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookings).ForEach(func(_, v []byte) error {
			var booking model.Booking
			if err := json.Unmarshal(v, &booking); err != nil {
				return err
			}
			if booking.StudentID == studentID {
				bookings = append(bookings, &booking)
			}
			return nil
		})
	})
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].CreatedAt.After(bookings[j].CreatedAt) })
	return bookings, err
}

// AppendDispatchLog stores a push log entry.
func (s *Store) AppendDispatchLog(ctx context.Context, log *model.DispatchLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDispatchLog)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		log.ID = id
		return putJSON(bkt, itob(id), log)
	})
}

// ListDispatchLogs returns all dispatch logs in insertion order.
func (s *Store) ListDispatchLogs(ctx context.Context) ([]*model.DispatchLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var logs []*model.DispatchLog
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDispatchLog).ForEach(func(_, v []byte) error {
			var log model.DispatchLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			logs = append(logs, &log)
			return nil
		})
	})
	return logs, err
}
