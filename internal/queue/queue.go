package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrEmpty is returned by Dequeue when no item is ready.
	ErrEmpty = errors.New("queue is empty")
	// ErrPermanent marks a handler failure that no retry can fix. Nack sends
	// such deliveries straight to the dead letter set.
	ErrPermanent = errors.New("permanent failure")
)

const (
	pendingPrefix  = "queue:pending:"
	inflightPrefix = "queue:inflight:"
	deadPrefix     = "queue:dead:"
)

// Delivery is one queued work item together with its delivery bookkeeping.
type Delivery struct {
	ID         string          `json:"id"`
	Item       models.WorkItem `json:"item"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

type Options struct {
	// MaxAttempts moves an item to the dead letter set once reached. Zero retries forever.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type Stats struct {
	Pending  int
	InFlight int
	Dead     int
}

// BadgerQueue is a durable at-least-once queue stored in BadgerDB.
//
// Pending items are keyed by the time they become ready so a prefix scan
// yields them in delivery order. Dequeue moves an item to the in-flight
// set in the same transaction; an item stays there until it is acked or
// nacked, and Recover returns leftovers to pending after a crash.
type BadgerQueue struct {
	db     *badger.DB
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	// serialises the pending -> inflight move between consumers
	mu sync.Mutex
}

func NewBadgerQueue(db *badger.DB, opts Options, logger *zap.Logger) *BadgerQueue {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return &BadgerQueue{
		db:     db,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Open opens the badger database backing the queue. An empty dir keeps it in memory.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	return db, nil
}

// Enqueue persists item as ready for immediate delivery and returns its delivery id.
func (q *BadgerQueue) Enqueue(ctx context.Context, item models.WorkItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d := Delivery{
		ID:         uuid.New().String(),
		Item:       item,
		EnqueuedAt: q.now(),
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal delivery: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(d.EnqueuedAt, d.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}
	return d.ID, nil
}

// Dequeue claims the oldest ready item.
func (q *BadgerQueue) Dequeue() (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var claimed *Delivery
	err := q.db.Update(func(txn *badger.Txn) error {
		for {
			key, value, err := firstPending(txn)
			if err != nil {
				return err
			}
			readyAt, id, err := parsePendingKey(key)
			if err != nil {
				return err
			}
			if readyAt.After(q.now()) {
				return ErrEmpty
			}

			var d Delivery
			if err := json.Unmarshal(value, &d); err != nil {
				// parked with the dead letters so the head of the queue moves on
				q.logger.Error("Undecodable delivery moved to dead letters",
					zap.Error(err),
					zap.String("key", string(key)))
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Set(deadKey(id), value); err != nil {
					return err
				}
				continue
			}

			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(inflightKey(d.ID), value); err != nil {
				return err
			}
			claimed = &d
			return nil
		}
	})
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	return claimed, nil
}

// Ack removes a processed delivery for good.
func (q *BadgerQueue) Ack(d *Delivery) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(inflightKey(d.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to ack %s: %w", d.ID, err)
	}
	return nil
}

// Update rewrites the payload of an in-flight delivery so a redelivery sees it.
func (q *BadgerQueue) Update(d *Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(inflightKey(d.ID)); err != nil {
			return err
		}
		return txn.Set(inflightKey(d.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", d.ID, err)
	}
	return nil
}

// Nack returns a failed delivery to pending after a backoff, or to the
// dead letter set once MaxAttempts is reached.
func (q *BadgerQueue) Nack(d *Delivery, cause error) error {
	d.Attempts++
	if cause != nil {
		d.LastError = cause.Error()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	dead := errors.Is(cause, ErrPermanent) ||
		(q.opts.MaxAttempts > 0 && d.Attempts >= q.opts.MaxAttempts)
	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(inflightKey(d.ID)); err != nil {
			return err
		}
		if dead {
			return txn.Set(deadKey(d.ID), data)
		}
		return txn.Set(pendingKey(q.now().Add(q.backoff(d.Attempts)), d.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to nack %s: %w", d.ID, err)
	}

	if dead {
		q.logger.Error("Delivery moved to dead letter set",
			zap.String("delivery_id", d.ID),
			zap.Int("attempts", d.Attempts),
			zap.String("last_error", d.LastError))
	}
	return nil
}

// Recover moves every in-flight delivery back to pending. It is meant to
// run before consumers start, when nothing can legitimately be in flight.
func (q *BadgerQueue) Recover() (int, error) {
	return q.moveAll(inflightPrefix)
}

// Revive moves dead letters back to pending with a fresh attempt count.
func (q *BadgerQueue) Revive() (int, error) {
	return q.moveAll(deadPrefix)
}

func (q *BadgerQueue) Stats() (Stats, error) {
	var stats Stats
	err := q.db.View(func(txn *badger.Txn) error {
		stats.Pending = countPrefix(txn, pendingPrefix)
		stats.InFlight = countPrefix(txn, inflightPrefix)
		stats.Dead = countPrefix(txn, deadPrefix)
		return nil
	})
	return stats, err
}

func (q *BadgerQueue) moveAll(prefix string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := 0
	err := q.db.Update(func(txn *badger.Txn) error {
		keys, deliveries, err := scanPrefix(txn, prefix)
		if err != nil {
			return err
		}

		now := q.now()
		for i, d := range deliveries {
			if prefix == deadPrefix {
				d.Attempts = 0
			}
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
			if err := txn.Set(pendingKey(now, d.ID), data); err != nil {
				return err
			}
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to move %s items: %w", strings.TrimSuffix(prefix, ":"), err)
	}
	return moved, nil
}

func (q *BadgerQueue) backoff(attempts int) time.Duration {
	delay := q.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return delay
}

func firstPending(txn *badger.Txn) ([]byte, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 1
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(pendingPrefix)
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, nil, ErrEmpty
	}
	value, err := it.Item().ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	return it.Item().KeyCopy(nil), value, nil
}

func scanPrefix(txn *badger.Txn, prefix string) ([][]byte, []Delivery, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	var keys [][]byte
	var deliveries []Delivery
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		var d Delivery
		if err := json.Unmarshal(value, &d); err != nil {
			// undecodable values stay where they are
			continue
		}
		keys = append(keys, it.Item().KeyCopy(nil))
		deliveries = append(deliveries, d)
	}
	return keys, deliveries, nil
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}

// Ready time is zero padded so lexical key order matches time order.
func pendingKey(readyAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", pendingPrefix, readyAt.UnixNano(), id))
}

func inflightKey(id string) []byte {
	return []byte(inflightPrefix + id)
}

func deadKey(id string) []byte {
	return []byte(deadPrefix + id)
}

func parsePendingKey(key []byte) (time.Time, string, error) {
	rest := strings.TrimPrefix(string(key), pendingPrefix)
	stamp, id, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("malformed pending key %q", key)
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed pending key %q: %w", key, err)
	}
	return time.Unix(0, nanos), id, nil
}
