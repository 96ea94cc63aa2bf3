package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/models"
)

// ErrNoMessage is returned when a topic has no visible messages
var ErrNoMessage = errors.New("no messages in queue")

// storedMessage is the internal structure persisted in Badger
type storedMessage struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// Delivery is a message handed to a consumer. The message stays
// invisible until the visibility timeout elapses; consumers call the
// ack function to remove it after the corresponding state mutation is
// durably persisted.
type Delivery struct {
	ID           string
	Topic        string
	Payload      []byte
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Bus implements an ordered, at-least-once topic bus on BadgerDB.
// Each topic keeps message data under queue:{topic}:msg:{id} and a
// visibility index under queue:{topic}:index:{timestamp}:{id} so that
// ready messages can be scanned in enqueue order. Messages received
// more than maxReceive times are moved to the topic's dead-letter
// destination instead of being redelivered forever.
type Bus struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBus creates a Badger-backed message bus
func NewBus(db *badger.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Bus, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Bus{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Publish appends a message to a topic
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}

	msg := storedMessage{
		ID:         common.NewMessageID(),
		Topic:      topic,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(topic, msg.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(topic, msg.VisibleAt, msg.ID), []byte{})
	})
}

// Receive pulls the next visible message from a topic. Returns the
// delivery and an ack function, or ErrNoMessage when the topic is
// empty. Receiving increments the receive count and pushes the
// message's visibility out by the configured timeout, so an
// unacknowledged message is redelivered after a crash.
func (b *Bus) Receive(ctx context.Context, topic string) (*Delivery, func() error, error) {
	var claimed storedMessage

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(topic)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := parseIndexKey(topic, key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by timestamp, so nothing later is ready either
				break
			}

			item, err := txn.Get(msgKey(topic, id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var msg storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= b.maxReceive {
				// Poison message, move to the dead-letter topic
				if err := b.moveToDeadLetter(txn, topic, key, &msg); err != nil {
					return err
				}
				continue
			}

			msg.ReceiveCount++
			msg.VisibleAt = now.Add(b.visibilityTimeout)

			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(topic, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(indexKey(topic, msg.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = msg
			return nil
		}

		return ErrNoMessage
	})

	if err != nil {
		return nil, nil, err
	}

	delivery := &Delivery{
		ID:           claimed.ID,
		Topic:        topic,
		Payload:      claimed.Payload,
		ReceiveCount: claimed.ReceiveCount,
		EnqueuedAt:   claimed.EnqueuedAt,
	}

	ack := func() error {
		return b.delete(topic, claimed.ID)
	}

	return delivery, ack, nil
}

// SendToDeadLetter publishes a payload directly to a topic's
// dead-letter destination, unmodified
func (b *Bus) SendToDeadLetter(ctx context.Context, topic string, payload []byte) error {
	dlq := models.DeadLetterTopic(topic)
	b.logger.Warn().
		Str("topic", topic).
		Str("dlq", dlq).
		Msg("Forwarding message to dead-letter topic")
	return b.Publish(ctx, dlq, payload)
}

// Depth returns the number of messages stored for a topic, visible or not
func (b *Bus) Depth(topic string) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", topic))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the bus (the DB itself is managed by the caller)
func (b *Bus) Close() error {
	return nil
}

// moveToDeadLetter republishes a poison message's payload on the DLQ
// topic and removes it from the source topic, inside the caller's txn
func (b *Bus) moveToDeadLetter(txn *badger.Txn, topic string, idxKey []byte, msg *storedMessage) error {
	dlqTopic := models.DeadLetterTopic(topic)
	dlqMsg := storedMessage{
		ID:         common.NewMessageID(),
		Topic:      dlqTopic,
		Payload:    msg.Payload,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(dlqMsg)
	if err != nil {
		return err
	}
	if err := txn.Set(msgKey(dlqTopic, dlqMsg.ID), data); err != nil {
		return err
	}
	if err := txn.Set(indexKey(dlqTopic, dlqMsg.VisibleAt, dlqMsg.ID), []byte{}); err != nil {
		return err
	}
	if err := txn.Delete(idxKey); err != nil {
		return err
	}
	if err := txn.Delete(msgKey(topic, msg.ID)); err != nil {
		return err
	}

	b.logger.Warn().
		Str("topic", topic).
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Msg("Message exceeded max receives, moved to dead-letter topic")

	return nil
}

func (b *Bus) delete(topic, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(msgKey(topic, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already deleted
			}
			return err
		}

		var msg storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(indexKey(topic, msg.VisibleAt, id)); err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Delete(msgKey(topic, id))
	})
}

func msgKey(topic, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", topic, id))
}

func indexPrefix(topic string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", topic))
}

func indexKey(topic string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexicographic ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", topic, visibleAt.UnixNano(), id))
}

func parseIndexKey(topic string, key []byte) (time.Time, string, error) {
	prefix := string(indexPrefix(topic))
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 22 { // 20 digits + colon + at least one id byte
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
