package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
)

// Handler processes a single delivery. A nil return acknowledges the
// message. A returned error that reports Transient() true leaves the
// message unacknowledged for redelivery; any other error forwards the
// payload to the topic's dead-letter destination and acknowledges, so
// a poison message cannot loop.
type Handler func(ctx context.Context, d *Delivery) error

type transient interface {
	Transient() bool
}

// IsTransient reports whether an error asks for redelivery
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}

// Consumer runs a group of workers over one topic. Each worker is a
// sequential poll-process-ack loop; concurrency comes from running
// several workers, not from concurrency inside a handler call.
type Consumer struct {
	bus          *Bus
	topic        string
	group        string
	concurrency  int
	pollInterval time.Duration
	batchSize    int
	handler      Handler
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewConsumer creates a consumer group for a topic
func NewConsumer(bus *Bus, topic, group string, concurrency int, pollInterval time.Duration, batchSize int, handler Handler, logger arbor.ILogger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		bus:          bus,
		topic:        topic,
		group:        group,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		handler:      handler,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines
func (c *Consumer) Start() error {
	c.logger.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Int("concurrency", c.concurrency).
		Msg("Starting consumer group")

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		workerID := i
		common.SafeGoWithContext(c.ctx, c.logger, fmt.Sprintf("%s-worker-%d", c.group, workerID), func(ctx context.Context) {
			defer c.wg.Done()
			c.worker(ctx, workerID)
		})
	}

	return nil
}

// Stop cancels the workers and waits for in-flight handlers to finish
func (c *Consumer) Stop() error {
	c.logger.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Stopping consumer group")
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, workerID int) {
	// Stagger worker starts to spread polls across the interval
	stagger := (c.pollInterval / time.Duration(c.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-time.After(stagger):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().
				Str("topic", c.topic).
				Int("worker_id", workerID).
				Msg("Consumer worker stopped")
			return

		case <-ticker.C:
			// Bounded batch per tick so a slow item cannot starve the group
			for i := 0; i < c.batchSize; i++ {
				if err := c.processOne(workerID); err != nil {
					if errors.Is(err, ErrNoMessage) {
						break
					}
					c.logger.Warn().
						Err(err).
						Str("topic", c.topic).
						Int("worker_id", workerID).
						Msg("Error processing message")
					break
				}
			}
		}
	}
}

func (c *Consumer) processOne(workerID int) error {
	delivery, ack, err := c.bus.Receive(c.ctx, c.topic)
	if err != nil {
		return err
	}

	start := time.Now()
	handlerErr := c.handler(c.ctx, delivery)
	duration := time.Since(start)

	if handlerErr != nil {
		if IsTransient(handlerErr) {
			// Leave unacknowledged; visibility timeout drives redelivery
			// and the bus dead-letters after max receives
			c.logger.Warn().
				Err(handlerErr).
				Str("topic", c.topic).
				Str("message_id", delivery.ID).
				Int("receive_count", delivery.ReceiveCount).
				Int("worker_id", workerID).
				Msg("Transient handler failure, message will be redelivered")
			return handlerErr
		}

		c.logger.Error().
			Err(handlerErr).
			Str("topic", c.topic).
			Str("message_id", delivery.ID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Handler failed, forwarding message to dead-letter topic")

		if dlqErr := c.bus.SendToDeadLetter(c.ctx, c.topic, delivery.Payload); dlqErr != nil {
			c.logger.Warn().Err(dlqErr).Msg("Failed to forward message to dead-letter topic")
			return dlqErr
		}
		if ackErr := ack(); ackErr != nil {
			c.logger.Warn().Err(ackErr).Msg("Failed to acknowledge dead-lettered message")
			return ackErr
		}
		return handlerErr
	}

	c.logger.Debug().
		Str("topic", c.topic).
		Str("message_id", delivery.ID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Message processed")

	if err := ack(); err != nil {
		c.logger.Warn().
			Err(err).
			Str("message_id", delivery.ID).
			Msg("Failed to acknowledge message after successful processing")
		return err
	}

	return nil
}
