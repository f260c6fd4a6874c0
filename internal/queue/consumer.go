package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler processes one delivery. A nil error acks it, anything else nacks it.
type Handler func(ctx context.Context, d *Delivery) error

// Consumer runs a fixed number of dequeue/process/ack loops.
type Consumer struct {
	queue        *BadgerQueue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewConsumer(q *BadgerQueue, handler Handler, concurrency int, pollInterval time.Duration, logger *zap.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Consumer{
		queue:        q,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled and every loop has finished its current delivery.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("Starting queue consumer", zap.Int("concurrency", c.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			c.loop(ctx, slot)
		}(i)
	}
	wg.Wait()

	c.logger.Info("Queue consumer stopped")
}

func (c *Consumer) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		d, err := c.queue.Dequeue()
		if errors.Is(err, ErrEmpty) {
			if !sleep(ctx, c.pollInterval) {
				return
			}
			continue
		}
		if err != nil {
			c.logger.Error("Failed to dequeue", zap.Error(err), zap.Int("slot", slot))
			if !sleep(ctx, c.pollInterval) {
				return
			}
			continue
		}

		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d *Delivery) {
	err := c.safeHandle(ctx, d)
	if err == nil {
		if ackErr := c.queue.Ack(d); ackErr != nil {
			c.logger.Error("Failed to ack delivery", zap.Error(ackErr), zap.String("delivery_id", d.ID))
		}
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// interrupted by shutdown; Recover hands it out again without using up an attempt
		c.logger.Info("Delivery interrupted by shutdown, leaving it in flight",
			zap.String("delivery_id", d.ID))
		return
	}

	c.logger.Warn("Delivery failed, scheduling redelivery",
		zap.Error(err),
		zap.String("delivery_id", d.ID),
		zap.Int("attempts", d.Attempts+1))
	if nackErr := c.queue.Nack(d, err); nackErr != nil {
		c.logger.Error("Failed to nack delivery", zap.Error(nackErr), zap.String("delivery_id", d.ID))
	}
}

func (c *Consumer) safeHandle(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
