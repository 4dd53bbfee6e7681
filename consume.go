package rabbitcore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumeOptions configures a single Consume call.
type ConsumeOptions struct {
	// ConsumerTag identifies the consumer to the broker and to later
	// Cancel calls. When empty, a tag of the form "rabbitcore-<unix nanos>"
	// is generated from the current time.
	ConsumerTag string
	// NoAck is passed to the broker as the AMQP no-ack flag: when true,
	// the broker considers every delivery settled the instant it is
	// sent, and processDelivery never calls Ack/Nack on it.
	NoAck bool
	// ManualAck, when true, leaves settlement entirely to the handler:
	// processDelivery never auto-acks an unsettled delivery, even if the
	// handler returns nil without calling Ack/Nack/Reject itself. When
	// false (the default) and NoAck is also false, processDelivery
	// auto-acks any delivery the handler leaves unsettled on success.
	ManualAck bool
	Exclusive bool
	NoLocal   bool
	// Timeout bounds how long a single delivery's handler may run before
	// it is treated as a handler error. Defaults to DefaultConsumeTimeout
	// when zero.
	Timeout time.Duration
}

// Delivery wraps an incoming amqp091.Delivery with at-most-once
// settlement tracking: calling Ack, Nack, or Reject more than once
// logs a warning and returns nil rather than erroring, since the
// broker has already acted on the first call.
type Delivery struct {
	amqp.Delivery

	ch       driverChannel
	settled  atomic.Bool
	logger   Logger
}

func (d *Delivery) settle(action func() error, name string) error {
	if !d.settled.CompareAndSwap(false, true) {
		d.logger.Warn("delivery already settled; ignoring duplicate settlement call", "action", name, "deliveryTag", d.DeliveryTag)
		return nil
	}
	return action()
}

// Ack acknowledges the delivery.
func (d *Delivery) Ack() error {
	return d.settle(func() error { return d.ch.Ack(d.DeliveryTag, false) }, "ack")
}

// Nack negatively acknowledges the delivery, optionally requeuing it.
func (d *Delivery) Nack(requeue bool) error {
	return d.settle(func() error { return d.ch.Nack(d.DeliveryTag, false, requeue) }, "nack")
}

// Reject rejects the delivery, optionally requeuing it.
func (d *Delivery) Reject(requeue bool) error {
	return d.settle(func() error { return d.ch.Reject(d.DeliveryTag, requeue) }, "reject")
}

// Handler processes a single delivery. A non-nil error from Handler
// causes the delivery to be Nack'd with requeue=true, unless
// ConsumeOptions.NoAck is set, in which case the broker has already
// considered the message accepted and the error is only logged, or
// ConsumeOptions.ManualAck is set, in which case the error is logged and
// settlement is left to the handler. A handler that exceeds
// ConsumeOptions.Timeout is treated the same as a handler returning an
// error.
type Handler func(ctx context.Context, d *Delivery) error

// Consume registers a consumer on queue and processes deliveries with
// handler until ctx is cancelled or Cancel is called with the returned
// tag (spec §4.5). Consume spawns its own processing goroutine and
// returns the consumer tag immediately.
func (c *Client) Consume(ctx context.Context, queue string, opts ConsumeOptions, handler Handler) (string, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return "", err
	}

	tag := opts.ConsumerTag
	if tag == "" {
		tag = fmt.Sprintf("rabbitcore-%d", time.Now().UnixNano())
	}

	deliveries, err := ch.Consume(queue, tag, opts.NoAck, opts.Exclusive, opts.NoLocal, false, nil)
	if err != nil {
		wrapped := wrapError(ErrCodeConsume, "failed to register consumer", err, map[string]any{"queue": queue, "consumerTag": tag})
		c.bus.Emit(EventError, map[string]any{"op": "consume.register", "error": wrapped})
		return "", wrapped
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	handle := &consumerHandle{queue: queue, tag: tag, cancel: cancel}
	c.consumersMu.Lock()
	c.consumers[tag] = handle
	c.consumersMu.Unlock()

	go c.runConsumer(consumeCtx, ch, deliveries, opts, handler)

	return tag, nil
}

func (c *Client) runConsumer(ctx context.Context, ch driverChannel, deliveries <-chan amqp.Delivery, opts ConsumeOptions, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.processDelivery(ctx, ch, raw, opts, handler)
		}
	}
}

func (c *Client) processDelivery(ctx context.Context, ch driverChannel, raw amqp.Delivery, opts ConsumeOptions, handler Handler) {
	start := time.Now()
	d := &Delivery{Delivery: raw, ch: ch, logger: c.logger}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultConsumeTimeout
	}
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("consumer handler panicked", "recover", r)
				resultCh <- newError(ErrCodeConsume, "handler panicked", map[string]any{"recover": r})
			}
		}()
		resultCh <- handler(handlerCtx, d)
	}()

	var err error
	select {
	case err = <-resultCh:
	case <-handlerCtx.Done():
		err = wrapError(ErrCodeConsumeTimeout, "handler exceeded processing timeout", handlerCtx.Err(), map[string]any{"timeout": timeout})
	}

	c.metrics.IncMessagesReceived()
	c.metrics.ObserveProcessingTime(time.Since(start))

	if opts.NoAck {
		if err != nil {
			c.logger.Warn("handler returned an error for a no-ack delivery", "error", err)
			c.metrics.IncErrors()
			c.bus.Emit(EventError, map[string]any{"op": "consume.handler", "error": err})
		}
		return
	}

	if err != nil {
		c.metrics.IncErrors()
		c.bus.Emit(EventError, map[string]any{"op": "consume.handler", "error": err})
		if opts.ManualAck {
			c.logger.Warn("handler returned an error for a manual-ack delivery; leaving settlement to the handler", "error", err)
			return
		}
		if nackErr := d.Nack(true); nackErr != nil {
			c.logger.Error("failed to nack delivery after handler error", "error", nackErr)
			c.bus.Emit(EventError, map[string]any{"op": "consume.nack", "error": nackErr})
		}
		return
	}

	if opts.ManualAck {
		return
	}

	if !d.settled.Load() {
		if ackErr := d.Ack(); ackErr != nil {
			c.logger.Error("failed to ack delivery", "error", ackErr)
			c.bus.Emit(EventError, map[string]any{"op": "consume.ack", "error": ackErr})
		}
	}
}

// Get fetches a single message from queue without establishing a
// standing consumer, returning ok=false if the queue was empty.
func (c *Client) Get(ctx context.Context, queue string, autoAck bool) (*Delivery, bool, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := ch.Get(queue, autoAck)
	if err != nil {
		wrapped := wrapError(ErrCodeConsume, "get failed", err, map[string]any{"queue": queue})
		c.bus.Emit(EventError, map[string]any{"op": "consume.get", "error": wrapped})
		return nil, false, wrapped
	}
	if !ok {
		return nil, false, nil
	}
	c.metrics.IncMessagesReceived()
	return &Delivery{Delivery: raw, ch: ch, logger: c.logger}, true, nil
}

// Cancel stops the consumer identified by tag, returned from an earlier
// Consume call.
func (c *Client) Cancel(tag string) error {
	c.consumersMu.Lock()
	handle, ok := c.consumers[tag]
	if ok {
		delete(c.consumers, tag)
	}
	c.consumersMu.Unlock()
	if !ok {
		return newError(ErrCodeConsume, "unknown consumer tag", map[string]any{"consumerTag": tag})
	}

	ch, err := c.defaultChannelOrErr()
	if err != nil {
		handle.cancel()
		return err
	}
	handle.cancel()
	if err := ch.Cancel(tag, false); err != nil {
		return wrapError(ErrCodeConsume, "cancel failed", err, map[string]any{"consumerTag": tag})
	}
	return nil
}

// Prefetch updates the default channel's QoS prefetch count.
func (c *Client) Prefetch(count int, global bool) error {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return err
	}
	if err := ch.Qos(count, 0, global); err != nil {
		return wrapError(ErrCodeChannel, "failed to apply QoS", err, map[string]any{"prefetchCount": count})
	}
	return nil
}
