package rabbitcore

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishOptions configures a single Publish or PublishBatch call.
type PublishOptions struct {
	// ContentType defaults to "application/octet-stream" when empty.
	ContentType string
	// Headers are merged with any trace headers injected via the
	// configured Tracer; explicit entries here take precedence.
	Headers amqp.Table
	// Persistent selects delivery mode 2 (persisted to disk) over the
	// default transient mode 1.
	Persistent bool
	// Mandatory requests the broker return the message if it is
	// unroutable, surfaced as an EventMessageReturned.
	Mandatory bool
	// Timeout bounds how long Publish waits for the broker's confirm.
	// Defaults to DefaultPublishTimeout when zero.
	Timeout time.Duration
	// MessageID and CorrelationID map directly to the AMQP basic
	// properties of the same name.
	MessageID     string
	CorrelationID string
}

// Publish sends body to exchange with routing key key, acquiring a
// pooled confirm-mode channel, waiting for the broker's ack/nack, and
// returning ErrCodePublish on a broker nack or ErrCodePublishTimeout if
// no confirm arrives within the configured timeout (spec §4.4).
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte, opts PublishOptions) error {
	ch, err := c.pool.Acquire(ctx)
	if err != nil {
		c.bus.Emit(EventError, map[string]any{"op": "publish.acquire", "error": err})
		return err
	}
	defer c.pool.Release(ch)

	return c.publishOn(ctx, ch, exchange, key, body, opts)
}

// SendToQueue publishes body directly to queue via the default
// exchange, equivalent to Publish(ctx, "", queue, body, opts).
func (c *Client) SendToQueue(ctx context.Context, queue string, body []byte, opts PublishOptions) error {
	return c.Publish(ctx, "", queue, body, opts)
}

func (c *Client) publishOn(ctx context.Context, ch driverChannel, exchange, key string, body []byte, opts PublishOptions) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultPublishTimeout
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	confirmCh := make(chan amqp.Confirmation, 1)
	_ = ch.NotifyPublish(confirmCh)

	msg := amqp.Publishing{
		ContentType:   opts.ContentType,
		Body:          body,
		Headers:       injectTraceHeaders(ctx, c.tracer, opts.Headers),
		MessageId:     opts.MessageID,
		CorrelationId: opts.CorrelationID,
		Timestamp:     time.Now(),
	}
	if msg.ContentType == "" {
		msg.ContentType = "application/octet-stream"
	}
	if opts.Persistent {
		msg.DeliveryMode = amqp.Persistent
	} else {
		msg.DeliveryMode = amqp.Transient
	}

	if err := ch.Publish(publishCtx, exchange, key, opts.Mandatory, false, msg); err != nil {
		c.metrics.IncErrors()
		wrapped := wrapError(ErrCodePublish, "publish failed", err, map[string]any{"exchange": exchange, "routingKey": key})
		c.bus.Emit(EventError, map[string]any{"op": "publish", "error": wrapped})
		return wrapped
	}

	select {
	case conf := <-confirmCh:
		if !conf.Ack {
			c.metrics.IncErrors()
			nacked := newError(ErrCodePublish, "broker nacked the message", map[string]any{"exchange": exchange, "routingKey": key, "deliveryTag": conf.DeliveryTag})
			c.bus.Emit(EventError, map[string]any{"op": "publish.confirm", "error": nacked})
			return nacked
		}
		c.metrics.IncMessagesSent()
		return nil
	case <-publishCtx.Done():
		c.metrics.IncErrors()
		timedOut := wrapError(ErrCodePublishTimeout, "timed out waiting for broker confirm", publishCtx.Err(), map[string]any{"exchange": exchange, "routingKey": key})
		c.bus.Emit(EventError, map[string]any{"op": "publish.confirm", "error": timedOut})
		return timedOut
	}
}

// PublishBatch publishes each message in bodies sequentially, in order,
// stopping at the first failure and returning its index and error (spec
// Open Question: batches are not parallelized, so ordering and partial
// failure are both well defined).
func (c *Client) PublishBatch(ctx context.Context, exchange, key string, bodies [][]byte, opts PublishOptions) (int, error) {
	ch, err := c.pool.Acquire(ctx)
	if err != nil {
		c.bus.Emit(EventError, map[string]any{"op": "publishBatch.acquire", "error": err})
		return 0, err
	}
	defer c.pool.Release(ch)

	for i, body := range bodies {
		if err := c.publishOn(ctx, ch, exchange, key, body, opts); err != nil {
			return i, err
		}
	}
	return len(bodies), nil
}
