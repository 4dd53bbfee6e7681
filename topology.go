package rabbitcore

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// emitTopologyError wraps err, surfaces it via the event bus, and
// returns the wrapped error for the caller to return.
func (c *Client) emitTopologyError(op string, code ErrorCode, message string, err error, details map[string]any) error {
	wrapped := wrapError(code, message, err, details)
	c.bus.Emit(EventError, map[string]any{"op": op, "error": wrapped})
	return wrapped
}

// QueueOptions configures AssertQueue, alongside the extension
// arguments RabbitMQ recognises via queue declare arguments (spec §4.6).
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool

	DeadLetterExchange   string
	DeadLetterRoutingKey string
	MessageTTL           int64 // milliseconds; 0 means unset
	Expires              int64 // milliseconds; 0 means unset
	MaxLength            int64 // 0 means unset
	MaxPriority          int64 // 0 means unset

	// ExtraArgs passes through any additional declare arguments not
	// covered above, merged with (and overridden by) the typed fields.
	ExtraArgs amqp.Table
}

func (o QueueOptions) args() amqp.Table {
	args := amqp.Table{}
	for k, v := range o.ExtraArgs {
		args[k] = v
	}
	if o.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = o.DeadLetterExchange
	}
	if o.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = o.DeadLetterRoutingKey
	}
	if o.MessageTTL > 0 {
		args["x-message-ttl"] = o.MessageTTL
	}
	if o.Expires > 0 {
		args["x-expires"] = o.Expires
	}
	if o.MaxLength > 0 {
		args["x-max-length"] = o.MaxLength
	}
	if o.MaxPriority > 0 {
		args["x-max-priority"] = o.MaxPriority
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// ExchangeOptions configures AssertExchange.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool

	// AlternateExchange routes unroutable messages to a fallback
	// exchange, via the x-alternate-exchange argument.
	AlternateExchange string
	ExtraArgs         amqp.Table
}

func (o ExchangeOptions) args() amqp.Table {
	args := amqp.Table{}
	for k, v := range o.ExtraArgs {
		args[k] = v
	}
	if o.AlternateExchange != "" {
		args["x-alternate-exchange"] = o.AlternateExchange
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// QueueInfo reports a queue's current depth and consumer count, as
// returned by AssertQueue and QueueInfoOf.
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}

// AssertQueue declares queue with the given options, idempotently, and
// returns its current depth/consumer count (spec §4.6).
func (c *Client) AssertQueue(name string, opts QueueOptions) (QueueInfo, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return QueueInfo{}, err
	}
	q, err := ch.QueueDeclare(name, opts.Durable, opts.AutoDelete, opts.Exclusive, false, opts.args())
	if err != nil {
		return QueueInfo{}, c.emitTopologyError("topology.assertQueue", ErrCodeConsume, "assert queue failed", err, map[string]any{"queue": name})
	}
	return QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// QueueInfoOf inspects an existing queue without declaring it.
func (c *Client) QueueInfoOf(name string) (QueueInfo, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return QueueInfo{}, err
	}
	q, err := ch.QueueInspect(name)
	if err != nil {
		return QueueInfo{}, c.emitTopologyError("topology.queueInfo", ErrCodeConsume, "queue inspect failed", err, map[string]any{"queue": name})
	}
	return QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// AssertExchange declares exchange of the given kind with opts,
// idempotently.
func (c *Client) AssertExchange(name, kind string, opts ExchangeOptions) error {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, kind, opts.Durable, opts.AutoDelete, opts.Internal, false, opts.args()); err != nil {
		return c.emitTopologyError("topology.assertExchange", ErrCodeConsume, "assert exchange failed", err, map[string]any{"exchange": name, "kind": kind})
	}
	return nil
}

// BindQueue binds queue to exchange under routing key.
func (c *Client) BindQueue(queue, key, exchange string) error {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return c.emitTopologyError("topology.bindQueue", ErrCodeConsume, "bind queue failed", err, map[string]any{"queue": queue, "exchange": exchange, "routingKey": key})
	}
	return nil
}

// UnbindQueue removes a binding previously created with BindQueue.
func (c *Client) UnbindQueue(queue, key, exchange string) error {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return err
	}
	if err := ch.QueueUnbind(queue, key, exchange, nil); err != nil {
		return c.emitTopologyError("topology.unbindQueue", ErrCodeConsume, "unbind queue failed", err, map[string]any{"queue": queue, "exchange": exchange, "routingKey": key})
	}
	return nil
}

// DeleteQueue deletes queue, optionally only if unused and/or empty,
// returning the number of messages it held.
func (c *Client) DeleteQueue(name string, ifUnused, ifEmpty bool) (int, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return 0, err
	}
	n, err := ch.QueueDelete(name, ifUnused, ifEmpty, false)
	if err != nil {
		return 0, c.emitTopologyError("topology.deleteQueue", ErrCodeConsume, "delete queue failed", err, map[string]any{"queue": name})
	}
	return n, nil
}

// PurgeQueue removes all ready messages from queue, returning the
// number purged.
func (c *Client) PurgeQueue(name string) (int, error) {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return 0, err
	}
	n, err := ch.QueuePurge(name, false)
	if err != nil {
		return 0, c.emitTopologyError("topology.purgeQueue", ErrCodeConsume, "purge queue failed", err, map[string]any{"queue": name})
	}
	return n, nil
}

// DeleteExchange deletes exchange, optionally only if unused.
func (c *Client) DeleteExchange(name string, ifUnused bool) error {
	ch, err := c.defaultChannelOrErr()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDelete(name, ifUnused, false); err != nil {
		return c.emitTopologyError("topology.deleteExchange", ErrCodeConsume, "delete exchange failed", err, map[string]any{"exchange": name})
	}
	return nil
}
