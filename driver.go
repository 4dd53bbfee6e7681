package rabbitcore

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// This file is the driver adapter: a thin seam over the underlying AMQP
// driver (spec §2.1) that exists purely to make the connection
// supervisor, channel pool, and publish/consume orchestration testable
// without a live broker. Production code talks to amqpDialer /
// amqpConnection / amqpChannel, which wrap github.com/rabbitmq/amqp091-go
// directly; tests substitute fakes satisfying the same interfaces.

// dialer opens new AMQP connections. It is the seam's entry point.
type dialer interface {
	Dial(url string, cfg amqp.Config) (driverConnection, error)
}

// driverConnection is the subset of *amqp091.Connection the core depends on.
type driverConnection interface {
	Channel() (driverChannel, error)
	NotifyClose(chan *amqp.Error) chan *amqp.Error
	NotifyBlocked(chan amqp.Blocking) chan amqp.Blocking
	Close() error
	IsClosed() bool
}

// driverChannel is the subset of *amqp091.Channel the core depends on,
// covering every channel-level operation named in spec §2.1: publish,
// consume, ack, nack, reject, get, assertQueue, assertExchange,
// bindQueue, unbindQueue, deleteQueue, purgeQueue, deleteExchange,
// cancel, prefetch, checkQueue.
type driverChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(chan amqp.Return) chan amqp.Return
	NotifyClose(chan *amqp.Error) chan *amqp.Error
	NotifyFlow(chan bool) chan bool

	Qos(prefetchCount, prefetchSize int, global bool) error

	Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Cancel(consumer string, noWait bool) error

	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Reject(tag uint64, requeue bool) error

	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueInspect(name string) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	QueuePurge(name string, noWait bool) (int, error)

	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDelete(name string, ifUnused, noWait bool) error

	Close() error
	IsClosed() bool
}

// amqpDialer is the production dialer backed by amqp091-go.
type amqpDialer struct{}

func (amqpDialer) Dial(url string, cfg amqp.Config) (driverConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

// amqpConnection adapts *amqp.Connection to driverConnection.
type amqpConnection struct {
	conn *amqp.Connection
}

func (a *amqpConnection) Channel() (driverChannel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (a *amqpConnection) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	return a.conn.NotifyClose(c)
}

func (a *amqpConnection) NotifyBlocked(c chan amqp.Blocking) chan amqp.Blocking {
	return a.conn.NotifyBlocked(c)
}

func (a *amqpConnection) Close() error    { return a.conn.Close() }
func (a *amqpConnection) IsClosed() bool  { return a.conn.IsClosed() }

// amqpChannel adapts *amqp.Channel to driverChannel.
type amqpChannel struct {
	ch *amqp.Channel
}

func (a *amqpChannel) Confirm(noWait bool) error { return a.ch.Confirm(noWait) }

func (a *amqpChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	return a.ch.NotifyPublish(c)
}

func (a *amqpChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	return a.ch.NotifyReturn(c)
}

func (a *amqpChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	return a.ch.NotifyClose(c)
}

func (a *amqpChannel) NotifyFlow(c chan bool) chan bool { return a.ch.NotifyFlow(c) }

func (a *amqpChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return a.ch.Qos(prefetchCount, prefetchSize, global)
}

func (a *amqpChannel) Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return a.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func (a *amqpChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return a.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

func (a *amqpChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	return a.ch.Get(queue, autoAck)
}

func (a *amqpChannel) Cancel(consumer string, noWait bool) error {
	return a.ch.Cancel(consumer, noWait)
}

func (a *amqpChannel) Ack(tag uint64, multiple bool) error    { return a.ch.Ack(tag, multiple) }
func (a *amqpChannel) Nack(tag uint64, multiple, requeue bool) error {
	return a.ch.Nack(tag, multiple, requeue)
}
func (a *amqpChannel) Reject(tag uint64, requeue bool) error { return a.ch.Reject(tag, requeue) }

func (a *amqpChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return a.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (a *amqpChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return a.ch.QueueDeclarePassive(name, durable, autoDelete, exclusive, noWait, args)
}

func (a *amqpChannel) QueueInspect(name string) (amqp.Queue, error) {
	return a.ch.QueueInspect(name)
}

func (a *amqpChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return a.ch.QueueBind(name, key, exchange, noWait, args)
}

func (a *amqpChannel) QueueUnbind(name, key, exchange string, args amqp.Table) error {
	return a.ch.QueueUnbind(name, key, exchange, args)
}

func (a *amqpChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	return a.ch.QueueDelete(name, ifUnused, ifEmpty, noWait)
}

func (a *amqpChannel) QueuePurge(name string, noWait bool) (int, error) {
	return a.ch.QueuePurge(name, noWait)
}

func (a *amqpChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return a.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (a *amqpChannel) ExchangeDelete(name string, ifUnused, noWait bool) error {
	return a.ch.ExchangeDelete(name, ifUnused, noWait)
}

func (a *amqpChannel) Close() error   { return a.ch.Close() }
func (a *amqpChannel) IsClosed() bool { return a.ch.IsClosed() }
