package rabbitcore

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel is an in-memory driverChannel used across the test suite.
// It supports the handful of operations exercised by the core without
// talking to a broker.
type fakeChannel struct {
	mu sync.Mutex

	closed bool

	publishErr     error
	nackConfirms   bool
	publishedCount int

	notifyPublish chan amqp.Confirmation
	notifyReturn  chan amqp.Return
	notifyClose   chan *amqp.Error
	notifyFlow    chan bool

	deliveries chan amqp.Delivery

	queues       map[string]*amqp.Queue
	queueDeleted map[string]bool

	acked, nacked, rejected []uint64
	nextDeliveryTag         uint64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		queues:       make(map[string]*amqp.Queue),
		queueDeleted: make(map[string]bool),
	}
}

func (f *fakeChannel) Confirm(noWait bool) error { return nil }

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.notifyPublish = c
	return c
}
func (f *fakeChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	f.notifyReturn = c
	return c
}
func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.notifyClose = c
	return c
}
func (f *fakeChannel) NotifyFlow(c chan bool) chan bool {
	f.notifyFlow = c
	return c
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	f.publishedCount++
	f.nextDeliveryTag++
	tag := f.nextDeliveryTag
	publishErr := f.publishErr
	nack := f.nackConfirms
	f.mu.Unlock()

	if publishErr != nil {
		return publishErr
	}
	if f.notifyPublish != nil {
		f.notifyPublish <- amqp.Confirmation{DeliveryTag: tag, Ack: !nack}
	}
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if f.deliveries == nil {
		f.deliveries = make(chan amqp.Delivery, 16)
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	select {
	case d := <-f.deliveries:
		return d, true, nil
	default:
		return amqp.Delivery{}, false, nil
	}
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error { return nil }

func (f *fakeChannel) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}
func (f *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}
func (f *fakeChannel) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, tag)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := amqp.Queue{Name: name}
	f.queues[name] = &q
	delete(f.queueDeleted, name)
	return q, nil
}

func (f *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return f.QueueInspect(name)
}

func (f *fakeChannel) QueueInspect(name string) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok && !f.queueDeleted[name] {
		return *q, nil
	}
	return amqp.Queue{}, amqp.ErrClosed
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error { return nil }
func (f *fakeChannel) QueueUnbind(name, key, exchange string, args amqp.Table) error             { return nil }

func (f *fakeChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueDeleted[name] = true
	return 0, nil
}

func (f *fakeChannel) QueuePurge(name string, noWait bool) (int, error) { return 0, nil }

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return nil
}
func (f *fakeChannel) ExchangeDelete(name string, ifUnused, noWait bool) error { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConnection is an in-memory driverConnection.
type fakeConnection struct {
	mu      sync.Mutex
	closed  bool
	chans   []*fakeChannel
	closeCh chan *amqp.Error
	blocked chan amqp.Blocking
}

func newFakeConnection() *fakeConnection { return &fakeConnection{} }

func (f *fakeConnection) Channel() (driverChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newFakeChannel()
	f.chans = append(f.chans, ch)
	return ch, nil
}

func (f *fakeConnection) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.closeCh = c
	return c
}
func (f *fakeConnection) NotifyBlocked(c chan amqp.Blocking) chan amqp.Blocking {
	f.blocked = c
	return c
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer returns pre-seeded connections/errors per URL, recording
// every dial attempt in order.
type fakeDialer struct {
	mu       sync.Mutex
	attempts []string
	results  map[string]error
	conns    map[string]*fakeConnection
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(map[string]error), conns: make(map[string]*fakeConnection)}
}

func (f *fakeDialer) Dial(url string, cfg amqp.Config) (driverConnection, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, url)
	err := f.results[url]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	conn, ok := f.conns[url]
	if !ok {
		conn = newFakeConnection()
		f.conns[url] = conn
	}
	f.mu.Unlock()
	return conn, nil
}
