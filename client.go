package rabbitcore

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client is a resilient AMQP 0-9-1 client: a multi-node failover
// connector, a pooled publish path, a supervised default channel for
// topology and consume operations, a circuit breaker guarding reconnect
// storms, and an event bus surfacing lifecycle transitions (spec §3,
// §4). A Client is safe for concurrent use by multiple goroutines once
// Connect has returned successfully.
//
// Grounded on the teacher's Client struct and its Connect /
// establishConnection / setupConnectionHandlers / reconnect family.
type Client struct {
	cfg    Config
	dialer dialer
	logger Logger
	tracer Tracer

	bus      *eventBus
	breaker  *circuitBreaker
	registry *nodeRegistry
	metrics  *metricsCollector
	pool     *channelPool

	mu             sync.RWMutex
	conn           driverConnection
	defaultChannel driverChannel
	connected      bool
	closed         bool

	// reconnecting lets only one reconnect loop run at a time, mirroring
	// the teacher's atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1).
	// Connect and Close do not consult it.
	reconnecting atomic.Bool
	// shuttingDown is latched by GracefulShutdown before its drain loop
	// runs, blocking any reconnect triggered while draining.
	shuttingDown atomic.Bool

	consumers   map[string]*consumerHandle
	consumersMu sync.Mutex

	stopBackground chan struct{}
	bgWG           sync.WaitGroup
	bgStarted      bool
}

// consumerHandle tracks a registered consumer so Cancel can stop it.
type consumerHandle struct {
	queue    string
	tag      string
	cancel   func()
}

// NewClient validates cfg, applies defaults, and constructs a Client.
// No network activity occurs until Connect is called (spec §4.1).
func NewClient(cfg Config) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = newDefaultLogger()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = NewOTelTracer()
	}

	c := &Client{
		cfg:      cfg,
		dialer:   amqpDialer{},
		logger:   logger,
		tracer:   tracer,
		bus:      newEventBus(logger),
		breaker:  newCircuitBreaker(cfg.CircuitBreaker),
		registry: newNodeRegistry(cfg.URLs, cfg.FailoverStrategy, cfg.Cluster.PriorityNodes, cfg.Cluster.ShuffleNodes),
		metrics:  newMetricsCollector("rabbitcore"),
		consumers: make(map[string]*consumerHandle),
	}
	c.metrics.register(cfg.MetricsRegisterer)
	c.pool = newChannelPool(cfg.Pool, c.newPoolChannel, logger)

	return c, nil
}

// On registers handler to run, synchronously and in registration order,
// whenever an event of type t is emitted.
func (c *Client) On(t EventType, handler EventHandler) {
	c.bus.Subscribe(t, handler)
}

// Metrics returns a snapshot of the client's counters.
func (c *Client) Metrics() Metrics {
	return c.metrics.Snapshot()
}

// NodeStatuses returns the current observed health of every configured
// cluster URL.
func (c *Client) NodeStatuses() []NodeStatus {
	return c.registry.Snapshot()
}

// Connect establishes the connection and default channel, trying
// candidate URLs in the order the node registry supplies until one
// succeeds or MaxInitialConnectAttempts distinct candidates have been
// tried. It is rejected immediately with ErrCodeCircuitBreakerOpen if
// the breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if !c.breaker.Allow() {
		return newError(ErrCodeCircuitBreakerOpen, "circuit breaker is open; refusing to attempt connect", map[string]any{
			"failures": c.breaker.Failures(),
		})
	}

	c.bus.Emit(EventConnecting, nil)

	candidates := c.registry.Candidates()
	attempts := len(candidates)
	if attempts > MaxInitialConnectAttempts {
		attempts = MaxInitialConnectAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		u := candidates[i]
		conn, ch, err := c.establishConnection(ctx, u)
		if err != nil {
			lastErr = err
			c.registry.MarkUnhealthy(u)
			c.logger.Warn("connect attempt failed", "url", redactURL(u), "error", err)
			continue
		}

		c.registry.MarkHealthy(u)
		c.adopt(conn, ch)
		c.breaker.RecordSuccess()
		c.startBackgroundTasks()
		c.bus.Emit(EventConnected, map[string]any{"url": redactURL(u)})
		return nil
	}

	c.breaker.RecordFailure()
	c.bus.Emit(EventConnectionFailed, map[string]any{"error": lastErr})
	return wrapError(ErrCodeCluster, "failed to connect to any cluster node", lastErr, map[string]any{"attempts": attempts})
}

// establishConnection dials u, opens the default confirm-mode channel,
// and applies QoS, returning both without yet installing them on c.
func (c *Client) establishConnection(ctx context.Context, u string) (driverConnection, driverChannel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	amqpCfg := c.buildAMQPConfig()
	done := make(chan struct{})
	var conn driverConnection
	var err error
	go func() {
		conn, err = c.dialer.Dial(mergeCredentials(u, c.cfg), amqpCfg)
		close(done)
	}()

	select {
	case <-done:
	case <-dialCtx.Done():
		return nil, nil, wrapError(ErrCodeConnectionTimeout, "connect timed out", dialCtx.Err(), map[string]any{"url": redactURL(u)})
	}
	if err != nil {
		return nil, nil, wrapError(ErrCodeConnection, "dial failed", err, map[string]any{"url": redactURL(u)})
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, wrapError(ErrCodeChannel, "failed to open default channel", err, nil)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, nil, wrapError(ErrCodeChannel, "failed to put default channel into confirm mode", err, nil)
	}
	if c.cfg.PrefetchCount > 0 {
		if err := ch.Qos(c.cfg.PrefetchCount, 0, c.cfg.PrefetchGlobal); err != nil {
			_ = conn.Close()
			return nil, nil, wrapError(ErrCodeChannel, "failed to apply QoS", err, nil)
		}
	}

	return conn, ch, nil
}

func (c *Client) buildAMQPConfig() amqp.Config {
	cfg := amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		Vhost:     c.cfg.VHost,
		Properties: amqp.Table{
			"connection_name": c.cfg.ConnectionName,
		},
	}
	return cfg
}

// mergeCredentials overlays cfg.Username/Password onto u's userinfo
// when set, leaving u unchanged otherwise.
func mergeCredentials(u string, cfg Config) string {
	if cfg.Username == "" && cfg.Password == "" {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.User = url.UserPassword(cfg.Username, cfg.Password)
	return parsed.String()
}

// redactURL strips userinfo before logging or reporting a URL.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.User = nil
	return parsed.String()
}

// adopt installs conn/ch as the active connection and wires their
// notification channels to the event bus and recovery logic.
func (c *Client) adopt(conn driverConnection, ch driverChannel) {
	c.mu.Lock()
	c.conn = conn
	c.defaultChannel = ch
	c.connected = true
	c.mu.Unlock()

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	blockedCh := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	chReturn := ch.NotifyReturn(make(chan amqp.Return, 1))

	go c.watchConnection(closeCh, blockedCh)
	go c.watchDefaultChannel(chClose, chReturn)
}

func (c *Client) watchConnection(closeCh chan *amqp.Error, blockedCh chan amqp.Blocking) {
	for {
		select {
		case err, ok := <-closeCh:
			if !ok {
				return
			}
			c.handleConnectionLoss(err)
			return
		case b, ok := <-blockedCh:
			if !ok {
				continue
			}
			if b.Active {
				c.bus.Emit(EventBlocked, map[string]any{"reason": b.Reason})
			} else {
				c.bus.Emit(EventUnblocked, nil)
			}
		}
	}
}

func (c *Client) watchDefaultChannel(closeCh chan *amqp.Error, returnCh chan amqp.Return) {
	for {
		select {
		case err, ok := <-closeCh:
			if !ok {
				return
			}
			c.bus.Emit(EventChannelClosed, map[string]any{"error": err})
			return
		case ret, ok := <-returnCh:
			if !ok {
				continue
			}
			c.bus.Emit(EventMessageReturned, map[string]any{
				"exchange": ret.Exchange, "routingKey": ret.RoutingKey, "replyCode": ret.ReplyCode, "replyText": ret.ReplyText,
			})
		}
	}
}

func (c *Client) handleConnectionLoss(err *amqp.Error) {
	c.mu.Lock()
	wasClosed := c.closed
	c.connected = false
	c.mu.Unlock()

	if wasClosed || c.shuttingDown.Load() {
		return
	}

	c.bus.Emit(EventConnectionClosed, map[string]any{"error": err})
	c.metrics.IncErrors()
	go c.reconnect()
}

// reconnect retries Connect with exponential backoff and jitter until
// it succeeds or MaxReconnectAttempts is exhausted (spec §4.1). A
// negative MaxReconnectAttempts means unbounded retries. The
// reconnecting CAS guard lets only one reconnect loop run: a trigger that
// arrives while one is running (connection loss, a failed health check,
// a channel-recovery exhaustion) returns immediately, and shuttingDown
// blocks reconnect outright once a graceful shutdown has been requested.
// Connect and Close do not take this guard, so a direct Connect call can
// run alongside a reconnect loop.
func (c *Client) reconnect() {
	if c.shuttingDown.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	c.bus.Emit(EventReconnecting, nil)

	for attempt := 1; c.cfg.MaxReconnectAttempts < 0 || attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed || c.shuttingDown.Load() {
			return
		}

		delay := c.calculateReconnectDelay(attempt)
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectionTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.metrics.IncReconnections()
			c.bus.Emit(EventReconnected, map[string]any{"attempt": attempt})
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	c.bus.Emit(EventReconnectFailed, nil)
}

// calculateReconnectDelay implements the base/exponential/jittered
// backoff formula of spec §4.1, capped at MaxReconnectDelay.
func (c *Client) calculateReconnectDelay(attempt int) time.Duration {
	base := c.cfg.ReconnectDelay
	if !c.cfg.ExponentialBackoff {
		return base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > MaxReconnectDelay {
			delay = MaxReconnectDelay
			break
		}
	}

	jitterFrac := (rand.Float64()*2 - 1) * 0.2 // +/-20%
	jittered := time.Duration(float64(delay) * (1 + jitterFrac))
	if jittered > MaxReconnectDelay {
		jittered = MaxReconnectDelay
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// newPoolChannel opens a new confirm-mode channel on the active
// connection, for use as the factory behind channelPool.
func (c *Client) newPoolChannel() (driverChannel, error) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return nil, newError(ErrCodeNotConnected, "no active connection", nil)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, wrapError(ErrCodeChannel, "failed to open pooled channel", err, nil)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, wrapError(ErrCodeChannel, "failed to put pooled channel into confirm mode", err, nil)
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for ret := range returns {
			c.bus.Emit(EventMessageReturned, map[string]any{
				"exchange": ret.Exchange, "routingKey": ret.RoutingKey, "replyCode": ret.ReplyCode, "replyText": ret.ReplyText,
			})
		}
	}()
	return ch, nil
}

// startBackgroundTasks launches the periodic metrics, connection
// health, channel recovery, and cluster node health loops exactly once
// per Client lifetime (spec §4.1).
func (c *Client) startBackgroundTasks() {
	c.mu.Lock()
	if c.bgStarted {
		c.mu.Unlock()
		return
	}
	c.bgStarted = true
	c.stopBackground = make(chan struct{})
	stop := c.stopBackground
	c.mu.Unlock()

	c.bgWG.Add(1)
	go c.runTicker(stop, DefaultMetricsInterval, func() {
		c.bus.Emit(EventMetrics, c.metrics.Snapshot())
	})

	c.bgWG.Add(1)
	go c.runTicker(stop, DefaultConnectionHealthInterval, func() {
		if err := c.HealthCheck(context.Background()); err != nil {
			c.logger.Warn("connection health check failed; triggering reconnect", "error", err)
			go c.reconnect()
		}
	})

	c.bgWG.Add(1)
	go c.runTicker(stop, DefaultChannelRecoveryInterval, func() {
		c.recoverChannels()
	})

	if c.cfg.Cluster.NodeRecoveryInterval > 0 {
		c.bgWG.Add(1)
		go c.runTicker(stop, c.cfg.Cluster.NodeRecoveryInterval, c.checkClusterNodesHealth)
	}
}

func (c *Client) runTicker(stop chan struct{}, interval time.Duration, fn func()) {
	defer c.bgWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// recoverChannels runs one channel-recovery sweep (spec §4.1). Closed
// pooled channels are dropped via channelPool.Recover; if the default
// channel itself has closed, it is recreated with up to
// ChannelRecovery.MaxRetries attempts spaced by RetryDelay. Exhausting
// those retries triggers a full reconnect, mirroring the teacher's
// channel-recovery-falls-back-to-reconnect escalation.
func (c *Client) recoverChannels() {
	if !c.cfg.ChannelRecovery.AutoRecovery {
		return
	}

	c.pool.Recover()

	c.mu.RLock()
	ch := c.defaultChannel
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if !connected || ch == nil || !ch.IsClosed() {
		return
	}

	c.bus.Emit(EventChannelClosed, map[string]any{"reason": "default channel closed, recovering"})

	maxRetries := c.cfg.ChannelRecovery.MaxRetries
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if c.shuttingDown.Load() {
			return
		}
		if attempt > 1 {
			time.Sleep(c.cfg.ChannelRecovery.RetryDelay)
		}

		c.mu.RLock()
		stillConnected := c.connected
		c.mu.RUnlock()
		if !stillConnected || conn == nil || conn.IsClosed() {
			break
		}

		newCh, err := conn.Channel()
		if err != nil {
			c.logger.Warn("default channel recreation failed", "attempt", attempt, "error", err)
			continue
		}
		if err := newCh.Confirm(false); err != nil {
			_ = newCh.Close()
			c.logger.Warn("default channel confirm-mode failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.defaultChannel = newCh
		c.mu.Unlock()

		chClose := newCh.NotifyClose(make(chan *amqp.Error, 1))
		chReturn := newCh.NotifyReturn(make(chan amqp.Return, 1))
		go c.watchDefaultChannel(chClose, chReturn)

		c.bus.Emit(EventChannelRecovered, nil)
		return
	}

	c.logger.Warn("default channel recovery exhausted retries; triggering reconnect", "retries", maxRetries)
	go c.reconnect()
}

// checkClusterNodesHealth probes every configured URL with a short dial
// attempt, updating the node registry's health view independently of
// the active connection (spec §4.1's cluster-node health tracker).
func (c *Client) checkClusterNodesHealth() {
	amqpCfg := c.buildAMQPConfig()
	amqpCfg.Dial = amqp.DefaultDial(DefaultClusterHealthTimeout)
	for _, u := range c.cfg.URLs {
		conn, err := c.dialer.Dial(mergeCredentials(u, c.cfg), amqpCfg)
		if err != nil {
			c.registry.MarkUnhealthy(u)
			continue
		}
		c.registry.MarkHealthy(u)
		_ = conn.Close()
	}
}

// HealthCheck verifies the active connection and default channel are
// usable by asserting, checking, and deleting a transient probe queue.
// It returns ErrCodeNotConnected if there is no active connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	ch := c.defaultChannel
	connected := c.connected
	c.mu.RUnlock()
	if !connected || ch == nil {
		return newError(ErrCodeNotConnected, "no active connection", nil)
	}

	if _, err := ch.QueueDeclare(healthCheckQueueName, false, false, true, false, nil); err != nil {
		wrapped := wrapError(ErrCodeConnection, "health check declare failed", err, nil)
		c.bus.Emit(EventError, map[string]any{"op": "health.declare", "error": wrapped})
		return wrapped
	}
	if _, err := ch.QueueInspect(healthCheckQueueName); err != nil {
		wrapped := wrapError(ErrCodeConnection, "health check inspect failed", err, nil)
		c.bus.Emit(EventError, map[string]any{"op": "health.inspect", "error": wrapped})
		return wrapped
	}
	if _, err := ch.QueueDelete(healthCheckQueueName, false, false, false); err != nil {
		wrapped := wrapError(ErrCodeConnection, "health check delete failed", err, nil)
		c.bus.Emit(EventError, map[string]any{"op": "health.delete", "error": wrapped})
		return wrapped
	}
	return nil
}

// Close releases the default channel, every pooled channel, and the
// active connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	ch := c.defaultChannel
	stop := c.stopBackground
	started := c.bgStarted
	c.connected = false
	c.mu.Unlock()

	if started {
		close(stop)
		c.bgWG.Wait()
	}

	c.pool.CloseAll()

	if ch != nil && !ch.IsClosed() {
		_ = ch.Close()
	}
	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}

	c.bus.Emit(EventClosed, nil)
	return err
}

// GracefulShutdown waits, up to GracefulShutdownDrainCap, for
// MessagesSent to equal MessagesReceived before calling Close, giving
// in-flight deliveries a chance to settle (spec §4.1, §5). The shutdown
// flag is latched before the drain loop begins, so a connection drop
// during the drain window is not mistaken for a loss to recover from.
func (c *Client) GracefulShutdown() error {
	c.shuttingDown.Store(true)

	deadline := time.Now().Add(GracefulShutdownDrainCap)
	for time.Now().Before(deadline) {
		m := c.metrics.Snapshot()
		if m.MessagesSent == m.MessagesReceived {
			break
		}
		time.Sleep(GracefulShutdownPollInterval)
	}
	return c.Close()
}

// defaultChannelOrErr returns the active default channel or
// ErrCodeNotConnected.
func (c *Client) defaultChannelOrErr() (driverChannel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.defaultChannel == nil {
		return nil, newError(ErrCodeNotConnected, "no active connection", nil)
	}
	return c.defaultChannel, nil
}
