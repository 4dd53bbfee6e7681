package rabbitcore

import (
	"fmt"
	"time"
)

// Constants governing validated configuration ranges and fixed protocol
// behaviour, mirroring the bounds the teacher implementation hard-codes.
const (
	// MinHeartbeat is the minimum AMQP heartbeat interval.
	MinHeartbeat = 1 * time.Second
	// MaxHeartbeat is the maximum AMQP heartbeat interval.
	MaxHeartbeat = 60 * time.Second
	// MinReconnectDelay is the minimum base reconnect backoff.
	MinReconnectDelay = 1000 * time.Millisecond
	// MaxReconnectDelay is the hard cap on any reconnect backoff delay.
	MaxReconnectDelay = 60000 * time.Millisecond
	// DefaultChannelCheckInterval is the pool-acquire poll interval.
	DefaultChannelCheckInterval = 100 * time.Millisecond
	// DefaultMetricsInterval is the periodic metrics-emission interval.
	DefaultMetricsInterval = 60 * time.Second
	// DefaultConnectionHealthInterval is the connection health-check interval.
	DefaultConnectionHealthInterval = 30 * time.Second
	// DefaultChannelRecoveryInterval is the channel-recovery sweep interval.
	DefaultChannelRecoveryInterval = 5 * time.Second
	// DefaultClusterHealthTimeout is the per-node probe timeout for cluster health checks.
	DefaultClusterHealthTimeout = 5 * time.Second
	// MaxInitialConnectAttempts bounds the number of distinct URL selections
	// tried within a single Connect call before it reports failure.
	MaxInitialConnectAttempts = 5
	// DefaultPublishTimeout is applied when PublishOptions.Timeout is zero.
	DefaultPublishTimeout = 30 * time.Second
	// DefaultConsumeTimeout is applied when ConsumeOptions.Timeout is zero.
	DefaultConsumeTimeout = 30 * time.Second
	// GracefulShutdownDrainCap bounds how long GracefulShutdown waits for
	// in-flight messages to settle before proceeding to Close.
	GracefulShutdownDrainCap = 3 * time.Second
	// GracefulShutdownPollInterval is the poll period while draining.
	GracefulShutdownPollInterval = 100 * time.Millisecond
	// healthCheckQueueName is the transient queue used by HealthCheck's probe.
	healthCheckQueueName = "healthCheckQueue"
)

// FailoverStrategy selects how the node registry orders URL attempts.
type FailoverStrategy string

const (
	// FailoverRoundRobin cycles through nodes using a monotonic cursor.
	FailoverRoundRobin FailoverStrategy = "round-robin"
	// FailoverRandom shuffles the non-priority candidate order on every selection.
	FailoverRandom FailoverStrategy = "random"
)

// PoolConfig configures the bounded channel pool.
type PoolConfig struct {
	// MaxChannels bounds the number of confirm channels the pool may hold.
	MaxChannels int
	// AcquireTimeout bounds how long Acquire waits for a free channel.
	AcquireTimeout time.Duration
}

// CircuitBreakerConfig configures the connect-attempt circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects Connect calls after
	// the last recorded failure before letting a new attempt through.
	ResetTimeout time.Duration
}

// BatchConfig configures message batching defaults.
type BatchConfig struct {
	// Size is advisory batch-size guidance for callers building their own
	// batching loop; PublishBatch does not consult it and accepts any
	// number of messages.
	Size int
	// TimeoutMs is advisory batching-window guidance for callers; the core
	// itself does not buffer messages across calls.
	TimeoutMs time.Duration
}

// ClusterOptions configures multi-node failover and background health checks.
type ClusterOptions struct {
	// RetryConnectTimeout is carried on the configuration but not read by
	// the client; each per-URL dial attempt is bounded by
	// Config.ConnectionTimeout.
	RetryConnectTimeout time.Duration
	// NodeRecoveryInterval is the period of the background cluster-node
	// health sweep. Zero disables the sweep.
	NodeRecoveryInterval time.Duration
	// ShuffleNodes randomizes the non-priority candidate order on every
	// selection cycle, independent of FailoverStrategy.
	ShuffleNodes bool
	// PriorityNodes lists URLs to place first in the candidate order,
	// preserving their relative order, whenever they are present in the
	// healthy (or, failing that, full) candidate set.
	PriorityNodes []string
}

// ChannelRecoveryConfig configures the background channel-recovery sweep.
type ChannelRecoveryConfig struct {
	// MaxRetries bounds recreation attempts for a closed default channel.
	// Closed idle pool entries are dropped rather than recreated.
	MaxRetries int
	// RetryDelay is the pause between recreation attempts.
	RetryDelay time.Duration
	// AutoRecovery enables the sweep; when false, a closed default channel
	// is left closed until the next full reconnect, and closed pool
	// entries are not dropped from the pool.
	AutoRecovery bool
}

// TLSConfig carries optional explicit TLS material. The client does not
// apply any of these fields when dialling: amqps URLs are dialled with
// the driver's default TLS settings (the system certificate pool and
// standard verification).
type TLSConfig struct {
	// CABundles holds PEM-encoded CA certificates to trust in addition to
	// the system pool.
	CABundles []string
	// ClientCert and ClientKey are PEM-encoded, for mutual TLS.
	ClientCert string
	ClientKey  string
	// KeyPassphrase decrypts an encrypted ClientKey, if set.
	KeyPassphrase string
	// Validate records whether server certificate validation is wanted;
	// like the other fields it is not applied when dialling.
	Validate bool
}

// Config is the immutable, validated configuration for a Client. It is
// the single structured value accepted at construction; rabbitcore does
// not accept arbitrary key/value option maps (see spec §6, §9).
type Config struct {
	// URLs is the list of cluster node URLs. At least one is required.
	// A single URL may be supplied; it is treated as a one-element list.
	URLs []string

	// Heartbeat is the AMQP heartbeat interval, 1-60s.
	Heartbeat time.Duration
	// ConnectionName is a human-readable name attached to the AMQP
	// connection for broker-side debugging (RabbitMQ management UI).
	ConnectionName string
	// ConnectionTimeout bounds each per-URL dial attempt.
	ConnectionTimeout time.Duration
	// VHost selects the virtual host. Empty means the broker default.
	VHost string
	// Username / Password supply credentials out of band from the URL.
	// When set, they are merged into the URL's userinfo at connect time,
	// overriding any credentials already present in the URL.
	Username string
	Password string

	// PrefetchCount / PrefetchGlobal configure the default channel's QoS.
	PrefetchCount  int
	PrefetchGlobal bool

	// ReconnectDelay is the base reconnect backoff, 1000-60000ms.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds reconnect attempts; -1 means unbounded.
	MaxReconnectAttempts int
	// ExponentialBackoff enables 2^n backoff with +/-20% jitter, capped at 60s.
	ExponentialBackoff bool
	// FailoverStrategy selects round-robin or random node ordering.
	FailoverStrategy FailoverStrategy

	Pool           PoolConfig
	CircuitBreaker CircuitBreakerConfig
	Batch          BatchConfig
	Cluster        ClusterOptions
	ChannelRecovery ChannelRecoveryConfig

	// TLS carries optional explicit TLS material. It is not applied when
	// dialling; see TLSConfig.
	TLS TLSConfig

	// Logger receives structured log records. Defaults to a zap-backed
	// sink writing JSON to stderr when nil.
	Logger Logger
	// Tracer, when set, is consulted to propagate trace context into
	// outgoing message headers. Optional.
	Tracer Tracer
	// MetricsRegisterer, when set, additionally registers Prometheus
	// collectors for the client's counters. Optional.
	MetricsRegisterer MetricsRegisterer
}

// withDefaults returns a copy of cfg with zero-valued optional fields
// filled in, mirroring the teacher's NewClient default-filling step.
func (cfg Config) withDefaults() Config {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 60 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = -1
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.FailoverStrategy == "" {
		cfg.FailoverStrategy = FailoverRoundRobin
	}
	if cfg.Pool.MaxChannels == 0 {
		cfg.Pool.MaxChannels = 10
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 5 * time.Second
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 100
	}
	if cfg.Batch.TimeoutMs == 0 {
		cfg.Batch.TimeoutMs = 1 * time.Second
	}
	if cfg.ChannelRecovery.MaxRetries == 0 {
		cfg.ChannelRecovery.MaxRetries = 3
	}
	if cfg.ChannelRecovery.RetryDelay == 0 {
		cfg.ChannelRecovery.RetryDelay = 1 * time.Second
	}
	return cfg
}

// validateConfig validates configuration supplied at construction. All
// construction errors fail fast and are never reconciled (spec §7).
func validateConfig(cfg Config) error {
	if len(cfg.URLs) == 0 {
		return newError(ErrCodeConfiguration, "at least one URL must be provided", nil)
	}

	if cfg.Heartbeat != 0 && (cfg.Heartbeat < MinHeartbeat || cfg.Heartbeat > MaxHeartbeat) {
		return newError(ErrCodeConfiguration,
			fmt.Sprintf("heartbeat must be between %s and %s", MinHeartbeat, MaxHeartbeat), nil)
	}

	if cfg.ReconnectDelay != 0 && (cfg.ReconnectDelay < MinReconnectDelay || cfg.ReconnectDelay > MaxReconnectDelay) {
		return newError(ErrCodeConfiguration,
			fmt.Sprintf("reconnect delay must be between %s and %s", MinReconnectDelay, MaxReconnectDelay), nil)
	}

	if cfg.Pool.MaxChannels < 0 {
		return newError(ErrCodeConfiguration, "max channels must not be negative", nil)
	}

	switch cfg.FailoverStrategy {
	case "", FailoverRoundRobin, FailoverRandom:
	default:
		return newError(ErrCodeConfiguration, "unknown failover strategy: "+string(cfg.FailoverStrategy), nil)
	}

	return nil
}
