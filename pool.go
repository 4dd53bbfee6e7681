package rabbitcore

import (
	"context"
	"sync"
	"time"
)

// pooledChannel wraps a driverChannel with pool bookkeeping.
type pooledChannel struct {
	ch     driverChannel
	inUse  bool
	closed bool
}

// channelPool is a bounded set of confirm-mode channels shared across
// Publish callers (spec §4.2). Acquire blocks, polling at
// DefaultChannelCheckInterval, until a free channel is available or
// AcquireTimeout elapses, returning ErrCodeChannelAcquisitionTimeout.
// Release is idempotent: releasing an already-free or unknown channel
// is a no-op rather than an error, matching the teacher's
// ReleaseChannel behaviour.
//
// Grounded on the teacher's ChannelPool / GetChannel / ReleaseChannel /
// checkAndRecoverChannels.
type channelPool struct {
	mu sync.Mutex

	cfg     PoolConfig
	entries []*pooledChannel
	factory func() (driverChannel, error)
	logger  Logger
}

func newChannelPool(cfg PoolConfig, factory func() (driverChannel, error), logger Logger) *channelPool {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &channelPool{cfg: cfg, factory: factory, logger: logger}
}

// Acquire returns a free channel, creating one if the pool has not yet
// reached MaxChannels, or blocks-and-polls until one frees up or ctx /
// AcquireTimeout expires.
func (p *channelPool) Acquire(ctx context.Context) (driverChannel, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	ticker := time.NewTicker(DefaultChannelCheckInterval)
	defer ticker.Stop()

	for {
		if ch, ok := p.tryAcquire(); ok {
			return ch, nil
		}

		if time.Now().After(deadline) {
			return nil, newError(ErrCodeChannelAcquisitionTimeout,
				"timed out waiting for a free channel", map[string]any{"maxChannels": p.cfg.MaxChannels})
		}

		select {
		case <-ctx.Done():
			return nil, wrapError(ErrCodeChannelAcquisitionTimeout, "context cancelled while waiting for a free channel", ctx.Err(), nil)
		case <-ticker.C:
		}
	}
}

func (p *channelPool) tryAcquire() (driverChannel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if !e.inUse && !e.closed {
			e.inUse = true
			return e.ch, true
		}
	}

	if len(p.entries) < p.cfg.MaxChannels {
		ch, err := p.factory()
		if err != nil {
			p.logger.Warn("failed to create pooled channel", "error", err)
			return nil, false
		}
		e := &pooledChannel{ch: ch, inUse: true}
		p.entries = append(p.entries, e)
		return e.ch, true
	}

	return nil, false
}

// Release returns ch to the free pool. Releasing a channel not tracked
// by the pool, or already free, is a no-op.
func (p *channelPool) Release(ch driverChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.ch == ch {
			e.inUse = false
			return
		}
	}
}

// Recover sweeps every tracked entry, dropping closed channels that are
// not in use so the next Acquire creates a replacement, per the
// background channel recovery loop (spec §4.2). Closed channels that are
// still leased are kept.
func (p *channelPool) Recover() {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.entries[:0]
	for _, e := range p.entries {
		if e.inUse {
			live = append(live, e)
			continue
		}
		if e.ch.IsClosed() {
			e.closed = true
			p.logger.Warn("dropping closed pooled channel")
			continue
		}
		live = append(live, e)
	}
	p.entries = live
}

// CloseAll closes every tracked channel and empties the pool, used by
// Client.Close.
func (p *channelPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if !e.ch.IsClosed() {
			_ = e.ch.Close()
		}
	}
	p.entries = nil
}

// Len reports the current number of tracked channels (in use or free).
func (p *channelPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
