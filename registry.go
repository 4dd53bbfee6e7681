package rabbitcore

import (
	"math/rand"
	"sync"
	"time"
)

// NodeStatus describes a single cluster URL's observed health, exported
// so callers can inspect cluster state via Client.NodeStatuses.
type NodeStatus struct {
	URL          string
	Healthy      bool
	LastChecked  time.Time
	FailureCount int
}

// nodeRegistry tracks per-URL health and produces ordered candidate
// lists for connection attempts, implementing the node-selection rule
// of spec §4.1: healthy nodes first (falling back to the full set when
// none are healthy), priority nodes preserved in relative order ahead
// of the rest, then either a monotonic round-robin rotation or a
// shuffle depending on FailoverStrategy / ClusterOptions.ShuffleNodes.
//
// Grounded on the teacher's NodeStatus map, getNextURL, and
// checkClusterNodesHealth.
type nodeRegistry struct {
	mu sync.Mutex

	nodes    map[string]*NodeStatus
	order    []string
	strategy FailoverStrategy
	priority []string
	shuffle  bool

	cursor int
	rng    *rand.Rand
}

func newNodeRegistry(urls []string, strategy FailoverStrategy, priority []string, shuffle bool) *nodeRegistry {
	nodes := make(map[string]*NodeStatus, len(urls))
	order := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, exists := nodes[u]; exists {
			continue
		}
		nodes[u] = &NodeStatus{URL: u, Healthy: true}
		order = append(order, u)
	}
	return &nodeRegistry{
		nodes:    nodes,
		order:    order,
		strategy: strategy,
		priority: priority,
		shuffle:  shuffle,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Candidates returns the ordered list of URLs to try, healthy-first with
// priority nodes (in their configured relative order) pulled to the
// front, followed by the remaining nodes rotated or shuffled per the
// configured strategy.
func (r *nodeRegistry) Candidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := make([]string, 0, len(r.order))
	for _, u := range r.order {
		if r.nodes[u].Healthy {
			healthy = append(healthy, u)
		}
	}
	pool := healthy
	if len(pool) == 0 {
		pool = append([]string{}, r.order...)
	}

	ordered := r.applyPriority(pool)

	// Priority nodes stay at the front; only the remaining candidates are
	// shuffled or rotated.
	head := 0
	for _, p := range r.priority {
		if head < len(ordered) && ordered[head] == p {
			head++
		}
	}
	rest := ordered[head:]

	if r.shuffle || r.strategy == FailoverRandom {
		r.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		return ordered
	}

	// Round-robin: rotate the non-priority candidates so successive calls
	// start from a different offset, preserving relative order.
	if len(rest) == 0 {
		return ordered
	}
	offset := r.cursor % len(rest)
	r.cursor++
	rotated := append([]string{}, ordered[:head]...)
	for i := range rest {
		rotated = append(rotated, rest[(offset+i)%len(rest)])
	}
	return rotated
}

// applyPriority moves any configured priority URL present in pool to
// the front, preserving the relative order of r.priority, followed by
// the remaining pool entries in their existing order.
func (r *nodeRegistry) applyPriority(pool []string) []string {
	if len(r.priority) == 0 {
		return append([]string{}, pool...)
	}
	inPool := make(map[string]bool, len(pool))
	for _, u := range pool {
		inPool[u] = true
	}
	seen := make(map[string]bool, len(pool))
	out := make([]string, 0, len(pool))
	for _, u := range r.priority {
		if inPool[u] && !seen[u] {
			out = append(out, u)
			seen[u] = true
		}
	}
	for _, u := range pool {
		if !seen[u] {
			out = append(out, u)
			seen[u] = true
		}
	}
	return out
}

// MarkHealthy resets the failure count and marks u healthy.
func (r *nodeRegistry) MarkHealthy(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[u]
	if !ok {
		return
	}
	n.Healthy = true
	n.FailureCount = 0
	n.LastChecked = time.Now()
}

// unhealthyFailureThreshold is the consecutive-failure count at which a
// node flips to unhealthy (spec §3 Data Model: failureCount >= 3 =>
// healthy = false), mirroring the teacher's NodeStatus semantics.
const unhealthyFailureThreshold = 3

// MarkUnhealthy increments the failure count for u, flipping Healthy to
// false only once FailureCount reaches unhealthyFailureThreshold.
func (r *nodeRegistry) MarkUnhealthy(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[u]
	if !ok {
		return
	}
	n.FailureCount++
	if n.FailureCount >= unhealthyFailureThreshold {
		n.Healthy = false
	}
	n.LastChecked = time.Now()
}

// Snapshot returns a copy of every tracked node's current status.
func (r *nodeRegistry) Snapshot() []NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NodeStatus, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, *r.nodes[u])
	}
	return out
}
