package rabbitcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeRegistry_RoundRobinRotates(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b", "c"}, FailoverRoundRobin, nil, false)

	first := r.Candidates()
	second := r.Candidates()

	assert.Equal(t, []string{"a", "b", "c"}, first)
	assert.Equal(t, []string{"b", "c", "a"}, second)
}

func TestNodeRegistry_UnhealthyNodesExcludedUnlessAllUnhealthy(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b", "c"}, FailoverRoundRobin, nil, false)
	r.MarkUnhealthy("b")
	r.MarkUnhealthy("b")
	r.MarkUnhealthy("b")

	candidates := r.Candidates()
	assert.NotContains(t, candidates, "b")
	assert.ElementsMatch(t, []string{"a", "c"}, candidates)
}

func TestNodeRegistry_BelowThresholdFailuresStayHealthy(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b"}, FailoverRoundRobin, nil, false)
	r.MarkUnhealthy("b")
	r.MarkUnhealthy("b")

	candidates := r.Candidates()
	assert.ElementsMatch(t, []string{"a", "b"}, candidates)

	snap := r.Snapshot()
	for _, s := range snap {
		if s.URL == "b" {
			assert.True(t, s.Healthy)
			assert.Equal(t, 2, s.FailureCount)
		}
	}
}

func TestNodeRegistry_FallsBackToFullSetWhenAllUnhealthy(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b"}, FailoverRoundRobin, nil, false)
	for i := 0; i < unhealthyFailureThreshold; i++ {
		r.MarkUnhealthy("a")
		r.MarkUnhealthy("b")
	}

	candidates := r.Candidates()
	assert.ElementsMatch(t, []string{"a", "b"}, candidates)
}

func TestNodeRegistry_PriorityNodesComeFirst(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b", "c", "d"}, FailoverRoundRobin, []string{"c", "a"}, false)

	candidates := r.Candidates()
	assert.Equal(t, []string{"c", "a", "b", "d"}, candidates)
}

func TestNodeRegistry_MarkHealthyClearsFailureCount(t *testing.T) {
	r := newNodeRegistry([]string{"a"}, FailoverRoundRobin, nil, false)
	r.MarkUnhealthy("a")
	r.MarkUnhealthy("a")
	r.MarkHealthy("a")

	snap := r.Snapshot()
	assert.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)
	assert.Equal(t, 0, snap[0].FailureCount)
}

func TestNodeRegistry_ShuffleProducesAPermutation(t *testing.T) {
	r := newNodeRegistry([]string{"a", "b", "c", "d", "e"}, FailoverRoundRobin, nil, true)
	candidates := r.Candidates()
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, candidates)
}
