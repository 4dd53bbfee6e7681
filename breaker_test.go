package rabbitcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second})

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.False(t, b.Allow())
	assert.True(t, b.IsOpen())
	assert.Equal(t, 3, b.Failures())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	b := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.Allow())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	b := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
	assert.False(t, b.IsOpen())
}
