package rabbitcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Publish_SucceedsOnAck(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Publish(context.Background(), "exchange", "key", []byte("hi"), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Metrics().MessagesSent)
}

func TestClient_Publish_ReturnsErrorOnBrokerNack(t *testing.T) {
	c, _ := newTestClient(t)
	// Acquire a pooled channel directly to configure its nack behaviour,
	// since Publish acquires from the pool rather than the default channel.
	pooled, err := c.pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pooled.(*fakeChannel)
	fc.nackConfirms = true
	c.pool.Release(pooled)

	err = c.Publish(context.Background(), "exchange", "key", []byte("hi"), PublishOptions{})
	require.Error(t, err)
	var rcErr *Error
	require.ErrorAs(t, err, &rcErr)
	assert.Equal(t, ErrCodePublish, rcErr.Code)
}

func TestClient_Publish_WrapsTransportError(t *testing.T) {
	c, _ := newTestClient(t)
	pooled, err := c.pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pooled.(*fakeChannel)
	fc.publishErr = assert.AnError
	c.pool.Release(pooled)

	err = c.Publish(context.Background(), "exchange", "key", []byte("hi"), PublishOptions{})
	require.Error(t, err)
	var rcErr *Error
	require.ErrorAs(t, err, &rcErr)
	assert.Equal(t, ErrCodePublish, rcErr.Code)
}

func TestClient_SendToQueue_UsesDefaultExchange(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.SendToQueue(context.Background(), "my.queue", []byte("body"), PublishOptions{}))
}

func TestClient_PublishBatch_StopsAtFirstFailure(t *testing.T) {
	c, _ := newTestClient(t)
	pooled, err := c.pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pooled.(*fakeChannel)
	fc.nackConfirms = true
	c.pool.Release(pooled)

	bodies := [][]byte{[]byte("1"), []byte("2"), []byte("3")}

	n, err := c.PublishBatch(context.Background(), "exchange", "key", bodies, PublishOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestClient_PublishBatch_AllSucceed(t *testing.T) {
	c, _ := newTestClient(t)
	bodies := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	n, err := c.PublishBatch(context.Background(), "exchange", "key", bodies, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, len(bodies), n)
}
