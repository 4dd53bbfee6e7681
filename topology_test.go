package rabbitcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AssertQueue_ReturnsInfo(t *testing.T) {
	c, _ := newTestClient(t)
	info, err := c.AssertQueue("orders", QueueOptions{Durable: true})
	require.NoError(t, err)
	assert.Equal(t, "orders", info.Name)
}

func TestQueueOptions_ArgsMapsDeadLetterFields(t *testing.T) {
	opts := QueueOptions{
		DeadLetterExchange:   "dlx",
		DeadLetterRoutingKey: "dlq.key",
		MessageTTL:           5000,
		MaxLength:            100,
	}
	args := opts.args()
	assert.Equal(t, "dlx", args["x-dead-letter-exchange"])
	assert.Equal(t, "dlq.key", args["x-dead-letter-routing-key"])
	assert.Equal(t, int64(5000), args["x-message-ttl"])
	assert.Equal(t, int64(100), args["x-max-length"])
}

func TestQueueOptions_ArgsNilWhenEmpty(t *testing.T) {
	assert.Nil(t, QueueOptions{}.args())
}

func TestExchangeOptions_ArgsMapsAlternateExchange(t *testing.T) {
	args := ExchangeOptions{AlternateExchange: "alt"}.args()
	assert.Equal(t, "alt", args["x-alternate-exchange"])
}

func TestClient_AssertExchange_Succeeds(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.AssertExchange("events", "topic", ExchangeOptions{Durable: true}))
}

func TestClient_BindAndUnbindQueue(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.BindQueue("orders", "orders.created", "events"))
	require.NoError(t, c.UnbindQueue("orders", "orders.created", "events"))
}

func TestClient_DeleteQueue_RequiresConnection(t *testing.T) {
	c, err := NewClient(Config{URLs: []string{"amqp://localhost/"}, Logger: NewNoopLogger()})
	require.NoError(t, err)
	_, err = c.DeleteQueue("orders", false, false)
	require.Error(t, err)
}

func TestClient_PurgeQueue_Succeeds(t *testing.T) {
	c, _ := newTestClient(t)
	n, err := c.PurgeQueue("orders")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClient_DeleteExchange_Succeeds(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.DeleteExchange("events", false))
}
