package rabbitcore

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := wrapError(ErrCodePublish, "publish failed", cause, nil)
	assert.ErrorIs(t, err, cause)
}

func TestError_MarshalJSON_FlattensCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := wrapError(ErrCodeConnection, "dial failed", cause, map[string]any{"url": "amqp://localhost"})

	data, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, string(ErrCodeConnection), decoded["code"])
	assert.Equal(t, "dial failed", decoded["message"])
	assert.Equal(t, "dial tcp: refused", decoded["cause"])
}

func TestError_MarshalJSON_OmitsCauseWhenNil(t *testing.T) {
	err := newError(ErrCodeConfiguration, "bad config", nil)
	data, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.NotContains(t, string(data), `"cause"`)
}

func TestError_StringFormat(t *testing.T) {
	err := newError(ErrCodeNotConnected, "no active connection", nil)
	assert.Contains(t, err.Error(), "NOT_CONNECTED")
	assert.Contains(t, err.Error(), "no active connection")
}
