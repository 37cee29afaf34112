package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

func TestEncode(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	msgs, err := encode(ctx, []Event{
		{Key: "a", Value: map[string]int{"n": 1}},
		{Key: "b", Value: "x"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Value))
	assert.Equal(t, `"x"`, string(msgs[1].Value))
	assert.Equal(t, []kafka.Header{{Key: RequestIDHeader, Value: []byte("req-1")}}, msgs[1].Headers)

	msgs, err = encode(context.Background(), []Event{{Key: "c", Value: 1}})
	require.NoError(t, err)
	assert.Empty(t, msgs[0].Headers)

	_, err = encode(ctx, []Event{{Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestWithHeaders(t *testing.T) {
	ctx := withHeaders(context.Background(), []kafka.Header{
		{Key: "other", Value: []byte("x")},
		{Key: RequestIDHeader, Value: []byte("req-2")},
	})
	assert.Equal(t, "req-2", logger.RequestID(ctx))

	ctx = withHeaders(context.Background(), nil)
	assert.Empty(t, logger.RequestID(ctx))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	v, err := DecodeJSON[payload]([]byte(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", v.Name)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}

func TestPublishBatch_Empty(t *testing.T) {
	p := &Producer{}
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}
