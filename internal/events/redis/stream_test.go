package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

type fakeClient struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeClient) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1700000000000-0", f.err)
}

func (f *fakeClient) Close() error { return nil }

func TestStreamSinkAddsEvent(t *testing.T) {
	client := &fakeClient{}
	sink := &StreamSink{client: client, stream: DefaultStream, maxLen: 10}

	e := events.NewAuditEvent("withdraw", 3, decimal.RequireFromString("7.5"))
	e.Outcome = events.OutcomeFailure
	require.NoError(t, sink.Write(context.Background(), e))

	require.Len(t, client.args, 1)
	args := client.args[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, "withdraw", values["operation"])
	assert.Equal(t, "7.50", values["amount"])
	assert.Equal(t, "failure", values["outcome"])
	assert.Equal(t, int64(3), values["account_id"])
}

func TestStreamSinkReturnsRedisError(t *testing.T) {
	sink := &StreamSink{client: &fakeClient{err: errors.New("READONLY")}, stream: "s"}
	err := sink.Write(context.Background(), events.NewAuditEvent("deposit", 1, decimal.NewFromInt(1)))
	assert.EqualError(t, err, "READONLY")
}
