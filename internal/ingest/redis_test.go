package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/ingest"
)

func newRedisTransport(t *testing.T) (*miniredis.Miniredis, *ingest.RedisTransport) {
	t.Helper()
	mr := miniredis.RunT(t)
	tr := ingest.NewRedisTransport(ingest.RedisOptions{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { tr.Close() })
	return mr, tr
}

func TestRedisTransport_DeliversNewBatches(t *testing.T) {
	mr, tr := newRedisTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "fraud:alerts")
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish("fraud:alerts", `{"event":"heartbeat","payload":{}}`)
	mr.Publish("fraud:alerts", `not json`)
	mr.Publish("fraud:alerts", `{"event":"new_batch","payload":{"frauds":[
		{"id":"r1","fraud_status":"fraud","amount_brl":12.5,"fraud_score":0.9},
		{"id":"r2","fraud_status":"clean","amount_brl":3,"fraud_score":0.1}
	]}}`)

	b, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", b.Source)
	assert.NotEmpty(t, b.ID)
	require.Len(t, b.Frauds, 2)
	assert.Equal(t, "r1", b.Frauds[0].Key())
	assert.Equal(t, domain.StatusFraud, b.Frauds[0].FraudStatus)
	assert.Equal(t, "r2", b.Frauds[1].Key())
}

func TestRedisTransport_JoinFailsWhenServerDown(t *testing.T) {
	mr, tr := newRedisTransport(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tr.Subscribe(ctx, "fraud:alerts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe fraud:alerts")
}

func TestRedisTransport_ServerLossIsDisconnect(t *testing.T) {
	mr, tr := newRedisTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "fraud:alerts")
	require.NoError(t, err)
	defer sub.Close()

	mr.Close()
	_, err = sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrDisconnected), err.Error())
}

func TestRedisTransport_AdapterForwardsToSink(t *testing.T) {
	mr, tr := newRedisTransport(t)
	sink := &recordingSink{}
	a, _ := startAdapter(t, tr, sink)
	require.Eventually(t, a.Connected, 2*time.Second, time.Millisecond)

	mr.Publish("fraud:alerts", `{"event":"new_batch","payload":{"frauds":[{"id":"a1"},{"id":"a2"}]}}`)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a1", "a2"}, sink.snapshot())
}
