package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/flow"
	"github.com/spec-kit/taskflow-auth/internal/observability"
)

func TestFlowSweeperRemovesExpiredFlows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := flow.NewMemoryStore(flow.Options{TTL: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()

	_, err := store.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = store.Create(ctx, "bob")
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	sweeper := NewFlowSweeper(store, time.Minute, zap.NewNop(), metrics)
	require.NotNil(t, sweeper)

	require.Zero(t, sweeper.SweepOnce(ctx))

	now = now.Add(2 * time.Second)
	require.Equal(t, 2, sweeper.SweepOnce(ctx))
	require.Zero(t, store.Len())
	require.Equal(t, int64(2), metrics.AuthCount(observability.AuthFlowsSwept))
}

func TestFlowSweeperSkipsSelfExpiringStores(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.Nil(t, NewFlowSweeper(flow.NewRedisStore(rdb, "", flow.Options{}), time.Minute, zap.NewNop(), nil))
	require.Nil(t, NewFlowSweeper(flow.NewMemoryStore(flow.Options{}), 0, zap.NewNop(), nil))
}

func TestFlowSweeperStopsOnCancel(t *testing.T) {
	sweeper := NewFlowSweeper(flow.NewMemoryStore(flow.Options{}), time.Millisecond, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
