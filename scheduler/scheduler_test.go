package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDrainQueueAppliesAllUpdates(t *testing.T) {
	var count int64
	s := New(zap.NewNop(), 10*time.Millisecond, nil, nil, nil)

	for i := 0; i < 5; i++ {
		s.Enqueue(PlasticityUpdate{Apply: func() { atomic.AddInt64(&count, 1) }})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	require.Equal(t, int64(5), atomic.LoadInt64(&count))
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	s := New(zap.NewNop(), time.Hour, nil, nil, nil) // never ticks during the test
	for i := 0; i < queueCapacity+10; i++ {
		s.Enqueue(PlasticityUpdate{Apply: func() {}})
	}
	require.LessOrEqual(t, len(s.queue), queueCapacity)
}

func TestLifecycleAndCompactionHooksFire(t *testing.T) {
	s := New(zap.NewNop(), 5*time.Millisecond, nil, nil, nil)
	s.lifecycleEvery = 5 * time.Millisecond
	s.compactionEvery = 8 * time.Millisecond

	var lifecycleCalls, compactionCalls int64
	s.lifecycle = func(shardIndex, shardCount int) { atomic.AddInt64(&lifecycleCalls, 1) }
	s.compaction = func() { atomic.AddInt64(&compactionCalls, 1) }

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Greater(t, atomic.LoadInt64(&lifecycleCalls), int64(0))
	require.Greater(t, atomic.LoadInt64(&compactionCalls), int64(0))
}
