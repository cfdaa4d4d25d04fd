package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
)

func newTestQueue(t *testing.T) (*Queue, *clock.Frozen) {
	t.Helper()
	store, err := kv.Open(t.TempDir()+"/kv.db", clock.Real{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(store, cl), cl
}

func sig(id string, cat domain.Category) domain.ValidatedSignal {
	return domain.ValidatedSignal{
		Signal: domain.Signal{SignalID: id, Category: cat},
		IsValid: true, PositionSizeUSD: 10, RecommendedEntry: 100, StopLossPrice: 90,
	}
}

func TestDrain_TakesCeilHalfFromPriorityFirst(t *testing.T) {
	q, cl := newTestQueue(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(sig(fmt.Sprintf("fib-%d", i), domain.CategoryFibonacciScalping)))
		cl.Advance(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(sig(fmt.Sprintf("std-%d", i), domain.CategoryGeneric)))
		cl.Advance(time.Millisecond)
	}

	batch, err := q.Drain(4)
	require.NoError(t, err)
	require.Len(t, batch, 4)

	var fibCount int
	for _, s := range batch {
		if s.Category == domain.CategoryFibonacciScalping {
			fibCount++
		}
	}
	require.Equal(t, 2, fibCount, "ceil(4/2)=2 should come from the priority set")
}

func TestDrain_BackfillsFromStandardWhenPriorityThin(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Enqueue(sig("fib-0", domain.CategoryFibonacciScalping)))
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(sig(fmt.Sprintf("std-%d", i), domain.CategoryGeneric)))
	}

	batch, err := q.Drain(4)
	require.NoError(t, err)
	require.Len(t, batch, 4)
}
