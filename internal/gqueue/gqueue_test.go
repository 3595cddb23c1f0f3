package gqueue_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/internal/gqueue"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := gqueue.New[int](ctx)
	defer q.Wait()
	defer cancel()

	// Far more than any channel buffer, without a reader.
	for i := range 1000 {
		q.Push(i)
	}

	for i := range 1000 {
		require.Equal(t, i, gtest.ReceiveSoon(t, q.Out()))
	}

	gtest.NotSending(t, q.Out())
}

func TestQueue_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := gqueue.New[string](ctx)
	q.Push("never read")

	cancel()
	q.Wait()
}
