package gchan_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/internal/gchan"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestReqResp(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type req struct {
		N    int
		Resp chan int
	}

	reqs := make(chan req)
	go func() {
		r := <-reqs
		r.Resp <- r.N * 2
	}()

	r := req{N: 21, Resp: make(chan int, 1)}
	got, ok := gchan.ReqResp(ctx, gtest.NewLogger(t), reqs, r, r.Resp, "double")
	require.True(t, ok)
	require.Equal(t, 42, got)
}

func TestSendC_canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan int)
	require.False(t, gchan.SendC(ctx, gtest.NewLogger(t), ch, 1, "never"))

	_, ok := gchan.RecvC(ctx, gtest.NewLogger(t), ch, "never")
	require.False(t, ok)
}
