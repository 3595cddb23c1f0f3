// Package gchan contains small helpers for the channel-based
// request/response patterns used between goroutines.
package gchan

import (
	"context"
	"log/slog"
)

// SendC sends val on ch, returning true if the send succeeded
// or false if ctx was canceled first.
// The name is used only in the log message on cancellation.
func SendC[T any](
	ctx context.Context, log *slog.Logger,
	ch chan<- T, val T,
	name string,
) bool {
	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled while sending",
			"name", name,
			"cause", context.Cause(ctx),
		)
		return false
	case ch <- val:
		return true
	}
}

// RecvC receives from ch, returning the value and true,
// or the zero value and false if ctx was canceled first.
func RecvC[T any](
	ctx context.Context, log *slog.Logger,
	ch <-chan T,
	name string,
) (T, bool) {
	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled while receiving",
			"name", name,
			"cause", context.Cause(ctx),
		)
		var zero T
		return zero, false
	case v := <-ch:
		return v, true
	}
}

// ReqResp sends req on reqCh and then waits for a value on respCh.
// The response channel is expected to be buffered,
// so the responder never blocks.
func ReqResp[Req, Resp any](
	ctx context.Context, log *slog.Logger,
	reqCh chan<- Req, req Req,
	respCh <-chan Resp,
	name string,
) (Resp, bool) {
	if !SendC(ctx, log, reqCh, req, name+":request") {
		var zero Resp
		return zero, false
	}

	return RecvC(ctx, log, respCh, name+":response")
}
