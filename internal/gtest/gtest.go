// Package gtest holds shared helpers for tests across the module.
package gtest

import (
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a *slog.Logger that writes through t.Log,
// so output is associated with the test that produced it.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Text())
}

var scaleFactor = func() float64 {
	s := os.Getenv("CHAOSCORE_TEST_TIME_FACTOR")
	if s == "" {
		return 1
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		panic("invalid CHAOSCORE_TEST_TIME_FACTOR: " + s)
	}
	return f
}()

// ScaleMs returns a duration of ms milliseconds,
// multiplied by the CHAOSCORE_TEST_TIME_FACTOR environment variable if set.
// Slow CI machines can raise the factor instead of every test raising its timeouts.
func ScaleMs(ms int64) time.Duration {
	return time.Duration(float64(ms)*scaleFactor) * time.Millisecond
}

// ReceiveSoon receives from ch, failing the test if nothing arrives within a short, scaled timeout.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	return ReceiveOrTimeout(t, ch, ScaleMs(500))
}

// ReceiveOrTimeout receives from ch, failing the test if nothing arrives within timeout.
func ReceiveOrTimeout[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no receive within %s", timeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch, failing the test if the send does not complete within a short, scaled timeout.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(500))
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatal("send did not complete in time")
	}
}

// NotSending fails the test if a value is immediately available on ch.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, got %v", v)
	default:
	}
}

// NotSendingSoon fails the test if a value arrives on ch within a short, scaled duration.
func NotSendingSoon[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(50))
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, got %v", v)
	case <-timer.C:
	}
}
