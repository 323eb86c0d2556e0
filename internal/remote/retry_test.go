package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

var errTransient = &TransportError{Op: "test", Err: errors.New("connection refused")}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}

func TestRetry_SucceedsSecondAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("called %d times, want 2", calls)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 3 {
		t.Errorf("called %d times, want 3", calls)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("error chain does not contain TransportError: %v", err)
	}
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	rejected := &RejectedError{Op: "test", StatusCode: http.StatusBadRequest}
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return rejected
	})
	if calls != 1 {
		t.Errorf("called %d times, want 1 for a 4xx", calls)
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected in chain, got: %v", err)
	}
}

func TestRetry_ServerErrorIsRetried(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), 2, func() error {
		calls++
		return &RejectedError{Op: "test", StatusCode: http.StatusBadGateway}
	})
	if calls != 2 {
		t.Errorf("called %d times, want 2 for a 5xx", calls)
	}
}

func TestRetry_ContextCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	calls := 0
	err := Retry(ctx, 3, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 0 {
		t.Errorf("called %d times, want 0 (context already cancelled)", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got: %v", err)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := Retry(ctx, 10, func() error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls < 1 || calls >= 10 {
		t.Errorf("calls = %d, expected between 1 and 9", calls)
	}
}

func TestRetryBackOff_GrowsWithJitter(t *testing.T) {
	b := newRetryBackOff()
	// Interval k is 250ms*2^k, each wait within [interval/2, interval*3/2].
	for k, interval := range []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second} {
		d := b.NextBackOff()
		if d < interval/2 || d > interval*3/2 {
			t.Errorf("wait %d = %v, expected [%v, %v]", k, d, interval/2, interval*3/2)
		}
	}
}

func TestRetryBackOff_Capped(t *testing.T) {
	b := newRetryBackOff()
	var d time.Duration
	for range 10 {
		d = b.NextBackOff()
	}
	if d > maxDelay*3/2 {
		t.Errorf("wait = %v, expected <= %v", d, maxDelay*3/2)
	}
	if d < maxDelay/2 {
		t.Errorf("wait = %v, expected >= %v", d, maxDelay/2)
	}
}

func TestRetry_PermanentOnLastAttemptIsUnwrapped(t *testing.T) {
	rejected := &RejectedError{Op: "test", StatusCode: http.StatusNotFound}
	err := Retry(context.Background(), 1, func() error { return rejected })

	var got *RejectedError
	if !errors.As(err, &got) || got != rejected {
		t.Fatalf("err = %v, want the RejectedError itself", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in chain, got: %v", err)
	}
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), 0, func() error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}

func TestRejectedError_Is(t *testing.T) {
	tests := []struct {
		code   int
		target error
		want   bool
	}{
		{http.StatusUnauthorized, ErrUnauthorized, true},
		{http.StatusNotFound, ErrNotFound, true},
		{http.StatusConflict, ErrConflict, true},
		{http.StatusConflict, ErrNotFound, false},
		{http.StatusInternalServerError, ErrRejected, true},
	}
	for _, tt := range tests {
		err := error(&RejectedError{StatusCode: tt.code})
		if got := errors.Is(err, tt.target); got != tt.want {
			t.Errorf("errors.Is(%d, %v) = %v, want %v", tt.code, tt.target, got, tt.want)
		}
	}
}
