package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mandatesync/internal/types"
)

// noopSleep is a sleep function that does nothing, for fast tests.
func noopSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, policy RetryPolicy) *BaseClient {
	t.Helper()
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		DefaultBreakerSettings("test-breaker"),
		policy,
		"MandateSync-Test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}
}

func newGet(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())

	resp, err := client.Do(newGet(t, context.Background(), server.URL+"/test"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestDo_InjectsHeaders(t *testing.T) {
	var gotReqID, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReqID = r.Header.Get("X-Request-Id")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())

	ctx := types.WithRequestID(context.Background(), "req-abc-123")
	resp, err := client.Do(newGet(t, ctx, server.URL))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if gotReqID != "req-abc-123" {
		t.Errorf("X-Request-Id = %q, want %q", gotReqID, "req-abc-123")
	}
	if gotUA != "MandateSync-Test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy(3))

	resp, err := client.Do(newGet(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	resp.Body.Close()

	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestDo_ExhaustedRetriesMapsToUpstream(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy(2))

	_, err := client.Do(newGet(t, context.Background(), server.URL))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("Code = %q, want %q", appErr.Code, types.ErrCodeUpstreamUnavailable)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDo_RateLimitMapsToUpstreamRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy(1))

	_, err := client.Do(newGet(t, context.Background(), server.URL))

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Fatalf("expected upstream_rate_limited, got %v", err)
	}
}

func TestDo_HonorsStripeShouldRetryFalse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Stripe-Should-Retry", "false")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy(3))

	if _, err := client.Do(newGet(t, context.Background(), server.URL)); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestDo_DoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy(3))

	resp, err := client.Do(newGet(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("4xx should be returned to the caller, got error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestDo_StopsWhenContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		DefaultBreakerSettings("cancel-test"),
		fastPolicy(5),
		"",
		WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := client.Do(newGet(t, ctx, server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestDo_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		BreakerSettings{Name: "trip-test", ConsecutiveFailures: 2, OpenTimeout: time.Minute},
		fastPolicy(0),
		"",
		WithSleepFunc(noopSleep),
	)

	for i := 0; i < 2; i++ {
		if _, err := client.Do(newGet(t, context.Background(), server.URL)); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := client.Do(newGet(t, context.Background(), server.URL))
	var appErr *types.AppError
	if !errors.As(err, &appErr) || !strings.Contains(appErr.Message, "circuit breaker") {
		t.Fatalf("expected open-breaker error, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected breaker to short-circuit the third call, got %d upstream calls", n)
	}
}

func TestDo_RejectsRequestBody(t *testing.T) {
	client := newTestClient(t, DefaultRetryPolicy())
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", strings.NewReader("x"))

	if _, err := client.Do(req); err == nil {
		t.Fatal("expected error for request with body")
	}
}

func TestComputeBackoff(t *testing.T) {
	c := newTestClient(t, RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	for attempt := 0; attempt < 6; attempt++ {
		d := c.computeBackoff(attempt, nil)
		if d < 100*time.Millisecond || d > time.Second {
			t.Errorf("attempt %d: backoff %v outside [100ms, 1s]", attempt, d)
		}
	}

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
	if d := c.computeBackoff(0, resp); d != time.Second {
		t.Errorf("Retry-After should be clamped to MaxWait, got %v", d)
	}
}
