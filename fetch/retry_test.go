package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestPolicyBackoff(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 1*time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(6))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"500", &StatusError{StatusCode: http.StatusInternalServerError}, true},
		{"503 wrapped", errors.Join(errors.New("ctx"), &StatusError{StatusCode: 503}), true},
		{"404", &StatusError{StatusCode: http.StatusNotFound}, false},
		{"400", &StatusError{StatusCode: http.StatusBadRequest}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("invalid model response"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var calls int
	var retries []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { retries = append(retries, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusNotFound}
	})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 500 + calls}
	})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	p := fastPolicy()
	p.Timeout = 10 * time.Millisecond
	var calls int

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClientGet_RetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<p>hello</p>"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Retry: fastPolicy()})
	body, err := client.Get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(body))
	assert.Equal(t, int32(2), hits)
}

func TestClientGet_DoesNotRetryNotFound(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Retry: fastPolicy()})
	_, err := client.Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), hits)
}

func TestClientGet_UsesCache(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("cached body"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Retry: fastPolicy()}, WithCache(NewMemoryCache(8, time.Minute)))
	for i := 0; i < 3; i++ {
		body, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "cached body", string(body))
	}
	assert.Equal(t, int32(1), hits)
}

func TestClientGet_RejectsNonHTTP(t *testing.T) {
	client := NewClient(DefaultClientConfig())
	_, err := client.Get(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}

// TestHTTPClientUsesOtelTransport verifies outbound fetches propagate trace context
func TestHTTPClientUsesOtelTransport(t *testing.T) {
	client := NewClient(DefaultClientConfig())

	if _, ok := client.HTTPClient().Transport.(*otelhttp.Transport); !ok {
		t.Error("fetch client does not use otelhttp.Transport for trace propagation")
	}
}
