package httputil

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

	"github.com/lox/soilclimate/internal/logging"
)

func fastPolicy() Policy {
	return Policy{Retryable: Retryable}
}

func newTestClient(maxUses int) (*RetryClient, *Pool) {
	pool := NewPool(maxUses)
	return NewRetryClient(pool, fastPolicy(), logging.Discard()), pool
}

func TestGetJSON_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("api_key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"estado":200,"datos":"https://example.invalid/x"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	body, err := c.GetJSON(context.Background(), srv.URL, map[string]string{"api_key": "secret"}, time.Second, 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"estado":200,"datos":"https://example.invalid/x"}`, string(body))
	assert.EqualValues(t, 5, calls.Load())
}

func TestGetJSON_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 3)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.EqualValues(t, 3, calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.False(t, IsPermanent(err))
}

func TestGetJSON_PermanentStatusStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown station", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 5)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.EqualValues(t, 1, calls.Load())

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
}

func TestGetJSON_NoContent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"204", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }},
		{"empty 200", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
		{"whitespace 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("  \n")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, _ := newTestClient(25)
			body, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 3)
			require.NoError(t, err)
			assert.Nil(t, body)
		})
	}
}

func TestGetJSON_MalformedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"datos": [1, 2`))
			return
		}
		w.Write([]byte(`[{"fecha":"2017-01-01"}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	body, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 3)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"fecha":"2017-01-01"}]`, string(body))
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetJSON_TimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	body, err := c.GetJSON(context.Background(), srv.URL, nil, 50*time.Millisecond, 2)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(body))
}

func TestGetJSON_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := newTestClient(25)
	_, err := c.GetJSON(ctx, srv.URL, nil, time.Second, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPool_RotatesAfterMaxUses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, pool := newTestClient(2)
	for range 5 {
		_, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, pool.Rotations())
}

func TestPool_DefaultMaxUses(t *testing.T) {
	pool := NewPool(0)
	first := pool.Client()
	for range DefaultMaxUses - 1 {
		assert.Same(t, first, pool.Client())
	}
	assert.NotSame(t, first, pool.Client())
	assert.Equal(t, 1, pool.Rotations())
}

func TestEndpointLabel(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://opendata.aemet.es/opendata/api/valores/climatologicos/diarios/datos", nil)
	require.NoError(t, err)
	assert.Equal(t, "opendata.aemet.es/opendata/api", endpointLabel(req.URL))
}

func TestGetJSON_TranscodesLatin9(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json;charset=ISO-8859-15")
		w.Write([]byte("[{\"nombre\":\"LOGRO\xd1O\"}]"))
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	body, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"nombre":"LOGROÑO"}]`, string(body))
}

func TestGetJSON_HTMLErrorPageBecomesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html><body><h1>403 Forbidden</h1></body></html>"))
	}))
	defer srv.Close()

	c, _ := newTestClient(25)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, time.Second, 3)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "403 Forbidden", se.Body)
	assert.True(t, IsPermanent(err))
}
