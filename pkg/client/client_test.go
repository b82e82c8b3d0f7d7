package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolops/rollcall/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	m.Run()
}

// recordingSleeper captures backoff waits without actually waiting
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

// scriptedServer returns each response in order, then repeats the last
func scriptedServer(t *testing.T, responses ...func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := calls
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		calls++
		responses[idx](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func ok(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}
}

func status(code int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

func TestRateLimitRetry(t *testing.T) {
	srv, calls := scriptedServer(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
		},
		ok(`{"value":"done"}`),
	)

	sleeper := &recordingSleeper{}
	c := New("test", srv.URL, StaticToken("tok"), WithSleep(sleeper.sleep))

	var out struct {
		Value string `json:"value"`
	}
	err := c.Get(context.Background(), "/thing", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Value)
	assert.Equal(t, 2, *calls, "expected exactly one retry")

	require.Len(t, sleeper.waits, 1)
	assert.GreaterOrEqual(t, sleeper.waits[0], 8*time.Second, "wait must be retry-after + 3s")
}

func TestRateLimitRetriesIndefinitely(t *testing.T) {
	responses := []func(w http.ResponseWriter, r *http.Request){}
	for i := 0; i < 10; i++ {
		responses = append(responses, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	responses = append(responses, ok(`{}`))
	srv, calls := scriptedServer(t, responses...)

	sleeper := &recordingSleeper{}
	c := New("test", srv.URL, StaticToken("tok"), WithSleep(sleeper.sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 11, *calls, "rate limiting has no retry cap")
	assert.Len(t, sleeper.waits, 10)
}

func TestServerErrorRetriesThenFails(t *testing.T) {
	srv, calls := scriptedServer(t, status(http.StatusInternalServerError))

	sleeper := &recordingSleeper{}
	c := New("test", srv.URL, StaticToken("tok"),
		WithSleep(sleeper.sleep),
		WithServerErrorBackoff(func() time.Duration { return 2 * time.Second }),
	)

	err := c.Get(context.Background(), "/thing", nil, nil)
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusInternalServerError, upstream.Status)
	assert.Equal(t, 3, *calls, "500 is retried at most 3 attempts")
	assert.Len(t, sleeper.waits, 2)
}

func TestServerErrorRecovers(t *testing.T) {
	srv, calls := scriptedServer(t,
		status(http.StatusInternalServerError),
		ok(`{}`),
	)

	sleeper := &recordingSleeper{}
	c := New("test", srv.URL, StaticToken("tok"), WithSleep(sleeper.sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)

	require.Len(t, sleeper.waits, 1)
	assert.GreaterOrEqual(t, sleeper.waits[0], 1*time.Second)
	assert.LessOrEqual(t, sleeper.waits[0], 3*time.Second)
}

func TestOtherStatusesFailImmediately(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway, http.StatusServiceUnavailable} {
		t.Run(fmt.Sprintf("status_%d", code), func(t *testing.T) {
			srv, calls := scriptedServer(t, status(code))

			sleeper := &recordingSleeper{}
			c := New("test", srv.URL, StaticToken("tok"), WithSleep(sleeper.sleep))

			err := c.Get(context.Background(), "/thing", nil, nil)
			var upstream *UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, code, upstream.Status)
			assert.Equal(t, 1, *calls, "no retry for status %d", code)
			assert.Empty(t, sleeper.waits)
		})
	}
}

// refreshableToken counts refreshes and hands out a new token
type refreshableToken struct {
	mu        sync.Mutex
	token     string
	refreshed int
	fail      bool
}

func (r *refreshableToken) Token(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token, nil
}

func (r *refreshableToken) Refresh(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed++
	if r.fail {
		return "", errors.New("refresh rejected")
	}
	r.token = "fresh"
	return r.token, nil
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	tokens := &refreshableToken{token: "stale"}
	c := New("test", srv.URL, tokens, WithSleep((&recordingSleeper{}).sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.refreshed)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seen)
}

func TestUnauthorizedRefreshFailure(t *testing.T) {
	srv, calls := scriptedServer(t, status(http.StatusUnauthorized))

	tokens := &refreshableToken{token: "stale", fail: true}
	c := New("test", srv.URL, tokens, WithSleep((&recordingSleeper{}).sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, 1, *calls)
}

func TestUnauthorizedAfterRefreshIsAuthError(t *testing.T) {
	srv, calls := scriptedServer(t, status(http.StatusUnauthorized))

	tokens := &refreshableToken{token: "stale"}
	c := New("test", srv.URL, tokens, WithSleep((&recordingSleeper{}).sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, 2, *calls, "one refresh-and-retry per logical request")
	assert.Equal(t, 1, tokens.refreshed)
}

func TestStaticTokenCannotRefresh(t *testing.T) {
	srv, _ := scriptedServer(t, status(http.StatusUnauthorized))

	c := New("test", srv.URL, StaticToken("tok"), WithSleep((&recordingSleeper{}).sleep))

	err := c.Get(context.Background(), "/thing", nil, nil)
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New("test", srv.URL, StaticToken("tok"))

	err := c.Get(context.Background(), "/thing", nil, nil)
	var network *NetworkError
	require.ErrorAs(t, err, &network)
}

func TestRetryAfterParsing(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected time.Duration
	}{
		{"numeric seconds", "5", 5 * time.Second},
		{"zero", "0", 0},
		{"missing", "", defaultRetryAfter},
		{"garbage", "soon", defaultRetryAfter},
		{"negative", "-3", defaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retryAfter(tt.header))
		})
	}
}

func TestServerErrorBackoffRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := serverErrorBackoff()
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}
