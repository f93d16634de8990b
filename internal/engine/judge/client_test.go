package judge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/engine/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		Model:             "test-model",
		APIKey:            "sk-test",
		Timeout:           2 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		MaxInFlight:       4,
		RateLimitCooldown: 50 * time.Millisecond,
		CacheSize:         64,
	}
}

func sampleRequest() ports.JudgeRequest {
	return ports.JudgeRequest{
		Text:      "// Using typeof for runtime type checking",
		Signature: "function isString(value)",
		Context:   "function isString(value) {\n  return typeof value === \"string\";\n}",
		Language:  parser.LangJavaScript,
		Line:      2,
	}
}

type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newServer(t *testing.T, handler func(n int64, w http.ResponseWriter, r *http.Request)) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := cs.hits.Add(1)
		handler(n, w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func TestClient_JudgeAndCacheHit(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": true, "confidence": 0.8, "comment_line_number": 2, "explanation": "restates typeof"}`)))
	})

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	ans, err := c.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, parser.LabelRedundant, ans.Label)
	assert.Equal(t, parser.SourceJudge, ans.Source)
	assert.InDelta(t, 0.8, ans.Confidence, 1e-9)

	again, err := c.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, parser.SourceCache, again.Source)
	assert.Equal(t, parser.LabelRedundant, again.Label)
	assert.EqualValues(t, 1, srv.hits.Load(), "cache hit must not reach the network")
}

func TestClient_MissingAPIKey(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": false}`)))
	})
	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeAuthFailure))
	assert.EqualValues(t, 0, srv.hits.Load())
}

func TestClient_RateLimitCooldown(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := newServer(t, func(n int64, w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": false, "confidence": 0.9}`)))
	})

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	ans, err := c.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, parser.LabelUseful, ans.Label)
	assert.EqualValues(t, 2, srv.hits.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 40*time.Millisecond)
}

func TestClient_RetryAfterHeader(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeRateLimited))
	assert.Greater(t, c.Cooldown().Remaining(), 20*time.Second)
}

func TestClient_CooldownAbandonedOnCancel(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": false}`)))
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	c.Cooldown().Trip(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Judge(ctx, sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeTimeout))
	assert.EqualValues(t, 0, srv.hits.Load())
}

func TestClient_ServerErrorsExhaustRetries(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeUnavailable))
	assert.EqualValues(t, 3, srv.hits.Load())
}

func TestClient_TransientThenSuccess(t *testing.T) {
	srv := newServer(t, func(n int64, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": true}`)))
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	ans, err := c.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, parser.LabelRedundant, ans.Label)
	assert.InDelta(t, 1.0, ans.Confidence, 1e-9)
	assert.EqualValues(t, 3, srv.hits.Load())
}

func TestClient_MalformedIsNotRetried(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatBody(`I think it is redundant.`)))
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeMalformed))
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestClient_AuthRejected(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeAuthFailure))
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestClient_Timeout(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeTimeout), "got %v", err)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	cfg := testConfig(endpoint)
	cfg.MaxAttempts = 2
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Judge(context.Background(), sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeUnavailable), "got %v", err)
	assert.True(t, errors.IsJudgeError(err))
}

func TestClient_ConcurrentIdenticalRequestsCollapse(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": true}`)))
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, err := c.Judge(context.Background(), sampleRequest())
			assert.NoError(t, err)
			assert.Equal(t, parser.LabelRedundant, ans.Label)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestClient_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": true}`)))
	})
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Judge(firstCtx, sampleRequest())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondDone := make(chan struct{})
	var second ports.JudgeAnswer
	var secondErr error
	go func() {
		defer close(secondDone)
		second, secondErr = c.Judge(context.Background(), sampleRequest())
	}()
	require.Eventually(t, func() bool {
		c.flightMu.Lock()
		defer c.flightMu.Unlock()
		f, ok := c.flights[Fingerprint(sampleRequest())]
		return ok && f.waiters == 2
	}, time.Second, time.Millisecond)
	cancelFirst()

	err = <-firstErr
	assert.True(t, errors.IsCode(err, errors.CodeJudgeTimeout), "got %v", err)

	<-secondDone
	require.NoError(t, secondErr)
	assert.Equal(t, parser.LabelRedundant, second.Label)
	assert.EqualValues(t, 1, srv.hits.Load(), "the second caller joins the in-flight fetch")
}

func TestClient_FetchStopsWhenAllCallersLeave(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(_ int64, w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": false}`)))
	})
	t.Cleanup(func() { close(release) })
	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1
	c, err := NewClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Judge(ctx, sampleRequest())
	assert.True(t, errors.IsCode(err, errors.CodeJudgeTimeout), "got %v", err)

	c.flightMu.Lock()
	assert.Empty(t, c.flights)
	c.flightMu.Unlock()
}

type memStore struct {
	mu    sync.Mutex
	items map[string]ports.CachedVerdict
}

func (m *memStore) LoadVerdict(_ context.Context, key string, notBefore time.Time) (ports.CachedVerdict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if ok && !notBefore.IsZero() && v.CreatedAt.Before(notBefore) {
		return ports.CachedVerdict{}, false, nil
	}
	return v, ok, nil
}

func (m *memStore) SaveVerdict(_ context.Context, v ports.CachedVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[v.Key] = v
	return nil
}

func (m *memStore) Close() error { return nil }

func TestClient_StoreWriteThroughAndReadThrough(t *testing.T) {
	srv := newServer(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatBody(`{"is_redundant": true, "confidence": 0.7}`)))
	})
	store := &memStore{items: map[string]ports.CachedVerdict{}}

	first, err := NewClient(testConfig(srv.URL), WithStore(store, "run-1"))
	require.NoError(t, err)
	_, err = first.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)

	saved, ok := store.items[Fingerprint(sampleRequest())]
	require.True(t, ok)
	assert.Equal(t, "run-1", saved.RunID)
	assert.Equal(t, "test-model", saved.Model)

	second, err := NewClient(testConfig(srv.URL), WithStore(store, "run-2"))
	require.NoError(t, err)
	ans, err := second.Judge(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, parser.SourceCache, ans.Source)
	assert.InDelta(t, 0.7, ans.Confidence, 1e-9)
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestNewClient_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "   ", "not a url", "ftp://host/x", "/relative/path", "http://"} {
		_, err := NewClient(Config{Endpoint: endpoint})
		assert.True(t, errors.IsCode(err, errors.CodeValidationError), "endpoint %q: %v", endpoint, err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90*time.Second, parseRetryAfter(date, now))
}
