// Package judge is the client for the external semantic classification
// service. It owns the verdict cache, the shared rate-limit cooldown and the
// bound on in-flight requests.
package judge

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/engine/parser"
	"unremark/internal/shared/observability"
	"unremark/internal/shared/util"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const maxResponseBytes = 1 << 20

type Config struct {
	Endpoint          string
	Model             string
	APIKey            string
	Temperature       float64
	Timeout           time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxInFlight       int
	RequestsPerSecond float64
	Burst             int
	RateLimitCooldown time.Duration
	CacheSize         int
	CacheTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Endpoint:          "https://api.openai.com/v1/chat/completions",
		Model:             "gpt-4o-mini",
		Timeout:           30 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        8 * time.Second,
		MaxInFlight:       8,
		RequestsPerSecond: 5,
		Burst:             5,
		RateLimitCooldown: 10 * time.Second,
		CacheSize:         4096,
		CacheTTL:          7 * 24 * time.Hour,
	}
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithStore makes the client read through and write through a persistent
// verdict store. runID tags written verdicts unless the request context
// carries its own (see ports.WithRunID).
func WithStore(store ports.VerdictStore, runID string) Option {
	return func(c *Client) {
		c.store = store
		c.runID = runID
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

type Client struct {
	cfg      Config
	http     *http.Client
	cache    *Cache
	cooldown *Cooldown
	sem      *semaphore.Weighted
	limiter  *util.Limiter
	group    singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight
	store    ports.VerdictStore
	runID    string
	logger   *slog.Logger
	now      func() time.Time

	calls atomic.Int64
}

var _ ports.Judge = (*Client)(nil)

// NewClient validates cfg and builds a client. An empty or unparseable
// endpoint is a configuration error.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = def.RateLimitCooldown
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{},
		cache:    NewCache(cfg.CacheSize, cfg.CacheTTL),
		cooldown: NewCooldown(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limiter:  util.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:   slog.Default(),
		now:      time.Now,
		flights:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateEndpoint checks that endpoint is an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New(errors.CodeValidationError, "judge endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return errors.Wrap(err, errors.CodeValidationError, "judge endpoint is not a valid URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("judge endpoint %q must be an absolute http(s) URL", endpoint))
	}
	return nil
}

// Cache exposes the in-memory verdict cache.
func (c *Client) Cache() *Cache { return c.cache }

// Cooldown exposes the shared rate-limit state.
func (c *Client) Cooldown() *Cooldown { return c.cooldown }

// Calls is the number of HTTP attempts made so far.
func (c *Client) Calls() int64 { return c.calls.Load() }

// Judge classifies one comment. Cache hits never touch the network.
func (c *Client) Judge(ctx context.Context, req ports.JudgeRequest) (ports.JudgeAnswer, error) {
	ctx, span := observability.Tracer.Start(ctx, "judge.Judge")
	defer span.End()

	key := Fingerprint(req)
	span.SetAttributes(attribute.String("judge.fingerprint", key), attribute.String("judge.language", string(req.Language)))

	if e, ok := c.cache.Get(key); ok {
		observability.JudgeRequestsTotal.WithLabelValues("cache_hit").Inc()
		return answer(e, parser.SourceCache), nil
	}
	if e, ok := c.loadStored(ctx, key); ok {
		c.cache.Put(key, e)
		observability.JudgeRequestsTotal.WithLabelValues("store_hit").Inc()
		return answer(e, parser.SourceCache), nil
	}

	if strings.TrimSpace(c.cfg.APIKey) == "" {
		observability.JudgeRequestsTotal.WithLabelValues(string(errors.CodeJudgeAuthFailure)).Inc()
		return ports.JudgeAnswer{}, errors.New(errors.CodeJudgeAuthFailure, "judge API key is not configured")
	}

	e, shared, err := c.collapse(ctx, key, req)
	if err != nil {
		span.RecordError(err)
		observability.JudgeRequestsTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return ports.JudgeAnswer{}, err
	}
	observability.JudgeRequestsTotal.WithLabelValues("ok").Inc()
	src := parser.SourceJudge
	if shared {
		src = parser.SourceCache
	}
	return answer(e, src), nil
}

// flight is the detached context one collapsed fetch runs under. It is
// cancelled once every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// collapse runs one fetch per fingerprint no matter how many callers ask
// for it. Each caller waits on its own context; leaving early abandons only
// that caller's wait.
func (c *Client) collapse(ctx context.Context, key string, req ports.JudgeRequest) (Entry, bool, error) {
	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (any, error) {
		e, err := c.fetch(f.ctx, req)
		if err != nil {
			return Entry{}, err
		}
		c.cache.Put(key, e)
		observability.JudgeCacheEntries.Set(float64(c.cache.Len()))
		c.saveStored(f.ctx, key, e)
		return e, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, false, res.Err
		}
		return res.Val.(Entry), res.Shared, nil
	case <-ctx.Done():
		return Entry{}, false, abandoned(ctx.Err())
	}
}

func (c *Client) join(ctx context.Context, key string) *flight {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Client) leave(key string, f *flight) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	// A later caller must start a fresh fetch rather than join a cancelled one.
	c.group.Forget(key)
	f.cancel()
}

func answer(e Entry, src parser.VerdictSource) ports.JudgeAnswer {
	return ports.JudgeAnswer{Label: e.Label, Confidence: e.Confidence, Source: src, Explanation: e.Explanation}
}

func (c *Client) loadStored(ctx context.Context, key string) (Entry, bool) {
	if c.store == nil {
		return Entry{}, false
	}
	var notBefore time.Time
	if c.cfg.CacheTTL > 0 {
		notBefore = c.now().Add(-c.cfg.CacheTTL)
	}
	v, ok, err := c.store.LoadVerdict(ctx, key, notBefore)
	if err != nil {
		c.logger.Warn("verdict store lookup failed", "fingerprint", key, "error", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	return Entry{Label: v.Label, Confidence: v.Confidence, CreatedAt: v.CreatedAt}, true
}

func (c *Client) saveStored(ctx context.Context, key string, e Entry) {
	if c.store == nil {
		return
	}
	runID := c.runID
	if id := ports.RunIDFrom(ctx); id != "" {
		runID = id
	}
	err := c.store.SaveVerdict(context.WithoutCancel(ctx), ports.CachedVerdict{
		Key:        key,
		Label:      e.Label,
		Confidence: e.Confidence,
		Model:      c.cfg.Model,
		RunID:      runID,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("verdict store write failed", "fingerprint", key, "error", err)
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// fetch performs the HTTP exchange with retries. Transient failures are
// retried; auth and malformed answers are not.
func (c *Client) fetch(ctx context.Context, req ports.JudgeRequest) (Entry, error) {
	body, err := buildChatRequest(c.cfg.Model, c.cfg.Temperature, req)
	if err != nil {
		return Entry{}, errors.Wrap(err, errors.CodeInternal, "encode judge request")
	}

	attempt := 0
	op := func() (Entry, error) {
		attempt++
		if attempt > 1 {
			observability.JudgeRetriesTotal.Inc()
		}
		if err := c.cooldown.Wait(ctx); err != nil {
			return Entry{}, backoff.Permanent(abandoned(err))
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return Entry{}, backoff.Permanent(abandoned(err))
		}
		defer c.sem.Release(1)
		if err := c.limiter.Wait(ctx, 1); err != nil {
			return Entry{}, backoff.Permanent(abandoned(err))
		}
		e, err := c.send(ctx, body, req.Line)
		if err != nil {
			c.logger.Debug("judge attempt failed", "attempt", attempt, "line", req.Line, "error", err)
		}
		return e, err
	}

	e, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = abandoned(err)
		}
		return Entry{}, err
	}
	return e, nil
}

func abandoned(err error) error {
	return errors.Wrap(err, errors.CodeJudgeTimeout, "judge call abandoned")
}

func (c *Client) send(ctx context.Context, body []byte, line int) (Entry, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Entry{}, backoff.Permanent(errors.Wrap(err, errors.CodeInternal, "build judge request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.calls.Add(1)
	observability.JudgeInFlight.Inc()
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	observability.JudgeInFlight.Dec()
	observability.JudgeLatencySeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, backoff.Permanent(abandoned(ctx.Err()))
		}
		var netErr net.Error
		if attemptCtx.Err() != nil || (stderrors.As(err, &netErr) && netErr.Timeout()) {
			return Entry{}, errors.Wrap(err, errors.CodeJudgeTimeout, "judge request timed out")
		}
		return Entry{}, errors.Wrap(err, errors.CodeJudgeUnavailable, "judge service unreachable")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if attemptCtx.Err() != nil {
			return Entry{}, errors.Wrap(err, errors.CodeJudgeTimeout, "judge response timed out")
		}
		return Entry{}, errors.Wrap(err, errors.CodeJudgeUnavailable, "read judge response")
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		if wait <= 0 {
			wait = c.cfg.RateLimitCooldown
		}
		c.cooldown.Trip(wait)
		observability.JudgeCooldownsTotal.Inc()
		c.logger.Warn("judge rate limited", "cooldown", wait)
		return Entry{}, errors.AddContext(errors.New(errors.CodeJudgeRateLimited, "judge rate limit exceeded"), errors.CtxStatus, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Entry{}, backoff.Permanent(errors.AddContext(errors.New(errors.CodeJudgeAuthFailure, "judge rejected credentials"), errors.CtxStatus, status))
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Entry{}, errors.AddContext(errors.New(errors.CodeJudgeTimeout, "judge timed out upstream"), errors.CtxStatus, status)
	case status >= 500:
		return Entry{}, errors.AddContext(errors.New(errors.CodeJudgeUnavailable, "judge server error"), errors.CtxStatus, status)
	case status < 200 || status > 299:
		return Entry{}, backoff.Permanent(errors.AddContext(errors.New(errors.CodeJudgeUnavailable, "judge rejected request"), errors.CtxStatus, status))
	}

	e, err := parseAnswer(payload, line)
	if err != nil {
		return Entry{}, backoff.Permanent(err)
	}
	e.CreatedAt = c.now()
	return e, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now)
	}
	return 0
}
