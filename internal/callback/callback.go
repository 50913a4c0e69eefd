// Package callback reports execution progress to the monitor.
//
// Reporting is best effort. Report only enqueues; a single goroutine sends the
// queued progress in order, each call bounded by a timeout. Token, transport
// and status errors are logged and dropped, they never reach the caller.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/echo-processor/internal/model"
)

const contentType = "application/json"

// Tokens returns a bearer token value, false when none is available.
// It is implemented by auth.Provider.
type Tokens interface {
	BearerToken(ctx context.Context) (string, bool)
}

type Config struct {
	BaseURL     string
	ExecutionID string
	Timeout     time.Duration
	QueueSize   int
}

// Reporter posts progress to {BaseURL}/executions/{ExecutionID}/progress.
type Reporter struct {
	requestURL string
	client     *http.Client
	tokens     Tokens
	timeout    time.Duration

	mx     sync.Mutex
	closed bool
	queue  chan queued
	done   chan struct{}

	// abandon aborts in-flight and pending callbacks once Close gives up
	base    context.Context
	abandon context.CancelFunc
}

type queued struct {
	ctx context.Context
	p   model.Progress
}

// New returns a running Reporter. Close must be called to release its goroutine.
func New(cfg Config, client *http.Client, tokens Tokens) (*Reporter, error) {
	requestURL, err := progressURL(cfg.BaseURL, cfg.ExecutionID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	base, abandon := context.WithCancel(context.Background())
	r := &Reporter{
		base:       base,
		abandon:    abandon,
		requestURL: requestURL,
		client:     client,
		tokens:     tokens,
		timeout:    cfg.Timeout,
		queue:      make(chan queued, size),
		done:       make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func progressURL(base, executionID string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing callback url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", errors.New("callback url must have a scheme and a host, e.g. `http://monitor:8080/api`")
	}
	return parsedURL.JoinPath("executions", url.PathEscape(executionID), "progress").String(), nil
}

// Report queues p for delivery and returns immediately. Progress arriving
// when the queue is full or after Close is dropped.
func (r *Reporter) Report(ctx context.Context, p model.Progress) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		slog.DebugContext(ctx, "reporter closed: progress dropped", "percent", p.Percent)
		return
	}
	select {
	case r.queue <- queued{ctx: context.WithoutCancel(ctx), p: p}:
	default:
		slog.WarnContext(ctx, "callback queue full: progress dropped", "percent", p.Percent)
	}
}

// Close stops accepting progress and waits until the queued callbacks are
// sent or ctx is done. Callbacks still pending then are abandoned.
func (r *Reporter) Close(ctx context.Context) error {
	r.mx.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mx.Unlock()

	select {
	case <-r.done:
		r.abandon()
		return nil
	case <-ctx.Done():
		r.abandon()
		return fmt.Errorf("waiting for pending callbacks: %w", ctx.Err())
	}
}

func (r *Reporter) loop() {
	defer close(r.done)
	for q := range r.queue {
		r.send(q.ctx, q.p)
	}
}

func (r *Reporter) send(ctx context.Context, p model.Progress) {
	if r.base.Err() != nil {
		slog.DebugContext(ctx, "reporter abandoned: progress dropped", "percent", p.Percent)
		return
	}
	// the timeout covers both the token exchange and the callback itself
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(r.base, cancel)
	defer stop()

	token, ok := r.tokens.BearerToken(ctx)
	if !ok {
		slog.DebugContext(ctx, "no token: progress callback skipped", "percent", p.Percent)
		return
	}

	start := time.Now()
	status, err := r.post(ctx, token, p)
	if err != nil {
		slog.WarnContext(ctx, "progress callback failed",
			"percent", p.Percent,
			"status", status,
			"duration", time.Since(start),
			"error", err)
		return
	}
	slog.DebugContext(ctx, "progress callback sent", "percent", p.Percent, "status", status)
}

func (r *Reporter) post(ctx context.Context, token string, p model.Progress) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.requestURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// Disabled is a reporter which drops everything.
type Disabled struct{}

func (Disabled) Report(ctx context.Context, p model.Progress) {
	slog.DebugContext(ctx, "callbacks disabled", "percent", p.Percent)
}

func (Disabled) Close(context.Context) error { return nil }
