package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/echo-processor/internal/echo"
	"github.com/CZERTAINLY/echo-processor/internal/model"
	"github.com/CZERTAINLY/echo-processor/internal/protocol"
)

var ErrAlreadyStarted = errors.New("controller already started")

const (
	terminatedMessage = "execution terminated by request"
	failedMessage     = "execution failed as requested by shouldFail=true"
)

// Milestones of the simulated task, in order.
var Milestones = []model.Progress{
	{Percent: 10, Message: "Input validated"},
	{Percent: 25, Message: "Processing input..."},
	{Percent: 50, Message: "Transforming data..."},
	{Percent: 75, Message: "Preparing output..."},
	{Percent: 90, Message: "Finalizing..."},
	{Percent: 100, Message: "Done"},
}

// failAt is the milestone after which shouldFail takes effect.
const failAt = 50

// Emitter writes progress to the protocol output, see protocol.Encoder.
type Emitter interface {
	Progress(p model.Progress) error
}

// LineSource yields input lines, see protocol.Lines.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

type Options struct {
	// ExecutionID of the running execution, reported in the result.
	ExecutionID string
	Emitter     Emitter
	Reporter    model.Reporter
	Input       LineSource
	// MatchExecutionID ignores terminate messages for other execution ids.
	MatchExecutionID bool
}

type Controller struct {
	req    model.Execute
	opts   Options
	signal *Signal

	mx    sync.Mutex
	state State
}

func New(req model.Execute, opts Options) *Controller {
	return &Controller{
		req:    req,
		opts:   opts,
		signal: NewSignal(),
		state:  StateIdle,
	}
}

func (c *Controller) State() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

func (c *Controller) transition(dst State) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !validTransition(c.state, dst) {
		return fmt.Errorf("invalid transition %s -> %s", c.state, dst)
	}
	c.state = dst
	return nil
}

// Run executes the request and returns its terminal outcome. Cancelling ctx
// counts as a termination request. Run may be called only once.
func (c *Controller) Run(ctx context.Context) (model.Outcome, error) {
	if err := c.transition(StateRunning); err != nil {
		return model.Outcome{}, ErrAlreadyStarted
	}
	started := time.Now()
	slog.InfoContext(ctx, "execution started",
		"delay", c.req.Delay,
		"shouldFail", c.req.ShouldFail,
		"minRunSeconds", c.req.MinRunSecs)

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	var (
		state   State
		outcome model.Outcome
	)
	var g errgroup.Group
	g.Go(func() error {
		c.listen(listenCtx)
		return nil
	})
	g.Go(func() error {
		defer stopListening()
		state, outcome = c.work(ctx, started)
		return nil
	})
	_ = g.Wait() // goroutines do not return an error

	if err := c.transition(state); err != nil {
		// unreachable: work returns terminal states only
		panic(err)
	}
	slog.InfoContext(ctx, "execution finished",
		"state", state.String(),
		"duration", time.Since(started))
	return outcome, nil
}

func (c *Controller) work(ctx context.Context, started time.Time) (State, model.Outcome) {
	delay := time.Duration(c.req.Delay) * time.Second
	for idx, m := range Milestones {
		if c.cancelled(ctx) {
			return c.terminated(ctx, m.Percent)
		}
		c.progress(ctx, m)

		if m.Percent == failAt && c.req.ShouldFail {
			slog.WarnContext(ctx, "simulating failure as requested")
			if !c.wait(ctx, delay) {
				return c.terminated(ctx, m.Percent)
			}
			return StateFailed, model.Failure(model.CodeSimulatedFailure, failedMessage)
		}

		if idx < len(Milestones)-1 && !c.wait(ctx, delay) {
			return c.terminated(ctx, m.Percent)
		}
	}

	minRun := time.Duration(c.req.MinRunSecs) * time.Second
	if remaining := minRun - time.Since(started); remaining > 0 {
		slog.DebugContext(ctx, "waiting for minimum run time", "remaining", remaining)
		if !c.wait(ctx, remaining) {
			return c.terminated(ctx, 100)
		}
	}
	if c.cancelled(ctx) {
		return c.terminated(ctx, 100)
	}

	return StateCompleted, model.Result(model.EchoResult{
		EchoedMessage: echo.Transform(c.req.Message),
		ProcessedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID:   c.opts.ExecutionID,
	})
}

func (c *Controller) terminated(ctx context.Context, percent int) (State, model.Outcome) {
	slog.InfoContext(ctx, "execution terminated", "atPercent", percent, "signal", c.signal.Fired())
	return StateTerminated, model.Failure(model.CodeTerminated, terminatedMessage)
}

func (c *Controller) cancelled(ctx context.Context) bool {
	return c.signal.Fired() || ctx.Err() != nil
}

// wait sleeps for d and returns false as soon as a cancellation is observed.
func (c *Controller) wait(ctx context.Context, d time.Duration) bool {
	if c.cancelled(ctx) {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !c.signal.Fired()
	case <-c.signal.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) progress(ctx context.Context, p model.Progress) {
	if err := c.opts.Emitter.Progress(p); err != nil {
		slog.ErrorContext(ctx, "writing progress", "percent", p.Percent, "error", err)
	}
	slog.DebugContext(ctx, "progress", "percent", p.Percent, "message", p.Message)
	c.opts.Reporter.Report(ctx, p)
}

// listen fires the signal on the first matching terminate message.
func (c *Controller) listen(ctx context.Context) {
	for {
		line, err := c.opts.Input.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			slog.DebugContext(ctx, "input closed: no terminate will arrive")
			return
		case ctx.Err() != nil:
			return
		default:
			slog.WarnContext(ctx, "reading input failed: no terminate will arrive", "error", err)
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		req, err := protocol.Decode([]byte(line))
		if err != nil {
			slog.WarnContext(ctx, "invalid message on stdin: ignoring", "error", err, "line", truncate(line, 200))
			continue
		}
		term, ok := req.(model.Terminate)
		if !ok {
			slog.DebugContext(ctx, "ignoring non-terminate message", "action", req.Action())
			continue
		}
		if id := term.Meta.ExecutionID; c.opts.MatchExecutionID && id != "" && id != c.opts.ExecutionID {
			slog.WarnContext(ctx, "ignoring terminate for another execution", "terminateExecutionId", id)
			continue
		}
		slog.InfoContext(ctx, "received terminate action via stdin")
		c.signal.Fire()
		return
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
