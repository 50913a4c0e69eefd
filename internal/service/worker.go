package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/echo-processor/internal/auth"
	"github.com/CZERTAINLY/echo-processor/internal/callback"
	"github.com/CZERTAINLY/echo-processor/internal/controller"
	"github.com/CZERTAINLY/echo-processor/internal/log"
	"github.com/CZERTAINLY/echo-processor/internal/model"
	"github.com/CZERTAINLY/echo-processor/internal/protocol"
)

const (
	startingMessage = "Starting..."
	codeInternal    = "INTERNAL_ERROR"
)

// Worker processes a single request stream.
type Worker struct {
	cfg    model.Config
	client *http.Client
}

func NewWorker(cfg model.Config) Worker {
	return Worker{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// WithHTTPClient returns a Worker using client for token and callback calls.
func (w Worker) WithHTTPClient(client *http.Client) Worker {
	w.client = client
	return w
}

// Do serves the request stream in and writes the protocol events to out.
// It returns the process exit code.
func (w Worker) Do(ctx context.Context, in io.Reader, out io.Writer) int {
	ctx = log.ContextAttrs(ctx, slog.String("run_id", uuid.NewString()))
	enc := protocol.NewEncoder(out)
	lines := protocol.NewLines(in)
	defer lines.Close()

	w.progress(ctx, enc, model.Progress{Percent: 0, Message: startingMessage})

	req, outcome, ok := w.first(ctx, lines)
	if !ok {
		return w.finish(ctx, enc, outcome)
	}

	switch r := req.(type) {
	case model.Terminate:
		slog.InfoContext(ctx, "terminate before execute: nothing to clean up")
		return w.finish(ctx, enc, model.Cleaned())
	case model.Execute:
		return w.execute(ctx, enc, lines, r)
	default:
		// Decode returns Execute or Terminate only
		return w.finish(ctx, enc, model.Failure(model.CodeUnknownAction, "unsupported action"))
	}
}

// first reads and decodes the first request line. If it fails, the returned
// outcome is the answer to send.
func (w Worker) first(ctx context.Context, lines *protocol.Lines) (model.Request, model.Outcome, bool) {
	line, err := lines.Next(ctx)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		slog.WarnContext(ctx, "input closed before a request arrived")
		return nil, model.Failure(model.CodeEmptyInput, "no input received"), false
	case ctx.Err() != nil:
		slog.InfoContext(ctx, "cancelled while waiting for a request", "error", context.Cause(ctx))
		return nil, model.Failure(model.CodeTerminated, "execution terminated by request"), false
	default:
		slog.ErrorContext(ctx, "reading request", "error", err)
		return nil, model.Failure(model.CodeInvalidJSON, "reading input: "+err.Error()), false
	}

	req, err := protocol.Decode([]byte(line))
	if err != nil {
		if derr, ok := model.AsDecodeError(err); ok {
			slog.WarnContext(ctx, "invalid request", "code", derr.Code, "error", err)
			return nil, derr.Outcome(), false
		}
		slog.ErrorContext(ctx, "decoding request", "error", err)
		return nil, model.Failure(model.CodeInvalidJSON, err.Error()), false
	}
	return req, model.Outcome{}, true
}

func (w Worker) execute(ctx context.Context, enc *protocol.Encoder, lines *protocol.Lines, req model.Execute) int {
	executionID := w.executionID(req.Meta)
	ctx = log.ContextAttrs(ctx, slog.String("execution_id", executionID))
	slog.InfoContext(ctx, "execute received",
		"callbackBaseUrl", req.Meta.CallbackBaseURL,
		"keycloak", req.Meta.Keycloak)

	reporter := w.reporter(ctx, req.Meta, executionID)
	ctrl := controller.New(req, controller.Options{
		ExecutionID:      executionID,
		Emitter:          enc,
		Reporter:         reporter,
		Input:            lines,
		MatchExecutionID: w.cfg.MatchExecutionID,
	})

	outcome, err := ctrl.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "running controller", "error", err)
		outcome = model.Failure(codeInternal, err.Error())
	}
	code := w.finish(ctx, enc, outcome)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Callback.Drain)
	defer cancel()
	if err := reporter.Close(drainCtx); err != nil {
		slog.WarnContext(ctx, "pending callbacks abandoned", "error", err)
	}
	return code
}

// executionID prefers the request, then the configuration.
func (w Worker) executionID(meta model.Meta) string {
	if meta.ExecutionID != "" {
		return meta.ExecutionID
	}
	if w.cfg.ExecutionID != "" {
		return w.cfg.ExecutionID
	}
	return model.UnknownExecutionID
}

func (w Worker) reporter(ctx context.Context, meta model.Meta, executionID string) model.ReportCloser {
	if !meta.CallbacksEnabled() {
		slog.DebugContext(ctx, "progress callbacks disabled")
		return callback.Disabled{}
	}
	tokens := auth.NewProvider(meta.Keycloak, w.client, w.cfg.Token.ExpiryMargin)
	reporter, err := callback.New(callback.Config{
		BaseURL:     meta.CallbackBaseURL,
		ExecutionID: executionID,
		Timeout:     w.cfg.Callback.Timeout,
		QueueSize:   w.cfg.Callback.QueueSize,
	}, w.client, tokens)
	if err != nil {
		slog.WarnContext(ctx, "progress callbacks disabled", "error", err)
		return callback.Disabled{}
	}
	return reporter
}

func (w Worker) progress(ctx context.Context, enc *protocol.Encoder, p model.Progress) {
	if err := enc.Progress(p); err != nil {
		slog.ErrorContext(ctx, "writing progress", "error", err)
	}
}

func (w Worker) finish(ctx context.Context, enc *protocol.Encoder, outcome model.Outcome) int {
	if err := enc.Outcome(outcome); err != nil {
		slog.ErrorContext(ctx, "writing outcome", "error", err)
	}
	code := outcome.ExitCode()
	if outcome.IsError() {
		slog.InfoContext(ctx, "finished with error", "code", outcome.Err.Code, "exitCode", code)
	} else {
		slog.InfoContext(ctx, "finished", "exitCode", code)
	}
	return code
}
