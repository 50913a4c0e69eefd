package callback_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/echo-processor/internal/callback"
	"github.com/CZERTAINLY/echo-processor/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// idle keep-alive connections of httptest clients
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type staticToken string

func (s staticToken) BearerToken(context.Context) (string, bool) {
	return string(s), s != ""
}

type call struct {
	Path          string
	Authorization string
	RequestID     string
	Body          model.Progress
}

type monitor struct {
	mx    sync.Mutex
	calls []call
}

func (m *monitor) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p model.Progress
		_ = json.NewDecoder(r.Body).Decode(&p)
		m.mx.Lock()
		m.calls = append(m.calls, call{
			Path:          r.URL.EscapedPath(),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-Id"),
			Body:          p,
		})
		m.mx.Unlock()
		w.WriteHeader(status)
	}
}

func (m *monitor) Calls() []call {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]call(nil), m.calls...)
}

func TestReporter(t *testing.T) {
	t.Parallel()
	var mon monitor
	srv := httptest.NewServer(mon.handler(http.StatusNoContent))
	t.Cleanup(srv.Close)

	r, err := callback.New(callback.Config{
		BaseURL:     srv.URL + "/api/",
		ExecutionID: "exec/1",
		Timeout:     time.Second,
		QueueSize:   8,
	}, srv.Client(), staticToken("abc"))
	require.NoError(t, err)

	for _, pct := range []int{10, 25, 50} {
		r.Report(t.Context(), model.Progress{Percent: pct, Message: "step"})
	}
	require.NoError(t, r.Close(t.Context()))

	calls := mon.Calls()
	require.Len(t, calls, 3)
	for idx, pct := range []int{10, 25, 50} {
		require.Equal(t, "/api/executions/exec%2F1/progress", calls[idx].Path)
		require.Equal(t, "Bearer abc", calls[idx].Authorization)
		require.NotEmpty(t, calls[idx].RequestID)
		require.Equal(t, model.Progress{Percent: pct, Message: "step"}, calls[idx].Body)
	}

	// reports after close are dropped without a panic
	r.Report(t.Context(), model.Progress{Percent: 75})
	require.NoError(t, r.Close(t.Context()))
	require.Len(t, mon.Calls(), 3)
}

func TestReporterSwallowsErrors(t *testing.T) {
	t.Parallel()

	t.Run("server error", func(t *testing.T) {
		var mon monitor
		srv := httptest.NewServer(mon.handler(http.StatusInternalServerError))
		t.Cleanup(srv.Close)
		r, err := callback.New(callback.Config{BaseURL: srv.URL, ExecutionID: "e1", Timeout: time.Second, QueueSize: 4},
			srv.Client(), staticToken("abc"))
		require.NoError(t, err)
		r.Report(t.Context(), model.Progress{Percent: 10})
		r.Report(t.Context(), model.Progress{Percent: 25})
		require.NoError(t, r.Close(t.Context()))
		require.Len(t, mon.Calls(), 2)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		r, err := callback.New(callback.Config{BaseURL: url, ExecutionID: "e1", Timeout: time.Second, QueueSize: 4},
			nil, staticToken("abc"))
		require.NoError(t, err)
		r.Report(t.Context(), model.Progress{Percent: 10})
		require.NoError(t, r.Close(t.Context()))
	})

	t.Run("no token", func(t *testing.T) {
		var mon monitor
		srv := httptest.NewServer(mon.handler(http.StatusOK))
		t.Cleanup(srv.Close)
		r, err := callback.New(callback.Config{BaseURL: srv.URL, ExecutionID: "e1", Timeout: time.Second, QueueSize: 4},
			srv.Client(), staticToken(""))
		require.NoError(t, err)
		r.Report(t.Context(), model.Progress{Percent: 10})
		require.NoError(t, r.Close(t.Context()))
		require.Empty(t, mon.Calls())
	})
}

func TestReporterDoesNotBlock(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	r, err := callback.New(callback.Config{BaseURL: srv.URL, ExecutionID: "e1", Timeout: 10 * time.Second, QueueSize: 2},
		srv.Client(), staticToken("abc"))
	require.NoError(t, err)

	start := time.Now()
	for pct := range 100 {
		r.Report(t.Context(), model.Progress{Percent: pct})
	}
	require.Less(t, time.Since(start), time.Second, "Report must not wait for the monitor")

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	start = time.Now()
	err = r.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second, "Close must respect its context")
}

func TestReporterTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var mon monitor
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		mon.handler(http.StatusOK)(w, r)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	r, err := callback.New(callback.Config{BaseURL: srv.URL, ExecutionID: "e1", Timeout: 50 * time.Millisecond, QueueSize: 4},
		srv.Client(), staticToken("abc"))
	require.NoError(t, err)

	start := time.Now()
	r.Report(t.Context(), model.Progress{Percent: 10})
	r.Report(t.Context(), model.Progress{Percent: 25})
	require.NoError(t, r.Close(t.Context()))
	// both calls hang and are cut by the timeout
	require.Less(t, time.Since(start), 2*time.Second)
	require.Empty(t, mon.Calls())
}

func TestNewInvalidURL(t *testing.T) {
	t.Parallel()
	for _, given := range []string{"", "monitor:8080", "/relative", "http://[::1"} {
		_, err := callback.New(callback.Config{BaseURL: given, ExecutionID: "e1", Timeout: time.Second},
			nil, staticToken("abc"))
		require.Error(t, err, given)
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	var r model.ReportCloser = callback.Disabled{}
	r.Report(t.Context(), model.Progress{Percent: 10})
	require.NoError(t, r.Close(t.Context()))
}
