package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/CZERTAINLY/echo-processor/internal/model"
)

// Event types.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
)

// ErrSealed is returned for writes after the terminal outcome.
var ErrSealed = errors.New("terminal outcome already written")

type progressEvent struct {
	Type    string `json:"type"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type resultEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Encoder writes protocol events as JSON lines. It is safe for a concurrent use.
type Encoder struct {
	mx     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	sealed bool
}

func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Encoder{
		w:   bw,
		enc: enc,
	}
}

// Progress writes a progress event.
func (e *Encoder) Progress(p model.Progress) error {
	return e.write(progressEvent{
		Type:    TypeProgress,
		Percent: p.Percent,
		Message: p.Message,
	}, false)
}

// Outcome writes the terminal result or error event and seals the encoder.
// Only the first call writes anything.
func (e *Encoder) Outcome(o model.Outcome) error {
	var v any
	if o.Err != nil {
		v = errorEvent{
			Type:    TypeError,
			Code:    o.Err.Code,
			Message: o.Err.Message,
			Data:    o.Err.Data,
		}
	} else {
		v = resultEvent{Type: TypeResult, Data: o.Data}
	}
	return e.write(v, true)
}

// Sealed reports whether the terminal outcome was written.
func (e *Encoder) Sealed() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.sealed
}

func (e *Encoder) write(v any, terminal bool) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.sealed {
		return ErrSealed
	}
	if terminal {
		e.sealed = true
	}
	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %T: %w", v, err)
	}
	return e.w.Flush()
}
