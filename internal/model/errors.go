package model

import (
	"errors"
)

// Error codes emitted in `error` events.
const (
	CodeEmptyInput       = "EMPTY_INPUT"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeMissingAction    = "MISSING_ACTION"
	CodeUnknownAction    = "UNKNOWN_ACTION"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeSimulatedFailure = "SIMULATED_FAILURE"
	CodeTerminated       = "TERMINATED"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailed     = 1
	ExitBadInput   = 2
	ExitTerminated = 3
)

var exitCodes = map[string]int{
	CodeEmptyInput:       ExitBadInput,
	CodeInvalidJSON:      ExitBadInput,
	CodeMissingAction:    ExitBadInput,
	CodeUnknownAction:    ExitBadInput,
	CodeMissingField:     ExitBadInput,
	CodeInvalidParameter: ExitBadInput,
	CodeSimulatedFailure: ExitFailed,
	CodeTerminated:       ExitTerminated,
}

// ExitCode maps an error code to the process exit code. Unknown codes are failures.
func ExitCode(code string) int {
	if ret, ok := exitCodes[code]; ok {
		return ret
	}
	return ExitFailed
}

// DecodeError is returned when a protocol line can't be turned into a Request.
type DecodeError struct {
	Code    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Outcome converts the decode failure into a terminal outcome.
func (e *DecodeError) Outcome() Outcome {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return Failure(e.Code, msg)
}

// AsDecodeError returns the DecodeError in err chain, if any.
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	ok := errors.As(err, &de)
	return de, ok
}
