package model

// Progress is a non terminal milestone of an execution.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Outcome is the terminal event of the process: either a result or an error.
type Outcome struct {
	Data any
	Err  *Error
}

// Error is a managed failure reported to the monitor.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func Result(data any) Outcome {
	return Outcome{Data: data}
}

func Failure(code, message string) Outcome {
	return Outcome{Err: &Error{Code: code, Message: message}}
}

// Cleaned is the outcome of a first message terminate.
func Cleaned() Outcome {
	return Result(map[string]any{"cleaned": true})
}

// IsError reports whether the outcome is a failure.
func (o Outcome) IsError() bool {
	return o.Err != nil
}

// ExitCode returns the process exit code of the outcome.
func (o Outcome) ExitCode() int {
	if o.Err == nil {
		return ExitOK
	}
	return ExitCode(o.Err.Code)
}

// EchoResult is the data of a completed execution.
type EchoResult struct {
	EchoedMessage string `json:"echoedMessage"`
	ProcessedAt   string `json:"processedAt"`
	ExecutionID   string `json:"executionId"`
}
