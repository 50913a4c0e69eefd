package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/CZERTAINLY/echo-processor/internal/model"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.Outcome
		then     int
	}{
		{"result", model.Result(map[string]any{"ok": true}), model.ExitOK},
		{"cleaned", model.Cleaned(), model.ExitOK},
		{"simulated failure", model.Failure(model.CodeSimulatedFailure, "boom"), model.ExitFailed},
		{"missing action", model.Failure(model.CodeMissingAction, "x"), model.ExitBadInput},
		{"unknown action", model.Failure(model.CodeUnknownAction, "x"), model.ExitBadInput},
		{"invalid parameter", model.Failure(model.CodeInvalidParameter, "x"), model.ExitBadInput},
		{"terminated", model.Failure(model.CodeTerminated, "x"), model.ExitTerminated},
		{"unknown code", model.Failure("WHATEVER", "x"), model.ExitFailed},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then, tc.given.ExitCode())
		})
	}
}

func TestDecodeError(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	err := fmt.Errorf("decoding: %w", &model.DecodeError{
		Code:    model.CodeInvalidParameter,
		Message: "delay must be an integer",
		Err:     cause,
	})

	de, ok := model.AsDecodeError(err)
	require.True(t, ok)
	require.ErrorIs(t, err, cause)
	out := de.Outcome()
	require.Equal(t, model.CodeInvalidParameter, out.Err.Code)
	require.Equal(t, "delay must be an integer: cause", out.Err.Message)
	require.Equal(t, model.ExitBadInput, out.ExitCode())
}
