package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/CZERTAINLY/echo-processor/internal/model"
)

// Decode parses one protocol line into model.Execute or model.Terminate.
// Failures are reported as *model.DecodeError.
func Decode(line []byte) (model.Request, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, &model.DecodeError{Code: model.CodeEmptyInput, Message: "no input provided on stdin"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &model.DecodeError{Code: model.CodeInvalidJSON, Message: "input is not valid JSON", Err: err}
	}
	if fields == nil {
		return nil, &model.DecodeError{Code: model.CodeInvalidJSON, Message: "input is not a JSON object"}
	}

	action, err := decodeAction(fields)
	if err != nil {
		return nil, err
	}

	var meta model.Meta
	if raw, ok := present(fields, "_meta"); ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, invalid("_meta", "must be an object with string fields", err)
		}
	}

	switch action {
	case model.ActionExecute:
		req, err := decodeExecute(fields, meta)
		if err != nil {
			return nil, err
		}
		return req, nil
	case model.ActionTerminate:
		return model.Terminate{Meta: meta}, nil
	default:
		return nil, &model.DecodeError{
			Code:    model.CodeUnknownAction,
			Message: fmt.Sprintf("unknown _action: %s", action),
		}
	}
}

func decodeAction(fields map[string]json.RawMessage) (model.Action, error) {
	missing := &model.DecodeError{
		Code:    model.CodeMissingAction,
		Message: "required field '_action' is missing from input",
	}
	raw, ok := present(fields, "_action")
	if !ok {
		return "", missing
	}
	var action string
	if err := json.Unmarshal(raw, &action); err != nil {
		return "", &model.DecodeError{
			Code:    model.CodeUnknownAction,
			Message: "unknown _action: " + string(raw),
		}
	}
	if action == "" {
		return "", missing
	}
	return model.Action(action), nil
}

func decodeExecute(fields map[string]json.RawMessage, meta model.Meta) (model.Execute, error) {
	ret := model.Execute{
		Meta:  meta,
		Delay: model.DefaultDelay,
	}

	raw, ok := present(fields, "message")
	if !ok {
		return model.Execute{}, missingField("message")
	}
	if err := json.Unmarshal(raw, &ret.Message); err != nil {
		return model.Execute{}, invalid("message", "must be a string", err)
	}
	if ret.Message == "" {
		return model.Execute{}, missingField("message")
	}

	var err error
	if ret.Delay, err = intField(fields, "delay", model.DefaultDelay, 0, model.MaxDelay); err != nil {
		return model.Execute{}, err
	}
	if ret.MinRunSecs, err = intField(fields, "minRunSeconds", 0, 0, model.MaxMinRunSecs); err != nil {
		return model.Execute{}, err
	}
	if raw, ok := present(fields, "shouldFail"); ok {
		if err := json.Unmarshal(raw, &ret.ShouldFail); err != nil {
			return model.Execute{}, invalid("shouldFail", "must be a boolean", err)
		}
	}
	return ret, nil
}

// intField reads an integer parameter. Values out of [lo, hi] are rejected.
func intField(fields map[string]json.RawMessage, name string, dflt, lo, hi int) (int, error) {
	raw, ok := present(fields, name)
	if !ok {
		return dflt, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return 0, invalid(name, "must be an integer", err)
	}
	// json.Number would accept a quoted number too
	n, ok := decoded.(json.Number)
	if !ok {
		return 0, invalid(name, "must be an integer", nil)
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) {
			return 0, invalid(name, "must be an integer", nil)
		}
		v = int64(f)
	}
	if v < int64(lo) || v > int64(hi) {
		return 0, invalid(name, fmt.Sprintf("must be within [%d, %d], got %d", lo, hi, v), nil)
	}
	return int(v), nil
}

// present returns a field unless it is absent or JSON null.
func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return nil, false
	}
	return raw, true
}

func missingField(name string) *model.DecodeError {
	return &model.DecodeError{
		Code:    model.CodeMissingField,
		Message: fmt.Sprintf("required field '%s' is missing", name),
	}
}

func invalid(name, reason string, err error) *model.DecodeError {
	return &model.DecodeError{
		Code:    model.CodeInvalidParameter,
		Message: fmt.Sprintf("field '%s' %s", name, reason),
		Err:     err,
	}
}
