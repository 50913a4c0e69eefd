package model

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigError is returned by Config.Validate.
type ConfigError struct {
	Details []ConfigErrorDetail
	Err     error // the schema error
}

func (e *ConfigError) Error() string {
	if len(e.Details) == 0 {
		return "invalid config: " + e.Err.Error()
	}
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Path+": "+d.Message)
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type ConfigErrorDetail struct {
	Path    string // callback.timeout
	Code    string // missing_required | unknown_field | type_mismatch | out_of_bound | invalid_enum ...
	Message string // Human text
	Raw     string // original message
}

func (c ConfigErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
	)
}

// ConfigErrDetails returns the details of a *ConfigError in err chain.
func ConfigErrDetails(err error) []ConfigErrorDetail {
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		return nil
	}
	return cerr.Details
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reEnum        = regexp.MustCompile(`(?i)out of bound =~`)
	reBound       = regexp.MustCompile(`(?i)out of bound`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
)

func humanize(err error) []ConfigErrorDetail {
	if err == nil {
		return nil
	}

	type key struct{ path, raw string }
	seen := make(map[key]struct{})

	var out []ConfigErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		if _, ok := seen[key{path, raw}]; ok {
			continue
		}
		seen[key{path, raw}] = struct{}{}

		code, msg := classify(raw, path)
		out = append(out, ConfigErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Raw:     raw,
		})
	}
	return out
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value: %s", last(path), raw)
	case reBound.MatchString(raw):
		return "out_of_bound", fmt.Sprintf("Field %s is out of range: %s", last(path), raw)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
