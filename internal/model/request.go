package model

import "log/slog"

// Action is a value of the `_action` protocol field.
type Action string

const (
	ActionExecute   Action = "execute"
	ActionTerminate Action = "terminate"
)

// Bounds of the execute parameters. Values outside are rejected by the decoder.
const (
	DefaultDelay  = 1
	MaxDelay      = 10
	MaxMinRunSecs = 300
)

// UnknownExecutionID is used when neither the request nor the configuration
// carry an execution id.
const UnknownExecutionID = "unknown"

// Request is either an Execute or a Terminate.
type Request interface {
	Action() Action
	Metadata() Meta
}

// Meta is the `_meta` protocol object.
type Meta struct {
	ExecutionID     string    `json:"executionId,omitempty"`
	CallbackBaseURL string    `json:"callbackBaseUrl,omitempty"`
	Keycloak        *Keycloak `json:"keycloak,omitempty"`
}

// Keycloak holds the OAuth2 client-credentials configuration used for callbacks.
type Keycloak struct {
	TokenURL     string `json:"tokenUrl"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Complete reports whether all fields needed for a token exchange are present.
func (k *Keycloak) Complete() bool {
	return k != nil && k.TokenURL != "" && k.ClientID != "" && k.ClientSecret != ""
}

// LogValue never exposes the client secret.
func (k *Keycloak) LogValue() slog.Value {
	if k == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("tokenUrl", k.TokenURL),
		slog.String("clientId", k.ClientID),
		slog.Bool("clientSecret", k.ClientSecret != ""),
	)
}

// CallbacksEnabled says if the meta carries everything needed to report progress.
func (m Meta) CallbacksEnabled() bool {
	return m.CallbackBaseURL != "" && m.Keycloak.Complete()
}

// Execute asks the worker to run the simulated task.
type Execute struct {
	Meta       Meta
	Message    string
	Delay      int // seconds between milestones
	ShouldFail bool
	MinRunSecs int
}

func (Execute) Action() Action { return ActionExecute }
func (e Execute) Metadata() Meta { return e.Meta }

// Terminate asks the worker to stop. As a first message it is a cleanup request.
type Terminate struct {
	Meta Meta
}

func (Terminate) Action() Action { return ActionTerminate }
func (t Terminate) Metadata() Meta { return t.Meta }
