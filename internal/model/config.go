package model

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	_ "embed"
)

// Log destinations understood by the log.path option, anything else is a file path.
const (
	LogStderr  = "stderr"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the worker configuration. It is layered by viper from defaults,
// an optional config file, environment and command line flags.
type Config struct {
	// ExecutionID is used when the request carries no _meta.executionId.
	ExecutionID string `mapstructure:"execution_id"`
	// MatchExecutionID makes a second terminate cancel the run only when its
	// executionId is empty or equal to the running one.
	MatchExecutionID bool     `mapstructure:"match_execution_id"`
	Log              Log      `mapstructure:"log"`
	Callback         Callback `mapstructure:"callback"`
	Token            Token    `mapstructure:"token"`
}

type Log struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"` // "stderr"|"discard"|path
}

type Callback struct {
	Timeout   time.Duration `mapstructure:"timeout"`    // single callback call
	Drain     time.Duration `mapstructure:"drain"`      // waiting for queued callbacks on exit
	QueueSize int           `mapstructure:"queue_size"` // pending callbacks, extra ones are dropped
}

type Token struct {
	ExpiryMargin time.Duration `mapstructure:"expiry_margin"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ExecutionID: UnknownExecutionID,
		Log: Log{
			Level: "Info",
			Path:  LogStderr,
		},
		Callback: Callback{
			Timeout:   5 * time.Second,
			Drain:     5 * time.Second,
			QueueSize: 16,
		},
		Token: Token{
			ExpiryMargin: 30 * time.Second,
		},
	}
}

// SetDefaults registers DefaultConfig values in v, so env variables
// and flags for every key are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("execution_id", d.ExecutionID)
	v.SetDefault("match_execution_id", d.MatchExecutionID)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("callback.timeout", d.Callback.Timeout)
	v.SetDefault("callback.drain", d.Callback.Drain)
	v.SetDefault("callback.queue_size", d.Callback.QueueSize)
	v.SetDefault("token.expiry_margin", d.Token.ExpiryMargin)
}

// LoadConfig decodes and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.ExecutionID == "" {
		cfg.ExecutionID = UnknownExecutionID
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks c against the #Config schema. A failure is a *ConfigError.
func (c Config) Validate() error {
	value := cueCtx.Encode(c.document())
	if value.Err() != nil {
		return fmt.Errorf("encoding config: %w", value.Err())
	}
	unified := schema.Unify(value)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return &ConfigError{Details: humanize(err), Err: err}
	}
	return nil
}

// document is the form c takes in the #Config schema.
func (c Config) document() map[string]any {
	return map[string]any{
		"execution_id":       c.ExecutionID,
		"match_execution_id": c.MatchExecutionID,
		"log": map[string]any{
			"level": c.Log.Level,
			"path":  c.Log.Path,
		},
		"callback": map[string]any{
			"timeout":    int64(c.Callback.Timeout),
			"drain":      int64(c.Callback.Drain),
			"queue_size": c.Callback.QueueSize,
		},
		"token": map[string]any{
			"expiry_margin": int64(c.Token.ExpiryMargin),
		},
	}
}

// MarshalYAML renders durations in their human form.
func (c Config) MarshalYAML() (any, error) {
	type callback struct {
		Timeout   string `yaml:"timeout"`
		Drain     string `yaml:"drain"`
		QueueSize int    `yaml:"queue_size"`
	}
	type token struct {
		ExpiryMargin string `yaml:"expiry_margin"`
	}
	type log struct {
		Level string `yaml:"level"`
		Path  string `yaml:"path"`
	}
	return struct {
		ExecutionID      string   `yaml:"execution_id"`
		MatchExecutionID bool     `yaml:"match_execution_id"`
		Log              log      `yaml:"log"`
		Callback         callback `yaml:"callback"`
		Token            token    `yaml:"token"`
	}{
		ExecutionID:      c.ExecutionID,
		MatchExecutionID: c.MatchExecutionID,
		Log:              log{Level: c.Log.Level, Path: c.Log.Path},
		Callback: callback{
			Timeout:   c.Callback.Timeout.String(),
			Drain:     c.Callback.Drain.String(),
			QueueSize: c.Callback.QueueSize,
		},
		Token: token{ExpiryMargin: c.Token.ExpiryMargin.String()},
	}, nil
}
