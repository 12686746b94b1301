package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"dmagent/internal/observability"
)

const (
	DriverCGO    = "sqlite3"
	DriverPure   = "sqlite"
	DriverMemory = "memory"

	HistoryLastWriteWins = "last-write-wins"
	HistoryReject        = "reject"

	ActionsLocal = "local"
	ActionsMCP   = "mcp"
)

// Config is the process configuration, read from the environment.
type Config struct {
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
	Model         string        `env:"DM_MODEL" envDefault:"gpt-5-2025-08-07"`
	MaxTokens     int           `env:"DM_MAX_TOKENS" envDefault:"1000"`
	TurnTimeout   time.Duration `env:"DM_TURN_TIMEOUT" envDefault:"60s"`

	Debug        bool   `env:"DEBUG"`
	DebugLogPath string `env:"DM_DEBUG_LOG" envDefault:"debug.log"`

	StoreDriver       string `env:"DM_STORE_DRIVER" envDefault:"sqlite3"`
	StorePath         string `env:"DM_STORE_PATH" envDefault:"./dmGameState.db"`
	CompletionLogPath string `env:"DM_COMPLETION_LOG" envDefault:"./completions.db"`
	HistoryPolicy     string `env:"DM_HISTORY_POLICY" envDefault:"last-write-wins"`

	// ActionsMode selects where tool calls run: in process, or through an
	// MCP action server started with ActionsCommand.
	ActionsMode    string   `env:"DM_ACTIONS_MODE" envDefault:"local"`
	ActionsCommand []string `env:"DM_ACTIONS_COMMAND" envSeparator:" " envDefault:"dm actions"`

	HTTPAddr string `env:"DM_HTTP_ADDR" envDefault:"localhost:8080"`

	Tracing observability.Config
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverCGO, DriverPure, DriverMemory:
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch c.HistoryPolicy {
	case HistoryLastWriteWins, HistoryReject:
	default:
		return fmt.Errorf("unsupported history policy %q", c.HistoryPolicy)
	}
	switch c.ActionsMode {
	case ActionsLocal:
	case ActionsMCP:
		if len(c.ActionsCommand) == 0 {
			return fmt.Errorf("actions mode %q requires DM_ACTIONS_COMMAND", c.ActionsMode)
		}
		// The action server is another process; both must open the same file.
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("actions mode %q needs a SQLite store driver, not %q", c.ActionsMode, c.StoreDriver)
		}
	default:
		return fmt.Errorf("unsupported actions mode %q", c.ActionsMode)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn timeout must be positive, got %s", c.TurnTimeout)
	}
	return nil
}

// RequireModel reports whether the model credentials needed for play are present.
func (c Config) RequireModel() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("please set OPENAI_API_KEY environment variable")
	}
	return nil
}
