package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type EngineBackend string

const (
	BackendProcess EngineBackend = "process"
	BackendOpenAI  EngineBackend = "openai"
)

type Config struct {
	StateTable string `env:"STATE_TABLE,required"`
	UploadRoot string `env:"UPLOAD_ROOT" envDefault:"/mnt/uploads"`

	// Engines
	EngineBackend      EngineBackend `env:"ENGINE_BACKEND" envDefault:"process"`
	AnswerCommand      string        `env:"ANSWER_COMMAND"`
	MemoryCommand      string        `env:"MEMORY_COMMAND"`
	IngestCommand      string        `env:"INGEST_COMMAND"`
	EngineTimeout      time.Duration `env:"ENGINE_TIMEOUT" envDefault:"60s"`
	IngestTimeout      time.Duration `env:"INGEST_TIMEOUT" envDefault:"5m"`
	MemoryFailureFatal bool          `env:"MEMORY_FAILURE_FATAL" envDefault:"false"`

	// OpenAI backend; the token and model live in SSM under ParamPrefix.
	ParamPrefix   string `env:"PARAM_PREFIX" envDefault:"/docchat"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Conversation
	ContinuityWindow time.Duration `env:"CONTINUITY_WINDOW" envDefault:"5m"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"`
	MaxContextItems  int           `env:"MAX_CONTEXT_ITEMS" envDefault:"20"`
	MaxSessionBytes  int           `env:"MAX_SESSION_BYTES" envDefault:"307200"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment, after merging a local
// .env file when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EngineBackend {
	case BackendProcess:
		if len(c.AnswerArgv()) == 0 || len(c.MemoryArgv()) == 0 {
			return errors.New("config: ANSWER_COMMAND and MEMORY_COMMAND are required for the process backend")
		}
	case BackendOpenAI:
		if strings.Trim(c.ParamPrefix, "/ ") == "" {
			return errors.New("config: PARAM_PREFIX is required for the openai backend")
		}
	default:
		return fmt.Errorf("config: unknown ENGINE_BACKEND %q", c.EngineBackend)
	}
	if len(c.IngestArgv()) == 0 {
		return errors.New("config: INGEST_COMMAND is required")
	}
	if c.EngineTimeout <= 0 || c.IngestTimeout <= 0 || c.ContinuityWindow <= 0 {
		return errors.New("config: durations must be positive")
	}
	if c.MaxContextItems <= 0 || c.MaxSessionBytes <= 0 {
		return errors.New("config: MAX_CONTEXT_ITEMS and MAX_SESSION_BYTES must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AnswerArgv() []string { return strings.Fields(c.AnswerCommand) }
func (c *Config) MemoryArgv() []string { return strings.Fields(c.MemoryCommand) }
func (c *Config) IngestArgv() []string { return strings.Fields(c.IngestCommand) }

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
