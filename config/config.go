// Package config loads cursorbridge settings from YAML, a .env file and
// CURSORBRIDGE_* environment variables, in increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/retry"
	"github.com/bazelment/cursorbridge/storage"
)

// Environment variables that override the file.
const (
	EnvCLIPath       = "CURSORBRIDGE_CLI_PATH"
	EnvModel         = "CURSORBRIDGE_MODEL"
	EnvStore         = "CURSORBRIDGE_STORE"
	EnvStoreDir      = "CURSORBRIDGE_STORE_DIR"
	EnvRetentionDays = "CURSORBRIDGE_RETENTION_DAYS"
)

// Config is the contents of config.yaml.
type Config struct {
	Env       map[string]string `yaml:"env,omitempty" jsonschema:"description=Extra environment for the agent subprocess"`
	CLIPath   string            `yaml:"cli_path" jsonschema:"description=cursor-agent executable,default=cursor-agent"`
	Model     string            `yaml:"model,omitempty" jsonschema:"description=Model used when a session does not pick one"`
	ExtraArgs []string          `yaml:"extra_args,omitempty" jsonschema:"description=Arguments appended to every cursor-agent invocation"`
	Retry     RetryConfig       `yaml:"retry"`
	Sessions  SessionsConfig    `yaml:"sessions"`
	Turn      TurnConfig        `yaml:"turn"`
}

// RetryConfig bounds prompt retries.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" jsonschema:"minimum=0,default=3"`
	BaseDelay  time.Duration `yaml:"base_delay" jsonschema:"description=Delay before the first retry; doubles per attempt"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// SessionsConfig selects session storage and retention.
type SessionsConfig struct {
	Store         storage.Kind `yaml:"store" jsonschema:"enum=file,enum=sqlite,enum=memory,default=file"`
	Dir           string       `yaml:"dir,omitempty" jsonschema:"description=Storage directory; defaults to ~/.cursorbridge/sessions"`
	RetentionDays int          `yaml:"retention_days" jsonschema:"minimum=1,default=30"`
}

// TurnConfig tunes subprocess shutdown.
type TurnConfig struct {
	KillGrace  time.Duration `yaml:"kill_grace" jsonschema:"description=Wait between SIGTERM and SIGKILL"`
	CloseGrace time.Duration `yaml:"close_grace" jsonschema:"description=Wait for late output after a result or stdout close"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		CLIPath: bridge.DefaultCLIPath,
		Retry: RetryConfig{
			MaxRetries: p.MaxRetries,
			BaseDelay:  p.BaseDelay,
			MaxDelay:   p.MaxDelay,
		},
		Sessions: SessionsConfig{
			Store:         storage.KindFile,
			RetentionDays: 30,
		},
		Turn: TurnConfig{
			KillGrace:  time.Second,
			CloseGrace: 200 * time.Millisecond,
		},
	}
}

// DefaultPath returns ~/.cursorbridge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cursorbridge", "config.yaml"), nil
}

// Load reads path (DefaultPath when empty) and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables already set. Missing files are skipped; with no
// arguments it loads ./.env.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvCLIPath); v != "" {
		c.CLIPath = v
	}
	if v := getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := getenv(EnvStore); v != "" {
		c.Sessions.Store = storage.Kind(v)
	}
	if v := getenv(EnvStoreDir); v != "" {
		c.Sessions.Dir = v
	}
	if v := getenv(EnvRetentionDays); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetentionDays, err)
		}
		c.Sessions.RetentionDays = n
	}
	return nil
}

// Validate rejects settings the rest of the program cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CLIPath) == "" {
		errs = append(errs, errors.New("cli_path must not be empty"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	switch c.Sessions.Store {
	case storage.KindFile, storage.KindSQLite, storage.KindMemory:
	default:
		errs = append(errs, fmt.Errorf("sessions.store: unknown backend %q", c.Sessions.Store))
	}
	if c.Sessions.RetentionDays < 1 {
		errs = append(errs, errors.New("sessions.retention_days must be at least 1"))
	}
	return errors.Join(errs...)
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
		ExpandedStruct: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration, e.g. 500ms or 2s",
				}
			}
			return nil
		},
	}
	s := r.Reflect(&Config{})
	s.Title = "cursorbridge configuration"
	return json.MarshalIndent(s, "", "  ")
}
