// Package config loads revpad settings.
//
// The effective config is built in layers: defaults, then the YAML config
// file, then REVPAD_* environment variables, then command-line overrides.
// Every key has the same dotted name in each layer, e.g. analysis.timeout in
// the file, REVPAD_ANALYSIS_TIMEOUT in the environment and the override map.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/revpad/internal/rules"
)

// Config is the complete revpad configuration.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

// AnalysisConfig bounds and tunes the analyzer.
type AnalysisConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxSourceBytes int           `yaml:"maxSourceBytes" validate:"gt=0"`
	DisabledRules  []string      `yaml:"disabledRules" validate:"dive,ruleid"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `yaml:"rateLimit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// StoreConfig locates the review database.
type StoreConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"inMemory"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{
			Timeout:        5 * time.Second,
			MaxSourceBytes: 1 << 20,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1",
			Port:      8080,
			RateLimit: 10,
			Burst:     20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Listen returns the address the server binds.
func (s ServerConfig) Listen() string {
	return fmt.Sprintf("%s:%d", s.Addr, s.Port)
}

// Dir returns the platform-appropriate config directory for revpad.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "revpad"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "revpad"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "revpad"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "revpad"), nil
	default:
		return filepath.Join(home, ".config", "revpad"), nil
	}
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns the default directory for the review store.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "revpad"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "revpad"), nil
}

// Load builds the effective config by merging defaults <- file <- env <-
// overrides, then validates it. An empty path reads the default config file
// if it exists; an explicit path must exist.
func Load(path string, overrides map[string]string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := Path()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	if err := mergeFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	for _, key := range sortedKeys(overrides) {
		if err := Set(&cfg, key, overrides[key]); err != nil {
			return Config{}, err
		}
	}

	if cfg.Store.Dir == "" && !cfg.Store.InMemory {
		dir, err := DataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.Store.Dir = dir
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile decodes the YAML file onto cfg. Keys absent from the file keep
// their current values.
func mergeFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// EnvName returns the environment variable for a config key.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString("REVPAD_")
	for i, r := range key {
		switch {
		case r == '.':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			if i > 0 && key[i-1] != '.' {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteString(strings.ToUpper(string(r)))
		}
	}
	return b.String()
}

func mergeEnv(cfg *Config) error {
	for _, key := range Keys() {
		if v, ok := os.LookupEnv(EnvName(key)); ok && v != "" {
			if err := Set(cfg, key, v); err != nil {
				return fmt.Errorf("%s: %w", EnvName(key), err)
			}
		}
	}
	return nil
}

// Keys lists every settable key.
func Keys() []string {
	return []string{
		"analysis.timeout",
		"analysis.maxSourceBytes",
		"analysis.disabledRules",
		"server.addr",
		"server.port",
		"server.rateLimit",
		"server.burst",
		"store.dir",
		"store.inMemory",
		"log.level",
		"log.format",
	}
}

// Set sets a single config field by key name. List values are comma
// separated.
func Set(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "analysis.timeout":
		cfg.Analysis.Timeout, err = time.ParseDuration(value)
	case "analysis.maxSourceBytes":
		cfg.Analysis.MaxSourceBytes, err = strconv.Atoi(value)
	case "analysis.disabledRules":
		cfg.Analysis.DisabledRules = splitList(value)
	case "server.addr":
		cfg.Server.Addr = value
	case "server.port":
		cfg.Server.Port, err = strconv.Atoi(value)
	case "server.rateLimit":
		cfg.Server.RateLimit, err = strconv.ParseFloat(value, 64)
	case "server.burst":
		cfg.Server.Burst, err = strconv.Atoi(value)
	case "store.dir":
		cfg.Store.Dir = value
	case "store.inMemory":
		cfg.Store.InMemory, err = strconv.ParseBool(value)
	case "log.level":
		cfg.Log.Level = strings.ToLower(value)
	case "log.format":
		cfg.Log.Format = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("ruleid", func(fl validator.FieldLevel) bool {
		_, ok := rules.Lookup(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "ruleid":
		return fmt.Sprintf("%s: unknown rule %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
