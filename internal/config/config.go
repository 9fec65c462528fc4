// Package config resolves the tool configuration from flags, environment,
// the TOML config file and built-in defaults, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables the loader consults.
const (
	EnvConfig       = "BETTER_WEBHOOK_CONFIG"
	EnvCapturesDir  = "BETTER_WEBHOOK_CAPTURES_DIR"
	EnvTemplatesDir = "BETTER_WEBHOOK_TEMPLATES_DIR"
	EnvLogLevel     = "BETTER_WEBHOOK_LOG_LEVEL"
)

// ConfigDirName is the dot directory under $HOME holding everything the tool
// persists.
const ConfigDirName = ".better-webhook"

const configFileName = "config.toml"

var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrUnsupportedKey  = errors.New("unsupported config key")
	ErrConfigExists    = errors.New("config file already exists")
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// AppConfig is the fully-resolved configuration.
type AppConfig struct {
	CapturesDir  string
	TemplatesDir string
	LogLevel     string

	// ConfigDir is the tool's root directory, used for logs.
	ConfigDir string
}

// Flags carries the values of the command-line flags; empty means unset.
type Flags struct {
	ConfigFile   string
	CapturesDir  string
	TemplatesDir string
	LogLevel     string
}

// fileConfig is the recognised shape of the TOML config file. Unknown keys
// are rejected on decode.
type fileConfig struct {
	CapturesDir  string `toml:"captures_dir"`
	TemplatesDir string `toml:"templates_dir"`
	LogLevel     string `toml:"log_level"`
}

// DefaultConfigDir returns ~/.better-webhook.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ConfigDirName), nil
}

// DefaultConfigFile returns the default config file path.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// ExpandPath expands a leading ~ and any $VAR references.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return os.ExpandEnv(path), nil
}

// Load resolves the configuration. A missing config file is fine; a config
// file with unknown keys or an invalid log level is not.
func Load(flags Flags) (*AppConfig, error) {
	configDir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	file, err := loadFile(flags.ConfigFile)
	if err != nil {
		return nil, err
	}

	capturesDir := firstNonEmpty(
		flags.CapturesDir,
		os.Getenv(EnvCapturesDir),
		file.CapturesDir,
		filepath.Join(configDir, "captures"),
	)
	templatesDir := firstNonEmpty(
		flags.TemplatesDir,
		os.Getenv(EnvTemplatesDir),
		file.TemplatesDir,
		filepath.Join(configDir, "templates"),
	)
	logLevel := strings.ToLower(strings.TrimSpace(firstNonEmpty(
		flags.LogLevel,
		os.Getenv(EnvLogLevel),
		file.LogLevel,
		"info",
	)))

	if _, ok := validLogLevels[logLevel]; !ok {
		return nil, fmt.Errorf("%w: %q (expected debug, info, warn or error)", ErrInvalidLogLevel, logLevel)
	}
	if capturesDir, err = ExpandPath(capturesDir); err != nil {
		return nil, err
	}
	if templatesDir, err = ExpandPath(templatesDir); err != nil {
		return nil, err
	}

	return &AppConfig{
		CapturesDir:  capturesDir,
		TemplatesDir: templatesDir,
		LogLevel:     logLevel,
		ConfigDir:    configDir,
	}, nil
}

// loadFile reads the TOML config from the flag, the env, or the default
// location. Absence is not an error.
func loadFile(flagPath string) (fileConfig, error) {
	var cfg fileConfig

	path := strings.TrimSpace(flagPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfig))
	}
	explicit := path != ""
	if path == "" {
		defaultPath, err := DefaultConfigFile()
		if err != nil {
			return cfg, err
		}
		path = defaultPath
	}
	path, err := ExpandPath(path)
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config file %s does not exist", path)
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("%w in %s: %s", ErrUnsupportedKey, path, strings.TrimSpace(strict.String()))
		}
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

const defaultConfigContent = `# better-webhook configuration
# All keys are optional; flags and BETTER_WEBHOOK_* environment variables
# take precedence over this file.

# Where captured webhooks are stored.
# captures_dir = "~/.better-webhook/captures"

# Where downloaded templates are stored.
# templates_dir = "~/.better-webhook/templates"

# One of: debug, info, warn, error.
# log_level = "info"
`

// WriteDefault creates the default config file. An existing file is left
// alone unless force is set.
func WriteDefault(force bool) (string, error) {
	path, err := DefaultConfigFile()
	if err != nil {
		return "", err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o600); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return path, nil
}
