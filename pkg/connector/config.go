// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// PortEnvVar overrides http.port when set.
const PortEnvVar = "PORT"

// Config holds the relay configuration. It is read once at startup and not
// modified afterwards.
type Config struct {
	Forward   ForwardConfig     `yaml:"forward"`
	HTTP      HTTPConfig        `yaml:"http"`
	Pairing   PairingConfig     `yaml:"pairing"`
	Database  DatabaseConfig    `yaml:"database"`
	Reconnect ReconnectConfig   `yaml:"reconnect"`
	Logging   zeroconfig.Config `yaml:"logging"`
}

// ForwardConfig names the chat to watch and the chats to relay into.
type ForwardConfig struct {
	Source  string   `yaml:"source"`
	Targets []string `yaml:"targets"`
}

type HTTPConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns the listen address for the status server.
func (hc HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(hc.Port)
}

type PairingConfig struct {
	PrintToTerminal bool `yaml:"print_to_terminal"`
	ImageSize       int  `yaml:"image_size"`
}

// DatabaseConfig selects where whatsmeow keeps the device session.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	URI  string `yaml:"uri"`
}

type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	// MaxAttempts bounds consecutive reconnection attempts. Zero means no limit.
	MaxAttempts int `yaml:"max_attempts"`
}

var supportedDatabaseTypes = map[string]bool{
	"sqlite3":  true,
	"postgres": true,
	"pgx":      true,
}

const (
	defaultImageSize = 256
	// Pairing codes encode to QR codes narrower than 64 modules, and
	// barcode.Scale cannot go below the module count.
	minImageSize = 64
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies environment overrides and defaults, then validates
// the result.
func (c *Config) PostProcess() error {
	if port := os.Getenv(PortEnvVar); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s environment variable %q: %w", PortEnvVar, port, err)
		}
		c.HTTP.Port = parsed
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"*"}
	}
	if c.Pairing.ImageSize <= 0 {
		c.Pairing.ImageSize = defaultImageSize
	}
	c.Forward.Source = strings.TrimSpace(c.Forward.Source)
	for i, target := range c.Forward.Targets {
		c.Forward.Targets[i] = strings.TrimSpace(target)
	}
	return c.validate()
}

func (c *Config) validate() error {
	var errs []error
	if c.Forward.Source == "" {
		errs = append(errs, errors.New("forward.source must not be empty"))
	}
	if len(c.Forward.Targets) == 0 {
		errs = append(errs, errors.New("forward.targets must contain at least one chat name"))
	}
	for i, target := range c.Forward.Targets {
		if target == "" {
			errs = append(errs, fmt.Errorf("forward.targets[%d] must not be empty", i))
		}
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d is out of range", c.HTTP.Port))
	}
	if c.Pairing.ImageSize < minImageSize {
		errs = append(errs, fmt.Errorf("pairing.image_size %d is below the minimum of %d", c.Pairing.ImageSize, minImageSize))
	}
	if !supportedDatabaseTypes[c.Database.Type] {
		errs = append(errs, fmt.Errorf("unsupported database.type %q", c.Database.Type))
	}
	if c.Database.URI == "" {
		errs = append(errs, errors.New("database.uri must not be empty"))
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay <= 0 {
		errs = append(errs, errors.New("reconnect delays must be positive"))
	} else if c.Reconnect.BaseDelay > c.Reconnect.MaxDelay {
		errs = append(errs, errors.New("reconnect.base_delay must not exceed reconnect.max_delay"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "forward", "source")
	helper.Copy(up.List, "forward", "targets")
	helper.Copy(up.Int, "http", "port")
	helper.Copy(up.List, "http", "cors_origins")
	helper.Copy(up.Bool, "pairing", "print_to_terminal")
	helper.Copy(up.Int, "pairing", "image_size")
	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Str, "reconnect", "base_delay")
	helper.Copy(up.Str, "reconnect", "max_delay")
	helper.Copy(up.Int, "reconnect", "max_attempts")
	helper.Copy(up.Str, "logging", "min_level")
	helper.Copy(up.List, "logging", "writers")
}

// ParseConfig merges the given YAML over the embedded example config, so
// keys missing from data keep their defaults, and post-processes the result.
func ParseConfig(data []byte) (*Config, error) {
	var base, user yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(user.Content) > 0 {
		upgradeConfig(up.NewHelper(&base, &user))
	}
	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// WriteExampleConfig writes the embedded example config to path. Existing
// files are not overwritten.
func WriteExampleConfig(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	if _, err = file.WriteString(ExampleConfig); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
