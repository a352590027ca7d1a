// Package config loads the agent configuration from layered TOML and
// YAML files with an environment variable overlay. Later sources win:
// files in DefaultPaths order first, then MINICD_ environment variables
// on top. Values support ${VAR} interpolation from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/buildkite/interpolate"
	"github.com/oleiade/reflections"
	"gopkg.in/yaml.v3"

	"github.com/minicd/minicd/logger"
)

const envPrefix = "MINICD_"

// DefaultPaths is the layered lookup order. Missing files are skipped;
// later files override earlier ones key by key.
var DefaultPaths = []string{
	"minicd.toml",
	"minicd.yaml",
	"/etc/minicd/config.toml",
	"/etc/minicd/config.yaml",
}

const (
	DefaultAddress           = "0.0.0.0"
	DefaultIndexIntervalSecs = 30
	DefaultSMTPPort          = 465
	DefaultStatsdHost        = "127.0.0.1:8125"
)

type Config struct {
	// Address is the bind address of the HTTP front.
	Address string `yaml:"address" toml:"address"`

	// Port is the TCP port the HTTP front listens on. Required.
	Port int `yaml:"port" toml:"port"`

	// RepoDir is the root the indexer scans for bare repositories.
	// Empty disables the indexer.
	RepoDir string `yaml:"repo_dir" toml:"repo_dir"`

	IndexIntervalSecs int `yaml:"index_interval_secs" toml:"index_interval_secs"`

	// SecretsFile points at the YAML secret tree. Empty means an empty
	// secret store.
	SecretsFile string `yaml:"secrets_file" toml:"secrets_file"`

	// DefaultShell runs job scripts that do not declare a shell, split
	// on whitespace into a runner and its arguments.
	DefaultShell string `yaml:"default_shell" toml:"default_shell"`

	Email   *Email   `yaml:"email" toml:"email"`
	Metrics *Metrics `yaml:"metrics" toml:"metrics"`
}

// Email is the SMTP transport for email notifications. Settings are
// all-or-none: leaving every field empty disables the mailer, anything
// else requires the full set.
type Email struct {
	SMTPServer string `yaml:"smtp_server" toml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port" toml:"smtp_port"`
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	From       string `yaml:"from_address" toml:"from_address"`
}

type Metrics struct {
	Statsd     bool   `yaml:"statsd" toml:"statsd"`
	StatsdHost string `yaml:"statsd_host" toml:"statsd_host"`
}

// Configured reports whether any email transport setting is present.
func (e *Email) Configured() bool {
	return e.SMTPServer != "" || e.Username != "" || e.Password != "" || e.From != ""
}

func (e *Email) validate() error {
	if !e.Configured() {
		return nil
	}
	var missing []string
	if e.SMTPServer == "" {
		missing = append(missing, "smtp_server")
	}
	if e.Username == "" {
		missing = append(missing, "username")
	}
	if e.Password == "" {
		missing = append(missing, "password")
	}
	if e.From == "" {
		missing = append(missing, "from_address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("email configuration is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// IndexInterval returns the indexer scan interval as a duration.
func (c *Config) IndexInterval() time.Duration {
	return time.Duration(c.IndexIntervalSecs) * time.Second
}

// Load reads the layered configuration. A non-empty path replaces the
// default file ladder entirely, and that file must exist.
func Load(l logger.Logger, path string) (*Config, error) {
	cfg := &Config{
		Email:   &Email{},
		Metrics: &Metrics{},
	}

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		l.Debug("Loaded configuration from %s", path)
	} else {
		for _, p := range DefaultPaths {
			err := loadFile(cfg, p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				return nil, err
			}
			l.Debug("Loaded configuration from %s", p)
		}
	}

	if err := applyEnv(cfg, os.Environ(), l); err != nil {
		return nil, err
	}
	if err := interpolateStrings(cfg, interpolate.NewSliceEnv(os.Environ())); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}

	// A bare "email:" or "metrics:" key is an explicit YAML null, which
	// resets the section pointer. It means the section is unconfigured;
	// the rest of the package relies on sections never being nil.
	if cfg.Email == nil {
		cfg.Email = &Email{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.IndexIntervalSecs == 0 {
		c.IndexIntervalSecs = DefaultIndexIntervalSecs
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = DefaultSMTPPort
	}
	if c.Metrics.StatsdHost == "" {
		c.Metrics.StatsdHost = DefaultStatsdHost
	}
}

func (c *Config) validate() error {
	if c.Port == 0 {
		return errors.New("a port is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return c.Email.validate()
}

// applyEnv overlays MINICD_ environment variables onto the config. A
// double underscore descends into a section, so MINICD_EMAIL__SMTP_SERVER
// targets email.smtp_server. Unknown keys are ignored.
func applyEnv(cfg *Config, environ []string, l logger.Logger) error {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, envPrefix) {
			continue
		}

		path := strings.Split(strings.TrimPrefix(k, envPrefix), "__")
		if err := setPath(cfg, path, v); err != nil {
			if errors.Is(err, errUnknownKey) {
				l.Debug("Ignoring environment variable %s: no such configuration key", k)
				continue
			}
			return fmt.Errorf("applying %s: %w", k, err)
		}
	}
	return nil
}

var errUnknownKey = errors.New("unknown configuration key")

func setPath(obj any, path []string, value string) error {
	name, ok := fieldByTag(obj, strings.ToLower(path[0]))
	if !ok {
		return errUnknownKey
	}

	if len(path) > 1 {
		section, err := reflections.GetField(obj, name)
		if err != nil {
			return err
		}
		if reflect.ValueOf(section).Kind() != reflect.Ptr {
			return fmt.Errorf("%s is not a section", strings.ToLower(path[0]))
		}
		return setPath(section, path[1:], value)
	}

	kind, err := reflections.GetFieldKind(obj, name)
	if err != nil {
		return err
	}
	switch kind {
	case reflect.String:
		return reflections.SetField(obj, name, value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants an integer: %w", strings.ToLower(path[0]), err)
		}
		return reflections.SetField(obj, name, n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s wants a boolean: %w", strings.ToLower(path[0]), err)
		}
		return reflections.SetField(obj, name, b)
	case reflect.Ptr:
		return fmt.Errorf("%s is a section, set its keys with __", strings.ToLower(path[0]))
	default:
		return fmt.Errorf("unsupported field kind %s", kind)
	}
}

func fieldByTag(obj any, key string) (string, bool) {
	fields, err := reflections.Fields(obj)
	if err != nil {
		return "", false
	}
	for _, f := range fields {
		tag, err := reflections.GetFieldTag(obj, f, "toml")
		if err != nil {
			continue
		}
		if tag == key {
			return f, true
		}
	}
	return "", false
}

// interpolateStrings expands ${VAR} references in every string field,
// descending into sections.
func interpolateStrings(obj any, env interpolate.Env) error {
	fields, err := reflections.Fields(obj)
	if err != nil {
		return err
	}

	for _, f := range fields {
		kind, err := reflections.GetFieldKind(obj, f)
		if err != nil {
			return err
		}

		switch kind {
		case reflect.String:
			cur, err := reflections.GetField(obj, f)
			if err != nil {
				return err
			}
			out, err := interpolate.Interpolate(env, cur.(string))
			if err != nil {
				return fmt.Errorf("interpolating %s: %w", f, err)
			}
			if err := reflections.SetField(obj, f, out); err != nil {
				return err
			}
		case reflect.Ptr:
			section, err := reflections.GetField(obj, f)
			if err != nil {
				return err
			}
			if err := interpolateStrings(section, env); err != nil {
				return err
			}
		}
	}
	return nil
}
