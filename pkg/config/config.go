// Package config loads dcos-node settings from a TOML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// DefaultSSHUser is the login used for both hops when nothing else is configured.
const DefaultSSHUser = "core"

// Config represents the complete configuration for dcos-node
type Config struct {
	Core CoreConfig `toml:"core"`
	Node NodeConfig `toml:"node"`
	Log  LogConfig  `toml:"log"`
}

// CoreConfig locates the cluster
type CoreConfig struct {
	DCOSURL        string `toml:"dcos_url"`
	MesosMasterURL string `toml:"mesos_master_url"` // defaults to <dcos_url>/mesos/
	ACSToken       string `toml:"dcos_acs_token"`
	Timeout        int    `toml:"timeout"` // HTTP timeout in seconds
}

// NodeConfig contains settings for the log and ssh subcommands
type NodeConfig struct {
	SSHUser         string   `toml:"ssh_user"`
	SSHConfigFile   string   `toml:"ssh_config_file"`
	SSHOptions      []string `toml:"ssh_options"`
	PollInterval    string   `toml:"poll_interval"` // Parsed as duration
	MaxPollFailures int      `toml:"max_poll_failures"`
	InitialChunk    int64    `toml:"initial_chunk"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level    string `toml:"level"`     // debug, info, warn, error
	Output   string `toml:"output"`    // stdout, stderr, or file path
	NoColor  bool   `toml:"no_color"`  // disable colored output
	ShowTime bool   `toml:"show_time"` // show timestamp
}

// Env holds the DCOS_* environment overrides.
type Env struct {
	Config   string `envconfig:"CONFIG"`
	URL      string `envconfig:"URL"`
	LogLevel string `envconfig:"LOG_LEVEL"`
	ACSToken string `envconfig:"ACS_TOKEN"`
}

// Store owns the loaded configuration
type Store struct {
	mu     sync.RWMutex
	config *Config
	path   string
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Core: CoreConfig{
			Timeout: 5,
		},
		Node: NodeConfig{
			SSHUser:         DefaultSSHUser,
			PollInterval:    "1s",
			MaxPollFailures: 5,
			InitialChunk:    4096,
		},
		Log: LogConfig{
			Level:  "warning",
			Output: "stderr",
		},
	}
}

// LoadEnv reads the DCOS_* environment variables
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("dcos", &env); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

// DefaultPath returns ~/.dcos/dcos.toml
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dcos", "dcos.toml")
}

// New creates a Store. The path is chosen from configPath, then DCOS_CONFIG,
// then the default location. A missing file is not an error.
func New(configPath string) (*Store, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = env.Config
	}
	if configPath == "" {
		configPath = DefaultPath()
	}

	s := &Store{
		config: Defaults(),
		path:   ExpandPath(configPath),
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	s.applyEnv(env)

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", s.path, err)
	}

	return s, nil
}

// Load loads configuration from file, keeping defaults for absent keys
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	config := Defaults()
	if err := toml.Unmarshal(data, config); err != nil {
		return err
	}

	s.config = config
	return nil
}

// Save saves configuration to file
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(s.config); err != nil {
		return err
	}

	// The token is a credential
	return os.WriteFile(s.path, []byte(buf.String()), 0600)
}

func (s *Store) applyEnv(env Env) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.URL != "" {
		s.config.Core.DCOSURL = env.URL
	}
	if env.ACSToken != "" {
		s.config.Core.ACSToken = env.ACSToken
	}
	if env.LogLevel != "" {
		s.config.Log.Level = env.LogLevel
	}
}

// Path returns the config file location
func (s *Store) Path() string {
	return s.path
}

// GetConfig returns complete configuration
func (s *Store) GetConfig() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Validate checks values that are parsed lazily elsewhere
func (c *Config) Validate() error {
	if _, err := c.Node.PollDuration(); err != nil {
		return err
	}
	if c.Node.MaxPollFailures < 0 {
		return fmt.Errorf("node.max_poll_failures must not be negative, got %d", c.Node.MaxPollFailures)
	}
	if c.Node.InitialChunk < 0 {
		return fmt.Errorf("node.initial_chunk must not be negative, got %d", c.Node.InitialChunk)
	}
	if c.Core.Timeout < 0 {
		return fmt.Errorf("core.timeout must not be negative, got %d", c.Core.Timeout)
	}
	return nil
}

// PollDuration parses the follow-mode poll interval
func (n NodeConfig) PollDuration() (time.Duration, error) {
	if n.PollInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(n.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("node.poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("node.poll_interval must be positive, got %s", n.PollInterval)
	}
	return d, nil
}

// HTTPTimeout returns the per-request timeout
func (c CoreConfig) HTTPTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// MasterURL returns the Mesos master base URL, always with a trailing slash
func (c CoreConfig) MasterURL() string {
	if c.MesosMasterURL != "" {
		return withSlash(c.MesosMasterURL)
	}
	if c.DCOSURL != "" {
		return withSlash(c.DCOSURL) + "mesos/"
	}
	return ""
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// ExpandPath expands ~ in path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return filepath.Join(home, path[2:])
		}
		return home
	}

	return path
}
