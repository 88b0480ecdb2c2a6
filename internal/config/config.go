package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration
type Config struct {
	Nick        string   `yaml:"nick" env:"IRC_NICK"`
	NickPass    string   `yaml:"nick_pass" env:"IRC_NICK_PASS"`
	Alternate   string   `yaml:"alternate"`
	Server      string   `yaml:"server" env:"IRC_SERVER"`
	Port        int      `yaml:"port" env:"IRC_PORT"`
	ServerPass  string   `yaml:"server_pass" env:"IRC_SERVER_PASS"`
	IRCName     string   `yaml:"irc_name"`
	Username    string   `yaml:"username"`
	UseTLS      bool     `yaml:"use_tls" env:"IRC_USE_TLS"`
	TLSInsecure bool     `yaml:"tls_insecure"`
	Reconnect   bool     `yaml:"auto_reconnect" env:"IRC_AUTO_RECONNECT"`
	Channels    List     `yaml:"channels" env:"IRC_CHANNELS"`
	AutoRejoin  bool     `yaml:"auto_rejoin"`
	Admins      []string `yaml:"admins"`
	LogLevel    string   `yaml:"log_level" env:"IRC_LOG_LEVEL"`
	DebugRaw    bool     `yaml:"debug_raw"`

	// CTCP request -> response overrides
	CTCP map[string]string `yaml:"ctcp"`

	Timing Timing `yaml:"timing"`
}

// List is a string list that reads from the environment as a
// comma-separated value.
type List []string

// Decode implements envdecode.Decoder.
func (l *List) Decode(value string) error {
	var out List
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*l = out
	return nil
}

// Timing groups the session loop intervals.
type Timing struct {
	WhoInterval        time.Duration `yaml:"who_interval"`
	WhoInitialInterval time.Duration `yaml:"who_initial_interval"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	QuitGrace          time.Duration `yaml:"quit_grace"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
}

// Load reads and parses a YAML configuration file, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 6667
	}
	if c.Alternate == "" && c.Nick != "" {
		c.Alternate = c.Nick + "_"
	}
	if c.Username == "" {
		c.Username = "ircengine"
	}
	if c.IRCName == "" {
		c.IRCName = "ircengine"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	t := &c.Timing
	if t.WhoInterval == 0 {
		t.WhoInterval = 90 * time.Second
	}
	if t.WhoInitialInterval == 0 {
		t.WhoInitialInterval = 5 * time.Second
	}
	if t.FlushInterval == 0 {
		t.FlushInterval = 100 * time.Millisecond
	}
	if t.ReconnectDelay == 0 {
		t.ReconnectDelay = time.Second
	}
	if t.QuitGrace == 0 {
		t.QuitGrace = 100 * time.Millisecond
	}
	if t.DialTimeout == 0 {
		t.DialTimeout = 30 * time.Second
	}

	for i, ch := range c.Channels {
		c.Channels[i] = strings.TrimSpace(ch)
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Nick == "":
		return errors.New("config: nick is required")
	case c.Server == "":
		return errors.New("config: server is required")
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	return nil
}

// Addr returns the host:port to dial.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}
