// Package config loads the hawthorn TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/aeolun/hawthorn/pkg/client"
	"github.com/aeolun/hawthorn/pkg/connector"
	"github.com/aeolun/hawthorn/pkg/popup"
)

// DefaultPath is where the config file lives unless --config says otherwise
const DefaultPath = "~/.hawthorn/config.toml"

// TOMLConfig represents the structure of the config file
type TOMLConfig struct {
	Connector ConnectorSection `toml:"connector"`
	Transport TransportSection `toml:"transport"`
	Popup     PopupSection     `toml:"popup"`
	State     StateSection     `toml:"state"`
	HTTP      HTTPSection      `toml:"http"`
}

type ConnectorSection struct {
	MagicNumber           string   `toml:"magic_number"`
	Servers               []string `toml:"servers"`
	ScriptURL             string   `toml:"script_url"`
	PopupURL              string   `toml:"popup_url"`
	ReAcquireURL          string   `toml:"reacquire_url"`
	KeyTTLMinutes         int      `toml:"key_ttl_minutes"`
	MinKeyTTLMinutes      int      `toml:"min_key_ttl_minutes"`
	SessionTimeoutMinutes int      `toml:"session_timeout_minutes"`
}

type TransportSection struct {
	AttemptTimeoutSeconds int `toml:"attempt_timeout_seconds"`
	ScriptTimeoutMillis   int `toml:"script_timeout_ms"`
}

type PopupSection struct {
	MaxAgeMinutes          int  `toml:"max_age_minutes"`
	MaxMessages            int  `toml:"max_messages"`
	MaxNames               int  `toml:"max_names"`
	PollDelayMillis        int  `toml:"poll_delay_ms"`
	ReacquireMarginMinutes int  `toml:"reacquire_margin_minutes"`
	BanHours               int  `toml:"ban_hours"`
	LeaveTimeoutSeconds    int  `toml:"leave_timeout_seconds"`
	UseWait                bool `toml:"use_wait"`
	Notify                 bool `toml:"notify"`
}

type StateSection struct {
	Path string `toml:"path"`
}

type HTTPSection struct {
	Listen         string `toml:"listen"`
	ChannelPattern string `toml:"channel_pattern"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connector: ConnectorSection{
			ScriptURL:        "hawthorn.js",
			PopupURL:         "popup.html",
			ReAcquireURL:     "reacquire",
			KeyTTLMinutes:    60,
			MinKeyTTLMinutes: 10,
		},
		Transport: TransportSection{
			AttemptTimeoutSeconds: 20,
			ScriptTimeoutMillis:   2000,
		},
		Popup: PopupSection{
			MaxAgeMinutes:          10,
			MaxMessages:            10,
			MaxNames:               -1,
			PollDelayMillis:        2000,
			ReacquireMarginMinutes: 5,
			BanHours:               4,
			LeaveTimeoutSeconds:    5,
			Notify:                 true,
		},
		State: StateSection{
			Path: "~/.hawthorn/state.db",
		},
		HTTP: HTTPSection{
			Listen:         ":8080",
			ChannelPattern: connector.DefaultChannelPattern,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still runs with defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	// Fields missing from the file keep their defaults
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: HAWTHORN_SECTION_KEY
// Example: HAWTHORN_CONNECTOR_MAGIC_NUMBER=abc123
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Connector section
	if val := os.Getenv("HAWTHORN_CONNECTOR_MAGIC_NUMBER"); val != "" {
		config.Connector.MagicNumber = val
	}
	if val := os.Getenv("HAWTHORN_CONNECTOR_SERVERS"); val != "" {
		config.Connector.Servers = splitList(val)
	}
	if val := os.Getenv("HAWTHORN_CONNECTOR_SCRIPT_URL"); val != "" {
		config.Connector.ScriptURL = val
	}
	if val := os.Getenv("HAWTHORN_CONNECTOR_POPUP_URL"); val != "" {
		config.Connector.PopupURL = val
	}
	if val := os.Getenv("HAWTHORN_CONNECTOR_REACQUIRE_URL"); val != "" {
		config.Connector.ReAcquireURL = val
	}
	envInt("HAWTHORN_CONNECTOR_KEY_TTL_MINUTES", &config.Connector.KeyTTLMinutes)
	envInt("HAWTHORN_CONNECTOR_MIN_KEY_TTL_MINUTES", &config.Connector.MinKeyTTLMinutes)
	envInt("HAWTHORN_CONNECTOR_SESSION_TIMEOUT_MINUTES", &config.Connector.SessionTimeoutMinutes)

	// Transport section
	envInt("HAWTHORN_TRANSPORT_ATTEMPT_TIMEOUT_SECONDS", &config.Transport.AttemptTimeoutSeconds)
	envInt("HAWTHORN_TRANSPORT_SCRIPT_TIMEOUT_MS", &config.Transport.ScriptTimeoutMillis)

	// Popup section
	envInt("HAWTHORN_POPUP_MAX_AGE_MINUTES", &config.Popup.MaxAgeMinutes)
	envInt("HAWTHORN_POPUP_MAX_MESSAGES", &config.Popup.MaxMessages)
	envInt("HAWTHORN_POPUP_MAX_NAMES", &config.Popup.MaxNames)
	envInt("HAWTHORN_POPUP_POLL_DELAY_MS", &config.Popup.PollDelayMillis)
	envInt("HAWTHORN_POPUP_REACQUIRE_MARGIN_MINUTES", &config.Popup.ReacquireMarginMinutes)
	envInt("HAWTHORN_POPUP_BAN_HOURS", &config.Popup.BanHours)
	envInt("HAWTHORN_POPUP_LEAVE_TIMEOUT_SECONDS", &config.Popup.LeaveTimeoutSeconds)
	envBool("HAWTHORN_POPUP_USE_WAIT", &config.Popup.UseWait)
	envBool("HAWTHORN_POPUP_NOTIFY", &config.Popup.Notify)

	// State section
	if val := os.Getenv("HAWTHORN_STATE_PATH"); val != "" {
		config.State.Path = val
	}

	// HTTP section
	if val := os.Getenv("HAWTHORN_HTTP_LISTEN"); val != "" {
		config.HTTP.Listen = val
	}
	if val := os.Getenv("HAWTHORN_HTTP_CHANNEL_PATTERN"); val != "" {
		config.HTTP.ChannelPattern = val
	}

	return config
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Hawthorn Configuration
# This file was auto-generated with default values
# Commented settings show available options with their defaults
#
# Environment variables can override these settings:
# HAWTHORN_SECTION_KEY (e.g., HAWTHORN_CONNECTOR_MAGIC_NUMBER=abc123)

[connector]
# Secret shared with the chat servers. Keys are signed with it, so keep it
# out of anything sent to browsers.
# magic_number = "23d70acbe28943b3548e500e297afb16"

# Chat server base URLs, tried in order after a random start
# servers = ["https://chat1.example.com/", "https://chat2.example.com/"]

# URLs written into host pages
script_url = "hawthorn.js"
popup_url = "popup.html"
reacquire_url = "reacquire"

# Lifetime of issued keys, capped by the host session timeout
key_ttl_minutes = 60

# Refuse to issue keys shorter than this
min_key_ttl_minutes = 10

# Host session lifetime (0 = sessions do not expire)
# session_timeout_minutes = 30

[transport]
# Time allowed for one server before trying the next
attempt_timeout_seconds = 20

# Time allowed for a reply script to run
script_timeout_ms = 2000

[popup]
# Catch-up window when the popup opens
max_age_minutes = 10
max_messages = 10

# Names returned with the catch-up (-1 = server default)
max_names = -1

# Delay before the first poll
poll_delay_ms = 2000

# Renew the key when it expires sooner than this
reacquire_margin_minutes = 5

# Length of bans issued with /ban
ban_hours = 4

# Time allowed for the leave request when closing
leave_timeout_seconds = 5

# Hold a request open for new messages instead of polling
use_wait = false

# Desktop notification when someone mentions you
notify = true

[state]
# SQLite database remembering the last working server
path = "~/.hawthorn/state.db"

[http]
# Address for the re-acquire endpoint (hawthorn serve)
listen = ":8080"

# Channels the re-acquire endpoint accepts (empty = any valid channel id)
channel_pattern = "^[cg][0-9]{1,18}$"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToConnectorConfig converts TOMLConfig to connector.Config
func (c *TOMLConfig) ToConnectorConfig() connector.Config {
	cfg := connector.DefaultConfig()

	cfg.MagicNumber = c.Connector.MagicNumber
	cfg.Servers = c.Connector.Servers

	if strings.TrimSpace(c.Connector.ScriptURL) != "" {
		cfg.ScriptURL = c.Connector.ScriptURL
	}
	if strings.TrimSpace(c.Connector.PopupURL) != "" {
		cfg.PopupURL = c.Connector.PopupURL
	}
	if strings.TrimSpace(c.Connector.ReAcquireURL) != "" {
		cfg.ReAcquireURL = c.Connector.ReAcquireURL
	}
	if c.Connector.KeyTTLMinutes != 0 {
		cfg.KeyPolicy.TTL = time.Duration(c.Connector.KeyTTLMinutes) * time.Minute
	}
	if c.Connector.MinKeyTTLMinutes != 0 {
		cfg.KeyPolicy.MinTTL = time.Duration(c.Connector.MinKeyTTLMinutes) * time.Minute
	}
	cfg.SessionTimeout = time.Duration(c.Connector.SessionTimeoutMinutes) * time.Minute

	return cfg
}

// ToTransportConfig converts TOMLConfig to client.TransportConfig for servers
func (c *TOMLConfig) ToTransportConfig(servers []string) client.TransportConfig {
	cfg := client.DefaultTransportConfig()
	cfg.Servers = servers

	if c.Transport.AttemptTimeoutSeconds != 0 {
		cfg.AttemptTimeout = time.Duration(c.Transport.AttemptTimeoutSeconds) * time.Second
	}
	if c.Transport.ScriptTimeoutMillis != 0 {
		cfg.ScriptTimeout = time.Duration(c.Transport.ScriptTimeoutMillis) * time.Millisecond
	}

	return cfg
}

// ToPopupConfig converts TOMLConfig to popup.Config
func (c *TOMLConfig) ToPopupConfig() popup.Config {
	cfg := popup.DefaultConfig()

	if c.Popup.MaxAgeMinutes != 0 {
		cfg.MaxAge = time.Duration(c.Popup.MaxAgeMinutes) * time.Minute
	}
	if c.Popup.MaxMessages != 0 {
		cfg.MaxMessages = c.Popup.MaxMessages
	}
	if c.Popup.MaxNames != 0 {
		cfg.MaxNames = c.Popup.MaxNames
	}
	if c.Popup.PollDelayMillis != 0 {
		cfg.PollFallbackDelay = time.Duration(c.Popup.PollDelayMillis) * time.Millisecond
	}
	if c.Popup.ReacquireMarginMinutes != 0 {
		cfg.ReacquireMargin = time.Duration(c.Popup.ReacquireMarginMinutes) * time.Minute
	}
	if c.Popup.BanHours != 0 {
		cfg.BanDuration = time.Duration(c.Popup.BanHours) * time.Hour
	}
	if c.Popup.LeaveTimeoutSeconds != 0 {
		cfg.LeaveTimeout = time.Duration(c.Popup.LeaveTimeoutSeconds) * time.Second
	}
	cfg.UseWait = c.Popup.UseWait
	cfg.Notify = c.Popup.Notify

	return cfg
}

// KeyPolicy returns the configured key lifetime policy
func (c *TOMLConfig) KeyPolicy() auth.KeyPolicy {
	return c.ToConnectorConfig().KeyPolicy
}

// GetStatePath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStatePath() (string, error) {
	return expandHome(c.State.Path)
}
