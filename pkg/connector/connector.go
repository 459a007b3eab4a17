// Package connector is the host-side half of Hawthorn: it issues keys for the
// host's signed-in users, renders the page fragments that start the chat
// client, and answers the client's key re-acquire requests.
package connector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/aeolun/hawthorn/pkg/popup"
	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrNotAdmin       = errors.New("statistics require admin permission")
	ErrNoMagicNumber  = errors.New("magic number not configured")
	ErrNoServers      = errors.New("no chat servers configured")
	ErrInvalidRequest = errors.New("invalid re-acquire request")
)

const (
	adminUser        = "_admin"
	adminDisplayName = "_"
)

// Config holds the host's Hawthorn settings. MagicNumber is shared with the
// chat servers and must never reach the browser.
type Config struct {
	MagicNumber  string
	Servers      []string
	ScriptURL    string // client script included once per page
	PopupURL     string
	ReAcquireURL string

	KeyPolicy      auth.KeyPolicy
	SessionTimeout time.Duration // host session lifetime, 0 if it never expires
}

// DefaultConfig returns a configuration with the standard key policy and
// no servers
func DefaultConfig() Config {
	return Config{
		ScriptURL:    "hawthorn.js",
		PopupURL:     "popup.html",
		ReAcquireURL: "reacquire",
		KeyPolicy:    auth.DefaultKeyPolicy(),
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if c.MagicNumber == "" {
		return ErrNoMagicNumber
	}
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	return nil
}

// Identity is the host's signed-in user
type Identity struct {
	User        string
	DisplayName string
	Extra       string
	Permissions string
}

// Connector issues keys and page fragments for one host user. It is not safe
// for concurrent use; create one per request.
type Connector struct {
	cfg      Config
	identity Identity

	recentCount int
	linkCount   int

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a connector for identity
func New(cfg Config, identity Identity) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !auth.ValidUser(identity.User) {
		return nil, fmt.Errorf("%w: %q", auth.ErrInvalidUser, identity.User)
	}
	if !auth.ValidDisplayName(identity.DisplayName) {
		return nil, fmt.Errorf("%w: %q", auth.ErrInvalidDisplayName, identity.DisplayName)
	}
	if !auth.ValidExtra(identity.Extra) {
		return nil, fmt.Errorf("%w: %q", auth.ErrInvalidExtra, identity.Extra)
	}
	if _, err := auth.ParsePermissions(identity.Permissions); err != nil {
		return nil, fmt.Errorf("%w: %q", err, identity.Permissions)
	}

	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		servers[i] = s
	}
	cfg.Servers = servers

	return &Connector{
		cfg:      cfg,
		identity: identity,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}, nil
}

// SetLogger sets the connector logger
func (c *Connector) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Identity returns the user this connector acts for
func (c *Connector) Identity() Identity {
	return c.identity
}

// AuthKey issues a key for the user on channel
func (c *Connector) AuthKey(channel string) (auth.AuthKey, error) {
	return c.issue(auth.KeyParams{
		Channel:     channel,
		User:        c.identity.User,
		DisplayName: c.identity.DisplayName,
		Extra:       c.identity.Extra,
		Permissions: c.identity.Permissions,
	})
}

func (c *Connector) issue(p auth.KeyParams) (auth.AuthKey, error) {
	keyTime, err := c.cfg.KeyPolicy.KeyTime(c.now(), c.cfg.SessionTimeout)
	if err != nil {
		return auth.AuthKey{}, err
	}
	p.KeyTime = keyTime
	key, err := auth.NewAuthKey(p, c.cfg.MagicNumber)
	if err != nil {
		return auth.AuthKey{}, err
	}
	c.logger.Debug().Str("channel", p.Channel).Str("user", p.User).Int64("keyTime", keyTime).Msg("issued key")
	return key, nil
}

// PopupURL returns the URL that opens the chat popup for channel
func (c *Connector) PopupURL(channel, title string) (string, error) {
	key, err := c.AuthKey(channel)
	if err != nil {
		return "", err
	}
	return c.PopupURLForKey(key, title), nil
}

// PopupURLForKey returns the popup URL carrying an already issued key
func (c *Connector) PopupURLForKey(key auth.AuthKey, title string) string {
	params := popup.Params{
		ReAcquireURL: c.cfg.ReAcquireURL,
		Channel:      key.Channel,
		User:         key.User,
		DisplayName:  key.DisplayName,
		Extra:        key.Extra,
		Permissions:  string(key.Permissions),
		KeyTime:      key.KeyTime,
		Key:          key.Digest,
		Title:        title,
		Servers:      c.cfg.Servers,
	}
	sep := "?"
	if strings.Contains(c.cfg.PopupURL, "?") {
		sep = "&"
	}
	return c.cfg.PopupURL + sep + params.Encode()
}

// StatisticsURLs returns one statistics page URL per server, signed with a
// key for the system channel. Only admins may have them.
func (c *Connector) StatisticsURLs() ([]string, error) {
	if !auth.Permissions(c.identity.Permissions).Has(auth.PermAdmin) {
		return nil, ErrNotAdmin
	}
	key, err := c.issue(auth.KeyParams{
		Channel:     auth.SystemChannel,
		User:        adminUser,
		DisplayName: adminDisplayName,
		Permissions: string(auth.PermAdmin),
		AllowSystem: true,
	})
	if err != nil {
		return nil, err
	}

	creds := protocol.Credentials{
		Channel:     key.Channel,
		User:        key.User,
		DisplayName: key.DisplayName,
		Extra:       key.Extra,
		Permissions: string(key.Permissions),
		KeyTime:     key.KeyTime,
		Key:         key.Digest,
	}
	urls := make([]string, len(c.cfg.Servers))
	for i, server := range c.cfg.Servers {
		urls[i] = server + protocol.StatisticsPath + "?" + protocol.EncodeQuery(creds.Params())
	}
	return urls, nil
}

// ReAcquireAllow renders the script that hands the client a fresh key for
// channel
func (c *Connector) ReAcquireAllow(id, channel string) (string, error) {
	key, err := c.AuthKey(channel)
	if err != nil {
		return "", err
	}
	return protocol.ReAcquireScript(id, key.Digest, key.KeyTime), nil
}

// ReAcquireDeny renders the script that refuses a re-acquire with message
func ReAcquireDeny(id, message string) string {
	return protocol.ErrorScript(protocol.OpReAcquire, id, message)
}
