package connector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultLoadingText  = "(Loading chat information, please wait...)"
	defaultNoScriptText = "(Chat features are not available because JavaScript is disabled.)"
	defaultIconAlt      = "Opens in new window"
)

// linkPolicy cleans host-supplied link content
var linkPolicy = bluemonday.UGCPolicy().
	AllowElements("span").
	AllowAttrs("class").Globally()

// Bundle is a page fragment: markup to place where the feature appears and a
// script to run once the client script has loaded
type Bundle struct {
	HTML   string
	Script string
}

// RecentOptions controls a recent-messages block
type RecentOptions struct {
	MaxMessages  int
	MaxAge       time.Duration
	MaxNames     int
	LoadingText  string
	NoScriptText string
}

// DefaultRecentOptions returns three messages from the last fifteen minutes
// and up to five names
func DefaultRecentOptions() RecentOptions {
	return RecentOptions{
		MaxMessages: 3,
		MaxAge:      15 * time.Minute,
		MaxNames:    5,
	}
}

// Recent renders a block that shows the latest messages and names on channel
func (c *Connector) Recent(channel string, opts RecentOptions) (Bundle, error) {
	key, err := c.AuthKey(channel)
	if err != nil {
		return Bundle{}, err
	}
	if opts.LoadingText == "" {
		opts.LoadingText = defaultLoadingText
	}
	if opts.NoScriptText == "" {
		opts.NoScriptText = defaultNoScriptText
	}

	id := fmt.Sprintf("hawthorn_recent%d", c.recentCount)
	c.recentCount++

	var html strings.Builder
	fmt.Fprintf(&html, "<div id='%s' class='hawthorn_recent' style='display:none'>%s</div>\n",
		id, auth.EscapeMarkup(opts.LoadingText))
	fmt.Fprintf(&html, "<noscript>%s</noscript>\n", auth.EscapeMarkup(opts.NoScriptText))

	var script strings.Builder
	fmt.Fprintf(&script, "document.getElementById('%s').style.display='block';\n", id)
	script.WriteString("hawthorn.handleRecent({")
	writeFields(&script,
		field{"channel", quote(key.Channel)},
		field{"user", quote(key.User)},
		field{"displayName", quote(key.DisplayName)},
		field{"extra", quote(key.Extra)},
		field{"permissions", quote(string(key.Permissions))},
		field{"maxMessages", strconv.Itoa(opts.MaxMessages)},
		field{"maxAge", strconv.FormatInt(opts.MaxAge.Milliseconds(), 10)},
		field{"maxNames", strconv.Itoa(opts.MaxNames)},
		field{"keyTime", strconv.FormatInt(key.KeyTime, 10)},
		field{"key", quote(key.Digest)},
		field{"id", quote(id)},
	)
	script.WriteString("});\n")

	return Bundle{HTML: html.String(), Script: script.String()}, nil
}

// LinkToChat renders a link that opens the chat popup for channel. linkHTML
// is sanitized; icon and iconAlt are optional.
func (c *Connector) LinkToChat(channel, title, linkHTML, icon, iconAlt string) (Bundle, error) {
	key, err := c.AuthKey(channel)
	if err != nil {
		return Bundle{}, err
	}

	id := fmt.Sprintf("hawthorn_linktochat%d", c.linkCount)
	c.linkCount++

	args := []string{
		quote(c.cfg.PopupURL),
		quote(c.cfg.ReAcquireURL),
		quote(key.Channel),
		quote(key.User),
		quote(key.DisplayName),
		quote(key.Extra),
		quote(string(key.Permissions)),
		strconv.FormatInt(key.KeyTime, 10),
		quote(key.Digest),
		quote(title),
	}
	onclick := "hawthorn.openPopup(" + strings.Join(args, ",") + ");return false;"

	var html strings.Builder
	fmt.Fprintf(&html, "<div class='hawthorn_linktochat' style='display:none' id='%s'>\n", id)
	fmt.Fprintf(&html, "<a href='#' onclick=\"%s\">", auth.EscapeMarkup(onclick))
	html.WriteString(linkPolicy.Sanitize(linkHTML))
	if icon != "" {
		if iconAlt == "" {
			iconAlt = defaultIconAlt
		}
		alt := auth.EscapeMarkup(iconAlt)
		fmt.Fprintf(&html, " <img src='%s' alt='%s' title='%s' />", auth.EscapeMarkup(icon), alt, alt)
	}
	html.WriteString("</a></div>\n")

	script := fmt.Sprintf("document.getElementById('%s').style.display='block';\n", id)
	return Bundle{HTML: html.String(), Script: script}, nil
}

// StatisticsLinks renders a list of links to each server's statistics page
func (c *Connector) StatisticsLinks() (Bundle, error) {
	urls, err := c.StatisticsURLs()
	if err != nil {
		return Bundle{}, err
	}

	var html strings.Builder
	html.WriteString("<ul class='hawthorn_statslinks'>\n")
	for i, u := range urls {
		fmt.Fprintf(&html, "<li><a href='%s'>%s</a></li>\n",
			auth.EscapeMarkup(u), auth.EscapeMarkup(c.cfg.Servers[i]))
	}
	html.WriteString("</ul>\n")
	return Bundle{HTML: html.String()}, nil
}

// Page collects bundles for one page and renders the client script include
// exactly once, after all markup
type Page struct {
	cfg     Config
	bundles []Bundle
}

// NewPage starts a page
func (c *Connector) NewPage() *Page {
	return &Page{cfg: c.cfg}
}

// Add appends a bundle to the page
func (p *Page) Add(b Bundle) {
	p.bundles = append(p.bundles, b)
}

// Len returns the number of bundles on the page
func (p *Page) Len() int {
	return len(p.bundles)
}

// Render returns the markup of every bundle followed, if any bundle needs
// it, by the client script include and the bundle scripts
func (p *Page) Render() string {
	var b strings.Builder
	var scripts []string
	for _, bundle := range p.bundles {
		b.WriteString(bundle.HTML)
		if bundle.Script != "" {
			scripts = append(scripts, bundle.Script)
		}
	}
	if len(scripts) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "<script type='text/javascript' src='%s'></script>\n", auth.EscapeMarkup(p.cfg.ScriptURL))
	b.WriteString("<script type='text/javascript'>\n/* <![CDATA[ */\n")
	servers := make([]string, len(p.cfg.Servers))
	for i, s := range p.cfg.Servers {
		servers[i] = quote(s)
	}
	fmt.Fprintf(&b, "hawthorn.init([%s]);\n", strings.Join(servers, ","))
	for _, s := range scripts {
		b.WriteString(s)
	}
	b.WriteString("/* ]]> */\n</script>\n")
	return b.String()
}

type field struct {
	name  string
	value string
}

func writeFields(b *strings.Builder, fields ...field) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.name)
		b.WriteByte(':')
		b.WriteString(f.value)
	}
}

func quote(s string) string {
	return "'" + auth.EscapeScriptLiteral(s) + "'"
}
