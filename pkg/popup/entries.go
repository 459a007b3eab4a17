package popup

import (
	"strings"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
)

// EntryKind is the kind of line in the chat log
type EntryKind string

const (
	EntrySay    EntryKind = "say"
	EntryJoin   EntryKind = "join"
	EntryLeave  EntryKind = "leave"
	EntryBan    EntryKind = "ban"
	EntryNotice EntryKind = "notice"
	EntryError  EntryKind = "error"
)

const (
	strJoined   = " joined the chat"
	strLeft     = " left the chat"
	strTimedOut = " timed out"
	strBanned   = " banned user: "
	strError    = "A system error occurred"
)

// Entry is one rendered line of the chat log
type Entry struct {
	Kind        EntryKind
	Time        int64 // ms since epoch
	User        string
	DisplayName string
	Extra       string
	Text        string // SAY, NOTICE and error text

	BanUser        string
	BanDisplayName string
	BanExtra       string
	Until          int64

	Timeout bool // LEAVE caused by the server timing the user out
	Self    bool // the local user is the actor
	Flagged bool // the local user is the actor or, for bans, the target
}

// Line returns the entry as plain text, without a timestamp
func (e Entry) Line() string {
	switch e.Kind {
	case EntrySay:
		return "<" + e.DisplayName + "> " + e.Text
	case EntryJoin:
		return "• " + e.DisplayName + strJoined
	case EntryLeave:
		if e.Timeout {
			return "• " + e.DisplayName + strTimedOut
		}
		return "• " + e.DisplayName + strLeft
	case EntryBan:
		return "• " + e.DisplayName + strBanned + e.BanDisplayName
	case EntryNotice:
		return "* " + e.Text
	case EntryError:
		return strError + ": " + e.Text
	}
	return e.Text
}

// DisplayTime formats the entry time as HH:MM in loc
func (e Entry) DisplayTime(loc *time.Location) string {
	return time.UnixMilli(e.Time).In(loc).Format("15:04")
}

// RenderMarkup renders entries as HTML for hosts that embed the log in a
// page. A timestamp line is written whenever the HH:MM time changes. All
// user-supplied text is escaped.
func RenderMarkup(entries []Entry, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	lastDisplayTime := ""
	for _, e := range entries {
		if t := e.DisplayTime(loc); t != lastDisplayTime {
			lastDisplayTime = t
			b.WriteString(`<div class="timestamp"><span>`)
			b.WriteString(t)
			b.WriteString("</span></div>\n")
		}

		b.WriteString(`<div class="entry `)
		b.WriteString(string(e.Kind))
		if e.Self {
			b.WriteString(" self")
		}
		if e.Flagged {
			b.WriteString(" flagged")
		}
		b.WriteString(`">`)

		switch e.Kind {
		case EntrySay:
			b.WriteString(`<div class="message">&lt;`)
			writeName(&b, e.DisplayName)
			b.WriteString("&gt; ")
			b.WriteString(auth.EscapeMarkup(e.Text))
			b.WriteString("</div>")
		case EntryJoin, EntryLeave:
			b.WriteString(`<div class="message">• `)
			writeName(&b, e.DisplayName)
			switch {
			case e.Kind == EntryJoin:
				b.WriteString(strJoined)
			case e.Timeout:
				b.WriteString(strTimedOut)
			default:
				b.WriteString(strLeft)
			}
			b.WriteString("</div>")
		case EntryBan:
			b.WriteString(`<div class="message">• `)
			writeName(&b, e.DisplayName)
			b.WriteString(strBanned)
			writeName(&b, e.BanDisplayName)
			b.WriteString("</div>")
		case EntryNotice:
			b.WriteString(`<div class="message">`)
			b.WriteString(auth.EscapeMarkup(e.Text))
			b.WriteString("</div>")
		case EntryError:
			b.WriteString("<h3>" + strError + "</h3><div>")
			b.WriteString(auth.EscapeMarkup(e.Text))
			b.WriteString("</div>")
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}

func writeName(b *strings.Builder, name string) {
	b.WriteString(`<strong class="name">`)
	b.WriteString(auth.EscapeMarkup(name))
	b.WriteString("</strong>")
}
