package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrMalformedResponse = errors.New("malformed server response")
	ErrUnknownMessage    = errors.New("unknown message type")
)

// MessageType identifies a chat event
type MessageType string

const (
	TypeSay    MessageType = "SAY"
	TypeJoin   MessageType = "JOIN"
	TypeLeave  MessageType = "LEAVE"
	TypeBan    MessageType = "BAN"
	TypeNotice MessageType = "NOTICE"
)

// Message is a single chat event as reported by the server
type Message struct {
	Type        MessageType `json:"type"`
	Time        int64       `json:"time"`
	User        string      `json:"user"`
	DisplayName string      `json:"displayName"`
	Extra       string      `json:"extra"`

	// SAY and NOTICE
	Text string `json:"text,omitempty"`

	// BAN
	Ban            string `json:"ban,omitempty"`
	BanDisplayName string `json:"banDisplayName,omitempty"`
	BanExtra       string `json:"banExtra,omitempty"`
	Until          int64  `json:"until,omitempty"`

	// LEAVE: true when the server timed the user out rather than the user
	// leaving explicitly
	Timeout bool `json:"timeout,omitempty"`
}

// Name is an entry in the list of users present in a channel
type Name struct {
	User        string `json:"user"`
	DisplayName string `json:"displayName"`
	Extra       string `json:"extra"`
}

// DecodeMessage converts one exported script value into a Message
func DecodeMessage(v any) (Message, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Message{}, fmt.Errorf("%w: message is %T, not an object", ErrMalformedResponse, v)
	}

	var m Message
	var err error
	m.Type = MessageType(stringField(obj, "type"))
	if m.Time, err = intField(obj, "time"); err != nil {
		return Message{}, err
	}
	m.User = stringField(obj, "user")
	m.DisplayName = stringField(obj, "displayName")
	m.Extra = stringField(obj, "extra")

	switch m.Type {
	case TypeSay, TypeNotice:
		m.Text = stringField(obj, "text")
	case TypeJoin:
	case TypeLeave:
		m.Timeout, _ = obj["timeout"].(bool)
	case TypeBan:
		m.Ban = stringField(obj, "ban")
		m.BanDisplayName = stringField(obj, "banDisplayName")
		m.BanExtra = stringField(obj, "banExtra")
		if m.Until, err = intField(obj, "until"); err != nil {
			return Message{}, err
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return m, nil
}

// DecodeMessages converts an exported script array into messages. A missing
// array decodes as no messages.
func DecodeMessages(v any) ([]Message, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: messages is %T, not an array", ErrMalformedResponse, v)
	}
	messages := make([]Message, 0, len(list))
	for i, item := range list {
		m, err := DecodeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// DecodeNames converts an exported script array into presence entries
func DecodeNames(v any) ([]Name, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: names is %T, not an array", ErrMalformedResponse, v)
	}
	names := make([]Name, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: name %d is %T, not an object", ErrMalformedResponse, i, item)
		}
		names = append(names, Name{
			User:        stringField(obj, "user"),
			DisplayName: stringField(obj, "displayName"),
			Extra:       stringField(obj, "extra"),
		})
	}
	return names, nil
}

// ToInt64 converts an exported script number, or a numeric string, to int64
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrMalformedResponse, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedResponse, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrMalformedResponse, v)
}

// ToString converts an exported script value to a string. Numbers are
// formatted in decimal.
func ToString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case int64, int, float64:
		n, err := ToInt64(s)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("%w: %T is not a string", ErrMalformedResponse, v)
}

func stringField(obj map[string]any, key string) string {
	s, _ := ToString(obj[key])
	return s
}

func intField(obj map[string]any, key string) (int64, error) {
	v, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedResponse, key)
	}
	n, err := ToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
