package transport

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned by ResolveChannel when the platform does not
// know the channel (deleted, wrong id, or the bot lacks access).
var ErrChannelNotFound = errors.New("channel not found")

type ChatTarget struct {
	ChannelID string
}

// EmbedField is one name/value row inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed mirrors the platform's embed wire shape (Discord JSON), so payloads
// received on the bridge can be validated into a typed struct and passed
// through without re-mapping.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"` // ISO-8601
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Message is an outbound chat message: plain content, an optional embed, or both.
type Message struct {
	Content string
	Embed   *Embed
}

// RoleMention returns the platform mention token for a role id.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// Adapter is the narrow surface the rest of the bot needs from the chat platform.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SendMessage(ctx context.Context, to ChatTarget, msg Message) error

	// ResolveChannel reports whether the channel exists and is reachable.
	// Returns ErrChannelNotFound if not.
	ResolveChannel(ctx context.Context, channelID string) error
}
