package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"cptbot/internal/transport"
	logx "cptbot/pkg/logx"
)

type Config struct {
	Token   string
	GuildID string // optional; scopes slash commands to one guild (instant sync)
}

// Adapter wraps a discordgo session behind the transport.Adapter interface.
type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session

	mu      sync.Mutex
	running bool
	cmdIDs  []string

	// manualCheck runs the on-demand CPT check and returns the summary text.
	// Set before Start.
	manualCheck func(ctx context.Context) string
	// history returns the recent-sends summary. Nil when history is disabled;
	// the command is then not registered.
	history func(ctx context.Context) string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	a := &Adapter{cfg: cfg, log: log, session: s}
	a.registerHandlers()
	return a, nil
}

// SetManualCheck installs the handler behind the /testcpt command.
func (a *Adapter) SetManualCheck(fn func(ctx context.Context) string) {
	a.mu.Lock()
	a.manualCheck = fn
	a.mu.Unlock()
}

// SetHistory installs the handler behind the /cpthistory command.
func (a *Adapter) SetHistory(fn func(ctx context.Context) string) {
	a.mu.Lock()
	a.history = fn
	a.mu.Unlock()
}

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("discord session ready",
			logx.String("user", r.User.Username), logx.String("id", r.User.ID))
	})
	a.session.AddHandler(a.handleInteraction)
}

// Start opens the gateway connection and registers slash commands.
func (a *Adapter) Start(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.running = true

	if err := a.registerCommands(); err != nil {
		// Commands are operator convenience; the poll loop works without them.
		a.log.Warn("failed to register slash commands", logx.Err(err))
	}
	return nil
}

// Stop removes registered commands (best effort) and closes the gateway.
func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false

	appID := a.session.State.User.ID
	for _, id := range a.cmdIDs {
		if err := a.session.ApplicationCommandDelete(appID, a.cfg.GuildID, id); err != nil {
			a.log.Debug("failed to delete slash command", logx.String("cmd_id", id), logx.Err(err))
		}
	}
	a.cmdIDs = nil
	return a.session.Close()
}

// SendMessage posts content and/or an embed to a channel.
func (a *Adapter) SendMessage(ctx context.Context, to transport.ChatTarget, msg transport.Message) error {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(msg.Embed)}
	}
	_, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

// SendText satisfies logx.Sender so warnings can be mirrored to a log channel.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	_, err := a.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

// ResolveChannel checks that the channel exists and the bot can see it.
func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) error {
	if _, err := a.session.State.Channel(channelID); err == nil {
		return nil
	}
	_, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

func toDiscordEmbed(e *transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   normalizeTimestamp(e.Timestamp),
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

// normalizeTimestamp coerces the loose ISO-8601 shapes the training API emits
// into the RFC3339 form the Discord API insists on. Unparsable input is
// dropped rather than failing the whole send.
func normalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.RFC3339)
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return ""
}

func mapRESTError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return transport.ErrChannelNotFound
		}
	}
	return err
}
