package announce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cptbot/internal/training"
	"cptbot/internal/transport"
	logx "cptbot/pkg/logx"
)

// Discord "blue".
const embedColor = 0x3498db

// Notifier renders a CPT into a channel message and delivers it.
// It is the production Sink implementation.
type Notifier struct {
	adapter transport.Adapter
	log     logx.Logger

	mu        sync.RWMutex
	channelID string
	roleID    string
}

func NewNotifier(adapter transport.Adapter, channelID, roleID string, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		adapter:   adapter,
		log:       log,
		channelID: strings.TrimSpace(channelID),
		roleID:    strings.TrimSpace(roleID),
	}
}

// SetTarget swaps the announcement channel and ping role (config hot-reload).
func (n *Notifier) SetTarget(channelID, roleID string) {
	n.mu.Lock()
	n.channelID = strings.TrimSpace(channelID)
	n.roleID = strings.TrimSpace(roleID)
	n.mu.Unlock()
}

func (n *Notifier) SendCPT(ctx context.Context, ev training.Event, title string) error {
	n.mu.RLock()
	channelID := n.channelID
	roleID := n.roleID
	n.mu.RUnlock()

	if channelID == "" {
		return errors.New("no cpt channel configured")
	}

	embed := &transport.Embed{
		Title:       fmt.Sprintf("%s: %s", title, ev.CourseName),
		Description: "Ein neues CPT steht an!",
		Color:       embedColor,
		Timestamp:   ev.Date,
		Fields: []transport.EmbedField{
			{Name: "Trainee", Value: fmt.Sprintf("%s (%s)", ev.TraineeName, ev.TraineeVatsimID), Inline: true},
			{Name: "Position", Value: ev.Position, Inline: true},
			{Name: "Mentor", Value: ev.LocalName, Inline: true},
		},
	}

	content := ""
	if roleID != "" {
		content = transport.RoleMention(roleID) + " "
	}

	err := n.adapter.SendMessage(ctx, transport.ChatTarget{ChannelID: channelID}, transport.Message{
		Content: content,
		Embed:   embed,
	})
	if err != nil {
		return fmt.Errorf("send cpt notification: %w", err)
	}
	n.log.Info("sent cpt notification",
		logx.String("channel", channelID), logx.String("title", title))
	return nil
}
