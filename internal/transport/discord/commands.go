package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	logx "cptbot/pkg/logx"
)

// The manual check fetches the API and may send several messages; leave it
// generous headroom but never let it hang an interaction forever.
const manualCheckTimeout = 60 * time.Second

func (a *Adapter) registerCommands() error {
	appID := a.session.State.User.ID

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "testcpt",
			Description: "Manually triggers the CPT check.",
		},
	}
	a.mu.Lock()
	hasHistory := a.history != nil
	a.mu.Unlock()
	if hasHistory {
		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:        "cpthistory",
			Description: "Shows the most recent CPT notifications.",
		})
	}

	for _, cmd := range cmds {
		created, err := a.session.ApplicationCommandCreate(appID, a.cfg.GuildID, cmd)
		if err != nil {
			return err
		}
		a.cmdIDs = append(a.cmdIDs, created.ID)
	}
	a.log.Info("registered slash commands", logx.Int("count", len(cmds)))
	return nil
}

func (a *Adapter) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	a.mu.Lock()
	var handler func(ctx context.Context) string
	switch i.ApplicationCommandData().Name {
	case "testcpt":
		handler = a.manualCheck
	case "cpthistory":
		handler = a.history
	}
	a.mu.Unlock()
	if handler == nil {
		return
	}

	// Defer first: the check takes longer than the 3s interaction window.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		a.log.Error("failed to defer interaction", logx.Err(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualCheckTimeout)
		defer cancel()

		summary := handler(ctx)
		_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: summary,
		})
		if err != nil {
			a.log.Error("failed to send command response", logx.Err(err))
		}
	}()
}
