// Package bot runs the long-poll update loop: private messages go to the
// verification machine, membership change events keep the group registry
// current.
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/models"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"go.uber.org/zap"
)

// Bot dispatches inbound updates.
type Bot struct {
	client      telegram.Client
	machine     *verification.Machine
	groups      *models.GroupModel
	pollTimeout time.Duration
	logger      *zap.Logger
}

// New creates the update dispatcher.
func New(
	client telegram.Client,
	machine *verification.Machine,
	groups *models.GroupModel,
	pollTimeoutSeconds int,
	logger *zap.Logger,
) *Bot {
	if pollTimeoutSeconds <= 0 {
		pollTimeoutSeconds = 30
	}

	return &Bot{
		client:      client,
		machine:     machine,
		groups:      groups,
		pollTimeout: time.Duration(pollTimeoutSeconds) * time.Second,
		logger:      logger.Named("bot"),
	}
}

// Run long-polls for updates until the context is cancelled. One user's
// failure never takes the loop down.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64

	for {
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}

			b.logger.Error("Failed to poll for updates", zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate routes one update, recovering from panics so a malformed
// update cannot crash the loop.
func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while handling update",
				zap.Int64("updateID", update.UpdateID),
				zap.Any("panic", r))
		}
	}()

	switch {
	case update.Message != nil:
		if err := b.machine.HandleMessage(ctx, update.Message); err != nil {
			b.logger.Error("Failed to handle message",
				zap.Int64("updateID", update.UpdateID),
				zap.Error(err))
		}
	case update.MyChatMember != nil:
		if err := b.handleMembershipChange(ctx, update.MyChatMember); err != nil {
			b.logger.Error("Failed to handle membership change",
				zap.Int64("chatID", update.MyChatMember.Chat.ID),
				zap.Error(err))
		}
	}
}

// handleMembershipChange refreshes the group registry when the bot's own
// membership or rights change in a chat.
func (b *Bot) handleMembershipChange(ctx context.Context, event *telegram.ChatMemberUpdated) error {
	if event.Chat.Type == telegram.ChatTypePrivate {
		return nil
	}

	return b.groups.Upsert(ctx, &types.Group{
		ChatID:            event.Chat.ID,
		Title:             event.Chat.Title,
		Type:              event.Chat.Type,
		Status:            event.NewChatMember.Status,
		GroupCapabilities: CapabilitiesFrom(event.NewChatMember),
		New:               true,
	})
}

// CapabilitiesFrom derives the bot's administrative capabilities from a chat
// member variant. The switch is exhaustive over the statuses the Bot API
// defines.
func CapabilitiesFrom(member telegram.ChatMember) types.GroupCapabilities {
	switch member.Status {
	case telegram.MemberStatusCreator:
		return types.GroupCapabilities{
			CanManageChat:      true,
			CanRestrictMembers: true,
			CanPromoteMembers:  true,
			CanInviteUsers:     true,
		}
	case telegram.MemberStatusAdministrator:
		return types.GroupCapabilities{
			CanManageChat:      member.CanManageChat,
			CanRestrictMembers: member.CanRestrictMembers,
			CanPromoteMembers:  member.CanPromoteMembers,
			CanInviteUsers:     member.CanInviteUsers,
		}
	case telegram.MemberStatusMember,
		telegram.MemberStatusRestricted,
		telegram.MemberStatusLeft,
		telegram.MemberStatusKicked:
		return types.GroupCapabilities{}
	default:
		return types.GroupCapabilities{}
	}
}
