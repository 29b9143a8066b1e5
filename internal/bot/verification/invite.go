package verification

import (
	"context"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/session"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"go.uber.org/zap"
)

const (
	// inviteCooldown is how long a user must wait before a second link.
	inviteCooldown = 600 * time.Second
	// inviteExpire bounds how long an issued link stays valid.
	inviteExpire = 10 * time.Minute
	// inviteMemberLimit makes each link single-use.
	inviteMemberLimit = 1
)

// Inviter issues single-use, time-boxed invite links to the managed channel.
type Inviter struct {
	client    telegram.Client
	channelID int64
	logger    *zap.Logger
}

// NewInviter creates an inviter for the configured channel.
func NewInviter(client telegram.Client, channelID int64, logger *zap.Logger) *Inviter {
	return &Inviter{
		client:    client,
		channelID: channelID,
		logger:    logger.Named("inviter"),
	}
}

// Issue sends the user a fresh invite link unless one was already issued
// within the cooldown window. The cooldown starts when issuance is attempted,
// before the link-creation call is known to have succeeded. The caller is
// responsible for persisting the session afterwards.
func (i *Inviter) Issue(ctx context.Context, sess *session.Session) error {
	now := time.Now()

	if !sess.Data.LinkTime.IsZero() && now.Sub(sess.Data.LinkTime) < inviteCooldown {
		return i.client.SendMessage(ctx, sess.UserID, MsgInviteAlreadySent, nil)
	}

	sess.Data.LinkTime = now

	// Snapshot the member count alongside the issuance for later diagnostics.
	if members, err := i.client.GetChatMemberCount(ctx, i.channelID); err == nil {
		sess.Data.Members = members
	}

	link, err := i.client.CreateChatInviteLink(ctx, i.channelID, inviteExpire, inviteMemberLimit)
	if err != nil {
		i.logger.Warn("Failed to create invite link",
			zap.Int64("userID", sess.UserID),
			zap.Error(err))

		return i.client.SendMessage(ctx, sess.UserID, MsgInviteFail, nil)
	}

	return i.client.SendMessage(ctx, sess.UserID, MsgInviteLink, &telegram.SendOptions{
		ReplyMarkup: inviteButton(link),
	})
}
