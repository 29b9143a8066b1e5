package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"go.uber.org/zap"
)

// restoreInviteExpire bounds the invite link sent with a restoration notice.
const restoreInviteExpire = 24 * time.Hour

// Exclusions enforces that exemption-listed addresses always keep access and
// that non-corporate addresses never do.
type Exclusions struct {
	registry  Registry
	groups    Groups
	syncLog   SyncLog
	messenger Messenger
	validator *verification.EmailValidator
	channelID int64
	logger    *zap.Logger
}

// NewExclusions wires the exclusion sweep.
func NewExclusions(
	registry Registry,
	groups Groups,
	syncLog SyncLog,
	messenger Messenger,
	validator *verification.EmailValidator,
	channelID int64,
	logger *zap.Logger,
) *Exclusions {
	return &Exclusions{
		registry:  registry,
		groups:    groups,
		syncLog:   syncLog,
		messenger: messenger,
		validator: validator,
		channelID: channelID,
		logger:    logger.Named("exclusions"),
	}
}

// Run sweeps every user with an address on record and appends one audit row
// when anything changed.
func (e *Exclusions) Run(ctx context.Context) error {
	users, err := e.registry.WithEmail(ctx)
	if err != nil {
		return err
	}

	eligible, err := e.groups.Eligible(ctx)
	if err != nil {
		return err
	}

	var changed []string

	for _, user := range users {
		action, err := e.sweepUser(ctx, user, eligible)
		if err != nil {
			return err
		}

		if action != "" {
			changed = append(changed, fmt.Sprintf("(%d,%s)", user.ID, action))
		}
	}

	if len(changed) == 0 {
		e.logger.Info("Exclusion sweep found nothing to change")
		return nil
	}

	e.logger.Info("Exclusion sweep complete", zap.Int("changed", len(changed)))

	return e.syncLog.Append(ctx, &types.SyncRecord{
		SyncType:    types.SyncTypeExclusionCheck,
		RecordCount: len(changed),
		Comment:     fmt.Sprintf("changed=%v", changed),
	})
}

// sweepUser applies the exclusion policy to one user and reports the action
// taken, empty for a no-op.
func (e *Exclusions) sweepUser(ctx context.Context, user UserState, eligible []int64) (string, error) {
	if e.validator.IsExempt(user.Email) {
		return e.sweepExempt(ctx, user, eligible)
	}

	// Non-exempt, non-corporate addresses lose approval. The ban is left to
	// the next enforcement sweep.
	if user.Approve && !e.validator.IsValidWorkEmail(user.Email) {
		if err := e.registry.SetApprove(ctx, user.ID, false); err != nil {
			return "", err
		}

		return "revoked", nil
	}

	return "", nil
}

func (e *Exclusions) sweepExempt(ctx context.Context, user UserState, eligible []int64) (string, error) {
	switch {
	case user.Approve && !user.Banned:
		return "", nil

	case user.Approve && user.Banned:
		e.unbanInGroups(ctx, user.ID, eligible)

		if err := e.registry.ClearBanned(ctx, user.ID); err != nil {
			return "", err
		}

		return "unbanned", nil

	case user.Banned && user.WasApproved:
		e.unbanInGroups(ctx, user.ID, eligible)

		if err := e.registry.ApproveAndUnban(ctx, user.ID); err != nil {
			return "", err
		}

		e.sendRestorationNotice(ctx, user.ID)

		return "restored", nil

	case user.Banned:
		e.unbanInGroups(ctx, user.ID, eligible)

		if err := e.registry.ApproveAndUnban(ctx, user.ID); err != nil {
			return "", err
		}

		return "approved", nil

	default:
		if err := e.registry.SetApprove(ctx, user.ID, true); err != nil {
			return "", err
		}

		return "approved", nil
	}
}

func (e *Exclusions) unbanInGroups(ctx context.Context, userID int64, chatIDs []int64) {
	for _, chatID := range chatIDs {
		if err := e.messenger.UnbanChatMember(ctx, chatID, userID); err != nil {
			e.logger.Warn("Failed to unban user in group",
				zap.Int64("chatID", chatID),
				zap.Int64("userID", userID),
				zap.Error(err))
		}
	}
}

// sendRestorationNotice delivers the restored-access message with a fresh
// invite link. Best-effort; failures are logged.
func (e *Exclusions) sendRestorationNotice(ctx context.Context, userID int64) {
	link, err := e.messenger.CreateChatInviteLink(ctx, e.channelID, restoreInviteExpire, 1)
	if err != nil {
		e.logger.Warn("Failed to create restoration invite",
			zap.Int64("userID", userID),
			zap.Error(err))

		return
	}

	opts := &telegram.SendOptions{
		ReplyMarkup: &telegram.InlineKeyboardMarkup{
			InlineKeyboard: [][]telegram.InlineKeyboardButton{
				{{Text: "Join the channel", URL: link}},
			},
		},
	}

	if err := e.messenger.SendMessage(ctx, userID, MsgAccessRestored, opts); err != nil {
		e.logger.Warn("Failed to deliver restoration notice",
			zap.Int64("userID", userID),
			zap.Error(err))
	}
}
