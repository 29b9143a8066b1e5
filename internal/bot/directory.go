package bot

import (
	"context"
	"fmt"

	"github.com/pulsegate/pulsegate/internal/crypto"
	"github.com/pulsegate/pulsegate/internal/database/models"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"go.uber.org/zap"
)

// Directory adapts the user and group registries to what the verification
// machine needs, handling email encryption on the way in.
type Directory struct {
	users  *models.UserModel
	groups *models.GroupModel
	client telegram.Client
	codec  *crypto.Codec
	logger *zap.Logger
}

// NewDirectory wires the registry adapter.
func NewDirectory(
	users *models.UserModel,
	groups *models.GroupModel,
	client telegram.Client,
	codec *crypto.Codec,
	logger *zap.Logger,
) *Directory {
	return &Directory{
		users:  users,
		groups: groups,
		client: client,
		codec:  codec,
		logger: logger.Named("directory"),
	}
}

// Register seeds a registry row on first contact.
func (d *Directory) Register(ctx context.Context, user *telegram.User) error {
	return d.users.Create(ctx, &types.User{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// Lookup reports the user's approval flags.
func (d *Directory) Lookup(ctx context.Context, userID int64) (bool, bool, error) {
	user, err := d.users.Get(ctx, userID)
	if err != nil {
		return false, false, err
	}

	if user == nil {
		return false, false, nil
	}

	return user.Approve, user.WasApproved, nil
}

// Verify stores the address encrypted and grants access.
func (d *Directory) Verify(ctx context.Context, userID int64, email string) error {
	encrypted, err := d.codec.Encrypt(email)
	if err != nil {
		return fmt.Errorf("failed to encrypt email: %w", err)
	}

	return d.users.SetVerified(ctx, userID, encrypted)
}

// UnbanEverywhere lifts bans across every group the bot can moderate, then
// clears the registry ban flag. Per-group failures are logged and skipped.
func (d *Directory) UnbanEverywhere(ctx context.Context, userID int64) error {
	groups, err := d.groups.Eligible(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		if err := d.client.UnbanChatMember(ctx, group.ChatID, userID); err != nil {
			d.logger.Warn("Failed to unban user in group",
				zap.Int64("userID", userID),
				zap.Int64("chatID", group.ChatID),
				zap.Error(err))
		}
	}

	return d.users.ClearBanned(ctx, userID)
}
