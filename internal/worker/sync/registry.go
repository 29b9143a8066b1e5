package sync

import (
	"context"

	"github.com/pulsegate/pulsegate/internal/crypto"
	"github.com/pulsegate/pulsegate/internal/database/models"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"go.uber.org/zap"
)

// DBRegistry adapts the user model to the Registry interface, decrypting
// emails on the way out.
type DBRegistry struct {
	users  *models.UserModel
	codec  *crypto.Codec
	logger *zap.Logger
}

// NewDBRegistry wires the registry adapter.
func NewDBRegistry(users *models.UserModel, codec *crypto.Codec, logger *zap.Logger) *DBRegistry {
	return &DBRegistry{
		users:  users,
		codec:  codec,
		logger: logger.Named("registry"),
	}
}

func (r *DBRegistry) toStates(users []*types.User) []UserState {
	states := make([]UserState, 0, len(users))

	for _, user := range users {
		email, err := r.codec.Decrypt(user.Email)
		if err != nil {
			// An undecryptable address is treated as absent rather than
			// poisoning the whole run.
			r.logger.Warn("Failed to decrypt email",
				zap.Int64("userID", user.UserID),
				zap.Error(err))

			email = ""
		}

		states = append(states, UserState{
			ID:          user.UserID,
			Email:       email,
			Approve:     user.Approve,
			WasApproved: user.WasApproved,
			Banned:      user.Banned,
		})
	}

	return states
}

func (r *DBRegistry) ApprovedSynced(ctx context.Context) ([]UserState, error) {
	users, err := r.users.ApprovedSynced(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) Restorable(ctx context.Context) ([]UserState, error) {
	users, err := r.users.Restorable(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) UnapprovedUnbanned(ctx context.Context) ([]UserState, error) {
	users, err := r.users.UnapprovedUnbanned(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) Unapproved(ctx context.Context) ([]UserState, error) {
	users, err := r.users.Unapproved(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) ApprovedUnsynced(ctx context.Context) ([]UserState, error) {
	users, err := r.users.ApprovedUnsynced(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) WithEmail(ctx context.Context) ([]UserState, error) {
	users, err := r.users.WithEmail(ctx)
	if err != nil {
		return nil, err
	}

	return r.toStates(users), nil
}

func (r *DBRegistry) RevokeApproval(ctx context.Context, userIDs []int64) error {
	return r.users.RevokeApproval(ctx, userIDs)
}

func (r *DBRegistry) RestoreApproval(ctx context.Context, userIDs []int64) error {
	return r.users.RestoreApproval(ctx, userIDs)
}

func (r *DBRegistry) MarkBanned(ctx context.Context, userIDs []int64) error {
	return r.users.MarkBanned(ctx, userIDs)
}

func (r *DBRegistry) MarkSynced(ctx context.Context, userIDs []int64) error {
	return r.users.MarkSynced(ctx, userIDs)
}

func (r *DBRegistry) UnnotifiedAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	return r.users.UnnotifiedAmong(ctx, userIDs)
}

func (r *DBRegistry) MarkNotified(ctx context.Context, userIDs []int64) error {
	return r.users.MarkNotified(ctx, userIDs)
}

func (r *DBRegistry) MissingIDs(ctx context.Context, userIDs []int64) ([]int64, error) {
	return r.users.MissingIDs(ctx, userIDs)
}

func (r *DBRegistry) SetApprove(ctx context.Context, userID int64, approve bool) error {
	return r.users.SetApprove(ctx, userID, approve)
}

func (r *DBRegistry) ApproveAndUnban(ctx context.Context, userID int64) error {
	return r.users.ApproveAndUnban(ctx, userID)
}

func (r *DBRegistry) ClearBanned(ctx context.Context, userID int64) error {
	return r.users.ClearBanned(ctx, userID)
}

// DBGroups adapts the group model to the Groups interface.
type DBGroups struct {
	groups *models.GroupModel
}

// NewDBGroups wires the group adapter.
func NewDBGroups(groups *models.GroupModel) *DBGroups {
	return &DBGroups{groups: groups}
}

func (g *DBGroups) Eligible(ctx context.Context) ([]int64, error) {
	groups, err := g.groups.Eligible(ctx)
	if err != nil {
		return nil, err
	}

	return chatIDs(groups), nil
}

func (g *DBGroups) NewEligible(ctx context.Context) ([]int64, error) {
	groups, err := g.groups.NewEligible(ctx)
	if err != nil {
		return nil, err
	}

	return chatIDs(groups), nil
}

func (g *DBGroups) ClearNew(ctx context.Context, chatID int64) error {
	return g.groups.ClearNew(ctx, chatID)
}

func chatIDs(groups []*types.Group) []int64 {
	ids := make([]int64, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.ChatID)
	}

	return ids
}
