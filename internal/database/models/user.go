package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/database/dbretry"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// UserModel handles database operations for the user registry.
type UserModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewUser creates a new user model instance.
func NewUser(db *bun.DB, logger *zap.Logger) *UserModel {
	return &UserModel{
		db:     db,
		logger: logger.Named("db_user"),
	}
}

// Get fetches a registry row by user id. Returns nil without error when the
// user has never contacted the bot.
func (m *UserModel) Get(ctx context.Context, userID int64) (*types.User, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.User, error) {
		user := new(types.User)

		err := m.db.NewSelect().
			Model(user).
			Where("user_id = ?", userID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
		}

		return user, nil
	})
}

// Create inserts a new registry row. First contact only; existing rows are
// left untouched.
func (m *UserModel) Create(ctx context.Context, user *types.User) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		user.CreatedAt = time.Now()
		user.UpdatedAt = user.CreatedAt

		_, err := m.db.NewInsert().
			Model(user).
			On("CONFLICT (user_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create user %d: %w", user.UserID, err)
		}

		m.logger.Info("Created registry row", zap.Int64("userID", user.UserID))

		return nil
	})
}

// SetVerified stores the encrypted email and grants access after a successful
// code check.
func (m *UserModel) SetVerified(ctx context.Context, userID int64, encryptedEmail string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("email = ?", encryptedEmail).
			Set("approve = TRUE").
			Set("was_approved = TRUE").
			Set("banned = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark user %d verified: %w", userID, err)
		}

		return nil
	})
}

// RevokeApproval removes access for users absent from the roster.
func (m *UserModel) RevokeApproval(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("approve = FALSE").
			Set("was_approved = TRUE").
			Set("banned = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("user_id IN (?)", bun.In(userIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to revoke approval: %w", err)
		}

		m.logger.Info("Revoked approval", zap.Int("count", len(userIDs)))

		return nil
	})
}

// RestoreApproval undoes a prior revocation once the roster confirms the user
// again. The notified flag is reset so a future revocation notifies anew.
func (m *UserModel) RestoreApproval(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("approve = TRUE").
			Set("synced = TRUE").
			Set("banned = FALSE").
			Set("notified = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("user_id IN (?)", bun.In(userIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore approval: %w", err)
		}

		m.logger.Info("Restored approval", zap.Int("count", len(userIDs)))

		return nil
	})
}

// SetApprove flips the approve flag for a single user.
func (m *UserModel) SetApprove(ctx context.Context, userID int64, approve bool) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("approve = ?", approve).
			Set("updated_at = ?", time.Now()).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set approve for user %d: %w", userID, err)
		}

		return nil
	})
}

// ApproveAndUnban grants access and clears the ban flag in one statement.
func (m *UserModel) ApproveAndUnban(ctx context.Context, userID int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("approve = TRUE").
			Set("banned = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to approve and unban user %d: %w", userID, err)
		}

		return nil
	})
}

// ClearBanned resets the ban flag for a single user.
func (m *UserModel) ClearBanned(ctx context.Context, userID int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("banned = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear ban for user %d: %w", userID, err)
		}

		return nil
	})
}

// MarkBanned flags users as removed from managed groups.
func (m *UserModel) MarkBanned(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("banned = TRUE").
			Set("updated_at = ?", time.Now()).
			Where("user_id IN (?)", bun.In(userIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark users banned: %w", err)
		}

		return nil
	})
}

// MarkSynced flags users as included in an outbound roster export.
func (m *UserModel) MarkSynced(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("synced = TRUE").
			Set("updated_at = ?", time.Now()).
			Where("user_id IN (?)", bun.In(userIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark users synced: %w", err)
		}

		return nil
	})
}

// UnnotifiedAmong narrows a set of user ids to those not yet informed of a
// de-approval.
func (m *UserModel) UnnotifiedAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) ([]int64, error) {
		var ids []int64

		err := m.db.NewSelect().
			Model((*types.User)(nil)).
			Column("user_id").
			Where("user_id IN (?)", bun.In(userIDs)).
			Where("notified = FALSE").
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to select unnotified users: %w", err)
		}

		return ids, nil
	})
}

// MarkNotified records that the de-approval notice reached these users.
func (m *UserModel) MarkNotified(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("notified = TRUE").
			Set("updated_at = ?", time.Now()).
			Where("user_id IN (?)", bun.In(userIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark users notified: %w", err)
		}

		return nil
	})
}

// ApprovedSynced returns users currently visible to HR: approved and already
// reported in an export. Only these are candidates for revocation.
func (m *UserModel) ApprovedSynced(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "approve = TRUE AND synced = TRUE")
}

// Restorable returns users a roster appearance can restore: currently
// unapproved or still flagged banned.
func (m *UserModel) Restorable(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "approve = FALSE OR banned = TRUE")
}

// UnapprovedUnbanned returns enforcement targets: access revoked but not yet
// removed from groups.
func (m *UserModel) UnapprovedUnbanned(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "approve = FALSE AND banned = FALSE")
}

// Unapproved returns every user without access, banned or not. Used for the
// full sweep of newly managed groups.
func (m *UserModel) Unapproved(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "approve = FALSE")
}

// ApprovedUnsynced returns users awaiting their first roster export.
func (m *UserModel) ApprovedUnsynced(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "approve = TRUE AND synced = FALSE")
}

// WithEmail returns every user that has an email on record.
func (m *UserModel) WithEmail(ctx context.Context) ([]*types.User, error) {
	return m.selectWhere(ctx, "email IS NOT NULL AND email != ''")
}

// MissingIDs returns the subset of ids that have no registry row.
func (m *UserModel) MissingIDs(ctx context.Context, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) ([]int64, error) {
		var present []int64

		err := m.db.NewSelect().
			Model((*types.User)(nil)).
			Column("user_id").
			Where("user_id IN (?)", bun.In(userIDs)).
			Scan(ctx, &present)
		if err != nil {
			return nil, fmt.Errorf("failed to select known users: %w", err)
		}

		known := make(map[int64]struct{}, len(present))
		for _, id := range present {
			known[id] = struct{}{}
		}

		var missing []int64

		for _, id := range userIDs {
			if _, ok := known[id]; !ok {
				missing = append(missing, id)
			}
		}

		return missing, nil
	})
}

func (m *UserModel) selectWhere(ctx context.Context, cond string) ([]*types.User, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.User, error) {
		var users []*types.User

		err := m.db.NewSelect().
			Model(&users).
			Where(cond).
			Order("user_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to select users (%s): %w", cond, err)
		}

		return users, nil
	})
}
