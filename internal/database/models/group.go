package models

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/database/dbretry"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// GroupModel handles database operations for the managed group registry.
type GroupModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewGroup creates a new group model instance.
func NewGroup(db *bun.DB, logger *zap.Logger) *GroupModel {
	return &GroupModel{
		db:     db,
		logger: logger.Named("db_group"),
	}
}

// Upsert creates or refreshes a group row on a bot membership change event.
// The new flag is only set on insert; an update never revives it.
func (m *GroupModel) Upsert(ctx context.Context, group *types.Group) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		group.UpdatedAt = time.Now()

		_, err := m.db.NewInsert().
			Model(group).
			On("CONFLICT (chat_id) DO UPDATE").
			Set("title = EXCLUDED.title").
			Set("type = EXCLUDED.type").
			Set("status = EXCLUDED.status").
			Set("can_manage_chat = EXCLUDED.can_manage_chat").
			Set("can_restrict_members = EXCLUDED.can_restrict_members").
			Set("can_promote_members = EXCLUDED.can_promote_members").
			Set("can_invite_users = EXCLUDED.can_invite_users").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert group %d: %w", group.ChatID, err)
		}

		m.logger.Info("Upserted group",
			zap.Int64("chatID", group.ChatID),
			zap.String("status", group.Status))

		return nil
	})
}

// Eligible returns the groups where the bot may ban and unban members.
func (m *GroupModel) Eligible(ctx context.Context) ([]*types.Group, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Group, error) {
		var groups []*types.Group

		err := m.db.NewSelect().
			Model(&groups).
			Where("can_restrict_members = TRUE").
			Order("chat_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to select eligible groups: %w", err)
		}

		return groups, nil
	})
}

// NewEligible returns eligible groups that have never received a full sweep.
func (m *GroupModel) NewEligible(ctx context.Context) ([]*types.Group, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Group, error) {
		var groups []*types.Group

		err := m.db.NewSelect().
			Model(&groups).
			Where("can_restrict_members = TRUE").
			Where("new = TRUE").
			Order("chat_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to select new groups: %w", err)
		}

		return groups, nil
	})
}

// ClearNew marks a group as fully swept.
func (m *GroupModel) ClearNew(ctx context.Context, chatID int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.Group)(nil)).
			Set("new = FALSE").
			Set("updated_at = ?", time.Now()).
			Where("chat_id = ?", chatID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear new flag for group %d: %w", chatID, err)
		}

		return nil
	})
}
