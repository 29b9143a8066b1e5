package database

import (
	"github.com/pulsegate/pulsegate/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	user  *models.UserModel
	group *models.GroupModel
	sync  *models.SyncModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		user:  models.NewUser(db, logger),
		group: models.NewGroup(db, logger),
		sync:  models.NewSync(db, logger),
	}
}

// User returns the user model repository.
func (r *Repository) User() *models.UserModel {
	return r.user
}

// Group returns the group model repository.
func (r *Repository) Group() *models.GroupModel {
	return r.group
}

// Sync returns the sync history model repository.
func (r *Repository) Sync() *models.SyncModel {
	return r.sync
}
