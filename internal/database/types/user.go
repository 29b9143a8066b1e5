package types

import (
	"time"

	"github.com/uptrace/bun"
)

// User is one registry row per person that ever contacted the bot.
// Rows are never deleted; access is tracked through the flag columns.
type User struct {
	bun.BaseModel `bun:"table:users"`

	UserID    int64     `bun:",pk"`
	Username  string    `bun:",nullzero"`
	FirstName string    `bun:",nullzero"`
	LastName  string    `bun:",nullzero"`
	// Email is stored encrypted (hex of IV||ciphertext), never in plain text.
	Email       string    `bun:",nullzero"`
	Approve     bool      `bun:",notnull,default:false"`
	WasApproved bool      `bun:",notnull,default:false"`
	Banned      bool      `bun:",notnull,default:false"`
	Synced      bool      `bun:",notnull,default:false"`
	Notified    bool      `bun:",notnull,default:false"`
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:",notnull,default:current_timestamp"`
}
