package types

import (
	"time"

	"github.com/uptrace/bun"
)

// GroupCapabilities holds the bot's administrative rights in a chat.
// It is a fixed struct so the upsert never builds column lists at runtime.
type GroupCapabilities struct {
	CanManageChat      bool `bun:",notnull,default:false"`
	CanRestrictMembers bool `bun:",notnull,default:false"`
	CanPromoteMembers  bool `bun:",notnull,default:false"`
	CanInviteUsers     bool `bun:",notnull,default:false"`
}

// Group is one row per chat the bot has ever been a member of.
// Capability flags are refreshed on every membership change event.
type Group struct {
	bun.BaseModel `bun:"table:groups"`

	ChatID int64  `bun:",pk"`
	Title  string `bun:",nullzero"`
	Type   string `bun:",notnull"`
	// Bot's membership status in the chat (administrator, member, left, ...).
	Status string `bun:",notnull"`

	GroupCapabilities

	// New stays true until the group receives its first full enforcement sweep.
	New       bool      `bun:",notnull,default:true"`
	UpdatedAt time.Time `bun:",notnull,default:current_timestamp"`
}
