package bot_test

import (
	"testing"

	"github.com/pulsegate/pulsegate/internal/bot"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member telegram.ChatMember
		want   types.GroupCapabilities
	}{
		{
			name:   "owner has every capability",
			member: telegram.ChatMember{Status: telegram.MemberStatusCreator},
			want: types.GroupCapabilities{
				CanManageChat:      true,
				CanRestrictMembers: true,
				CanPromoteMembers:  true,
				CanInviteUsers:     true,
			},
		},
		{
			name: "administrator copies granted rights",
			member: telegram.ChatMember{
				Status:             telegram.MemberStatusAdministrator,
				CanRestrictMembers: true,
				CanInviteUsers:     true,
			},
			want: types.GroupCapabilities{
				CanRestrictMembers: true,
				CanInviteUsers:     true,
			},
		},
		{
			name: "plain member has none even with stray flags",
			member: telegram.ChatMember{
				Status:             telegram.MemberStatusMember,
				CanRestrictMembers: true,
			},
			want: types.GroupCapabilities{},
		},
		{
			name:   "kicked has none",
			member: telegram.ChatMember{Status: telegram.MemberStatusKicked},
			want:   types.GroupCapabilities{},
		},
		{
			name:   "left has none",
			member: telegram.ChatMember{Status: telegram.MemberStatusLeft},
			want:   types.GroupCapabilities{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, bot.CapabilitiesFrom(tt.member))
		})
	}
}
