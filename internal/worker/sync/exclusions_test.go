package sync_test

import (
	"testing"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/worker/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exclusionsChannelID int64 = -1001

type exclusionsEnv struct {
	sweep     *sync.Exclusions
	registry  *fakeRegistry
	groups    *fakeGroups
	messenger *fakeMessenger
	syncLog   *fakeSyncLog
}

func setupExclusions(t *testing.T, users ...*fakeUser) *exclusionsEnv {
	t.Helper()

	env := &exclusionsEnv{
		registry:  newFakeRegistry(users...),
		groups:    &fakeGroups{eligible: []int64{100, 200}},
		messenger: &fakeMessenger{},
		syncLog:   &fakeSyncLog{},
	}

	validator := verification.NewEmailValidator("corp.example", []string{"vip@other.example"})
	env.sweep = sync.NewExclusions(
		env.registry, env.groups, env.syncLog, env.messenger,
		validator, exclusionsChannelID, zap.NewNop())

	return env
}

func exemptUser(approve, wasApproved, banned bool) *fakeUser {
	return &fakeUser{
		UserState: sync.UserState{
			ID: 50, Email: "vip@other.example",
			Approve: approve, WasApproved: wasApproved, Banned: banned,
		},
	}
}

func TestExclusionsHealthyExemptUntouched(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, exemptUser(true, true, false))

	require.NoError(t, env.sweep.Run(t.Context()))

	assert.Empty(t, env.messenger.unbans)
	assert.Empty(t, env.syncLog.records)
}

func TestExclusionsUnbansApprovedButBanned(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, exemptUser(true, true, true))

	require.NoError(t, env.sweep.Run(t.Context()))

	assert.Len(t, env.messenger.unbans, 2)
	assert.False(t, env.registry.users[50].Banned)

	record := env.syncLog.last()
	require.NotNil(t, record)
	assert.Equal(t, types.SyncTypeExclusionCheck, record.SyncType)
	assert.Contains(t, record.Comment, "unbanned")
}

func TestExclusionsRestoresPreviouslyApproved(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, exemptUser(false, true, true))

	require.NoError(t, env.sweep.Run(t.Context()))

	user := env.registry.users[50]
	assert.True(t, user.Approve)
	assert.False(t, user.Banned)
	assert.Len(t, env.messenger.unbans, 2)

	// Full restoration comes with a notice and a fresh invite.
	assert.Equal(t, 1, env.messenger.invites)
	require.Len(t, env.messenger.sent, 1)
	assert.Equal(t, sync.MsgAccessRestored, env.messenger.sent[0].text)
}

func TestExclusionsSilentlyApprovesNeverApproved(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, exemptUser(false, false, true))

	require.NoError(t, env.sweep.Run(t.Context()))

	user := env.registry.users[50]
	assert.True(t, user.Approve)
	assert.False(t, user.Banned)

	// No notice for users who never verified.
	assert.Empty(t, env.messenger.sent)
	assert.Zero(t, env.messenger.invites)
}

func TestExclusionsApprovesUnbannedExempt(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, exemptUser(false, false, false))

	require.NoError(t, env.sweep.Run(t.Context()))

	assert.True(t, env.registry.users[50].Approve)
	assert.Empty(t, env.messenger.unbans)
}

func TestExclusionsRevokesForeignDomain(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, &fakeUser{
		UserState: sync.UserState{
			ID: 60, Email: "mallory@outsider.example",
			Approve: true, WasApproved: true,
		},
	})

	require.NoError(t, env.sweep.Run(t.Context()))

	user := env.registry.users[60]
	assert.False(t, user.Approve)

	// Enforcement is left to the next cleaner run.
	assert.Empty(t, env.messenger.bans)
	assert.False(t, user.Banned)

	record := env.syncLog.last()
	require.NotNil(t, record)
	assert.Contains(t, record.Comment, "revoked")
}

func TestExclusionsKeepsCorporateUsers(t *testing.T) {
	t.Parallel()
	env := setupExclusions(t, &fakeUser{
		UserState: sync.UserState{
			ID: 42, Email: "alice@corp.example",
			Approve: true, WasApproved: true,
		},
	})

	require.NoError(t, env.sweep.Run(t.Context()))

	assert.True(t, env.registry.users[42].Approve)
	assert.Empty(t, env.syncLog.records)
}
