package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndParse(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	userID := uuid.New()

	token, exp, err := m.Issue(userID, RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	actor, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, actor.ID)
	assert.True(t, actor.IsAdmin())
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)

	other, _, err := NewTokenManager("other-secret", time.Hour).Issue(uuid.New(), RoleClient)
	require.NoError(t, err)
	_, err = m.ParseAccess(other)
	assert.Error(t, err)

	expired, _, err := NewTokenManager("test-secret", -time.Minute).Issue(uuid.New(), RoleClient)
	require.NoError(t, err)
	_, err = m.ParseAccess(expired)
	assert.Error(t, err)

	_, err = m.ParseAccess("not-a-token")
	assert.Error(t, err)
}
