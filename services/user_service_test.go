package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "benders-server/utils/errors"
)

func TestUserService_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "a", nil)

	u, err := e.users.UpdateProfile(ctx, "a", "  Alice ", "likes stouts")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "likes stouts", u.Bio)

	u, err = e.users.UpdateProfile(ctx, "a", "Alice", "")
	require.NoError(t, err)
	assert.Empty(t, u.Bio)

	_, err = e.users.UpdateProfile(ctx, "a", "   ", "bio")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.users.UpdateProfile(ctx, "missing", "Name", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUserService_SetPushToken(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedUser(t, "a", nil)

	require.NoError(t, e.users.SetPushToken(ctx, "a", "device-token"))
	assert.Equal(t, "device-token", e.user(t, "a").FCMToken)

	require.NoError(t, e.users.SetPushToken(ctx, "a", ""))
	assert.Empty(t, e.user(t, "a").FCMToken)

	assert.ErrorIs(t, e.users.SetPushToken(ctx, "missing", "x"), apperr.ErrNotFound)
}

func TestUserService_GetUser(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.users.GetUser(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.users.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
