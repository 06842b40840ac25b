package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"benders-server/models"
	"benders-server/store"
	"benders-server/utils/retry"
)

type testEnv struct {
	store   *store.Memory
	mr      *miniredis.Miniredis
	users   *UserService
	friends *FriendService
	benders *BenderService
	auth    *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.NewMemory(store.DefaultIndexes...)
	users := NewUserService(st)
	return &testEnv{
		store:   st,
		mr:      mr,
		users:   users,
		friends: NewFriendService(st, users),
		benders: NewBenderService(st, users, NewGeoService(rdb)),
		auth: NewAuthService(st, users, rdb, AuthOptions{
			JWTSecret:     "test-secret",
			TokenTTL:      time.Hour,
			ResetTokenTTL: time.Minute,
			ProfileRetry:  retry.Policy{Attempts: 2, InitialDelay: time.Millisecond},
		}),
	}
}

// seedUser writes a user document directly.
func (e *testEnv) seedUser(t *testing.T, id string, friends []string, blocked ...string) {
	t.Helper()
	if friends == nil {
		friends = []string{}
	}
	u := models.User{
		ID:           id,
		Username:     id,
		DisplayName:  "User " + id,
		Email:        id + "@example.com",
		Friends:      friends,
		BlockedUsers: blocked,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, e.store.Create(context.Background(), store.Users, id, u))
}

func (e *testEnv) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.users.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) request(t *testing.T, id string) models.FriendRequest {
	t.Helper()
	var r models.FriendRequest
	require.NoError(t, e.store.Get(context.Background(), store.FriendRequests, id, &r))
	return r
}

func ids(users []models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}
