package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benders-server/models"
	"benders-server/services"
	"benders-server/store"
	"benders-server/utils/retry"
)

type testServer struct {
	router *mux.Router
	store  *store.Memory
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.NewMemory(store.DefaultIndexes...)
	users := services.NewUserService(st)
	svc := Services{
		Auth: services.NewAuthService(st, users, rdb, services.AuthOptions{
			JWTSecret:     "test-secret",
			TokenTTL:      time.Hour,
			ResetTokenTTL: time.Minute,
			ProfileRetry:  retry.Policy{Attempts: 1, InitialDelay: time.Millisecond},
		}),
		Users:   users,
		Friends: services.NewFriendService(st, users),
		Benders: services.NewBenderService(st, users, services.NewGeoService(rdb)),
	}
	health := NewHealthHandler(st, HealthFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	return &testServer{
		router: NewRouter(svc, health, []string{"http://localhost:3000"}),
		store:  st,
		mr:     mr,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// signUp registers username and returns its id and a session token.
func (s *testServer) signUp(t *testing.T, username string) (string, string) {
	t.Helper()
	email := username + "@example.com"
	rr := s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "password": "secret1", "displayName": username, "username": username,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var user models.User
	decode(t, rr, &user)

	rr = s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var session struct {
		Token string `json:"token"`
	}
	decode(t, rr, &session)
	return user.ID, session.Token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decode(t, rr, &body)
	return body.Code
}

func TestRouter_AuthFlow(t *testing.T) {
	s := newTestServer(t)
	aliceID, token := s.signUp(t, "alice")

	rr := s.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me models.User
	decode(t, rr, &me)
	assert.Equal(t, aliceID, me.ID)

	rr = s.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "other@example.com", "password": "secret1", "displayName": "A", "username": "ALICE",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "USERNAME_TAKEN", errorCode(t, rr))

	rr = s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, "/auth/username-available?username=bob", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var avail struct {
		Available bool `json:"available"`
	}
	decode(t, rr, &avail)
	assert.True(t, avail.Available)

	rr = s.do(t, http.MethodPost, "/auth/signout", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_PasswordReset(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice")

	rr := s.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	keys := s.mr.Keys()
	require.Len(t, keys, 1)

	rr = s.do(t, http.MethodPost, "/auth/reset-password/confirm", "", map[string]string{
		"token": keys[0][len("reset:"):], "password": "brandnew",
	})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "alice@example.com", "password": "brandnew"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_Profile(t *testing.T) {
	s := newTestServer(t)
	_, token := s.signUp(t, "alice")

	rr := s.do(t, http.MethodPatch, "/me", token, map[string]string{"displayName": "Alice A", "bio": "hi"})
	require.Equal(t, http.StatusOK, rr.Code)
	var me models.User
	decode(t, rr, &me)
	assert.Equal(t, "Alice A", me.DisplayName)
	assert.Equal(t, "hi", me.Bio)

	rr = s.do(t, http.MethodPut, "/me/push-token", token, map[string]string{"token": "fcm"})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodGet, "/users/search?username=ALICE", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var found map[string]any
	decode(t, rr, &found)
	assert.Equal(t, "alice", found["username"])
	for _, private := range []string{"email", "friends", "blockedUsers", "createdAt"} {
		assert.NotContains(t, found, private)
	}
	rr = s.do(t, http.MethodGet, "/users/search?username=nobody", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_FriendFlow(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.signUp(t, "alice")
	bobID, bob := s.signUp(t, "bob")

	rr := s.do(t, http.MethodPost, "/friends/requests", alice, map[string]string{"toUserId": bobID})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var req models.FriendRequest
	decode(t, rr, &req)

	rr = s.do(t, http.MethodPost, "/friends/requests", alice, map[string]string{"toUserId": bobID})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, "/friends/requests", bob, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var pending RequestsResponse
	decode(t, rr, &pending)
	require.Equal(t, 1, pending.Count)

	rr = s.do(t, http.MethodPost, "/friends/requests/"+req.ID+"/accept", alice, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPost, "/friends/requests/"+req.ID+"/accept", bob, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodGet, "/friends", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var friends UsersResponse
	decode(t, rr, &friends)
	require.Equal(t, 1, friends.Count)
	assert.Equal(t, bobID, friends.Users[0].ID)

	rr = s.do(t, http.MethodGet, "/friends/suggestions", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/friends/reconcile", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report services.ReconcileReport
	decode(t, rr, &report)
	assert.Empty(t, report.Dropped)

	rr = s.do(t, http.MethodDelete, "/friends/"+bobID, alice, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPut, "/blocks/"+aliceID, bob, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodGet, "/blocks", bob, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var blocked UsersResponse
	decode(t, rr, &blocked)
	assert.Equal(t, 1, blocked.Count)
	assert.NotContains(t, rr.Body.String(), "alice@example.com")
	assert.NotContains(t, rr.Body.String(), "blockedUsers")

	rr = s.do(t, http.MethodPost, "/friends/requests", alice, map[string]string{"toUserId": bobID})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "BLOCKED", errorCode(t, rr))

	rr = s.do(t, http.MethodDelete, "/blocks/"+aliceID, bob, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRouter_BenderFlow(t *testing.T) {
	s := newTestServer(t)
	_, creator := s.signUp(t, "creator")
	guestID, guest := s.signUp(t, "guest")
	_, stranger := s.signUp(t, "stranger")

	rr := s.do(t, http.MethodPost, "/benders", creator, map[string]any{
		"title":          "Friday",
		"location":       map[string]any{"latitude": 52.3731, "longitude": 4.8926, "address": "Dam"},
		"invitedUserIds": []string{guestID},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var b models.Bender
	decode(t, rr, &b)
	base := "/benders/" + b.ID

	rr = s.do(t, http.MethodPost, base+"/join", stranger, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPost, base+"/join", guest, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, base+"/beers/increment", guest, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var count BeerCountResponse
	decode(t, rr, &count)
	assert.Equal(t, 1, count.BeerCount)

	rr = s.do(t, http.MethodPut, base+"/beers", guest, map[string]int{"beerCount": -3})
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &count)
	assert.Equal(t, 0, count.BeerCount)

	rr = s.do(t, http.MethodPut, base+"/beers", guest, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, base+"/location-status", guest, map[string]bool{"isAtLocation": true})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodGet, "/benders", guest, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list BendersResponse
	decode(t, rr, &list)
	assert.Equal(t, 1, list.Count)

	rr = s.do(t, http.MethodGet, "/benders/nearby?lat=52.3731&lon=4.8926", guest, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var nearby NearbyBendersResponse
	decode(t, rr, &nearby)
	require.Equal(t, 1, nearby.Count)
	assert.Equal(t, b.ID, nearby.Benders[0].ID)
	assert.Equal(t, defaultNearbyRadiusKm, nearby.Radius)

	rr = s.do(t, http.MethodGet, "/benders/nearby?lat=abc&lon=4", guest, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, base+"/end", guest, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPost, base+"/end", creator, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, base+"/beers/decrement", guest, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "BENDER_ENDED", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, base, guest, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &b)
	assert.Equal(t, models.BenderEnded, b.Status)

	rr = s.do(t, http.MethodGet, "/benders/missing", guest, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_StoreFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	_, token := s.signUp(t, "alice")
	s.store.InjectError("get", store.Users, "", errors.New("backend unavailable"))

	rr := s.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "STORE_ERROR", errorCode(t, rr))
}

func TestRouter_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var health HealthResponse
	decode(t, rr, &health)
	assert.Equal(t, "healthy", health.Status)


	rr = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "benders_http_requests_total")
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	down := HealthFunc(func(context.Context) error { return errors.New("connection refused") })
	up := HealthFunc(func(context.Context) error { return nil })
	rr := httptest.NewRecorder()
	NewHealthHandler(up, down).Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var health HealthResponse
	decode(t, rr, &health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "healthy", health.Checks["store"])
	assert.Equal(t, "unhealthy: connection refused", health.Checks["redis"])
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/benders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
