package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"benders-server/models"
	"benders-server/store"
	apperr "benders-server/utils/errors"
	"benders-server/utils/retry"
)

const minPasswordLength = 6

// Claims are the JWT claims issued at sign-in.
type Claims struct {
	UserID   string `json:"userID"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Session is the result of a successful sign-in. User is nil when the profile
// document could not be loaded within the retry policy.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type AuthOptions struct {
	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	ProfileRetry  retry.Policy
}

// AuthService is the identity gateway: accounts, sessions and password resets.
// Revoked sessions and reset tokens live in Redis.
type AuthService struct {
	store  store.Store
	users  *UserService
	redis  *redis.Client
	secret []byte
	opts   AuthOptions
	now    func() time.Time
}

func NewAuthService(st store.Store, users *UserService, rdb *redis.Client, opts AuthOptions) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = time.Hour
	}
	if opts.ProfileRetry.Attempts == 0 {
		opts.ProfileRetry = retry.DefaultPolicy()
	}
	return &AuthService{
		store:  st,
		users:  users,
		redis:  rdb,
		secret: []byte(opts.JWTSecret),
		opts:   opts,
		now:    time.Now,
	}
}

func (s *AuthService) CheckUsernameAvailable(ctx context.Context, username string) (bool, error) {
	if normalizeUsername(username) == "" {
		return false, apperr.ErrInvalidInput.WithDetails("username is required")
	}
	return s.users.UsernameAvailable(ctx, username)
}

// SignUp creates the account and the user document. The username pre-check is
// advisory; losing a race surfaces as ErrUsernameTaken from the unique index.
func (s *AuthService) SignUp(ctx context.Context, email, password, displayName, username string) (*models.User, error) {
	email = normalizeEmail(email)
	username = normalizeUsername(username)
	displayName = strings.TrimSpace(displayName)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.ErrInvalidInput.WithDetails("invalid email")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.ErrInvalidInput.WithDetails("password must be at least %d characters", minPasswordLength)
	}
	if username == "" || displayName == "" {
		return nil, apperr.ErrInvalidInput.WithDetails("username and display name are required")
	}

	available, err := s.users.UsernameAvailable(ctx, username)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, apperr.ErrUsernameTaken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(err, "HASH_ERROR", "failed to hash password", apperr.ErrInternal.Status)
	}

	now := s.now().UTC()
	id := store.NewID()
	account := models.Account{ID: id, Email: email, PasswordHash: string(passwordHash), CreatedAt: now}
	if err := s.store.Create(ctx, store.Accounts, id, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.ErrConflict.WithDetails("email already in use")
		}
		return nil, apperr.StoreError(err)
	}

	user := models.User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Username:    username,
		Friends:     []string{},
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, store.Users, id, user); err != nil {
		if delErr := s.store.Delete(ctx, store.Accounts, id); delErr != nil {
			log.WithField("user_id", id).WithError(delErr).Error("Failed to roll back account after user creation failed")
		}
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.ErrUsernameTaken
		}
		return nil, apperr.StoreError(err)
	}

	log.WithFields(log.Fields{"user_id": id, "username": username}).Info("User signed up")
	return &user, nil
}

// SignIn verifies the password and issues a session token. The profile is fetched
// with retry since it may lag behind account creation.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	account, err := s.accountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}

	user, found, err := retry.Fetch(ctx, s.opts.ProfileRetry, func(ctx context.Context) (*models.User, error) {
		return s.users.GetUser(ctx, account.ID)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		log.WithField("user_id", account.ID).Warn("Signed in without a profile document")
		user = nil
	}

	session, err := s.issueToken(account.ID, user)
	if err != nil {
		return nil, err
	}
	session.User = user
	log.WithField("user_id", account.ID).Info("User signed in")
	return session, nil
}

func (s *AuthService) issueToken(userID string, user *models.User) (*Session, error) {
	now := s.now()
	exp := now.Add(s.opts.TokenTTL)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if user != nil {
		claims.Username = user.Username
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, apperr.Wrap(err, "JWT_ERROR", "Failed to generate token", apperr.ErrInternal.Status)
	}
	return &Session{Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, apperr.ErrUnauthorized
	}
	return claims, nil
}

// Verify validates a session token and returns its user id. Revoked tokens fail.
func (s *AuthService) Verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return "", err
	}
	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", apperr.ErrUnauthorized.WithDetails("session signed out")
	}
	return claims.UserID, nil
}

// SignOut revokes the token until it would have expired anyway.
func (s *AuthService) SignOut(ctx context.Context, tokenString string) error {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, revokedKey(claims.ID), claims.UserID, ttl).Err(); err != nil {
		return apperr.Wrap(err, "REDIS_ERROR", "Failed to revoke session", apperr.ErrInternal.Status)
	}
	log.WithField("user_id", claims.UserID).Info("User signed out")
	return nil
}

func (s *AuthService) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, apperr.Wrap(err, "REDIS_ERROR", "Failed to check session", apperr.ErrInternal.Status)
	}
	return n > 0, nil
}

// ResetPassword issues a single-use reset token. Unknown emails succeed silently so
// the endpoint cannot be used to probe for accounts.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	account, err := s.accountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if account == nil {
		log.Debug("Password reset requested for unknown email")
		return nil
	}
	token := uuid.New().String()
	if err := s.redis.Set(ctx, resetKey(token), account.ID, s.opts.ResetTokenTTL).Err(); err != nil {
		return apperr.Wrap(err, "REDIS_ERROR", "Failed to issue reset token", apperr.ErrInternal.Status)
	}
	log.WithFields(log.Fields{"user_id": account.ID, "reset_token": token}).Debug("Password reset token issued")
	return nil
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperr.ErrInvalidInput.WithDetails("password must be at least %d characters", minPasswordLength)
	}
	accountID, err := s.redis.GetDel(ctx, resetKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return apperr.ErrInvalidInput.WithDetails("reset token is invalid or expired")
	}
	if err != nil {
		return apperr.Wrap(err, "REDIS_ERROR", "Failed to read reset token", apperr.ErrInternal.Status)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Wrap(err, "HASH_ERROR", "failed to hash password", apperr.ErrInternal.Status)
	}
	if err := s.store.Update(ctx, store.Accounts, accountID, store.Update{"passwordHash": string(hash)}); err != nil {
		return storeErr(err, "account", accountID)
	}
	log.WithField("user_id", accountID).Info("Password reset")
	return nil
}

// CurrentUser returns the profile of the authenticated user.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUser(ctx, userID)
}

func (s *AuthService) accountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if email == "" {
		return nil, nil
	}
	var accounts []models.Account
	if err := s.store.Query(ctx, store.Accounts, []store.Filter{store.Eq("email", email)}, &accounts); err != nil {
		return nil, apperr.StoreError(err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func revokedKey(tokenID string) string { return "revoked:" + tokenID }

func resetKey(token string) string { return "reset:" + token }
