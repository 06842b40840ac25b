package services

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"benders-server/metrics"
	"benders-server/models"
	"benders-server/store"
	apperr "benders-server/utils/errors"
)

type UserService struct {
	store store.Store
}

func NewUserService(st store.Store) *UserService {
	return &UserService{store: st}
}

// GetUser loads a user document.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.ErrInvalidInput
	}
	var user models.User
	if err := s.store.Get(ctx, store.Users, userID, &user); err != nil {
		return nil, storeErr(err, "user", userID)
	}
	return &user, nil
}

// SearchByUsername is a case-insensitive exact match. No match is (nil, nil).
func (s *UserService) SearchByUsername(ctx context.Context, username string) (*models.User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, nil
	}
	var users []models.User
	if err := s.store.Query(ctx, store.Users, []store.Filter{store.Eq("username", username)}, &users); err != nil {
		return nil, apperr.StoreError(err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// UsernameAvailable is advisory; the unique index on users.username is authoritative.
func (s *UserService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	u, err := s.SearchByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return u == nil, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID, displayName, bio string) (*models.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperr.ErrInvalidInput.WithDetails("display name cannot be empty")
	}
	update := store.Update{"displayName": displayName}
	if bio = strings.TrimSpace(bio); bio != "" {
		update["bio"] = bio
	} else {
		update["bio"] = store.Delete
	}
	if err := s.store.Update(ctx, store.Users, userID, update); err != nil {
		return nil, storeErr(err, "user", userID)
	}
	log.WithField("user_id", userID).Info("Profile updated")
	return s.GetUser(ctx, userID)
}

// SetPushToken stores the device push token opaquely. An empty token clears it.
func (s *UserService) SetPushToken(ctx context.Context, userID, token string) error {
	var value any = token
	if token == "" {
		value = store.Delete
	}
	if err := s.store.Update(ctx, store.Users, userID, store.Update{"fcmToken": value}); err != nil {
		return storeErr(err, "user", userID)
	}
	return nil
}

// fetchUsers loads ids concurrently and returns the found users in input order.
// Missing documents are skipped and reported as dangling references of owner's field;
// any other failure fails the whole batch.
func (s *UserService) fetchUsers(ctx context.Context, ids []string, ownerID, field string) ([]models.User, error) {
	found := make([]*models.User, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			var u models.User
			err := s.store.Get(gctx, store.Users, id, &u)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.StoreError(err)
	}

	users := make([]models.User, 0, len(ids))
	for i, u := range found {
		if u == nil {
			reportDangling(ownerID, field, ids[i])
			continue
		}
		users = append(users, *u)
	}
	return users, nil
}

func reportDangling(ownerID, field, missingID string) {
	metrics.RecordDangling(store.Users)
	log.WithFields(log.Fields{
		"owner_id":   ownerID,
		"field":      field,
		"missing_id": missingID,
	}).Warn("dangling user reference")
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// storeErr maps store failures onto the API taxonomy.
func storeErr(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrNotFound.WithDetails("%s %s", kind, id)
	case errors.Is(err, store.ErrDuplicate):
		return apperr.ErrConflict.WithDetails("%s %s", kind, id)
	default:
		return apperr.StoreError(err)
	}
}
