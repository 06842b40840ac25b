package services

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"benders-server/models"
	"benders-server/store"
	apperr "benders-server/utils/errors"
)

// BenderService manages the gathering lifecycle: active -> ended, with participants
// joining, leaving and counting beers in between. Participant writes target a single
// dotted path, so concurrent joins by different users do not conflict; concurrent
// count updates for the same user are last-write-wins.
type BenderService struct {
	store store.Store
	users *UserService
	geo   *GeoService
	now   func() time.Time
}

func NewBenderService(st store.Store, users *UserService, geo *GeoService) *BenderService {
	return &BenderService{store: st, users: users, geo: geo, now: time.Now}
}

func (s *BenderService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create starts an active bender. The creator is invited and joined automatically.
func (s *BenderService) Create(ctx context.Context, creatorID, title string, location models.Location, invitedIDs []string) (*models.Bender, error) {
	if creatorID == "" {
		return nil, apperr.ErrUnauthorized
	}
	now := s.timestamp()
	invited := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range invitedIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		invited = append(invited, id)
	}

	b := models.Bender{
		ID:           store.NewID(),
		CreatorID:    creatorID,
		Title:        title,
		Location:     location,
		StartTime:    now,
		Status:       models.BenderActive,
		InvitedUsers: invited,
		Participants: map[string]models.Participant{
			creatorID: {JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, store.Benders, b.ID, b); err != nil {
		return nil, apperr.StoreError(err)
	}
	s.index(ctx, &b)

	log.WithFields(log.Fields{"bender_id": b.ID, "creator_id": creatorID, "invited": len(invited)}).Info("Bender created")
	return &b, nil
}

// CreateOpenInvite creates a bender inviting every current friend of the creator.
func (s *BenderService) CreateOpenInvite(ctx context.Context, creatorID, title string, location models.Location) (*models.Bender, error) {
	creator, err := s.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, creatorID, title, location, creator.Friends)
}

func (s *BenderService) Get(ctx context.Context, benderID string) (*models.Bender, error) {
	var b models.Bender
	if err := s.store.Get(ctx, store.Benders, benderID, &b); err != nil {
		return nil, storeErr(err, "bender", benderID)
	}
	return &b, nil
}

// ListActiveForUser returns active benders userID is invited to.
func (s *BenderService) ListActiveForUser(ctx context.Context, userID string) ([]models.Bender, error) {
	var benders []models.Bender
	err := s.store.Query(ctx, store.Benders, []store.Filter{
		store.Contains("invitedUsers", userID),
		store.Eq("status", models.BenderActive),
	}, &benders)
	if err != nil {
		return nil, apperr.StoreError(err)
	}
	return benders, nil
}

// activeFor loads the bender and rejects writes to ended benders.
func (s *BenderService) activeFor(ctx context.Context, benderID string) (*models.Bender, error) {
	b, err := s.Get(ctx, benderID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BenderEnded {
		return nil, apperr.ErrBenderEnded
	}
	return b, nil
}

// Join adds userID as a participant. Joining twice keeps the existing record.
func (s *BenderService) Join(ctx context.Context, benderID, userID string) error {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return err
	}
	if !b.IsInvited(userID) {
		return apperr.ErrForbidden.WithDetails("not invited to this bender")
	}
	if _, joined := b.Participants[userID]; joined {
		return nil
	}
	now := s.timestamp()
	err = s.store.Update(ctx, store.Benders, benderID, store.Update{
		"participants." + userID: models.Participant{JoinedAt: now},
		"updatedAt":              now,
	})
	if err != nil {
		return storeErr(err, "bender", benderID)
	}
	log.WithFields(log.Fields{"bender_id": benderID, "user_id": userID}).Info("Joined bender")
	return nil
}

// Leave drops the participant record, beer count included. The creator cannot
// leave; ending the bender is the creator's way out.
func (s *BenderService) Leave(ctx context.Context, benderID, userID string) error {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return err
	}
	if b.CreatorID == userID {
		return apperr.ErrForbidden.WithDetails("the creator cannot leave, end the bender instead")
	}
	if _, joined := b.Participants[userID]; !joined {
		return nil
	}
	err = s.store.Update(ctx, store.Benders, benderID, store.Update{
		"participants." + userID: store.Delete,
		"updatedAt":              s.timestamp(),
	})
	if err != nil {
		return storeErr(err, "bender", benderID)
	}
	log.WithFields(log.Fields{"bender_id": benderID, "user_id": userID}).Info("Left bender")
	return nil
}

// SetBeerCount overwrites the participant's counter, clamping negatives to zero.
func (s *BenderService) SetBeerCount(ctx context.Context, benderID, userID string, count int) (int, error) {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return 0, err
	}
	return s.writeBeerCount(ctx, b, userID, count)
}

func (s *BenderService) IncrementBeerCount(ctx context.Context, benderID, userID string) (int, error) {
	return s.adjustBeerCount(ctx, benderID, userID, 1)
}

func (s *BenderService) DecrementBeerCount(ctx context.Context, benderID, userID string) (int, error) {
	return s.adjustBeerCount(ctx, benderID, userID, -1)
}

func (s *BenderService) adjustBeerCount(ctx context.Context, benderID, userID string, delta int) (int, error) {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return 0, err
	}
	p, ok := b.Participants[userID]
	if !ok {
		return 0, apperr.ErrNotFound.WithDetails("participant %s", userID)
	}
	return s.writeBeerCount(ctx, b, userID, p.BeerCount+delta)
}

func (s *BenderService) writeBeerCount(ctx context.Context, b *models.Bender, userID string, count int) (int, error) {
	if _, ok := b.Participants[userID]; !ok {
		return 0, apperr.ErrNotFound.WithDetails("participant %s", userID)
	}
	if count < 0 {
		count = 0
	}
	err := s.store.Update(ctx, store.Benders, b.ID, store.Update{
		"participants." + userID + ".beerCount": count,
		"updatedAt":                             s.timestamp(),
	})
	if err != nil {
		return 0, storeErr(err, "bender", b.ID)
	}
	return count, nil
}

// SetLocationStatus records whether the participant has checked in at the location.
func (s *BenderService) SetLocationStatus(ctx context.Context, benderID, userID string, atLocation bool) error {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return err
	}
	if _, ok := b.Participants[userID]; !ok {
		return apperr.ErrNotFound.WithDetails("participant %s", userID)
	}
	err = s.store.Update(ctx, store.Benders, benderID, store.Update{
		"participants." + userID + ".isAtLocation": atLocation,
		"updatedAt": s.timestamp(),
	})
	return storeErr(err, "bender", benderID)
}

// UpdateLocation moves the bender. Creator only.
func (s *BenderService) UpdateLocation(ctx context.Context, benderID, callerID string, location models.Location) error {
	b, err := s.activeFor(ctx, benderID)
	if err != nil {
		return err
	}
	if b.CreatorID != callerID {
		return apperr.ErrForbidden.WithDetails("only the creator can move a bender")
	}
	err = s.store.Update(ctx, store.Benders, benderID, store.Update{
		"location":  location,
		"updatedAt": s.timestamp(),
	})
	if err != nil {
		return storeErr(err, "bender", benderID)
	}
	b.Location = location
	s.index(ctx, b)
	return nil
}

// End terminates the bender. Creator only; ending twice is a no-op.
func (s *BenderService) End(ctx context.Context, benderID, callerID string) error {
	b, err := s.Get(ctx, benderID)
	if err != nil {
		return err
	}
	if b.CreatorID != callerID {
		return apperr.ErrForbidden.WithDetails("only the creator can end a bender")
	}
	if b.Status == models.BenderEnded {
		return nil
	}
	now := s.timestamp()
	err = s.store.Update(ctx, store.Benders, benderID, store.Update{
		"status":    models.BenderEnded,
		"endTime":   now,
		"updatedAt": now,
	})
	if err != nil {
		return storeErr(err, "bender", benderID)
	}
	s.unindex(ctx, benderID)
	log.WithField("bender_id", benderID).Info("Bender ended")
	return nil
}

// Nearby returns active benders within radiusKm, closest first. Index entries whose
// bender is gone or ended are pruned as they are found.
func (s *BenderService) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.NearbyBender, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || radiusKm <= 0 {
		return nil, apperr.ErrInvalidInput
	}
	if s.geo == nil {
		return nil, apperr.ErrInternal.WithDetails("geo index not configured")
	}
	hits, err := s.geo.Nearby(ctx, lat, lon, radiusKm)
	if err != nil {
		return nil, apperr.Wrap(err, "REDIS_ERROR", "Failed to search nearby benders", apperr.ErrInternal.Status)
	}

	out := make([]models.NearbyBender, 0, len(hits))
	for _, h := range hits {
		var b models.Bender
		err := s.store.Get(ctx, store.Benders, h.BenderID, &b)
		if errors.Is(err, store.ErrNotFound) {
			s.unindex(ctx, h.BenderID)
			continue
		}
		if err != nil {
			return nil, apperr.StoreError(err)
		}
		if b.Status != models.BenderActive {
			s.unindex(ctx, h.BenderID)
			continue
		}
		out = append(out, models.NearbyBender{Bender: b, DistanceKm: h.DistanceKm})
	}
	return out, nil
}

func (s *BenderService) index(ctx context.Context, b *models.Bender) {
	if s.geo == nil {
		return
	}
	if err := s.geo.IndexBender(ctx, b); err != nil {
		log.WithField("bender_id", b.ID).WithError(err).Warn("Failed to index bender location")
	}
}

func (s *BenderService) unindex(ctx context.Context, benderID string) {
	if s.geo == nil {
		return
	}
	if err := s.geo.RemoveBender(ctx, benderID); err != nil {
		log.WithField("bender_id", benderID).WithError(err).Warn("Failed to remove bender from geo index")
	}
}
