package services

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"benders-server/metrics"
	"benders-server/models"
	"benders-server/store"
	apperr "benders-server/utils/errors"
)

// FriendService maintains friend and block lists and the friend-request workflow.
// Operations touching two user documents are ordered writes without a cross-document
// transaction; ReconcileFriendships repairs what a partial failure leaves behind.
type FriendService struct {
	store store.Store
	users *UserService
	now   func() time.Time
}

func NewFriendService(st store.Store, users *UserService) *FriendService {
	return &FriendService{store: st, users: users, now: time.Now}
}

func (s *FriendService) SearchByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.users.SearchByUsername(ctx, username)
}

// SendFriendRequest checks, in order: no pending request for the pair, not already
// friends, and no block in either direction. The check and the insert are separate
// round trips; the partial unique index on pending requests closes the race.
func (s *FriendService) SendFriendRequest(ctx context.Context, fromUserID, toUserID string) (*models.FriendRequest, error) {
	toUserID = strings.TrimSpace(toUserID)
	if fromUserID == "" || toUserID == "" || fromUserID == toUserID {
		return nil, apperr.ErrInvalidInput.WithDetails("cannot send a friend request to yourself")
	}
	from, err := s.users.GetUser(ctx, fromUserID)
	if err != nil {
		return nil, err
	}
	to, err := s.users.GetUser(ctx, toUserID)
	if err != nil {
		return nil, err
	}

	pending, err := s.requestsBetween(ctx, fromUserID, toUserID, models.FriendRequestPending)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		metrics.RecordFriendRequest("duplicate")
		return nil, apperr.ErrDuplicateRequest
	}
	if from.IsFriend(toUserID) {
		metrics.RecordFriendRequest("already_friends")
		return nil, apperr.ErrAlreadyFriends
	}
	if from.HasBlocked(toUserID) || to.HasBlocked(fromUserID) {
		metrics.RecordFriendRequest("blocked")
		return nil, apperr.ErrBlocked
	}

	req := models.FriendRequest{
		ID:            store.NewID(),
		FromUserID:    fromUserID,
		ToUserID:      toUserID,
		FromUserName:  from.DisplayName,
		FromUserEmail: from.Email,
		Status:        models.FriendRequestPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, store.FriendRequests, req.ID, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.RecordFriendRequest("duplicate")
			return nil, apperr.ErrDuplicateRequest
		}
		return nil, apperr.StoreError(err)
	}

	metrics.RecordFriendRequest("sent")
	log.WithFields(log.Fields{"request_id": req.ID, "from": fromUserID, "to": toUserID}).Info("Friend request sent")
	return &req, nil
}

// GetPendingRequests lists requests awaiting userID's answer.
func (s *FriendService) GetPendingRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	err := s.store.Query(ctx, store.FriendRequests, []store.Filter{
		store.Eq("toUserId", userID),
		store.Eq("status", models.FriendRequestPending),
	}, &reqs)
	if err != nil {
		return nil, apperr.StoreError(err)
	}
	return reqs, nil
}

func (s *FriendService) getRequest(ctx context.Context, requestID string) (*models.FriendRequest, error) {
	var req models.FriendRequest
	if err := s.store.Get(ctx, store.FriendRequests, requestID, &req); err != nil {
		return nil, storeErr(err, "friend request", requestID)
	}
	return &req, nil
}

// AcceptFriendRequest adds each party to the other's friends, then marks the request
// accepted. An already accepted request is a no-op: the friendship may have been
// removed or blocked since, and only ReconcileFriendships repairs an interrupted accept.
func (s *FriendService) AcceptFriendRequest(ctx context.Context, requestID, acceptingUserID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUserID != acceptingUserID {
		return apperr.ErrForbidden.WithDetails("only the recipient can accept a friend request")
	}
	switch req.Status {
	case models.FriendRequestRejected:
		return apperr.ErrInvalidTransition
	case models.FriendRequestAccepted:
		return nil
	}

	from, err := s.users.GetUser(ctx, req.FromUserID)
	if err != nil {
		return err
	}
	to, err := s.users.GetUser(ctx, req.ToUserID)
	if err != nil {
		return err
	}
	if from.HasBlocked(to.ID) || to.HasBlocked(from.ID) {
		metrics.RecordFriendRequest("blocked")
		return apperr.ErrBlocked
	}

	logger := log.WithFields(log.Fields{"request_id": req.ID, "from": req.FromUserID, "to": req.ToUserID})
	if err := s.store.Update(ctx, store.Users, req.FromUserID, store.Update{"friends": store.ArrayUnion(req.ToUserID)}); err != nil {
		logger.WithError(err).Error("Accept failed before any friend write")
		return storeErr(err, "user", req.FromUserID)
	}
	if err := s.store.Update(ctx, store.Users, req.ToUserID, store.Update{"friends": store.ArrayUnion(req.FromUserID)}); err != nil {
		logger.WithError(err).Error("Accept left a one-directional friendship")
		return storeErr(err, "user", req.ToUserID)
	}
	if err := s.store.Update(ctx, store.FriendRequests, req.ID, store.Update{"status": models.FriendRequestAccepted}); err != nil {
		logger.WithError(err).Error("Accept applied friendship but request is still pending")
		return storeErr(err, "friend request", req.ID)
	}

	metrics.RecordFriendRequest("accepted")
	logger.Info("Friend request accepted")
	return nil
}

// RejectFriendRequest is idempotent for already rejected requests. An accepted
// request cannot be rejected.
func (s *FriendService) RejectFriendRequest(ctx context.Context, requestID, rejectingUserID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUserID != rejectingUserID {
		return apperr.ErrForbidden.WithDetails("only the recipient can reject a friend request")
	}
	switch req.Status {
	case models.FriendRequestAccepted:
		return apperr.ErrInvalidTransition
	case models.FriendRequestRejected:
		return nil
	}
	if err := s.store.Update(ctx, store.FriendRequests, requestID, store.Update{"status": models.FriendRequestRejected}); err != nil {
		return storeErr(err, "friend request", requestID)
	}
	metrics.RecordFriendRequest("rejected")
	log.WithField("request_id", requestID).Info("Friend request rejected")
	return nil
}

// GetFriends returns the user's friends; ids without a user document are skipped.
func (s *FriendService) GetFriends(ctx context.Context, userID string) ([]models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.fetchUsers(ctx, user.Friends, userID, "friends")
}

// RemoveFriend removes the friendship in both directions.
func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return apperr.ErrInvalidInput
	}
	if err := s.store.Update(ctx, store.Users, userID, store.Update{"friends": store.ArrayRemove(friendID)}); err != nil {
		return storeErr(err, "user", userID)
	}
	if err := s.dropBackReference(ctx, friendID, userID); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "friend_id": friendID}).WithError(err).
			Error("Remove left a one-directional friendship")
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "friend_id": friendID}).Info("Friend removed")
	return nil
}

// BlockUser adds targetID to userID's block list and dissolves any friendship.
func (s *FriendService) BlockUser(ctx context.Context, userID, targetID string) error {
	if userID == targetID {
		return apperr.ErrInvalidInput.WithDetails("cannot block yourself")
	}
	err := s.store.Update(ctx, store.Users, userID, store.Update{
		"blockedUsers": store.ArrayUnion(targetID),
		"friends":      store.ArrayRemove(targetID),
	})
	if err != nil {
		return storeErr(err, "user", userID)
	}
	if err := s.dropBackReference(ctx, targetID, userID); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "target_id": targetID}).WithError(err).
			Error("Block left target's friendship in place")
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "target_id": targetID}).Info("User blocked")
	return nil
}

// UnblockUser does not restore a previous friendship.
func (s *FriendService) UnblockUser(ctx context.Context, userID, targetID string) error {
	if err := s.store.Update(ctx, store.Users, userID, store.Update{"blockedUsers": store.ArrayRemove(targetID)}); err != nil {
		return storeErr(err, "user", userID)
	}
	log.WithFields(log.Fields{"user_id": userID, "target_id": targetID}).Info("User unblocked")
	return nil
}

func (s *FriendService) GetBlockedUsers(ctx context.Context, userID string) ([]models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.fetchUsers(ctx, user.BlockedUsers, userID, "blockedUsers")
}

// dropBackReference removes userID from ownerID's friends. A missing owner document
// is a dangling reference, not an error.
func (s *FriendService) dropBackReference(ctx context.Context, ownerID, userID string) error {
	err := s.store.Update(ctx, store.Users, ownerID, store.Update{"friends": store.ArrayRemove(userID)})
	if errors.Is(err, store.ErrNotFound) {
		reportDangling(userID, "friends", ownerID)
		return nil
	}
	if err != nil {
		return apperr.StoreError(err)
	}
	return nil
}

// requestsBetween returns requests from -> to with the given status.
func (s *FriendService) requestsBetween(ctx context.Context, fromID, toID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	err := s.store.Query(ctx, store.FriendRequests, []store.Filter{
		store.Eq("fromUserId", fromID),
		store.Eq("toUserId", toID),
		store.Eq("status", status),
	}, &reqs)
	if err != nil {
		return nil, apperr.StoreError(err)
	}
	return reqs, nil
}
