package services

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"benders-server/models"
	"benders-server/store"
	apperr "benders-server/utils/errors"
)

// ReconcileReport lists what a reconciliation sweep changed.
type ReconcileReport struct {
	Restored []string `json:"restored"`
	Dropped  []string `json:"dropped"`
	Dangling []string `json:"dangling"`
	Accepted []string `json:"accepted"`
}

// ReconcileFriendships repairs one-directional friendships around userID.
//
// For a friend F that does not list the user back: a pending request between the two
// means an accept was interrupted, so F's side is completed unless either has blocked
// the other. Otherwise the friendship was being dissolved and F is dropped from the
// user's list. Pending requests between users who are now mutual friends are marked
// accepted. Friend ids without a user document are reported and left in place.
func (s *FriendService) ReconcileFriendships(ctx context.Context, userID string) (*ReconcileReport, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Restored: []string{}, Dropped: []string{}, Dangling: []string{}, Accepted: []string{}}
	mutual := make(map[string]bool, len(user.Friends))

	for _, friendID := range user.Friends {
		var friend models.User
		err := s.store.Get(ctx, store.Users, friendID, &friend)
		if errors.Is(err, store.ErrNotFound) {
			reportDangling(userID, "friends", friendID)
			report.Dangling = append(report.Dangling, friendID)
			continue
		}
		if err != nil {
			return nil, apperr.StoreError(err)
		}
		if friend.IsFriend(userID) {
			mutual[friendID] = true
			continue
		}

		inFlight, err := s.hasPendingBetween(ctx, userID, friendID)
		if err != nil {
			return nil, err
		}
		blocked := user.HasBlocked(friendID) || friend.HasBlocked(userID)
		if inFlight && !blocked {
			if err := s.store.Update(ctx, store.Users, friendID, store.Update{"friends": store.ArrayUnion(userID)}); err != nil {
				return nil, storeErr(err, "user", friendID)
			}
			mutual[friendID] = true
			report.Restored = append(report.Restored, friendID)
			continue
		}
		if err := s.store.Update(ctx, store.Users, userID, store.Update{"friends": store.ArrayRemove(friendID)}); err != nil {
			return nil, storeErr(err, "user", userID)
		}
		report.Dropped = append(report.Dropped, friendID)
	}

	for _, field := range []string{"fromUserId", "toUserId"} {
		var reqs []models.FriendRequest
		err := s.store.Query(ctx, store.FriendRequests, []store.Filter{
			store.Eq(field, userID),
			store.Eq("status", models.FriendRequestPending),
		}, &reqs)
		if err != nil {
			return nil, apperr.StoreError(err)
		}
		for _, req := range reqs {
			other := req.ToUserID
			if other == userID {
				other = req.FromUserID
			}
			if !mutual[other] {
				continue
			}
			if err := s.store.Update(ctx, store.FriendRequests, req.ID, store.Update{"status": models.FriendRequestAccepted}); err != nil {
				return nil, storeErr(err, "friend request", req.ID)
			}
			report.Accepted = append(report.Accepted, req.ID)
		}
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"restored": len(report.Restored),
		"dropped":  len(report.Dropped),
		"dangling": len(report.Dangling),
		"accepted": len(report.Accepted),
	}).Info("Friendships reconciled")
	return report, nil
}

func (s *FriendService) hasPendingBetween(ctx context.Context, a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		reqs, err := s.requestsBetween(ctx, pair[0], pair[1], models.FriendRequestPending)
		if err != nil {
			return false, err
		}
		if len(reqs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
