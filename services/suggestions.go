package services

import (
	"context"
	"sort"

	"benders-server/models"
)

const maxSuggestions = 10

// GetFriendSuggestions ranks friends-of-friends by the number of mutual friends.
// Recomputed on every call from one fan-out read per friend.
func (s *FriendService) GetFriendSuggestions(ctx context.Context, userID string) ([]models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.Friends) == 0 {
		return []models.User{}, nil
	}

	friends, err := s.users.fetchUsers(ctx, user.Friends, userID, "friends")
	if err != nil {
		return nil, err
	}
	ids := rankSuggestions(user, friends, maxSuggestions)
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	return s.users.fetchUsers(ctx, ids, userID, "suggestions")
}

// rankSuggestions counts how many of friends list each candidate, excluding the user,
// existing friends and blocked users. Ties keep first-seen order.
func rankSuggestions(user *models.User, friends []models.User, limit int) []string {
	excluded := make(map[string]struct{}, len(user.Friends)+len(user.BlockedUsers)+1)
	excluded[user.ID] = struct{}{}
	for _, id := range user.Friends {
		excluded[id] = struct{}{}
	}
	for _, id := range user.BlockedUsers {
		excluded[id] = struct{}{}
	}

	counts := make(map[string]int)
	var order []string
	for _, f := range friends {
		for _, candidate := range f.Friends {
			if _, skip := excluded[candidate]; skip {
				continue
			}
			if counts[candidate] == 0 {
				order = append(order, candidate)
			}
			counts[candidate]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
