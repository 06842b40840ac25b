package models

import (
	"fmt"
	"time"
)

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

// FriendRequest is a directed proposal. FromUserName and FromUserEmail are a snapshot
// of the sender taken when the request was sent.
type FriendRequest struct {
	ID            string              `json:"id" bson:"_id"`
	FromUserID    string              `json:"fromUserId" bson:"fromUserId"`
	ToUserID      string              `json:"toUserId" bson:"toUserId"`
	FromUserName  string              `json:"fromUserName" bson:"fromUserName"`
	FromUserEmail string              `json:"fromUserEmail" bson:"fromUserEmail"`
	Status        FriendRequestStatus `json:"status" bson:"status"`
	CreatedAt     time.Time           `json:"createdAt" bson:"createdAt"`
}

func (r *FriendRequest) Validate() error {
	if r.ID == "" || r.FromUserID == "" || r.ToUserID == "" {
		return fmt.Errorf("friend request: missing id or party")
	}
	switch r.Status {
	case FriendRequestPending, FriendRequestAccepted, FriendRequestRejected:
		return nil
	}
	return fmt.Errorf("friend request %s: unknown status %q", r.ID, r.Status)
}
