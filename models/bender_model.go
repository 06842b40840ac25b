package models

import (
	"fmt"
	"time"
)

type BenderStatus string

const (
	BenderActive BenderStatus = "active"
	BenderEnded  BenderStatus = "ended"
)

type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Address   string  `json:"address" bson:"address"`
}

type Participant struct {
	JoinedAt     time.Time `json:"joinedAt" bson:"joinedAt"`
	BeerCount    int       `json:"beerCount" bson:"beerCount"`
	IsAtLocation bool      `json:"isAtLocation" bson:"isAtLocation"`
}

// Bender is a location-tagged gathering. Participants is keyed by user id.
type Bender struct {
	ID           string                 `json:"id" bson:"_id"`
	CreatorID    string                 `json:"creatorId" bson:"creatorId"`
	Title        string                 `json:"title" bson:"title"`
	Location     Location               `json:"location" bson:"location"`
	StartTime    time.Time              `json:"startTime" bson:"startTime"`
	EndTime      *time.Time             `json:"endTime,omitempty" bson:"endTime,omitempty"`
	Status       BenderStatus           `json:"status" bson:"status"`
	InvitedUsers []string               `json:"invitedUsers" bson:"invitedUsers"`
	Participants map[string]Participant `json:"participants" bson:"participants"`
	CreatedAt    time.Time              `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt" bson:"updatedAt"`
}

func (b *Bender) Validate() error {
	if b.ID == "" || b.CreatorID == "" {
		return fmt.Errorf("bender: missing id or creator")
	}
	if b.Status != BenderActive && b.Status != BenderEnded {
		return fmt.Errorf("bender %s: unknown status %q", b.ID, b.Status)
	}
	for uid, p := range b.Participants {
		if p.BeerCount < 0 {
			return fmt.Errorf("bender %s: negative beer count for %s", b.ID, uid)
		}
	}
	return nil
}

func (b *Bender) IsInvited(userID string) bool {
	return contains(b.InvitedUsers, userID)
}

// NearbyBender is an active bender returned from a radius search.
type NearbyBender struct {
	Bender
	DistanceKm float64 `json:"distanceKm"`
}
