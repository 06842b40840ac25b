package models

import (
	"fmt"
	"time"
)

type User struct {
	ID             string    `json:"id" bson:"_id"`
	Email          string    `json:"email" bson:"email"`
	DisplayName    string    `json:"displayName" bson:"displayName"`
	Username       string    `json:"username" bson:"username"`
	Bio            string    `json:"bio,omitempty" bson:"bio,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty" bson:"profilePicture,omitempty"`
	FCMToken       string    `json:"-" bson:"fcmToken,omitempty"`
	Friends        []string  `json:"friends" bson:"friends"`
	BlockedUsers   []string  `json:"blockedUsers,omitempty" bson:"blockedUsers,omitempty"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
}

// PublicProfile is what other users see of a user.
type PublicProfile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	Bio            string `json:"bio,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		Bio:            u.Bio,
		ProfilePicture: u.ProfilePicture,
	}
}

func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user: missing id")
	}
	if u.Username == "" {
		return fmt.Errorf("user %s: missing username", u.ID)
	}
	return nil
}

func (u *User) IsFriend(id string) bool {
	return contains(u.Friends, id)
}

func (u *User) HasBlocked(id string) bool {
	return contains(u.BlockedUsers, id)
}

// Account holds the identity-provider side of a user: login email and password hash.
type Account struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func (a *Account) Validate() error {
	if a.ID == "" || a.Email == "" || a.PasswordHash == "" {
		return fmt.Errorf("account: incomplete document")
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
