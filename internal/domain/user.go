package domain

import "time"

type User struct {
	ID            string    `bson:"_id" json:"id" yaml:"id"`
	Username      string    `bson:"username,omitempty" json:"username,omitempty" yaml:"username"`
	Email         string    `bson:"email,omitempty" json:"email,omitempty" yaml:"email"`
	EmailVerified bool      `bson:"email_verified" json:"emailVerified" yaml:"email_verified"`
	Name          string    `bson:"name,omitempty" json:"name,omitempty" yaml:"name"`
	Image         string    `bson:"image,omitempty" json:"image,omitempty" yaml:"image"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt" yaml:"-"`
}

// UserSummary is the part of a User other participants get to see.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Image: u.Image}
}
