// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxNicknameLen = 64

var ErrNicknameTooLong = errors.New("nickname too long")

// UserID is the connection id of the user's transport session.
type UserID string

type User struct {
	ID       UserID `json:"id"`
	Nickname string `json:"nickname"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// Nicknames are free-form labels; only the length is bounded.
func NewUser(id UserID, nickname string) (*User, error) {
	if len(nickname) > MaxNicknameLen {
		return nil, ErrNicknameTooLong
	}
	return &User{ID: id, Nickname: nickname}, nil
}

// Departure is the payload announced to a room when a user leaves it.
type Departure struct {
	UserID   UserID `json:"userId"`
	Nickname string `json:"nickname"`
}

func (u User) Departure() Departure {
	return Departure{UserID: u.ID, Nickname: u.Nickname}
}
