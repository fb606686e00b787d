// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

type User struct {
	ID UserID `json:"userId"`
}

// ParseUserID validates an id taken from the wire or the command line.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// NewUserID is used when a participant does not bring its own id.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// Less is the glare tie-break order: the smaller id keeps its offer.
func (u UserID) Less(other UserID) bool { return u < other }
