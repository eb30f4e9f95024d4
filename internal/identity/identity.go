// Package identity resolves who is making a request. The service layer only
// ever sees the resulting user id; it never reads tokens itself.
package identity

import (
	"context"
	"errors"
	"fmt"

	"ideaforge/api/internal/store"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownUser  = errors.New("unknown user")
)

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role"`
}

// Gateway verifies request credentials. CurrentUser returns a nil user and a
// nil error for an anonymous caller (empty token).
type Gateway interface {
	CurrentUser(ctx context.Context, token string) (*User, error)
	Profile(ctx context.Context, userID string) (User, error)
}

type profileStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

func fromStore(user store.User) User {
	return User{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Role:        user.Role,
	}
}

func loadProfile(ctx context.Context, users profileStore, userID string) (User, error) {
	user, err := users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, fmt.Errorf("load profile: %w", err)
	}
	return fromStore(user), nil
}
