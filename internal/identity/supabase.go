package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
	"ideaforge/api/internal/store"
)

type supabaseAccount struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// verifyFunc exchanges a Supabase access token for the account it belongs to.
type verifyFunc func(token string) (supabaseAccount, error)

type mirrorStore interface {
	profileStore
	UpsertUser(ctx context.Context, user store.User) error
}

// Supabase trusts access tokens minted by a Supabase project and mirrors the
// account into the users table so comments and ownership can reference it.
type Supabase struct {
	verify verifyFunc
	users  mirrorStore
}

func NewSupabase(url, serviceRoleKey string, users mirrorStore) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	verify := func(token string) (supabaseAccount, error) {
		user, err := client.Auth.WithToken(token).GetUser()
		if err != nil {
			return supabaseAccount{}, err
		}
		return supabaseAccount{ID: user.ID.String(), Email: user.Email, Metadata: user.UserMetadata}, nil
	}
	return &Supabase{verify: verify, users: users}, nil
}

func (s *Supabase) CurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	account, err := s.verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	role := "member"
	if existing, err := s.users.GetUserByID(ctx, account.ID); err == nil && existing.Role != "" {
		role = existing.Role
	}
	user := store.User{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: displayName(account),
		AvatarURL:   metadataString(account.Metadata, "avatar_url"),
		Role:        role,
	}
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("mirror supabase user: %w", err)
	}
	out := fromStore(user)
	return &out, nil
}

func (s *Supabase) Profile(ctx context.Context, userID string) (User, error) {
	return loadProfile(ctx, s.users, userID)
}

func displayName(account supabaseAccount) string {
	for _, key := range []string{"full_name", "name", "user_name"} {
		if value := metadataString(account.Metadata, key); value != "" {
			return value
		}
	}
	if name, _, ok := strings.Cut(account.Email, "@"); ok && name != "" {
		return name
	}
	return "anonymous"
}

func metadataString(metadata map[string]any, key string) string {
	value, ok := metadata[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
