package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/authpw"
	"ideaforge/api/internal/rbac"
	"ideaforge/api/internal/session"
	"ideaforge/api/internal/store"
)

// Session is what a successful sign-in or refresh hands back to the client.
type Session struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

// Local issues its own JWT access tokens and keeps refresh sessions in the
// configured session store.
type Local struct {
	users      profileStore
	signer     *auth.Signer
	passwords  *authpw.Service
	sessions   session.Store
	refreshTTL time.Duration
	now        func() time.Time
}

func NewLocal(users profileStore, signer *auth.Signer, passwords *authpw.Service, sessions session.Store, refreshTTL time.Duration) *Local {
	return &Local{
		users:      users,
		signer:     signer,
		passwords:  passwords,
		sessions:   sessions,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (l *Local) CurrentUser(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	claims, err := l.signer.Parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &User{ID: claims.Sub, DisplayName: claims.Name, Role: string(rbac.Normalize(claims.Role))}, nil
}

func (l *Local) Profile(ctx context.Context, userID string) (User, error) {
	return loadProfile(ctx, l.users, userID)
}

func (l *Local) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := l.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return l.issue(ctx, fromStore(user))
}

func (l *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := l.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return l.issue(ctx, fromStore(user))
}

// Refresh rotates the refresh token: the presented one is revoked and a new
// pair is issued.
func (l *Local) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, ErrInvalidToken
	}
	hash := auth.HashToken(refreshToken)
	userID, err := l.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := l.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}

	profile, err := l.Profile(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return l.issue(ctx, profile)
}

func (l *Local) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return l.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (l *Local) issue(ctx context.Context, user User) (Session, error) {
	user.Role = string(rbac.Normalize(user.Role))
	access, claims, err := l.signer.Issue(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := l.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, l.now().Add(l.refreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(claims.Exp, 0).UTC(),
		User:         user,
	}, nil
}
