package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"ideaforge/api/internal/store"
)

func newTestService() (*Service, *store.MemoryStore) {
	users := store.NewMemoryStore()
	svc := NewService(users)
	svc.cost = bcrypt.MinCost
	return svc, users
}

func TestSignUpCreatesMember(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{Email: " Avery@Example.com ", Password: "password123", DisplayName: "Avery"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if !strings.HasPrefix(user.ID, "user_") {
		t.Fatalf("expected prefixed id, got %q", user.ID)
	}
	if user.Role != "member" {
		t.Fatalf("expected member role, got %q", user.Role)
	}
	if user.PasswordHash == "password123" {
		t.Fatal("password stored in plain text")
	}

	stored, err := users.GetUserByEmail(ctx, "avery@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if stored.ID != user.ID {
		t.Fatalf("stored id = %q, want %q", stored.ID, user.ID)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  SignUpRequest
		want error
	}{
		{name: "missing name", req: SignUpRequest{Email: "a@example.com", Password: "password123"}, want: ErrMissingFields},
		{name: "bad email", req: SignUpRequest{Email: "not-an-email", Password: "password123", DisplayName: "A"}, want: ErrInvalidEmail},
		{name: "short password", req: SignUpRequest{Email: "a@example.com", Password: "short", DisplayName: "A"}, want: ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("SignUp() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	req := SignUpRequest{Email: "dup@example.com", Password: "password123", DisplayName: "Dup"}

	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	req.Email = "DUP@example.com"
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	created, err := svc.SignUp(ctx, SignUpRequest{Email: "sam@example.com", Password: "password123", DisplayName: "Sam"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	user, err := svc.SignIn(ctx, "sam@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("SignIn() user = %q, want %q", user.ID, created.ID)
	}

	if _, err := svc.SignIn(ctx, "sam@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
