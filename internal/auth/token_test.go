package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	issued, claims, err := signer.Issue("user-1", "Avery", "member")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if claims.JTI == "" {
		t.Fatal("expected a token id")
	}
	parsed, err := signer.Parse(issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Sub != "user-1" || parsed.Name != "Avery" || parsed.Role != "member" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signer := NewSigner("secret", time.Minute)
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	issued, _, err := signer.Issue("user-1", "Avery", "member")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	signer.now = time.Now
	if _, err := signer.Parse(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issued, _, err := NewSigner("secret", time.Hour).Issue("user-1", "Avery", "member")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := NewSigner("other", time.Hour).Parse(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := NewSigner("secret", time.Hour).Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestRefreshTokensAreUniqueAndHashStable(t *testing.T) {
	first, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken() error = %v", err)
	}
	second, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken() error = %v", err)
	}
	if first == second {
		t.Fatal("expected distinct refresh tokens")
	}
	if HashToken(first) != HashToken(first) || HashToken(first) == HashToken(second) {
		t.Fatal("expected stable, distinct hashes")
	}
}
