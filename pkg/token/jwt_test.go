package token

import (
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 2)
	tok, err := m.GenerateToken(7, "alice", "user")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := m.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := NewJWTManager("other", 2).VerifyToken(tok); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestExpiresAt(t *testing.T) {
	m := NewJWTManager("secret", 3)
	tok, err := m.GenerateToken(1, "bob", "user")
	if err != nil {
		t.Fatal(err)
	}
	exp, ok := ExpiresAt(tok)
	if !ok {
		t.Fatal("expected exp claim")
	}
	if d := time.Until(exp); d < 2*time.Hour || d > 3*time.Hour+time.Minute {
		t.Fatalf("exp out of range: %v", d)
	}

	if _, ok := ExpiresAt("not-a-jwt"); ok {
		t.Fatal("opaque token must not report an expiry")
	}
}
