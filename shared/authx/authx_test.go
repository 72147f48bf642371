package authx

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestPrincipalFromClaims(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":           "user-1",
		"email":         "a@example.com",
		"role":          "manager",
		"permissions":   []any{"ai:invoke", "analytics:read", "ai:invoke"},
		"sid":           "sess-9",
		"token_version": float64(3),
	}
	p, err := PrincipalFromClaims(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != "MANAGER" {
		t.Fatalf("expected role MANAGER, got %q", p.Role)
	}
	if len(p.Permissions) != 2 {
		t.Fatalf("expected deduped permissions, got %v", p.Permissions)
	}
	if p.TokenVersion != 3 {
		t.Fatalf("expected token version 3, got %d", p.TokenVersion)
	}
}

func TestPrincipalFromClaimsMissingSubject(t *testing.T) {
	if _, err := PrincipalFromClaims(jwt.MapClaims{"email": "a@example.com"}); err == nil {
		t.Fatalf("expected error for missing subject")
	}
}

func TestHasPermissions(t *testing.T) {
	p := Principal{Permissions: []string{"ai:invoke", "analytics:read"}}
	if !p.HasPermissions([]string{"ai:invoke"}) {
		t.Fatalf("expected subset check to pass")
	}
	if p.HasPermissions([]string{"ai:invoke", "admin:write"}) {
		t.Fatalf("expected superset check to fail")
	}
	if !p.HasPermissions(nil) {
		t.Fatalf("empty requirement must pass")
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
}
