package auth

import (
	"testing"
	"time"
)

func TestSocketToken_RoundTrip(t *testing.T) {
	token, err := GenerateSocketToken("42", "alice", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSocketToken() error = %v", err)
	}

	claims, err := ParseSocketToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseSocketToken() error = %v", err)
	}
	if claims.UserID != "42" {
		t.Errorf("UserID = %v, want 42", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %v, want alice", claims.Username)
	}
}

func TestParseSocketToken_WrongSecret(t *testing.T) {
	token, err := GenerateSocketToken("42", "alice", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSocketToken() error = %v", err)
	}

	if _, err := ParseSocketToken(token, "other-secret"); err == nil {
		t.Error("ParseSocketToken() with wrong secret should fail")
	}
}

func TestParseSocketToken_Expired(t *testing.T) {
	token, err := GenerateSocketToken("42", "alice", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateSocketToken() error = %v", err)
	}

	if _, err := ParseSocketToken(token, "secret"); err == nil {
		t.Error("ParseSocketToken() with expired token should fail")
	}
}

func TestParseSocketToken_MissingUserID(t *testing.T) {
	token, err := GenerateSocketToken("", "alice", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSocketToken() error = %v", err)
	}

	if _, err := ParseSocketToken(token, "secret"); err == nil {
		t.Error("ParseSocketToken() without user id should fail")
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name  string
		authz string
		query string
		want  string
	}{
		{"query wins", "Bearer abc", "xyz", "xyz"},
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase bearer", "bearer abc", "", "abc"},
		{"no token", "", "", ""},
		{"malformed header", "Token abc", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BearerToken(tc.authz, tc.query); got != tc.want {
				t.Errorf("BearerToken(%q, %q) = %q, want %q", tc.authz, tc.query, got, tc.want)
			}
		})
	}
}
