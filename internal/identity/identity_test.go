package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticPreferencesDefaultEnabled(t *testing.T) {
	s := NewStatic("alice")
	if !s.ReadReceiptsEnabled("bob") || !s.TypingIndicatorsEnabled("bob") {
		t.Fatal("preferences should default to enabled")
	}
	s.SetReadReceipts("bob", false)
	s.SetTypingIndicators("bob", false)
	if s.ReadReceiptsEnabled("bob") || s.TypingIndicatorsEnabled("bob") {
		t.Fatal("disabled preferences should stick")
	}
	if !s.ReadReceiptsEnabled("carol") {
		t.Fatal("other users keep the default")
	}
}

func TestParseBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer tok", "tok", true},
		{"empty", "", "", false},
		{"wrong scheme", "Basic dXNlcg==", "", false},
		{"no token", "Bearer", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBearerToken(tc.header)
			if tc.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%v", err, tc.ok)
			}
			if tc.ok && got != tc.want {
				t.Fatalf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func signToken(t *testing.T, secret, userUUID string, exp time.Time) string {
	t.Helper()
	claims := &Claims{
		UserUUID:         userUUID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestParseAndValidateToken(t *testing.T) {
	const secret = "test-secret"
	valid := signToken(t, secret, "user-1", time.Now().Add(time.Hour))

	claims, err := ParseAndValidateToken(secret, valid)
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if claims.UserUUID != "user-1" {
		t.Fatalf("user = %q, want user-1", claims.UserUUID)
	}

	if _, err := ParseAndValidateToken("wrong-secret", valid); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	expired := signToken(t, secret, "user-1", time.Now().Add(-time.Hour))
	if _, err := ParseAndValidateToken(secret, expired); err == nil {
		t.Fatal("expired token accepted")
	}
}
