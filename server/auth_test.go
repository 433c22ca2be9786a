package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "my-test-secret"
	token, err := signToken(secret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	subject, err := verifyJWT(secret, token)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if subject != "alice" {
		t.Errorf("subject = %q, want alice", subject)
	}
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	token, _ := signToken("secret-a", "alice", time.Hour)
	if _, err := verifyJWT("secret-b", token); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func TestVerifyJWT_Expired(t *testing.T) {
	token, _ := signToken("secret", "alice", -time.Hour)
	if _, err := verifyJWT("secret", token); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("expired token err = %v", err)
	}
}

func TestVerifyJWT_Malformed(t *testing.T) {
	for _, token := range []string{"", "a.b", "a.b.c.d"} {
		if _, err := verifyJWT("secret", token); err == nil {
			t.Errorf("malformed token %q verified", token)
		}
	}
}

func TestVerifyJWT_TamperedPayload(t *testing.T) {
	token, _ := signToken("secret", "alice", time.Hour)
	parts := strings.Split(token, ".")
	other, _ := signToken("secret", "mallory", time.Hour)
	swapped := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]
	if _, err := verifyJWT("secret", swapped); err == nil {
		t.Error("token with swapped payload verified")
	}
}

func TestVerifyJWT_WrongIssuer(t *testing.T) {
	// A correctly signed HS256 token from some other service must not pass.
	secret := "secret"
	exp := time.Now().Add(time.Hour).Unix()
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"sub":"alice","iss":"other-service","exp":` + strconv.FormatInt(exp, 10) + `}`))
	enc := tokenHeader + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(enc))
	token := enc + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if _, err := verifyJWT(secret, token); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Errorf("foreign-issuer token err = %v", err)
	}
}

func TestJWTSecret_GeneratedOnce(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Auth.JWTSecret = ""
	first := s.jwtSecret()
	if first == "" {
		t.Fatal("generated secret is empty")
	}
	if second := s.jwtSecret(); second != first {
		t.Error("generated secret changed between calls")
	}
}
