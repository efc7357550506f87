package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var epoch = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func newHMAC(t *testing.T, secret string, ttl time.Duration, now *time.Time) *AccessTokens {
	t.Helper()
	p, err := NewHMACAccessTokens([]byte(secret), "gamehub", ttl)
	if err != nil {
		t.Fatalf("NewHMACAccessTokens: %v", err)
	}
	return p.WithClock(func() time.Time { return *now })
}

func TestAccessTokenRoundTrip(t *testing.T) {
	now := epoch
	p := newHMAC(t, "secret", time.Hour, &now)

	tok, exp, err := p.Issue("user-1", "alice", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(epoch.Add(time.Hour)) {
		t.Errorf("expiry = %v, want %v", exp, epoch.Add(time.Hour))
	}

	claims, err := p.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Username != "alice" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("token should carry a jti")
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	now := epoch
	p := newHMAC(t, "secret", time.Hour, &now)
	tok, _, err := p.Issue("user-1", "alice", "player")
	if err != nil {
		t.Fatal(err)
	}

	now = epoch.Add(59 * time.Minute)
	if _, err := p.Verify(tok); err != nil {
		t.Errorf("Verify before expiry: %v", err)
	}
	now = epoch.Add(61 * time.Minute)
	if _, err := p.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestAccessTokenRejected(t *testing.T) {
	now := epoch
	p := newHMAC(t, "secret", time.Hour, &now)
	other := newHMAC(t, "other-secret", time.Hour, &now)
	foreign, _, err := other.Issue("user-1", "alice", "player")
	if err != nil {
		t.Fatal(err)
	}

	otherIssuer, err := NewHMACAccessTokens([]byte("secret"), "someone-else", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	wrongIss, _, err := otherIssuer.WithClock(func() time.Time { return now }).Issue("user-1", "alice", "player")
	if err != nil {
		t.Fatal(err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "gamehub",
			ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "gamehub"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"empty":          "",
		"malformed":      "abc.def",
		"wrong secret":   foreign,
		"wrong issuer":   wrongIss,
		"alg none":       none,
		"missing expiry": noExp,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := p.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestNewHMACAccessTokensRequiresSecret(t *testing.T) {
	if _, err := NewHMACAccessTokens(nil, "gamehub", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestDefaultAccessTTL(t *testing.T) {
	p, err := NewHMACAccessTokens([]byte("s"), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.TTL() != DefaultAccessTTL {
		t.Errorf("TTL() = %v, want %v", p.TTL(), DefaultAccessTTL)
	}
}

func TestKeyPairAccessTokens(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	for name, signer := range map[string]crypto.Signer{"ecdsa": ecKey, "rsa": rsaKey} {
		t.Run(name, func(t *testing.T) {
			p, err := NewKeyPairAccessTokens(signer, signer.Public(), "gamehub", time.Hour)
			if err != nil {
				t.Fatalf("NewKeyPairAccessTokens: %v", err)
			}
			tok, _, err := p.Issue("user-2", "bob", "player")
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			claims, err := p.Verify(tok)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if claims.UserID() != "user-2" {
				t.Errorf("subject = %q", claims.UserID())
			}
		})
	}
}

func TestParseKeys(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		t.Fatal(err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	signer, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey inline: %v", err)
	}

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "pub.pem")
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0o600); err != nil {
		t.Fatal(err)
	}
	pub, err := ParsePublicKey(pubPath)
	if err != nil {
		t.Fatalf("ParsePublicKey from file: %v", err)
	}

	p, err := NewKeyPairAccessTokens(signer, pub, "gamehub", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err := p.Issue("user-3", "carol", "player")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Verify(tok); err != nil {
		t.Errorf("Verify with parsed keys: %v", err)
	}

	if _, err := ParsePrivateKey("-----BEGIN NOTHING-----\n"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("garbage PEM error = %v, want ErrInvalidKey", err)
	}
	if _, err := ParsePublicKey(strings.Replace(pubPEM, "PUBLIC KEY", "CERTIFICATE", -1)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong block type error = %v, want ErrInvalidKey", err)
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"7d", 7 * 24 * time.Hour, true},
		{"24h", 24 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{" 15m ", 15 * time.Minute, true},
		{"", 0, false},
		{"0d", 0, false},
		{"-1h", 0, false},
		{"xd", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseTTL(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseTTL(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseTTL(%q) = %v; want error", tt.in, got)
		}
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Compare(hash, "correct horse"); err != nil {
		t.Errorf("Compare matching password: %v", err)
	}
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Error("Compare should fail for wrong password")
	}
	if NewHasher(0).Cost != 10 {
		t.Errorf("NewHasher(0).Cost = %d, want bcrypt default", NewHasher(0).Cost)
	}
}
