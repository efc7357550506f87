package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTTL is the access token lifetime used when none is configured.
const DefaultAccessTTL = 24 * time.Hour

// Claims is the self-contained claim set carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// AccessTokens issues and verifies signed access tokens. It signs with HS256
// when built from a shared secret and with RS256/ES256 when built from a key pair.
type AccessTokens struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewHMACAccessTokens returns AccessTokens signing with HS256 and the given secret.
func NewHMACAccessTokens(secret []byte, issuer string, ttl time.Duration) (*AccessTokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	return newAccessTokens(jwt.SigningMethodHS256, secret, secret, issuer, ttl), nil
}

// NewKeyPairAccessTokens returns AccessTokens signing with the private key
// (RS256 for RSA, ES256 for ECDSA P-256) and verifying with pub.
func NewKeyPairAccessTokens(signer crypto.Signer, pub crypto.PublicKey, issuer string, ttl time.Duration) (*AccessTokens, error) {
	var method jwt.SigningMethod
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	return newAccessTokens(method, signer, pub, issuer, ttl), nil
}

func newAccessTokens(method jwt.SigningMethod, signKey, verifyKey any, issuer string, ttl time.Duration) *AccessTokens {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &AccessTokens{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock returns a copy of p that reads the current time from now.
func (p *AccessTokens) WithClock(now func() time.Time) *AccessTokens {
	cp := *p
	cp.now = now
	return &cp
}

// TTL returns the configured access token lifetime.
func (p *AccessTokens) TTL() time.Duration {
	return p.ttl
}

// Issue signs an access token for the user. Returns the token and its expiry.
func (p *AccessTokens) Issue(userID, username, role string) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		Role:     role,
	}
	token, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks the signature, algorithm and issuer of token, then its expiry.
// It returns ErrTokenExpired for an otherwise valid but expired token and
// ErrTokenInvalid for anything else.
func (p *AccessTokens) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
