package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for every access token verification failure.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token. Permissions are deliberately absent;
// protected handlers re-read the identity.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Principal is the identity an access token is issued for.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

// TokenIssuer issues and verifies short-lived access JWTs using the active key of a Keyring.
// It holds no mutable state and is safe for concurrent use.
type TokenIssuer struct {
	keys      *Keyring
	issuer    string
	audience  string
	accessTTL time.Duration
	leeway    time.Duration
	now       func() time.Time
}

// NewTokenIssuer returns a TokenIssuer. leeway is the clock-skew tolerance applied to exp, nbf and iat.
func NewTokenIssuer(keys *Keyring, issuer, audience string, accessTTL, leeway time.Duration) *TokenIssuer {
	return &TokenIssuer{
		keys:      keys,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		leeway:    leeway,
		now:       time.Now,
	}
}

// IssueAccess signs an access token for the principal. Returns the token and its expiry.
func (p *TokenIssuer) IssueAccess(principal Principal) (token string, expiresAt time.Time, err error) {
	if principal.UserID == "" {
		return "", time.Time{}, errors.New("issue access token: empty subject")
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principal.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: principal.Email,
		Role:  principal.Role,
	}
	key := p.keys.Active()
	t := jwt.NewWithClaims(key.Method, claims)
	t.Header["kid"] = key.ID
	token, err = t.SignedString(key.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyAccess parses and validates the access token (kid, alg, signature, exp, nbf, iss, aud).
// Every failure is reported as ErrInvalidToken.
func (p *TokenIssuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc,
		jwt.WithLeeway(p.leeway),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenIssuer) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	key, err := p.keys.Lookup(kid)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if token.Method.Alg() != key.Method.Alg() {
		return nil, ErrInvalidToken
	}
	return key.verifyKey, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
