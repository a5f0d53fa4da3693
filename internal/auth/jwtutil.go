package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload understood by the service.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// DevSecret signs tokens in development when JWT_SECRET is unset.
const DevSecret = "dev-only-secret"

// NewTokens builds a signer/verifier for the shared secret.
func NewTokens(secret, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Sign issues a token for the caller valid for ttl.
func (t *Tokens) Sign(caller Caller, ttl time.Duration) (string, error) {
	if caller.OwnerID == "" {
		return "", errors.New("owner id is required")
	}
	now := t.now()
	roles := make([]string, 0, len(caller.Roles))
	for _, r := range caller.Roles {
		roles = append(roles, string(r))
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.OwnerID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and resolves it to a Caller. Unknown roles are dropped.
func (t *Tokens) Verify(token string) (Caller, error) {
	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Caller{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	caller := Caller{OwnerID: claims.Subject}
	for _, raw := range claims.Roles {
		if r, ok := ParseRole(raw); ok {
			caller.Roles = append(caller.Roles, r)
		}
	}
	if len(caller.Roles) == 0 {
		caller.Roles = []Role{RoleCustomer}
	}
	return caller, nil
}
