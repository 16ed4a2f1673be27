package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// VerifyErrorKind classifies a token verification failure
type VerifyErrorKind string

const (
	// VerifyExpired means the token was well formed and signed but past its expiry
	VerifyExpired VerifyErrorKind = "expired"
	// VerifyMalformed covers bad structure, bad signature, and wrong algorithm
	VerifyMalformed VerifyErrorKind = "malformed"
	// VerifyUnknown is any other verification failure
	VerifyUnknown VerifyErrorKind = "unknown"
)

// VerifyError is returned by TokenVerifier.Verify
type VerifyError struct {
	Kind VerifyErrorKind
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Penalize reports whether the failure should count against the client's
// connection attempt budget. Expired tokens are not abuse.
func (e *VerifyError) Penalize() bool {
	return e.Kind != VerifyExpired
}

// TokenVerifier validates HS256 bearer tokens
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenVerifier creates a verifier. issuer may be empty to skip the issuer check.
func NewTokenVerifier(secret, issuer string, leeway time.Duration) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (v *TokenVerifier) SetClock(now func() time.Time) {
	v.now = now
}

// Verify parses credential and returns its claims
func (v *TokenVerifier) Verify(credential string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, &VerifyError{Kind: VerifyUnknown, Err: errors.New("token not valid")}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &VerifyError{Kind: VerifyUnknown, Err: errors.New("subject missing")}
	}
	return claims, nil
}

func classify(err error) *VerifyError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerifyError{Kind: VerifyExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &VerifyError{Kind: VerifyMalformed, Err: err}
	default:
		return &VerifyError{Kind: VerifyUnknown, Err: err}
	}
}

// Issue signs a token for subject. Used by the token CLI and tests.
func (v *TokenVerifier) Issue(subject, email string, role Role, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}

	now := v.now().UTC()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
