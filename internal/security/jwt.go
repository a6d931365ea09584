package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenRole string

const (
	AccessToken  TokenRole = "access"
	RefreshToken TokenRole = "refresh"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

type Claims struct {
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// JWTManager mints and verifies HS256 tokens. Access and refresh tokens are
// signed with separate keys so one can never be presented as the other.
type JWTManager struct {
	issuer     string
	audience   string
	accessKey  []byte
	refreshKey []byte
	now        func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:     issuer,
		audience:   audience,
		accessKey:  []byte(accessSecret),
		refreshKey: []byte(refreshSecret),
		now:        time.Now,
	}
}

// WithClock returns a copy of the manager that reads time from now.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *JWTManager) Mint(role TokenRole, subject string, ttl time.Duration) (string, time.Time, error) {
	key, err := m.key(role)
	if err != nil {
		return "", time.Time{}, err
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("mint %s token: empty subject", role)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("mint %s token: non-positive ttl", role)
	}
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenUse: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", role, err)
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) SignAccessToken(subject string, ttl time.Duration) (string, error) {
	token, _, err := m.Mint(AccessToken, subject, ttl)
	return token, err
}

func (m *JWTManager) SignRefreshToken(subject string, ttl time.Duration) (string, error) {
	token, _, err := m.Mint(RefreshToken, subject, ttl)
	return token, err
}

// Verify checks signature, expiry, issuer, audience and token use. Every
// failure maps to ErrTokenMalformed, ErrTokenSignature or ErrTokenExpired.
func (m *JWTManager) Verify(raw string, role TokenRole) (*Claims, error) {
	key, err := m.key(role)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenMalformed
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid || claims.TokenUse != string(role) || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.Verify(raw, AccessToken)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.Verify(raw, RefreshToken)
}

func (m *JWTManager) key(role TokenRole) ([]byte, error) {
	switch role {
	case AccessToken:
		return m.accessKey, nil
	case RefreshToken:
		return m.refreshKey, nil
	default:
		return nil, fmt.Errorf("unknown token role %q", role)
	}
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}
