package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/models"
)

// Token kinds carried in the 'typ' claim. The same signing key mints both,
// so the kind must be read from the claim, never assumed from caller context
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims carried by both access and refresh tokens.
// Subject is the member id, stringified
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
}

// MemberID parses the subject claim back to a member id
func (c Claims) MemberID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad subject claim %q: %w", c.Subject, apperrors.ErrTokenInvalid)
	}
	return id, nil
}

// Token manager with sensible defaults
type Config struct {
	// Base64-encoded secret to derive the signing key from
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Manager struct {
	// Signing key decoded from the configured secret
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	key, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key must be base64-encoded. Err: %w", err)
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &Manager{
		key:        key,
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Issue signs a token of the given kind with the given validity window
func (m *Manager) Issue(memberID int64, role string, tokenType string, ttl time.Duration) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(
		m.alg,
		Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   strconv.FormatInt(memberID, 10),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Role:      role,
			TokenType: tokenType,
		},
	)

	signed, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", tokenType, err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// IssuePair mints an access and a refresh token with their configured windows
func (m *Manager) IssuePair(memberID int64, role string) (models.TokenPair, error) {
	access, err := m.Issue(memberID, role, TypeAccess, m.accessTTL)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.Issue(memberID, "", TypeRefresh, m.refreshTTL)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Parse verifies signature and expiry and returns the claims.
// Fails closed: any malformed, mis-signed or expired input yields an error
// wrapping apperrors.ErrTokenInvalid or apperrors.ErrTokenExpired.
// A token without an exp claim is invalid, every token this manager mints
// carries one and downstream code relies on it being present
func (m *Manager) Parse(tokenString string) (Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)

	switch {
	case err == nil:
		return *claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, fmt.Errorf("error while parsing token. Err: %v: %w", err, apperrors.ErrTokenExpired)
	default:
		return Claims{}, fmt.Errorf("error while parsing token. Err: %v: %w", err, apperrors.ErrTokenInvalid)
	}
}

// IsRefreshToken reports whether the token is a valid refresh token.
// The decision is made from the 'typ' claim of the verified token
func (m *Manager) IsRefreshToken(tokenString string) bool {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return false
	}
	return claims.TokenType == TypeRefresh
}

// RefreshTTL returns the configured refresh token lifetime
func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}
