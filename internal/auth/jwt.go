package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Access tokens are short-lived HS256 JWTs carrying the Principal. They are minted by the
// dispatch backend's login flow (or by `cmd/gateway -issue-token` for operators) and sent
// as `Authorization: Bearer <token>`. There is no refresh flow at the gateway: clients
// re-authenticate against the backend when a token expires.

// DefaultAccessTokenExpiry is how long access tokens are valid unless configured otherwise.
const DefaultAccessTokenExpiry = 12 * time.Hour

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
	ErrMissingName        = errors.New("principal name is required")
)

// JWTClaims represents the claims in our API access tokens.
type JWTClaims struct {
	jwt.RegisteredClaims

	// Name is the principal's display name.
	Name string `json:"name"`

	// DriverID is the dispatch identifier, if any.
	DriverID string `json:"did,omitempty"`

	// Role is the dispatch role.
	Role string `json:"role"`

	// Teams are the principal's team names.
	Teams []string `json:"teams,omitempty"`
}

// Principal returns the principal the claims describe.
func (c *JWTClaims) Principal() Principal {
	return Principal{
		Name:     c.Name,
		DriverID: c.DriverID,
		Role:     c.Role,
		Teams:    c.Teams,
	}
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret key used to sign JWTs.
	SigningKey string

	// Issuer is the issuer claim for tokens (e.g., "https://dispatch.example.com").
	Issuer string

	// Audience is the audience claim for tokens (e.g., "fleetdispatch-gateway").
	Audience string

	// Expiry is the access token lifetime (optional, defaults to 12h).
	Expiry time.Duration

	// Now overrides the clock (optional).
	Now func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultAccessTokenExpiry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     expiry,
		now:        now,
	}
}

// GenerateAccessToken creates a new access token for the given principal.
func (s *JWTService) GenerateAccessToken(p Principal) (string, time.Time, error) {
	if strings.TrimSpace(p.Name) == "" {
		return "", time.Time{}, ErrMissingName
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	subject := p.DriverID
	if subject == "" {
		subject = p.Name
	}

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Name:     p.Name,
		DriverID: p.DriverID,
		Role:     p.Role,
		Teams:    p.Teams,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.Name) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, ErrMissingName)
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
