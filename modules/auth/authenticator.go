package auth

import (
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// AnonymousToken is the literal marker clients may send instead of a token.
const AnonymousToken = "anonymous"

var (
	// ErrInvalidToken is returned when the token cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrAuthRequired is returned in strict mode when no usable identity
	// can be resolved.
	ErrAuthRequired = errors.New("authentication required")
)

// Config holds token verification configuration.
type Config struct {
	SecretKey string
	// Strict rejects connections without a valid token instead of
	// downgrading them to a guest identity.
	Strict bool
}

// LoadConfig reads the authenticator configuration from the environment.
func LoadConfig() Config {
	secret := os.Getenv("REALTIME_JWT_SECRET")
	if secret == "" {
		secret = "your-secret-key-change-in-production"
	}
	return Config{
		SecretKey: secret,
		Strict:    os.Getenv("REALTIME_STRICT_AUTH") == "true",
	}
}

// Claims are the custom claims carried by access tokens issued by the auth
// service.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens at connection time. It is stateless:
// one signature/expiry check per call, no caching, no retries.
type Authenticator struct {
	config Config
}

// New creates an Authenticator with the given configuration.
func New(config Config) *Authenticator {
	return &Authenticator{config: config}
}

// Verify validates the token signature and expiry and returns its claims.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.config.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve turns a bearer token into a connection identity. A missing,
// invalid or expired token yields a freshly minted guest identity unless
// strict mode is enabled, in which case ErrAuthRequired is returned.
func (a *Authenticator) Resolve(tokenString string) (domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" || tokenString == AnonymousToken {
		return a.guestOrReject()
	}

	claims, err := a.Verify(tokenString)
	if err != nil {
		return a.guestOrReject()
	}

	username := claims.Username
	if username == "" {
		username = claims.UserID
	}
	return domain.Identity{
		UserID:   claims.UserID,
		Username: username,
	}, nil
}

func (a *Authenticator) guestOrReject() (domain.Identity, error) {
	if a.config.Strict {
		return domain.Identity{}, ErrAuthRequired
	}
	return GuestIdentity(), nil
}

// GuestIdentity mints a synthetic per-connection identity.
func GuestIdentity() domain.Identity {
	name := "guest-" + uuid.New().String()[:8]
	return domain.Identity{
		UserID:   name,
		Username: name,
		Guest:    true,
	}
}
