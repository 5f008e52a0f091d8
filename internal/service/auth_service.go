package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/schoolbus-labs/busreserve/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "busreserve"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthService guards the admin surface: route mutation, gate override,
// push test/debug and the dispatch log.
type AuthService struct {
	enabled  bool
	username string
	// hash is set when auth.password is a bcrypt hash, plain otherwise.
	hash   []byte
	plain  []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Claims is the admin session token payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewAuthService(cfg *config.Config) *AuthService {
	a := &AuthService{
		enabled:  cfg.Auth.Enabled,
		username: orDefault(cfg.Auth.Username, "admin"),
		secret:   []byte(orDefault(cfg.Auth.JWTSecret, "busreserve-default-secret")),
		ttl:      cfg.Auth.TokenTTL,
		now:      time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = 12 * time.Hour
	}
	password := orDefault(cfg.Auth.Password, "admin123")
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		a.hash = []byte(password)
	} else {
		a.plain = []byte(password)
	}
	return a
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// Enabled reports whether authentication is enforced.
func (a *AuthService) Enabled() bool {
	return a != nil && a.enabled
}

// Username returns the configured admin username.
func (a *AuthService) Username() string {
	if a == nil {
		return ""
	}
	return a.username
}

// Authenticate checks admin credentials and issues a session token.
func (a *AuthService) Authenticate(username, password string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(a.username)) == 1
	if !a.checkPassword(password) || !userOK {
		return "", ErrInvalidCredentials
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: a.username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	return token.SignedString(a.secret)
}

// Validate parses a session token. With auth disabled every caller is anonymous.
func (a *AuthService) Validate(token string) (*Claims, error) {
	if !a.Enabled() {
		return &Claims{Username: "anonymous"}, nil
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Username != a.username {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *AuthService) checkPassword(input string) bool {
	if a.hash != nil {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(input)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(input), a.plain) == 1
}
