package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Issuer is the interface for exchanging admin credentials for a session token.
type Issuer interface {

	// Login checks the credentials and returns a signed token and its expiry.
	Login(username, password string) (string, time.Time, error)

	// Issue signs a token for the username without checking credentials.
	Issue(username, role string) (string, time.Time, error)
}

// NewIssuer creates a new token issuer, returning a pointer to the concrete implementation.
func NewIssuer(cfg Config) Issuer {
	cfg = cfg.withDefaults()
	return &issuer{
		secret:       []byte(cfg.Secret),
		issuer:       cfg.Issuer,
		ttl:          cfg.TTL,
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		now:          time.Now,
	}
}

var _ Issuer = (*issuer)(nil)

type issuer struct {
	secret       []byte
	issuer       string
	ttl          time.Duration
	username     string
	passwordHash []byte
	now          func() time.Time
}

// Login is the concrete implementation of the interface method.
func (i *issuer) Login(username, password string) (string, time.Time, error) {

	userOk := subtle.ConstantTimeCompare([]byte(username), []byte(i.username)) == 1

	// always pay the bcrypt cost so a wrong username is not faster than a wrong password
	pwErr := bcrypt.CompareHashAndPassword(i.passwordHash, []byte(password))

	if !userOk || pwErr != nil || i.username == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return i.Issue(username, RoleAdmin)
}

// Issue is the concrete implementation of the interface method.
func (i *issuer) Issue(username, role string) (string, time.Time, error) {

	now := i.now()
	expires := now.Add(i.ttl)

	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign admin token: %v", err)
	}

	return signed, expires, nil
}

// HashPassword returns the bcrypt hash stored as the admin password hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %v", err)
	}
	return string(hash), nil
}
