// Package auth is the admin gate: it issues and verifies the signed session token that
// every mutating endpoint requires.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/util"
)

const (
	RoleAdmin = "admin"

	DefaultIssuer = "portfolio"
	DefaultTTL    = 24 * time.Hour
)

var (
	// ErrUnauthenticated means no valid token was presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the token is valid but does not carry the admin role.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned by a failed login.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Config holds the token signing and admin credential settings.
type Config struct {
	Secret       string        `yaml:"-"`
	Issuer       string        `yaml:"issuer"`
	TTL          time.Duration `yaml:"ttl"`
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"-"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// Claims are the session token claims.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AdminIdentity is the verified caller of an admin endpoint.
type AdminIdentity struct {
	Username  string
	Role      string
	ExpiresAt time.Time
}

// Gate is the interface for verifying that a request comes from the admin.
type Gate interface {

	// VerifyAdmin reads the session token from the admin cookie or a bearer
	// Authorization header. It returns ErrUnauthenticated or ErrForbidden on failure.
	VerifyAdmin(r *http.Request) (*AdminIdentity, error)
}

// NewGate creates a new admin gate, returning a pointer to the concrete implementation.
func NewGate(cfg Config) Gate {
	cfg = cfg.withDefaults()
	return &gate{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageAuth)).
			With(slog.String(util.ComponentKey, util.ComponentAuthGate)),
	}
}

var _ Gate = (*gate)(nil)

type gate struct {
	secret []byte
	issuer string

	logger *slog.Logger
}

// VerifyAdmin is the concrete implementation of the interface method.
func (g *gate) VerifyAdmin(r *http.Request) (*AdminIdentity, error) {

	token := tokenFromRequest(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		g.logger.Warn("rejected admin token", "err", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if claims.Role != RoleAdmin {
		g.logger.Warn(fmt.Sprintf("user %s presented a token without the admin role", claims.Username))
		return nil, ErrForbidden
	}

	identity := &AdminIdentity{
		Username: claims.Username,
		Role:     claims.Role,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	return identity, nil
}

// tokenFromRequest prefers the admin cookie, falling back to a bearer header.
func tokenFromRequest(r *http.Request) string {

	if c, err := r.Cookie(util.AdminCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}

	return ""
}

// RespondAuthFailure writes the 401 or 403 for a gate error. The body never says why.
func RespondAuthFailure(err error, w http.ResponseWriter) {

	e := connect.ErrorHttp{
		StatusCode: http.StatusUnauthorized,
		Message:    ErrUnauthenticated.Error(),
	}

	if errors.Is(err, ErrForbidden) {
		e.StatusCode = http.StatusForbidden
		e.Message = ErrForbidden.Error()
	}

	e.SendJsonErr(w)
}
