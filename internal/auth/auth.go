// Package auth resolves the caller's identity. With a JWT secret configured
// identities come from HS256 tokens; without one the server runs in
// development mode and trusts the X-User-Id header or the identity query
// parameter.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pelusa-v/pelusa-live/internal/chat"
)

var (
	ErrMissingIdentity = errors.New("missing identity")
	ErrInvalidToken    = errors.New("invalid token")
)

const (
	HeaderUserID = "X-User-Id"
	// LocalsIdentity is the fiber locals key holding the resolved identity.
	LocalsIdentity = "identity"
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates identity tokens. The zero secret means development mode.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Sign issues a token for identity, used by tests and local tooling.
func (v *Verifier) Sign(identity string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Identity validates token and returns the identity it carries.
func (v *Verifier) Identity(token string) (string, error) {
	if token == "" {
		return "", ErrMissingIdentity
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	identity := claims.UserID
	if identity == "" {
		identity = claims.Subject
	}
	if chat.Anonymous(identity) {
		return "", ErrMissingIdentity
	}
	return identity, nil
}

// Middleware stores the caller's identity in the request locals and
// rejects requests without one.
func Middleware(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := v.fromRequest(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals(LocalsIdentity, identity)
		return c.Next()
	}
}

// Handshake resolves the identity for a websocket upgrade. Anonymous
// connections are allowed: they receive broadcasts but never enter the
// presence registry.
func Handshake(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var identity string
		if v.Enabled() {
			token := c.Query("token")
			if token == "" {
				token = bearer(c.Get(fiber.HeaderAuthorization))
			}
			if token != "" {
				id, err := v.Identity(token)
				if err != nil {
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
				}
				identity = id
			}
		} else {
			identity = c.Query("identity")
		}
		if !chat.Anonymous(identity) {
			c.Locals(LocalsIdentity, identity)
		}
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by Middleware or Handshake.
func IdentityFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsIdentity).(string)
	return id
}

func (v *Verifier) fromRequest(c *fiber.Ctx) (string, error) {
	if v.Enabled() {
		return v.Identity(bearer(c.Get(fiber.HeaderAuthorization)))
	}
	identity := strings.TrimSpace(c.Get(HeaderUserID))
	if chat.Anonymous(identity) {
		return "", ErrMissingIdentity
	}
	return identity, nil
}

func bearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
