// Package access gates the read and edit APIs on message ownership.
package access

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var ErrForbidden = errors.New("access denied")

const claimSubject = "sub"

// Checker decides whether a requester may see the messages of an owner.
// Owners see their own messages; admins see everything.
type Checker struct {
	admins map[string]struct{}
}

func NewChecker(admins []string) *Checker {
	c := &Checker{admins: make(map[string]struct{}, len(admins))}
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			c.admins[a] = struct{}{}
		}
	}
	return c
}

func (c *Checker) Allowed(requester, owner string) bool {
	if requester == "" {
		return false
	}
	if c.IsAdmin(requester) {
		return true
	}
	return owner != "" && requester == owner
}

// Check is Allowed as an error.
func (c *Checker) Check(requester, owner string) error {
	if !c.Allowed(requester, owner) {
		return fmt.Errorf("%w: %s may not access %s", ErrForbidden, requester, owner)
	}
	return nil
}

func (c *Checker) IsAdmin(requester string) bool {
	_, ok := c.admins[requester]
	return ok
}

// Middleware authenticates HS256 bearer tokens. Requests for which skipper
// returns true pass through untouched.
func Middleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// RequesterFromContext returns the subject of the authenticated token.
func RequesterFromContext(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	sub, _ := claims[claimSubject].(string)
	if strings.TrimSpace(sub) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "subject missing")
	}
	return sub, nil
}

// GenerateToken signs a token for subject, the owner id it acts as.
func GenerateToken(subject, secret string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token ttl must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimSubject: subject,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
