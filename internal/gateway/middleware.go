package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// requireJWT validates an HS256 bearer token against the shared
// secret. It only runs when a secret is configured; deployments behind
// a trusted edge leave it unset.
func (h *Handler) requireJWT(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tokenString == "" {
			return errResponse(c, http.StatusUnauthorized, "missing bearer token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return errResponse(c, http.StatusUnauthorized, "invalid token")
		}

		return next(c)
	}
}
