package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pdf2audio/internal/logger"

	"github.com/dgrijalva/jwt-go"
)

// Injected key type to avoid context collisions
type contextKey string

const (
	UserContextKey      = contextKey("user")
	UserEmailContextKey = contextKey("user_email")
)

// authClaims is the token payload issued by the auth gateway.
type authClaims struct {
	jwt.StandardClaims
	Email string `json:"email"`
}

// UserID extracts the authenticated user id placed in the context by
// AuthMiddleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserContextKey).(string)
	return id, ok && id != ""
}

// UserEmail extracts the authenticated user's email, when the token carried one.
func UserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailContextKey).(string)
	return email, ok && email != ""
}

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logger.New()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Error().Msg("Authorization header missing")
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Error().Msg("Invalid authorization header")
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := validateJWT(parts[1], jwtSecret)
			if err != nil {
				logger.Error().Msgf("Invalid token: %+v", err)
				http.Error(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserContextKey, claims.Subject)
			ctx = context.WithValue(ctx, UserEmailContextKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateJWT(tokenString, secret string) (*authClaims, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}
