package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserIDKey contextKey = "userID"

// UserID returns the authenticated actor of r, or "" outside Auth.
func UserID(r *http.Request) string {
	userID, _ := r.Context().Value(UserIDKey).(string)
	return userID
}

// Auth validates an HMAC-signed JWT and stores its sub claim as the actor id.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers cannot set headers on websocket requests, so the token
			// may also arrive in the query string.
			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if tokenString == "" {
				unauthorized(w, "no token provided")
				return
			}

			userID, err := ParseToken(tokenString, secret)
			if err != nil {
				logger.Sugar.Warnf("Invalid token: %v", err)
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken verifies tokenString and returns its sub claim.
func ParseToken(tokenString, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("server is not configured to validate JWTs")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}
	userID, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("sub claim is missing")
	}
	return userID, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(apperror.KindUnauthenticated),
		"error": message,
	})
}
