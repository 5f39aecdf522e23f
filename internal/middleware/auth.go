// Package middleware provides HTTP middleware for the relay server.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/legalforum/chatsync/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// UserKey is the context key for the authenticated participant.
	UserKey ContextKey = "user"
)

// Claims represents JWT claims. The subject is the numeric forum user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// Participant converts the claims into the authenticated user.
func (c *Claims) Participant() (model.Participant, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Participant{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	role := model.Role(c.Role)
	if role != model.RoleLawyer {
		role = model.RoleUser
	}
	return model.Participant{ID: id, Name: c.Name, Role: role}, nil
}

// IssueToken signs a token for p valid for ttl.
func IssueToken(secret string, p model.Participant, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: p.Name,
		Role: string(p.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseUnverified reads the identity from a token without checking its
// signature. Only the relay can verify; clients use this to learn who they are.
func ParseUnverified(token string) (model.Participant, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return model.Participant{}, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims.Participant()
}

// Auth creates JWT authentication middleware. onAuthenticated, if set, is
// called with every authenticated user.
func Auth(jwtSecret string, onAuthenticated func(model.Participant)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			tokenString := parts[1]

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			user, err := claims.Participant()
			if err != nil {
				http.Error(w, `{"error":"invalid token subject"}`, http.StatusUnauthorized)
				return
			}

			if onAuthenticated != nil {
				onAuthenticated(user)
			}
			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = user.ID
			}

			// Add claims to context
			ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
			ctx = context.WithValue(ctx, UserKey, user)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ErrUnauthenticated is returned when a request carries no user.
var ErrUnauthenticated = errors.New("unauthenticated")

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) int64 {
	if v, ok := ctx.Value(UserIDKey).(int64); ok {
		return v
	}
	return 0
}

// GetUser gets the authenticated user from context.
func GetUser(ctx context.Context) (model.Participant, error) {
	if v, ok := ctx.Value(UserKey).(model.Participant); ok {
		return v, nil
	}
	return model.Participant{}, ErrUnauthenticated
}
