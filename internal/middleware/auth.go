// Package middleware はAPIの認証とスコープチェックを提供します
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 予約APIのスコープ
const (
	ScopeReservationsStore  = "reservations.store"
	ScopeReservationsShow   = "reservations.show"
	ScopeReservationsCancel = "reservations.cancel"
	// ScopeAll は全スコープを許可します
	ScopeAll = "*"
)

// TokenTypeAccess はAPI呼び出しに使えるトークン種別です
const TokenTypeAccess = "access"

type contextKey string

const userContextKey contextKey = "user"

// Claims はアクセストークンのクレームです
type Claims struct {
	UserID int64    `json:"user_id"`
	Scopes []string `json:"scopes"`
	Type   string   `json:"type"`
	jwt.RegisteredClaims
}

// User は認証済みの呼び出し元です
type User struct {
	ID     int64
	Scopes []string
}

// HasScope はスコープを持っているかを返します
func (u *User) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// Auth はBearerトークンを検証し、呼び出し元をcontextに設定します
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}

			claims, err := ParseAccessToken(secret, tokenString)
			if err != nil {
				log.Printf("Rejected token for %s: %v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}

			user := &User{ID: claims.UserID, Scopes: claims.Scopes}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireScope は呼び出し元がスコープを持たない場合に403を返します
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}
			if !user.HasScope(scope) {
				writeError(w, http.StatusForbidden, "This action is unauthorized.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseAccessToken はHMAC署名のアクセストークンを検証してクレームを返します
func ParseAccessToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("invalid token type: %s", claims.Type)
	}
	if claims.UserID <= 0 {
		return nil, errors.New("missing user_id claim")
	}
	return claims, nil
}

// SignAccessToken はアクセストークンを発行します
func SignAccessToken(secret string, userID int64, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Scopes: scopes,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithUser は呼び出し元をcontextに設定します
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext はcontextから呼び出し元を取得します
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok && user != nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": message}); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
