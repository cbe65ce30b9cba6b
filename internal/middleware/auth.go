// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tokenvault/internal/domain"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxAddressKey   contextKey = "address"
	ctxTokenKey     contextKey = "token"
	ctxTokenExpKey  contextKey = "token_exp"
	addressClaimKey            = "address"
)

// TokenBlacklist rejects revoked bearer tokens before they expire.
type TokenBlacklist interface {
	Blacklist(ctx context.Context, token string, expiration time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware validates bearer JWTs and injects the caller address into the context.
type AuthMiddleware struct {
	jwtSecret string
	blacklist TokenBlacklist
}

// NewAuthMiddleware constructs an AuthMiddleware. blacklist may be nil.
func NewAuthMiddleware(secret string, blacklist TokenBlacklist) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, blacklist: blacklist}
}

// IssueToken signs an HS256 token whose address claim names the caller.
func IssueToken(secret string, caller domain.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		addressClaimKey: caller.String(),
		"iat":           now.Unix(),
		"exp":           now.Add(ttl).Unix(),
		"jti":           uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticate enforces bearer auth and populates the caller address on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}
		tokenString := parts[1]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})

		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		var expiresAt time.Time
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}

		raw, ok := claims[addressClaimKey].(string)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid address in token")
			return
		}
		caller, err := domain.ParseAddress(raw)
		if err != nil || caller.IsZero() {
			jsonError(w, http.StatusUnauthorized, "Invalid address format")
			return
		}

		if m.blacklist != nil {
			revoked, err := m.blacklist.IsBlacklisted(r.Context(), tokenString)
			if err != nil {
				jsonError(w, http.StatusServiceUnavailable, "Token check unavailable")
				return
			}
			if revoked {
				jsonError(w, http.StatusUnauthorized, "Token revoked")
				return
			}
		}

		ctx := context.WithValue(r.Context(), ctxAddressKey, caller)
		ctx = context.WithValue(ctx, ctxTokenKey, tokenString)
		ctx = context.WithValue(ctx, ctxTokenExpKey, expiresAt)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Revoke blacklists the token that authenticated the request until it expires.
func (m *AuthMiddleware) Revoke(ctx context.Context) error {
	if m.blacklist == nil {
		return nil
	}
	token, _ := ctx.Value(ctxTokenKey).(string)
	exp, _ := ctx.Value(ctxTokenExpKey).(time.Time)
	if token == "" {
		return nil
	}
	ttl := time.Until(exp)
	if exp.IsZero() || ttl <= 0 {
		ttl = time.Hour
	}
	return m.blacklist.Blacklist(ctx, token, ttl)
}

// AddressFromContext returns the authenticated caller.
func AddressFromContext(ctx context.Context) (domain.Address, bool) {
	v := ctx.Value(ctxAddressKey)
	addr, ok := v.(domain.Address)
	return addr, ok
}

// WithAddress attaches a caller to ctx. Used by trusted in-process callers.
func WithAddress(ctx context.Context, caller domain.Address) context.Context {
	return context.WithValue(ctx, ctxAddressKey, caller)
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			// Restrict to configured origins
			for _, o := range strings.Split(allowed, ",") {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		} else if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
