package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/config"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/store"
)

// ActorResolver loads the actor named by a verified token subject.
type ActorResolver func(ctx context.Context, id string) (*chat.Actor, error)

// NewAuthMiddleware verifies the handshake credential and resolves its subject to an actor.
// The token is taken from the Authorization header, then the configured cookie, then the
// "token" query parameter.
func NewAuthMiddleware(logger *slog.Logger, cfg config.AuthConfig, resolve ActorResolver) Middleware {
	keyFunc := func(token *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := tokenFrom(r, cfg.CookieName)
			if tokenString == "" {
				logger.Warn("JWT token missing in request", slog.String("ip", reqMeta.IP))
				reject(w, "Authentication token required")
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			)
			if err != nil || !token.Valid {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				reject(w, "Invalid token")
				return
			}
			if claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim", slog.String("ip", reqMeta.IP))
				reject(w, "Invalid token")
				return
			}

			actor, err := resolve(r.Context(), claims.Subject)
			switch {
			case errors.Is(err, store.ErrNotFound):
				logger.Warn("Token subject is not a known user", slog.String("userID", claims.Subject))
				reject(w, "User not found")
				return
			case err != nil:
				logger.Error("Failed to resolve token subject", slog.String("userID", claims.Subject), slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			reqMeta.Actor = *actor
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFrom(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return r.URL.Query().Get("token")
}

func reject(w http.ResponseWriter, msg string) {
	metrics.ConnectionsRejected.WithLabelValues("unauthenticated").Inc()
	http.Error(w, msg, http.StatusUnauthorized)
}
