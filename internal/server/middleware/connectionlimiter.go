package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-chat/pkg/config"
	"github.com/a-essam23/go-chat/pkg/metrics"
)

// Presence is the part of the session registry the limiter consults.
type Presence interface {
	Count() int
	IsOnline(actorID string) bool
}

// NewConnectionLimiter enforces the single-session mode and the global session cap.
// In cycle mode a returning actor is let through; the engine replaces the older session.
// It must run after auth.
func NewConnectionLimiter(logger *slog.Logger, presence Presence, cfg config.ConnectionLimitConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if reqMeta.Actor.ID == "" {
				logger.Warn("Connection limiter could not determine the actor; blocking request for safety.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			online := presence.IsOnline(reqMeta.Actor.ID)
			switch cfg.Mode {
			case "reject":
				if online {
					logger.Warn("Actor already connected", slog.String("userID", reqMeta.Actor.ID))
					metrics.ConnectionsRejected.WithLabelValues("duplicate").Inc()
					http.Error(w, "Already connected", http.StatusConflict)
					return
				}
			case "cycle":
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			// a replacement does not grow the session count
			if cfg.MaxConnections > 0 && !online && presence.Count() >= cfg.MaxConnections {
				logger.Warn("Connection limit reached", slog.Int("count", presence.Count()))
				metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
				http.Error(w, "Too Many Active Connections", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
