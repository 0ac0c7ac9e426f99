package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger creates a middleware that logs each handshake request.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, reqID string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip, reqID = reqMeta.IP, reqMeta.RequestID
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("requestID", reqID),
			)
			next.ServeHTTP(w, r)
		})
	}
}
