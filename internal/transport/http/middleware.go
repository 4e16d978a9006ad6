package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// LogMiddleware logs method, path, status and duration of each request.
func LogMiddleware(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start),
				"remote":     r.RemoteAddr,
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("HTTP Request")
		})
	}
}

func logWebSocketConnect(logger logrus.FieldLogger, r *http.Request, lobbyID string) {
	logger.WithFields(logrus.Fields{
		"remote":   r.RemoteAddr,
		"path":     r.URL.Path,
		"lobby_id": lobbyID,
	}).Info("WebSocket connected")
}

func logWebSocketDisconnect(logger logrus.FieldLogger, r *http.Request, lobbyID string, err error) {
	fields := logrus.Fields{
		"remote":   r.RemoteAddr,
		"path":     r.URL.Path,
		"lobby_id": lobbyID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
