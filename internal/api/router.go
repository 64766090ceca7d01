// Package api exposes the mail engine over HTTP for the order application.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vdavid/werkbank/internal/auth"
)

// maxBodyBytes bounds request bodies; replies carry base64 attachments.
const maxBodyBytes = 32 << 20

// NewRouter wires the engine routes below /api/v1, all behind the bearer token.
func NewRouter(h *Handler, token string, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireToken(token, logger))

		r.Post("/sync", h.SyncAll)
		r.Post("/accounts/{accountID}/folders/{folder}/sync", h.SyncFolder)

		r.Get("/threads/{threadID}", h.GetThread)

		r.Post("/replies", h.Send)

		r.Route("/mails/{mailID}", func(r chi.Router) {
			r.Get("/", h.GetMail)
			r.Post("/reply", h.Reply)
			r.Post("/move", h.Move)
			r.Get("/order-types", h.OrderTypes)
			r.Get("/suggestions", h.Suggestions)
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		})
	}
}
