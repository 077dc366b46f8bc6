package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/config"
	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

// NewRouter constructs the main HTTP router and wires routes and middleware.
// wsHandler serves /ws and metricsHandler serves /metrics; either may be nil.
func NewRouter(
	cfg *config.Config,
	tokens IdentityResolver,
	convSvc *service.ConversationService,
	msgRouter MessageRouter,
	registry presence.Registry,
	wsHandler http.Handler,
	metricsHandler http.Handler,
	log *zap.Logger,
) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "node": cfg.NodeID})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// API routes; the websocket upgrade must not sit behind the timeout middleware.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(tokens))

		r.Get("/me", handleMe())

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(convSvc))
			r.Get("/with/{userID}/messages", handleHistory(convSvc))
			r.Post("/with/{userID}/messages", handleSendMessage(msgRouter))
		})

		r.Get("/users/{userID}/presence", handlePresence(registry))
	})

	if wsHandler != nil {
		r.Method(http.MethodGet, "/ws", wsHandler)
	}

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnauthorized):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		status, msg = http.StatusServiceUnavailable, "storage unavailable"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
