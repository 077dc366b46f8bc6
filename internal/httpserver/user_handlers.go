package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
)

func handlePresence(registry presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		_, online, err := registry.Resolve(r.Context(), userID)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "presence unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "online": online})
	}
}
