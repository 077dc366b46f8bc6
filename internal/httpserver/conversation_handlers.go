package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

type conversationResponse struct {
	ID            int64     `json:"id"`
	Counterpart   string    `json:"counterpart"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := CurrentIdentity(r)
		convs, err := convSvc.ListForUser(r.Context(), me)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]conversationResponse, 0, len(convs))
		for _, c := range convs {
			out = append(out, conversationResponse{
				ID:            c.ID,
				Counterpart:   c.Counterpart(me),
				CreatedAt:     c.CreatedAt,
				LastMessageAt: c.LastMessageAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleHistory returns the caller's conversation with {userID}, oldest first.
func handleHistory(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := convSvc.History(r.Context(), CurrentIdentity(r), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
