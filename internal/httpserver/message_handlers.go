package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

// MessageRouter is the routing entry point HTTP sends go through.
type MessageRouter interface {
	Route(ctx context.Context, senderConnID string, in service.SendInput) (*service.RouteResult, error)
}

type messageCreateRequest struct {
	Text      string  `json:"text"`
	MediaURL  *string `json:"media_url"`
	MediaType *string `json:"media_type"`
}

// handleSendMessage routes a message without a websocket. The recipient still
// gets live delivery; there is no sender connection to echo to.
func handleSendMessage(msgRouter MessageRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		res, err := msgRouter.Route(context.WithoutCancel(r.Context()), "", service.SendInput{
			SenderID:   CurrentIdentity(r),
			ReceiverID: chi.URLParam(r, "userID"),
			Text:       req.Text,
			MediaURL:   req.MediaURL,
			MediaType:  req.MediaType,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res.Message)
	}
}
