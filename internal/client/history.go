package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

// HistoryClient fetches conversation history over the REST API.
type HistoryClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHistoryClient(baseURL, token string, hc *http.Client) *HistoryClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HistoryClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// History returns the caller's conversation with counterpart, oldest first.
func (h *HistoryClient) History(ctx context.Context, counterpart string) ([]*domain.Message, error) {
	u := fmt.Sprintf("%s/api/conversations/with/%s/messages", h.baseURL, url.PathEscape(counterpart))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("history: status %d: %s", resp.StatusCode, body.Error)
	}
	var msgs []*domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	return msgs, nil
}
