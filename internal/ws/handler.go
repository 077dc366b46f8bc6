package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

// routeTimeout bounds one send request, persistence included.
const routeTimeout = 15 * time.Second

// MessageRouter is the routing entry point a session forwards sends to.
type MessageRouter interface {
	Route(ctx context.Context, senderConnID string, in service.SendInput) (*service.RouteResult, error)
}

// IdentityResolver maps a bearer token to the caller's user identity.
type IdentityResolver interface {
	Identity(token string) (string, error)
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits requests without an Origin header (non-browser
// clients); browser origins must be listed.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol), then dispatches frames:
//   - register      -> bind this connection to the caller's identity
//   - send_message  -> persist and route; echo to this connection
func MakeHandler(
	hub *Hub,
	registry presence.Registry,
	router MessageRouter,
	tokens IdentityResolver,
	metrics *Metrics,
	allowedOrigins []string,
	log *zap.Logger,
) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity, err := tokens.Identity(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s := &session{
			conn:     NewConnection(hub.NodeID(), wsConn),
			identity: identity,
			state:    stateConnecting,
			hub:      hub,
			registry: registry,
			router:   router,
			metrics:  metrics,
			log:      log,
		}
		s.run(r.Context())
	}
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// session is the server side of one client connection. All of its fields
// are owned by the read goroutine.
type session struct {
	conn       *Connection
	identity   string // authenticated at handshake
	state      sessionState
	registered bool

	hub      *Hub
	registry presence.Registry
	router   MessageRouter
	metrics  *Metrics
	log      *zap.Logger
}

func (s *session) run(ctx context.Context) {
	s.hub.Add(s.conn)
	s.conn.prepareReads()
	s.state = stateOpen
	s.metrics.sessionOpened()
	s.log.Debug("session", zap.String("conn", s.conn.ID), zap.String("identity", s.identity), zap.Stringer("state", s.state))
	defer s.close()

	for {
		kind, data, err := s.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("session read", zap.String("conn", s.conn.ID), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handle(ctx, data)
	}
}

func (s *session) handle(ctx context.Context, data []byte) {
	if s.state != stateOpen {
		return
	}
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.sendError("malformed frame", "")
		return
	}

	switch f.Type {
	case TypeRegister:
		s.register(ctx, f)
	case TypeSendMessage:
		s.sendMessage(ctx, f)
	default:
		s.log.Debug("unknown frame type", zap.String("type", f.Type), zap.String("conn", s.conn.ID))
		s.sendError(fmt.Sprintf("unknown frame type %q", f.Type), f.ClientRef)
	}
}

func (s *session) register(ctx context.Context, f InboundFrame) {
	if f.UserID != "" && f.UserID != s.identity {
		s.sendError("user_id does not match the authenticated identity", "")
		return
	}
	if err := s.registry.Register(ctx, s.identity, s.conn.ID); err != nil {
		s.log.Error("presence register", zap.String("identity", s.identity), zap.Error(err))
		s.sendError("registration failed", "")
		return
	}

	s.registered = true
	s.metrics.recordRegistration(s.identity, s.conn.ID)
	s.reply(RegisteredFrame{Type: TypeRegistered, UserID: s.identity, ConnectionID: s.conn.ID})
}

func (s *session) sendMessage(ctx context.Context, f InboundFrame) {
	if !s.registered {
		s.metrics.recordRoute(OutcomeRejected, 0)
		s.sendError(domain.ErrNotRegistered.Error(), f.ClientRef)
		return
	}
	if f.SenderID != "" && f.SenderID != s.identity {
		s.metrics.recordRoute(OutcomeRejected, 0)
		s.sendError("sender_id does not match the registered identity", f.ClientRef)
		return
	}

	// Persistence outlives the connection: a disconnect mid-send must not
	// abort an append that is already under way.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), routeTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.router.Route(rctx, s.conn.ID, service.SendInput{
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Text:       f.Text,
		MediaURL:   optional(f.MediaURL),
		MediaType:  optional(f.MediaType),
		ClientRef:  f.ClientRef,
	})
	switch {
	case err == nil:
		outcome := OutcomeStored
		if res.Delivered {
			outcome = OutcomeDelivered
		}
		s.metrics.recordRoute(outcome, time.Since(start))
	case errors.Is(err, domain.ErrInvalidInput):
		s.metrics.recordRoute(OutcomeRejected, 0)
		s.sendError(err.Error(), f.ClientRef)
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		s.metrics.recordRoute(OutcomeFailed, 0)
		s.log.Warn("route message", zap.String("conn", s.conn.ID), zap.Error(err))
		s.sendError("message could not be stored", f.ClientRef)
	default:
		s.metrics.recordRoute(OutcomeFailed, 0)
		s.log.Error("route message", zap.String("conn", s.conn.ID), zap.Error(err))
		s.sendError("failed to send message", f.ClientRef)
	}
}

func (s *session) close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Unregister(ctx, s.conn.ID); err != nil {
		s.log.Warn("presence unregister", zap.String("conn", s.conn.ID), zap.Error(err))
	}
	s.hub.Remove(s.conn)
	s.conn.Close(websocket.CloseNormalClosure, "")
	bound := ""
	if s.registered {
		bound = s.identity
	}
	s.metrics.sessionClosed(bound, s.conn.ID)
	s.log.Debug("session closed", zap.String("conn", s.conn.ID), zap.Bool("registered", s.registered))
}

func (s *session) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}
	if err := s.conn.Send(payload); err != nil {
		s.log.Debug("reply dropped", zap.String("conn", s.conn.ID), zap.Error(err))
	}
}

func (s *session) sendError(msg, clientRef string) {
	s.reply(ErrorFrame{Type: TypeError, Message: msg, ClientRef: clientRef})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
