package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Hub is the node's table of open connections keyed by connection id. Ids owned
// by other nodes are handed to the relay when one is configured.
type Hub struct {
	nodeID string
	relay  Relay
	log    *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewHub(nodeID string, relay Relay, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		nodeID: nodeID,
		relay:  relay,
		log:    log,
		conns:  make(map[string]*Connection),
	}
}

var _ service.Deliverer = (*Hub)(nil)

func (h *Hub) NodeID() string { return h.nodeID }

// Add tracks a connection and starts its writer.
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	c.Start()
}

// Remove stops tracking c. It does not close the connection.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	if cur, ok := h.conns[c.ID]; ok && cur == c {
		delete(h.conns, c.ID)
	}
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// DeliverMessage sends a receive_message frame to connID.
func (h *Hub) DeliverMessage(ctx context.Context, connID string, m *domain.Message, clientRef string) error {
	payload, err := json.Marshal(ReceiveMessageFrame{Type: TypeReceiveMessage, Message: m, ClientRef: clientRef})
	if err != nil {
		return fmt.Errorf("encode receive_message: %w", err)
	}
	return h.Deliver(ctx, connID, payload)
}

// Deliver writes an encoded frame to connID, locally or through the relay.
func (h *Hub) Deliver(ctx context.Context, connID string, payload []byte) error {
	node := NodeOf(connID)
	if node == h.nodeID || h.relay == nil {
		return h.DeliverLocal(connID, payload)
	}
	return h.relay.Publish(ctx, node, connID, payload)
}

// DeliverLocal writes to a connection owned by this node.
func (h *Hub) DeliverLocal(connID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return c.Send(payload)
}

// Close closes every tracked connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
	h.log.Info("hub closed", zap.Int("connections", len(conns)))
}
