package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/ws"
)

const writeWait = 10 * time.Second

// ServerError is an error frame from the router.
type ServerError struct {
	Message   string
	ClientRef string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Event is one frame pushed by the router after registration.
type Event struct {
	Message   *domain.Message
	ClientRef string
	Err       *ServerError
}

// Conn is a client websocket session to the router.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	connID  string
}

// Dial opens a session authenticated with token.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: c}, nil
}

func (c *Conn) ID() string { return c.connID }

// Register binds the session to userID and waits for the acknowledgement.
// It must be called before Run.
func (c *Conn) Register(ctx context.Context, userID string) error {
	if err := c.write(ws.InboundFrame{Type: ws.TypeRegister, UserID: userID}); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	for {
		f, err := c.read()
		if err != nil {
			return err
		}
		switch f.Type {
		case ws.TypeRegistered:
			var ack ws.RegisteredFrame
			if err := json.Unmarshal(f.raw, &ack); err != nil {
				return fmt.Errorf("decode registered: %w", err)
			}
			c.connID = ack.ConnectionID
			return nil
		case ws.TypeError:
			return f.event().Err
		}
	}
}

// Outgoing is the content of one send. Any field may be empty.
type Outgoing struct {
	Text      string
	MediaURL  string
	MediaType string
}

// Send writes a send_message frame. clientRef should be the provisional entry's temp id.
func (c *Conn) Send(senderID, receiverID string, out Outgoing, clientRef string) error {
	return c.write(ws.InboundFrame{
		Type:       ws.TypeSendMessage,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       out.Text,
		MediaURL:   out.MediaURL,
		MediaType:  out.MediaType,
		ClientRef:  clientRef,
	})
}

// Run reads frames until the connection closes or ctx is canceled, passing
// each message and error frame to handle.
func (c *Conn) Run(ctx context.Context, handle func(Event)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		f, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if ev := f.event(); ev.Message != nil || ev.Err != nil {
			handle(ev)
		}
	}
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) write(f ws.InboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

type rawFrame struct {
	Type string
	raw  []byte
}

func (c *Conn) read() (rawFrame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return rawFrame{}, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return rawFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return rawFrame{Type: head.Type, raw: data}, nil
}

func (f rawFrame) event() Event {
	switch f.Type {
	case ws.TypeReceiveMessage:
		var rm ws.ReceiveMessageFrame
		if err := json.Unmarshal(f.raw, &rm); err != nil || rm.Message == nil {
			return Event{Err: &ServerError{Message: "undecodable receive_message"}}
		}
		return Event{Message: rm.Message, ClientRef: rm.ClientRef}
	case ws.TypeError:
		var ef ws.ErrorFrame
		if err := json.Unmarshal(f.raw, &ef); err != nil {
			return Event{Err: &ServerError{Message: "undecodable error frame"}}
		}
		return Event{Err: &ServerError{Message: ef.Message, ClientRef: ef.ClientRef}}
	}
	return Event{}
}
