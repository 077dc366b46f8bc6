package client

import (
	"context"
	"errors"
)

var ErrNotRegistered = errors.New("client: register before sending")

// Chat drives one open conversation: sends are inserted optimistically and
// router events are reconciled into the timeline.
type Chat struct {
	conn     *Conn
	timeline *Timeline
	self     string
}

func NewChat(conn *Conn, self, counterpart string, opts ...Option) *Chat {
	return &Chat{conn: conn, timeline: NewTimeline(self, counterpart, opts...), self: self}
}

func (c *Chat) Timeline() *Timeline { return c.timeline }

// Open hydrates the timeline from history. Calling it again rebuilds the list.
func (c *Chat) Open(ctx context.Context, h *HistoryClient) error {
	msgs, err := h.History(ctx, c.timeline.Counterpart())
	if err != nil {
		return err
	}
	c.timeline.Hydrate(msgs)
	return nil
}

// Send renders text immediately and hands it to the router. A write failure
// leaves the entry marked failed.
func (c *Chat) Send(text string) (Entry, error) {
	return c.SendOutgoing(Outgoing{Text: text})
}

// SendOutgoing is Send for messages that may carry media.
func (c *Chat) SendOutgoing(out Outgoing) (Entry, error) {
	if c.conn.ID() == "" {
		return Entry{}, ErrNotRegistered
	}
	e := c.timeline.AddProvisional(out.Text, optional(out.MediaURL), optional(out.MediaType))
	if err := c.conn.Send(c.self, c.timeline.Counterpart(), out, e.TempID); err != nil {
		c.timeline.MarkFailed(e.TempID)
		e.Status = StatusFailed
		return e, err
	}
	return e, nil
}

// Handle applies a router event. It reports whether the timeline changed.
func (c *Chat) Handle(ev Event) bool {
	switch {
	case ev.Message != nil:
		return c.timeline.Apply(ev.Message, ev.ClientRef)
	case ev.Err != nil && ev.Err.ClientRef != "":
		return c.timeline.MarkFailed(ev.Err.ClientRef)
	}
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
