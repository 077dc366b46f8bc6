// Package client keeps a locally rendered conversation consistent with the
// router: optimistic inserts on send, reconciled against the router's echoes.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

// DefaultMatchWindow is how far apart a provisional entry's local send time and
// the canonical record's server timestamp may be and still match.
const DefaultMatchWindow = 30 * time.Second

type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one visible row of a conversation.
type Entry struct {
	domain.Message
	TempID string // set for entries that started as optimistic inserts
	Own    bool
	Status Status
	SentAt time.Time // local clock, provisional entries only
}

// Match reports whether canonical is the router's record of the provisional
// entry p: same sender and counterpart, same content, and a server timestamp
// within window of the local send time.
func Match(p Entry, canonical *domain.Message, window time.Duration) bool {
	if p.TempID == "" || p.Status == StatusConfirmed || canonical == nil {
		return false
	}
	if p.SenderID != canonical.SenderID || p.ReceiverID != canonical.ReceiverID {
		return false
	}
	if p.Text != canonical.Text || deref(p.MediaURL) != deref(canonical.MediaURL) {
		return false
	}
	d := canonical.CreatedAt.Sub(p.SentAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Timeline is the ordered message list for one conversation as seen by self.
// It is safe for concurrent use.
type Timeline struct {
	self        string
	counterpart string
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries []*Entry
	seen    map[int64]struct{}
}

type Option func(*Timeline)

func WithMatchWindow(d time.Duration) Option {
	return func(t *Timeline) { t.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Timeline) { t.now = now }
}

func NewTimeline(self, counterpart string, opts ...Option) *Timeline {
	t := &Timeline{
		self:        self,
		counterpart: counterpart,
		window:      DefaultMatchWindow,
		now:         time.Now,
		seen:        make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Timeline) Counterpart() string { return t.counterpart }

// Hydrate replaces the timeline with history, which must be oldest first.
// Anything not yet confirmed is dropped.
func (t *Timeline) Hydrate(history []*domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make([]*Entry, 0, len(history))
	t.seen = make(map[int64]struct{}, len(history))
	for _, m := range history {
		if !t.belongs(m) {
			continue
		}
		if _, dup := t.seen[m.ID]; dup {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.entries = append(t.entries, &Entry{Message: *m, Own: m.SenderID == t.self, Status: StatusConfirmed})
	}
}

// AddProvisional appends an own-authored pending entry and returns it.
func (t *Timeline) AddProvisional(text string, mediaURL, mediaType *string) Entry {
	e := &Entry{
		Message: domain.Message{
			SenderID:   t.self,
			ReceiverID: t.counterpart,
			Text:       text,
			MediaURL:   mediaURL,
			MediaType:  mediaType,
		},
		TempID: "tmp-" + uuid.NewString(),
		Own:    true,
		Status: StatusPending,
		SentAt: t.now(),
	}
	e.CreatedAt = e.SentAt

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return *e
}

// Apply merges a routed message. An own echo replaces its provisional entry
// in place; anything else is appended. Records already present are ignored.
// It reports whether the visible list changed.
func (t *Timeline) Apply(m *domain.Message, clientRef string) bool {
	if m == nil || !t.belongs(m) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}

	if m.SenderID == t.self {
		if e := t.findProvisional(m, clientRef); e != nil {
			e.Message = *m
			e.Status = StatusConfirmed
			return true
		}
	}
	t.entries = append(t.entries, &Entry{Message: *m, Own: m.SenderID == t.self, Status: StatusConfirmed})
	return true
}

func (t *Timeline) findProvisional(m *domain.Message, clientRef string) *Entry {
	if clientRef != "" {
		for _, e := range t.entries {
			if e.TempID == clientRef && e.Status != StatusConfirmed {
				return e
			}
		}
	}
	for _, e := range t.entries {
		if Match(*e, m, t.window) {
			return e
		}
	}
	return nil
}

// MarkFailed flags a pending entry as not delivered.
func (t *Timeline) MarkFailed(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.TempID == tempID && e.Status == StatusPending {
			e.Status = StatusFailed
			return true
		}
	}
	return false
}

// ExpireUnconfirmed fails every pending entry sent more than timeout ago and
// returns their temp ids. A later echo still confirms them.
func (t *Timeline) ExpireUnconfirmed(timeout time.Duration) []string {
	cutoff := t.now().Add(-timeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for _, e := range t.entries {
		if e.Status == StatusPending && e.SentAt.Before(cutoff) {
			e.Status = StatusFailed
			expired = append(expired, e.TempID)
		}
	}
	return expired
}

// Messages returns a snapshot of the visible list.
func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timeline) belongs(m *domain.Message) bool {
	return (m.SenderID == t.self && m.ReceiverID == t.counterpart) ||
		(m.SenderID == t.counterpart && m.ReceiverID == t.self)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
