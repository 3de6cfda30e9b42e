package realtime

import (
	"log/slog"
	"sync"
)

// Topic is the subscriber set of one restroom feed. ID is "<owner>/<restroom>".
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks: a
// full subscriber queue drops the envelope for that subscriber only.
type Topic struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewTopic constructs an empty topic.
func NewTopic(log *slog.Logger, id string) *Topic {
	return &Topic{log: log, ID: id, members: make(map[string]*Client)}
}

// Join adds a client to the topic.
func (t *Topic) Join(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}

	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()

	t.log.Debug("feed.subscribe", "topic", t.ID, "session_id", client.SessionID)
}

// Leave removes a client from the topic. It does not close the client.
func (t *Topic) Leave(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}

	t.mu.Lock()
	delete(t.members, sessionID)
	t.mu.Unlock()

	t.log.Debug("feed.unsubscribe", "topic", t.ID, "session_id", sessionID)
}

// Len returns the number of subscribers.
func (t *Topic) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Broadcast fans env out to all subscribers and returns how many queued it.
func (t *Topic) Broadcast(env Envelope) int {
	if t == nil {
		return 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for _, m := range t.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			t.log.Warn("feed.drop", "topic", t.ID, "session_id", m.SessionID)
		}
	}
	return delivered
}
