package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Hub owns the in-memory restroom topics. Topics are keyed by owning account
// and restroom id, so two owners never share a feed even when their restroom
// ids collide.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, topics: make(map[string]*Topic)}
}

func topicKey(ownerID, restroomID string) string {
	return ownerID + "/" + restroomID
}

// Subscribe joins client to the owner's restroom topic, creating it on first use.
func (h *Hub) Subscribe(ownerID, restroomID string, client *Client) *Topic {
	key := topicKey(ownerID, restroomID)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[key]
	if !ok {
		t = NewTopic(h.log, key)
		h.topics[key] = t
	}
	t.Join(client)
	return t
}

// Unsubscribe removes client from the owner's restroom topic. Empty topics are
// dropped.
func (h *Hub) Unsubscribe(ownerID, restroomID, sessionID string) {
	key := topicKey(ownerID, restroomID)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[key]
	if !ok {
		return
	}
	t.Leave(sessionID)
	if t.Len() == 0 {
		delete(h.topics, key)
	}
}

// Publish sends r to the subscribers of the owner's restroom and returns how
// many queued it.
func (h *Hub) Publish(ownerID string, r Reading, now time.Time) int {
	payload, err := json.Marshal(r)
	if err != nil {
		h.log.Error("feed.publish.fail", "err", err)
		return 0
	}

	h.mu.RLock()
	t := h.topics[topicKey(ownerID, r.RestroomID)]
	h.mu.RUnlock()

	n := t.Broadcast(newEnvelope(TypeReading, payload, now))
	h.log.Debug("feed.publish.ok", "owner_id", ownerID, "restroom_id", r.RestroomID, "sensor_id", r.SensorID, "delivered", n)
	return n
}

// Topics returns the number of restrooms with at least one subscriber.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
