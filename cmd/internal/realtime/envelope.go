package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSubscribe starts the feed for one restroom (client -> server) and is echoed back.
	TypeSubscribe = "subscribe"
	// TypeUnsubscribe stops the feed for one restroom (client -> server) and is echoed back.
	TypeUnsubscribe = "unsubscribe"

	// TypeReading carries one sensor reading (server -> subscribers).
	TypeReading = "reading"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeHello, TypeHelloAck, TypeSubscribe, TypeUnsubscribe, TypeReading, TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloAckPayload identifies the websocket session and its principal.
type HelloAckPayload struct {
	SessionID   string `json:"session_id"`
	PrincipalID string `json:"principal_id"`
}

// SubscriptionPayload names a restroom feed.
type SubscriptionPayload struct {
	RestroomID string `json:"restroom_id"`
}

// Sensor kinds.
const (
	KindOccupancy   = "occupancy"
	KindOdor        = "odor"
	KindHumidity    = "humidity"
	KindTemperature = "temperature"
	KindSupply      = "supply"
	KindWater       = "water"
)

var sensorKinds = map[string]struct{}{
	KindOccupancy: {}, KindOdor: {}, KindHumidity: {},
	KindTemperature: {}, KindSupply: {}, KindWater: {},
}

// Reading is one sensor observation fanned out to restroom subscribers.
type Reading struct {
	RestroomID  string    `json:"restroom_id"`
	SensorID    string    `json:"sensor_id"`
	Kind        string    `json:"kind"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	PublishedBy string    `json:"published_by,omitempty"`
}

// Validate checks the reading fields supplied by a publisher.
func (r Reading) Validate() error {
	if err := validRestroomID(r.RestroomID); err != nil {
		return err
	}
	if s := strings.TrimSpace(r.SensorID); s == "" || utf8.RuneCountInString(s) > maxIDChars {
		return errors.New("invalid sensor_id")
	}
	if _, ok := sensorKinds[r.Kind]; !ok {
		return fmt.Errorf("unknown kind: %q", r.Kind)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.New("value must be finite")
	}
	if utf8.RuneCountInString(r.Unit) > maxIDChars {
		return errors.New("unit too long")
	}
	return nil
}

// ErrorPayload is sent with TypeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func validRestroomID(id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return errors.New("missing restroom_id")
	}
	if s != id || utf8.RuneCountInString(s) > maxIDChars {
		return errors.New("invalid restroom_id")
	}
	return nil
}
