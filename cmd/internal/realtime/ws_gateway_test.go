package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/api"
)

var testSubject = identity.Subject{ID: "01JNQ0000000000000000000US", Role: identity.RoleUser}

// asSubject stands in for api.Guard.RequireSession.
func asSubject(sub identity.Subject, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(api.WithSubject(r.Context(), sub)))
	})
}

func startFeedServer(t *testing.T) (*WSGateway, *httptest.Server) {
	t.Helper()
	return startFeedServerAs(t, nil, testSubject, testSubject)
}

// startFeedServerAs authenticates the feed socket as wsSub and the publish
// endpoint as pubSub.
func startFeedServerAs(t *testing.T, principals PrincipalLookup, wsSub, pubSub identity.Subject) (*WSGateway, *httptest.Server) {
	t.Helper()

	g := NewWSGateway(discardLogger(), nil, principals)
	mux := http.NewServeMux()
	mux.Handle("GET /ws/sensors", asSubject(wsSub, g.HandleWS))
	mux.Handle("POST /sensors/readings", asSubject(pubSub, g.HandlePublish))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return g, ts
}

func subscribeTo(t *testing.T, ctx context.Context, conn *websocket.Conn, restroomID string) {
	t.Helper()

	send(t, ctx, conn, TypeSubscribe, SubscriptionPayload{RestroomID: restroomID})
	require.Equal(t, TypeSubscribe, recv(t, ctx, conn).Type)
}

func dialFeed(t *testing.T, ctx context.Context, baseURL string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/sensors"
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{wsSubprotocolV1}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	p, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(Envelope{V: Version, Type: typ, ID: "c-1", TS: t0, Payload: p})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func recv(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func publish(t *testing.T, baseURL string, r Reading) int {
	t.Helper()

	b, err := json.Marshal(r)
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/sensors/readings", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Delivered int `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Delivered
}

func TestWSGateway_SubscribeAndReceive(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")
	g, ts := startFeedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialFeed(t, ctx, ts.URL)

	send(t, ctx, conn, TypeHello, struct{}{})
	ack := recv(t, ctx, conn)
	require.Equal(t, TypeHelloAck, ack.Type)
	var hello HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &hello))
	assert.Equal(t, testSubject.ID, hello.PrincipalID)
	assert.Len(t, hello.SessionID, 26)

	send(t, ctx, conn, TypeSubscribe, SubscriptionPayload{RestroomID: "r-1"})
	echo := recv(t, ctx, conn)
	require.Equal(t, TypeSubscribe, echo.Type)
	assert.Equal(t, 1, g.Hub().Topics())

	assert.Equal(t, 1, publish(t, ts.URL, testReading("r-1")))
	assert.Equal(t, 0, publish(t, ts.URL, testReading("r-2")))

	env := recv(t, ctx, conn)
	require.Equal(t, TypeReading, env.Type)
	var got Reading
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "r-1", got.RestroomID)
	assert.Equal(t, testSubject.ID, got.PublishedBy)

	send(t, ctx, conn, TypeUnsubscribe, SubscriptionPayload{RestroomID: "r-1"})
	require.Equal(t, TypeUnsubscribe, recv(t, ctx, conn).Type)
	assert.Equal(t, 0, g.Hub().Topics())
}

func TestWSGateway_BadSubscription(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")
	_, ts := startFeedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialFeed(t, ctx, ts.URL)

	send(t, ctx, conn, TypeSubscribe, SubscriptionPayload{})
	env := recv(t, ctx, conn)
	require.Equal(t, TypeError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "subscribe_failed", p.Code)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	env = recv(t, ctx, conn)
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "bad_json", p.Code)
}

func TestWSGateway_RateLimited(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("RESTROOM_WS_RATE_EVENTS", "2")
	t.Setenv("RESTROOM_WS_RATE_WINDOW", "1h")
	_, ts := startFeedServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialFeed(t, ctx, ts.URL)

	for i := 0; i < 2; i++ {
		send(t, ctx, conn, TypeHello, struct{}{})
		assert.Equal(t, TypeHelloAck, recv(t, ctx, conn).Type)
	}
	send(t, ctx, conn, TypeHello, struct{}{})

	// The error envelope may or may not beat the close frame.
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
			return
		}
	}
}

func TestWSGateway_FeedsAreScopedToOwner(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")

	owner := identity.Subject{ID: "01JNQ00000000000000000OWNA", Role: identity.RoleUser}
	stranger := identity.Subject{ID: "01JNQ00000000000000000OWNB", Role: identity.RoleUser}
	_, ts := startFeedServerAs(t, nil, owner, stranger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialFeed(t, ctx, ts.URL)
	subscribeTo(t, ctx, conn, "owner-a-restroom")

	// Same restroom id, different owner: a separate topic with no subscribers.
	assert.Equal(t, 0, publish(t, ts.URL, testReading("owner-a-restroom")))

	// Nothing was queued for the owner; the next frame is the hello ack.
	send(t, ctx, conn, TypeHello, struct{}{})
	assert.Equal(t, TypeHelloAck, recv(t, ctx, conn).Type)
}

func TestWSGateway_InspectorSharesOwnerFeed(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")

	store := identity.NewMemoryStore()
	bg := context.Background()
	acct, err := store.CreateAccount(bg, identity.CreateAccountInput{Email: "owner@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	insp, err := store.CreateInspector(bg, identity.CreateInspectorInput{OwnerID: acct.ID, Email: "insp@example.com", PasswordHash: "h"})
	require.NoError(t, err)

	_, ts := startFeedServerAs(t, store, acct.Subject(), insp.Subject())

	ctx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()
	conn := dialFeed(t, ctx, ts.URL)
	subscribeTo(t, ctx, conn, "r-1")

	assert.Equal(t, 1, publish(t, ts.URL, testReading("r-1")))

	env := recv(t, ctx, conn)
	require.Equal(t, TypeReading, env.Type)
	var got Reading
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, insp.ID, got.PublishedBy)
}

func TestWSGateway_InspectorWithoutOwnerIsRefused(t *testing.T) {
	t.Setenv("RESTROOM_WS_ORIGIN_REQUIRED", "false")
	ghost := identity.Subject{ID: "01JNQ0000000000000000GHOST", Role: identity.RoleInspector}
	body := `{"restroom_id":"r-1","sensor_id":"s","kind":"odor","value":1}`

	tests := []struct {
		name       string
		principals PrincipalLookup
		want       int
	}{
		{"unknown inspector", identity.NewMemoryStore(), http.StatusForbidden},
		{"no lookup", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		g := NewWSGateway(discardLogger(), nil, tt.principals)
		for _, h := range []http.HandlerFunc{g.HandleWS, g.HandlePublish} {
			rr := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/sensors/readings", strings.NewReader(body))
			asSubject(ghost, h).ServeHTTP(rr, r)
			assert.Equal(t, tt.want, rr.Code, tt.name)
		}
	}
}

func TestWSGateway_RequiresSubject(t *testing.T) {
	g := NewWSGateway(discardLogger(), nil, nil)

	for _, h := range []http.HandlerFunc{g.HandleWS, g.HandlePublish} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/ws/sensors", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
}

func TestWSGateway_PublishValidation(t *testing.T) {
	g := NewWSGateway(discardLogger(), nil, nil)
	h := asSubject(testSubject, g.HandlePublish)

	for name, body := range map[string]string{
		"unknown kind":  `{"restroom_id":"r-1","sensor_id":"s","kind":"vibes","value":1}`,
		"unknown field": `{"restroom_id":"r-1","sensor_id":"s","kind":"odor","value":1,"x":1}`,
		"empty":         ``,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sensors/readings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rr.Code, name)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Setenv("RESTROOM_WS_ALLOWED_ORIGINS", "https://app.restroom.example, http://localhost:5173")
	g := NewWSGateway(discardLogger(), nil, nil)

	tests := []struct {
		origin string
		ok     bool
	}{
		{"https://app.restroom.example", true},
		{"http://localhost:5173", true},
		{"http://localhost:3000", true},
		{"https://evil.example", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/sensors", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		err := g.enforceOrigin(r)
		assert.Equal(t, tt.ok, err == nil, "origin %q: %v", tt.origin, err)
	}

	assert.Equal(t, []string{"app.restroom.example", "localhost"}, g.originPatterns)
}
