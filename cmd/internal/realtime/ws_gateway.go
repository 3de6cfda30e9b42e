package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/api"
)

const (
	wsSubprotocolV1 = "restroom.sensors.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for the sensor feed.
//
// It must be mounted behind api.Guard.RequireSession: the upgrade happens only
// once a subject is on the request context, so rotation cookies ride on the
// 101 response. It enforces origin policy, subprotocol selection, rate
// limits and heartbeats, and routes subscriptions to the Hub.
//
// Every subscription and publish is scoped to the caller's owning account:
// an account owns its own feeds, an inspector sees its owner's.
type WSGateway struct {
	log        *slog.Logger
	hub        *Hub
	principals PrincipalLookup

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	maxBodyBytes int64
	now          func() time.Time
}

// PrincipalLookup resolves an inspector to its owning account.
// identity.Store satisfies it.
type PrincipalLookup interface {
	GetByID(ctx context.Context, id string) (identity.Principal, error)
}

// NewWSGateway constructs a gateway with secure defaults read from
// RESTROOM_WS_* environment variables. With a nil principals lookup only
// account subjects can use the feed.
func NewWSGateway(log *slog.Logger, hub *Hub, principals PrincipalLookup) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &WSGateway{log: log, hub: hub, principals: principals, now: time.Now, maxBodyBytes: 16 << 10}

	// InsecureSkipVerify disables websocket.Accept's own origin check. Dev only.
	g.devInsecure = envBoolWS("RESTROOM_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("RESTROOM_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("RESTROOM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept allows same-host origins and requires OriginPatterns
	// for cross-origin; derive them from the allowlist so both layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("RESTROOM_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("RESTROOM_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("RESTROOM_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("RESTROOM_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("RESTROOM_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("RESTROOM_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("RESTROOM_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Hub returns the gateway's hub.
func (g *WSGateway) Hub() *Hub { return g.hub }

// Register mounts the feed routes behind guard.
func (g *WSGateway) Register(mux *http.ServeMux, guard *api.Guard) {
	mux.Handle("GET /ws/sensors", guard.RequireSession(http.HandlerFunc(g.HandleWS)))
	mux.Handle("POST /sensors/readings", guard.RequireSession(http.HandlerFunc(g.HandlePublish)))
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandlePublish accepts one reading and fans it out to the restroom's
// subscribers. It answers 202 with the number of queued deliveries.
func (g *WSGateway) HandlePublish(w http.ResponseWriter, r *http.Request) {
	sub, ok := api.SubjectFromContext(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	ownerID, err := g.ownerOf(r.Context(), sub)
	if err != nil {
		g.writeOwnerError(w, sub, err)
		return
	}

	var reading Reading
	if err := api.DecodeJSON(w, r, g.maxBodyBytes, &reading); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := reading.Validate(); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	now := g.now().UTC()
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = now
	}
	reading.PublishedBy = sub.ID

	n := g.hub.Publish(ownerID, reading, now)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "delivered": n})
}

// HandleWS upgrades an authenticated HTTP request to a feed session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	sub, ok := api.SubjectFromContext(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ownerID, err := g.ownerOf(r.Context(), sub)
	if err != nil {
		g.writeOwnerError(w, sub, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(sub.ID, sessionID, g.sendQueueSize)
	g.log.Info("ws.open", "session_id", sessionID, "principal_id", sub.ID, "owner_id", ownerID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		subsMu    sync.Mutex
		subs      = make(map[string]struct{})
	)

	// shutdown is idempotent. It leaves every topic before closing the client
	// so no publisher holds a pointer to a torn-down client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			subsMu.Lock()
			for id := range subs {
				g.hub.Unsubscribe(ownerID, id, sessionID)
			}
			clear(subs)
			subsMu.Unlock()

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := g.now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case TypeHello:
			ack, _ := json.Marshal(HelloAckPayload{SessionID: sessionID, PrincipalID: sub.ID})
			if !g.enqueue(ctx, client, newEnvelope(TypeHelloAck, ack, now)) {
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case TypeSubscribe:
			id, err := subscriptionTarget(env)
			if err != nil {
				g.trySendError(ctx, client, "subscribe_failed", err.Error())
				continue readLoop
			}
			subsMu.Lock()
			_, already := subs[id]
			full := !already && len(subs) >= maxSubscriptions
			if !already && !full {
				subs[id] = struct{}{}
				g.hub.Subscribe(ownerID, id, client)
			}
			subsMu.Unlock()
			if full {
				g.trySendError(ctx, client, "subscribe_failed", fmt.Sprintf("too many subscriptions: max=%d", maxSubscriptions))
				continue readLoop
			}
			g.echo(ctx, client, TypeSubscribe, id, now)

		case TypeUnsubscribe:
			id, err := subscriptionTarget(env)
			if err != nil {
				g.trySendError(ctx, client, "unsubscribe_failed", err.Error())
				continue readLoop
			}
			subsMu.Lock()
			if _, ok := subs[id]; ok {
				delete(subs, id)
				g.hub.Unsubscribe(ownerID, id, sessionID)
			}
			subsMu.Unlock()
			g.echo(ctx, client, TypeUnsubscribe, id, now)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "session_id", sessionID)
}

var errOwnerLookup = errors.New("feed: no principal lookup configured")

// ownerOf returns the account whose feeds sub may read and write.
func (g *WSGateway) ownerOf(ctx context.Context, sub identity.Subject) (string, error) {
	if sub.Kind() == identity.KindAccount {
		return sub.ID, nil
	}
	if g.principals == nil {
		return "", errOwnerLookup
	}
	p, err := g.principals.GetByID(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	insp, ok := p.(identity.Inspector)
	if !ok || insp.OwnerID == "" {
		return "", identity.NotFoundError{Op: "realtime.ownerOf", Resource: "owner"}
	}
	return insp.OwnerID, nil
}

func (g *WSGateway) writeOwnerError(w http.ResponseWriter, sub identity.Subject, err error) {
	if identity.IsNotFound(err) {
		g.log.Info("feed.owner.missing", "principal_id", sub.ID, "err", err)
		api.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden")
		return
	}
	g.log.Error("feed.owner.fail", "principal_id", sub.ID, "err", err)
	api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
}

func subscriptionTarget(env Envelope) (string, error) {
	var p SubscriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if err := validRestroomID(p.RestroomID); err != nil {
		return "", err
	}
	return p.RestroomID, nil
}

// ---- send helpers ----

func (g *WSGateway) echo(ctx context.Context, client *Client, typ, restroomID string, now time.Time) {
	p, _ := json.Marshal(SubscriptionPayload{RestroomID: restroomID})
	_ = g.enqueue(ctx, client, newEnvelope(typ, p, now))
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(TypeError, p, g.now().UTC()))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errBadJSON{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return "bad json: " + e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad errBadJSON
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
