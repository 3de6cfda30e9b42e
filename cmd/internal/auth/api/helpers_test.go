package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/session"
	"restroom/cmd/security/password"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *identity.MemoryStore
	ledger  *session.MemoryLedger
	codec   *session.Codec
	handler *Handler
	mux     *http.ServeMux
	clock   *testClock
	audits  *recordingAuditor
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, ev AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	scfg := session.DefaultConfig()
	scfg.AccessSecret = []byte(strings.Repeat("a", session.MinSecretBytes))
	scfg.RefreshSecret = []byte(strings.Repeat("r", session.MinSecretBytes))
	codec, err := session.NewCodec(scfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	pcfg := password.DefaultConfig()
	pcfg.Params.MemoryKiB = 8 * 1024
	pcfg.Params.Iterations = 1
	pcfg.Params.Parallelism = 1
	hasher, err := identity.NewHasher(pcfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := identity.NewMemoryStore()
	ledger := session.NewMemoryLedger()
	audits := &recordingAuditor{}

	cfg := DefaultConfig()
	cfg.AuthRatePerMinute = 600
	cfg.AuthBurst = 100
	for _, m := range mutate {
		m(&cfg)
	}

	h, err := NewHandler(log, cfg, Deps{
		Store:    store,
		Hasher:   hasher,
		Issuer:   session.NewIssuer(store, hasher, codec, ledger, log, nil),
		Verifier: session.NewVerifier(codec, ledger, nil),
		Auditor:  audits,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	clock := &testClock{now: t0}
	h.now = clock.Now
	h.guard.now = clock.Now

	mux := http.NewServeMux()
	h.Register(mux)

	return &fixture{store: store, ledger: ledger, codec: codec, handler: h, mux: mux, clock: clock, audits: audits}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.7:51000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) signup(t *testing.T, email, pw string) *httptest.ResponseRecorder {
	t.Helper()

	rr := f.do(t, http.MethodPost, "/auth/signup", map[string]any{
		"fullName": "Test User",
		"email":    email,
		"password": pw,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	return rr
}

func (f *fixture) login(t *testing.T, email, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/login", map[string]any{"email": email, "password": pw})
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func mustCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	c := responseCookie(rr, name)
	if c == nil {
		t.Fatalf("expected %s cookie, got %v", name, rr.Result().Cookies())
	}
	return c
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()

	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}
