// Package main is a CI-friendly smoke test for a running restroom server.
//
// It checks, in order:
//   - signup (or login) sets session cookies
//   - the sensor feed upgrades with those cookies and subprotocol selection
//   - hello/ack
//   - subscribe echo
//   - a published reading reaches the subscriber
//   - logout
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "restroom.sensors.v1"
	maxReadBytes = 1 << 16
)

type envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type reading struct {
	RestroomID string  `json:"restroom_id"`
	SensorID   string  `json:"sensor_id"`
	Kind       string  `json:"kind"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
}

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost:5173", "Origin header for the WebSocket handshake")
		email    = flag.String("email", "", "Account email (default: a fresh smoke address)")
		password = flag.String("password", "smoke-pass-1", "Account password")
		signup   = flag.Bool("signup", true, "Sign up before connecting (false logs in instead)")
		room     = flag.String("restroom", "smoke-r1", "Restroom id to subscribe to")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	baseURL, err := url.Parse(*base)
	if err != nil || (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		fatalf("invalid -base %q", *base)
	}
	if *email == "" {
		*email = fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: *timeout}

	if *signup {
		mustPost(client, *base+"/auth/signup", map[string]string{
			"fullName": "Smoke Test",
			"email":    *email,
			"password": *password,
		}, http.StatusCreated)
	} else {
		mustPost(client, *base+"/auth/login", map[string]string{
			"email":    *email,
			"password": *password,
		}, http.StatusOK)
	}
	if len(jar.Cookies(baseURL)) < 2 {
		fatalf("expected accessToken and refreshToken cookies, got %d", len(jar.Cookies(baseURL)))
	}
	if *verbose {
		fmt.Printf("authenticated as %s\n", *email)
	}

	ctx := context.Background()
	conn := mustDial(ctx, wsURL(baseURL), *origin, jar, baseURL, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustWrite(ctx, conn, envelope{Type: "hello"}, *timeout)
	ack := mustReadType(ctx, conn, "hello_ack", *timeout)
	if *verbose {
		fmt.Printf("hello_ack: %s\n", ack.Payload)
	}

	sub, _ := json.Marshal(map[string]string{"restroom_id": *room})
	mustWrite(ctx, conn, envelope{Type: "subscribe", Payload: sub}, *timeout)
	mustReadType(ctx, conn, "subscribe", *timeout)

	want := reading{RestroomID: *room, SensorID: "smoke-odor-1", Kind: "odor", Value: 0.42, Unit: "ppm"}
	res := mustPost(client, *base+"/sensors/readings", want, http.StatusAccepted)
	var pub struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(res, &pub); err != nil || pub.Delivered < 1 {
		fatalf("publish: delivered=%d err=%v body=%s", pub.Delivered, err, res)
	}

	env := mustReadType(ctx, conn, "reading", *timeout)
	var got reading
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		fatalf("decode reading: %v", err)
	}
	if got.RestroomID != want.RestroomID || got.Value != want.Value {
		fatalf("reading mismatch: got=%+v want=%+v", got, want)
	}

	mustPost(client, *base+"/auth/logout", struct{}{}, http.StatusOK)
	fmt.Println("OK: sensor feed smoke passed")
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/sensors"
	return u.String()
}

func mustPost(client *http.Client, target string, body any, want int) []byte {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	resp, err := client.Post(target, "application/json", bytes.NewReader(b))
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != want {
		fatalf("POST %s: status=%d want=%d body=%s", target, resp.StatusCode, want, buf.String())
	}
	return buf.Bytes()
}

func mustDial(ctx context.Context, target, origin string, jar http.CookieJar, base *url.URL, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	for _, c := range jar.Cookies(base) {
		h.Add("Cookie", c.String())
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", target, err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWrite(ctx context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	env.V = "v1"
	env.ID = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	env.TS = time.Now().UTC()
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustReadType(ctx context.Context, conn *websocket.Conn, want string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("timeout waiting for %q", want)
			}
			fatalf("read while waiting for %q: %v", want, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("bad json: %v", err)
		}
		switch env.Type {
		case want:
			return env
		case "error":
			fatalf("server error while waiting for %q: %s", want, env.Payload)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
