package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"restroom/cmd/internal/auth/session"
)

func TestMaxAgeSeconds(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want int
	}{
		{"whole", 15 * time.Minute, 900},
		{"rounds up", 1500 * time.Millisecond, 2},
		{"sub-second", time.Millisecond, 1},
		{"expired", 0, -1},
		{"past", -time.Minute, -1},
	}
	for _, tc := range tests {
		if got := maxAgeSeconds(t0.Add(tc.d), t0); got != tc.want {
			t.Fatalf("%s: maxAgeSeconds=%d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCookieJar_Credentials(t *testing.T) {
	j := newCookieJar(DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: " acc "})
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "ref"})

	got := j.credentials(req)
	if got != (session.Credentials{Access: "acc", Refresh: "ref"}) {
		t.Fatalf("unexpected credentials: %+v", got)
	}

	if got := j.credentials(httptest.NewRequest(http.MethodGet, "/", nil)); got != (session.Credentials{}) {
		t.Fatalf("expected empty credentials, got %+v", got)
	}
}

func TestCookieJar_ClearExpiresBoth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieDomain = "restroom.example"
	j := newCookieJar(cfg)

	rr := httptest.NewRecorder()
	j.clear(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
			t.Fatalf("unexpected cookie: %+v", c)
		}
		if c.Domain != "restroom.example" {
			t.Fatalf("expected domain, got %q", c.Domain)
		}
	}
}
