package api

import (
	"net/http"
	"strings"
	"time"

	"restroom/cmd/internal/auth/session"
)

// Cookie names are part of the client contract.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// cookieJar writes and reads the session cookies.
type cookieJar struct {
	domain string
	path   string
	secure bool
}

func newCookieJar(cfg Config) cookieJar {
	return cookieJar{domain: cfg.CookieDomain, path: cfg.CookiePath, secure: !cfg.Development}
}

// credentials returns the raw cookie values. Missing cookies are empty.
func (j cookieJar) credentials(r *http.Request) session.Credentials {
	return session.Credentials{
		Access:  cookieValue(r, AccessCookie),
		Refresh: cookieValue(r, RefreshCookie),
	}
}

func (j cookieJar) setAccess(w http.ResponseWriter, tok session.Token, now time.Time) {
	j.set(w, AccessCookie, tok, now)
}

// setRefresh sets the refresh cookie. For a reused ledger entry the max-age
// is the entry's remaining lifetime, never a fresh TTL.
func (j cookieJar) setRefresh(w http.ResponseWriter, tok session.Token, now time.Time) {
	j.set(w, RefreshCookie, tok, now)
}

func (j cookieJar) setSession(w http.ResponseWriter, s session.Session, now time.Time) {
	j.setAccess(w, s.Access, now)
	j.setRefresh(w, s.Refresh, now)
}

func (j cookieJar) clear(w http.ResponseWriter) {
	j.expire(w, AccessCookie)
	j.expire(w, RefreshCookie)
}

func (j cookieJar) set(w http.ResponseWriter, name string, tok session.Token, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    tok.Value,
		Path:     j.path,
		Domain:   j.domain,
		Expires:  tok.ExpiresAt,
		MaxAge:   maxAgeSeconds(tok.ExpiresAt, now),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (j cookieJar) expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     j.path,
		Domain:   j.domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// maxAgeSeconds rounds up to whole seconds. Live tokens get at least 1 since
// MaxAge 0 would make a browser-session cookie.
func maxAgeSeconds(exp, now time.Time) int {
	d := exp.Sub(now)
	if d <= 0 {
		return -1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
