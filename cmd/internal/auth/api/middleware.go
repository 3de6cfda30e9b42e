package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/session"
)

type subjectKey struct{}

// WithSubject returns ctx carrying sub.
func WithSubject(ctx context.Context, sub identity.Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFromContext returns the subject attached by RequireSession.
func SubjectFromContext(ctx context.Context) (identity.Subject, bool) {
	sub, ok := ctx.Value(subjectKey{}).(identity.Subject)
	return sub, ok && sub.ID != ""
}

// Guard turns session cookies into a request subject.
type Guard struct {
	verifier *session.Verifier
	cookies  cookieJar
	log      *slog.Logger
	now      func() time.Time
}

// NewGuard builds a Guard. A nil logger falls back to slog.Default.
func NewGuard(v *session.Verifier, cfg Config, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{verifier: v, cookies: newCookieJar(cfg.withDefaults()), log: log, now: time.Now}
}

// RequireSession verifies the request cookies. On success the subject is
// attached to the request context; a rotation also sets a fresh access
// cookie and leaves the refresh cookie untouched. Rejections short-circuit
// with the uniform JSON error.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := g.now().UTC()
		res := g.verifier.Verify(r.Context(), g.cookies.credentials(r), now)

		switch res.Outcome {
		case session.Authenticated:
		case session.Rotated:
			g.cookies.setAccess(w, res.AccessToken, now)
			g.log.Debug("session.rotate.ok", "principal_id", res.Subject.ID)
		default:
			g.reject(w, r, res.Rejection)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), res.Subject)))
	})
}

// RequireKind admits only subjects of kind. It must run inside RequireSession.
func (g *Guard) RequireKind(kind identity.Kind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := SubjectFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", session.MsgUnauthorized)
			return
		}
		if sub.Kind() != kind {
			writeError(w, http.StatusForbidden, "forbidden", "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, rej *session.Rejection) {
	if rej == nil {
		rej = &session.Rejection{Kind: session.Internal, Msg: session.MsgInternal}
	}
	status, code := rejectionStatus(rej.Kind)
	if rej.Kind == session.Internal {
		g.log.Error("session.verify.fail", "path", r.URL.Path, "err", rej.Err)
	} else {
		g.log.Debug("session.verify.reject", "path", r.URL.Path, "kind", rej.Kind.String())
	}
	writeError(w, status, code, rej.Msg)
}

func rejectionStatus(k session.RejectionKind) (int, string) {
	switch k {
	case session.Unauthenticated:
		return http.StatusUnauthorized, "unauthorized"
	case session.InvalidToken:
		return http.StatusForbidden, "invalid_token"
	case session.ExpiredSession:
		return http.StatusForbidden, "session_expired"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
