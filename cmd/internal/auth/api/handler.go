package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/session"
)

// Deps are the services the auth endpoints are built on.
type Deps struct {
	Store    identity.Store
	Hasher   session.PasswordHasher
	Issuer   *session.Issuer
	Verifier *session.Verifier
	// Auditor defaults to a LogAuditor.
	Auditor Auditor
}

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	store   identity.Store
	hasher  session.PasswordHasher
	issuer  *session.Issuer
	guard   *Guard
	cookies cookieJar
	auditor Auditor
	limiter *ipLimiter

	now func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Store == nil || deps.Hasher == nil || deps.Issuer == nil || deps.Verifier == nil {
		return nil, errors.New("auth api: missing dependency")
	}
	cfg = cfg.withDefaults()

	auditor := deps.Auditor
	if auditor == nil {
		auditor = NewLogAuditor(log)
	}

	return &Handler{
		log:     log,
		cfg:     cfg,
		store:   deps.Store,
		hasher:  deps.Hasher,
		issuer:  deps.Issuer,
		guard:   NewGuard(deps.Verifier, cfg, log),
		cookies: newCookieJar(cfg),
		auditor: auditor,
		limiter: newIPLimiter(cfg.AuthRatePerMinute, cfg.AuthBurst, cfg.AuthLimiterTTL),
		now:     time.Now,
	}, nil
}

// Guard returns the session guard so other routes can be protected the same way.
func (h *Handler) Guard() *Guard { return h.guard }

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	authed := func(fn http.HandlerFunc) http.Handler {
		return h.guard.RequireSession(fn)
	}
	accountOnly := func(fn http.HandlerFunc) http.Handler {
		return h.guard.RequireSession(h.guard.RequireKind(identity.KindAccount, fn))
	}

	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("POST /auth/logout", authed(h.handleLogout))
	mux.Handle("GET /auth/profile", authed(h.handleProfile))
	mux.Handle("PATCH /auth/profile", authed(h.handleProfileUpdate))
	mux.Handle("POST /auth/change-password", authed(h.handleChangePassword))
	mux.Handle("POST /auth/inspectors", accountOnly(h.handleInspectorCreate))
	mux.Handle("GET /auth/inspectors", accountOnly(h.handleInspectorList))
}

// ---- handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retryAfter := h.limiter.allow(ip, now); !ok {
		h.log.Warn("auth.signup.rate_limited", "ip", ipString(ip))
		writeRateLimited(w, retryAfter)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	in, err := req.toInput(h.cfg.AllowAdminSignup)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", clientMessage(err))
		return
	}

	sess, err := h.issuer.Signup(r.Context(), in, now)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrDuplicatePrincipal):
		h.log.Info("auth.signup.fail", "reason", "duplicate")
		writeError(w, http.StatusBadRequest, "user_exists", "User already exists")
		return
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", clientMessage(err))
		return
	case errors.Is(err, session.ErrSessionNotEstablished):
		h.log.Error("auth.signup.fail", "reason", "no_session", "err", err)
		writeError(w, http.StatusInternalServerError, "login_required", session.MsgSignupLogin)
		return
	default:
		h.log.Error("auth.signup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", session.MsgInternal)
		return
	}

	id := sess.Principal.Subject().ID
	h.cookies.setSession(w, sess, now)
	h.audit(r, AuditSignup, id, map[string]any{"role": string(in.Role)})
	h.log.Info("auth.signup.ok", "principal_id", id)

	writeJSON(w, http.StatusCreated, userEnvelope{
		Success: true,
		Message: "Registered Successfully",
		User:    toPrincipalResponse(sess.Principal),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retryAfter := h.limiter.allow(ip, now); !ok {
		h.audit(r, AuditLoginLimited, "", map[string]any{"retry_after_s": int64(retryAfter.Seconds())})
		writeRateLimited(w, retryAfter)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Please provide email and password")
		return
	}

	sess, err := h.issuer.Login(r.Context(), email, req.Password, now)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.audit(r, AuditLoginFailed, "", map[string]any{"identifier": identity.NormalizeEmail(email)})
			h.log.Info("auth.login.fail", "ip", ipString(ip))
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid email or password")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", session.MsgInternal)
		return
	}

	sub := sess.Principal.Subject()
	h.cookies.setSession(w, sess, now)
	h.audit(r, AuditLoginSuccess, sub.ID, map[string]any{
		"kind":   string(sub.Kind()),
		"reused": sess.Reused,
	})
	h.log.Info("auth.login.ok", "principal_id", sub.ID, "kind", string(sub.Kind()), "reused", sess.Reused)

	writeJSON(w, http.StatusOK, userEnvelope{
		Success: true,
		Message: "Login successful",
		User:    toPrincipalResponse(sess.Principal),
	})
}

// handleLogout always clears the cookies. A ledger failure is reported as 500
// since the refresh token would otherwise stay usable.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())
	h.cookies.clear(w)

	if err := h.issuer.Logout(r.Context(), sub.ID); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "principal_id", sub.ID)
		writeError(w, http.StatusInternalServerError, "internal", session.MsgInternal)
		return
	}

	h.audit(r, AuditLogout, sub.ID, nil)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully."})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())

	p, err := h.store.GetByID(r.Context(), sub.ID)
	if err != nil {
		h.writeStoreError(w, "auth.profile.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{Success: true, User: toPrincipalResponse(p)})
}

func (h *Handler) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())

	var req profilePatchRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	patch, err := req.toPatch(sub.Kind())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", clientMessage(err))
		return
	}

	p, err := h.store.UpdateProfile(r.Context(), sub.ID, patch, h.now().UTC())
	if err != nil {
		h.writeStoreError(w, "auth.profile.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{
		Success: true,
		Message: "Profile updated successfully.",
		User:    toPrincipalResponse(p),
	})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Old password, new password, and confirm password are required.")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "invalid_request", "New password and confirm password do not match.")
		return
	}

	err := h.issuer.ChangePassword(r.Context(), sub.ID, req.OldPassword, req.NewPassword, h.now().UTC())
	if errors.Is(err, session.ErrInvalidCredentials) {
		writeError(w, http.StatusBadRequest, "invalid_credentials", "Incorrect old password.")
		return
	}
	if err != nil {
		h.writeStoreError(w, "auth.password.change.fail", err)
		return
	}

	h.audit(r, AuditPasswordChanged, sub.ID, nil)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password changed successfully."})
}

func (h *Handler) handleInspectorCreate(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())

	var req inspectorCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	name, email, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", clientMessage(err))
		return
	}
	hash, err := h.hasher.HashPassword(req.Password)
	if err != nil {
		h.writeStoreError(w, "auth.inspector.create.fail", err)
		return
	}

	insp, err := h.store.CreateInspector(r.Context(), identity.CreateInspectorInput{
		OwnerID:      sub.ID,
		Email:        email,
		PasswordHash: hash,
		Profile:      identity.Profile{FullName: name},
		Now:          h.now().UTC(),
	})
	if err != nil {
		h.writeStoreError(w, "auth.inspector.create.fail", err)
		return
	}

	h.audit(r, AuditInspectorAdded, sub.ID, map[string]any{"inspector_id": insp.ID})
	h.log.Info("auth.inspector.create.ok", "owner_id", sub.ID, "inspector_id", insp.ID)
	writeJSON(w, http.StatusCreated, inspectorEnvelope{
		Success:   true,
		Message:   "Inspector created",
		Inspector: toPrincipalResponse(insp),
	})
}

func (h *Handler) handleInspectorList(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())

	list, err := h.store.ListInspectors(r.Context(), sub.ID)
	if err != nil {
		h.writeStoreError(w, "auth.inspector.list.fail", err)
		return
	}
	out := make([]principalResponse, 0, len(list))
	for _, insp := range list {
		out = append(out, toPrincipalResponse(insp))
	}
	writeJSON(w, http.StatusOK, inspectorListResponse{Success: true, Inspectors: out})
}

// writeStoreError maps identity errors; anything unclassified is a logged 500.
func (h *Handler) writeStoreError(w http.ResponseWriter, event string, err error) {
	switch {
	case identity.IsConflict(err):
		writeError(w, http.StatusBadRequest, "user_exists", "User already exists")
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "User not found.")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", clientMessage(err))
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", session.MsgInternal)
	}
}
