package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingLedger struct {
	Ledger
	err error
}

func (f failingLedger) GetByValue(context.Context, string, time.Time) (Entry, error) {
	return Entry{}, f.err
}

type verifierFixture struct {
	codec   *Codec
	ledger  *MemoryLedger
	v       *Verifier
	access  Token
	refresh Token
}

func newVerifierFixture(t *testing.T) verifierFixture {
	t.Helper()

	c := mustCodec(t)
	l := NewMemoryLedger()
	sub := userSubject()

	acc, err := c.IssueAccessToken(sub, t0)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	ref, err := c.IssueRefreshToken(sub, t0)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, _, err := l.Put(context.Background(), sub.ID, ref.Value, c.RefreshTTL(), t0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return verifierFixture{codec: c, ledger: l, v: NewVerifier(c, l, nil), access: acc, refresh: ref}
}

func TestVerifier_NoCredentials(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{}, t0)
	assertRejected(t, res, Unauthenticated)
}

func TestVerifier_ValidAccess(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{Access: f.access.Value}, t0.Add(time.Minute))
	if res.Outcome != Authenticated {
		t.Fatalf("expected Authenticated, got %v (%v)", res.Outcome, res.Err())
	}
	if res.Subject != userSubject() {
		t.Fatalf("unexpected subject: %+v", res.Subject)
	}
	if res.AccessToken.Value != "" {
		t.Fatalf("no token must be minted for a valid access token")
	}
}

func TestVerifier_InvalidAccessDoesNotRefresh(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{Access: "garbage", Refresh: f.refresh.Value}, t0)
	assertRejected(t, res, InvalidToken)
	if res.Rejection.Msg != MsgInvalidAccessToken {
		t.Fatalf("unexpected message: %q", res.Rejection.Msg)
	}
}

func TestVerifier_ExpiredAccessRotates(t *testing.T) {
	f := newVerifierFixture(t)
	later := t0.Add(20 * time.Minute)

	res := f.v.Verify(context.Background(), Credentials{Access: f.access.Value, Refresh: f.refresh.Value}, later)
	if res.Outcome != Rotated {
		t.Fatalf("expected Rotated, got %v (%v)", res.Outcome, res.Err())
	}
	if res.Subject.ID != userSubject().ID || res.Subject.Email != "" {
		t.Fatalf("rotated subject must carry id and role only: %+v", res.Subject)
	}

	claims, err := f.codec.Verify(ClassAccess, res.AccessToken.Value, later)
	if err != nil {
		t.Fatalf("minted access token does not verify: %v", err)
	}
	if claims.Subject.Role != userSubject().Role {
		t.Fatalf("role lost on rotation: %+v", claims.Subject)
	}

	// Rotation must not touch the ledger.
	e, err := f.ledger.Get(context.Background(), userSubject().ID, later)
	if err != nil || e.Value != f.refresh.Value {
		t.Fatalf("ledger changed by rotation: %+v %v", e, err)
	}
}

func TestVerifier_MissingAccessWithRefreshRotates(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{Refresh: f.refresh.Value}, t0.Add(time.Hour))
	if res.Outcome != Rotated {
		t.Fatalf("expected Rotated, got %v (%v)", res.Outcome, res.Err())
	}
}

func TestVerifier_ExpiredAccessWithoutRefresh(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{Access: f.access.Value}, t0.Add(time.Hour))
	assertRejected(t, res, Unauthenticated)
}

func TestVerifier_DeletedEntryRejects(t *testing.T) {
	f := newVerifierFixture(t)
	_ = f.ledger.Delete(context.Background(), userSubject().ID)

	res := f.v.Verify(context.Background(), Credentials{Access: f.access.Value, Refresh: f.refresh.Value}, t0.Add(time.Hour))
	assertRejected(t, res, ExpiredSession)
	if res.Rejection.Msg != MsgLoginAgain {
		t.Fatalf("unexpected message: %q", res.Rejection.Msg)
	}
}

func TestVerifier_ExpiredEntryRejects(t *testing.T) {
	f := newVerifierFixture(t)

	res := f.v.Verify(context.Background(), Credentials{Refresh: f.refresh.Value}, t0.Add(49*time.Hour))
	assertRejected(t, res, ExpiredSession)
}

func TestVerifier_SubjectMismatchRejects(t *testing.T) {
	f := newVerifierFixture(t)

	// Record the token under a different principal.
	_ = f.ledger.Delete(context.Background(), userSubject().ID)
	if _, _, err := f.ledger.Put(context.Background(), "someone-else", f.refresh.Value, time.Hour, t0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res := f.v.Verify(context.Background(), Credentials{Refresh: f.refresh.Value}, t0.Add(20*time.Minute))
	assertRejected(t, res, InvalidToken)
	if res.Rejection.Msg != MsgInvalidRefreshToken {
		t.Fatalf("unexpected message: %q", res.Rejection.Msg)
	}
}

func TestVerifier_LedgerFailureIsInternal(t *testing.T) {
	f := newVerifierFixture(t)
	boom := errors.New("connection reset")
	v := NewVerifier(f.codec, failingLedger{err: boom}, nil)

	res := v.Verify(context.Background(), Credentials{Refresh: f.refresh.Value}, t0.Add(time.Hour))
	assertRejected(t, res, Internal)
	if !errors.Is(res.Err(), boom) {
		t.Fatalf("cause not preserved: %v", res.Err())
	}
}

func TestVerifier_ConcurrentRotationsAreIndependent(t *testing.T) {
	f := newVerifierFixture(t)
	later := t0.Add(30 * time.Minute)

	done := make(chan Result, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			done <- f.v.Verify(context.Background(), Credentials{Access: f.access.Value, Refresh: f.refresh.Value}, later)
		}()
	}
	for i := 0; i < cap(done); i++ {
		if res := <-done; res.Outcome != Rotated {
			t.Fatalf("expected Rotated, got %v (%v)", res.Outcome, res.Err())
		}
	}
}

func assertRejected(t *testing.T, res Result, kind RejectionKind) {
	t.Helper()

	if res.Outcome != Rejected || res.Rejection == nil {
		t.Fatalf("expected Rejected(%v), got %v", kind, res.Outcome)
	}
	if res.Rejection.Kind != kind {
		t.Fatalf("expected %v, got %v (%v)", kind, res.Rejection.Kind, res.Rejection)
	}
	var rej *Rejection
	if !errors.As(res.Err(), &rej) {
		t.Fatalf("Err() must expose *Rejection")
	}
}
