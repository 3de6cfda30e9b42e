package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
// One mutex guards both namespaces so the cross-namespace email check and the
// insert are atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]Account
	inspectors map[string]Inspector
	byEmail    map[Kind]map[string]string // kind -> email -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]Account),
		inspectors: make(map[string]Inspector),
		byEmail: map[Kind]map[string]string{
			KindAccount:   {},
			KindInspector: {},
		},
	}
}

func (s *MemoryStore) FindByEmail(ctx context.Context, kind Kind, email string) (Principal, error) {
	const op = "identity.FindByEmail"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byEmail[kind]
	if !ok {
		return nil, invalid(op, "unknown kind")
	}
	id, ok := idx[NormalizeEmail(email)]
	if !ok {
		return nil, NotFoundError{Op: op, Resource: string(kind)}
	}
	return s.getLocked(op, id)
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked("identity.GetByID", id)
}

func (s *MemoryStore) getLocked(op, id string) (Principal, error) {
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	if i, ok := s.inspectors[id]; ok {
		return i, nil
	}
	return nil, NotFoundError{Op: op, Resource: "principal"}
}

func (s *MemoryStore) emailTakenLocked(email string) bool {
	for _, idx := range s.byEmail {
		if _, ok := idx[email]; ok {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	email := NormalizeEmail(in.Email)
	if err := validateCreate(op, email, in.PasswordHash); err != nil {
		return Account{}, err
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return Account{}, invalid(op, "account role must be user or admin")
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return Account{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTakenLocked(email) {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}

	a := Account{
		Credentials: Credentials{ID: id, Email: email, PasswordHash: in.PasswordHash, CreatedAt: now, UpdatedAt: now},
		Role:        role,
		Profile:     in.Profile,
	}
	s.accounts[id] = a
	s.byEmail[KindAccount][email] = id
	return a, nil
}

func (s *MemoryStore) CreateInspector(ctx context.Context, in CreateInspectorInput) (Inspector, error) {
	const op = "identity.CreateInspector"
	if err := ctx.Err(); err != nil {
		return Inspector{}, err
	}

	email := NormalizeEmail(in.Email)
	if err := validateCreate(op, email, in.PasswordHash); err != nil {
		return Inspector{}, err
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return Inspector{}, invalid(op, "owner is required")
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return Inspector{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[in.OwnerID]; !ok {
		return Inspector{}, NotFoundError{Op: op, Resource: "owner"}
	}
	if s.emailTakenLocked(email) {
		return Inspector{}, ConflictError{Op: op, Field: "email"}
	}

	i := Inspector{
		Credentials: Credentials{ID: id, Email: email, PasswordHash: in.PasswordHash, CreatedAt: now, UpdatedAt: now},
		OwnerID:     in.OwnerID,
		Profile:     in.Profile,
	}
	s.inspectors[id] = i
	s.byEmail[KindInspector][email] = id
	return i, nil
}

func (s *MemoryStore) ListInspectors(ctx context.Context, ownerID string) ([]Inspector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Inspector, 0)
	for _, i := range s.inspectors {
		if i.OwnerID == ownerID {
			out = append(out, i)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id string, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now = nowOr(now)
	if a, ok := s.accounts[id]; ok {
		a.PasswordHash, a.UpdatedAt = hash, now
		s.accounts[id] = a
		return nil
	}
	if i, ok := s.inspectors[id]; ok {
		i.PasswordHash, i.UpdatedAt = hash, now
		s.inspectors[id] = i
		return nil
	}
	return NotFoundError{Op: op, Resource: "principal"}
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, patch ProfilePatch, now time.Time) (Principal, error) {
	const op = "identity.UpdateProfile"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now = nowOr(now)
	if a, ok := s.accounts[id]; ok {
		patch.apply(&a.Profile)
		a.UpdatedAt = now
		s.accounts[id] = a
		return a, nil
	}
	if i, ok := s.inspectors[id]; ok {
		patch.apply(&i.Profile)
		i.UpdatedAt = now
		s.inspectors[id] = i
		return i, nil
	}
	return nil, NotFoundError{Op: op, Resource: "principal"}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
