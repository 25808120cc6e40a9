package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docchat/internal/domain"
)

type fakeAccounts struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	getErr    error
	createErr error
	incErr    error
	tierErr   error
	memoryErr error
	creates   int
	incCalls  int
}

func newFakeAccounts(accts ...domain.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]domain.Account{}}
	for _, a := range accts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (domain.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Account{}, false, f.getErr
	}
	a, ok := f.accounts[id]
	return a, ok, nil
}

func (f *fakeAccounts) CreateAccount(_ context.Context, a domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.accounts[a.ID]; ok {
		return fmt.Errorf("exists: %w", domain.ErrConflict)
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccounts) IncrementUsage(_ context.Context, id string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incCalls++
	if f.incErr != nil {
		return 0, f.incErr
	}
	a, ok := f.accounts[id]
	if !ok || a.UsageCount >= limit {
		return 0, fmt.Errorf("increment: %w", domain.ErrConflict)
	}
	a.UsageCount++
	f.accounts[id] = a
	return a.UsageCount, nil
}

func (f *fakeAccounts) SetTier(_ context.Context, id string, tier domain.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tierErr != nil {
		return f.tierErr
	}
	a := f.accounts[id]
	a.Tier = tier
	a.UsageCount = 0
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) SetMemory(_ context.Context, id, memory string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memoryErr != nil {
		return f.memoryErr
	}
	a := f.accounts[id]
	a.Memory = memory
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) get(id string) domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}

type fakeSessions struct {
	mu      sync.Mutex
	saved   []domain.Session
	latest  *domain.Session
	all     []domain.Session
	getErr  error
	saveErr error
	listErr error
}

func (f *fakeSessions) LatestSession(_ context.Context, _ string) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Session{}, false, f.getErr
	}
	if f.latest == nil {
		return domain.Session{}, false, nil
	}
	return *f.latest, true, nil
}

func (f *fakeSessions) ListSessions(_ context.Context, _ string) ([]domain.Session, error) {
	return f.all, f.listErr
}

func (f *fakeSessions) SaveSession(_ context.Context, s domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, s)
	latest := s
	f.latest = &latest
	return nil
}

type fakeEngine struct {
	response   string
	respondErr error
	memory     string
	memoryErr  error

	mu       sync.Mutex
	requests []domain.ResponseRequest
}

func (f *fakeEngine) Respond(_ context.Context, req domain.ResponseRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.response, f.respondErr
}

func (f *fakeEngine) ExtractMemory(_ context.Context, _ string) (domain.Extraction, error) {
	if f.memoryErr != nil {
		return domain.Extraction{}, f.memoryErr
	}
	return domain.ParseExtraction(f.memory), nil
}

// rendezvousEngine only answers when both calls are in flight at once.
type rendezvousEngine struct {
	respondStarted chan struct{}
	extractStarted chan struct{}
}

func newRendezvousEngine() *rendezvousEngine {
	return &rendezvousEngine{
		respondStarted: make(chan struct{}),
		extractStarted: make(chan struct{}),
	}
}

func (r *rendezvousEngine) Respond(ctx context.Context, _ domain.ResponseRequest) (string, error) {
	close(r.respondStarted)
	select {
	case <-r.extractStarted:
		return "both running", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *rendezvousEngine) ExtractMemory(ctx context.Context, _ string) (domain.Extraction, error) {
	close(r.extractStarted)
	select {
	case <-r.respondStarted:
		return domain.Extraction{}, nil
	case <-ctx.Done():
		return domain.Extraction{}, ctx.Err()
	}
}

// cancelObservingEngine fails Respond and reports whether ExtractMemory saw cancellation.
type cancelObservingEngine struct {
	canceled chan struct{}
}

func (c *cancelObservingEngine) Respond(_ context.Context, _ domain.ResponseRequest) (string, error) {
	return "", errors.New("exit status 1")
}

func (c *cancelObservingEngine) ExtractMemory(ctx context.Context, _ string) (domain.Extraction, error) {
	<-ctx.Done()
	close(c.canceled)
	return domain.Extraction{}, ctx.Err()
}

type fakeIngestEngine struct {
	out   domain.Ingestion
	err   error
	paths []string
}

func (f *fakeIngestEngine) Ingest(_ context.Context, path string) (domain.Ingestion, error) {
	f.paths = append(f.paths, path)
	return f.out, f.err
}

type fakeDerivedWriter struct {
	written   map[string][]byte
	removed   []string
	writeErr  error
	removeErr error
}

func (f *fakeDerivedWriter) WriteDerived(path string, data []byte) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	if f.written == nil {
		f.written = map[string][]byte{}
	}
	dst := domain.DerivedPath(path)
	f.written[dst] = data
	return dst, nil
}

func (f *fakeDerivedWriter) Remove(path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return nil
}

type fakeDocs struct {
	created   []domain.Document
	docs      []domain.Document
	createErr error
	listErr   error
	deleteErr error
}

func (f *fakeDocs) Create(accountID, name string, _ []byte) (domain.Document, error) {
	if f.createErr != nil {
		return domain.Document{}, f.createErr
	}
	d := domain.Document{Name: name, Path: "/uploads/" + accountID + "/" + name}
	f.created = append(f.created, d)
	return d, nil
}

func (f *fakeDocs) List(_ string) ([]domain.Document, error) {
	return f.docs, f.listErr
}

func (f *fakeDocs) Delete(_, _ string) error {
	return f.deleteErr
}

type fakeValidator struct{ err error }

func (f fakeValidator) Validate(_ []byte) error { return f.err }
