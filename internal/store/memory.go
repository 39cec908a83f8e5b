package store

import (
	"context"
	"sync"
	"time"

	"banktransfer-reconciliation-service/internal/models"
	apperrors "banktransfer-reconciliation-service/pkg/errors"
)

// MemoryStore is an in-memory Store. Rows are stored as copies so that
// rollback can restore the previous table contents, and reads hand out
// copies so callers never alias stored rows.
type MemoryStore struct {
	mu           sync.Mutex
	jobs         map[string]models.BankImportJob
	transactions map[string]models.BankTransaction
	ownerLocks   map[string]chan struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]models.BankImportJob),
		transactions: make(map[string]models.BankTransaction),
		ownerLocks:   make(map[string]chan struct{}),
	}
}

// GetJob returns an import job by id
func (s *MemoryStore) GetJob(id string) (*models.BankImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// SaveJob persists a job's current state
func (s *MemoryStore) SaveJob(job *models.BankImportJob) error {
	if err := job.Validate(); err != nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "job", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// SaveTransaction persists a bank transaction's current state
func (s *MemoryStore) SaveTransaction(t *models.BankTransaction) error {
	if err := t.Validate(); err != nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "transaction", t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = *t
	return nil
}

// GetTransaction returns a transaction by id
func (s *MemoryStore) GetTransaction(id string) (*models.BankTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// TransactionsByScope returns all transactions of an owner scope
func (s *MemoryStore) TransactionsByScope(scope models.OwnerScope) ([]*models.BankTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.BankTransaction
	for _, t := range s.transactions {
		if t.Scope == scope {
			row := t
			out = append(out, &row)
		}
	}
	return out, nil
}

// KnownChecksums returns the checksums already stored for the scope
func (s *MemoryStore) KnownChecksums(scope models.OwnerScope) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{})
	for _, t := range s.transactions {
		if t.Scope == scope {
			known[t.Checksum] = struct{}{}
		}
	}
	return known, nil
}

// KnownExternalKeys returns the external dedup triples of the scope
func (s *MemoryStore) KnownExternalKeys(scope models.OwnerScope) (map[models.ExternalKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[models.ExternalKey]struct{})
	for _, t := range s.transactions {
		if t.Scope == scope && t.ExternalID != "" {
			known[t.ExternalKey()] = struct{}{}
		}
	}
	return known, nil
}

// DeleteUnchecked removes leftover unchecked transactions of the scope
func (s *MemoryStore) DeleteUnchecked(scope models.OwnerScope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, t := range s.transactions {
		if t.Scope == scope && t.State == models.TransactionStateUnchecked {
			delete(s.transactions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Atomic runs fn against the store and undoes fn's writes when it
// fails. Only the rows written through the scope are rolled back; rows
// committed concurrently by jobs of other owners are left alone, those
// jobs coordinate through the per-owner lock, not through the atomic
// scope.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	scope := &atomicStore{
		MemoryStore: s,
		prevJobs:    make(map[string]*models.BankImportJob),
		prevTrans:   make(map[string]*models.BankTransaction),
	}
	if err := fn(scope); err != nil {
		scope.rollback()
		return err
	}
	return nil
}

// atomicStore wraps the memory store for one atomic scope and keeps an
// undo log: the prior value of every row the scope writes or deletes,
// nil for rows that did not exist. Storing rows by value makes each
// undo entry a plain copy.
type atomicStore struct {
	*MemoryStore
	prevJobs  map[string]*models.BankImportJob
	prevTrans map[string]*models.BankTransaction
}

// recordJob captures a job's prior value, first write wins. The caller
// holds the store mutex.
func (a *atomicStore) recordJob(id string) {
	if _, done := a.prevJobs[id]; done {
		return
	}
	if prev, ok := a.jobs[id]; ok {
		a.prevJobs[id] = &prev
	} else {
		a.prevJobs[id] = nil
	}
}

// recordTransaction captures a transaction's prior value, first write
// wins. The caller holds the store mutex.
func (a *atomicStore) recordTransaction(id string) {
	if _, done := a.prevTrans[id]; done {
		return
	}
	if prev, ok := a.transactions[id]; ok {
		a.prevTrans[id] = &prev
	} else {
		a.prevTrans[id] = nil
	}
}

func (a *atomicStore) SaveJob(job *models.BankImportJob) error {
	if err := job.Validate(); err != nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "job", job.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordJob(job.ID)
	a.jobs[job.ID] = *job
	return nil
}

func (a *atomicStore) SaveTransaction(t *models.BankTransaction) error {
	if err := t.Validate(); err != nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "transaction", t.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordTransaction(t.ID)
	a.transactions[t.ID] = *t
	return nil
}

func (a *atomicStore) DeleteUnchecked(scope models.OwnerScope) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deleted := 0
	for id, t := range a.transactions {
		if t.Scope == scope && t.State == models.TransactionStateUnchecked {
			a.recordTransaction(id)
			delete(a.transactions, id)
			deleted++
		}
	}
	return deleted, nil
}

// rollback restores the rows in the undo log to their prior values
func (a *atomicStore) rollback() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, prev := range a.prevJobs {
		if prev == nil {
			delete(a.jobs, id)
		} else {
			a.jobs[id] = *prev
		}
	}
	for id, prev := range a.prevTrans {
		if prev == nil {
			delete(a.transactions, id)
		} else {
			a.transactions[id] = *prev
		}
	}
}

// WithOwnerLock serializes imports per owner scope. The lock is a
// buffered channel per scope key; acquisition waits at most timeout.
func (s *MemoryStore) WithOwnerLock(ctx context.Context, scope models.OwnerScope, timeout time.Duration, fn func() error) error {
	lock := s.ownerLock(scope)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		defer func() { <-lock }()
		return fn()
	case <-timer.C:
		return apperrors.LockTimeoutError(scope.Key(), nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) ownerLock(scope models.OwnerScope) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope.Key()
	lock, ok := s.ownerLocks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		s.ownerLocks[key] = lock
	}
	return lock
}
