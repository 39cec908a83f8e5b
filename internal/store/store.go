// Package store defines the transactional row-store contract the
// reconciliation core runs against.
//
// The relational engine itself is an external collaborator; the core
// only needs row persistence for its own two tables, existence queries
// for dedup, an atomic execution scope per transaction, and a coarse
// per-owner serialization lock. MemoryStore implements the contract for
// the CLI and tests.
package store

import (
	"context"
	"errors"
	"time"

	"banktransfer-reconciliation-service/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("row not found")

// Store is the persistence contract of the reconciliation core
type Store interface {
	// GetJob returns an import job by id
	GetJob(id string) (*models.BankImportJob, error)
	// SaveJob persists a job's current state
	SaveJob(job *models.BankImportJob) error

	// SaveTransaction persists a bank transaction's current state
	SaveTransaction(t *models.BankTransaction) error
	// GetTransaction returns a transaction by id
	GetTransaction(id string) (*models.BankTransaction, error)
	// TransactionsByScope returns all transactions of an owner scope
	TransactionsByScope(scope models.OwnerScope) ([]*models.BankTransaction, error)
	// KnownChecksums returns the checksums of all transactions already
	// stored for the scope
	KnownChecksums(scope models.OwnerScope) (map[string]struct{}, error)
	// KnownExternalKeys returns the (external id, date, amount) triples
	// of all stored transactions of the scope that carry an external id
	KnownExternalKeys(scope models.OwnerScope) (map[models.ExternalKey]struct{}, error)
	// DeleteUnchecked removes leftover unchecked transactions of the
	// scope from a previously failed run and returns how many were
	// removed
	DeleteUnchecked(scope models.OwnerScope) (int, error)

	// Atomic runs fn in a transaction scope. When fn returns an error,
	// every row written through the passed store is rolled back.
	Atomic(ctx context.Context, fn func(Store) error) error

	// WithOwnerLock runs fn while holding the exclusive serialization
	// lock of the owner scope. Acquisition waits at most timeout and
	// fails with a lock-timeout error, which callers retry at the job
	// level.
	WithOwnerLock(ctx context.Context, scope models.OwnerScope, timeout time.Duration, fn func() error) error
}
