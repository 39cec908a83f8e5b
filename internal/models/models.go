package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionState represents the lifecycle state of a bank transaction
type TransactionState string

const (
	// TransactionStateUnchecked marks a freshly ingested row that has not
	// been matched yet. Leftover unchecked rows from a crashed run are
	// purged before the next import.
	TransactionStateUnchecked TransactionState = "unchecked"
	// TransactionStateNoMatch marks a row no order could be found for
	TransactionStateNoMatch TransactionState = "nomatch"
	// TransactionStateDuplicate marks a row whose order is already paid
	TransactionStateDuplicate TransactionState = "duplicate"
	// TransactionStateError marks a row rejected by a business rule
	TransactionStateError TransactionState = "error"
	// TransactionStateValid marks a row that was applied to one or more orders
	TransactionStateValid TransactionState = "valid"
)

// String returns the string representation of TransactionState
func (s TransactionState) String() string {
	return string(s)
}

// IsTerminal reports whether the state is one of the four terminal states.
// Terminal states are never revisited for the same row.
func (s TransactionState) IsTerminal() bool {
	switch s {
	case TransactionStateNoMatch, TransactionStateDuplicate, TransactionStateError, TransactionStateValid:
		return true
	}
	return false
}

// JobState represents the lifecycle state of a bank import job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateError     JobState = "error"
)

// String returns the string representation of JobState
func (s JobState) String() string {
	return string(s)
}

// OwnerScope identifies the event or organizer a transaction or job
// belongs to. Exactly one of the two fields is set.
type OwnerScope struct {
	Event     string `json:"event,omitempty"`
	Organizer string `json:"organizer,omitempty"`
}

// EventScope creates a scope owned by a single event
func EventScope(slug string) OwnerScope {
	return OwnerScope{Event: slug}
}

// OrganizerScope creates a scope spanning all events of an organizer
func OrganizerScope(slug string) OwnerScope {
	return OwnerScope{Organizer: slug}
}

// Validate checks the exactly-one-owner invariant
func (s OwnerScope) Validate() error {
	if s.Event == "" && s.Organizer == "" {
		return fmt.Errorf("owner scope needs an event or an organizer")
	}
	if s.Event != "" && s.Organizer != "" {
		return fmt.Errorf("owner scope cannot have both an event and an organizer")
	}
	return nil
}

// IsEvent reports whether the scope is bound to a single event
func (s OwnerScope) IsEvent() bool {
	return s.Event != ""
}

// Key returns a stable string key for locks and dedup indexes
func (s OwnerScope) Key() string {
	if s.IsEvent() {
		return "event:" + s.Event
	}
	return "organizer:" + s.Organizer
}

// String returns a human-readable form of the scope
func (s OwnerScope) String() string {
	return s.Key()
}

// ImportRow is one normalized row handed over by the bank-file parsers.
// The amount may still be a locale-ambiguous string.
type ImportRow struct {
	Amount     string `json:"amount"`
	Payer      string `json:"payer,omitempty"`
	Reference  string `json:"reference,omitempty"`
	Date       string `json:"date,omitempty"`
	IBAN       string `json:"iban,omitempty"`
	BIC        string `json:"bic,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// BankTransaction is one row from a bank statement attributed (or not)
// to an owner scope.
type BankTransaction struct {
	ID         string           `json:"id"`
	Scope      OwnerScope       `json:"scope"`
	JobID      string           `json:"job_id,omitempty"`
	Payer      string           `json:"payer,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	Currency   string           `json:"currency,omitempty"`
	Date       string           `json:"date,omitempty"`
	DateParsed *time.Time       `json:"date_parsed,omitempty"`
	IBAN       string           `json:"iban,omitempty"`
	BIC        string           `json:"bic,omitempty"`
	ExternalID string           `json:"external_id,omitempty"`
	Checksum   string           `json:"checksum"`
	State      TransactionState `json:"state"`
	Message    string           `json:"message,omitempty"`
	OrderCode  string           `json:"order_code,omitempty"`
}

// NewBankTransaction creates an unchecked transaction for a row. The
// checksum is computed from the row's core fields so that re-importing
// the same statement yields identical checksums.
func NewBankTransaction(scope OwnerScope, jobID string, row ImportRow, amount decimal.Decimal) *BankTransaction {
	t := &BankTransaction{
		ID:         uuid.NewString(),
		Scope:      scope,
		JobID:      jobID,
		Payer:      row.Payer,
		Reference:  row.Reference,
		Amount:     amount,
		Date:       row.Date,
		IBAN:       row.IBAN,
		BIC:        row.BIC,
		ExternalID: row.ExternalID,
		State:      TransactionStateUnchecked,
	}
	t.Checksum = t.CalculateChecksum()
	return t
}

// CalculateChecksum computes the dedup fingerprint over the row's core
// fields. Mutable fields (state, message, order link) are excluded so
// the value stays stable across the row's lifecycle.
func (t *BankTransaction) CalculateChecksum() string {
	h := sha256.New()
	for _, part := range []string{
		t.Scope.Key(),
		t.Payer,
		t.Reference,
		t.Amount.String(),
		t.Date,
		t.IBAN,
		t.BIC,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ExternalKey returns the secondary dedup key. Only meaningful when the
// bank export carries its own transaction ids.
func (t *BankTransaction) ExternalKey() ExternalKey {
	return ExternalKey{
		ExternalID: t.ExternalID,
		Date:       t.Date,
		Amount:     t.Amount.String(),
	}
}

// Validate performs basic validation on the BankTransaction
func (t *BankTransaction) Validate() error {
	if err := t.Scope.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}
	if t.Checksum == "" {
		return fmt.Errorf("transaction checksum cannot be empty")
	}
	return nil
}

// String returns a string representation of the BankTransaction
func (t *BankTransaction) String() string {
	return fmt.Sprintf("BankTransaction{ID: %s, Scope: %s, Amount: %s, State: %s}",
		t.ID, t.Scope, t.Amount.String(), t.State)
}

// ExternalKey is the (external id, date, amount) dedup triple
type ExternalKey struct {
	ExternalID string
	Date       string
	Amount     string
}

// BankImportJob tracks one batch-import run
type BankImportJob struct {
	ID        string     `json:"id"`
	Scope     OwnerScope `json:"scope"`
	State     JobState   `json:"state"`
	Currency  string     `json:"currency,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewBankImportJob creates a pending job for the given owner scope.
// The currency is used for organizer-wide jobs where no single event
// provides a currency context.
func NewBankImportJob(scope OwnerScope, currency string) *BankImportJob {
	now := time.Now()
	return &BankImportJob{
		ID:        uuid.NewString(),
		Scope:     scope,
		State:     JobStatePending,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate performs basic validation on the BankImportJob
func (j *BankImportJob) Validate() error {
	if err := j.Scope.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	return nil
}

// SetState transitions the job and bumps the update timestamp
func (j *BankImportJob) SetState(state JobState) {
	j.State = state
	j.UpdatedAt = time.Now()
}
