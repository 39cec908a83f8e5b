// Package orders exposes the order, payment and refund API of the
// surrounding ticketing platform to the reconciliation core.
//
// The core never writes order financial totals directly. It resolves
// orders, queries pending balances and drives payment/refund lifecycle
// operations; everything else belongs to the platform. The Service in
// this package is the adapter boundary: it implements the full contract
// against an in-memory backing suitable for the CLI and tests, and a
// production deployment would implement the same API against the
// platform's own storage.
package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle status of an order
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentState represents the lifecycle state of an order payment
type PaymentState string

const (
	PaymentStateCreated   PaymentState = "created"
	PaymentStatePending   PaymentState = "pending"
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStateCanceled  PaymentState = "canceled"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateRefunded  PaymentState = "refunded"
)

// RefundState represents the lifecycle state of an order refund
type RefundState string

const (
	RefundStateCreated  RefundState = "created"
	RefundStateTransit  RefundState = "transit"
	RefundStateDone     RefundState = "done"
	RefundStateExternal RefundState = "external"
	RefundStateCanceled RefundState = "canceled"
)

// RefundSource records who initiated a refund
type RefundSource string

const (
	RefundSourceAdmin    RefundSource = "admin"
	RefundSourceBuyer    RefundSource = "buyer"
	RefundSourceExternal RefundSource = "external"
)

// Sentinel errors of the order API
var (
	// ErrOrderNotFound is returned by lookups that match nothing
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvoiceAmbiguous is returned when an invoice number pattern
	// matches more than one invoice
	ErrInvoiceAmbiguous = errors.New("invoice number is ambiguous")
	// ErrQuotaExceeded signals that a payment was confirmed but the
	// order status could not be set because capacity ran out
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrMailSendFailed signals that a notification mail failed to send
	ErrMailSendFailed = errors.New("mail could not be sent")
)

// ProviderError is returned by payment provider operations, e.g. when a
// provider refuses to cancel a payment
type ProviderError struct {
	Provider string
	Reason   string
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %s", e.Provider, e.Reason)
}

// Order is a platform order referenced by the reconciliation engine
type Order struct {
	Code          string
	EventSlug     string
	OrganizerSlug string
	Status        OrderStatus
	Currency      string
	Total         decimal.Decimal
	Locale        string
	Payments      []*Payment
	Refunds       []*Refund
}

// PendingSum returns the order's outstanding unpaid balance: the total
// minus confirmed payments plus open or executed refunds.
func (o *Order) PendingSum() decimal.Decimal {
	pending := o.Total
	for _, p := range o.Payments {
		if p.State == PaymentStateConfirmed || p.State == PaymentStateRefunded {
			pending = pending.Sub(p.Amount)
		}
	}
	for _, r := range o.Refunds {
		switch r.State {
		case RefundStateCreated, RefundStateTransit, RefundStateDone, RefundStateExternal:
			pending = pending.Add(r.Amount)
		}
	}
	return pending
}

// Payment is one payment attempt or receipt on an order
type Payment struct {
	ID       string
	LocalID  int
	Amount   decimal.Decimal
	Provider string
	State    PaymentState
	Fee      decimal.Decimal
	Info     map[string]interface{}
	Created  time.Time
}

// MergeInfo merges metadata into the payment's info blob
func (p *Payment) MergeInfo(info map[string]interface{}) {
	if p.Info == nil {
		p.Info = make(map[string]interface{}, len(info))
	}
	for k, v := range info {
		p.Info[k] = v
	}
}

// Refund is one refund on an order
type Refund struct {
	ID            string
	LocalID       int
	Amount        decimal.Decimal
	Provider      string
	State         RefundState
	Source        RefundSource
	PaymentID     string
	Info          map[string]interface{}
	ExecutionDate *time.Time
}

// MergeInfo merges metadata into the refund's info blob
func (r *Refund) MergeInfo(info map[string]interface{}) {
	if r.Info == nil {
		r.Info = make(map[string]interface{}, len(info))
	}
	for k, v := range info {
		r.Info[k] = v
	}
}

// Invoice links an invoice number to an order
type Invoice struct {
	Prefix        string
	Number        string
	FullInvoiceNo string
	OrderCode     string
	EventSlug     string
	OrganizerSlug string
}

// Event is the minimal event record the core needs for scoping
type Event struct {
	Slug          string
	OrganizerSlug string
	Currency      string
}

// AuditEntry is one structured audit log record scoped to an order
type AuditEntry struct {
	OrderCode string
	Action    string
	Data      map[string]interface{}
	At        time.Time
}

// Mailer sends order-scoped notification mails. Send failures are
// logged by callers, never fatal to reconciliation.
type Mailer interface {
	SendMail(order *Order, subject, template string, context map[string]interface{}, logKey string) error
}

// NormalizeCode rewrites look-alike characters in a user-supplied order
// code. Order codes never contain the characters on the left side of
// the table, so any occurrence is a transcription mistake.
func NormalizeCode(code string, isFallback bool) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	replacer := strings.NewReplacer("O", "0", "I", "1", "L", "1")
	if isFallback {
		replacer = strings.NewReplacer(
			"O", "0", "I", "1", "L", "1",
			"Z", "2", "S", "5", "B", "8", "G", "6",
		)
	}
	return replacer.Replace(code)
}

func newLocalID(existing int) int {
	return existing + 1
}

func newID() string {
	return uuid.NewString()
}
