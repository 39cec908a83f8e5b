package orders

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Service implements the order API consumed by the reconciliation core.
//
// All mutation goes through lifecycle methods so a production adapter
// can map them one-to-one onto the platform's transactional operations.
// Lifecycle mutations must join the transactional unit of the caller:
// the engine applies each bank transaction inside one atomic store
// scope, and an adapter backed by the platform's database has to
// enclose its order mutations in that same unit so a failure partway
// through a multi-order split rolls back the allocations already
// applied. The in-memory implementation applies mutations immediately
// and relies on the engine never recording a terminal row state when a
// lifecycle call fails, the row stays unchecked and the whole split is
// retried as a unit.
//
// The in-memory backing is guarded by a single mutex; within one import
// job all calls are sequential, the mutex only serializes concurrent
// jobs of different owners.
type Service struct {
	mu       sync.Mutex
	registry *ProviderRegistry
	events   map[string]*Event
	orders   map[string]*Order
	invoices []*Invoice
	audit    []AuditEntry

	// QuotaCheck, when set, is consulted during payment confirmation.
	// An error means the order status cannot be set to paid even though
	// the payment is confirmed.
	QuotaCheck func(*Order) error
	// ConfirmMail, when set, sends the order confirmation mail after a
	// successful confirmation.
	ConfirmMail func(*Order, *Payment) error

	log logger.Logger
}

// NewService creates an order service with the given provider registry
func NewService(registry *ProviderRegistry, log logger.Logger) *Service {
	if registry == nil {
		registry = DefaultProviderRegistry()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		registry: registry,
		events:   make(map[string]*Event),
		orders:   make(map[string]*Order),
		log:      log.WithComponent("orders"),
	}
}

// Registry returns the provider registry
func (s *Service) Registry() *ProviderRegistry {
	return s.registry
}

// AddEvent registers an event
func (s *Service) AddEvent(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[strings.ToUpper(e.Slug)] = e
}

// AddOrder registers an order
func (s *Service) AddOrder(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.Code] = o
}

// AddInvoice registers an invoice
func (s *Service) AddInvoice(inv *Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
}

// GetOrder returns an order by code, or nil
func (s *Service) GetOrder(code string) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[code]
}

func (s *Service) inScope(scope models.OwnerScope, eventSlug, organizerSlug string) bool {
	if scope.IsEvent() {
		return strings.EqualFold(eventSlug, scope.Event)
	}
	return strings.EqualFold(organizerSlug, scope.Organizer)
}

// FindOrderByCode looks up an order by exact code within the owner
// scope. For organizer-wide scopes, eventSlug narrows the search to one
// event (case-insensitive); it is ignored for event scopes.
func (s *Service) FindOrderByCode(scope models.OwnerScope, eventSlug, code string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[code]
	if !ok || !s.inScope(scope, o.EventSlug, o.OrganizerSlug) {
		return nil, ErrOrderNotFound
	}
	if !scope.IsEvent() && !strings.EqualFold(o.EventSlug, eventSlug) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// FindOrderByInvoice resolves an invoice reference to its order. The
// numeric part is matched case-insensitively with optional dash/space
// padding and leading zeros against the full invoice number. More than
// one matching invoice is ambiguous and resolves to nothing.
func (s *Service) FindOrderByInvoice(scope models.OwnerScope, prefix, number string) (*Order, error) {
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(prefix) + `[\- ]*0*` + regexp.QuoteMeta(number))
	if err != nil {
		return nil, fmt.Errorf("failed to compile invoice pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Invoice
	for _, inv := range s.invoices {
		if !s.inScope(scope, inv.EventSlug, inv.OrganizerSlug) {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(inv.Prefix), strings.ToUpper(prefix)) {
			continue
		}
		if !re.MatchString(inv.FullInvoiceNo) {
			continue
		}
		if found != nil {
			return nil, ErrInvoiceAmbiguous
		}
		found = inv
	}
	if found == nil {
		return nil, ErrOrderNotFound
	}

	o, ok := s.orders[found.OrderCode]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// EventSlugs returns the event slugs of the scope, uppercased
func (s *Service) EventSlugs(scope models.OwnerScope) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope.IsEvent() {
		return []string{strings.ToUpper(scope.Event)}
	}
	var slugs []string
	for _, e := range s.events {
		if strings.EqualFold(e.OrganizerSlug, scope.Organizer) {
			slugs = append(slugs, strings.ToUpper(e.Slug))
		}
	}
	return slugs
}

// InvoicePrefixes returns the distinct invoice series prefixes of the
// scope, right-trimmed of separator padding.
func (s *Service) InvoicePrefixes(scope models.OwnerScope) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var prefixes []string
	for _, inv := range s.invoices {
		if !s.inScope(scope, inv.EventSlug, inv.OrganizerSlug) {
			continue
		}
		p := strings.TrimRight(inv.Prefix, " -")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		prefixes = append(prefixes, p)
	}
	return prefixes
}

// OrderCodeLengthBounds returns the min and max order code length in
// the scope, or (0, 0) when there are no orders.
func (s *Service) OrderCodeLengthBounds(scope models.OwnerScope) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	min, max := 0, 0
	for _, o := range s.orders {
		if !s.inScope(scope, o.EventSlug, o.OrganizerSlug) {
			continue
		}
		n := len(o.Code)
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}

// InvoiceNumberLengthBounds returns the min and max invoice number
// length in the scope, or (0, 0) when there are no invoices.
func (s *Service) InvoiceNumberLengthBounds(scope models.OwnerScope) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	min, max := 0, 0
	for _, inv := range s.invoices {
		if !s.inScope(scope, inv.EventSlug, inv.OrganizerSlug) {
			continue
		}
		n := len(inv.Number)
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}

// EventCurrency returns the currency of an event, or empty
func (s *Service) EventCurrency(slug string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.events[strings.ToUpper(slug)]; ok {
		return e.Currency
	}
	return ""
}

// GetOrCreatePayment finds an open bank-transfer payment of the exact
// amount or creates one. The explicit race contract: when a uniqueness
// race has produced several matching rows, the most recent one wins.
func (s *Service) GetOrCreatePayment(o *Order, amount decimal.Decimal) (*Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var match *Payment
	for _, p := range o.Payments {
		if p.Provider != ProviderBankTransfer || !p.Amount.Equal(amount) {
			continue
		}
		if p.State == PaymentStateCreated || p.State == PaymentStatePending {
			match = p // keep scanning, last (most recent) row wins
		}
	}
	if match != nil {
		return match, false, nil
	}

	payment := &Payment{
		ID:       newID(),
		LocalID:  newLocalID(len(o.Payments)),
		Amount:   amount,
		Provider: ProviderBankTransfer,
		State:    PaymentStateCreated,
		Created:  time.Now(),
	}
	o.Payments = append(o.Payments, payment)
	return payment, true, nil
}

// ChangePaymentProvider performs an on-demand payment-method switch.
// Open payments of other providers are canceled and the new provider's
// fee for the amount is returned for the caller to apply.
func (s *Service) ChangePaymentProvider(o *Order, p *Payment, providerKey string) (decimal.Decimal, error) {
	provider, err := s.registry.Get(providerKey)
	if err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range o.Payments {
		if other == p || other.Provider == providerKey {
			continue
		}
		if other.State == PaymentStateCreated || other.State == PaymentStatePending {
			if otherProvider, err := s.registry.Get(other.Provider); err == nil {
				if err := otherProvider.CancelPayment(other); err != nil {
					s.log.WithError(err).WithField("order", o.Code).
						Warn("Could not cancel payment of previous provider")
					continue
				}
			} else {
				other.State = PaymentStateCanceled
			}
		}
	}

	p.Provider = providerKey
	return provider.CalculateFee(p.Amount), nil
}

// ConfirmPayment confirms a payment and tries to settle the order.
//
// The payment is confirmed unconditionally; ErrQuotaExceeded and
// ErrMailSendFailed mean only that the follow-up (order status, buyer
// notification) did not complete. Callers must treat the money as
// received in those cases.
func (s *Service) ConfirmPayment(o *Order, p *Payment) error {
	s.mu.Lock()
	p.State = PaymentStateConfirmed

	if s.QuotaCheck != nil {
		if err := s.QuotaCheck(o); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}

	if o.PendingSum().LessThanOrEqual(decimal.Zero) &&
		(o.Status == OrderStatusPending || o.Status == OrderStatusExpired) {
		o.Status = OrderStatusPaid
	}
	s.mu.Unlock()

	if s.ConfirmMail != nil {
		if err := s.ConfirmMail(o, p); err != nil {
			return fmt.Errorf("%w: %v", ErrMailSendFailed, err)
		}
	}
	return nil
}

// CancelPayment cancels a payment through its provider
func (s *Service) CancelPayment(o *Order, p *Payment) error {
	provider, err := s.registry.Get(p.Provider)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return provider.CancelPayment(p)
}

// OpenBankTransferPayments returns the order's created or pending
// bank-transfer payments.
func (s *Service) OpenBankTransferPayments(o *Order) []*Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []*Payment
	for _, p := range o.Payments {
		if p.Provider != ProviderBankTransfer {
			continue
		}
		if p.State == PaymentStateCreated || p.State == PaymentStatePending {
			open = append(open, p)
		}
	}
	return open
}

// FindPendingRefund returns the first created or in-transit refund of
// the exact amount from a manual or bank-transfer provider, or nil.
func (s *Service) FindPendingRefund(o *Order, amount decimal.Decimal) *Refund {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range o.Refunds {
		if !r.Amount.Equal(amount) {
			continue
		}
		if r.Provider != ProviderManual && r.Provider != ProviderBankTransfer {
			continue
		}
		if r.State == RefundStateCreated || r.State == RefundStateTransit {
			return r
		}
	}
	return nil
}

// FindConfirmedBankTransferPayment returns the first confirmed
// bank-transfer payment on the order, or nil.
func (s *Service) FindConfirmedBankTransferPayment(o *Order) *Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range o.Payments {
		if p.Provider == ProviderBankTransfer && p.State == PaymentStateConfirmed {
			return p
		}
	}
	return nil
}

// MarkRefundDone completes a pending refund through the bank-transfer
// provider, merging the transaction metadata into its info blob.
func (s *Service) MarkRefundDone(o *Order, r *Refund, info map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Provider = ProviderBankTransfer
	r.MergeInfo(info)
	r.State = RefundStateDone
	now := time.Now()
	r.ExecutionDate = &now
}

// CreateExternalRefundForPayment attaches an externally observed refund
// to a confirmed payment.
func (s *Service) CreateExternalRefundForPayment(o *Order, p *Payment, amount decimal.Decimal, info map[string]interface{}) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	refund := &Refund{
		ID:            newID(),
		LocalID:       newLocalID(len(o.Refunds)),
		Amount:        amount,
		Provider:      p.Provider,
		State:         RefundStateExternal,
		Source:        RefundSourceExternal,
		PaymentID:     p.ID,
		ExecutionDate: &now,
	}
	// Copy, the caller reuses the info map across allocations.
	refund.MergeInfo(info)
	o.Refunds = append(o.Refunds, refund)
	return refund, nil
}

// CreateExternalRefund records a standalone externally observed refund
func (s *Service) CreateExternalRefund(o *Order, amount decimal.Decimal, info map[string]interface{}) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	refund := &Refund{
		ID:            newID(),
		LocalID:       newLocalID(len(o.Refunds)),
		Amount:        amount,
		Provider:      ProviderBankTransfer,
		State:         RefundStateExternal,
		Source:        RefundSourceExternal,
		ExecutionDate: &now,
	}
	refund.MergeInfo(info)
	o.Refunds = append(o.Refunds, refund)
	return refund, nil
}

// LogAction records a structured audit entry against an order
func (s *Service) LogAction(o *Order, action string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, AuditEntry{
		OrderCode: o.Code,
		Action:    action,
		Data:      data,
		At:        time.Now(),
	})
}

// AuditEntries returns the audit entries recorded for an order code
func (s *Service) AuditEntries(code string) []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []AuditEntry
	for _, e := range s.audit {
		if e.OrderCode == code {
			entries = append(entries, e)
		}
	}
	return entries
}
