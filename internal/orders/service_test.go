package orders

import (
	"errors"
	"fmt"
	"testing"

	"banktransfer-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func newOrder(t *testing.T, code string, total string) *Order {
	t.Helper()
	return &Order{
		Code:          code,
		EventSlug:     "democon",
		OrganizerSlug: "bigevents",
		Status:        OrderStatusPending,
		Currency:      "EUR",
		Total:         dec(t, total),
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		code       string
		isFallback bool
		want       string
	}{
		{code: "IO3AS", isFallback: false, want: "103AS"},
		{code: "IO3AS", isFallback: true, want: "103A5"},
		{code: "1z3as", isFallback: false, want: "1Z3AS"},
		{code: "ZSBG", isFallback: true, want: "2586"},
		{code: " 1L3A ", isFallback: false, want: "113A"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.code, tt.isFallback), func(t *testing.T) {
			if got := NormalizeCode(tt.code, tt.isFallback); got != tt.want {
				t.Errorf("NormalizeCode(%q, %v) = %q, want %q", tt.code, tt.isFallback, got, tt.want)
			}
		})
	}
}

func TestPendingSum(t *testing.T) {
	o := newOrder(t, "1Z3AS", "100.00")
	if !o.PendingSum().Equal(dec(t, "100.00")) {
		t.Errorf("fresh order pending = %s", o.PendingSum())
	}

	o.Payments = append(o.Payments, &Payment{Amount: dec(t, "60.00"), State: PaymentStateConfirmed})
	if !o.PendingSum().Equal(dec(t, "40.00")) {
		t.Errorf("pending after partial payment = %s", o.PendingSum())
	}

	// Open payments do not count.
	o.Payments = append(o.Payments, &Payment{Amount: dec(t, "40.00"), State: PaymentStateCreated})
	if !o.PendingSum().Equal(dec(t, "40.00")) {
		t.Errorf("pending after open payment = %s", o.PendingSum())
	}

	o.Refunds = append(o.Refunds, &Refund{Amount: dec(t, "10.00"), State: RefundStateDone})
	if !o.PendingSum().Equal(dec(t, "50.00")) {
		t.Errorf("pending after refund = %s", o.PendingSum())
	}

	// Canceled refunds do not count.
	o.Refunds = append(o.Refunds, &Refund{Amount: dec(t, "10.00"), State: RefundStateCanceled})
	if !o.PendingSum().Equal(dec(t, "50.00")) {
		t.Errorf("pending after canceled refund = %s", o.PendingSum())
	}
}

func TestFindOrderByCodeScoping(t *testing.T) {
	s := NewService(nil, nil)
	s.AddEvent(&Event{Slug: "democon", OrganizerSlug: "bigevents", Currency: "EUR"})
	s.AddOrder(newOrder(t, "1Z3AS", "23.00"))

	if _, err := s.FindOrderByCode(models.EventScope("democon"), "", "1Z3AS"); err != nil {
		t.Errorf("event scope lookup failed: %v", err)
	}
	if _, err := s.FindOrderByCode(models.EventScope("otherevent"), "", "1Z3AS"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("foreign event scope lookup: err = %v", err)
	}

	// Organizer scope narrows by the event slug the prefix matched.
	if _, err := s.FindOrderByCode(models.OrganizerScope("bigevents"), "DEMOCON", "1Z3AS"); err != nil {
		t.Errorf("organizer scope lookup failed: %v", err)
	}
	if _, err := s.FindOrderByCode(models.OrganizerScope("bigevents"), "OTHEREVENT", "1Z3AS"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("organizer scope with wrong slug: err = %v", err)
	}
	if _, err := s.FindOrderByCode(models.OrganizerScope("othergroup"), "DEMOCON", "1Z3AS"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("foreign organizer scope lookup: err = %v", err)
	}
}

func TestFindOrderByInvoiceAmbiguous(t *testing.T) {
	s := NewService(nil, nil)
	s.AddOrder(newOrder(t, "1Z3AS", "23.00"))
	s.AddOrder(newOrder(t, "2Z3AS", "23.00"))
	s.AddInvoice(&Invoice{Prefix: "INV-", Number: "1210", FullInvoiceNo: "INV-1210", OrderCode: "1Z3AS", EventSlug: "democon", OrganizerSlug: "bigevents"})
	s.AddInvoice(&Invoice{Prefix: "INV-", Number: "12101", FullInvoiceNo: "INV-12101", OrderCode: "2Z3AS", EventSlug: "democon", OrganizerSlug: "bigevents"})

	// "1210" matches both INV-1210 and the prefix of INV-12101.
	_, err := s.FindOrderByInvoice(models.EventScope("democon"), "INV", "1210")
	if !errors.Is(err, ErrInvoiceAmbiguous) {
		t.Fatalf("expected ambiguity, got %v", err)
	}
}

func TestGetOrCreatePaymentRaceContract(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	s.AddOrder(o)

	first := &Payment{ID: "a", LocalID: 1, Amount: dec(t, "23.00"), Provider: ProviderBankTransfer, State: PaymentStateCreated}
	second := &Payment{ID: "b", LocalID: 2, Amount: dec(t, "23.00"), Provider: ProviderBankTransfer, State: PaymentStatePending}
	o.Payments = []*Payment{first, second}

	p, created, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("existing payment must be reused")
	}
	if p != second {
		t.Error("most recent matching payment must win")
	}
}

func TestGetOrCreatePaymentCreates(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	// A matching amount in a terminal state is not reusable.
	o.Payments = []*Payment{
		{ID: "a", Amount: dec(t, "23.00"), Provider: ProviderBankTransfer, State: PaymentStateFailed},
		{ID: "b", Amount: dec(t, "9.99"), Provider: ProviderBankTransfer, State: PaymentStateCreated},
	}
	s.AddOrder(o)

	p, created, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new payment")
	}
	if p.State != PaymentStateCreated || p.Provider != ProviderBankTransfer {
		t.Errorf("new payment = %+v", p)
	}
	if len(o.Payments) != 3 {
		t.Errorf("payment not appended, have %d", len(o.Payments))
	}
}

func TestConfirmPaymentSettlesOrder(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	s.AddOrder(o)

	p, _, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPayment(o, p); err != nil {
		t.Fatal(err)
	}

	if p.State != PaymentStateConfirmed {
		t.Errorf("payment state = %s", p.State)
	}
	if o.Status != OrderStatusPaid {
		t.Errorf("order status = %s", o.Status)
	}
}

func TestConfirmPaymentPartialKeepsPending(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	s.AddOrder(o)

	p, _, err := s.GetOrCreatePayment(o, dec(t, "10.00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPayment(o, p); err != nil {
		t.Fatal(err)
	}

	if o.Status != OrderStatusPending {
		t.Errorf("order status = %s, want pending", o.Status)
	}
	if !o.PendingSum().Equal(dec(t, "13.00")) {
		t.Errorf("pending = %s", o.PendingSum())
	}
}

func TestConfirmPaymentQuotaFailureKeepsPaymentConfirmed(t *testing.T) {
	s := NewService(nil, nil)
	s.QuotaCheck = func(*Order) error { return fmt.Errorf("sold out") }

	o := newOrder(t, "1Z3AS", "23.00")
	s.AddOrder(o)

	p, _, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}

	err = s.ConfirmPayment(o, p)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if p.State != PaymentStateConfirmed {
		t.Errorf("payment state = %s, the money was received", p.State)
	}
	if o.Status != OrderStatusPending {
		t.Errorf("order status = %s, must stay pending", o.Status)
	}
}

func TestConfirmPaymentMailFailure(t *testing.T) {
	s := NewService(nil, nil)
	s.ConfirmMail = func(*Order, *Payment) error { return fmt.Errorf("smtp down") }

	o := newOrder(t, "1Z3AS", "23.00")
	s.AddOrder(o)

	p, _, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}

	err = s.ConfirmPayment(o, p)
	if !errors.Is(err, ErrMailSendFailed) {
		t.Fatalf("expected mail error, got %v", err)
	}
	if p.State != PaymentStateConfirmed {
		t.Errorf("payment state = %s", p.State)
	}
	if o.Status != OrderStatusPaid {
		t.Errorf("order status = %s, settling happened before the mail", o.Status)
	}
}

func TestChangePaymentProviderCancelsOthers(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	other := &Payment{ID: "m", Amount: dec(t, "23.00"), Provider: ProviderManual, State: PaymentStateCreated}
	o.Payments = []*Payment{other}
	s.AddOrder(o)

	p, created, err := s.GetOrCreatePayment(o, dec(t, "23.00"))
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("manual payment must not be reused for bank transfer")
	}

	fee, err := s.ChangePaymentProvider(o, p, ProviderBankTransfer)
	if err != nil {
		t.Fatal(err)
	}
	if !fee.IsZero() {
		t.Errorf("bank transfer fee = %s", fee)
	}
	if other.State != PaymentStateCanceled {
		t.Errorf("previous provider payment state = %s", other.State)
	}
	if p.Provider != ProviderBankTransfer {
		t.Errorf("provider = %s", p.Provider)
	}
}

func TestFindPendingRefund(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	wrongAmount := &Refund{Amount: dec(t, "5.00"), Provider: ProviderManual, State: RefundStateCreated}
	wrongProvider := &Refund{Amount: dec(t, "10.00"), Provider: "creditcard", State: RefundStateCreated}
	match := &Refund{Amount: dec(t, "10.00"), Provider: ProviderManual, State: RefundStateTransit}
	o.Refunds = []*Refund{wrongAmount, wrongProvider, match}
	s.AddOrder(o)

	if got := s.FindPendingRefund(o, dec(t, "10.00")); got != match {
		t.Errorf("FindPendingRefund = %+v", got)
	}
	if got := s.FindPendingRefund(o, dec(t, "99.00")); got != nil {
		t.Errorf("unexpected refund match: %+v", got)
	}
}

func TestMarkRefundDone(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	r := &Refund{Amount: dec(t, "10.00"), Provider: ProviderManual, State: RefundStateCreated}
	o.Refunds = []*Refund{r}
	s.AddOrder(o)

	s.MarkRefundDone(o, r, map[string]interface{}{"reference": "refund"})

	if r.State != RefundStateDone {
		t.Errorf("refund state = %s", r.State)
	}
	if r.Provider != ProviderBankTransfer {
		t.Errorf("refund provider = %s", r.Provider)
	}
	if r.ExecutionDate == nil {
		t.Error("execution date not set")
	}
	if r.Info["reference"] != "refund" {
		t.Error("transaction info not merged")
	}
}

func TestExternalRefundCopiesInfo(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	p := &Payment{ID: "pay-1", Amount: dec(t, "23.00"), Provider: ProviderBankTransfer, State: PaymentStateConfirmed}
	o.Payments = []*Payment{p}
	s.AddOrder(o)
	other := newOrder(t, "2X3AT", "5.00")
	s.AddOrder(other)

	// One metadata blob reused across the allocations of a split.
	info := map[string]interface{}{"reference": "DEMOCON-1Z3AS"}

	attached, err := s.CreateExternalRefundForPayment(o, p, dec(t, "23.00"), info)
	if err != nil {
		t.Fatal(err)
	}
	standalone, err := s.CreateExternalRefund(other, dec(t, "5.00"), info)
	if err != nil {
		t.Fatal(err)
	}

	info["reference"] = "changed"

	if attached.Info["reference"] != "DEMOCON-1Z3AS" {
		t.Errorf("attached refund aliases the caller's info map: %v", attached.Info["reference"])
	}
	if standalone.Info["reference"] != "DEMOCON-1Z3AS" {
		t.Errorf("standalone refund aliases the caller's info map: %v", standalone.Info["reference"])
	}
}

func TestCancelPaymentFromConfirmedFails(t *testing.T) {
	s := NewService(nil, nil)
	o := newOrder(t, "1Z3AS", "23.00")
	p := &Payment{ID: "a", Amount: dec(t, "23.00"), Provider: ProviderBankTransfer, State: PaymentStateConfirmed}
	o.Payments = []*Payment{p}
	s.AddOrder(o)

	err := s.CancelPayment(o, p)
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if p.State != PaymentStateConfirmed {
		t.Errorf("payment state changed to %s", p.State)
	}
}
