package resolver

import (
	"testing"

	"banktransfer-reconciliation-service/internal/matcher"
	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/internal/orders"

	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T) *orders.Service {
	t.Helper()

	service := orders.NewService(nil, nil)
	service.AddEvent(&orders.Event{Slug: "democon", OrganizerSlug: "bigevents", Currency: "EUR"})
	service.AddOrder(&orders.Order{
		Code:          "1Z3AS",
		EventSlug:     "democon",
		OrganizerSlug: "bigevents",
		Status:        orders.OrderStatusPending,
		Currency:      "EUR",
		Total:         decimal.RequireFromString("23.00"),
	})
	service.AddOrder(&orders.Order{
		Code:          "103A5",
		EventSlug:     "democon",
		OrganizerSlug: "bigevents",
		Status:        orders.OrderStatusPending,
		Currency:      "EUR",
		Total:         decimal.RequireFromString("42.00"),
	})
	return service
}

func TestResolveVerbatim(t *testing.T) {
	r := New(newTestService(t), 5, nil)

	order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "DEMOCON", Code: "1Z3AS"})
	if order == nil || order.Code != "1Z3AS" {
		t.Fatalf("verbatim lookup failed: %v", order)
	}
}

func TestResolveNormalized(t *testing.T) {
	r := New(newTestService(t), 5, nil)

	// O and I never occur in generated codes, banks receive them from
	// humans misreading 0 and 1.
	order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "DEMOCON", Code: "IO3AS"})
	if order == nil || order.Code != "103A5" {
		t.Fatalf("normalized lookup failed: %v", order)
	}
}

func TestResolveTruncated(t *testing.T) {
	r := New(newTestService(t), 5, nil)

	// The bank glued the currency onto the code.
	order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "DEMOCON", Code: "1Z3ASEUR"})
	if order == nil || order.Code != "1Z3AS" {
		t.Fatalf("truncated lookup failed: %v", order)
	}
}

func TestResolveInvoiceFallback(t *testing.T) {
	service := newTestService(t)
	service.AddInvoice(&orders.Invoice{
		Prefix:        "INV-",
		Number:        "1234",
		FullInvoiceNo: "INV-1234",
		OrderCode:     "1Z3AS",
		EventSlug:     "democon",
		OrganizerSlug: "bigevents",
	})
	r := New(service, 5, nil)

	order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "INV", Code: "1234"})
	if order == nil || order.Code != "1Z3AS" {
		t.Fatalf("invoice fallback failed: %v", order)
	}
}

func TestResolveInvoiceLeadingZeros(t *testing.T) {
	service := newTestService(t)
	service.AddInvoice(&orders.Invoice{
		Prefix:        "INV-",
		Number:        "01234",
		FullInvoiceNo: "INV-01234",
		OrderCode:     "1Z3AS",
		EventSlug:     "democon",
		OrganizerSlug: "bigevents",
	})
	r := New(service, 5, nil)

	// The reference dropped the zero padding of the invoice number.
	order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "INV", Code: "1234"})
	if order == nil || order.Code != "1Z3AS" {
		t.Fatalf("zero-padded invoice lookup failed: %v", order)
	}
}

func TestResolveAmbiguousInvoiceIsNoMatch(t *testing.T) {
	service := newTestService(t)
	for _, code := range []string{"1Z3AS", "103A5"} {
		service.AddInvoice(&orders.Invoice{
			Prefix:        "INV-",
			Number:        "77",
			FullInvoiceNo: "INV-77" + code,
			OrderCode:     code,
			EventSlug:     "democon",
			OrganizerSlug: "bigevents",
		})
	}
	r := New(service, 5, nil)

	if order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "INV", Code: "77"}); order != nil {
		t.Fatalf("ambiguous invoice must resolve to nothing, got %s", order.Code)
	}
}

func TestResolveNothing(t *testing.T) {
	r := New(newTestService(t), 5, nil)

	if order := r.Resolve(models.EventScope("democon"), matcher.Match{Prefix: "DEMOCON", Code: "ZZZZZ"}); order != nil {
		t.Fatalf("expected no match, got %s", order.Code)
	}
}

func TestResolveAllDeduplicates(t *testing.T) {
	r := New(newTestService(t), 5, nil)
	scope := models.EventScope("democon")

	resolved := r.ResolveAll(scope, []matcher.Match{
		{Prefix: "DEMOCON", Code: "1Z3AS"},
		{Prefix: "DEMOCON", Code: "1Z3ASEUR"}, // same order via truncation
		{Prefix: "DEMOCON", Code: "103A5"},
	})

	if len(resolved) != 2 {
		t.Fatalf("expected 2 distinct orders, got %d", len(resolved))
	}
	if resolved[0].Code != "1Z3AS" || resolved[1].Code != "103A5" {
		t.Errorf("discovery order not preserved: %s, %s", resolved[0].Code, resolved[1].Code)
	}
}

func TestResolveOrganizerScopeChecksEventSlug(t *testing.T) {
	service := newTestService(t)
	r := New(service, 5, nil)
	scope := models.OrganizerScope("bigevents")

	// The matched prefix names the event; a code that exists under a
	// different event slug must not resolve.
	if order := r.Resolve(scope, matcher.Match{Prefix: "OTHEREVENT", Code: "1Z3AS"}); order != nil {
		t.Fatalf("code resolved under wrong event slug: %s", order.Code)
	}
	if order := r.Resolve(scope, matcher.Match{Prefix: "DEMOCON", Code: "1Z3AS"}); order == nil || order.Code != "1Z3AS" {
		t.Fatalf("code did not resolve under its own event slug: %v", order)
	}
}
