package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Provider keys known to the reconciliation core
const (
	ProviderBankTransfer = "banktransfer"
	ProviderManual       = "manual"
	ProviderFree         = "free"
)

// PaymentProvider is the capability interface payment backends
// implement. Providers are looked up by a stable string key in a
// registry built at initialization; no runtime reflection.
type PaymentProvider interface {
	// Key returns the stable identifier of the provider
	Key() string
	// CalculateFee returns the payment fee the provider charges for an
	// amount. Applied when a payment is switched to this provider.
	CalculateFee(amount decimal.Decimal) decimal.Decimal
	// CancelPayment cancels a created or pending payment
	CancelPayment(p *Payment) error
}

// ProviderRegistry maps provider keys to implementations
type ProviderRegistry struct {
	providers map[string]PaymentProvider
}

// NewProviderRegistry builds a registry from the given providers
func NewProviderRegistry(providers ...PaymentProvider) *ProviderRegistry {
	registry := &ProviderRegistry{providers: make(map[string]PaymentProvider, len(providers))}
	for _, p := range providers {
		registry.providers[p.Key()] = p
	}
	return registry
}

// DefaultProviderRegistry returns the registry with the built-in
// providers the reconciliation engine depends on.
func DefaultProviderRegistry() *ProviderRegistry {
	return NewProviderRegistry(
		&BankTransferProvider{},
		&ManualProvider{},
		&FreeProvider{},
	)
}

// Get looks up a provider by key
func (r *ProviderRegistry) Get(key string) (PaymentProvider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider: %s", key)
	}
	return p, nil
}

// BankTransferProvider handles payments received via bank transfer.
// Transfers carry no fee and can always be canceled locally since no
// remote provider holds state.
type BankTransferProvider struct{}

func (p *BankTransferProvider) Key() string { return ProviderBankTransfer }

func (p *BankTransferProvider) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

func (p *BankTransferProvider) CancelPayment(payment *Payment) error {
	switch payment.State {
	case PaymentStateCreated, PaymentStatePending:
		payment.State = PaymentStateCanceled
		return nil
	default:
		return &ProviderError{
			Provider: ProviderBankTransfer,
			Reason:   fmt.Sprintf("cannot cancel payment in state %s", payment.State),
		}
	}
}

// ManualProvider represents payments and refunds recorded by hand
type ManualProvider struct{}

func (p *ManualProvider) Key() string { return ProviderManual }

func (p *ManualProvider) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

func (p *ManualProvider) CancelPayment(payment *Payment) error {
	switch payment.State {
	case PaymentStateCreated, PaymentStatePending:
		payment.State = PaymentStateCanceled
		return nil
	default:
		return &ProviderError{
			Provider: ProviderManual,
			Reason:   fmt.Sprintf("cannot cancel payment in state %s", payment.State),
		}
	}
}

// FreeProvider backs zero-amount orders
type FreeProvider struct{}

func (p *FreeProvider) Key() string { return ProviderFree }

func (p *FreeProvider) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

func (p *FreeProvider) CancelPayment(payment *Payment) error {
	payment.State = PaymentStateCanceled
	return nil
}
