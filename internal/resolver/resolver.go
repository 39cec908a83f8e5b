// Package resolver maps (prefix, code) candidates extracted from bank
// references to concrete orders.
package resolver

import (
	"errors"

	"banktransfer-reconciliation-service/internal/matcher"
	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/internal/orders"
	"banktransfer-reconciliation-service/pkg/logger"
)

// DefaultOrderCodeEntropy is the standard length of generated order
// codes. Codes seen in references can be longer when the bank glued
// unrelated characters onto them, so truncation to this length is one
// of the lookup fallbacks.
const DefaultOrderCodeEntropy = 5

// Resolver resolves reference matches to orders within an owner scope
type Resolver struct {
	service *orders.Service
	entropy int
	log     logger.Logger
}

// New creates a resolver. An entropy of 0 falls back to the default
// order-code entropy length.
func New(service *orders.Service, entropy int, log logger.Logger) *Resolver {
	if entropy <= 0 {
		entropy = DefaultOrderCodeEntropy
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Resolver{
		service: service,
		entropy: entropy,
		log:     log.WithComponent("resolver"),
	}
}

// Resolve maps one (prefix, code) candidate to at most one order.
//
// Four candidate codes are tried in fixed order: the code verbatim, its
// fallback-normalized form, the code truncated to the order-code
// entropy length, and the normalized truncation. When none match, the
// candidate is retried as an invoice number. Returns nil when nothing
// matches.
func (r *Resolver) Resolve(scope models.OwnerScope, m matcher.Match) *orders.Order {
	for _, code := range r.candidateCodes(m.Code) {
		order, err := r.service.FindOrderByCode(scope, m.Prefix, code)
		if err == nil {
			return order
		}
		if !errors.Is(err, orders.ErrOrderNotFound) {
			r.log.WithError(err).WithField("code", code).Warn("Order lookup failed")
		}
	}

	order, err := r.service.FindOrderByInvoice(scope, m.Prefix, m.Code)
	if err != nil {
		if errors.Is(err, orders.ErrInvoiceAmbiguous) {
			r.log.WithFields(logger.Fields{
				"prefix": m.Prefix,
				"code":   m.Code,
			}).Debug("Invoice reference is ambiguous, treating as no match")
		}
		return nil
	}
	return order
}

// ResolveAll resolves a candidate list, de-duplicating by order code
// and preserving discovery order. The first order found becomes the
// transaction's primary order link.
func (r *Resolver) ResolveAll(scope models.OwnerScope, matches []matcher.Match) []*orders.Order {
	var resolved []*orders.Order
	seen := make(map[string]bool)

	for _, m := range matches {
		order := r.Resolve(scope, m)
		if order == nil || seen[order.Code] {
			continue
		}
		seen[order.Code] = true
		resolved = append(resolved, order)
	}
	return resolved
}

func (r *Resolver) candidateCodes(code string) []string {
	truncated := code
	if len(truncated) > r.entropy {
		truncated = truncated[:r.entropy]
	}

	candidates := []string{
		code,
		orders.NormalizeCode(code, true),
		truncated,
		orders.NormalizeCode(truncated, true),
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
