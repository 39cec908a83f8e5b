// Package engine applies matched bank transactions to orders.
//
// Given one transaction and its resolved order candidates, the engine
// decides between no-match, duplicate, error, single payment
// confirmation, multi-order split and refund creation, and applies the
// decision inside a single atomic scope. Precondition checks run for
// every candidate order before any mutation, so a partially invalid
// multi-order split aborts with no side effects.
package engine

import (
	"context"
	"errors"

	"banktransfer-reconciliation-service/internal/matcher"
	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/internal/orders"
	"banktransfer-reconciliation-service/internal/resolver"
	"banktransfer-reconciliation-service/internal/store"
	"banktransfer-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Engine is the reconciliation state machine
type Engine struct {
	store    store.Store
	orders   *orders.Service
	resolver *resolver.Resolver
	mailer   orders.Mailer
	log      logger.Logger
}

// New creates a reconciliation engine. The mailer may be nil, in which
// case incomplete-payment notices are skipped.
func New(st store.Store, service *orders.Service, res *resolver.Resolver, mailer orders.Mailer, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Engine{
		store:    st,
		orders:   service,
		resolver: res,
		mailer:   mailer,
		log:      log.WithComponent("engine"),
	}
}

// allocation is one (order, amount) slice of a transaction
type allocation struct {
	order  *orders.Order
	amount decimal.Decimal
}

// Process reconciles one transaction against its reference matches and
// persists the terminal state. The whole step runs atomically so a
// failure partway through cannot leave the row half-applied.
func (e *Engine) Process(ctx context.Context, trans *models.BankTransaction, matches []matcher.Match) error {
	return e.store.Atomic(ctx, func(s store.Store) error {
		outcome, err := e.reconcile(trans, matches)
		if err != nil {
			return err
		}
		outcome.Apply(trans)
		return s.SaveTransaction(trans)
	})
}

func (e *Engine) reconcile(trans *models.BankTransaction, matches []matcher.Match) (Outcome, error) {
	candidates := e.resolver.ResolveAll(trans.Scope, matches)
	if len(candidates) == 0 {
		return NoMatch(), nil
	}
	primary := candidates[0].Code

	var splits []allocation
	if len(candidates) > 1 {
		// Multi-match. Splitting is only safe when the amounts
		// reconcile exactly; anything else needs a human.
		pendingTotal := decimal.Zero
		splits = make([]allocation, 0, len(candidates))
		for _, o := range candidates {
			pending := o.PendingSum()
			pendingTotal = pendingTotal.Add(pending)
			splits = append(splits, allocation{order: o, amount: pending})
		}
		if !pendingTotal.Equal(trans.Amount) {
			return SplitNotPossible(primary), nil
		}
	} else {
		splits = []allocation{{order: candidates[0], amount: trans.Amount}}
	}

	// Preconditions for every candidate order, before any mutation.
	for _, o := range candidates {
		if o.Status == orders.OrderStatusPaid && o.PendingSum().LessThanOrEqual(decimal.Zero) {
			return Duplicate(primary), nil
		}
		if o.Status == orders.OrderStatusCanceled {
			return Rejected(MsgOrderCanceled, primary), nil
		}
		if trans.Currency != "" && trans.Currency != o.Currency {
			return Rejected(MsgCurrencyMismatch, primary), nil
		}
	}

	info := e.transactionInfo(trans)
	for _, split := range splits {
		if split.amount.IsNegative() {
			e.applyRefund(split.order, split.amount.Neg(), info)
			continue
		}
		if err := e.applyPayment(split.order, split.amount, info); err != nil {
			return Outcome{}, err
		}
	}

	return Valid(primary), nil
}

// transactionInfo builds the metadata blob merged into payment and
// refund records so operators can trace money back to the statement.
func (e *Engine) transactionInfo(trans *models.BankTransaction) map[string]interface{} {
	date := trans.Date
	if trans.DateParsed != nil {
		date = trans.DateParsed.Format("2006-01-02")
	}
	return map[string]interface{}{
		"reference":   trans.Reference,
		"date":        date,
		"payer":       trans.Payer,
		"iban":        trans.IBAN,
		"bic":         trans.BIC,
		"full_amount": trans.Amount.String(),
		"trans_id":    trans.ID,
	}
}

// applyRefund applies a negative allocation. Preference order: complete
// an already pending refund of the same amount, then attach an external
// refund to a confirmed bank-transfer payment, then record a standalone
// external refund.
func (e *Engine) applyRefund(o *orders.Order, amount decimal.Decimal, info map[string]interface{}) {
	if pending := e.orders.FindPendingRefund(o, amount); pending != nil {
		e.orders.MarkRefundDone(o, pending, info)
		return
	}

	if payment := e.orders.FindConfirmedBankTransferPayment(o); payment != nil {
		if _, err := e.orders.CreateExternalRefundForPayment(o, payment, amount, info); err != nil {
			e.log.WithError(err).WithField("order", o.Code).Error("Failed to attach external refund")
		}
		return
	}

	refund, err := e.orders.CreateExternalRefund(o, amount, info)
	if err != nil {
		e.log.WithError(err).WithField("order", o.Code).Error("Failed to create external refund")
		return
	}
	e.orders.LogAction(o, "order.refund.created.externally", map[string]interface{}{
		"local_id": refund.LocalID,
		"provider": refund.Provider,
	})
	e.log.WithFields(logger.Fields{
		"order":  o.Code,
		"amount": amount.String(),
	}).Info("Created external refund for incoming bank refund")
}

// applyPayment applies a non-negative allocation.
func (e *Engine) applyPayment(o *orders.Order, amount decimal.Decimal, info map[string]interface{}) error {
	payment, created, err := e.orders.GetOrCreatePayment(o, amount)
	if err != nil {
		return err
	}
	payment.MergeInfo(info)

	if created {
		// Payment method switch on demand: the buyer chose some other
		// provider but paid by transfer anyway.
		fee, err := e.orders.ChangePaymentProvider(o, payment, orders.ProviderBankTransfer)
		if err != nil {
			return err
		}
		if !fee.IsZero() {
			payment.Fee = fee
		}
	}

	err = e.orders.ConfirmPayment(o, payment)
	switch {
	case errors.Is(err, orders.ErrQuotaExceeded), errors.Is(err, orders.ErrMailSendFailed):
		// Payment confirmed but the order status could not be set.
		// No longer a problem of the reconciliation engine.
		e.log.WithError(err).WithField("order", o.Code).
			Warn("Payment confirmed but order could not be settled")
		e.cancelOldPayments(o)
	case err != nil:
		return err
	default:
		e.cancelOldPayments(o)
		if o.PendingSum().GreaterThan(decimal.Zero) && o.Status == orders.OrderStatusPending {
			e.notifyIncompletePayment(o)
		}
	}
	return nil
}

// cancelOldPayments cleans up the order's remaining open bank-transfer
// payments after one of them was confirmed.
func (e *Engine) cancelOldPayments(o *orders.Order) {
	for _, p := range e.orders.OpenBankTransferPayments(o) {
		err := e.orders.CancelPayment(o, p)
		if err != nil {
			var provErr *orders.ProviderError
			data := map[string]interface{}{
				"local_id": p.LocalID,
				"provider": p.Provider,
			}
			if errors.As(err, &provErr) {
				data["error"] = provErr.Reason
			} else {
				data["error"] = err.Error()
			}
			e.orders.LogAction(o, "order.payment.canceled.failed", data)
			continue
		}
		e.orders.LogAction(o, "order.payment.canceled", map[string]interface{}{
			"local_id": p.LocalID,
			"provider": p.Provider,
		})
	}
}

// notifyIncompletePayment tells the buyer the order is still only
// partially paid. Mail failures are logged, never fatal.
func (e *Engine) notifyIncompletePayment(o *orders.Order) {
	if e.mailer == nil {
		return
	}
	err := e.mailer.SendMail(o,
		"Your order received an incomplete payment",
		"order_incomplete_payment",
		map[string]interface{}{
			"order":       o.Code,
			"pending_sum": o.PendingSum().String(),
		},
		"order.email.expire_warning_sent",
	)
	if err != nil {
		e.log.WithError(err).WithField("order", o.Code).Error("Reminder email could not be sent")
	}
}
