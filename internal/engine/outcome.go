package engine

import (
	"banktransfer-reconciliation-service/internal/models"
)

// Per-transaction messages are stored untranslated and rendered in the
// viewer's locale at display time.
const (
	MsgSplitNotPossible = "Automatic split to multiple orders not possible."
	MsgOrderCanceled    = "The order has already been canceled."
	MsgCurrencyMismatch = "Currencies do not match."
)

// Outcome is the reconciliation decision for one transaction. It is
// constructed exactly once per transaction and persisted atomically at
// the end, never mutated across branches.
type Outcome struct {
	State models.TransactionState
	// Message is the untranslated reason for non-valid outcomes
	Message string
	// PrimaryOrder is the code of the first order found in discovery
	// order, recorded regardless of how the decision went afterwards
	PrimaryOrder string
}

// NoMatch is the outcome for a transaction no order could be found for
func NoMatch() Outcome {
	return Outcome{State: models.TransactionStateNoMatch}
}

// SplitNotPossible is the outcome for a multi-order transaction whose
// amount does not reconcile exactly against the orders' pending sums
func SplitNotPossible(primaryOrder string) Outcome {
	return Outcome{
		State:        models.TransactionStateNoMatch,
		Message:      MsgSplitNotPossible,
		PrimaryOrder: primaryOrder,
	}
}

// Duplicate is the outcome for a transaction whose order is already paid
func Duplicate(primaryOrder string) Outcome {
	return Outcome{
		State:        models.TransactionStateDuplicate,
		PrimaryOrder: primaryOrder,
	}
}

// Rejected is the outcome for a transaction rejected by a business rule
func Rejected(message, primaryOrder string) Outcome {
	return Outcome{
		State:        models.TransactionStateError,
		Message:      message,
		PrimaryOrder: primaryOrder,
	}
}

// Valid is the outcome for a transaction applied to its orders
func Valid(primaryOrder string) Outcome {
	return Outcome{
		State:        models.TransactionStateValid,
		PrimaryOrder: primaryOrder,
	}
}

// Apply writes the outcome onto the transaction
func (o Outcome) Apply(t *models.BankTransaction) {
	t.State = o.State
	t.Message = o.Message
	t.OrderCode = o.PrimaryOrder
}
