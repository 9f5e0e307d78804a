package reconcile

import (
	"strings"

	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
)

// Outcome is what a reconciliation attempt did to the stored order.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// Source names the entry point a candidate status came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweep   Source = "sweep"
)

// Precedence ranks payment statuses: failed < pending < completed.
func Precedence(s orders.PaymentStatus) int {
	switch s {
	case orders.PaymentFailed:
		return 0
	case orders.PaymentPending:
		return 1
	case orders.PaymentCompleted:
		return 2
	}
	return -1
}

// Decide returns whether candidate should replace stored.
//
// A pending order accepts either terminal status. Between terminal statuses only the
// higher precedence wins, so completed may overwrite failed (late success) but never
// the reverse. Pending never overwrites anything.
func Decide(stored, candidate orders.PaymentStatus) Outcome {
	if candidate == stored {
		return OutcomeUnchanged
	}
	if !isTerminal(candidate) {
		return OutcomeStale
	}
	if stored == orders.PaymentPending || Precedence(candidate) > Precedence(stored) {
		return OutcomeApplied
	}
	return OutcomeStale
}

// MapProcessorStatus translates the processor's status vocabulary. ok is false for
// statuses with no defined mapping; those must be ignored, not guessed.
func MapProcessorStatus(raw string) (status orders.PaymentStatus, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETE", "COMPLETED":
		return orders.PaymentCompleted, true
	case "PENDING":
		return orders.PaymentPending, true
	case "FAILED":
		return orders.PaymentFailed, true
	}
	return "", false
}

// derivedStatus is the business status implied by an accepted payment status.
func derivedStatus(ps orders.PaymentStatus) orders.Status {
	switch ps {
	case orders.PaymentCompleted:
		return orders.StatusPaid
	case orders.PaymentFailed:
		return orders.StatusCancelled
	}
	return ""
}

func isTerminal(s orders.PaymentStatus) bool {
	return s == orders.PaymentCompleted || s == orders.PaymentFailed
}
