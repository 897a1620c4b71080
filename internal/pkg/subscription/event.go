package subscription

import (
	"errors"
	"time"
)

// Canonical event kinds. Provider-specific event type strings are mapped to
// these by the normalizers.
const (
	KindCreated       = "created"
	KindActivated     = "activated"
	KindRenewed       = "renewed"
	KindPaymentFailed = "payment_failed"
	KindCancelled     = "cancelled"
	KindExpired       = "expired"
	KindOnHold        = "on_hold"
	KindResumed       = "resumed"
	KindPlanChanged   = "plan_changed"
	KindUnknown       = "unknown"
)

// ErrUnidentifiableEvent is returned when a payload carries neither a
// subscription-identifying field nor a customer email. The caller logs and
// acknowledges without mutation; retrying such an event is pointless.
var ErrUnidentifiableEvent = errors.New("webhook event carries no identifying field")

// Event is the provider-agnostic shape produced by the normalizers and
// consumed by the reconciliation service. Every field except Provider and
// Kind is optional; providers differ in what they include per event type.
type Event struct {
	Provider          string
	Kind              string
	SubscriptionID    string
	CustomerID        string
	CustomerEmail     string
	ExternalUserID    string
	ProductID         string
	Amount            int64
	IntervalHint      string
	CountHint         int
	NextBillingAt     *time.Time
	PreviousBillingAt *time.Time
	TrialDays         int
	RawStatus         string
}

// Identifiable reports whether the event can be tied to a subscriber at all.
func (e *Event) Identifiable() bool {
	return e.SubscriptionID != "" || e.CustomerID != "" || e.CustomerEmail != "" || e.ExternalUserID != ""
}
