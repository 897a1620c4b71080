package subscription

import (
	"strings"

	"github.com/studyhall-app/studyhall/app/models"
)

// NormalizeDodo maps a Dodo webhook payload to a canonical event. The payload
// is the `data` object of the delivery body; eventType is the delivery's
// `type` field.
func NormalizeDodo(eventType string, raw []byte) (*Event, error) {
	p, err := parsePayload(raw)
	if err != nil {
		return nil, err
	}

	customer := p.obj("customer")
	ev := &Event{
		Provider:          models.BillingProviderDodo,
		Kind:              dodoKind(eventType),
		SubscriptionID:    p.str("subscription_id", "id"),
		CustomerID:        firstNonEmpty(p.str("customer_id"), customer.str("customer_id", "id")),
		CustomerEmail:     firstNonEmpty(p.str("customer_email"), customer.str("email")),
		ExternalUserID:    p.obj("metadata").str("user_id", "userId", "clerk_user_id"),
		ProductID:         p.str("product_id"),
		Amount:            p.num("recurring_pre_tax_amount", "total_amount", "amount"),
		IntervalHint:      firstNonEmpty(p.str("payment_frequency_interval"), p.obj("payment_frequency").str("interval")),
		CountHint:         int(p.num("payment_frequency_count", "subscription_period_count")),
		NextBillingAt:     p.timeAt("next_billing_date", "next_billing_at"),
		PreviousBillingAt: p.timeAt("previous_billing_date", "previous_billing_at"),
		TrialDays:         int(p.num("trial_period_days")),
		RawStatus:         p.str("status"),
	}

	// Some payment.* payloads only reference the subscription indirectly.
	if ev.SubscriptionID == "" {
		ev.SubscriptionID = p.obj("subscription").str("subscription_id", "id")
	}

	if !ev.Identifiable() {
		return nil, ErrUnidentifiableEvent
	}
	return ev, nil
}

func dodoKind(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "subscription.created":
		return KindCreated
	case "subscription.active", "subscription.activated":
		return KindActivated
	case "subscription.renewed", "payment.succeeded":
		return KindRenewed
	case "subscription.failed", "payment.failed":
		return KindPaymentFailed
	case "subscription.on_hold":
		return KindOnHold
	case "subscription.resumed":
		return KindResumed
	case "subscription.cancelled", "subscription.canceled":
		return KindCancelled
	case "subscription.expired":
		return KindExpired
	case "subscription.plan_changed", "subscription.updated":
		return KindPlanChanged
	default:
		return KindUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
