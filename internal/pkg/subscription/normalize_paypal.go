package subscription

import (
	"strings"

	"github.com/studyhall-app/studyhall/app/models"
)

// NormalizePayPal maps a PayPal webhook payload to a canonical event. The
// payload is the `resource` object of the delivery body; eventType is the
// delivery's `event_type` field.
func NormalizePayPal(eventType string, raw []byte) (*Event, error) {
	p, err := parsePayload(raw)
	if err != nil {
		return nil, err
	}

	subscriber := p.obj("subscriber")
	billingInfo := p.obj("billing_info")
	lastPayment := billingInfo.obj("last_payment")

	ev := &Event{
		Provider:          models.BillingProviderPayPal,
		Kind:              paypalKind(eventType),
		SubscriptionID:    p.str("billing_agreement_id", "id"),
		CustomerID:        firstNonEmpty(subscriber.str("payer_id"), p.str("payer_id")),
		CustomerEmail:     firstNonEmpty(subscriber.str("email_address"), p.str("custom")),
		ExternalUserID:    p.str("custom_id"),
		ProductID:         p.str("plan_id"),
		Amount:            paypalAmount(p, lastPayment),
		IntervalHint:      firstNonEmpty(p.str("interval_unit"), p.obj("plan").str("interval_unit")),
		NextBillingAt:     billingInfo.timeAt("next_billing_time", "next_payment_date"),
		PreviousBillingAt: lastPayment.timeAt("time"),
		RawStatus:         p.str("status", "state"),
	}

	// Sale events reference the subscription via billing_agreement_id only;
	// subscription events carry their own id at the root.
	if ev.Kind == KindRenewed && p.str("billing_agreement_id") != "" {
		ev.SubscriptionID = p.str("billing_agreement_id")
	}

	if !ev.Identifiable() {
		return nil, ErrUnidentifiableEvent
	}
	return ev, nil
}

func paypalKind(eventType string) string {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case "BILLING.SUBSCRIPTION.CREATED":
		return KindCreated
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		return KindActivated
	case "PAYMENT.SALE.COMPLETED":
		return KindRenewed
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED", "PAYMENT.SALE.DENIED":
		return KindPaymentFailed
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		return KindOnHold
	case "BILLING.SUBSCRIPTION.RE-ACTIVATED":
		return KindResumed
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return KindCancelled
	case "BILLING.SUBSCRIPTION.EXPIRED":
		return KindExpired
	case "BILLING.SUBSCRIPTION.UPDATED":
		return KindPlanChanged
	default:
		return KindUnknown
	}
}

// paypalAmount reads the payment amount in cents from whichever of the two
// shapes PayPal uses (sale resource vs. subscription billing_info).
func paypalAmount(p, lastPayment payload) int64 {
	for _, amount := range []payload{p.obj("amount"), lastPayment.obj("amount")} {
		if amount == nil {
			continue
		}
		if v := amount.str("total", "value"); v != "" {
			return parseMoneyCents(v)
		}
	}
	return 0
}

func parseMoneyCents(v string) int64 {
	v = strings.TrimSpace(v)
	whole, frac, _ := strings.Cut(v, ".")
	cents := int64(0)
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0
		}
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100
	if len(frac) > 0 {
		frac = (frac + "00")[:2]
		for _, r := range frac {
			if r < '0' || r > '9' {
				return cents
			}
		}
		cents += int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	}
	return cents
}
