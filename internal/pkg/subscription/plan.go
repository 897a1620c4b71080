package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/studyhall-app/studyhall/app/models"
)

// Date-gap thresholds for the billing-date heuristic. Anything in between is
// inconclusive (trial periods distort the gap).
const (
	yearlyGapDays  = 300
	monthlyGapDays = 60
)

// retrieveFunc lazily fetches the provider's view of the subscription. It is
// only invoked when the webhook payload alone is inconclusive.
type retrieveFunc func(ctx context.Context) (*ProviderSubscription, error)

// InferPlan determines the billing cadence for an event. Resolution order,
// short-circuiting at the first confident answer: product-ID catalog
// membership, payload interval+count hints, billing-date gap, provider API
// lookup (same three checks against the retrieved object), caller fallback.
func InferPlan(ctx context.Context, catalog *Catalog, ev *Event, retrieve retrieveFunc, fallback string) string {
	if plan := planFromProduct(catalog, ev.ProductID); plan != "" {
		return plan
	}
	if plan := planFromInterval(ev.IntervalHint, ev.CountHint); plan != "" {
		return plan
	}
	if plan := planFromDates(ev.NextBillingAt, ev.PreviousBillingAt); plan != "" {
		return plan
	}

	if retrieve != nil {
		if sub, err := retrieve(ctx); err != nil {
			log.Warnf("[Billing] plan inference retrieve fallback failed for %s/%s: %v", ev.Provider, ev.SubscriptionID, err)
		} else if sub != nil {
			if plan := planFromProduct(catalog, sub.ProductID); plan != "" {
				return plan
			}
			if plan := planFromInterval(sub.Interval, sub.Count); plan != "" {
				return plan
			}
			if plan := planFromDates(sub.NextBillingAt, sub.PreviousBillingAt); plan != "" {
				return plan
			}
		}
	}

	if plan := normalizePlan(fallback); plan != "" {
		return plan
	}
	return models.SubscriptionPlanMonthly
}

// planFromProduct is the most reliable signal: the configured product-ID sets.
func planFromProduct(catalog *Catalog, productID string) string {
	if catalog == nil || strings.TrimSpace(productID) == "" {
		return ""
	}
	if catalog.IsYearlyProduct(productID) {
		return models.SubscriptionPlanYearly
	}
	if catalog.IsMonthlyProduct(productID) {
		return models.SubscriptionPlanMonthly
	}
	return ""
}

// planFromInterval classifies the payload's interval string, reclassifying a
// monthly interval with a repeat count of 12 or more as yearly (an annual
// plan billed in monthly increments).
func planFromInterval(interval string, count int) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "year", "yearly", "annual", "annually", "yr":
		return models.SubscriptionPlanYearly
	case "month", "monthly", "mo":
		if count >= 12 {
			return models.SubscriptionPlanYearly
		}
		return models.SubscriptionPlanMonthly
	default:
		return ""
	}
}

func planFromDates(next, previous *time.Time) string {
	if next == nil || previous == nil || !next.After(*previous) {
		return ""
	}
	gapDays := next.Sub(*previous).Hours() / 24
	if gapDays > yearlyGapDays {
		return models.SubscriptionPlanYearly
	}
	if gapDays <= monthlyGapDays {
		return models.SubscriptionPlanMonthly
	}
	return ""
}

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case models.SubscriptionPlanMonthly:
		return models.SubscriptionPlanMonthly
	case models.SubscriptionPlanYearly:
		return models.SubscriptionPlanYearly
	default:
		return ""
	}
}

// planInterval returns the calendar length of one billing period for a plan.
func planInterval(plan string) (years int, months int) {
	if plan == models.SubscriptionPlanYearly {
		return 1, 0
	}
	return 0, 1
}
