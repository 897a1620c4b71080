package subscription

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// ClassifyTrial decides whether an event represents a trial and how long the
// trial runs. The no-trial product list wins absolutely; after that, any of
// an explicit trial_period_days, a status containing "trial", or trial
// product membership counts, with a provider API lookup as the last resort.
// Ambiguous signals resolve to not-trial; a wrongly granted trial is a free
// subscription extension, a wrongly denied one only skips a welcome mail.
func ClassifyTrial(ctx context.Context, catalog *Catalog, ev *Event, retrieve retrieveFunc) (bool, int) {
	if catalog != nil && catalog.IsNoTrialProduct(ev.ProductID) {
		return false, 0
	}

	if isTrial, days := trialSignals(catalog, ev.ProductID, ev.RawStatus, ev.TrialDays); isTrial {
		return true, trialDaysOrDefault(catalog, days)
	}

	if retrieve != nil {
		sub, err := retrieve(ctx)
		if err != nil {
			log.Warnf("[Billing] trial classification retrieve fallback failed for %s/%s: %v", ev.Provider, ev.SubscriptionID, err)
			return false, 0
		}
		if sub != nil {
			if catalog != nil && catalog.IsNoTrialProduct(sub.ProductID) {
				return false, 0
			}
			if isTrial, days := trialSignals(catalog, sub.ProductID, sub.Status, sub.TrialPeriodDays); isTrial {
				return true, trialDaysOrDefault(catalog, days)
			}
		}
	}

	return false, 0
}

func trialSignals(catalog *Catalog, productID, status string, trialDays int) (bool, int) {
	if trialDays > 0 {
		return true, trialDays
	}
	if strings.Contains(strings.ToLower(status), "trial") {
		return true, 0
	}
	if catalog != nil && catalog.IsTrialProduct(productID) {
		return true, 0
	}
	return false, 0
}

func trialDaysOrDefault(catalog *Catalog, days int) int {
	if days > 0 {
		return days
	}
	if catalog != nil && catalog.DefaultTrialDays > 0 {
		return catalog.DefaultTrialDays
	}
	return 7
}
