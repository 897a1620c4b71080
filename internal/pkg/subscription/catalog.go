package subscription

import (
	"strings"

	"github.com/studyhall-app/studyhall/internal/pkg/env"
)

// Catalog holds the configured product-ID sets used for plan and trial
// classification. It is loaded once at startup and passed explicitly to the
// classifiers so they stay pure and testable.
type Catalog struct {
	MonthlyProductIDs map[string]struct{}
	YearlyProductIDs  map[string]struct{}
	TrialProductIDs   map[string]struct{}
	NoTrialProductIDs map[string]struct{}
	DefaultTrialDays  int
}

// NewCatalogFromEnv builds the catalog from comma-separated env lists. The
// same lists cover both providers; product IDs do not collide between them.
func NewCatalogFromEnv() *Catalog {
	return &Catalog{
		MonthlyProductIDs: idSet(env.GetEnv("BILLING_MONTHLY_PRODUCT_IDS", "")),
		YearlyProductIDs:  idSet(env.GetEnv("BILLING_YEARLY_PRODUCT_IDS", "")),
		TrialProductIDs:   idSet(env.GetEnv("BILLING_TRIAL_PRODUCT_IDS", "")),
		NoTrialProductIDs: idSet(env.GetEnv("BILLING_NO_TRIAL_PRODUCT_IDS", "")),
		DefaultTrialDays:  envInt("BILLING_DEFAULT_TRIAL_DAYS", 7),
	}
}

func (c *Catalog) IsMonthlyProduct(productID string) bool { return inSet(c.MonthlyProductIDs, productID) }
func (c *Catalog) IsYearlyProduct(productID string) bool  { return inSet(c.YearlyProductIDs, productID) }
func (c *Catalog) IsTrialProduct(productID string) bool   { return inSet(c.TrialProductIDs, productID) }
func (c *Catalog) IsNoTrialProduct(productID string) bool { return inSet(c.NoTrialProductIDs, productID) }

func idSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(csv, ",") {
		if id := strings.TrimSpace(part); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func inSet(set map[string]struct{}, id string) bool {
	if set == nil || strings.TrimSpace(id) == "" {
		return false
	}
	_, ok := set[strings.TrimSpace(id)]
	return ok
}

// envInt rejects negative values; a trial length below zero is a typo.
func envInt(key string, def int) int {
	if n := env.GetEnvInt(key, def); n >= 0 {
		return n
	}
	return def
}
