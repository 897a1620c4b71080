package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyhall-app/studyhall/internal/pkg/env"
)

const defaultDodoAPIBaseURL = "https://live.dodopayments.com"

// ProviderSubscription is the result of a provider subscription-retrieve
// lookup, used as the fallback source for plan and trial classification.
type ProviderSubscription struct {
	ProductID         string
	Status            string
	Interval          string
	Count             int
	TrialPeriodDays   int
	NextBillingAt     *time.Time
	PreviousBillingAt *time.Time
}

// ProviderClient exposes the single provider API lookup the reconciliation
// engine needs.
type ProviderClient interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}

type DodoClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewDodoClientFromEnv() *DodoClient {
	return &DodoClient{
		APIKey:     strings.TrimSpace(env.GetEnv("DODO_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("DODO_API_BASE_URL", defaultDodoAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *DodoClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	if c.APIKey == "" {
		return nil, errors.New("DODO_API_KEY is not configured")
	}

	reqURL := c.APIBaseURL + "/subscriptions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dodo subscription retrieve failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	p, err := parsePayload(body)
	if err != nil {
		return nil, err
	}
	return &ProviderSubscription{
		ProductID:         p.str("product_id"),
		Status:            p.str("status"),
		Interval:          firstNonEmpty(p.str("payment_frequency_interval"), p.obj("payment_frequency").str("interval")),
		Count:             int(p.num("payment_frequency_count")),
		TrialPeriodDays:   int(p.num("trial_period_days")),
		NextBillingAt:     p.timeAt("next_billing_date"),
		PreviousBillingAt: p.timeAt("previous_billing_date"),
	}, nil
}
