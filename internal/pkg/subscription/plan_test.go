package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/studyhall-app/studyhall/app/models"
)

func testCatalog() *Catalog {
	return &Catalog{
		MonthlyProductIDs: map[string]struct{}{"prod_monthly": {}},
		YearlyProductIDs:  map[string]struct{}{"prod_yearly": {}},
		TrialProductIDs:   map[string]struct{}{"prod_trial": {}},
		NoTrialProductIDs: map[string]struct{}{"prod_no_trial": {}},
		DefaultTrialDays:  7,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestInferPlanPrecedence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ev       *Event
		retrieve retrieveFunc
		fallback string
		want     string
	}{
		{
			name: "catalog product id beats contradicting interval hint",
			ev:   &Event{ProductID: "prod_yearly", IntervalHint: "month"},
			want: models.SubscriptionPlanYearly,
		},
		{
			name: "monthly product id",
			ev:   &Event{ProductID: "prod_monthly"},
			want: models.SubscriptionPlanMonthly,
		},
		{
			name: "yearly interval hint",
			ev:   &Event{IntervalHint: "Year"},
			want: models.SubscriptionPlanYearly,
		},
		{
			name: "monthly interval hint",
			ev:   &Event{IntervalHint: "month", CountHint: 1},
			want: models.SubscriptionPlanMonthly,
		},
		{
			name: "monthly interval with twelve billing cycles is an annual plan",
			ev:   &Event{IntervalHint: "month", CountHint: 12},
			want: models.SubscriptionPlanYearly,
		},
		{
			name: "date gap of a year",
			ev: &Event{
				PreviousBillingAt: timePtr(now),
				NextBillingAt:     timePtr(now.AddDate(0, 0, 370)),
			},
			want: models.SubscriptionPlanYearly,
		},
		{
			name: "date gap of a month",
			ev: &Event{
				PreviousBillingAt: timePtr(now),
				NextBillingAt:     timePtr(now.AddDate(0, 0, 30)),
			},
			want: models.SubscriptionPlanMonthly,
		},
		{
			name: "inconclusive date gap falls through to fallback",
			ev: &Event{
				PreviousBillingAt: timePtr(now),
				NextBillingAt:     timePtr(now.AddDate(0, 0, 90)),
			},
			fallback: models.SubscriptionPlanYearly,
			want:     models.SubscriptionPlanYearly,
		},
		{
			name: "provider lookup answers when payload is silent",
			ev:   &Event{SubscriptionID: "sub_1"},
			retrieve: func(ctx context.Context) (*ProviderSubscription, error) {
				return &ProviderSubscription{Interval: "year"}, nil
			},
			want: models.SubscriptionPlanYearly,
		},
		{
			name: "provider lookup product id checked against catalog",
			ev:   &Event{SubscriptionID: "sub_1"},
			retrieve: func(ctx context.Context) (*ProviderSubscription, error) {
				return &ProviderSubscription{ProductID: "prod_monthly"}, nil
			},
			want: models.SubscriptionPlanMonthly,
		},
		{
			name: "failed lookup falls back to last known plan",
			ev:   &Event{SubscriptionID: "sub_1"},
			retrieve: func(ctx context.Context) (*ProviderSubscription, error) {
				return nil, errors.New("provider down")
			},
			fallback: models.SubscriptionPlanYearly,
			want:     models.SubscriptionPlanYearly,
		},
		{
			name: "no signal at all defaults to monthly",
			ev:   &Event{},
			want: models.SubscriptionPlanMonthly,
		},
		{
			name:     "garbage fallback defaults to monthly",
			ev:       &Event{},
			fallback: "weekly",
			want:     models.SubscriptionPlanMonthly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferPlan(context.Background(), testCatalog(), tt.ev, tt.retrieve, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferPlanDoesNotCallProviderWhenPayloadDecides(t *testing.T) {
	called := false
	retrieve := func(ctx context.Context) (*ProviderSubscription, error) {
		called = true
		return nil, errors.New("must not be called")
	}

	got := InferPlan(context.Background(), testCatalog(), &Event{ProductID: "prod_yearly"}, retrieve, "")
	assert.Equal(t, models.SubscriptionPlanYearly, got)
	assert.False(t, called)
}

func TestPlanFromDatesEdgeCases(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "", planFromDates(nil, timePtr(now)))
	assert.Equal(t, "", planFromDates(timePtr(now), nil))
	// Reversed dates carry no signal.
	assert.Equal(t, "", planFromDates(timePtr(now), timePtr(now.AddDate(0, 0, 30))))
}
