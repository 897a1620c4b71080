package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserValidate(t *testing.T) {
	u := &User{
		Name:               "Alex Student",
		Email:              "alex@example.com",
		Role:               ROLE_USER,
		Status:             STATUS_ACTIVE,
		SubscriptionStatus: SubscriptionStatusFree,
	}
	assert.NoError(t, u.Validate())

	u.SubscriptionStatus = "premium"
	assert.Error(t, u.Validate(), "unknown subscription status must fail validation")

	u.SubscriptionStatus = SubscriptionStatusTrialing
	u.Email = "not-an-email"
	assert.Error(t, u.Validate())
}

func TestUserHasUsedTrial(t *testing.T) {
	u := &User{}
	assert.False(t, u.HasUsedTrial())

	now := time.Now()
	u.TrialUsedAt = &now
	assert.True(t, u.HasUsedTrial())
}

func TestBillingWebhookEventProcessedOK(t *testing.T) {
	e := &BillingWebhookEvent{}
	assert.False(t, e.ProcessedOK(), "unprocessed deliveries are not absorbed")

	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = "timeout"
	assert.False(t, e.ProcessedOK(), "failed deliveries get reprocessed on retry")

	e.ProcessingError = ""
	assert.True(t, e.ProcessedOK())
}
