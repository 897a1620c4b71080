package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/studyhall-app/studyhall/app/models"
)

func TestHasPremiumAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 5)
	past := now.AddDate(0, 0, -5)

	tests := []struct {
		name string
		user models.User
		want bool
	}{
		{"free", models.User{SubscriptionStatus: models.SubscriptionStatusFree}, false},
		{"trialing", models.User{SubscriptionStatus: models.SubscriptionStatusTrialing, SubscriptionEndsAt: &future}, true},
		{"active", models.User{SubscriptionStatus: models.SubscriptionStatusActive, SubscriptionEndsAt: &future}, true},
		{"cancelled within paid period", models.User{SubscriptionStatus: models.SubscriptionStatusCancelled, SubscriptionEndsAt: &future}, true},
		{"cancelled after paid period", models.User{SubscriptionStatus: models.SubscriptionStatusCancelled, SubscriptionEndsAt: &past}, false},
		{"cancelled without end date", models.User{SubscriptionStatus: models.SubscriptionStatusCancelled}, false},
		{"on hold within grace", models.User{SubscriptionStatus: models.SubscriptionStatusOnHold, PaymentGracePeriodEndsAt: &future}, true},
		{"on hold after grace", models.User{SubscriptionStatus: models.SubscriptionStatusOnHold, PaymentGracePeriodEndsAt: &past}, false},
		{"expired", models.User{SubscriptionStatus: models.SubscriptionStatusExpired, SubscriptionEndsAt: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPremiumAccess(&tt.user, now))
		})
	}
}

func TestSnapshotFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ends := now.AddDate(0, 1, 0)
	plan := models.SubscriptionPlanYearly
	user := &models.User{
		ID:                 42,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionPlan:   &plan,
		SubscriptionEndsAt: &ends,
	}

	snap := SnapshotFor(user, now)

	assert.Equal(t, uint(42), snap.UserID)
	assert.Equal(t, models.SubscriptionStatusActive, snap.Status)
	assert.Equal(t, &plan, snap.Plan)
	assert.True(t, snap.HasPremium)
	assert.Equal(t, &ends, snap.AccessEndsAt)
	assert.False(t, snap.InGracePeriod)
}
