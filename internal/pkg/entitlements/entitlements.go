package entitlements

import (
	"time"

	"github.com/studyhall-app/studyhall/app/models"
)

// Snapshot is what the content features (notes, flashcards, quizzes, mind
// maps) consume at their boundary: a single yes/no plus the dates that
// explain it.
type Snapshot struct {
	UserID        uint       `json:"user_id"`
	Status        string     `json:"status"`
	Plan          *string    `json:"plan,omitempty"`
	HasPremium    bool       `json:"has_premium"`
	AccessEndsAt  *time.Time `json:"access_ends_at,omitempty"`
	InGracePeriod bool       `json:"in_grace_period"`
}

// HasPremiumAccess decides whether a user currently gets premium features.
// Cancelled users keep access until the paid period ends; on-hold users keep
// access through the payment grace window.
func HasPremiumAccess(u *models.User, now time.Time) bool {
	switch u.SubscriptionStatus {
	case models.SubscriptionStatusTrialing, models.SubscriptionStatusActive:
		return true
	case models.SubscriptionStatusCancelled:
		return u.SubscriptionEndsAt != nil && now.Before(*u.SubscriptionEndsAt)
	case models.SubscriptionStatusOnHold:
		return u.PaymentGracePeriodEndsAt != nil && now.Before(*u.PaymentGracePeriodEndsAt)
	default:
		return false
	}
}

// SnapshotFor builds the boundary view of a user's entitlements.
func SnapshotFor(u *models.User, now time.Time) Snapshot {
	return Snapshot{
		UserID:        u.ID,
		Status:        u.SubscriptionStatus,
		Plan:          u.SubscriptionPlan,
		HasPremium:    HasPremiumAccess(u, now),
		AccessEndsAt:  u.SubscriptionEndsAt,
		InGracePeriod: u.SubscriptionStatus == models.SubscriptionStatusOnHold,
	}
}
