package models

import "time"

// Notification kinds dispatched by the reconciliation engine.
const (
	NotificationTrialWelcome  = "trial_welcome"
	NotificationWelcome       = "welcome"
	NotificationReceipt       = "receipt"
	NotificationCancellation  = "cancellation"
	NotificationRenewal       = "renewal"
	NotificationPaymentFailed = "payment_failed"
	NotificationOnHold        = "on_hold"
	NotificationExpired       = "expired"
	NotificationPlanChange    = "plan_change"
)

// NotificationLog is the idempotency record behind user-facing side effects.
// The unique index on Key is the race-safe gate: whoever wins the insert runs
// the side effect, everyone else no-ops. Rows are only committed after the
// side effect succeeded, so a failed send stays retryable on redelivery.
type NotificationLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"key"`
	Kind      string    `gorm:"type:varchar(50);not null;index" json:"kind"`
	Recipient string    `gorm:"type:varchar(200);not null" json:"recipient"`
	SentAt    time.Time `gorm:"autoCreateTime" json:"sent_at"`
}
