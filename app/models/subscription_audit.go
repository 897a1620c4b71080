package models

import "time"

// Audit decision reasons recorded alongside rejected or blocked transitions.
const (
	AuditReasonInvalidTransition = "invalid_transition"
	AuditReasonTrialAlreadyUsed  = "trial_already_used"
	AuditReasonSubscriptionTaken = "subscription_id_taken"
)

// SubscriptionAudit is an append-only log of every attempted subscription
// state transition, accepted or not. One row per processed webhook event
// that reached the validator.
type SubscriptionAudit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	FromStatus     string    `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus       string    `gorm:"type:varchar(20);not null" json:"to_status"`
	SubscriptionID string    `gorm:"type:varchar(191);not null;default:''" json:"subscription_id"`
	Provider       string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	Accepted       bool      `gorm:"not null;index" json:"accepted"`
	Reason         string    `gorm:"type:varchar(100);not null;default:''" json:"reason"`
	Metadata       string    `gorm:"type:text" json:"metadata"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
