package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// Subscription lifecycle states. A user is in exactly one at any time.
const (
	SubscriptionStatusFree      = "free"
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusOnHold    = "on_hold"
	SubscriptionStatusExpired   = "expired"
)

const (
	SubscriptionPlanMonthly = "monthly"
	SubscriptionPlanYearly  = "yearly"
)

type User struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Name           string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email          string `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	AuthProviderID string `gorm:"type:varchar(100);index" json:"-"`
	Role           string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status         string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`

	// Billing fields maintained by the subscription reconciliation engine.
	SubscriptionStatus string  `gorm:"type:varchar(20);not null;default:'free';index" json:"subscription_status" validate:"oneof=free trialing active cancelled on_hold expired"`
	SubscriptionPlan   *string `gorm:"type:varchar(16);default:null" json:"subscription_plan,omitempty"`
	SubscriptionID     string  `gorm:"type:varchar(191);default:'';index" json:"-"`
	CustomerID         string  `gorm:"type:varchar(191);default:'';index" json:"-"`
	// While trialing: trial end. While active/cancelled: next-billing or
	// access-end date. While expired: the expiry instant.
	SubscriptionEndsAt       *time.Time `gorm:"type:timestamp;default:null" json:"subscription_ends_at,omitempty"`
	TrialUsedAt              *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	PaymentGracePeriodEndsAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`

	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// HasUsedTrial reports whether this user has ever consumed a trial.
// TrialUsedAt is write-once for the lifetime of the account.
func (u *User) HasUsedTrial() bool {
	return u.TrialUsedAt != nil
}

// FindUserByEmail returns the user with the given email or gorm.ErrRecordNotFound.
func FindUserByEmail(db *gorm.DB, email string) (*User, error) {
	var u User
	if err := db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
