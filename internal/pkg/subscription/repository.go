package subscription

import (
	"strings"
	"time"

	"github.com/studyhall-app/studyhall/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the reconciliation service.
type Repository interface {
	// Transaction runs fn against a transactional copy of the repository.
	// Rolling back on error is what keeps notification records from being
	// committed for sends that failed.
	Transaction(fn func(Repository) error) error

	FindSubscriberForUpdate(ev *Event) (*models.User, error)
	SaveUser(u *models.User) error
	IsSubscriptionBoundElsewhere(subscriptionID string, excludeUserID uint) (bool, error)

	CreateAudit(a *models.SubscriptionAudit) error
	ListAuditByUser(userID uint) ([]models.SubscriptionAudit, error)

	CreateNotificationIfNotExists(n *models.NotificationLog) (bool, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// FindSubscriberForUpdate resolves the affected user in priority order:
// subscription id, customer id, email, external auth-provider id. The row is
// locked so the state read for validation stays consistent with the write
// that follows; concurrent events for the same user serialize here.
// The email column uses a binary collation, so both sides are lowered in the
// query; providers do not agree with signup forms on email casing.
func (r *gormRepository) FindSubscriberForUpdate(ev *Event) (*models.User, error) {
	lookups := []struct {
		cond  string
		value string
	}{
		{"subscription_id = ?", ev.SubscriptionID},
		{"customer_id = ?", ev.CustomerID},
		{"LOWER(email) = ?", strings.ToLower(strings.TrimSpace(ev.CustomerEmail))},
		{"auth_provider_id = ?", ev.ExternalUserID},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var u models.User
		err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(l.cond, l.value).First(&u).Error
		if err == nil {
			return &u, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *gormRepository) SaveUser(u *models.User) error {
	return r.db.Save(u).Error
}

// IsSubscriptionBoundElsewhere reports whether another user holds a
// non-terminal association for the given provider subscription id.
func (r *gormRepository) IsSubscriptionBoundElsewhere(subscriptionID string, excludeUserID uint) (bool, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.User{}).
		Where("subscription_id = ? AND id <> ?", subscriptionID, excludeUserID).
		Where("subscription_status NOT IN ?", []string{
			models.SubscriptionStatusFree,
			models.SubscriptionStatusCancelled,
			models.SubscriptionStatusExpired,
		}).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateAudit(a *models.SubscriptionAudit) error {
	return r.db.Create(a).Error
}

func (r *gormRepository) ListAuditByUser(userID uint) ([]models.SubscriptionAudit, error) {
	var rows []models.SubscriptionAudit
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&rows).Error
	return rows, err
}

// CreateNotificationIfNotExists is the atomic insert-if-absent behind the
// idempotent dispatcher. The unique index on the key decides the winner; a
// separate existence check would race under concurrent duplicate delivery.
func (r *gormRepository) CreateNotificationIfNotExists(n *models.NotificationLog) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(n)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
