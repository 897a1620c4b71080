package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/studyhall-app/studyhall/app/models"
)

// errAlreadyDispatched marks a lost insert race inside RunOnce. It is
// swallowed before RunOnce returns; losers simply do nothing.
var errAlreadyDispatched = errors.New("notification already dispatched")

// Dispatcher guarantees each semantically distinct notification runs at most
// once, even under duplicate or concurrent webhook delivery.
type Dispatcher struct {
	repo Repository
}

func NewDispatcher(repo Repository) *Dispatcher {
	return &Dispatcher{repo: repo}
}

// RunOnce executes action at most once for the given key. The notification
// record and the action commit or fail together: a lost insert is a silent
// no-op, a failed action rolls the record back so a redelivered webhook can
// retry the send.
func (d *Dispatcher) RunOnce(ctx context.Context, key, kind, recipient string, action func() error) error {
	_ = ctx
	err := d.repo.Transaction(func(r Repository) error {
		created, err := r.CreateNotificationIfNotExists(&models.NotificationLog{
			Key:       key,
			Kind:      kind,
			Recipient: recipient,
		})
		if err != nil {
			return err
		}
		if !created {
			return errAlreadyDispatched
		}
		return action()
	})
	if errors.Is(err, errAlreadyDispatched) {
		log.Debugf("[Billing] notification %s already dispatched, skipping", key)
		return nil
	}
	return err
}

// Idempotency keys are scoped to the smallest semantically correct unit of
// repetition: subscription lifetime for welcome mails, subscription+billing
// period for receipts, webhook delivery for one-off notices.

func TrialWelcomeKey(subscriptionID string) string {
	return models.NotificationTrialWelcome + ":trial_" + subscriptionID
}

// SubscriptionKey scopes a notification to the subscription's lifetime.
func SubscriptionKey(kind, subscriptionID string) string {
	return kind + ":sub_" + subscriptionID
}

func ReceiptKey(subscriptionID string, billingPeriod time.Time) string {
	return fmt.Sprintf("%s:sub_%s_%s", models.NotificationReceipt, subscriptionID, billingPeriod.UTC().Format("2006-01-02"))
}

// DeliveryKey is the fallback for notifications with no more specific
// business key; it repeats only when the provider reuses a delivery id.
func DeliveryKey(kind, webhookID string) string {
	return kind + ":evt_" + webhookID
}
