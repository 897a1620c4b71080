package mail

import (
	"fmt"

	"github.com/studyhall-app/studyhall/app/models"
	"github.com/studyhall-app/studyhall/internal/pkg/env"
	"github.com/studyhall-app/studyhall/internal/pkg/subscription"
)

// BillingNotifier turns reconciliation outcomes into transactional emails.
// It implements subscription.Notifier.
type BillingNotifier struct{}

func NewBillingNotifier() *BillingNotifier {
	return &BillingNotifier{}
}

func (n *BillingNotifier) Notify(kind string, user *models.User, ev *subscription.Event) error {
	subject, body := buildNotification(kind, user, ev)
	if subject == "" {
		return fmt.Errorf("unknown notification kind: %s", kind)
	}
	return SendMail(user.Email, subject, body)
}

func buildNotification(kind string, user *models.User, ev *subscription.Event) (subject, body string) {
	appName := env.GetEnv("APP_NAME", "Studyhall")
	name := user.Name
	if name == "" {
		name = "there"
	}

	switch kind {
	case models.NotificationTrialWelcome:
		subject = fmt.Sprintf("Your %s trial has started", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your free trial is active. Enjoy full access to notes, flashcards, quizzes and mind maps.</p>%s", name, endsAtLine(user))
	case models.NotificationWelcome:
		subject = fmt.Sprintf("Welcome to %s Premium", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your subscription is active. Thanks for supporting %s!</p>%s", name, appName, endsAtLine(user))
	case models.NotificationReceipt:
		subject = fmt.Sprintf("Your %s payment receipt", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>We received your payment of %s. Your subscription has been renewed.</p>%s", name, formatAmount(ev), endsAtLine(user))
	case models.NotificationRenewal:
		subject = fmt.Sprintf("Your %s subscription is back on track", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your payment went through and your subscription is active again.</p>%s", name, endsAtLine(user))
	case models.NotificationCancellation:
		subject = fmt.Sprintf("Your %s subscription was cancelled", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your subscription has been cancelled. You keep access until the end of the paid period.</p>%s", name, endsAtLine(user))
	case models.NotificationPaymentFailed:
		subject = fmt.Sprintf("Payment failed for your %s subscription", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>We could not process your payment. Please update your payment method; we will retry automatically.</p>", name)
	case models.NotificationOnHold:
		subject = fmt.Sprintf("Your %s subscription is on hold", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your subscription is on hold until payment succeeds. Your data is safe in the meantime.</p>", name)
	case models.NotificationExpired:
		subject = fmt.Sprintf("Your %s subscription has ended", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your subscription has expired. You can resubscribe anytime to regain full access.</p>", name)
	case models.NotificationPlanChange:
		subject = fmt.Sprintf("Your %s plan was updated", appName)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your billing plan has been updated%s.</p>", name, planSuffix(user))
	}
	return subject, body
}

func endsAtLine(user *models.User) string {
	if user.SubscriptionEndsAt == nil {
		return ""
	}
	return fmt.Sprintf("<p>Current period ends on %s.</p>", user.SubscriptionEndsAt.Format("January 2, 2006"))
}

func planSuffix(user *models.User) string {
	if user.SubscriptionPlan == nil {
		return ""
	}
	return fmt.Sprintf(" to the %s plan", *user.SubscriptionPlan)
}

// formatAmount renders a cent amount; providers that do not include one in
// the payload get a generic line instead.
func formatAmount(ev *subscription.Event) string {
	if ev == nil || ev.Amount <= 0 {
		return "your subscription fee"
	}
	return fmt.Sprintf("$%d.%02d", ev.Amount/100, ev.Amount%100)
}
