package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/studyhall-app/studyhall/app/models"
	"github.com/studyhall-app/studyhall/internal/pkg/cache"
	"gorm.io/gorm"
)

const (
	paymentGraceDays = 7
	lookupCacheTTL   = time.Hour
)

// Notifier delivers a user-facing notification of the given kind. The mail
// package provides the SMTP implementation; tests inject fakes.
type Notifier interface {
	Notify(kind string, user *models.User, ev *Event) error
}

// Service merges webhook events from both providers into a single consistent
// subscription state per user and dispatches the resulting notifications
// idempotently.
type Service struct {
	repo       Repository
	catalog    *Catalog
	clients    map[string]ProviderClient
	dispatcher *Dispatcher
	notifier   Notifier
}

func NewService(repo Repository, catalog *Catalog, clients map[string]ProviderClient, notifier Notifier) *Service {
	return &Service{
		repo:       repo,
		catalog:    catalog,
		clients:    clients,
		dispatcher: NewDispatcher(repo),
		notifier:   notifier,
	}
}

// NewServiceFromDB creates a service from a GORM DB handle with the provider
// clients configured from the environment.
func NewServiceFromDB(db *gorm.DB, catalog *Catalog, notifier Notifier) *Service {
	clients := map[string]ProviderClient{
		models.BillingProviderDodo:   NewDodoClientFromEnv(),
		models.BillingProviderPayPal: NewPayPalClientFromEnv(),
	}
	return NewService(NewRepository(db), catalog, clients, notifier)
}

// outcome captures what a committed transaction decided, for the
// notification dispatch that follows it.
type outcome struct {
	user       models.User
	from       string
	target     string
	accepted   bool
	blocked    string
	notifyFail bool
}

// ProcessEvent runs the full reconciliation pipeline for one normalized
// event: resolve (locked), classify, validate (audited), mutate, then
// dispatch notifications. Unknown subscribers and unknown event kinds are
// acknowledged without mutation; the provider must not retry them.
func (s *Service) ProcessEvent(ctx context.Context, ev *Event, webhookID string) error {
	if ev.Kind == KindUnknown {
		log.Infof("[Billing] ignoring unhandled %s event for subscription %q", ev.Provider, ev.SubscriptionID)
		return nil
	}

	retrieve := s.retriever(ev)

	var out *outcome
	err := s.repo.Transaction(func(r Repository) error {
		user, err := r.FindSubscriberForUpdate(ev)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Billing] no local subscriber for %s event (sub=%q customer=%q email=%q)",
				ev.Provider, ev.SubscriptionID, ev.CustomerID, ev.CustomerEmail)
			return nil
		}
		if err != nil {
			return err
		}

		out, err = s.reconcile(ctx, r, user, ev, retrieve)
		return err
	})
	if err != nil || out == nil {
		return err
	}

	return s.dispatch(ctx, out, ev, webhookID)
}

// reconcile applies one event to a locked subscriber row. The audit row is
// written for every attempt; the mutation only happens on acceptance.
func (s *Service) reconcile(ctx context.Context, r Repository, user *models.User, ev *Event, retrieve retrieveFunc) (*outcome, error) {
	from := user.SubscriptionStatus

	isTrial := false
	trialDays := 0
	if ev.Kind == KindCreated || ev.Kind == KindActivated {
		isTrial, trialDays = ClassifyTrial(ctx, s.catalog, ev, retrieve)
	}

	lastKnown := ""
	if user.SubscriptionPlan != nil {
		lastKnown = *user.SubscriptionPlan
	}
	// Only kinds that write the plan or extend the period pay for inference;
	// a cancellation must never walk out to the provider API for a plan it
	// will discard.
	plan := lastKnown
	if planBearingKind(ev.Kind) {
		plan = InferPlan(ctx, s.catalog, ev, retrieve, lastKnown)
	}

	target := targetStatus(ev.Kind, from, isTrial)

	blocked := ""
	meta := map[string]any{"event_kind": ev.Kind, "product_id": ev.ProductID}
	switch {
	case target == models.SubscriptionStatusTrialing && from != models.SubscriptionStatusTrialing && user.HasUsedTrial():
		// The client cannot be trusted to have chosen a no-trial checkout
		// product; one consumed trial per account, forever.
		blocked = models.AuditReasonTrialAlreadyUsed
		meta["blocked"] = true
	case isNewAssociation(user, ev):
		if !isTerminalStatus(from) {
			blocked = models.AuditReasonSubscriptionTaken
			meta["blocked"] = true
		} else if bound, err := r.IsSubscriptionBoundElsewhere(ev.SubscriptionID, user.ID); err != nil {
			return nil, err
		} else if bound {
			blocked = models.AuditReasonSubscriptionTaken
			meta["blocked"] = true
		}
	}

	accepted, err := Validate(r, user.ID, from, target, ev.SubscriptionID, ev.Provider, blocked, meta)
	if err != nil {
		return nil, err
	}

	out := &outcome{from: from, target: target, accepted: accepted, blocked: blocked}
	if !accepted {
		// Users are told about payment failures even when the internal
		// bookkeeping rejects the transition; being blocked is not a reason
		// to leave someone unaware their card was declined.
		out.notifyFail = blocked == "" && ev.Kind == KindPaymentFailed
		out.user = *user
		return out, nil
	}

	s.apply(user, ev, target, plan, trialDays)
	if err := r.SaveUser(user); err != nil {
		return nil, err
	}
	out.user = *user
	return out, nil
}

// apply mutates the subscriber record for an accepted transition.
func (s *Service) apply(user *models.User, ev *Event, target, plan string, trialDays int) {
	now := time.Now()

	if ev.SubscriptionID != "" && (user.SubscriptionID == "" || isTerminalStatus(user.SubscriptionStatus)) {
		user.SubscriptionID = ev.SubscriptionID
	}
	if ev.CustomerID != "" && user.CustomerID == "" {
		user.CustomerID = ev.CustomerID
	}

	switch ev.Kind {
	case KindCreated, KindActivated, KindRenewed, KindResumed, KindPlanChanged:
		p := plan
		user.SubscriptionPlan = &p
	}

	prev := user.SubscriptionStatus
	user.SubscriptionStatus = target

	switch target {
	case models.SubscriptionStatusTrialing:
		// Only set on entry; a redelivered creation event must not shift the
		// trial end.
		if prev != models.SubscriptionStatusTrialing {
			ends := now.AddDate(0, 0, trialDays)
			user.SubscriptionEndsAt = &ends
			if user.TrialUsedAt == nil {
				t := now
				user.TrialUsedAt = &t
			}
		}
	case models.SubscriptionStatusActive:
		user.SubscriptionEndsAt = nextPeriodEnd(now, user.SubscriptionEndsAt, ev.NextBillingAt, plan, prev)
		user.PaymentGracePeriodEndsAt = nil
	case models.SubscriptionStatusOnHold:
		grace := now.AddDate(0, 0, paymentGraceDays)
		user.PaymentGracePeriodEndsAt = &grace
	case models.SubscriptionStatusExpired:
		user.SubscriptionEndsAt = &now
		user.PaymentGracePeriodEndsAt = nil
	case models.SubscriptionStatusCancelled:
		// Access runs until the already-stored period end.
	}
}

// nextPeriodEnd computes the access-end date on activation or renewal. A
// provider-supplied next billing date always wins because writing it is
// idempotent. Without one, the period is only extended when it is about to
// lapse; a duplicate renewal arriving inside an already-extended period must
// not extend it twice.
func nextPeriodEnd(now time.Time, current, nextBilling *time.Time, plan string, prevStatus string) *time.Time {
	if nextBilling != nil {
		t := *nextBilling
		return &t
	}
	if current != nil && current.After(now.AddDate(0, 0, 1)) && prevStatus == models.SubscriptionStatusActive {
		return current
	}
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	years, months := planInterval(plan)
	t := base.AddDate(years, months, 0)
	return &t
}

// targetStatus maps a canonical event kind to the proposed subscription
// state, given the current state.
func targetStatus(kind, from string, isTrial bool) string {
	switch kind {
	case KindCreated, KindActivated:
		if isTrial {
			return models.SubscriptionStatusTrialing
		}
		return models.SubscriptionStatusActive
	case KindRenewed, KindResumed:
		return models.SubscriptionStatusActive
	case KindPaymentFailed, KindOnHold:
		return models.SubscriptionStatusOnHold
	case KindCancelled:
		return models.SubscriptionStatusCancelled
	case KindExpired:
		return models.SubscriptionStatusExpired
	case KindPlanChanged:
		return from
	default:
		return from
	}
}

// planBearingKind reports whether an event kind consumes the inferred plan,
// either by writing it to the subscriber or by extending the billing period.
func planBearingKind(kind string) bool {
	switch kind {
	case KindCreated, KindActivated, KindRenewed, KindResumed, KindPlanChanged:
		return true
	default:
		return false
	}
}

// isNewAssociation reports whether the event binds a provider subscription
// the user is not currently associated with.
func isNewAssociation(user *models.User, ev *Event) bool {
	return ev.SubscriptionID != "" && user.SubscriptionID != "" && ev.SubscriptionID != user.SubscriptionID
}

// dispatch sends the notifications an outcome calls for, each at most once.
// Dedup lives entirely in the idempotency keys, never in the transition that
// happened to trigger the send: a redelivered event re-attempts its
// notification so a rolled-back failed send gets retried, and the key decides
// whether anything actually goes out.
func (s *Service) dispatch(ctx context.Context, out *outcome, ev *Event, webhookID string) error {
	if s.notifier == nil {
		return nil
	}
	user := out.user

	if !out.accepted {
		if out.notifyFail {
			return s.notify(ctx, models.NotificationPaymentFailed, DeliveryKey(models.NotificationPaymentFailed, webhookID), &user, ev)
		}
		return nil
	}

	switch ev.Kind {
	case KindCreated, KindActivated:
		if out.target == models.SubscriptionStatusTrialing {
			return s.notify(ctx, models.NotificationTrialWelcome, TrialWelcomeKey(user.SubscriptionID), &user, ev)
		}
		if out.from == models.SubscriptionStatusTrialing {
			return s.notify(ctx, models.NotificationReceipt, ReceiptKey(user.SubscriptionID, receiptPeriod(ev)), &user, ev)
		}
		return s.notify(ctx, models.NotificationWelcome, SubscriptionKey(models.NotificationWelcome, user.SubscriptionID), &user, ev)

	case KindRenewed, KindResumed:
		if out.from == models.SubscriptionStatusOnHold {
			return s.notify(ctx, models.NotificationRenewal, DeliveryKey(models.NotificationRenewal, webhookID), &user, ev)
		}
		return s.notify(ctx, models.NotificationReceipt, ReceiptKey(user.SubscriptionID, receiptPeriod(ev)), &user, ev)

	case KindPaymentFailed:
		return s.notify(ctx, models.NotificationPaymentFailed, DeliveryKey(models.NotificationPaymentFailed, webhookID), &user, ev)

	case KindOnHold:
		return s.notify(ctx, models.NotificationOnHold, DeliveryKey(models.NotificationOnHold, webhookID), &user, ev)

	case KindCancelled:
		// Keyed per delivery, not per subscription: cancelled accounts can be
		// re-activated under the same subscription id, and a later cancellation
		// is a new episode that deserves its own notice.
		return s.notify(ctx, models.NotificationCancellation, DeliveryKey(models.NotificationCancellation, webhookID), &user, ev)

	case KindExpired:
		return s.notify(ctx, models.NotificationExpired, DeliveryKey(models.NotificationExpired, webhookID), &user, ev)

	case KindPlanChanged:
		return s.notify(ctx, models.NotificationPlanChange, DeliveryKey(models.NotificationPlanChange, webhookID), &user, ev)
	}
	return nil
}

// receiptPeriod is the billing period a receipt is keyed on. Falling back to
// the delivery day keeps duplicate same-day renewals without a provider
// billing date to a single receipt.
func receiptPeriod(ev *Event) time.Time {
	if ev.NextBillingAt != nil {
		return *ev.NextBillingAt
	}
	return time.Now()
}

func (s *Service) notify(ctx context.Context, kind, key string, user *models.User, ev *Event) error {
	return s.dispatcher.RunOnce(ctx, key, kind, user.Email, func() error {
		return s.notifier.Notify(kind, user, ev)
	})
}

// ListAudit exposes the per-user audit trail for the support surface.
func (s *Service) ListAudit(userID uint) ([]models.SubscriptionAudit, error) {
	return s.repo.ListAuditByUser(userID)
}

// retriever returns a memoized provider lookup for plan/trial fallback, or
// nil when no client or subscription id is available. Results are cached in
// redis so a burst of webhook deliveries does not hammer the provider API.
func (s *Service) retriever(ev *Event) retrieveFunc {
	client := s.clients[ev.Provider]
	if client == nil || ev.SubscriptionID == "" {
		return nil
	}

	var memo *ProviderSubscription
	var memoErr error
	fetched := false
	return func(ctx context.Context) (*ProviderSubscription, error) {
		if fetched {
			return memo, memoErr
		}
		fetched = true

		key := fmt.Sprintf("billing:lookup:%s:%s", ev.Provider, ev.SubscriptionID)
		if raw, err := cache.Get(key); err == nil && strings.TrimSpace(raw) != "" {
			var sub ProviderSubscription
			if err := json.Unmarshal([]byte(raw), &sub); err == nil {
				memo = &sub
				return memo, nil
			}
		}

		memo, memoErr = client.RetrieveSubscription(ctx, ev.SubscriptionID)
		if memoErr == nil {
			if b, err := json.Marshal(memo); err == nil {
				_ = cache.Set(key, string(b), lookupCacheTTL)
			}
		}
		return memo, memoErr
	}
}
