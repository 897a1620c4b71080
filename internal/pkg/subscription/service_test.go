package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyhall-app/studyhall/app/models"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository with transactional rollback semantics
// for the notification log, which is what the at-most-once dispatch tests
// depend on.
type fakeRepo struct {
	users         map[uint]*models.User
	audits        []models.SubscriptionAudit
	notifications map[string]models.NotificationLog
	webhookEvents map[string]*models.BillingWebhookEvent
	nextWebhookID uint
}

func newFakeRepo(users ...*models.User) *fakeRepo {
	r := &fakeRepo{
		users:         make(map[uint]*models.User),
		notifications: make(map[string]models.NotificationLog),
		webhookEvents: make(map[string]*models.BillingWebhookEvent),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeRepo) Transaction(fn func(Repository) error) error {
	usersBackup := make(map[uint]*models.User, len(r.users))
	for id, u := range r.users {
		clone := *u
		usersBackup[id] = &clone
	}
	notifBackup := make(map[string]models.NotificationLog, len(r.notifications))
	for k, v := range r.notifications {
		notifBackup[k] = v
	}
	auditLen := len(r.audits)

	if err := fn(r); err != nil {
		r.users = usersBackup
		r.notifications = notifBackup
		r.audits = r.audits[:auditLen]
		return err
	}
	return nil
}

func (r *fakeRepo) FindSubscriberForUpdate(ev *Event) (*models.User, error) {
	ids := make([]uint, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	match := func(pred func(*models.User) bool) *models.User {
		for _, id := range ids {
			if pred(r.users[id]) {
				return r.users[id]
			}
		}
		return nil
	}

	if ev.SubscriptionID != "" {
		if u := match(func(u *models.User) bool { return u.SubscriptionID == ev.SubscriptionID }); u != nil {
			return u, nil
		}
	}
	if ev.CustomerID != "" {
		if u := match(func(u *models.User) bool { return u.CustomerID == ev.CustomerID }); u != nil {
			return u, nil
		}
	}
	if email := strings.ToLower(strings.TrimSpace(ev.CustomerEmail)); email != "" {
		// Both sides lowered, mirroring the LOWER(email) = ? lookup the real
		// repository issues against the binary-collated column.
		if u := match(func(u *models.User) bool { return strings.ToLower(u.Email) == email }); u != nil {
			return u, nil
		}
	}
	if ev.ExternalUserID != "" {
		if u := match(func(u *models.User) bool { return u.AuthProviderID == ev.ExternalUserID }); u != nil {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SaveUser(u *models.User) error {
	clone := *u
	r.users[u.ID] = &clone
	return nil
}

func (r *fakeRepo) IsSubscriptionBoundElsewhere(subscriptionID string, excludeUserID uint) (bool, error) {
	for id, u := range r.users {
		if id == excludeUserID || u.SubscriptionID != subscriptionID {
			continue
		}
		if !isTerminalStatus(u.SubscriptionStatus) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateAudit(a *models.SubscriptionAudit) error {
	a.ID = uint(len(r.audits) + 1)
	r.audits = append(r.audits, *a)
	return nil
}

func (r *fakeRepo) ListAuditByUser(userID uint) ([]models.SubscriptionAudit, error) {
	var rows []models.SubscriptionAudit
	for i := len(r.audits) - 1; i >= 0; i-- {
		if r.audits[i].UserID == userID {
			rows = append(rows, r.audits[i])
		}
	}
	return rows, nil
}

func (r *fakeRepo) CreateNotificationIfNotExists(n *models.NotificationLog) (bool, error) {
	if _, exists := r.notifications[n.Key]; exists {
		return false, nil
	}
	r.notifications[n.Key] = *n
	return true, nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, exists := r.webhookEvents[key]; exists {
		return false, stored, nil
	}
	r.nextWebhookID++
	event.ID = r.nextWebhookID
	clone := *event
	r.webhookEvents[key] = &clone
	return true, &clone, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	for _, ev := range r.webhookEvents {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

func (r *fakeRepo) lastAudit(t *testing.T) models.SubscriptionAudit {
	t.Helper()
	require.NotEmpty(t, r.audits)
	return r.audits[len(r.audits)-1]
}

// lockedRepo serializes transactions with a mutex, emulating the row lock the
// real repository takes, so the fake can back concurrency tests.
type lockedRepo struct {
	mu sync.Mutex
	*fakeRepo
}

func (r *lockedRepo) Transaction(fn func(Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fakeRepo.Transaction(fn)
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) Notify(kind string, user *models.User, ev *Event) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, kind)
	return nil
}

func newTestService(repo *fakeRepo, notifier Notifier) *Service {
	return NewService(repo, testCatalog(), nil, notifier)
}

func strPtr(s string) *string { return &s }

func TestProcessEventTrialSignup(t *testing.T) {
	user := &models.User{ID: 1, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindCreated,
		SubscriptionID: "sub_1",
		CustomerEmail:  "student@example.com",
		TrialDays:      14,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_1"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusTrialing, got.SubscriptionStatus)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	require.NotNil(t, got.SubscriptionEndsAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), *got.SubscriptionEndsAt, time.Minute)
	assert.NotNil(t, got.TrialUsedAt)

	audit := repo.lastAudit(t)
	assert.True(t, audit.Accepted)
	assert.Equal(t, models.SubscriptionStatusFree, audit.FromStatus)
	assert.Equal(t, models.SubscriptionStatusTrialing, audit.ToStatus)

	assert.Equal(t, []string{models.NotificationTrialWelcome}, notifier.sent)
}

func TestProcessEventRedeliveredTrialCreationIsStable(t *testing.T) {
	user := &models.User{ID: 1, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindCreated,
		SubscriptionID: "sub_1",
		CustomerEmail:  "student@example.com",
		TrialDays:      14,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_1"))

	firstEndsAt := *repo.users[1].SubscriptionEndsAt
	firstTrialUsed := *repo.users[1].TrialUsedAt

	// Redelivery a moment later must not shift the trial end, burn anything,
	// or send a second welcome.
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_1"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusTrialing, got.SubscriptionStatus)
	assert.Equal(t, firstEndsAt, *got.SubscriptionEndsAt)
	assert.Equal(t, firstTrialUsed, *got.TrialUsedAt)
	assert.Equal(t, []string{models.NotificationTrialWelcome}, notifier.sent)

	// The redelivery is still audited, as an accepted same-state no-op.
	assert.Len(t, repo.audits, 2)
	assert.True(t, repo.audits[1].Accepted)
}

func TestProcessEventTrialConversion(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 2)
	trialStart := time.Now().AddDate(0, 0, -12)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusTrialing,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
		TrialUsedAt:        &trialStart,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	next := time.Now().AddDate(0, 1, 0)
	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindRenewed,
		SubscriptionID: "sub_1",
		NextBillingAt:  &next,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_2"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, next, *got.SubscriptionEndsAt)
	assert.Equal(t, []string{models.NotificationReceipt}, notifier.sent)
}

func TestProcessEventTrialAbuseBlocked(t *testing.T) {
	used := time.Now().AddDate(0, -3, 0)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusCancelled,
		TrialUsedAt:        &used,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindCreated,
		SubscriptionID: "sub_2",
		CustomerEmail:  "student@example.com",
		TrialDays:      14,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_3"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusCancelled, got.SubscriptionStatus, "blocked event must not mutate state")

	audit := repo.lastAudit(t)
	assert.False(t, audit.Accepted)
	assert.Equal(t, models.AuditReasonTrialAlreadyUsed, audit.Reason)
	assert.Empty(t, notifier.sent)
}

func TestProcessEventSubscriptionIDTaken(t *testing.T) {
	userA := &models.User{
		ID:                 1,
		Email:              "a@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
	}
	repo := newFakeRepo(userA)
	svc := newTestService(repo, &fakeNotifier{})

	// User A is active on sub_1; an event binding a different subscription to
	// a non-terminal account is rejected.
	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindActivated,
		SubscriptionID: "sub_2",
		CustomerEmail:  "a@example.com",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_4"))

	audit := repo.lastAudit(t)
	assert.False(t, audit.Accepted)
	assert.Equal(t, models.AuditReasonSubscriptionTaken, audit.Reason)
	assert.Equal(t, "sub_1", repo.users[1].SubscriptionID)
}

func TestProcessEventResubscriptionAfterCancel(t *testing.T) {
	old := time.Now().AddDate(0, -1, 0)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusCancelled,
		SubscriptionID:     "sub_old",
		TrialUsedAt:        &old,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderPayPal,
		Kind:           KindActivated,
		SubscriptionID: "sub_new",
		CustomerEmail:  "student@example.com",
		IntervalHint:   "year",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_5"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, "sub_new", got.SubscriptionID, "terminal accounts may rebind to a new subscription")
	assert.Equal(t, models.SubscriptionPlanYearly, *got.SubscriptionPlan)
	assert.Equal(t, []string{models.NotificationWelcome}, notifier.sent)
}

func TestProcessEventDuplicateRenewalDoesNotDoubleExtend(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 20)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	// Renewal without a provider billing date: the already-extended period
	// must be kept as is, however often the event is redelivered.
	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindRenewed,
		SubscriptionID: "sub_1",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_6"))
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_6"))

	got := repo.users[1]
	assert.Equal(t, ends, *got.SubscriptionEndsAt)
	assert.Len(t, notifier.sent, 1, "one receipt per billing period")
}

func TestProcessEventRenewalExtendsLapsingPeriod(t *testing.T) {
	ends := time.Now().AddDate(0, 0, -1)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
	}
	repo := newFakeRepo(user)
	svc := newTestService(repo, &fakeNotifier{})

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindRenewed,
		SubscriptionID: "sub_1",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_7"))

	got := repo.users[1]
	require.NotNil(t, got.SubscriptionEndsAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 1, 0), *got.SubscriptionEndsAt, time.Minute)
}

func TestProcessEventPaymentFailureAndRecovery(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 5)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	fail := &Event{Provider: models.BillingProviderDodo, Kind: KindPaymentFailed, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), fail, "evt_8"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusOnHold, got.SubscriptionStatus)
	require.NotNil(t, got.PaymentGracePeriodEndsAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), *got.PaymentGracePeriodEndsAt, time.Minute)

	recovery := &Event{Provider: models.BillingProviderDodo, Kind: KindRenewed, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), recovery, "evt_9"))

	got = repo.users[1]
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Nil(t, got.PaymentGracePeriodEndsAt, "recovery clears the grace window")
	assert.Equal(t, []string{models.NotificationPaymentFailed, models.NotificationRenewal}, notifier.sent)
}

func TestProcessEventRejectedPaymentFailureStillNotifies(t *testing.T) {
	user := &models.User{ID: 1, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	// free -> on_hold is not a valid transition, but the user still hears
	// about the declined payment.
	ev := &Event{Provider: models.BillingProviderDodo, Kind: KindPaymentFailed, CustomerEmail: "student@example.com"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_10"))

	audit := repo.lastAudit(t)
	assert.False(t, audit.Accepted)
	assert.Equal(t, models.AuditReasonInvalidTransition, audit.Reason)
	assert.Equal(t, models.SubscriptionStatusFree, repo.users[1].SubscriptionStatus)
	assert.Equal(t, []string{models.NotificationPaymentFailed}, notifier.sent)
}

func TestProcessEventCancellationKeepsAccessEnd(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 12)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionEndsAt: &ends,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{Provider: models.BillingProviderPayPal, Kind: KindCancelled, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_11"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusCancelled, got.SubscriptionStatus)
	assert.Equal(t, ends, *got.SubscriptionEndsAt, "paid access runs to the period end")
	assert.Equal(t, []string{models.NotificationCancellation}, notifier.sent)
}

func TestProcessEventExpiryEndsAccessNow(t *testing.T) {
	grace := time.Now().AddDate(0, 0, 2)
	user := &models.User{
		ID:                       1,
		Email:                    "student@example.com",
		SubscriptionStatus:       models.SubscriptionStatusOnHold,
		SubscriptionID:           "sub_1",
		PaymentGracePeriodEndsAt: &grace,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{Provider: models.BillingProviderDodo, Kind: KindExpired, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_12"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusExpired, got.SubscriptionStatus)
	require.NotNil(t, got.SubscriptionEndsAt)
	assert.WithinDuration(t, time.Now(), *got.SubscriptionEndsAt, time.Minute)
	assert.Nil(t, got.PaymentGracePeriodEndsAt)
	assert.Equal(t, []string{models.NotificationExpired}, notifier.sent)
}

func TestProcessEventPlanChange(t *testing.T) {
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindPlanChanged,
		SubscriptionID: "sub_1",
		ProductID:      "prod_yearly",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_13"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus, "plan change keeps the current state")
	assert.Equal(t, models.SubscriptionPlanYearly, *got.SubscriptionPlan)
	assert.Equal(t, []string{models.NotificationPlanChange}, notifier.sent)
}

func TestProcessEventUnknownSubscriberIsAcknowledged(t *testing.T) {
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	ev := &Event{Provider: models.BillingProviderDodo, Kind: KindCreated, SubscriptionID: "sub_ghost"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_14"))

	assert.Empty(t, repo.audits)
	assert.Empty(t, notifier.sent)
}

func TestProcessEventUnknownKindIsIgnored(t *testing.T) {
	user := &models.User{ID: 1, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusActive, SubscriptionID: "sub_1"}
	repo := newFakeRepo(user)
	svc := newTestService(repo, &fakeNotifier{})

	ev := &Event{Provider: models.BillingProviderDodo, Kind: KindUnknown, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_15"))

	assert.Empty(t, repo.audits)
	assert.Equal(t, models.SubscriptionStatusActive, repo.users[1].SubscriptionStatus)
}

func TestProcessEventFailedNotificationRollsBack(t *testing.T) {
	user := &models.User{ID: 1, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := newTestService(repo, notifier)

	ev := &Event{
		Provider:       models.BillingProviderDodo,
		Kind:           KindCreated,
		SubscriptionID: "sub_1",
		CustomerEmail:  "student@example.com",
		TrialDays:      14,
	}
	err := svc.ProcessEvent(context.Background(), ev, "evt_16")
	require.Error(t, err)

	// The state change committed before dispatch, but the notification record
	// rolled back so a redelivery can retry the send.
	assert.Equal(t, models.SubscriptionStatusTrialing, repo.users[1].SubscriptionStatus)
	assert.Empty(t, repo.notifications)

	notifier.err = nil
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_16"))
	assert.Equal(t, []string{models.NotificationTrialWelcome}, notifier.sent)
}

func TestProcessEventResolvesEmailCaseInsensitively(t *testing.T) {
	user := &models.User{ID: 1, Email: "John.Doe@Example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	// PayPal reports the address in the casing the buyer typed at checkout,
	// which rarely matches the casing stored at signup.
	ev := &Event{
		Provider:       models.BillingProviderPayPal,
		Kind:           KindActivated,
		SubscriptionID: "sub_1",
		CustomerEmail:  "JOHN.DOE@example.COM",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_case_1"))

	got := repo.users[1]
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, []string{models.NotificationWelcome}, notifier.sent)
}

func TestProcessEventSecondCancellationNotifiesAgain(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 10)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
	}
	repo := newFakeRepo(user)
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	cancel := &Event{Provider: models.BillingProviderDodo, Kind: KindCancelled, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), cancel, "evt_cancel_1"))

	resume := &Event{Provider: models.BillingProviderDodo, Kind: KindResumed, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), resume, "evt_resume_1"))
	require.Equal(t, models.SubscriptionStatusActive, repo.users[1].SubscriptionStatus)

	// A second cancellation after the resume is a new episode with its own
	// delivery id; the first cancellation notice must not suppress it.
	cancelAgain := &Event{Provider: models.BillingProviderDodo, Kind: KindCancelled, SubscriptionID: "sub_1"}
	require.NoError(t, svc.ProcessEvent(context.Background(), cancelAgain, "evt_cancel_2"))

	assert.Equal(t, models.SubscriptionStatusCancelled, repo.users[1].SubscriptionStatus)
	assert.Equal(t, []string{
		models.NotificationCancellation,
		models.NotificationReceipt,
		models.NotificationCancellation,
	}, notifier.sent)
}

func TestProcessEventRacingRenewalsExtendOnce(t *testing.T) {
	ends := time.Now().Add(-time.Hour)
	user := &models.User{
		ID:                 1,
		Email:              "student@example.com",
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionID:     "sub_1",
		SubscriptionPlan:   strPtr(models.SubscriptionPlanMonthly),
		SubscriptionEndsAt: &ends,
	}
	repo := &lockedRepo{fakeRepo: newFakeRepo(user)}
	notifier := &fakeNotifier{}
	svc := NewService(repo, testCatalog(), nil, notifier)

	// Two deliveries of the same renewal race each other, as the provider
	// does on retry. The row lock serializes them; whichever lands second
	// must see the already-extended period and leave it alone.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &Event{Provider: models.BillingProviderDodo, Kind: KindRenewed, SubscriptionID: "sub_1"}
			errs[i] = svc.ProcessEvent(context.Background(), ev, fmt.Sprintf("evt_race_%d", i))
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got := repo.users[1]
	require.NotNil(t, got.SubscriptionEndsAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 1, 0), *got.SubscriptionEndsAt, time.Minute,
		"the period extends by exactly one interval, not one per delivery")
	assert.Equal(t, []string{models.NotificationReceipt}, notifier.sent, "one receipt per billing period")
}

// countingClient records provider API lookups so tests can assert which event
// kinds are allowed to fall back to them.
type countingClient struct {
	calls int32
}

func (c *countingClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	atomic.AddInt32(&c.calls, 1)
	return &ProviderSubscription{ProductID: "prod_monthly"}, nil
}

func TestProcessEventTeardownKindsSkipProviderLookup(t *testing.T) {
	ends := time.Now().AddDate(0, 0, 10)
	client := &countingClient{}
	svc := &Service{
		catalog:  testCatalog(),
		clients:  map[string]ProviderClient{models.BillingProviderDodo: client},
		notifier: &fakeNotifier{},
	}

	// Signal-less events that would need a provider lookup to resolve a plan,
	// for kinds that never consume one.
	for _, kind := range []string{KindCancelled, KindPaymentFailed, KindExpired, KindOnHold} {
		user := &models.User{
			ID:                 1,
			Email:              "student@example.com",
			SubscriptionStatus: models.SubscriptionStatusActive,
			SubscriptionID:     "sub_teardown",
			SubscriptionEndsAt: &ends,
		}
		repo := newFakeRepo(user)
		svc.repo = repo
		svc.dispatcher = NewDispatcher(repo)

		ev := &Event{Provider: models.BillingProviderDodo, Kind: kind, SubscriptionID: "sub_teardown"}
		require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_"+kind))
	}

	assert.Zero(t, atomic.LoadInt32(&client.calls), "teardown events must not walk out to the provider API")
}

func TestListAudit(t *testing.T) {
	user := &models.User{ID: 7, Email: "student@example.com", SubscriptionStatus: models.SubscriptionStatusFree}
	repo := newFakeRepo(user)
	svc := newTestService(repo, &fakeNotifier{})

	ev := &Event{Provider: models.BillingProviderDodo, Kind: KindActivated, SubscriptionID: "sub_1", CustomerEmail: "student@example.com"}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev, "evt_17"))

	rows, err := svc.ListAudit(7)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SubscriptionStatusActive, rows[0].ToStatus)
}
