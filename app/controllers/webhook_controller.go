package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/studyhall-app/studyhall/app/models"
	"github.com/studyhall-app/studyhall/internal/pkg/database"
	"github.com/studyhall-app/studyhall/internal/pkg/env"
	"github.com/studyhall-app/studyhall/internal/pkg/mail"
	"github.com/studyhall-app/studyhall/internal/pkg/metrics/counter"
	"github.com/studyhall-app/studyhall/internal/pkg/subscription"
)

const webhookProcessTimeout = 25 * time.Second

// HandleDodoWebhook receives Dodo subscription/payment events. Signature
// verification happens before anything touches the database.
func HandleDodoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	webhookID := firstHeaderValue(c, "webhook-id", "Webhook-Id")
	timestamp := firstHeaderValue(c, "webhook-timestamp", "Webhook-Timestamp")
	signature := firstHeaderValue(c, "webhook-signature", "Webhook-Signature")
	secret := env.GetEnv("DODO_WEBHOOK_SECRET", "")

	if !subscription.VerifyDodoWebhookSignature(rawBody, webhookID, timestamp, signature, secret) {
		_ = counter.AddWebhookRejected(models.BillingProviderDodo)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	return processWebhook(c, webhookParams{
		provider:  models.BillingProviderDodo,
		webhookID: webhookID,
		eventType: envelope.Type,
		payload:   envelope.Data,
		rawBody:   rawBody,
		normalize: subscription.NormalizeDodo,
	})
}

// HandlePayPalWebhook receives PayPal billing events. Verification is
// delegated to PayPal's verify-webhook-signature API since PayPal signs with
// its own certificate rather than a shared secret.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := subscription.PayPalWebhookHeaders{
		TransmissionID:   strings.TrimSpace(c.Get("Paypal-Transmission-Id")),
		TransmissionTime: strings.TrimSpace(c.Get("Paypal-Transmission-Time")),
		TransmissionSig:  strings.TrimSpace(c.Get("Paypal-Transmission-Sig")),
		CertURL:          strings.TrimSpace(c.Get("Paypal-Cert-Url")),
		AuthAlgo:         strings.TrimSpace(c.Get("Paypal-Auth-Algo")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	client := subscription.NewPayPalClientFromEnv()
	valid, err := client.VerifyWebhookSignature(ctx, env.GetEnv("PAYPAL_WEBHOOK_ID", ""), headers, rawBody)
	if err != nil {
		// Verification could not be performed at all; a 500 makes PayPal
		// redeliver once the verify API is reachable again. Only a clean
		// negative verdict is a 400.
		log.Errorf("[Webhook] paypal signature verification errored: %v", err)
		_ = counter.AddWebhookFailed(models.BillingProviderPayPal)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	if !valid {
		_ = counter.AddWebhookRejected(models.BillingProviderPayPal)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var envelope struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Resource  json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	return processWebhook(c, webhookParams{
		provider:  models.BillingProviderPayPal,
		webhookID: firstNonEmptyValue(headers.TransmissionID, envelope.ID),
		eventType: envelope.EventType,
		payload:   envelope.Resource,
		rawBody:   rawBody,
		normalize: subscription.NormalizePayPal,
	})
}

type webhookParams struct {
	provider  string
	webhookID string
	eventType string
	payload   json.RawMessage
	rawBody   []byte
	normalize func(eventType string, raw []byte) (*subscription.Event, error)
}

// processWebhook is the shared post-verification pipeline: archive the
// delivery (dedup), normalize, reconcile, respond. Providers interpret 500
// as "retry later", so processing errors surface as generic 500s with the
// detail kept server-side.
func processWebhook(c *fiber.Ctx, p webhookParams) error {
	_ = counter.AddWebhookReceived(p.provider)

	requestID := uuid.NewString()
	svc := newBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(subscription.WebhookEventInput{
		Provider:        p.provider,
		ProviderEventID: p.webhookID,
		EventType:       p.eventType,
		PayloadJSON:     string(p.rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Webhook] %s archive failed (req=%s): %v", p.provider, requestID, err)
		_ = counter.AddWebhookFailed(p.provider)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	if !created && stored.ProcessedOK() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true, "eventType": p.eventType})
	}

	ev, err := p.normalize(p.eventType, p.payload)
	if err != nil {
		if errors.Is(err, subscription.ErrUnidentifiableEvent) {
			log.Infof("[Webhook] %s event %s has no identifying field, acknowledging (req=%s)", p.provider, p.eventType, requestID)
			_ = svc.MarkWebhookProcessed(stored.ID, err)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "eventType": p.eventType})
		}
		_ = svc.MarkWebhookProcessed(stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	processErr := svc.ProcessEvent(ctx, ev, p.webhookID)
	_ = svc.MarkWebhookProcessed(stored.ID, processErr)
	if processErr != nil {
		log.Errorf("[Webhook] %s processing failed (req=%s sub=%q): %v", p.provider, requestID, ev.SubscriptionID, processErr)
		_ = counter.AddWebhookFailed(p.provider)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "eventType": p.eventType})
}

// HandleWebhookHealth answers provider endpoint probes.
func HandleWebhookHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "service": "billing-webhooks"})
}

// HandleWebhookStatus reports per-provider delivery counters for operators.
func HandleWebhookStatus(c *fiber.Ctx) error {
	totals, err := counter.WebhookTotals()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "webhooks": totals})
}

// HandleSubscriptionAudit returns the transition audit trail for one user,
// newest first. Internal support/debugging surface.
func HandleSubscriptionAudit(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userID"), 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	rows, err := newBillingService().ListAudit(uint(userID))
	if err != nil {
		log.Errorf("[Webhook] audit lookup failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "audit_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user_id": userID, "audit": rows})
}

func newBillingService() *subscription.Service {
	return subscription.NewServiceFromDB(database.GetDB(), subscription.NewCatalogFromEnv(), mail.NewBillingNotifier())
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyValue(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
