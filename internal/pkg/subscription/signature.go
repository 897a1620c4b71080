package subscription

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Replayed deliveries older than this are rejected outright.
const dodoTimestampTolerance = 5 * time.Minute

// VerifyDodoWebhookSignature checks a Standard-Webhooks style signature:
// base64 HMAC-SHA256 of "<webhookID>.<timestamp>.<body>" with the shared
// secret. The signature header may carry several space-separated
// "v1,<base64>" entries during secret rotation; any valid one passes.
func VerifyDodoWebhookSignature(body []byte, webhookID, timestamp, signatureHeader, webhookSecret string) bool {
	id := strings.TrimSpace(webhookID)
	ts := strings.TrimSpace(timestamp)
	header := strings.TrimSpace(signatureHeader)
	secret := decodeDodoSecret(webhookSecret)
	if id == "" || ts == "" || header == "" || len(secret) == 0 {
		return false
	}
	if sent, ok := parseDodoTimestamp(ts); !ok || absDuration(time.Since(sent)) > dodoTimestampTolerance {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.%s.", id, ts)
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(header) {
		sig := entry
		if _, v, ok := strings.Cut(entry, ","); ok {
			sig = v
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

// decodeDodoSecret handles both raw secrets and the "whsec_<base64>" form.
func decodeDodoSecret(webhookSecret string) []byte {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return nil
	}
	if encoded, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			return decoded
		}
		return []byte(encoded)
	}
	return []byte(secret)
}

// PayPalWebhookHeaders carries the transmission headers PayPal attaches to
// each delivery, needed for signature verification.
type PayPalWebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

func (h PayPalWebhookHeaders) complete() bool {
	return h.TransmissionID != "" && h.TransmissionTime != "" && h.TransmissionSig != "" &&
		h.CertURL != "" && h.AuthAlgo != ""
}

// VerifyWebhookSignature asks PayPal's verify-webhook-signature endpoint
// whether a delivery is authentic. PayPal signs with its own certificate, so
// unlike Dodo there is no shared-secret HMAC to check locally.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, webhookID string, headers PayPalWebhookHeaders, body []byte) (bool, error) {
	if strings.TrimSpace(webhookID) == "" {
		return false, fmt.Errorf("paypal webhook id is not configured")
	}
	if !headers.complete() {
		return false, nil
	}

	accessToken, err := c.token(ctx)
	if err != nil {
		return false, err
	}

	reqBody, err := json.Marshal(map[string]any{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"transmission_sig":  headers.TransmissionSig,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"webhook_id":        strings.TrimSpace(webhookID),
		"webhook_event":     json.RawMessage(body),
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.APIBaseURL+"/v1/notifications/verify-webhook-signature", strings.NewReader(string(reqBody)))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("paypal signature verification failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return false, err
	}
	return strings.EqualFold(out.VerificationStatus, "SUCCESS"), nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// parseDodoTimestamp accepts both unix-seconds and RFC3339 timestamp headers.
func parseDodoTimestamp(ts string) (time.Time, bool) {
	s := strings.TrimSpace(ts)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	var secs int64
	if _, err := fmt.Sscanf(s, "%d", &secs); err == nil && secs > 0 {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}
