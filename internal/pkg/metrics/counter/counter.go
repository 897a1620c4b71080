package counter

import (
	"context"
	"strconv"

	"github.com/studyhall-app/studyhall/internal/pkg/cache"
)

const (
	webhookReceivedKey = "webhook:counters:received"
	webhookRejectedKey = "webhook:counters:rejected"
	webhookFailedKey   = "webhook:counters:failed"
)

// AddWebhookReceived increments the received counter for a provider in Redis
func AddWebhookReceived(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookReceivedKey, provider, 1).Err()
}

// AddWebhookRejected increments the rejected-signature counter for a provider
func AddWebhookRejected(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, provider, 1).Err()
}

// AddWebhookFailed increments the processing-failure counter for a provider
func AddWebhookFailed(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookFailedKey, provider, 1).Err()
}

// WebhookTotals returns received/rejected/failed totals per provider for the
// health endpoint.
func WebhookTotals() (map[string]map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := map[string]map[string]int64{
		"received": {},
		"rejected": {},
		"failed":   {},
	}
	for name, key := range map[string]string{
		"received": webhookReceivedKey,
		"rejected": webhookRejectedKey,
		"failed":   webhookFailedKey,
	} {
		values, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for provider, raw := range values {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				out[name][provider] = n
			}
		}
	}
	return out, nil
}
