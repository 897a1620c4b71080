package subscription

import (
	"encoding/json"

	"github.com/studyhall-app/studyhall/app/models"
)

// Validate checks a proposed state move against the transition graph and
// unconditionally appends an audit row documenting the decision. It must run
// before any subscriber mutation; rejection is a normal outcome, not an
// error.
func Validate(repo Repository, userID uint, from, to, subscriptionID, provider, reason string, metadata map[string]any) (bool, error) {
	accepted := CanTransition(from, to)
	if reason == "" && !accepted {
		reason = models.AuditReasonInvalidTransition
	}
	if reason != "" {
		accepted = false
	}

	metaJSON := ""
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			metaJSON = string(b)
		}
	}

	err := repo.CreateAudit(&models.SubscriptionAudit{
		UserID:         userID,
		FromStatus:     from,
		ToStatus:       to,
		SubscriptionID: subscriptionID,
		Provider:       provider,
		Accepted:       accepted,
		Reason:         reason,
		Metadata:       metaJSON,
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}
