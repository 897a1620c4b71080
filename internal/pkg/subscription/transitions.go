package subscription

import (
	"slices"

	"github.com/studyhall-app/studyhall/app/models"
)

// Transition represents a valid state transition.
type Transition struct {
	From string
	To   string
}

// validTransitions defines all allowed state transitions. Same-state moves
// are not listed; they are always accepted as informational no-ops.
var validTransitions = map[Transition]bool{
	{models.SubscriptionStatusFree, models.SubscriptionStatusTrialing}:      true, // new subscription with trial
	{models.SubscriptionStatusCancelled, models.SubscriptionStatusTrialing}: true, // resubscription with trial
	{models.SubscriptionStatusExpired, models.SubscriptionStatusTrialing}:   true, // resubscription with trial
	{models.SubscriptionStatusFree, models.SubscriptionStatusActive}:        true, // new subscription, no trial
	{models.SubscriptionStatusCancelled, models.SubscriptionStatusActive}:   true, // resubscription
	{models.SubscriptionStatusExpired, models.SubscriptionStatusActive}:     true, // resubscription
	{models.SubscriptionStatusTrialing, models.SubscriptionStatusActive}:    true, // trial converted to paid
	{models.SubscriptionStatusTrialing, models.SubscriptionStatusCancelled}: true, // cancelled during trial
	{models.SubscriptionStatusTrialing, models.SubscriptionStatusExpired}:   true, // trial ended without payment
	{models.SubscriptionStatusActive, models.SubscriptionStatusCancelled}:   true, // user cancelled
	{models.SubscriptionStatusActive, models.SubscriptionStatusOnHold}:      true, // payment failed, entering grace
	{models.SubscriptionStatusOnHold, models.SubscriptionStatusActive}:      true, // payment recovered
	{models.SubscriptionStatusOnHold, models.SubscriptionStatusExpired}:     true, // grace period exhausted
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target states from the given state,
// excluding the always-allowed same-state no-op.
func ValidTransitionsFrom(from string) []string {
	targets := make([]string, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}

	// Stabilize ordering for deterministic callers/tests.
	slices.Sort(targets)
	return targets
}

// isTerminalStatus reports whether a new provider subscription may be bound
// to the user (resubscription is only allowed out of terminal states).
func isTerminalStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusFree, models.SubscriptionStatusCancelled, models.SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}
