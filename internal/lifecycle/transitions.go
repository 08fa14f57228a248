// Package lifecycle owns the claim state machine: the pure status and
// confidence transition functions, the Manager that applies operator actions
// to stored claims, and the policy Runner.
package lifecycle

import (
	"fmt"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/store"
)

// Action is an explicit operator action on a claim's status.
type Action string

const (
	ActionAccept       Action = "accept"
	ActionDispute      Action = "dispute"
	ActionMarkOutdated Action = "mark_outdated"
	ActionReopen       Action = "reopen"
)

// ActionFor returns the action that moves a claim into target.
func ActionFor(target store.Status) (Action, error) {
	switch target {
	case store.StatusAccepted:
		return ActionAccept, nil
	case store.StatusDisputed:
		return ActionDispute, nil
	case store.StatusOutdated:
		return ActionMarkOutdated, nil
	case store.StatusUnreviewed:
		return ActionReopen, nil
	}
	return "", errs.NewValidationError("status", target, "unknown status")
}

// NextStatus applies an operator action. Every state may move to every other
// state; there is no forced path.
func NextStatus(old store.Status, a Action) (store.Status, error) {
	if !old.Valid() {
		return "", errs.NewValidationError("status", old, "unknown current status")
	}
	switch a {
	case ActionAccept:
		return store.StatusAccepted, nil
	case ActionDispute:
		return store.StatusDisputed, nil
	case ActionMarkOutdated:
		return store.StatusOutdated, nil
	case ActionReopen:
		return store.StatusUnreviewed, nil
	}
	return "", errs.NewValidationError("action", a, fmt.Sprintf("unknown status action %q", a))
}

// Event is something that happened to a claim that may move its confidence.
type Event string

const (
	// EventCorroborated: new evidence linked to an existing claim.
	EventCorroborated Event = "corroborated"
	// EventMerged: the claim survived a merge.
	EventMerged Event = "merged"
	// EventSplit: the claim was produced by a split.
	EventSplit Event = "split"
	// EventFallback: the claim landed in the fallback category.
	EventFallback Event = "fallback"
)

// NextConfidence returns the confidence after event. Corroboration only ever
// raises confidence.
func NextConfidence(old store.Confidence, e Event) store.Confidence {
	switch e {
	case EventCorroborated, EventMerged:
		return store.ConfidenceHigh
	case EventSplit:
		return store.ConfidenceMedium
	case EventFallback:
		return store.ConfidenceLow
	}
	return old
}
