package store

import "qms/queueing-engine/internal/status"

// transitionTable maps each lifecycle action to the status buckets it may be
// applied from. Both the UI and every programmatic caller go through this
// guard; the store additionally enforces it with conditional updates.
var transitionTable = map[string][]status.Bucket{
	ActionCallNext: {status.Pending},
	ActionArrive:   {status.Serving},
	ActionComplete: {status.Arrived},
	ActionTransfer: {status.Pending, status.Serving, status.Arrived},
	ActionRecall:   {status.Serving, status.Arrived},
}

const (
	ActionCallNext = "call_next"
	ActionArrive   = "arrive"
	ActionComplete = "complete"
	ActionTransfer = "transfer"
	ActionRecall   = "recall"
)

// ValidTransition reports whether an action is legal from the status the
// given label classifies into.
func ValidTransition(action, fromLabel string) bool {
	allowed, ok := transitionTable[action]
	if !ok {
		return false
	}
	from := status.Classify(fromLabel)
	for _, bucket := range allowed {
		if bucket == from {
			return true
		}
	}
	return false
}
