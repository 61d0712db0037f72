// Package status resolves free-text status labels into lifecycle buckets by
// case-insensitive substring matching. Status rows come from external data
// whose labels are configurable, so ids cannot be assumed.
package status

import (
	"strings"

	"qms/queueing-engine/internal/models"
)

type Bucket int

const (
	Unknown Bucket = iota
	Pending
	Serving
	Arrived
	Completed
)

func (b Bucket) String() string {
	switch b {
	case Pending:
		return "pending"
	case Serving:
		return "serving"
	case Arrived:
		return "arrived"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Classify buckets a status label. "arrived" is checked before "serving"
// because arrived is a sub-state of serving and labels may contain both.
func Classify(label string) Bucket {
	lowered := strings.ToLower(label)
	switch {
	case strings.Contains(lowered, "complete") || strings.Contains(lowered, "done"):
		return Completed
	case strings.Contains(lowered, "arriv"):
		return Arrived
	case strings.Contains(lowered, "serv") || strings.Contains(lowered, "call"):
		return Serving
	case strings.Contains(lowered, "pend") || strings.Contains(lowered, "wait"):
		return Pending
	default:
		return Unknown
	}
}

// IsPending reports whether a label classifies as waiting to be claimed.
func IsPending(label string) bool {
	return Classify(label) == Pending
}

// IsServing reports whether a label classifies as bound to a window, which
// includes the arrived sub-state.
func IsServing(label string) bool {
	b := Classify(label)
	return b == Serving || b == Arrived
}

// IsTerminal reports whether a label classifies as completed.
func IsTerminal(label string) bool {
	return Classify(label) == Completed
}

// Resolve finds the first status type whose label classifies into the given
// bucket.
func Resolve(types []models.StatusType, bucket Bucket) (models.StatusType, bool) {
	for _, st := range types {
		if Classify(st.Label) == bucket {
			return st, true
		}
	}
	return models.StatusType{}, false
}
