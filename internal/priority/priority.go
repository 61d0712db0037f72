// Package priority classifies free-text priority labels into ordering
// weights. Labels are configured by administrators, so classification is
// keyword containment with a fixed precedence rather than an enum.
package priority

import "strings"

const (
	RankUrgent     = 0
	RankVIP        = 1
	RankPriority   = 2
	RankDisability = 3
	RankSenior     = 4
	RankRegular    = 5
)

// keywords are checked in order; a label matching several keywords takes the
// first match.
var keywords = []struct {
	keyword string
	rank    int
}{
	{"urgent", RankUrgent},
	{"vip", RankVIP},
	{"priority", RankPriority},
	{"disability", RankDisability},
	{"senior", RankSenior},
}

// Rank maps a priority label to its ordering weight, lower served first.
// Unknown labels rank last so untagged tickets never starve the queue but
// never jump ahead either.
func Rank(label string) int {
	lowered := strings.ToLower(label)
	for _, k := range keywords {
		if strings.Contains(lowered, k.keyword) {
			return k.rank
		}
	}
	return RankRegular
}
