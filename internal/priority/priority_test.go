package priority

import "testing"

func TestRank(t *testing.T) {
	cases := []struct {
		label string
		rank  int
	}{
		{"Urgent", RankUrgent},
		{"URGENT CASE", RankUrgent},
		{"VIP", RankVIP},
		{"vip lane", RankVIP},
		{"Priority", RankPriority},
		{"Person with Disability", RankDisability},
		{"Senior Citizen", RankSenior},
		{"Regular", RankRegular},
		{"Walk-in", RankRegular},
		{"", RankRegular},
		{"totally unknown label", RankRegular},
	}

	for _, tc := range cases {
		if got := Rank(tc.label); got != tc.rank {
			t.Fatalf("Rank(%q)=%d, want %d", tc.label, got, tc.rank)
		}
	}
}

func TestRankPrecedence(t *testing.T) {
	// A label matching several keywords takes the highest-precedence match.
	if got := Rank("Urgent VIP"); got != RankUrgent {
		t.Fatalf("Rank(Urgent VIP)=%d, want %d", got, RankUrgent)
	}
	if got := Rank("Senior Citizen Priority"); got != RankPriority {
		t.Fatalf("Rank(Senior Citizen Priority)=%d, want %d", got, RankPriority)
	}
}
