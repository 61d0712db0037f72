package status

import (
	"testing"

	"qms/queueing-engine/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		label  string
		bucket Bucket
	}{
		{"Pending", Pending},
		{"Waiting", Pending},
		{"Serving", Serving},
		{"Called", Serving},
		{"Now Serving", Serving},
		{"Arrived", Arrived},
		{"Serving - Arrived", Arrived},
		{"Completed", Completed},
		{"Done", Completed},
		{"something else", Unknown},
		{"", Unknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.label); got != tc.bucket {
			t.Fatalf("Classify(%q)=%s, want %s", tc.label, got, tc.bucket)
		}
	}
}

func TestIsServingIncludesArrived(t *testing.T) {
	if !IsServing("Serving") {
		t.Fatal("expected Serving to be serving")
	}
	if !IsServing("Arrived") {
		t.Fatal("expected Arrived to be serving")
	}
	if IsServing("Pending") {
		t.Fatal("expected Pending not to be serving")
	}
}

func TestResolve(t *testing.T) {
	types := []models.StatusType{
		{StatusID: "1", Label: "Pending"},
		{StatusID: "2", Label: "Serving"},
		{StatusID: "3", Label: "Arrived"},
		{StatusID: "4", Label: "Completed"},
	}

	st, ok := Resolve(types, Arrived)
	if !ok || st.StatusID != "3" {
		t.Fatalf("Resolve(Arrived)=%v ok=%v, want status 3", st, ok)
	}
	if _, ok := Resolve(types[:1], Completed); ok {
		t.Fatal("expected no completed status in truncated vocabulary")
	}
}
