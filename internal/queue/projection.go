// Package queue derives read-side projections from sequence snapshots and
// hosts the call-next claim coordinator. Projections are pure: they keep no
// state between calls and can be recomputed from any snapshot.
package queue

import (
	"sort"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/priority"
	"qms/queueing-engine/internal/status"
)

// WaitingList returns the pending sequences for an office ordered by
// (priority rank, created time, sequence id). When windowID is non-empty the
// list narrows to sequences unassigned or already assigned to that window.
func WaitingList(seqs []models.Sequence, officeID, windowID string) []models.Sequence {
	var waiting []models.Sequence
	for _, seq := range seqs {
		if seq.OfficeID != officeID || !status.IsPending(seq.Status) {
			continue
		}
		if windowID != "" && seq.WindowID != nil && *seq.WindowID != windowID {
			continue
		}
		waiting = append(waiting, seq)
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		ri, rj := priority.Rank(waiting[i].Priority), priority.Rank(waiting[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if !waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
		}
		// Identical timestamps fall back to id order so the list stays
		// deterministic.
		return waiting[i].SequenceID < waiting[j].SequenceID
	})
	return waiting
}

// ServingEntry returns the sequence currently serving (or arrived) for an
// office, narrowed to a window when windowID is non-empty. At most one per
// window is enforced by the claim path, not here.
func ServingEntry(seqs []models.Sequence, officeID, windowID string) (models.Sequence, bool) {
	for _, seq := range seqs {
		if seq.OfficeID != officeID || !status.IsServing(seq.Status) {
			continue
		}
		if windowID != "" && (seq.WindowID == nil || *seq.WindowID != windowID) {
			continue
		}
		return seq, true
	}
	return models.Sequence{}, false
}
