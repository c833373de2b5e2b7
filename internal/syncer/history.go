package syncer

import "github.com/archibridge/archibridge/pkg/models"

// historyRing keeps the most recent outcomes for one sync type, newest
// first. The oldest entry falls off once capacity is reached, while the
// run and failure counters keep growing across the whole process
// lifetime. Not safe for concurrent use; the orchestrator's mutex
// guards it.
type historyRing struct {
	capacity int
	entries  []models.HistoryEntry
	runs     int
	failures int
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{capacity: capacity}
}

func (r *historyRing) add(entry models.HistoryEntry) {
	r.runs++
	if !entry.Success {
		r.failures++
	}
	r.entries = append([]models.HistoryEntry{entry}, r.entries...)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[:r.capacity]
	}
}

func (r *historyRing) counts() models.SyncCounts {
	return models.SyncCounts{Runs: r.runs, Failures: r.failures}
}

// list returns up to limit entries, newest first. A limit of zero or
// less returns everything.
func (r *historyRing) list(limit int) []models.HistoryEntry {
	n := len(r.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.HistoryEntry, n)
	copy(out, r.entries[:n])
	return out
}
