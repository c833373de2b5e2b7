package syncer

import (
	"sort"

	"github.com/archibridge/archibridge/pkg/models"
)

// syncQueue orders pending requests by priority, first-come first-served
// within a priority. Not safe for concurrent use; the orchestrator's
// mutex guards it.
type syncQueue struct {
	items []queuedRequest
	seq   uint64
}

type queuedRequest struct {
	models.SyncRequest
	seq uint64
}

// push enqueues a request. A type already waiting is not enqueued twice:
// the existing entry is raised to the higher of the two priorities and
// keeps its original arrival order.
func (q *syncQueue) push(req models.SyncRequest) {
	for i := range q.items {
		if q.items[i].Type == req.Type {
			if req.Priority > q.items[i].Priority {
				q.items[i].Priority = req.Priority
				q.sort()
			}
			return
		}
	}
	q.seq++
	q.items = append(q.items, queuedRequest{SyncRequest: req, seq: q.seq})
	q.sort()
}

func (q *syncQueue) sort() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].seq < q.items[j].seq
	})
}

func (q *syncQueue) pop() (models.SyncRequest, bool) {
	if len(q.items) == 0 {
		return models.SyncRequest{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head.SyncRequest, true
}

func (q *syncQueue) len() int { return len(q.items) }

func (q *syncQueue) clear() { q.items = nil }

// snapshot copies the queue for status reports, highest priority first.
func (q *syncQueue) snapshot() []models.SyncRequest {
	out := make([]models.SyncRequest, len(q.items))
	for i, item := range q.items {
		out[i] = item.SyncRequest
	}
	return out
}
