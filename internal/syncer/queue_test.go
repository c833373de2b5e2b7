package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archibridge/archibridge/pkg/models"
)

func TestQueueOrdersByPriority(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncPrices, Priority: 1})
	q.push(models.SyncRequest{Type: models.SyncOrders, Priority: 6})
	q.push(models.SyncRequest{Type: models.SyncDDT, Priority: 4})

	first, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, models.SyncOrders, first.Type)

	second, _ := q.pop()
	assert.Equal(t, models.SyncDDT, second.Type)

	third, _ := q.pop()
	assert.Equal(t, models.SyncPrices, third.Type)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestQueueEqualPriorityIsFirstComeFirstServed(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncDDT, Priority: 3})
	q.push(models.SyncRequest{Type: models.SyncInvoices, Priority: 3})
	q.push(models.SyncRequest{Type: models.SyncProducts, Priority: 3})

	var got []models.SyncType
	for {
		req, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, req.Type)
	}
	assert.Equal(t, []models.SyncType{models.SyncDDT, models.SyncInvoices, models.SyncProducts}, got)
}

func TestQueueCoalescesSameType(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncCustomers, Priority: 3})
	q.push(models.SyncRequest{Type: models.SyncCustomers, Priority: 7})

	require.Equal(t, 1, q.len())
	req, _ := q.pop()
	assert.Equal(t, 7, req.Priority)
}

func TestQueueCoalescingNeverLowersPriority(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncCustomers, Priority: 7})
	q.push(models.SyncRequest{Type: models.SyncCustomers, Priority: 2})

	require.Equal(t, 1, q.len())
	req, _ := q.pop()
	assert.Equal(t, 7, req.Priority)
}

func TestQueueCoalescingKeepsArrivalOrder(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncDDT, Priority: 2})
	q.push(models.SyncRequest{Type: models.SyncInvoices, Priority: 4})
	// Raising ddt to the same priority must not move it behind the
	// invoices request that arrived later.
	q.push(models.SyncRequest{Type: models.SyncDDT, Priority: 4})

	first, _ := q.pop()
	assert.Equal(t, models.SyncDDT, first.Type)
	second, _ := q.pop()
	assert.Equal(t, models.SyncInvoices, second.Type)
}

func TestQueueSnapshotIsSortedCopy(t *testing.T) {
	var q syncQueue
	q.push(models.SyncRequest{Type: models.SyncPrices, Priority: 1})
	q.push(models.SyncRequest{Type: models.SyncOrders, Priority: 6})

	snap := q.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, models.SyncOrders, snap[0].Type)

	// Mutating the snapshot must not touch the queue.
	snap[0].Type = models.SyncDDT
	head, _ := q.pop()
	assert.Equal(t, models.SyncOrders, head.Type)
}
