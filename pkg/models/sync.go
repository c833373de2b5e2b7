package models

import "time"

// SyncType identifies one of the data domains mirrored from the remote ERP.
type SyncType string

const (
	SyncCustomers SyncType = "customers"
	SyncProducts  SyncType = "products"
	SyncPrices    SyncType = "prices"
	SyncOrders    SyncType = "orders"
	SyncDDT       SyncType = "ddt"
	SyncInvoices  SyncType = "invoices"
)

// SyncTypes returns all sync types in default priority order, highest first.
// Products rank above prices: price matching needs product identity in place.
func SyncTypes() []SyncType {
	return []SyncType{SyncOrders, SyncCustomers, SyncDDT, SyncInvoices, SyncProducts, SyncPrices}
}

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncCustomers, SyncProducts, SyncPrices, SyncOrders, SyncDDT, SyncInvoices:
		return true
	}
	return false
}

// SyncRequest is a pending request for one sync type. At most one request
// per type is queued at a time; re-requests raise the priority instead.
type SyncRequest struct {
	Type        SyncType  `json:"type"`
	Priority    int       `json:"priority"`
	RequestedAt time.Time `json:"requestedAt"`
	UserID      string    `json:"userId,omitempty"`
}

// HistoryEntry records the outcome of one completed sync run.
type HistoryEntry struct {
	Type       SyncType  `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// RunningSync describes the sync currently holding the execution slot.
type RunningSync struct {
	Type      SyncType  `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// SyncCounts aggregates run outcomes for one sync type since startup.
type SyncCounts struct {
	Runs     int `json:"runs"`
	Failures int `json:"failures"`
}

// SyncStatus is a point-in-time snapshot of the orchestrator.
type SyncStatus struct {
	Current         *RunningSync            `json:"current"`
	Queue           []SyncRequest           `json:"queue"`
	LastRun         map[SyncType]time.Time  `json:"lastRun"`
	Counts          map[SyncType]SyncCounts `json:"counts"`
	SmartSyncActive bool                    `json:"smartSyncActive"`
	SmartSyncRefs   int                     `json:"smartSyncRefs"`
	AutoSync        bool                    `json:"autoSync"`
	Intervals       map[SyncType]int        `json:"intervalsMinutes"`
}
