package types

// Status is the outcome of a single credential presentation.
type Status string

const (
	StatusGranted Status = "Access Granted"
	StatusDenied  Status = "Access Denied"
	StatusBlocked Status = "Blocked"
)

// Placeholder names recorded when no user record applies to a decision.
const (
	NameBlocked = "Blocked User"
	NameUnknown = "Unknown"
)

// Transaction is the durable record of one processed credential event.
// It is created exactly once per decision, appended to the local cache,
// and never mutated afterwards except to flip Synced from false to true.
//
// ID is the sync-matching key. Timestamp is unix seconds and is what the
// dashboard sorts and the retention pruner filters on.
type Transaction struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Card      string `json:"card"`
	Reader    int    `json:"reader"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
	EntityID  string `json:"entity_id"`
	Synced    bool   `json:"synced"`
}
