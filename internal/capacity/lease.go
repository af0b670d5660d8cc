package capacity

import (
	"time"
)

// Lease is a granted capacity reservation. The holder must heartbeat it
// within the TTL or the sweep reclaims its units. Fields are owned by the
// Manager; callers receive copies via snapshots and must use Manager methods
// to mutate lease state.
type Lease struct {
	ID              string    `json:"id"`
	ScopeKey        string    `json:"scope_key"`
	ToolName        string    `json:"tool_name"`
	PlannedCount    int       `json:"planned_count"`
	ConsumedCount   int       `json:"consumed_count"`
	GrantedAt       time.Time `json:"granted_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`

	// held is the number of units currently counted against the store.
	// Starts at PlannedCount; Consume lowers it to the actual count.
	held int
}

// Expired reports whether the lease missed its heartbeat deadline.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Remaining returns the time until expiry, or zero if already expired.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
