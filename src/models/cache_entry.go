package models

// MCacheEntry is one client-side cached token, bounded by a fixed TTL and
// pruned lazily on read. Timestamps are epoch milliseconds.
type MCacheEntry struct {
	Token     MToken `json:"token"`
	FetchedAt int64  `json:"fetchedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// -----------------------------------------------------------------------------

// Expired reports whether the entry is past its TTL at nowMs.
func (e MCacheEntry) Expired(nowMs int64) bool {
	return nowMs >= e.ExpiresAt
}
