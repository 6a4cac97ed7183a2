package interfaces

import (
	"context"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// ITokenStore defines the contract for token storage and change notification.
// -----------------------------------------------------------------------------

type ITokenStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and, where the backend supports
	// it, the change-notification plumbing.
	Initialize() error

	// -----------------------------------------------------------------------------

	// UpsertToken inserts or updates one token record and emits a store
	// notification for the mutation.
	UpsertToken(token models.MToken) error

	// -----------------------------------------------------------------------------
	// Read primitives consumed by the snapshot query service. All are
	// side-effect-free and safe under concurrent access.

	// GetByAddress returns the token with the exact address, or nil.
	GetByAddress(address string) (*models.MToken, error)

	// GetByAddressFold returns the token matching the address
	// case-insensitively, or nil.
	GetByAddressFold(address string) (*models.MToken, error)

	// SearchByAddressFragment returns the first token whose address contains
	// the fragment (case-insensitive), or nil.
	SearchByAddressFragment(fragment string) (*models.MToken, error)

	// ListPage returns tokens ordered by the given column.
	ListPage(sortColumn string, descending bool, limit, offset int) ([]models.MToken, error)

	// CountTokens returns the total number of stored tokens.
	CountTokens() (int, error)

	// GlobalStats aggregates over the full collection, zeroed when empty.
	GlobalStats() (models.MGlobalStats, error)

	// -----------------------------------------------------------------------------

	// Listen opens a change subscription. The returned channel closes when
	// the subscription fails or the context is cancelled; the caller is
	// responsible for re-establishing it.
	Listen(ctx context.Context) (<-chan models.MStoreNotification, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes records older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
