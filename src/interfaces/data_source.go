package interfaces

import (
	"context"
	"sync"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// ITokenFeed interface for fetching token data from external sources.
// -----------------------------------------------------------------------------

type ITokenFeed interface {

	// Name returns the unique identifier of the feed
	Name() string

	// -----------------------------------------------------------------------------

	// FetchTokens retrieves the current token list from the upstream source.
	FetchTokens() ([]models.MToken, error)

	// -----------------------------------------------------------------------------

	// Start begins the periodic fetching process
	// ctx: controls the lifecycle (cancellation stops the feed)
	// outputChan: channel to push fetched batches to
	// wg: WaitGroup to signal when the feed has fully stopped
	Start(ctx context.Context, outputChan chan<- []models.MToken, wg *sync.WaitGroup) error
}
