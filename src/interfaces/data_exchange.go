package interfaces

import (
	"context"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// IDataExchanger defining the interface for sharing data with external systems (Server/Push).
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast pushes one change event to every live subscriber.
	Broadcast(event models.MChangeEvent)

	// -----------------------------------------------------------------------------
	// Run consumes change events until the context is cancelled.
	Run(ctx context.Context, events <-chan models.MChangeEvent)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
