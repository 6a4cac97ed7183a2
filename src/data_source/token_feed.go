package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"token-observer/src/helpers"
	"token-observer/src/interfaces"
	"token-observer/src/logger"
	"token-observer/src/models"
)

// -----------------------------------------------------------------------------

// HTTPTokenFeed periodically fetches the token list from an upstream JSON
// endpoint and pushes each batch into the output channel. The upstream
// schema is not fully under our control, so parsing is lenient: missing
// metric fields become zero, never an error.
type HTTPTokenFeed struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	Errors  *helpers.ErrorHandler
}

// -----------------------------------------------------------------------------

func NewHTTPTokenFeed(cfg *models.MConfig, netMgr interfaces.INetworkManager) *HTTPTokenFeed {
	return &HTTPTokenFeed{
		Config:  cfg,
		Network: netMgr,
		Logger:  logger.NewLogger(cfg.LogLevel, "HTTPTokenFeed"),
		Errors:  helpers.NewErrorHandler(),
	}
}

// -----------------------------------------------------------------------------

func (s *HTTPTokenFeed) Name() string {
	return "http-feed"
}

// -----------------------------------------------------------------------------

// FetchTokens retrieves and normalizes the current upstream token list.
func (s *HTTPTokenFeed) FetchTokens() ([]models.MToken, error) {
	body, err := s.Network.Get(s.Config.Feed.URL, nil)
	if err != nil {
		return nil, &helpers.FeedError{TokenObserverError: helpers.TokenObserverError{Message: "feed fetch failed", Cause: err}}
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &helpers.FeedError{TokenObserverError: helpers.TokenObserverError{Message: "feed payload malformed", Cause: err}}
	}

	tokens := make([]models.MToken, 0, len(raw))
	for _, item := range raw {
		address := safeString(item, "address")
		if address == "" {
			// No business identifier, nothing to key the record by
			continue
		}

		tokens = append(tokens, models.MToken{
			Address:   address,
			Name:      safeString(item, "name"),
			Symbol:    safeString(item, "symbol"),
			Price:     safeFloat64(item, "price"),
			Volume24h: safeFloat64(item, "volume24h"),
			MarketCap: safeFloat64(item, "marketCap"),
			UpdatedAt: safeInt64(item, "updatedAt"),
			FetchedAt: time.Now(),
		})
	}

	return tokens, nil
}

// -----------------------------------------------------------------------------

// Start begins the periodic fetch loop. Cancelling ctx stops the feed; wg is
// signalled once the loop has fully stopped.
func (s *HTTPTokenFeed) Start(ctx context.Context, outputChan chan<- []models.MToken, wg *sync.WaitGroup) error {
	if s.Config.Feed.URL == "" {
		return fmt.Errorf("feed URL not configured")
	}

	interval := time.Duration(s.Config.Feed.UpdateIntervalSeconds) * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// First fetch immediately so the dashboard has data at startup
		s.fetchAndPush(ctx, outputChan)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fetchAndPush(ctx, outputChan)
			}
		}
	}()

	return nil
}

// -----------------------------------------------------------------------------

func (s *HTTPTokenFeed) fetchAndPush(ctx context.Context, outputChan chan<- []models.MToken) {
	res, err := s.Errors.ExecuteWithRetry("feed fetch", func() (interface{}, error) {
		return s.FetchTokens()
	}, 2)
	if err != nil {
		s.Logger.Warning("Fetch failed: %v", err)
		return
	}
	tokens := res.([]models.MToken)
	if len(tokens) == 0 {
		return
	}

	select {
	case outputChan <- tokens:
	case <-ctx.Done():
	}
}
