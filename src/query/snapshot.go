package query

import (
	"strings"

	"token-observer/src/interfaces"
	"token-observer/src/logger"
	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// Snapshot Query Service
// -----------------------------------------------------------------------------

// PageSize is fixed: the dashboard always pages in tens.
const PageSize = 10

// Sort fields accepted on the wire. Anything else falls back to the default.
const (
	SortMarketCap = "marketCap"
	SortVolume    = "volume"
	SortDefault   = "default"
)

// -----------------------------------------------------------------------------

// SnapshotService answers point-in-time queries against the token store.
// All operations are read-only and safely retryable.
type SnapshotService struct {
	Store  interfaces.ITokenStore
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSnapshotService(store interfaces.ITokenStore, log *logger.Logger) *SnapshotService {
	return &SnapshotService{
		Store:  store,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// sortColumn maps a wire-level sort field to a store column. Unrecognized
// fields map to the default ordering (newest first).
func sortColumn(sortField string) string {
	switch sortField {
	case SortMarketCap:
		return "market_cap"
	case SortVolume:
		return "volume_24h"
	default:
		return "created_at"
	}
}

// -----------------------------------------------------------------------------

// ListPage returns one page of tokens plus the total page count.
// direction defaults to descending unless "asc" is requested explicitly;
// pages below 1 clamp to 1. Tie-break is whatever order the store returns
// under the sort key.
func (s *SnapshotService) ListPage(sortField, direction string, page int) (models.MTokenPage, error) {
	if page < 1 {
		page = 1
	}
	descending := !strings.EqualFold(direction, "asc")

	total, err := s.Store.CountTokens()
	if err != nil {
		return models.MTokenPage{}, err
	}

	tokens, err := s.Store.ListPage(sortColumn(sortField), descending, PageSize, (page-1)*PageSize)
	if err != nil {
		return models.MTokenPage{}, err
	}
	if tokens == nil {
		tokens = []models.MToken{}
	}

	return models.MTokenPage{
		Tokens:     tokens,
		TotalPages: (total + PageSize - 1) / PageSize,
	}, nil
}

// -----------------------------------------------------------------------------

// GetByID looks a token up by identifier, tolerating case variation and
// incidental formatting. Upstream identifier formatting is not fully under
// our control, so the lookup tries progressively looser strategies and
// returns the first hit:
//  1. exact match
//  2. case-insensitive exact match
//  3. case-insensitive substring match
//  4. case-insensitive match with the 0x prefix stripped
//
// Returns (nil, nil) when nothing matches.
func (s *SnapshotService) GetByID(id string) (*models.MToken, error) {
	if token, err := s.Store.GetByAddress(id); err != nil || token != nil {
		return token, err
	}
	if token, err := s.Store.GetByAddressFold(id); err != nil || token != nil {
		return token, err
	}
	if token, err := s.Store.SearchByAddressFragment(id); err != nil || token != nil {
		return token, err
	}

	stripped := strings.TrimPrefix(strings.ToLower(id), "0x")
	if stripped != strings.ToLower(id) {
		return s.Store.GetByAddressFold(stripped)
	}

	return nil, nil
}

// -----------------------------------------------------------------------------

// GlobalStats aggregates over the full collection. An empty collection
// yields zeroed stats, never an error.
func (s *SnapshotService) GlobalStats() (models.MGlobalStats, error) {
	return s.Store.GlobalStats()
}
