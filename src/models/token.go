package models

import "time"

// MToken represents the stored token record, keyed by contract address.
// Metric fields are value-typed so outbound JSON always carries them,
// zeroed when the upstream source omitted them.
type MToken struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume24h float64   `json:"volume24h"`
	MarketCap float64   `json:"marketCap"`
	UpdatedAt int64     `json:"updatedAt"`
	CreatedAt int64     `json:"createdAt"`
	FetchedAt time.Time `json:"-"`
}

// -----------------------------------------------------------------------------

// MTokenPage is one page of a sorted token listing.
type MTokenPage struct {
	Tokens     []MToken `json:"tokens"`
	TotalPages int      `json:"totalPages"`
}

// -----------------------------------------------------------------------------

// MGlobalStats are collection-wide aggregates.
type MGlobalStats struct {
	TotalTokens    int     `json:"totalTokens"`
	TotalVolume    float64 `json:"totalVolume"`
	TotalMarketCap float64 `json:"totalMarketCap"`
}
