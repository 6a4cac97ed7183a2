package models

import "encoding/json"

// -----------------------------------------------------------------------------
// Wire Envelope
// -----------------------------------------------------------------------------

// Push-transport event names (client -> server).
const (
	EventGetTokens       = "get-tokens"
	EventGetTokenDetails = "get-token-details"
	EventGetGlobalStats  = "get-global-stats"
)

// Push-transport event names (server -> client).
const (
	EventTokensListUpdate  = "tokens-list-update"
	EventTokenDetails      = "token-details"
	EventGlobalStatsUpdate = "global-stats-update"
	EventTokenUpdate       = "token-update"
	EventKeepAlive         = "keep-alive"
	EventError             = "error"
)

// -----------------------------------------------------------------------------

// MEnvelope frames every message on the push transport. ID is a correlation
// id generated by the requester and echoed on the direct reply; broadcasts
// and keep-alives carry no ID.
type MEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// -----------------------------------------------------------------------------
// Request / Response Payloads
// -----------------------------------------------------------------------------

type MListRequest struct {
	Sort      string `json:"sort"`
	Direction string `json:"direction"`
	Page      int    `json:"page"`
}

type MDetailRequest struct {
	ID string `json:"id"`
}

type MErrorPayload struct {
	Message string `json:"message"`
}

type MKeepAlive struct {
	Timestamp int64 `json:"timestamp"`
}
