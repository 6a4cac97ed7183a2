package client

import (
	"sort"
	"strings"
	"sync"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// Local Token View
// -----------------------------------------------------------------------------

// TokenView is the client's merged picture of the token collection: full
// listing snapshots and single-token updates folded into one by-id map with
// last-write-wins semantics. Two views that see the same final record per id
// end up identical regardless of event interleaving.
type TokenView struct {
	mu     sync.RWMutex
	tokens map[string]models.MToken
}

// -----------------------------------------------------------------------------

func NewTokenView() *TokenView {
	return &TokenView{
		tokens: make(map[string]models.MToken),
	}
}

// -----------------------------------------------------------------------------

// ApplyList folds a listing snapshot into the view.
func (v *TokenView) ApplyList(tokens []models.MToken) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range tokens {
		v.tokens[strings.ToLower(t.Address)] = t
	}
}

// -----------------------------------------------------------------------------

// ApplyUpdate folds one pushed token record into the view.
func (v *TokenView) ApplyUpdate(token models.MToken) {
	v.mu.Lock()
	v.tokens[strings.ToLower(token.Address)] = token
	v.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Get returns the current record for id.
func (v *TokenView) Get(id string) (*models.MToken, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if t, ok := v.tokens[strings.ToLower(id)]; ok {
		return &t, true
	}
	return nil, false
}

// -----------------------------------------------------------------------------

// Len reports the number of distinct tokens seen.
func (v *TokenView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

// -----------------------------------------------------------------------------

// Snapshot returns all records ordered by address for stable rendering.
func (v *TokenView) Snapshot() []models.MToken {
	v.mu.RLock()
	out := make([]models.MToken, 0, len(v.tokens))
	for _, t := range v.tokens {
		out = append(out, t)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}
