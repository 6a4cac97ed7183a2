package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"token-observer/src/logger"
	"token-observer/src/models"
	"token-observer/src/network"
)

// -----------------------------------------------------------------------------
// Pull Transport
// -----------------------------------------------------------------------------

// PullClient answers the same three logical queries as the push transport
// over plain request/response, so the agent can serve application code when
// the push side is down.
type PullClient struct {
	BaseURL string
	Network *network.AsyncNetworkManager
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPullClient(baseURL string, nm *network.AsyncNetworkManager, log *logger.Logger) *PullClient {
	return &PullClient{
		BaseURL: baseURL,
		Network: nm,
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// get performs one status-aware GET. Unlike the network manager's retrying
// Get, a 404 here is an answer, not a failure.
func (p *PullClient) get(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	reqUrl, err := url.Parse(p.BaseURL + path)
	if err != nil {
		return nil, 0, err
	}

	q := reqUrl.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqUrl.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl.String(), nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := p.Network.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// -----------------------------------------------------------------------------

func (p *PullClient) GetTokens(ctx context.Context, sort, direction string, page int) (*models.MTokenPage, error) {
	body, status, err := p.get(ctx, "/api/tokens", map[string]string{
		"sort":      sort,
		"direction": direction,
		"page":      strconv.Itoa(page),
	})
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("list tokens: bad status %d", status)
	}

	var result models.MTokenPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// -----------------------------------------------------------------------------

func (p *PullClient) GetTokenByID(ctx context.Context, id string) (*models.MToken, error) {
	body, status, err := p.get(ctx, "/api/tokens/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status == 404 {
		return nil, ErrTokenNotFound
	}
	if status != 200 {
		return nil, fmt.Errorf("token lookup: bad status %d", status)
	}

	var token models.MToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// -----------------------------------------------------------------------------

func (p *PullClient) GetGlobalStats(ctx context.Context) (*models.MGlobalStats, error) {
	body, status, err := p.get(ctx, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("global stats: bad status %d", status)
	}

	var stats models.MGlobalStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
