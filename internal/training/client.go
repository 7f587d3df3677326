package training

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "cptbot/pkg/logx"
)

// Cap how much of an error response body ends up in the logs.
const maxErrorBodyLog = 500

type Config struct {
	URL     string
	Token   string        // optional bearer token
	Timeout time.Duration // 0 means default
}

// Client fetches upcoming CPTs from the training API.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type apiResponse struct {
	Data []Event `json:"data"`
}

// Fetch returns the current list of CPTs.
//
// Callers treat any error as "zero events this cycle"; a failed fetch must
// never abort the poll loop.
func (c *Client) Fetch(ctx context.Context) ([]Event, error) {
	url := strings.TrimSpace(c.cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("training api url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		c.log.Warn("no training api token configured, request may be rejected")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cpts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLog))
		c.log.Error("training api returned non-200",
			logx.Int("status", resp.StatusCode),
			logx.String("body", string(body)))
		return nil, fmt.Errorf("fetch cpts: unexpected status %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cpts: %w", err)
	}

	c.log.Info("fetched cpts from api", logx.Int("count", len(out.Data)))
	return out.Data, nil
}
