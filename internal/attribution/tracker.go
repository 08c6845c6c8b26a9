// Package attribution emits referral conversion events. Everything here is
// best effort: the points pipeline never blocks or rolls back on a tracking
// failure.
package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisraro/Giya-sub000/internal/config"
)

// Event records a referred customer's first purchase at a business.
type Event struct {
	Value               decimal.Decimal `json:"value"`
	Currency            string          `json:"currency"`
	FirstTransaction    bool            `json:"first_transaction"`
	ReferringBusinessID string          `json:"referring_business_id"`
	TrackingPixelID     string          `json:"tracking_pixel_id"`
}

type Tracker interface {
	Track(ctx context.Context, event Event) error
}

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(cfg *config.AttributionConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Track(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tracking endpoint returned %d", resp.StatusCode)
	}
	return nil
}
