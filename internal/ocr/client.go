// Package ocr is the adapter for the external receipt-extraction service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisraro/Giya-sub000/internal/config"
	"github.com/chrisraro/Giya-sub000/pkg/errors"
)

// Result is the structured data extracted from a receipt image. MerchantName
// may be empty and TotalAmount nil when the service could not read them.
type Result struct {
	MerchantName string           `json:"merchant_name"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	Currency     string           `json:"currency"`
}

// Extractor converts a stored receipt image into structured purchase data.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) (*Result, error)
}

type Client struct {
	cfg        *config.OCRConfig
	httpClient *http.Client
}

func NewClient(cfg *config.OCRConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Extract submits the image reference to the extraction service. The upstream
// call is bounded by the configured timeout; a timeout surfaces as an
// OCR_FAILURE like any other extraction error.
func (c *Client) Extract(ctx context.Context, imagePath string) (*Result, error) {
	payload, err := json.Marshal(map[string]string{"image_path": imagePath})
	if err != nil {
		return nil, errors.New(errors.ErrOCRFailure, "failed to encode ocr request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New(errors.ErrOCRFailure, "failed to build ocr request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrOCRFailure, "ocr request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.ErrOCRFailure,
			fmt.Sprintf("ocr service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.New(errors.ErrOCRFailure, "failed to decode ocr response", err)
	}

	return &result, nil
}
