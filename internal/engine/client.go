// Package engine is the HTTP client for the external analysis engine. The
// engine ingests a dataset by URL, cleans it, and for full runs returns a set
// of rendered chart images grouped loosely by a category tag.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"autoinsight/pkg/domain"
)

// DefaultTimeout bounds one engine round trip. Cleaning plus chart rendering
// on a large dataset routinely takes minutes.
const DefaultTimeout = 5 * time.Minute

// ImageEntry is one rendered artifact from the engine: a base64 payload, the
// engine's category tag, and for filterable chart types a column index.
type ImageEntry struct {
	Payload      string
	Category     string
	FilterNumber *int
}

// UnmarshalJSON decodes the engine's positional tuple form:
// [payload, category] or [payload, category, filterNumber].
func (e *ImageEntry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("image entry is not an array: %w", err)
	}
	if len(tuple) < 2 || len(tuple) > 3 {
		return fmt.Errorf("image entry has %d elements, want 2 or 3", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &e.Payload); err != nil {
		return fmt.Errorf("image payload: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &e.Category); err != nil {
		return fmt.Errorf("image category: %w", err)
	}
	if len(tuple) == 3 {
		var n int
		if err := json.Unmarshal(tuple[2], &n); err != nil {
			return fmt.Errorf("image filter number: %w", err)
		}
		e.FilterNumber = &n
	}
	return nil
}

// Report is the engine's response to either endpoint. CleanData responses
// carry no images.
type Report struct {
	Images     []ImageEntry `json:"images"`
	CleanedCSV string       `json:"cleaned_csv"`
}

// Client talks to one analysis engine instance.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// New creates an engine client for baseURL. A nil httpc gets the default
// 5-minute-timeout client; a nil logger is replaced with a no-op.
func New(baseURL string, httpc *http.Client, logger *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpc: httpc, logger: logger}
}

// AnalyzeData runs the full clean-and-generate pipeline on the dataset at
// sourceURL interpreted under the given business domain. A response without
// an images sequence is malformed; clean-data responses are the only ones
// allowed to omit it.
func (c *Client) AnalyzeData(ctx context.Context, sourceURL, datasetDomain string) (*Report, error) {
	report, err := c.post(ctx, "analyze-data", map[string]string{
		"cloudinary_url": sourceURL,
		"domainType":     datasetDomain,
	})
	if err != nil {
		return nil, err
	}
	if report.Images == nil {
		return nil, domain.UpstreamFailureError{Op: "analyze-data", Err: errors.New("response missing images")}
	}
	return report, nil
}

// CleanData runs only the cleaning pipeline on the dataset at sourceURL.
func (c *Client) CleanData(ctx context.Context, sourceURL string) (*Report, error) {
	return c.post(ctx, "clean-data", map[string]string{
		"cloudinary_url": sourceURL,
	})
}

func (c *Client) post(ctx context.Context, op string, payload map[string]string) (*Report, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.UpstreamFailureError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, domain.UpstreamFailureError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("engine call failed", zap.String("op", op), zap.Error(err))
		return nil, domain.UpstreamFailureError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("engine returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return nil, domain.UpstreamFailureError{
			Op:  op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, domain.UpstreamFailureError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Info("engine call complete",
		zap.String("op", op),
		zap.Int("images", len(report.Images)),
		zap.Duration("elapsed", time.Since(start)))
	return &report, nil
}
