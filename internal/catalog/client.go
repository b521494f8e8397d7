// Package catalog fetches read-only test definitions from the catalog
// collaborator.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// maxBodyBytes caps the size of a catalog response.
const maxBodyBytes = 4 << 20

// FetchError reports a failed or malformed catalog fetch. It is retryable.
type FetchError struct {
	TestID string
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch test %s: status %d: %v", e.TestID, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch test %s: %v", e.TestID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher loads a test definition by id.
type Fetcher interface {
	FetchTestByID(ctx context.Context, testID string) (*model.TestDefinition, error)
}

// Client calls GET {baseURL}/tests/{id}.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	defaultDuration time.Duration
	log             zerolog.Logger
}

// NewClient creates a catalog client. defaultDuration applies to definitions
// that carry no duration.
func NewClient(baseURL string, timeout, defaultDuration time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
		defaultDuration: defaultDuration,
		log:             log.With().Str("component", "catalog_client").Logger(),
	}
}

// wireTest accepts either durationMs or the catalog's duration_minutes.
type wireTest struct {
	model.TestDefinition
	DurationMinutes int64 `json:"duration_minutes"`
}

type envelope struct {
	Data *wireTest `json:"data"`
}

// FetchTestByID fetches and validates a definition. Every failure is a
// *FetchError.
func (c *Client) FetchTestByID(ctx context.Context, testID string) (*model.TestDefinition, error) {
	fail := func(status int, err error) error {
		c.log.Warn().Err(err).Str("test_id", testID).Int("status", status).Msg("Catalog fetch failed")
		return &FetchError{TestID: testID, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tests/"+url.PathEscape(testID), nil)
	if err != nil {
		return nil, fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", http.StatusText(resp.StatusCode)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decode definition: %w", err))
	}
	if env.Data == nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("response carries no data"))
	}

	def := env.Data.TestDefinition
	if def.ID == "" {
		def.ID = testID
	}
	if def.DurationMs == 0 {
		if env.Data.DurationMinutes > 0 {
			def.DurationMs = (time.Duration(env.Data.DurationMinutes) * time.Minute).Milliseconds()
		} else {
			def.DurationMs = c.defaultDuration.Milliseconds()
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("invalid definition: %w", err))
	}

	c.log.Debug().Str("test_id", testID).Int("questions", len(def.Questions)).Msg("Fetched test definition")
	return &def, nil
}
