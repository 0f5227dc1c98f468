/*
Package servicearea provides an HTTP client for the remote service-area
lookup.

PURPOSE:
  Implements census.ServiceAreaLookup against a zip-code lookup endpoint.
  Large censuses are split into chunks that are looked up concurrently.

WIRE FORMAT:
  POST {baseURL}/service-area/lookup
  {"params": [{"zipcode": "94107", "region": "CA"}, ...]}

  The endpoint answers with either a single match or a list:
  {"result": {"zipcode": "94107"}}
  {"result": [{"zipcode": "94107"}, {"zipcode": "94110"}]}
  A missing or null result means no zip is serviceable.

SEE ALSO:
  - census/servicearea.go: Zip cache and OOA ratio
  - store/sqlite: Local lookup backed by the service_area_zips table
*/
package servicearea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/census-engine/census"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultChunkSize   = 50
	DefaultConcurrency = 4

	lookupPath = "/service-area/lookup"
)

// Client calls the remote service-area lookup.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	chunkSize   int
	concurrency int
	log         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithChunkSize sets how many zips go into one request.
func WithChunkSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.chunkSize = n
		}
	}
}

// WithConcurrency bounds the number of requests in flight.
func WithConcurrency(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.concurrency = n
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		chunkSize:   DefaultChunkSize,
		concurrency: DefaultConcurrency,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type zipParam struct {
	Zipcode string `json:"zipcode"`
	Region  string `json:"region"`
}

type lookupRequest struct {
	Params []zipParam `json:"params"`
}

type lookupResponse struct {
	Result json.RawMessage `json:"result"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service area lookup returned %d: %s", e.StatusCode, e.Body)
}

// parseResult accepts a single object, a list, or null.
func parseResult(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var list []zipParam
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid result list: %w", err)
		}
	} else {
		var one zipParam
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("invalid result: %w", err)
		}
		list = []zipParam{one}
	}

	out := make([]string, 0, len(list))
	for _, z := range list {
		if zip := strings.TrimSpace(z.Zipcode); zip != "" {
			out = append(out, zip)
		}
	}
	return out, nil
}

// =============================================================================
// LOOKUP
// =============================================================================

// LookupServiceArea returns the serviceable subset of requests. Any failed
// chunk fails the whole lookup so a partial answer never reaches the cache.
func (c *Client) LookupServiceArea(ctx context.Context, requests []census.ZipRequest) ([]string, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	chunks := chunk(requests, c.chunkSize)
	results := make([][]string, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, part := range chunks {
		g.Go(func() error {
			zips, err := c.lookup(ctx, part)
			if err != nil {
				return err
			}
			results[i] = zips
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("service area lookup failed", "zips", len(requests), "chunks", len(chunks), "error", err)
		return nil, err
	}

	var out []string
	seen := make(map[string]bool)
	for _, zips := range results {
		for _, z := range zips {
			if !seen[z] {
				seen[z] = true
				out = append(out, z)
			}
		}
	}
	c.log.Debug("service area lookup", "zips", len(requests), "chunks", len(chunks), "serviceable", len(out))
	return out, nil
}

func (c *Client) lookup(ctx context.Context, requests []census.ZipRequest) ([]string, error) {
	body := lookupRequest{Params: make([]zipParam, len(requests))}
	for i, r := range requests {
		body.Params[i] = zipParam{Zipcode: r.PostalCode, Region: r.Region}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("service area lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	return parseResult(decoded.Result)
}

func chunk(requests []census.ZipRequest, size int) [][]census.ZipRequest {
	var out [][]census.ZipRequest
	for start := 0; start < len(requests); start += size {
		end := start + size
		if end > len(requests) {
			end = len(requests)
		}
		out = append(out, requests[start:end])
	}
	return out
}

var _ census.ServiceAreaLookup = (*Client)(nil)
