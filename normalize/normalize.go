// Package normalize implements the row processor backed by the address
// normalization HTTP service.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/weiihann/addrcheck/address"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Request is the body sent to the normalization service.
type Request struct {
	StreetName     string `json:"StreetName"`
	StreetPrefix   string `json:"StreetPrefix"`
	BuildingNumber string `json:"BuildingNumber"`
	City           string `json:"City"`
	PostalCode     string `json:"PostalCode"`
}

// Metadata is the confidence block of a response.
type Metadata struct {
	CombinedProbability *float64 `json:"CombinedProbability"`
}

// Response is the body returned by the normalization service. Fields not
// listed here are ignored.
type Response struct {
	Address               *address.Record `json:"Address"`
	NormalizationMetadata *Metadata       `json:"NormalizationMetadata"`
}

// Validate checks that the response carries both an address and a
// confidence score.
func (r *Response) Validate() error {
	if r.Address == nil {
		return errors.New("response has no Address")
	}

	if r.NormalizationMetadata == nil {
		return errors.New("response has no NormalizationMetadata")
	}

	if r.NormalizationMetadata.CombinedProbability == nil {
		return errors.New("response has no CombinedProbability")
	}

	return nil
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client calls the normalization service. It is safe for concurrent use.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a Client. httpClient is shared by every request and
// should be long-lived; nil selects http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("normalization endpoint is required")
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		http:     httpClient,
		logger:   logger.With(slog.String("processor", "normalize")),
	}, nil
}

// NewRequest builds the request body for a row.
func NewRequest(row address.Row) Request {
	return Request{
		StreetName:     row.StreetName,
		StreetPrefix:   row.StreetPrefix,
		BuildingNumber: row.BuildingNumber,
		City:           row.City,
		PostalCode:     row.PostalCode,
	}
}

// Process normalizes one row. It never fails: every error becomes an Empty
// outcome tagged with its kind.
func (c *Client) Process(ctx context.Context, row address.Row) address.Outcome {
	resp, err := c.Normalize(ctx, NewRequest(row))
	if err != nil {
		kind := Classify(err)

		c.logger.DebugContext(ctx, "normalize failed",
			slog.Int("row", row.Index),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		return address.Failed(kind, err)
	}

	return address.Success(*resp.NormalizationMetadata.CombinedProbability, *resp.Address)
}

// Normalize sends one request and returns the validated response.
func (c *Client) Normalize(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       truncate(string(data), 200),
		}
	}

	return parseResponse(data)
}

// MalformedError reports a response body that could not be used.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return "malformed response: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func parseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &MalformedError{Err: fmt.Errorf("decode JSON: %w", err)}
	}

	if err := resp.Validate(); err != nil {
		return nil, &MalformedError{Err: err}
	}

	return &resp, nil
}

// Classify maps an error returned by Normalize to its kind.
func Classify(err error) address.ErrorKind {
	if err == nil {
		return address.KindNone
	}

	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return address.KindMalformed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return address.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return address.KindTimeout
	}

	return address.KindTransport
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
