package citation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// verifyTimeout is the fixed upper bound on a single semantic verification
// call. The external service occasionally stalls on obscure reporters; the
// pipeline must not stall with it.
const verifyTimeout = 30 * time.Second

// maxVerifyResponse caps the verifier response body.
const maxVerifyResponse = 1 * 1024 * 1024

// DefaultPendingConfidence is assigned to structurally valid citations when
// no semantic verifier is available. They stay pending for manual sign-off
// and never default to verified.
const DefaultPendingConfidence = 0.5

// Judgment is the semantic verifier's verdict on one citation.
type Judgment struct {
	// Classification collapses the service's result to one of "verified",
	// "needs_update", or "invalid".
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`

	// CorrectedCitation is set when the service suggests a correction
	// (classification "needs_update").
	CorrectedCitation string `json:"corrected_citation,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Verifier checks whether a cited authority actually supports the
// proposition it is cited for.
type Verifier interface {
	Verify(ctx context.Context, rawCitation, usageContext string) (*Judgment, error)
}

// transientVerifyError marks verifier failures worth retrying at the call
// site (network trouble, 5xx, rate limits). A "not found" verdict is a
// judgment, not an error, and is never retried.
type transientVerifyError struct {
	err error
}

func (e *transientVerifyError) Error() string { return e.err.Error() }
func (e *transientVerifyError) Unwrap() error { return e.err }

// IsTransient reports whether a verifier error may succeed on retry.
func IsTransient(err error) bool {
	var t *transientVerifyError
	return errors.As(err, &t)
}

// HTTPVerifier talks to the external citation verification service.
type HTTPVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPVerifierOption configures an HTTPVerifier.
type HTTPVerifierOption func(*HTTPVerifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.logger = logger
	}
}

// NewHTTPVerifier creates a verifier client for the given service URL.
func NewHTTPVerifier(baseURL, apiKey string, opts ...HTTPVerifierOption) *HTTPVerifier {
	v := &HTTPVerifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: verifyTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyRequest struct {
	Citation string `json:"citation"`
	Context  string `json:"context,omitempty"`
}

// Verify implements Verifier over HTTP.
func (v *HTTPVerifier) Verify(ctx context.Context, rawCitation, usageContext string) (*Judgment, error) {
	body, err := json.Marshal(verifyRequest{Citation: rawCitation, Context: usageContext})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &transientVerifyError{err: fmt.Errorf("verification request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyResponse))
	if err != nil {
		return nil, &transientVerifyError{err: fmt.Errorf("read verification response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientVerifyError{err: fmt.Errorf("verification service error (status %d)", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("verification service rejected request (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var j Judgment
	if err := json.Unmarshal(respBody, &j); err != nil {
		return nil, fmt.Errorf("parse verification response: %w", err)
	}

	switch j.Classification {
	case "verified", "needs_update", "invalid":
		return &j, nil
	default:
		// Unknown classifications collapse to invalid rather than being
		// silently treated as success.
		v.logger.Warn("Unknown verifier classification, treating as invalid",
			"classification", j.Classification,
			"citation", truncate(rawCitation, 80))
		j.Classification = "invalid"
		return &j, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
