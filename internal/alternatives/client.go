package alternatives

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franckalain/nutriratio/internal/logger"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/retry"
)

// MaxResults caps how many alternatives are returned for one scan
const MaxResults = 5

// Query describes the scanned product
type Query struct {
	Name     string       `json:"name"`
	Category string       `json:"category,omitempty"`
	Ratio    ratio.Triple `json:"ratio"`
}

// Alternative is a product with a better macro balance
type Alternative struct {
	Name         string       `json:"name"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Category     string       `json:"category,omitempty"`
	Ratio        ratio.Triple `json:"ratio"`
	Compliant    bool         `json:"compliant"` // meets the user's target ratio
}

// Finder looks up alternatives. Implementations never fail: any problem
// yields an empty list.
type Finder interface {
	Find(ctx context.Context, q Query) []Alternative
}

// StatusError is a non-2xx reply from the analytics service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analytics api error %d: %s", e.Code, e.Body)
}

// StatusCode lets the retry policy classify the reply
func (e *StatusError) StatusCode() int { return e.Code }

// Client calls the analytics service over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	policy  retry.Policy
	log     logrus.FieldLogger
}

// NewClient creates a Client for baseURL
func NewClient(baseURL string, timeout time.Duration, policy retry.Policy, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
		log:     log,
	}
}

type findResponse struct {
	Alternatives []json.RawMessage `json:"alternatives"`
}

// Find returns up to MaxResults alternatives, or an empty list on any failure
func (c *Client) Find(ctx context.Context, q Query) []Alternative {
	found, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]Alternative, error) {
		return c.find(ctx, q)
	})
	if err != nil {
		logger.LogError(c.log, "alternatives", "Find", "analytics lookup failed", q, err)
		return []Alternative{}
	}
	if len(found) > MaxResults {
		found = found[:MaxResults]
	}
	return found
}

func (c *Client) find(ctx context.Context, q Query) ([]Alternative, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/alternatives", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed findResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse alternatives: %w", err)
	}

	found := make([]Alternative, 0, len(parsed.Alternatives))
	for i, item := range parsed.Alternatives {
		var alt Alternative
		if err := json.Unmarshal(item, &alt); err != nil {
			c.log.WithFields(logrus.Fields{"index": i, "error": err.Error()}).Warn("skipping invalid alternative")
			continue
		}
		found = append(found, alt)
	}
	return found, nil
}

// Disabled is a Finder that never finds anything
type Disabled struct{}

// Find returns an empty list
func (Disabled) Find(context.Context, Query) []Alternative { return []Alternative{} }
