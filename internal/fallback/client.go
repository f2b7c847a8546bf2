// Package fallback posts a request to a list of endpoint and header variants
// until one of them answers with an acceptable payload.
package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"autocall/internal/json"
	"autocall/internal/metrics"
)

const (
	// DefaultAttemptTimeout bounds each individual attempt.
	DefaultAttemptTimeout = 2 * time.Minute
	// maxSampledFailures caps how many failures an AggregateError prints.
	maxSampledFailures = 3
	maxBodyBytes       = 1 << 20
	maxMessageLen      = 200
)

// Endpoint is a candidate URL.
type Endpoint struct {
	Name string
	URL  string
}

// Variant is a set of headers applied on top of the client's base headers.
// An empty Header is a valid variant.
type Variant struct {
	Name   string
	Header http.Header
}

// Validator inspects a 2xx response body and rejects unexpected shapes.
type Validator func(body []byte) error

// Options configure a Client.
type Options struct {
	Name       string
	Endpoints  []Endpoint
	Variants   []Variant
	BaseHeader http.Header
	Timeout    time.Duration
	Validate   Validator
	// RememberSuccess makes the last successful combination the first one tried
	// on the next call.
	RememberSuccess bool
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Failure records one unsuccessful attempt.
type Failure struct {
	Endpoint string
	Variant  string
	Status   int
	Message  string
}

func (f Failure) String() string {
	if f.Status > 0 {
		return fmt.Sprintf("%s/%s: status %d: %s", f.Endpoint, f.Variant, f.Status, f.Message)
	}
	return fmt.Sprintf("%s/%s: %s", f.Endpoint, f.Variant, f.Message)
}

// AggregateError is returned when every combination failed.
type AggregateError struct {
	Failures []Failure
}

func (e *AggregateError) Error() string {
	sample := e.Failures
	if len(sample) > maxSampledFailures {
		sample = sample[:maxSampledFailures]
	}
	parts := make([]string, len(sample))
	for i, f := range sample {
		parts[i] = f.String()
	}
	msg := fmt.Sprintf("all %d attempts failed: %s", len(e.Failures), strings.Join(parts, "; "))
	if extra := len(e.Failures) - len(sample); extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	return msg
}

// Response is the first acceptable answer.
type Response struct {
	Endpoint string
	Variant  string
	Status   int
	Body     []byte
}

type combination struct {
	endpoint int
	variant  int
}

// Client tries endpoint × variant combinations in row-major order.
type Client struct {
	name       string
	endpoints  []Endpoint
	variants   []Variant
	baseHeader http.Header
	timeout    time.Duration
	validate   Validator
	remember   bool
	http       *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	last *combination
}

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("fallback: at least one endpoint is required")
	}
	if len(opts.Variants) == 0 {
		opts.Variants = []Variant{{Name: "default"}}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAttemptTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "fallback"
	}
	return &Client{
		name:       opts.Name,
		endpoints:  opts.Endpoints,
		variants:   opts.Variants,
		baseHeader: opts.BaseHeader,
		timeout:    opts.Timeout,
		validate:   opts.Validate,
		remember:   opts.RememberSuccess,
		http:       opts.HTTPClient,
		logger:     opts.Logger,
	}, nil
}

// PostJSON encodes payload and posts it to each combination until one succeeds.
func (c *Client) PostJSON(ctx context.Context, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var failures []Failure
	for _, combo := range c.order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoint := c.endpoints[combo.endpoint]
		variant := c.variants[combo.variant]
		resp, failure := c.attempt(ctx, endpoint, variant, body)
		if failure != nil {
			metrics.FallbackAttempts.WithLabelValues(c.name, "failure").Inc()
			c.logger.Debug("fallback attempt failed", "client", c.name, "endpoint", endpoint.Name,
				"variant", variant.Name, "status", failure.Status, "err", failure.Message)
			failures = append(failures, *failure)
			continue
		}
		metrics.FallbackAttempts.WithLabelValues(c.name, "success").Inc()
		if c.remember {
			c.mu.Lock()
			c.last = &combination{endpoint: combo.endpoint, variant: combo.variant}
			c.mu.Unlock()
		}
		c.logger.Info("fallback attempt succeeded", "client", c.name, "endpoint", endpoint.Name,
			"variant", variant.Name, "failed_before", len(failures))
		return resp, nil
	}
	return nil, &AggregateError{Failures: failures}
}

// order lists every combination, endpoint-major, with the remembered success first.
func (c *Client) order() []combination {
	out := make([]combination, 0, len(c.endpoints)*len(c.variants))
	var first *combination
	if c.remember {
		c.mu.Lock()
		if c.last != nil {
			last := *c.last
			first = &last
		}
		c.mu.Unlock()
	}
	if first != nil {
		out = append(out, *first)
	}
	for e := range c.endpoints {
		for v := range c.variants {
			if first != nil && first.endpoint == e && first.variant == v {
				continue
			}
			out = append(out, combination{endpoint: e, variant: v})
		}
	}
	return out
}

// truncateMessage cuts msg to at most limit bytes on a rune boundary.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}

func (c *Client) attempt(ctx context.Context, endpoint Endpoint, variant Variant, body []byte) (*Response, *Failure) {
	fail := func(status int, msg string) *Failure {
		return &Failure{Endpoint: endpoint.Name, Variant: variant.Name, Status: status, Message: truncateMessage(msg, maxMessageLen)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fail(0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vals := range c.baseHeader {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	for k, vals := range variant.Header {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, err.Error())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(resp.StatusCode, "read body: "+err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if c.validate != nil {
		if err := c.validate(data); err != nil {
			return nil, fail(resp.StatusCode, "unexpected payload: "+err.Error())
		}
	}
	return &Response{Endpoint: endpoint.Name, Variant: variant.Name, Status: resp.StatusCode, Body: data}, nil
}
