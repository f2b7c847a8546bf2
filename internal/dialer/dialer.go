// Package dialer places outbound calls for the call executor.
package dialer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autocall/internal/core"
	"autocall/internal/json"
)

// HTTPDialer posts call requests to a telephony webhook.
type HTTPDialer struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPDialer returns a dialer for url. token, when set, is sent as a bearer token.
func NewHTTPDialer(url, token string, timeout time.Duration) (*HTTPDialer, error) {
	if url == "" {
		return nil, errors.New("dialer url is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDialer{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type dialRequest struct {
	AgentID     string `json:"agent_id"`
	LeadID      string `json:"lead_id"`
	PhoneNumber string `json:"phone_number"`
}

type dialResponse struct {
	SID   string `json:"sid"`
	Error string `json:"error"`
}

func (d *HTTPDialer) Dial(ctx context.Context, req core.CallRequest) (string, error) {
	payload, err := json.Marshal(dialRequest{AgentID: req.AgentID, LeadID: req.LeadID, PhoneNumber: req.PhoneNumber})
	if err != nil {
		return "", fmt.Errorf("encode dial request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create dial request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send dial request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out dialResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("dialer returned status %d: %s", resp.StatusCode, msg)
	}
	if out.SID == "" {
		return "", errors.New("dialer response missing sid")
	}
	return out.SID, nil
}

// LogDialer only logs the calls it would place.
type LogDialer struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLogDialer(logger *slog.Logger) *LogDialer {
	return &LogDialer{logger: logger, now: time.Now}
}

func (d *LogDialer) Dial(_ context.Context, req core.CallRequest) (string, error) {
	sid := fmt.Sprintf("dry-%s-%d", req.LeadID, d.now().UnixNano())
	d.logger.Info("dry-run call", "agent_id", req.AgentID, "lead_id", req.LeadID, "call_sid", sid)
	return sid, nil
}
