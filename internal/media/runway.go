// Package media wraps third-party media generation APIs.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autocall/internal/fallback"
	"autocall/internal/json"
)

// RunwayOptions describe where and how to reach the Runway API.
type RunwayOptions struct {
	BaseURL       string
	APIKey        string
	Endpoints     []string
	VersionHeader string
	// Versions are tried in order for every endpoint. An empty string means
	// "send no version header".
	Versions []string
	Timeout  time.Duration
}

// DefaultRunwayOptions mirror the public API layout.
func DefaultRunwayOptions() RunwayOptions {
	return RunwayOptions{
		BaseURL:       "https://api.runwayml.com",
		Endpoints:     []string{"/v1/image_to_video", "/v1/image-to-video", "/v1/generations"},
		VersionHeader: "X-Runway-Version",
		Versions:      []string{"2024-11-06", ""},
		Timeout:       fallback.DefaultAttemptTimeout,
	}
}

// ImageToVideoRequest is the generation payload.
type ImageToVideoRequest struct {
	PromptImage    string `json:"promptImage"`
	PromptText     string `json:"promptText,omitempty"`
	Model          string `json:"model,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Ratio          string `json:"ratio,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// Video is a generated clip.
type Video struct {
	URL      string `json:"url"`
	Endpoint string `json:"endpoint"`
	Variant  string `json:"variant"`
}

// Runway generates videos through whichever endpoint and version currently answers.
type Runway struct {
	client *fallback.Client
	logger *slog.Logger
}

// NewRunway builds the endpoint × version matrix for opts.
func NewRunway(opts RunwayOptions, logger *slog.Logger) (*Runway, error) {
	if opts.APIKey == "" {
		return nil, errors.New("runway api key is empty")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	endpoints := make([]fallback.Endpoint, 0, len(opts.Endpoints))
	for _, ep := range opts.Endpoints {
		url := ep
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			url = base + "/" + strings.TrimLeft(ep, "/")
		}
		endpoints = append(endpoints, fallback.Endpoint{Name: ep, URL: url})
	}
	variants := make([]fallback.Variant, 0, len(opts.Versions))
	for _, v := range opts.Versions {
		if v == "" || opts.VersionHeader == "" {
			variants = append(variants, fallback.Variant{Name: "no-version"})
			continue
		}
		variants = append(variants, fallback.Variant{
			Name:   v,
			Header: http.Header{http.CanonicalHeaderKey(opts.VersionHeader): {v}},
		})
	}
	client, err := fallback.New(fallback.Options{
		Name:            "runway",
		Endpoints:       endpoints,
		Variants:        variants,
		BaseHeader:      http.Header{"Authorization": {"Bearer " + opts.APIKey}},
		Timeout:         opts.Timeout,
		Validate:        validateVideoPayload,
		RememberSuccess: true,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return &Runway{client: client, logger: logger}, nil
}

// ImageToVideo submits req and returns the URL of the generated clip.
func (r *Runway) ImageToVideo(ctx context.Context, req ImageToVideoRequest) (*Video, error) {
	if strings.TrimSpace(req.PromptImage) == "" {
		return nil, errors.New("promptImage is required")
	}
	resp, err := r.client.PostJSON(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("runway image to video: %w", err)
	}
	url, err := videoURL(resp.Body)
	if err != nil {
		return nil, err
	}
	r.logger.Info("runway video generated", "endpoint", resp.Endpoint, "variant", resp.Variant)
	return &Video{URL: url, Endpoint: resp.Endpoint, Variant: resp.Variant}, nil
}

func validateVideoPayload(body []byte) error {
	_, err := videoURL(body)
	return err
}

// videoURL picks the first non-empty of url, output and video. output may be a
// list of URLs.
func videoURL(body []byte) (string, error) {
	var payload struct {
		URL    json.RawMessage `json:"url"`
		Output json.RawMessage `json:"output"`
		Video  json.RawMessage `json:"video"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, raw := range []json.RawMessage{payload.URL, payload.Output, payload.Video} {
		if u := firstString(raw); u != "" {
			return u, nil
		}
	}
	return "", errors.New("response missing video url")
}

func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}
	return ""
}
