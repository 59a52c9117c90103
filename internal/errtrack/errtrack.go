// Package errtrack reports batch failures to the error-tracking
// collaborator.
package errtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

type Reporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
}

type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPReporter(baseURL string) *HTTPReporter {
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Capture is best-effort: a failed report is logged, never returned,
// so it cannot displace the error being reported.
func (r *HTTPReporter) Capture(ctx context.Context, capturedErr error, tags map[string]string) {
	payload := map[string]any{
		"message": capturedErr.Error(),
		"tags":    tags,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("errtrack marshal failed: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/events", bytes.NewReader(data))
	if err != nil {
		log.Printf("errtrack request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("errtrack send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("errtrack http status %d", resp.StatusCode)
	}
}

// LogReporter is the fallback when no tracker is configured.
type LogReporter struct{}

func (LogReporter) Capture(_ context.Context, err error, tags map[string]string) {
	log.Printf("error captured: %v tags=%v", err, tags)
}
