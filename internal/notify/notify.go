// Package notify enqueues notifications with the delivery service.
// Channel fan-out and template rendering happen on the other side of
// this interface.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePaymentFailed           Type = "payment_failed"
	TypePaymentCaptured         Type = "payment_captured"
	TypeSessionCancelledUnpaid  Type = "session_cancelled_unpaid"
	TypeSessionMissedByExpert   Type = "session_missed_by_expert"
	TypeExpertApologyPrompt     Type = "expert_apology_prompt"
	TypeSessionMissedByConsumer Type = "session_missed_by_consumer"
)

type Notification struct {
	TargetUser     uuid.UUID      `json:"targetUser"`
	Type           Type           `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	ReferencedUser *uuid.UUID     `json:"referencedUser,omitempty"`
}

type Service interface {
	Enqueue(ctx context.Context, n Notification) error
}

type HTTPService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPService) Enqueue(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/notifications", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("notify http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("notify http status %d", resp.StatusCode)
	}
	return nil
}
