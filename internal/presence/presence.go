// Package presence consumes the video provider's participant feed.
// Check-ins arriving here are what the attendance analyzer later reads.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Client struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *Client) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *Client) Subscribe(ctx context.Context) error {
	payload := map[string]any{
		"type":   "subscribe",
		"topics": []string{"session.participant"},
	}
	return c.Conn.WriteJSON(payload)
}

func (c *Client) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// CheckInEvent is one participant joining a session room.
type CheckInEvent struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      models.AttendeeRole
	JoinedAt  time.Time
}

// ParseCheckIn decodes a feed message. The bool is false for messages
// that are not participant-joined events (acks, heartbeats, leaves).
func ParseCheckIn(msg []byte) (*CheckInEvent, bool, error) {
	var env struct {
		Type  string `json:"type"`
		Error string `json:"error"`
		Event struct {
			SessionID string `json:"sessionId"`
			UserID    string `json:"userId"`
			Role      string `json:"role"`
			JoinedAt  string `json:"joinedAt"`
		} `json:"event"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != "" {
		return nil, false, errors.New(env.Error)
	}
	if env.Type != "participant.joined" {
		return nil, false, nil
	}

	sessionID, err := uuid.Parse(env.Event.SessionID)
	if err != nil {
		return nil, false, err
	}
	userID, err := uuid.Parse(env.Event.UserID)
	if err != nil {
		return nil, false, err
	}
	role := models.AttendeeRole(env.Event.Role)
	if role != models.RoleExpert && role != models.RoleConsumer {
		return nil, false, errors.New("unknown participant role " + env.Event.Role)
	}

	joinedAt, err := time.Parse(time.RFC3339, env.Event.JoinedAt)
	if err != nil {
		joinedAt = time.Now().UTC()
	}

	return &CheckInEvent{
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  joinedAt,
	}, true, nil
}
