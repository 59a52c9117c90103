package scheduler

import (
	"context"
	"log"
	"time"

	"expertmarket/internal/models"
	"expertmarket/internal/presence"
)

// RunCheckInFeed keeps a subscription to the presence feed open and
// records every participant check-in, reconnecting with a short pause
// on any failure.
func (s *Scheduler) RunCheckInFeed(ctx context.Context) {
	if s.PresenceEndpoint == "" {
		log.Printf("check-in feed disabled: presence endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := presence.NewClient(s.PresenceEndpoint)
		if err := client.Connect(ctx); err != nil {
			log.Printf("presence connect failed: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}
		log.Printf("presence connected %s", s.PresenceEndpoint)

		if err := client.Subscribe(ctx); err != nil {
			log.Printf("presence subscribe failed: %v", err)
			client.Close()
			time.Sleep(3 * time.Second)
			continue
		}

		for {
			msg, err := client.Read(ctx)
			if err != nil {
				log.Printf("presence read failed: %v", err)
				client.Close()
				break
			}

			event, ok, err := presence.ParseCheckIn(msg)
			if err != nil {
				log.Printf("presence parse failed: %v", err)
				continue
			}
			if !ok {
				continue
			}

			rec := &models.AttendanceRecord{
				SessionID: event.SessionID,
				UserID:    event.UserID,
				Role:      event.Role,
				JoinedAt:  event.JoinedAt,
			}
			if err := s.Store.RecordCheckIn(ctx, rec); err != nil {
				log.Printf("record check-in failed session=%s user=%s: %v",
					event.SessionID, event.UserID, err)
			}
		}

		time.Sleep(2 * time.Second)
	}
}
