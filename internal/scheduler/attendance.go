package scheduler

import (
	"context"
	"fmt"
	"log"

	"expertmarket/internal/models"
	"expertmarket/internal/notify"
	"expertmarket/internal/store"
)

// RunAttendanceOnce derives an attendance outcome for every finished
// session that does not have one yet, and notifies whichever party was
// let down.
func (s *Scheduler) RunAttendanceOnce(ctx context.Context) error {
	page, err := s.Store.AttendanceCandidates(ctx, s.pageRequest("s.starts_at"), s.now())
	if err != nil {
		return fmt.Errorf("attendance candidates: %w", err)
	}

	ok, failed := processAll(ctx, "attendance", page.Docs, s.Reporter, sessionRefID, s.analyzeOne)
	log.Printf("attendance done candidates=%d ok=%d failed=%d", len(page.Docs), ok, failed)
	return nil
}

func (s *Scheduler) analyzeOne(ctx context.Context, c store.SessionRef) error {
	sess, err := s.Store.GetSession(ctx, c.SessionID)
	if err != nil {
		return err
	}
	// Set once, never recomputed.
	if sess.AttendanceResult != nil {
		return nil
	}

	records, err := s.Store.ListCheckIns(ctx, sess.ID)
	if err != nil {
		return err
	}
	var expertPresent, consumerPresent bool
	for _, rec := range records {
		switch rec.Role {
		case models.RoleExpert:
			expertPresent = true
		case models.RoleConsumer:
			consumerPresent = true
		}
	}

	result := DeriveAttendance(expertPresent, consumerPresent)
	if err := s.Store.SetAttendanceResult(ctx, sess.ID, result); err != nil {
		return fmt.Errorf("set attendance for session %s: %w", sess.ID, err)
	}

	for _, n := range missedSessionNotifications(sess, result) {
		if err := s.Notifier.Enqueue(ctx, n); err != nil {
			log.Printf("attendance notify failed session=%s: %v", sess.ID, err)
		}
	}
	return nil
}

// DeriveAttendance maps the two presence flags onto the four outcomes.
func DeriveAttendance(expertPresent, consumerPresent bool) models.AttendanceResult {
	switch {
	case expertPresent && consumerPresent:
		return models.AllPresent
	case expertPresent:
		return models.NoShowConsumer
	case consumerPresent:
		return models.NoShowExpert
	default:
		return models.NoneShowed
	}
}

// missedSessionNotifications builds the follow-ups for an outcome. An
// absent expert means the consumer hears about it and the expert gets
// an apology prompt; an absent consumer is told only to the consumer.
func missedSessionNotifications(sess *models.Session, result models.AttendanceResult) []notify.Notification {
	payload := map[string]any{"sessionId": sess.ID.String()}
	var out []notify.Notification
	if result == models.NoShowExpert || result == models.NoneShowed {
		out = append(out,
			notify.Notification{
				TargetUser:     sess.ConsumerID,
				Type:           notify.TypeSessionMissedByExpert,
				Payload:        payload,
				ReferencedUser: &sess.ExpertID,
			},
			notify.Notification{
				TargetUser:     sess.ExpertID,
				Type:           notify.TypeExpertApologyPrompt,
				Payload:        payload,
				ReferencedUser: &sess.ConsumerID,
			},
		)
	}
	if result == models.NoShowConsumer || result == models.NoneShowed {
		out = append(out, notify.Notification{
			TargetUser: sess.ConsumerID,
			Type:       notify.TypeSessionMissedByConsumer,
			Payload:    payload,
		})
	}
	return out
}
