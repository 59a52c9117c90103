package scheduler

import (
	"context"
	"fmt"
	"log"

	"expertmarket/internal/notify"
	"expertmarket/internal/store"
)

// RunCancellerOnce reaps orders whose authorization failed longer ago
// than the auto-cancel window: the session and order are cancelled and
// both parties are told.
func (s *Scheduler) RunCancellerOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.AutoCancelWindow)
	page, err := s.Store.AutoCancelCandidates(ctx, s.pageRequest("o.order_number"), cutoff)
	if err != nil {
		return fmt.Errorf("auto-cancel candidates: %w", err)
	}

	ok, failed := processAll(ctx, "canceller", page.Docs, s.Reporter, orderRefID, s.cancelOne)
	log.Printf("canceller done candidates=%d ok=%d failed=%d", len(page.Docs), ok, failed)
	return nil
}

func (s *Scheduler) cancelOne(ctx context.Context, c store.OrderRef) error {
	order, err := s.Store.GetOrder(ctx, c.OrderID)
	if err != nil {
		return err
	}

	if err := s.Store.CancelSession(ctx, c.SessionID); err != nil {
		return fmt.Errorf("cancel session %s: %w", c.SessionID, err)
	}
	if err := s.Store.CancelOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("cancel order %d: %w", order.OrderNumber, err)
	}

	payload := map[string]any{"orderNumber": order.OrderNumber}
	notifications := []notify.Notification{
		{TargetUser: order.ConsumerID, Type: notify.TypeSessionCancelledUnpaid, Payload: payload},
		{TargetUser: order.ExpertID, Type: notify.TypeSessionCancelledUnpaid, Payload: payload, ReferencedUser: &order.ConsumerID},
	}
	for _, n := range notifications {
		if err := s.Notifier.Enqueue(ctx, n); err != nil {
			log.Printf("canceller notify failed order=%d: %v", order.OrderNumber, err)
		}
	}
	return nil
}
