package scheduler

import (
	"context"
	"fmt"
	"log"

	"expertmarket/internal/models"
	"expertmarket/internal/notify"
	"expertmarket/internal/store"
)

// RunAuthorizerOnce holds funds for completed orders whose session
// starts inside the authorization window.
func (s *Scheduler) RunAuthorizerOnce(ctx context.Context) error {
	horizon := s.now().Add(s.AuthWindow)
	page, err := s.Store.AuthorizationCandidates(ctx, s.pageRequest("o.order_number"), horizon)
	if err != nil {
		return fmt.Errorf("authorization candidates: %w", err)
	}

	ok, failed := processAll(ctx, "authorizer", page.Docs, s.Reporter, orderRefID, s.authorizeOne)
	log.Printf("authorizer done candidates=%d ok=%d failed=%d", len(page.Docs), ok, failed)
	return nil
}

func (s *Scheduler) authorizeOne(ctx context.Context, c store.OrderRef) error {
	order, err := s.Store.GetOrder(ctx, c.OrderID)
	if err != nil {
		return err
	}
	// A previous run may have already handled this order.
	if order.PaymentStatus != models.PaymentNotStarted {
		return nil
	}
	sess, err := s.Store.GetSession(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if sess.Status == models.SessionCancelled {
		return nil
	}

	if err := s.Settlement.HoldOrderFunds(ctx, order); err != nil {
		if markErr := s.Store.MarkAuthorizationFailed(ctx, order.ID, s.now()); markErr != nil {
			return fmt.Errorf("hold failed (%v) and recording the failure failed: %w", err, markErr)
		}
		if notifyErr := s.Notifier.Enqueue(ctx, notify.Notification{
			TargetUser: order.ConsumerID,
			Type:       notify.TypePaymentFailed,
			Payload:    map[string]any{"orderNumber": order.OrderNumber},
		}); notifyErr != nil {
			log.Printf("authorizer notify failed order=%d: %v", order.OrderNumber, notifyErr)
		}
		return fmt.Errorf("hold order %d: %w", order.OrderNumber, err)
	}
	return nil
}
