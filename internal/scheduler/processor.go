package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"expertmarket/internal/models"
	"expertmarket/internal/notify"
	"expertmarket/internal/store"
)

// RunProcessorOnce captures funds for held top-level orders whose
// session had full attendance. Each member of [parent, subOrders...]
// is captured independently; one member's failure never blocks the
// others, because each capture is its own monetary fact.
func (s *Scheduler) RunProcessorOnce(ctx context.Context) error {
	page, err := s.Store.CaptureCandidates(ctx, s.pageRequest("o.order_number"))
	if err != nil {
		return fmt.Errorf("capture candidates: %w", err)
	}

	ok, failed := processAll(ctx, "processor", page.Docs, s.Reporter, orderRefID, s.captureOne)
	log.Printf("processor done candidates=%d ok=%d failed=%d", len(page.Docs), ok, failed)
	return nil
}

func (s *Scheduler) captureOne(ctx context.Context, c store.OrderRef) error {
	parent, err := s.Store.GetOrder(ctx, c.OrderID)
	if err != nil {
		return err
	}
	subOrders, err := s.Store.ListSubOrders(ctx, parent.ID)
	if err != nil {
		return err
	}

	members := append([]*models.Order{parent}, subOrders...)
	var errs []error
	for _, member := range members {
		if member.PaymentStatus == models.PaymentCaptured {
			continue
		}
		if err := s.Settlement.CaptureOrderFunds(ctx, member); err != nil {
			errs = append(errs, fmt.Errorf("capture order %d: %w", member.OrderNumber, err))
			continue
		}
		if err := s.Notifier.Enqueue(ctx, notify.Notification{
			TargetUser: member.ConsumerID,
			Type:       notify.TypePaymentCaptured,
			Payload:    map[string]any{"orderNumber": member.OrderNumber},
		}); err != nil {
			log.Printf("processor notify failed order=%d: %v", member.OrderNumber, err)
		}
	}
	return errors.Join(errs...)
}
