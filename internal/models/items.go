package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ItemType string

const (
	ItemSession                 ItemType = "session"
	ItemSessionExtension        ItemType = "session_extension"
	ItemLateSessionCancellation ItemType = "late_session_cancellation"
)

type ItemStatus string

const (
	ItemUnfulfilled ItemStatus = "unfulfilled"
	ItemFulfilled   ItemStatus = "fulfilled"
)

type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	Type       ItemType
	Status     ItemStatus
	TotalPrice Price
	Data       ItemData
}

// ItemData is the per-type payload of an order item. Exactly one
// concrete type exists per ItemType.
type ItemData interface {
	itemData()
}

type SessionItemData struct {
	SessionID       uuid.UUID `json:"sessionId"`
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

type SessionExtensionData struct {
	SessionID    uuid.UUID `json:"sessionId"`
	AddedMinutes int       `json:"addedMinutes"`
}

// LateCancellationData describes the synthetic fee item that replaces
// an order's line items on a late cancellation. ReplacedItems keeps a
// snapshot of the original items so the history of the order survives
// the re-pricing.
type LateCancellationData struct {
	SessionID      uuid.UUID      `json:"sessionId"`
	OriginalItemID uuid.UUID      `json:"originalItemId"`
	RefundAmount   Price          `json:"refundAmount"`
	ReplacedItems  []ItemSnapshot `json:"replacedItems"`
}

type ItemSnapshot struct {
	ItemID     uuid.UUID `json:"itemId"`
	Type       ItemType  `json:"type"`
	TotalPrice Price     `json:"totalPrice"`
}

func (SessionItemData) itemData()      {}
func (SessionExtensionData) itemData() {}
func (LateCancellationData) itemData() {}

// DecodeItemData unmarshals a stored payload into the concrete type
// for the item's type tag.
func DecodeItemData(t ItemType, raw []byte) (ItemData, error) {
	switch t {
	case ItemSession:
		var d SessionItemData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ItemSessionExtension:
		var d SessionExtensionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ItemLateSessionCancellation:
		var d LateCancellationData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown item type %q", t)
	}
}

// EncodeItemData marshals an item payload for storage and checks that
// the payload matches the item's type tag.
func EncodeItemData(t ItemType, data ItemData) ([]byte, error) {
	switch data.(type) {
	case SessionItemData:
		if t != ItemSession {
			return nil, fmt.Errorf("session payload on item type %q", t)
		}
	case SessionExtensionData:
		if t != ItemSessionExtension {
			return nil, fmt.Errorf("extension payload on item type %q", t)
		}
	case LateCancellationData:
		if t != ItemLateSessionCancellation {
			return nil, fmt.Errorf("late cancellation payload on item type %q", t)
		}
	default:
		return nil, fmt.Errorf("unknown item payload %T", data)
	}
	return json.Marshal(data)
}
