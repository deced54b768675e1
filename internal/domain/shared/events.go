// Package shared contains common domain types, errors, and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Ledger event types. Each one is published after the corresponding
// store transaction has committed.
const (
	EventPurchaseCompleted EventType = "ledger.purchase_completed"
	EventRewardRecorded    EventType = "ledger.reward_recorded"
	EventGroupDeactivated  EventType = "ledger.group_deactivated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// PurchaseCompletedEvent is emitted after a shop purchase commits.
type PurchaseCompletedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	StudentID     string `json:"student_id"`
	GroupID       string `json:"group_id,omitempty"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Amount        int64  `json:"amount"`
	NewBalance    int64  `json:"new_balance"`
	NewStock      int64  `json:"new_stock"`
}

// Payload implements Event interface.
func (e PurchaseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"student_id":     e.StudentID,
		"group_id":       e.GroupID,
		"product_id":     e.ProductID,
		"quantity":       e.Quantity,
		"amount":         e.Amount,
		"new_balance":    e.NewBalance,
		"new_stock":      e.NewStock,
	}
}

// NewPurchaseCompletedEvent creates a new PurchaseCompletedEvent.
func NewPurchaseCompletedEvent(txID, studentID, groupID, productID string, quantity int, amount, newBalance, newStock int64) PurchaseCompletedEvent {
	return PurchaseCompletedEvent{
		BaseEvent:     NewBaseEvent(EventPurchaseCompleted, studentID),
		TransactionID: txID,
		StudentID:     studentID,
		GroupID:       groupID,
		ProductID:     productID,
		Quantity:      quantity,
		Amount:        amount,
		NewBalance:    newBalance,
		NewStock:      newStock,
	}
}

// RewardRecordedEvent is emitted after an activity reward is credited.
type RewardRecordedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	StudentID     string `json:"student_id"`
	GroupID       string `json:"group_id,omitempty"`
	ActivityID    string `json:"activity_id"`
	Amount        int64  `json:"amount"`
	NewBalance    int64  `json:"new_balance"`
}

// Payload implements Event interface.
func (e RewardRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"student_id":     e.StudentID,
		"group_id":       e.GroupID,
		"activity_id":    e.ActivityID,
		"amount":         e.Amount,
		"new_balance":    e.NewBalance,
	}
}

// NewRewardRecordedEvent creates a new RewardRecordedEvent.
func NewRewardRecordedEvent(txID, studentID, groupID, activityID string, amount, newBalance int64) RewardRecordedEvent {
	return RewardRecordedEvent{
		BaseEvent:     NewBaseEvent(EventRewardRecorded, studentID),
		TransactionID: txID,
		StudentID:     studentID,
		GroupID:       groupID,
		ActivityID:    activityID,
		Amount:        amount,
		NewBalance:    newBalance,
	}
}

// GroupDeactivatedEvent is emitted after a group and its roster were reset.
type GroupDeactivatedEvent struct {
	BaseEvent
	GroupID       string    `json:"group_id"`
	MemberIDs     []string  `json:"member_ids"`
	DeactivatedAt time.Time `json:"deactivated_at"`
	Reconciled    bool      `json:"reconciled"`
}

// Payload implements Event interface.
func (e GroupDeactivatedEvent) Payload() map[string]interface{} {
	members := make([]interface{}, len(e.MemberIDs))
	for i, id := range e.MemberIDs {
		members[i] = id
	}
	return map[string]interface{}{
		"group_id":       e.GroupID,
		"member_ids":     members,
		"deactivated_at": e.DeactivatedAt.Format(time.RFC3339Nano),
		"reconciled":     e.Reconciled,
	}
}

// NewGroupDeactivatedEvent creates a new GroupDeactivatedEvent.
func NewGroupDeactivatedEvent(groupID string, memberIDs []string, at time.Time, reconciled bool) GroupDeactivatedEvent {
	return GroupDeactivatedEvent{
		BaseEvent:     NewBaseEvent(EventGroupDeactivated, groupID),
		GroupID:       groupID,
		MemberIDs:     memberIDs,
		DeactivatedAt: at,
		Reconciled:    reconciled,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
