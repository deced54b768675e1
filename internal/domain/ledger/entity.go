// Package ledger contains the domain model of the Turing economy:
// students, products, groups, activities and the append-only transaction log.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package ledger

import (
	"math"
	"slices"
	"time"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Turings is an amount of the classroom currency.
type Turings = int64

// Version is the optimistic concurrency stamp of a mutable record.
// The store bumps it on every committed write.
type Version int64

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCT
// ══════════════════════════════════════════════════════════════════════════════

// Product is an item sold in the group shop.
type Product struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Price   Turings `json:"price"`
	Stock   int64   `json:"stock"`
	Version Version `json:"version"`
}

// Validate checks the product invariants.
func (p *Product) Validate() error {
	if p.ID == "" {
		return shared.NewDomainError("product", "Validate", shared.ErrInvalidID, "product id is required")
	}
	if p.Price < 0 {
		return shared.NewDomainError("product", "Validate", shared.ErrNegativeValue, "price cannot be negative")
	}
	if p.Stock < 0 {
		return shared.NewDomainError("product", "Validate", shared.ErrNegativeValue, "stock cannot be negative")
	}
	return nil
}

// TotalPrice returns price*quantity, refusing quantities that would overflow.
func (p *Product) TotalPrice(quantity int) (Turings, error) {
	if quantity <= 0 {
		return 0, shared.ErrInvalidQuantity
	}
	if p.Price > 0 && int64(quantity) > math.MaxInt64/p.Price {
		return 0, shared.NewDomainError("product", "TotalPrice", shared.ErrValueOutOfRange, "order total overflows")
	}
	return p.Price * int64(quantity), nil
}

// Reserve takes quantity units out of stock.
func (p *Product) Reserve(quantity int) error {
	if quantity <= 0 {
		return shared.ErrInvalidQuantity
	}
	if p.Stock < int64(quantity) {
		return shared.ErrInsufficientStock
	}
	p.Stock -= int64(quantity)
	return nil
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	c := *p
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student is the account holder of the economy.
type Student struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name,omitempty"`
	GroupID     string  `json:"group_id,omitempty"` // empty when not enrolled
	Balance     Turings `json:"balance"`

	// CompletedActivities is append-only; order is completion order.
	CompletedActivities []string `json:"completed_activities"`

	Version Version `json:"version"`
}

// Validate checks the student invariants.
func (s *Student) Validate() error {
	if s.ID == "" {
		return shared.NewDomainError("student", "Validate", shared.ErrInvalidID, "student id is required")
	}
	if s.Balance < 0 {
		return shared.NewDomainError("student", "Validate", shared.ErrNegativeValue, "balance cannot be negative")
	}
	return nil
}

// HasGroup reports whether the student is enrolled in a group.
func (s *Student) HasGroup() bool {
	return s.GroupID != ""
}

// Debit removes amount from the balance. The balance never goes negative.
func (s *Student) Debit(amount Turings) error {
	if amount < 0 {
		return shared.ErrInvalidAmount
	}
	if s.Balance < amount {
		return shared.ErrInsufficientBalance
	}
	s.Balance -= amount
	return nil
}

// Credit adds amount to the balance.
func (s *Student) Credit(amount Turings) error {
	if amount < 0 {
		return shared.ErrInvalidAmount
	}
	if s.Balance > math.MaxInt64-amount {
		return shared.NewDomainError("student", "Credit", shared.ErrValueOutOfRange, "balance overflows")
	}
	s.Balance += amount
	return nil
}

// HasCompleted reports whether the activity is in the completed set.
func (s *Student) HasCompleted(activityID string) bool {
	return slices.Contains(s.CompletedActivities, activityID)
}

// MarkCompleted appends the activity to the completed set if it is not there yet.
func (s *Student) MarkCompleted(activityID string) {
	if s.HasCompleted(activityID) {
		return
	}
	s.CompletedActivities = append(s.CompletedActivities, activityID)
}

// ResetForDeactivation clears membership and balance. Used only by group deactivation.
func (s *Student) ResetForDeactivation() {
	s.GroupID = ""
	s.Balance = 0
}

// Clone returns a deep copy.
func (s *Student) Clone() *Student {
	c := *s
	c.CompletedActivities = slices.Clone(s.CompletedActivities)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP
// ══════════════════════════════════════════════════════════════════════════════

// Group is a class roster sharing activities and a shop.
type Group struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Roster        []string   `json:"roster"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	Version       Version    `json:"version"`
}

// Validate checks the group invariants.
func (g *Group) Validate() error {
	if g.ID == "" {
		return shared.NewDomainError("group", "Validate", shared.ErrInvalidID, "group id is required")
	}
	if g.Active && g.DeactivatedAt != nil {
		return shared.NewDomainError("group", "Validate", shared.ErrInvalidState, "active group cannot have a deactivation time")
	}
	return nil
}

// Deactivate performs the terminal active -> inactive transition.
func (g *Group) Deactivate(at time.Time) error {
	if !g.Active {
		return shared.ErrAlreadyInactive
	}
	at = at.UTC()
	g.Active = false
	g.DeactivatedAt = &at
	return nil
}

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	c := *g
	c.Roster = slices.Clone(g.Roster)
	if g.DeactivatedAt != nil {
		t := *g.DeactivatedAt
		c.DeactivatedAt = &t
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// ActivityStatus defines whether an activity can still be completed.
type ActivityStatus string

const (
	ActivityActive   ActivityStatus = "active"
	ActivityInactive ActivityStatus = "inactive"
)

// IsValid reports whether the status is known.
func (s ActivityStatus) IsValid() bool {
	return s == ActivityActive || s == ActivityInactive
}

// Activity is an instructor-defined task that pays a fixed reward.
// Read-only from the ledger's point of view.
type Activity struct {
	ID      string         `json:"id"`
	GroupID string         `json:"group_id"`
	Name    string         `json:"name,omitempty"`
	Reward  Turings        `json:"reward"`
	Status  ActivityStatus `json:"status"`
}

// Validate checks the activity invariants.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidID, "activity id is required")
	}
	if a.Reward < 0 {
		return shared.NewDomainError("activity", "Validate", shared.ErrNegativeValue, "reward cannot be negative")
	}
	if !a.Status.IsValid() {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "unknown activity status")
	}
	return nil
}

// IsActive reports whether the activity can still pay out.
func (a *Activity) IsActive() bool {
	return a.Status == ActivityActive
}

// Clone returns a copy.
func (a *Activity) Clone() *Activity {
	c := *a
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Kind is the business reason of a ledger transaction.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindReward   Kind = "reward"
	// KindAdjustment zeroes a balance at group deactivation when reconciliation is on.
	KindAdjustment Kind = "adjustment"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindPurchase, KindReward, KindAdjustment:
		return true
	default:
		return false
	}
}

// Status of a transaction record.
type Status string

const (
	StatusCompleted Status = "completed"
)

// Transaction is one immutable entry of the ledger.
type Transaction struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	StudentID  string            `json:"student_id"`
	GroupID    string            `json:"group_id,omitempty"`
	Amount     Turings           `json:"amount"`
	ProductID  string            `json:"product_id,omitempty"`
	ActivityID string            `json:"activity_id,omitempty"`
	Quantity   int               `json:"quantity,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate checks the sign convention of the amount against the kind.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return shared.NewDomainError("transaction", "Validate", shared.ErrInvalidID, "transaction id is required")
	}
	if t.StudentID == "" {
		return shared.NewDomainError("transaction", "Validate", shared.ErrInvalidID, "student id is required")
	}
	switch t.Kind {
	case KindPurchase:
		if t.Amount > 0 || t.ProductID == "" {
			return shared.NewDomainError("transaction", "Validate", shared.ErrInvalidInput, "purchase must be non-positive and reference a product")
		}
	case KindReward:
		if t.Amount < 0 || t.ActivityID == "" {
			return shared.NewDomainError("transaction", "Validate", shared.ErrInvalidInput, "reward must be non-negative and reference an activity")
		}
	case KindAdjustment:
	default:
		return shared.NewDomainError("transaction", "Validate", shared.ErrInvalidInput, "unknown transaction kind")
	}
	return nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// NewPurchase builds the purchase entry for quantity units of product.
func NewPurchase(id string, s *Student, p *Product, quantity int, total Turings, at time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		Kind:      KindPurchase,
		StudentID: s.ID,
		GroupID:   s.GroupID,
		Amount:    -total,
		ProductID: p.ID,
		Quantity:  quantity,
		Status:    StatusCompleted,
		CreatedAt: at.UTC(),
	}
}

// NewReward builds the reward entry for a completed activity.
func NewReward(id string, s *Student, activityID string, amount Turings, metadata map[string]string, at time.Time) *Transaction {
	return &Transaction{
		ID:         id,
		Kind:       KindReward,
		StudentID:  s.ID,
		GroupID:    s.GroupID,
		Amount:     amount,
		ActivityID: activityID,
		Metadata:   metadata,
		Status:     StatusCompleted,
		CreatedAt:  at.UTC(),
	}
}

// NewAdjustment builds the entry that zeroes a balance under groupID.
func NewAdjustment(id string, s *Student, groupID string, at time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		Kind:      KindAdjustment,
		StudentID: s.ID,
		GroupID:   groupID,
		Amount:    -s.Balance,
		Metadata:  map[string]string{"reason": "group_deactivated"},
		Status:    StatusCompleted,
		CreatedAt: at.UTC(),
	}
}

// SumAmounts folds transaction amounts, i.e. the balance the ledger justifies.
func SumAmounts(txs []*Transaction) Turings {
	var total Turings
	for _, t := range txs {
		total += t.Amount
	}
	return total
}
