package ledger

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACES
// The store is the single source of truth for coordination between
// concurrent requests. Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Tx is one optimistic multi-record transaction.
//
// Reads capture the version of every record they return. Writes are checked
// against those versions when the transaction commits; if any record changed
// in between, the commit fails with shared.ErrStoreConflict and nothing is
// written. Transactions are insert-only and never version-checked.
type Tx interface {
	// GetStudent returns shared.ErrStudentNotFound if the student does not exist.
	GetStudent(ctx context.Context, id string) (*Student, error)

	// GetProduct returns shared.ErrProductNotFound if the product does not exist.
	GetProduct(ctx context.Context, id string) (*Product, error)

	// GetGroup returns shared.ErrGroupNotFound if the group does not exist.
	GetGroup(ctx context.Context, id string) (*Group, error)

	// PutStudent writes a student previously read in this transaction.
	PutStudent(ctx context.Context, s *Student) error

	// PutProduct writes a product previously read in this transaction.
	PutProduct(ctx context.Context, p *Product) error

	// PutGroup writes a group previously read in this transaction.
	PutGroup(ctx context.Context, g *Group) error

	// InsertTransaction appends an entry to the ledger.
	InsertTransaction(ctx context.Context, t *Transaction) error
}

// TxRunner executes a function inside a single optimistic transaction.
// The function runs exactly once; retrying on conflict is the caller's policy.
// If fn returns an error the transaction is rolled back and the error is returned as is.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// TransactionFilter selects ledger entries. Empty fields match everything.
type TransactionFilter struct {
	StudentID string
	GroupID   string
	Kind      Kind
}

// Matches reports whether t satisfies the filter.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.StudentID != "" && t.StudentID != f.StudentID {
		return false
	}
	if f.GroupID != "" && t.GroupID != f.GroupID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	return true
}

// TransactionReader reads the ledger outside of any transaction.
// Results carry no ordering guarantee.
type TransactionReader interface {
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
}

// Registry creates and reads the records that the ledger mutates.
// Collaborators (registration, instructor tools) use it; the engine does not.
type Registry interface {
	CreateStudent(ctx context.Context, s *Student) error
	CreateProduct(ctx context.Context, p *Product) error
	CreateGroup(ctx context.Context, g *Group) error
	CreateActivity(ctx context.Context, a *Activity) error

	Student(ctx context.Context, id string) (*Student, error)
	Product(ctx context.Context, id string) (*Product, error)
	Group(ctx context.Context, id string) (*Group, error)
	Activity(ctx context.Context, id string) (*Activity, error)
}

// Store combines every capability of an entity store.
type Store interface {
	TxRunner
	TransactionReader
	Registry

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
