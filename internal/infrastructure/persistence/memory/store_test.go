package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateStudent(ctx, &ledger.Student{ID: "s1", Balance: 10}))
	require.NoError(t, s.CreateProduct(ctx, &ledger.Product{ID: "p1", Price: 3, Stock: 2}))
	require.NoError(t, s.CreateGroup(ctx, &ledger.Group{ID: "g1", Active: true}))
	return s
}

func purchaseEntry(id string) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        id,
		Kind:      ledger.KindPurchase,
		StudentID: "s1",
		ProductID: "p1",
		Amount:    -3,
		Quantity:  1,
		Status:    ledger.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_CreateSetsInitialVersion(t *testing.T) {
	s := seeded(t)
	st, err := s.Student(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Version(1), st.Version)

	err = s.CreateStudent(context.Background(), &ledger.Student{ID: "s1"})
	assert.ErrorIs(t, err, shared.ErrStudentAlreadyExists)
}

func TestStore_GettersReturnCopies(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	st, err := s.Student(ctx, "s1")
	require.NoError(t, err)
	st.Balance = 999

	again, err := s.Student(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.Balance)
}

func TestStore_CommitBumpsVersions(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		st.Balance -= 3
		p.Stock--
		if err := tx.PutStudent(ctx, st); err != nil {
			return err
		}
		if err := tx.PutProduct(ctx, p); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, purchaseEntry("t1"))
	})
	require.NoError(t, err)

	st, _ := s.Student(ctx, "s1")
	p, _ := s.Product(ctx, "p1")
	assert.Equal(t, int64(7), st.Balance)
	assert.Equal(t, ledger.Version(2), st.Version)
	assert.Equal(t, int64(1), p.Stock)
	assert.Equal(t, ledger.Version(2), p.Version)

	txs, err := s.FindTransactions(ctx, ledger.TransactionFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_ConflictWhenReadRecordChanged(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}

		// A concurrent writer commits between our read and our commit.
		require.NoError(t, s.RunTx(ctx, func(ctx context.Context, other ledger.Tx) error {
			o, err := other.GetStudent(ctx, "s1")
			if err != nil {
				return err
			}
			o.Balance = 1
			return other.PutStudent(ctx, o)
		}))

		st.Balance = 0
		if err := tx.PutStudent(ctx, st); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, purchaseEntry("t1"))
	})
	require.ErrorIs(t, err, shared.ErrStoreConflict)
	assert.True(t, shared.IsConflict(err))

	st, _ := s.Student(ctx, "s1")
	assert.Equal(t, int64(1), st.Balance)

	txs, _ := s.FindTransactions(ctx, ledger.TransactionFilter{})
	assert.Empty(t, txs)
}

func TestStore_ReadOnlyRecordInReadSet(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetGroup(ctx, "g1"); err != nil {
			return err
		}
		require.NoError(t, s.RunTx(ctx, func(ctx context.Context, other ledger.Tx) error {
			g, err := other.GetGroup(ctx, "g1")
			if err != nil {
				return err
			}
			require.NoError(t, g.Deactivate(time.Now()))
			return other.PutGroup(ctx, g)
		}))
		return tx.InsertTransaction(ctx, purchaseEntry("t1"))
	})
	assert.ErrorIs(t, err, shared.ErrStoreConflict)
}

func TestStore_FnErrorRollsBack(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}
		st.Balance = 0
		if err := tx.PutStudent(ctx, st); err != nil {
			return err
		}
		return shared.ErrInsufficientStock
	})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	st, _ := s.Student(ctx, "s1")
	assert.Equal(t, int64(10), st.Balance)
	assert.Equal(t, ledger.Version(1), st.Version)
}

func TestStore_TxSeesOwnWrites(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}
		st.Balance = 4
		if err := tx.PutStudent(ctx, st); err != nil {
			return err
		}
		again, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(4), again.Balance)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RejectsDuplicateTransactionID(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	insert := func() error {
		return s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertTransaction(ctx, purchaseEntry("dup"))
		})
	}

	require.NoError(t, insert())
	assert.True(t, shared.IsAlreadyExists(insert()))
}

func TestStore_RejectsInvalidWrites(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.GetStudent(ctx, "s1")
		if err != nil {
			return err
		}
		st.Balance = -1
		return tx.PutStudent(ctx, st)
	})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestStore_FindTransactionsFilters(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	entries := []*ledger.Transaction{
		{ID: "a", Kind: ledger.KindReward, StudentID: "s1", GroupID: "g1", ActivityID: "x", Amount: 5, Status: ledger.StatusCompleted},
		{ID: "b", Kind: ledger.KindReward, StudentID: "s1", GroupID: "g2", ActivityID: "y", Amount: 5, Status: ledger.StatusCompleted},
		{ID: "c", Kind: ledger.KindReward, StudentID: "s2", GroupID: "g1", ActivityID: "x", Amount: 5, Status: ledger.StatusCompleted},
	}
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for _, e := range entries {
			if err := tx.InsertTransaction(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	byStudent, err := s.FindTransactions(ctx, ledger.TransactionFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)

	byStudentGroup, err := s.FindTransactions(ctx, ledger.TransactionFilter{StudentID: "s1", GroupID: "g1"})
	require.NoError(t, err)
	require.Len(t, byStudentGroup, 1)
	assert.Equal(t, "a", byStudentGroup[0].ID)

	byGroup, err := s.FindTransactions(ctx, ledger.TransactionFilter{GroupID: "g1"})
	require.NoError(t, err)
	assert.Len(t, byGroup, 2)
}

func TestStore_CancelledContext(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
