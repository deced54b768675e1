package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

func TestProduct_TotalPrice(t *testing.T) {
	p := &Product{ID: "p", Price: 10, Stock: 5}

	total, err := p.TotalPrice(3)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)

	_, err = p.TotalPrice(0)
	assert.ErrorIs(t, err, shared.ErrInvalidQuantity)

	expensive := &Product{ID: "x", Price: math.MaxInt64 / 2}
	_, err = expensive.TotalPrice(3)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestProduct_Reserve(t *testing.T) {
	p := &Product{ID: "p", Price: 1, Stock: 2}

	require.NoError(t, p.Reserve(2))
	assert.Equal(t, int64(0), p.Stock)
	assert.ErrorIs(t, p.Reserve(1), shared.ErrInsufficientStock)
	assert.Equal(t, int64(0), p.Stock)
}

func TestStudent_DebitCredit(t *testing.T) {
	s := &Student{ID: "s", Balance: 15}

	assert.ErrorIs(t, s.Debit(20), shared.ErrInsufficientBalance)
	assert.Equal(t, int64(15), s.Balance)

	require.NoError(t, s.Debit(15))
	assert.Equal(t, int64(0), s.Balance)

	require.NoError(t, s.Credit(25))
	assert.Equal(t, int64(25), s.Balance)
	assert.ErrorIs(t, s.Credit(-1), shared.ErrInvalidAmount)

	s.Balance = math.MaxInt64
	assert.ErrorIs(t, s.Credit(1), shared.ErrValueOutOfRange)
}

func TestStudent_MarkCompletedIsSet(t *testing.T) {
	s := &Student{ID: "s"}
	s.MarkCompleted("a")
	s.MarkCompleted("b")
	s.MarkCompleted("a")

	assert.Equal(t, []string{"a", "b"}, s.CompletedActivities)
	assert.True(t, s.HasCompleted("b"))
	assert.False(t, s.HasCompleted("c"))
}

func TestStudent_CloneIsDeep(t *testing.T) {
	s := &Student{ID: "s", CompletedActivities: []string{"a"}}
	c := s.Clone()
	c.CompletedActivities[0] = "changed"

	assert.Equal(t, "a", s.CompletedActivities[0])
}

func TestGroup_Deactivate(t *testing.T) {
	g := &Group{ID: "g", Active: true}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("ALMT", 5*3600))

	require.NoError(t, g.Deactivate(at))
	assert.False(t, g.Active)
	require.NotNil(t, g.DeactivatedAt)
	assert.Equal(t, time.UTC, g.DeactivatedAt.Location())
	assert.True(t, at.Equal(*g.DeactivatedAt))

	assert.ErrorIs(t, g.Deactivate(at), shared.ErrAlreadyInactive)
	require.NoError(t, g.Validate())
}

func TestTransaction_Validate(t *testing.T) {
	s := &Student{ID: "s", GroupID: "g", Balance: 40}
	p := &Product{ID: "p", Price: 10}
	now := time.Now()

	tests := []struct {
		name    string
		tx      *Transaction
		wantErr bool
	}{
		{"purchase", NewPurchase("1", s, p, 2, 20, now), false},
		{"reward", NewReward("2", s, "act", 5, nil, now), false},
		{"adjustment", NewAdjustment("3", s, "g", now), false},
		{"positive purchase", &Transaction{ID: "4", Kind: KindPurchase, StudentID: "s", ProductID: "p", Amount: 5}, true},
		{"negative reward", &Transaction{ID: "5", Kind: KindReward, StudentID: "s", ActivityID: "a", Amount: -5}, true},
		{"unknown kind", &Transaction{ID: "6", Kind: "refund", StudentID: "s"}, true},
		{"missing id", &Transaction{Kind: KindReward, StudentID: "s", ActivityID: "a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	s := &Student{ID: "s", GroupID: "g", Balance: 40}
	p := &Product{ID: "p", Price: 10}
	now := time.Now()

	purchase := NewPurchase("1", s, p, 2, 20, now)
	assert.Equal(t, int64(-20), purchase.Amount)
	assert.Equal(t, "g", purchase.GroupID)
	assert.Equal(t, 2, purchase.Quantity)

	adj := NewAdjustment("3", s, "g", now)
	assert.Equal(t, int64(-40), adj.Amount)
	assert.Equal(t, KindAdjustment, adj.Kind)

	assert.Equal(t, int64(-60), SumAmounts([]*Transaction{purchase, adj}))
}

func TestTransactionFilter_Matches(t *testing.T) {
	tx := &Transaction{StudentID: "s", GroupID: "g", Kind: KindReward}

	assert.True(t, TransactionFilter{}.Matches(tx))
	assert.True(t, TransactionFilter{StudentID: "s", GroupID: "g"}.Matches(tx))
	assert.False(t, TransactionFilter{GroupID: "h"}.Matches(tx))
	assert.False(t, TransactionFilter{Kind: KindPurchase}.Matches(tx))
}
