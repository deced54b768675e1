package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/application/command"
	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/memory"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

type countingPublisher struct {
	events []shared.EventType
}

func (p *countingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e.EventType())
	return nil
}

func newEngine(t *testing.T, pub shared.EventPublisher) (*Engine, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.CreateGroup(ctx, &ledger.Group{ID: "g", Roster: []string{"ann", "ben"}, Active: true}))
	require.NoError(t, s.CreateStudent(ctx, &ledger.Student{ID: "ann", GroupID: "g", Balance: 12}))
	require.NoError(t, s.CreateStudent(ctx, &ledger.Student{ID: "ben", GroupID: "g"}))
	require.NoError(t, s.CreateProduct(ctx, &ledger.Product{ID: "gum", Price: 4, Stock: 10}))
	require.NoError(t, s.CreateActivity(ctx, &ledger.Activity{ID: "essay", GroupID: "g", Reward: 6, Status: ledger.ActivityActive}))

	e := New(Config{
		Store:    s,
		Logger:   logger.New(logger.Options{Output: io.Discard}),
		Commands: command.Options{EnforceRewardGuard: true, Publisher: pub},
	})
	return e, s
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	pub := &countingPublisher{}
	e, _ := newEngine(t, pub)

	require.NoError(t, e.Ping(ctx))

	p, err := e.Purchase(ctx, command.PurchaseCommand{ProductID: "gum", StudentID: "ann", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.NewBalance)

	act, err := e.Activity(ctx, "essay")
	require.NoError(t, err)
	r, err := e.RecordReward(ctx, command.RecordRewardCommand{ActivityID: act.ID, StudentID: "ben", Reward: act.Reward})
	require.NoError(t, err)
	assert.Equal(t, int64(6), r.NewBalance)

	byGroup, err := e.QueryByGroup(ctx, "g")
	require.NoError(t, err)
	assert.Len(t, byGroup, 2)

	byStudent, err := e.QueryByStudent(ctx, "ben", "")
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
	assert.Equal(t, ledger.KindReward, byStudent[0].Kind)

	report, err := e.Replay(ctx, "ben")
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	d, err := e.Deactivate(ctx, "g")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ann", "ben"}, d.MembersReset)

	assert.Equal(t, []shared.EventType{
		shared.EventPurchaseCompleted,
		shared.EventRewardRecorded,
		shared.EventGroupDeactivated,
	}, pub.events)
}

func TestEngine_ActivityNotFound(t *testing.T) {
	e, _ := newEngine(t, nil)
	_, err := e.Activity(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrActivityNotFound)
}
