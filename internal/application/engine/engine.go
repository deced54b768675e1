// Package engine is the entry point collaborators use to reach the ledger.
// It bundles the command and query handlers behind one value so that
// transports (HTTP, tests, tooling) depend on a single type.
package engine

import (
	"context"

	"github.com/turing-shop/turing-ledger/internal/application/command"
	"github.com/turing-shop/turing-ledger/internal/application/query"
	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// Config wires an Engine.
type Config struct {
	// Store is the entity store. Required.
	Store ledger.Store

	// Cache serves transaction queries. Optional.
	Cache query.TransactionCache

	// Commands configures retry, guards and event publishing.
	Commands command.Options

	Logger *logger.Logger
}

// Engine exposes the ledger operations.
type Engine struct {
	store ledger.Store

	purchase   *command.PurchaseHandler
	reward     *command.RecordRewardHandler
	deactivate *command.DeactivateGroupHandler

	transactions *query.TransactionsHandler
	reconcile    *query.ReconcileBalanceHandler
}

// New creates an Engine.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	opts := cfg.Commands
	if opts.Logger == nil {
		opts.Logger = log
	}

	return &Engine{
		store:        cfg.Store,
		purchase:     command.NewPurchaseHandler(cfg.Store, opts),
		reward:       command.NewRecordRewardHandler(cfg.Store, opts),
		deactivate:   command.NewDeactivateGroupHandler(cfg.Store, opts),
		transactions: query.NewTransactionsHandler(cfg.Store, cfg.Cache, log),
		reconcile:    query.NewReconcileBalanceHandler(cfg.Store, cfg.Store, log),
	}
}

// Purchase buys quantity units of a product for a student.
func (e *Engine) Purchase(ctx context.Context, cmd command.PurchaseCommand) (*command.PurchaseResult, error) {
	return e.purchase.Handle(ctx, cmd)
}

// RecordReward credits a student for a completed activity.
func (e *Engine) RecordReward(ctx context.Context, cmd command.RecordRewardCommand) (*command.RecordRewardResult, error) {
	return e.reward.Handle(ctx, cmd)
}

// Deactivate archives a group and resets its members.
func (e *Engine) Deactivate(ctx context.Context, groupID string) (*command.DeactivateGroupResult, error) {
	return e.deactivate.Handle(ctx, command.DeactivateGroupCommand{GroupID: groupID})
}

// QueryByStudent lists a student's ledger entries, optionally within one group.
func (e *Engine) QueryByStudent(ctx context.Context, studentID, groupID string) ([]*ledger.Transaction, error) {
	return e.transactions.ByStudent(ctx, query.StudentTransactionsQuery{StudentID: studentID, GroupID: groupID})
}

// QueryByGroup lists every ledger entry recorded under a group.
func (e *Engine) QueryByGroup(ctx context.Context, groupID string) ([]*ledger.Transaction, error) {
	return e.transactions.ByGroup(ctx, query.GroupTransactionsQuery{GroupID: groupID})
}

// Replay compares a student's stored balance with the sum of their ledger entries.
func (e *Engine) Replay(ctx context.Context, studentID string) (*query.BalanceReport, error) {
	return e.reconcile.Handle(ctx, studentID)
}

// Activity reads an activity definition for collaborators that need its reward.
func (e *Engine) Activity(ctx context.Context, id string) (*ledger.Activity, error) {
	return e.store.Activity(ctx, id)
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
