// Package memory implements an in-process entity store with optimistic
// multi-record transactions. It backs development runs and the test suites,
// and follows the same commit contract as the PostgreSQL store.
package memory

import (
	"context"
	"sync"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps every record in maps guarded by a single RWMutex.
// The mutex is only held while reading a record or while applying a commit,
// never while caller code runs.
type Store struct {
	mu sync.RWMutex

	students   map[string]*ledger.Student
	products   map[string]*ledger.Product
	groups     map[string]*ledger.Group
	activities map[string]*ledger.Activity

	transactions []*ledger.Transaction
	txIDs        map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		students:   make(map[string]*ledger.Student),
		products:   make(map[string]*ledger.Product),
		groups:     make(map[string]*ledger.Group),
		activities: make(map[string]*ledger.Activity),
		txIDs:      make(map[string]struct{}),
	}
}

var _ ledger.Store = (*Store)(nil)

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// CreateStudent inserts a new student at version 1.
func (s *Store) CreateStudent(ctx context.Context, st *ledger.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.students[st.ID]; ok {
		return shared.ErrStudentAlreadyExists
	}
	c := st.Clone()
	c.Version = 1
	s.students[c.ID] = c
	return nil
}

// CreateProduct inserts a new product at version 1.
func (s *Store) CreateProduct(ctx context.Context, p *ledger.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return shared.ErrProductAlreadyExists
	}
	c := p.Clone()
	c.Version = 1
	s.products[c.ID] = c
	return nil
}

// CreateGroup inserts a new group at version 1.
func (s *Store) CreateGroup(ctx context.Context, g *ledger.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return shared.ErrGroupAlreadyExists
	}
	c := g.Clone()
	c.Version = 1
	s.groups[c.ID] = c
	return nil
}

// CreateActivity inserts a new activity.
func (s *Store) CreateActivity(ctx context.Context, a *ledger.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[a.ID]; ok {
		return shared.NewDomainError("activity", "Create", shared.ErrAlreadyExists, "activity already exists")
	}
	s.activities[a.ID] = a.Clone()
	return nil
}

// Student returns a copy of the stored student.
func (s *Store) Student(ctx context.Context, id string) (*ledger.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return st.Clone(), nil
}

// Product returns a copy of the stored product.
func (s *Store) Product(ctx context.Context, id string) (*ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, shared.ErrProductNotFound
	}
	return p.Clone(), nil
}

// Group returns a copy of the stored group.
func (s *Store) Group(ctx context.Context, id string) (*ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, shared.ErrGroupNotFound
	}
	return g.Clone(), nil
}

// Activity returns a copy of the stored activity.
func (s *Store) Activity(ctx context.Context, id string) (*ledger.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activities[id]
	if !ok {
		return nil, shared.ErrActivityNotFound
	}
	return a.Clone(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ledger reads
// ─────────────────────────────────────────────────────────────────────────────

// FindTransactions returns copies of every matching ledger entry.
func (s *Store) FindTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Transaction, 0)
	for _, t := range s.transactions {
		if filter.Matches(t) {
			result = append(result, t.Clone())
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

type recordKind uint8

const (
	recordStudent recordKind = iota + 1
	recordProduct
	recordGroup
)

type recordKey struct {
	kind recordKind
	id   string
}

// memTx buffers writes and remembers the version of every record it read.
type memTx struct {
	store *Store

	reads    map[recordKey]ledger.Version
	students map[string]*ledger.Student
	products map[string]*ledger.Product
	groups   map[string]*ledger.Group
	inserts  []*ledger.Transaction
}

// RunTx runs fn once and commits its writes if no record it read has changed.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:    s,
		reads:    make(map[recordKey]ledger.Version),
		students: make(map[string]*ledger.Student),
		products: make(map[string]*ledger.Product),
		groups:   make(map[string]*ledger.Group),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return s.commit(tx)
}

func (tx *memTx) GetStudent(ctx context.Context, id string) (*ledger.Student, error) {
	if st, ok := tx.students[id]; ok {
		return st.Clone(), nil
	}
	st, err := tx.store.Student(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.remember(recordKey{recordStudent, id}, st.Version)
	return st, nil
}

func (tx *memTx) GetProduct(ctx context.Context, id string) (*ledger.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p.Clone(), nil
	}
	p, err := tx.store.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.remember(recordKey{recordProduct, id}, p.Version)
	return p, nil
}

func (tx *memTx) GetGroup(ctx context.Context, id string) (*ledger.Group, error) {
	if g, ok := tx.groups[id]; ok {
		return g.Clone(), nil
	}
	g, err := tx.store.Group(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.remember(recordKey{recordGroup, id}, g.Version)
	return g, nil
}

func (tx *memTx) PutStudent(ctx context.Context, st *ledger.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	tx.remember(recordKey{recordStudent, st.ID}, st.Version)
	tx.students[st.ID] = st.Clone()
	return nil
}

func (tx *memTx) PutProduct(ctx context.Context, p *ledger.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tx.remember(recordKey{recordProduct, p.ID}, p.Version)
	tx.products[p.ID] = p.Clone()
	return nil
}

func (tx *memTx) PutGroup(ctx context.Context, g *ledger.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	tx.remember(recordKey{recordGroup, g.ID}, g.Version)
	tx.groups[g.ID] = g.Clone()
	return nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tx.inserts = append(tx.inserts, t.Clone())
	return nil
}

// remember keeps the first version observed for a record.
func (tx *memTx) remember(key recordKey, v ledger.Version) {
	if _, ok := tx.reads[key]; !ok {
		tx.reads[key] = v
	}
}

// commit validates the read set and applies the buffered writes atomically.
func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, v := range tx.reads {
		if s.currentVersion(key) != v {
			return shared.ErrStoreConflict
		}
	}
	for id := range tx.students {
		if _, ok := s.students[id]; !ok {
			return shared.ErrStudentNotFound
		}
	}
	for id := range tx.products {
		if _, ok := s.products[id]; !ok {
			return shared.ErrProductNotFound
		}
	}
	for id := range tx.groups {
		if _, ok := s.groups[id]; !ok {
			return shared.ErrGroupNotFound
		}
	}
	for _, t := range tx.inserts {
		if _, dup := s.txIDs[t.ID]; dup {
			return shared.NewDomainError("transaction", "Insert", shared.ErrAlreadyExists, "transaction id already used")
		}
	}

	for id, st := range tx.students {
		st.Version = s.students[id].Version + 1
		s.students[id] = st
	}
	for id, p := range tx.products {
		p.Version = s.products[id].Version + 1
		s.products[id] = p
	}
	for id, g := range tx.groups {
		g.Version = s.groups[id].Version + 1
		s.groups[id] = g
	}
	for _, t := range tx.inserts {
		s.transactions = append(s.transactions, t)
		s.txIDs[t.ID] = struct{}{}
	}
	return nil
}

// currentVersion returns 0 for records that do not exist.
func (s *Store) currentVersion(key recordKey) ledger.Version {
	switch key.kind {
	case recordStudent:
		if st, ok := s.students[key.id]; ok {
			return st.Version
		}
	case recordProduct:
		if p, ok := s.products[key.id]; ok {
			return p.Version
		}
	case recordGroup:
		if g, ok := s.groups[key.id]; ok {
			return g.Version
		}
	}
	return 0
}
