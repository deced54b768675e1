package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is the PostgreSQL implementation of ledger.Store.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

var _ ledger.Store = (*Store)(nil)

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return shared.StoreFailure("Ping", err)
	}
	return nil
}

// storeError maps driver errors to ledger error kinds. Domain errors pass through.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsSerializationFailure(err):
		return shared.ErrStoreConflict
	default:
		return shared.StoreFailure(op, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL
// ─────────────────────────────────────────────────────────────────────────────

const (
	selectStudentSQL = `
		SELECT id, display_name, COALESCE(group_id, ''), balance, completed_activities, version
		FROM students WHERE id = $1`

	selectProductSQL = `
		SELECT id, name, price, stock, version
		FROM products WHERE id = $1`

	selectGroupSQL = `
		SELECT id, name, roster, active, deactivated_at, version
		FROM groups WHERE id = $1`

	selectActivitySQL = `
		SELECT id, group_id, name, reward, status
		FROM activities WHERE id = $1`

	selectTransactionsSQL = `
		SELECT id, kind, student_id, group_id, amount, product_id, activity_id,
		       quantity, metadata, status, created_at
		FROM ledger_transactions`

	insertTransactionSQL = `
		INSERT INTO ledger_transactions
			(id, kind, student_id, group_id, amount, product_id, activity_id, quantity, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	updateStudentSQL = `
		UPDATE students
		SET display_name = $3, group_id = NULLIF($4, ''), balance = $5,
		    completed_activities = $6, version = version + 1
		WHERE id = $1 AND version = $2`

	updateProductSQL = `
		UPDATE products
		SET name = $3, price = $4, stock = $5, version = version + 1
		WHERE id = $1 AND version = $2`

	updateGroupSQL = `
		UPDATE groups
		SET name = $3, roster = $4, active = $5, deactivated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2`
)

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanStudent(row pgx.Row) (*ledger.Student, error) {
	var st ledger.Student
	var version int64
	if err := row.Scan(&st.ID, &st.DisplayName, &st.GroupID, &st.Balance, &st.CompletedActivities, &version); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, err
	}
	st.Version = ledger.Version(version)
	return &st, nil
}

func scanProduct(row pgx.Row) (*ledger.Product, error) {
	var p ledger.Product
	var version int64
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &version); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProductNotFound
		}
		return nil, err
	}
	p.Version = ledger.Version(version)
	return &p, nil
}

func scanGroup(row pgx.Row) (*ledger.Group, error) {
	var g ledger.Group
	var version int64
	if err := row.Scan(&g.ID, &g.Name, &g.Roster, &g.Active, &g.DeactivatedAt, &version); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGroupNotFound
		}
		return nil, err
	}
	g.DeactivatedAt = deactivatedAt(g.DeactivatedAt)
	g.Version = ledger.Version(version)
	return &g, nil
}

func scanTransaction(rows pgx.Rows) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var metadata []byte
	err := rows.Scan(
		&t.ID, &t.Kind, &t.StudentID, &t.GroupID, &t.Amount, &t.ProductID,
		&t.ActivityID, &t.Quantity, &metadata, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// CreateStudent inserts a new student at version 1.
func (s *Store) CreateStudent(ctx context.Context, st *ledger.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return shared.StoreFailure("CreateStudent", err)
	}
	completed := st.CompletedActivities
	if completed == nil {
		completed = []string{}
	}
	_, err = q.Exec(ctx, `
		INSERT INTO students (id, display_name, group_id, balance, completed_activities)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		st.ID, st.DisplayName, st.GroupID, st.Balance, completed,
	)
	switch {
	case IsUniqueViolation(err):
		return shared.ErrStudentAlreadyExists
	case pgCode(err) == "23503":
		return shared.ErrGroupNotFound
	}
	return storeError("CreateStudent", err)
}

// CreateProduct inserts a new product at version 1.
func (s *Store) CreateProduct(ctx context.Context, p *ledger.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return shared.StoreFailure("CreateProduct", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Price, p.Stock,
	)
	if IsUniqueViolation(err) {
		return shared.ErrProductAlreadyExists
	}
	return storeError("CreateProduct", err)
}

// CreateGroup inserts a new group at version 1.
func (s *Store) CreateGroup(ctx context.Context, g *ledger.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return shared.StoreFailure("CreateGroup", err)
	}
	roster := g.Roster
	if roster == nil {
		roster = []string{}
	}
	_, err = q.Exec(ctx,
		`INSERT INTO groups (id, name, roster, active, deactivated_at) VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, roster, g.Active, g.DeactivatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.ErrGroupAlreadyExists
	}
	return storeError("CreateGroup", err)
}

// CreateActivity inserts a new activity.
func (s *Store) CreateActivity(ctx context.Context, a *ledger.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return shared.StoreFailure("CreateActivity", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO activities (id, group_id, name, reward, status) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.GroupID, a.Name, a.Reward, string(a.Status),
	)
	if IsUniqueViolation(err) {
		return shared.NewDomainError("activity", "Create", shared.ErrAlreadyExists, "activity already exists")
	}
	return storeError("CreateActivity", err)
}

// Student reads a student outside of any transaction.
func (s *Store) Student(ctx context.Context, id string) (*ledger.Student, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.StoreFailure("Student", err)
	}
	st, err := scanStudent(q.QueryRow(ctx, selectStudentSQL, id))
	return st, storeError("Student", err)
}

// Product reads a product outside of any transaction.
func (s *Store) Product(ctx context.Context, id string) (*ledger.Product, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.StoreFailure("Product", err)
	}
	p, err := scanProduct(q.QueryRow(ctx, selectProductSQL, id))
	return p, storeError("Product", err)
}

// Group reads a group outside of any transaction.
func (s *Store) Group(ctx context.Context, id string) (*ledger.Group, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.StoreFailure("Group", err)
	}
	g, err := scanGroup(q.QueryRow(ctx, selectGroupSQL, id))
	return g, storeError("Group", err)
}

// Activity reads an activity definition.
func (s *Store) Activity(ctx context.Context, id string) (*ledger.Activity, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.StoreFailure("Activity", err)
	}
	var a ledger.Activity
	var status string
	err = q.QueryRow(ctx, selectActivitySQL, id).Scan(&a.ID, &a.GroupID, &a.Name, &a.Reward, &status)
	if IsNoRows(err) {
		return nil, shared.ErrActivityNotFound
	}
	if err != nil {
		return nil, storeError("Activity", err)
	}
	a.Status = ledger.ActivityStatus(status)
	return &a, nil
}

// FindTransactions returns every matching ledger entry.
func (s *Store) FindTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.StoreFailure("FindTransactions", err)
	}

	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("student_id", filter.StudentID)
	add("group_id", filter.GroupID)
	add("kind", string(filter.Kind))

	sql := selectTransactionsSQL
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeError("FindTransactions", err)
	}
	defer rows.Close()

	result := make([]*ledger.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storeError("FindTransactions", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("FindTransactions", err)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

type table string

const (
	tableStudents table = "students"
	tableProducts table = "products"
	tableGroups   table = "groups"
)

type rowKey struct {
	table table
	id    string
}

// pgTx reads through a pgx transaction and buffers writes until commit.
type pgTx struct {
	tx pgx.Tx

	reads    map[rowKey]ledger.Version
	students map[string]*ledger.Student
	products map[string]*ledger.Product
	groups   map[string]*ledger.Group
	inserts  []*ledger.Transaction
}

// RunTx runs fn once inside a database transaction and commits with
// version-checked updates. Any version mismatch rolls everything back
// and returns shared.ErrStoreConflict.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		t := &pgTx{
			tx:       tx,
			reads:    make(map[rowKey]ledger.Version),
			students: make(map[string]*ledger.Student),
			products: make(map[string]*ledger.Product),
			groups:   make(map[string]*ledger.Group),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.commit(ctx)
	})
	return storeError("RunTx", err)
}

func (t *pgTx) remember(key rowKey, v ledger.Version) {
	if _, ok := t.reads[key]; !ok {
		t.reads[key] = v
	}
}

func (t *pgTx) GetStudent(ctx context.Context, id string) (*ledger.Student, error) {
	if st, ok := t.students[id]; ok {
		return st.Clone(), nil
	}
	st, err := scanStudent(t.tx.QueryRow(ctx, selectStudentSQL, id))
	if err != nil {
		return nil, err
	}
	t.remember(rowKey{tableStudents, id}, st.Version)
	return st, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*ledger.Product, error) {
	if p, ok := t.products[id]; ok {
		return p.Clone(), nil
	}
	p, err := scanProduct(t.tx.QueryRow(ctx, selectProductSQL, id))
	if err != nil {
		return nil, err
	}
	t.remember(rowKey{tableProducts, id}, p.Version)
	return p, nil
}

func (t *pgTx) GetGroup(ctx context.Context, id string) (*ledger.Group, error) {
	if g, ok := t.groups[id]; ok {
		return g.Clone(), nil
	}
	g, err := scanGroup(t.tx.QueryRow(ctx, selectGroupSQL, id))
	if err != nil {
		return nil, err
	}
	t.remember(rowKey{tableGroups, id}, g.Version)
	return g, nil
}

func (t *pgTx) PutStudent(ctx context.Context, st *ledger.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	t.remember(rowKey{tableStudents, st.ID}, st.Version)
	t.students[st.ID] = st.Clone()
	return nil
}

func (t *pgTx) PutProduct(ctx context.Context, p *ledger.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.remember(rowKey{tableProducts, p.ID}, p.Version)
	t.products[p.ID] = p.Clone()
	return nil
}

func (t *pgTx) PutGroup(ctx context.Context, g *ledger.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	t.remember(rowKey{tableGroups, g.ID}, g.Version)
	t.groups[g.ID] = g.Clone()
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	t.inserts = append(t.inserts, tr.Clone())
	return nil
}

// commit checks the read-only part of the read set under FOR SHARE locks,
// then applies the buffered writes with compare-and-swap updates.
// Keys are visited in sorted order so that concurrent commits lock rows
// in the same sequence.
func (t *pgTx) commit(ctx context.Context) error {
	keys := make([]rowKey, 0, len(t.reads))
	for k := range t.reads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].id < keys[j].id
	})

	for _, k := range keys {
		expected := t.reads[k]
		var tag int64
		var err error

		switch k.table {
		case tableStudents:
			if st, ok := t.students[k.id]; ok {
				tag, err = t.exec(ctx, updateStudentSQL, st.ID, int64(expected), st.DisplayName, st.GroupID, st.Balance, nonNil(st.CompletedActivities))
			} else {
				tag, err = t.checkVersion(ctx, k, expected)
			}
		case tableProducts:
			if p, ok := t.products[k.id]; ok {
				tag, err = t.exec(ctx, updateProductSQL, p.ID, int64(expected), p.Name, p.Price, p.Stock)
			} else {
				tag, err = t.checkVersion(ctx, k, expected)
			}
		case tableGroups:
			if g, ok := t.groups[k.id]; ok {
				tag, err = t.exec(ctx, updateGroupSQL, g.ID, int64(expected), g.Name, nonNil(g.Roster), g.Active, g.DeactivatedAt)
			} else {
				tag, err = t.checkVersion(ctx, k, expected)
			}
		}
		if err != nil {
			return err
		}
		if tag == 0 {
			return shared.ErrStoreConflict
		}
	}

	for _, tr := range t.inserts {
		metadata, err := encodeMetadata(tr.Metadata)
		if err != nil {
			return err
		}
		_, err = t.tx.Exec(ctx, insertTransactionSQL,
			tr.ID, string(tr.Kind), tr.StudentID, tr.GroupID, tr.Amount, tr.ProductID,
			tr.ActivityID, tr.Quantity, metadata, string(tr.Status), tr.CreatedAt,
		)
		if IsUniqueViolation(err) {
			return shared.NewDomainError("transaction", "Insert", shared.ErrAlreadyExists, "transaction id already used")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// checkVersion locks a read-only row and reports 1 if its version is unchanged.
func (t *pgTx) checkVersion(ctx context.Context, k rowKey, expected ledger.Version) (int64, error) {
	var current int64
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf("SELECT version FROM %s WHERE id = $1 FOR SHARE", k.table), k.id,
	).Scan(&current)
	if IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if ledger.Version(current) != expected {
		return 0, nil
	}
	return 1, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// deactivatedAt normalizes optional timestamps to UTC.
func deactivatedAt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
