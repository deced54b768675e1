package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations in apply order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_economy_records",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_ledger_transactions",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: GROUPS, STUDENTS, PRODUCTS, ACTIVITIES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Groups (class rosters). Deactivation is terminal.
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    roster TEXT[] NOT NULL DEFAULT '{}',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    deactivated_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_deactivation CHECK (active OR deactivated_at IS NOT NULL)
);

-- Students hold the Turing balance.
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    group_id TEXT REFERENCES groups(id) ON DELETE SET NULL,
    balance BIGINT NOT NULL DEFAULT 0,
    completed_activities TEXT[] NOT NULL DEFAULT '{}',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT non_negative_balance CHECK (balance >= 0)
);

CREATE INDEX IF NOT EXISTS idx_students_group_id ON students(group_id);

-- Shop products.
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    price BIGINT NOT NULL,
    stock BIGINT NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT non_negative_price CHECK (price >= 0),
    CONSTRAINT non_negative_stock CHECK (stock >= 0)
);

-- Activities are read-only for the ledger.
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    reward BIGINT NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'active',

    CONSTRAINT non_negative_reward CHECK (reward >= 0),
    CONSTRAINT valid_activity_status CHECK (status IN ('active', 'inactive'))
);

CREATE INDEX IF NOT EXISTS idx_activities_group_id ON activities(group_id);

CREATE OR REPLACE FUNCTION ledger_touch_updated_at()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS touch_students_updated_at ON students;
CREATE TRIGGER touch_students_updated_at
    BEFORE UPDATE ON students
    FOR EACH ROW
    EXECUTE FUNCTION ledger_touch_updated_at();

DROP TRIGGER IF EXISTS touch_products_updated_at ON products;
CREATE TRIGGER touch_products_updated_at
    BEFORE UPDATE ON products
    FOR EACH ROW
    EXECUTE FUNCTION ledger_touch_updated_at();
`

const migration001Down = `
DROP TRIGGER IF EXISTS touch_products_updated_at ON products;
DROP TRIGGER IF EXISTS touch_students_updated_at ON students;
DROP FUNCTION IF EXISTS ledger_touch_updated_at();
DROP TABLE IF EXISTS activities;
DROP TABLE IF EXISTS products;
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS groups;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEDGER TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Append-only ledger. Rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS ledger_transactions (
    id TEXT PRIMARY KEY,
    kind VARCHAR(20) NOT NULL,
    student_id TEXT NOT NULL,
    group_id TEXT NOT NULL DEFAULT '',
    amount BIGINT NOT NULL,
    product_id TEXT NOT NULL DEFAULT '',
    activity_id TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    metadata JSONB,
    status VARCHAR(20) NOT NULL DEFAULT 'completed',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('purchase', 'reward', 'adjustment')),
    CONSTRAINT purchase_sign CHECK (kind <> 'purchase' OR amount <= 0),
    CONSTRAINT reward_sign CHECK (kind <> 'reward' OR amount >= 0)
);

CREATE INDEX IF NOT EXISTS idx_ledger_student ON ledger_transactions(student_id, group_id);
CREATE INDEX IF NOT EXISTS idx_ledger_group ON ledger_transactions(group_id);
CREATE INDEX IF NOT EXISTS idx_ledger_created_at ON ledger_transactions(created_at DESC);

CREATE OR REPLACE FUNCTION ledger_forbid_mutation()
RETURNS TRIGGER AS $$
BEGIN
    RAISE EXCEPTION 'ledger_transactions is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS ledger_append_only ON ledger_transactions;
CREATE TRIGGER ledger_append_only
    BEFORE UPDATE OR DELETE ON ledger_transactions
    FOR EACH ROW
    EXECUTE FUNCTION ledger_forbid_mutation();
`

const migration002Down = `
DROP TRIGGER IF EXISTS ledger_append_only ON ledger_transactions;
DROP FUNCTION IF EXISTS ledger_forbid_mutation();
DROP TABLE IF EXISTS ledger_transactions;
`
