/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

APPEND-ONLY ENFORCEMENT:
  charges, payments and allocations reject UPDATE and DELETE with triggers.
  customers.initial_credit rejects UPDATE the same way. The only UPDATEs the
  store issues are on frames (billing fields once, pay_status afterwards).

KEY TABLES:
  customers           account holders and their initial credit
  frames              billable rounds, billing fields, pay status
  frame_participants  roster per frame, in order
  charges             amounts owed (seq gives insertion order)
  payments            amounts received
  allocations         payment ⇄ charge junction
  rate_cards          JSON rate card configs (versioned)

MONEY & TIME:
  Money is stored as TEXT decimal strings, never REAL. Timestamps are UTC
  with a fixed-width nanosecond layout so TEXT ordering is time ordering.

CONCURRENCY:
  One connection (SQLite has one writer anyway) and a sync.RWMutex. WithTx
  holds the write lock for the whole callback and every read inside it goes
  through the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/table-ledger/billing"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to ":memory:" would be a second, empty database
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact TEXT,
		initial_credit TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TRIGGER IF NOT EXISTS customers_initial_credit_immutable
	BEFORE UPDATE OF initial_credit ON customers
	BEGIN
		SELECT RAISE(ABORT, 'initial_credit is immutable');
	END;

	CREATE TABLE IF NOT EXISTS frames (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		table_name TEXT,
		base_rate TEXT NOT NULL,
		overtime_minutes INTEGER NOT NULL DEFAULT 0,
		overtime_amount TEXT NOT NULL DEFAULT '0.00',
		lump_sum_fine TEXT NOT NULL DEFAULT '0.00',
		discount TEXT NOT NULL DEFAULT '0.00',
		total_amount TEXT NOT NULL DEFAULT '0.00',
		payer_mode TEXT NOT NULL,
		pay_status TEXT NOT NULL DEFAULT 'UNPAID',
		winner_customer_id TEXT REFERENCES customers(id),
		loser_customer_id TEXT REFERENCES customers(id),
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_frames_session
		ON frames(session_id, started_at);

	CREATE TABLE IF NOT EXISTS frame_participants (
		frame_id TEXT NOT NULL REFERENCES frames(id),
		position INTEGER NOT NULL,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		team TEXT,
		is_winner BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (frame_id, position)
	);

	CREATE TABLE IF NOT EXISTS charges (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		frame_id TEXT REFERENCES frames(id),
		amount TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	-- FIFO allocation hot path
	CREATE INDEX IF NOT EXISTS idx_charges_customer_created
		ON charges(customer_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_charges_frame
		ON charges(frame_id) WHERE frame_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		received_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON payments(customer_id, received_at);

	CREATE TABLE IF NOT EXISTS allocations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		charge_id TEXT NOT NULL REFERENCES charges(id),
		allocated_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_charge
		ON allocations(charge_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_payment
		ON allocations(payment_id);

	CREATE TABLE IF NOT EXISTS rate_cards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
`

var appendOnlyTables = []string{"charges", "payments", "allocations"}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	for _, t := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			trigger := fmt.Sprintf(`
				CREATE TRIGGER IF NOT EXISTS %[1]s_no_%[2]s
				BEFORE %[3]s ON %[1]s
				BEGIN
					SELECT RAISE(ABORT, '%[1]s are append-only');
				END;`, t, strings.ToLower(op), op)
			if _, err := s.db.ExecContext(ctx, trigger); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset drops and recreates every table (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"allocations", "payments", "charges", "frame_participants", "frames", "customers", "rate_cards"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return err
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONS (billing.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(store billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&ops{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// read runs fn against the database under the read lock.
func (s *Store) read() (*ops, func()) {
	s.mu.RLock()
	return &ops{q: s.db}, s.mu.RUnlock
}

// write runs fn inside its own transaction under the write lock.
func (s *Store) write(ctx context.Context, fn func(*ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, func(st billing.Store) error { return fn(st.(*ops)) })
}

func (s *Store) CreateCustomer(ctx context.Context, c billing.Customer) error {
	return s.write(ctx, func(o *ops) error { return o.CreateCustomer(ctx, c) })
}

func (s *Store) GetCustomer(ctx context.Context, id billing.CustomerID) (*billing.Customer, error) {
	o, done := s.read()
	defer done()
	return o.GetCustomer(ctx, id)
}

func (s *Store) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	o, done := s.read()
	defer done()
	return o.ListCustomers(ctx)
}

func (s *Store) CreateFrame(ctx context.Context, f billing.Frame) error {
	return s.write(ctx, func(o *ops) error { return o.CreateFrame(ctx, f) })
}

func (s *Store) GetFrame(ctx context.Context, id billing.FrameID) (*billing.Frame, error) {
	o, done := s.read()
	defer done()
	return o.GetFrame(ctx, id)
}

func (s *Store) ListFramesBySession(ctx context.Context, id billing.SessionID) ([]billing.Frame, error) {
	o, done := s.read()
	defer done()
	return o.ListFramesBySession(ctx, id)
}

func (s *Store) SaveFrameBilling(ctx context.Context, f billing.Frame) error {
	return s.write(ctx, func(o *ops) error { return o.SaveFrameBilling(ctx, f) })
}

func (s *Store) UpdateFramePayStatus(ctx context.Context, id billing.FrameID, status billing.PayStatus) error {
	return s.write(ctx, func(o *ops) error { return o.UpdateFramePayStatus(ctx, id, status) })
}

func (s *Store) AppendCharges(ctx context.Context, charges []billing.LedgerCharge) error {
	return s.write(ctx, func(o *ops) error { return o.AppendCharges(ctx, charges) })
}

func (s *Store) AppendPayment(ctx context.Context, p billing.LedgerPayment) error {
	return s.write(ctx, func(o *ops) error { return o.AppendPayment(ctx, p) })
}

func (s *Store) AppendAllocations(ctx context.Context, allocs []billing.PaymentAllocation) error {
	return s.write(ctx, func(o *ops) error { return o.AppendAllocations(ctx, allocs) })
}

func (s *Store) ChargesByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.LedgerCharge, error) {
	o, done := s.read()
	defer done()
	return o.ChargesByCustomer(ctx, id)
}

func (s *Store) ChargesByFrame(ctx context.Context, id billing.FrameID) ([]billing.LedgerCharge, error) {
	o, done := s.read()
	defer done()
	return o.ChargesByFrame(ctx, id)
}

func (s *Store) PaymentsByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.LedgerPayment, error) {
	o, done := s.read()
	defer done()
	return o.PaymentsByCustomer(ctx, id)
}

func (s *Store) AllocationsByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.PaymentAllocation, error) {
	o, done := s.read()
	defer done()
	return o.AllocationsByCustomer(ctx, id)
}

func (s *Store) AllocationsByCharges(ctx context.Context, ids []billing.ChargeID) ([]billing.PaymentAllocation, error) {
	o, done := s.read()
	defer done()
	return o.AllocationsByCharges(ctx, ids)
}

// =============================================================================
// QUERIES - shared by the plain store and the transactional view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements billing.Store over a *sql.DB or a *sql.Tx.
type ops struct {
	q querier
}

func (o *ops) CreateCustomer(ctx context.Context, c billing.Customer) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO customers (id, name, contact, initial_credit, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.Contact), c.InitialCredit.String(), formatTime(c.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("customer %s: %w", c.ID, billing.ErrDuplicateCustomer)
	}
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

const customerColumns = `id, name, contact, initial_credit, created_at`

func (o *ops) GetCustomer(ctx context.Context, id billing.CustomerID) (*billing.Customer, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.CustomerNotFoundError{CustomerID: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (o *ops) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var out []billing.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(r scanner) (billing.Customer, error) {
	var (
		c         billing.Customer
		contact   sql.NullString
		credit    string
		createdAt string
	)
	if err := r.Scan(&c.ID, &c.Name, &contact, &credit, &createdAt); err != nil {
		return c, err
	}
	var err error
	c.Contact = contact.String
	if c.InitialCredit, err = billing.ParseMoney(credit); err != nil {
		return c, fmt.Errorf("customer %s initial_credit: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	return c, nil
}

// ---- frames ----

func (o *ops) CreateFrame(ctx context.Context, f billing.Frame) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO frames (id, session_id, table_name, base_rate, payer_mode, pay_status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, nullString(f.TableName), f.BaseRate.String(),
		f.PayerMode, f.PayStatus, formatTime(f.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create frame: %w", err)
	}
	for i, p := range f.Participants {
		_, err := o.q.ExecContext(ctx, `
			INSERT INTO frame_participants (frame_id, position, customer_id, team, is_winner)
			VALUES (?, ?, ?, ?, ?)`,
			f.ID, i, p.CustomerID, nullString(p.Team), p.IsWinner,
		)
		if err != nil {
			return fmt.Errorf("failed to add participant %s: %w", p.CustomerID, err)
		}
	}
	return nil
}

const frameColumns = `id, session_id, table_name, base_rate, overtime_minutes, overtime_amount,
	lump_sum_fine, discount, total_amount, payer_mode, pay_status,
	winner_customer_id, loser_customer_id, started_at, ended_at`

func (o *ops) GetFrame(ctx context.Context, id billing.FrameID) (*billing.Frame, error) {
	frames, err := o.queryFrames(ctx, "SELECT "+frameColumns+" FROM frames WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, &billing.FrameNotFoundError{FrameID: id}
	}
	return &frames[0], nil
}

func (o *ops) ListFramesBySession(ctx context.Context, id billing.SessionID) ([]billing.Frame, error) {
	return o.queryFrames(ctx,
		"SELECT "+frameColumns+" FROM frames WHERE session_id = ? ORDER BY started_at, id", id)
}

func (o *ops) queryFrames(ctx context.Context, query string, args ...any) ([]billing.Frame, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	var frames []billing.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// close before the participant queries: there is only one connection
	rows.Close()

	for i := range frames {
		if frames[i].Participants, err = o.participants(ctx, frames[i].ID); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func scanFrame(r scanner) (billing.Frame, error) {
	var (
		f                                     billing.Frame
		table, winner, loser, ended           sql.NullString
		base, overtime, fine, discount, total string
		startedAt                             string
	)
	err := r.Scan(&f.ID, &f.SessionID, &table, &base, &f.OvertimeMinutes, &overtime,
		&fine, &discount, &total, &f.PayerMode, &f.PayStatus,
		&winner, &loser, &startedAt, &ended)
	if err != nil {
		return f, fmt.Errorf("failed to scan frame: %w", err)
	}

	f.TableName = table.String
	for _, m := range []struct {
		dst *billing.Money
		src string
	}{
		{&f.BaseRate, base}, {&f.OvertimeAmount, overtime}, {&f.LumpSumFine, fine},
		{&f.Discount, discount}, {&f.TotalAmount, total},
	} {
		if *m.dst, err = billing.ParseMoney(m.src); err != nil {
			return f, fmt.Errorf("frame %s: %w", f.ID, err)
		}
	}
	if winner.Valid {
		id := billing.CustomerID(winner.String)
		f.WinnerCustomerID = &id
	}
	if loser.Valid {
		id := billing.CustomerID(loser.String)
		f.LoserCustomerID = &id
	}
	if f.StartedAt, err = parseTime(startedAt); err != nil {
		return f, err
	}
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return f, err
		}
		f.EndedAt = &t
	}
	return f, nil
}

func (o *ops) participants(ctx context.Context, id billing.FrameID) ([]billing.FrameParticipant, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT customer_id, team, is_winner FROM frame_participants
		WHERE frame_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []billing.FrameParticipant
	for rows.Next() {
		var (
			p    billing.FrameParticipant
			team sql.NullString
		)
		if err := rows.Scan(&p.CustomerID, &team, &p.IsWinner); err != nil {
			return nil, err
		}
		p.Team = team.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (o *ops) SaveFrameBilling(ctx context.Context, f billing.Frame) error {
	if f.EndedAt == nil {
		return fmt.Errorf("frame %s: billing requires ended_at", f.ID)
	}
	res, err := o.q.ExecContext(ctx, `
		UPDATE frames SET
			overtime_minutes = ?, overtime_amount = ?, lump_sum_fine = ?, discount = ?,
			total_amount = ?, payer_mode = ?, pay_status = ?,
			winner_customer_id = ?, loser_customer_id = ?, ended_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		f.OvertimeMinutes, f.OvertimeAmount.String(), f.LumpSumFine.String(), f.Discount.String(),
		f.TotalAmount.String(), f.PayerMode, f.PayStatus,
		nullID(f.WinnerCustomerID), nullID(f.LoserCustomerID), formatTime(*f.EndedAt),
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save frame billing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, err := o.GetFrame(ctx, f.ID)
		if err != nil {
			return err
		}
		return &billing.AlreadyBilledError{FrameID: f.ID, EndedAt: *cur.EndedAt}
	}
	return nil
}

func (o *ops) UpdateFramePayStatus(ctx context.Context, id billing.FrameID, status billing.PayStatus) error {
	res, err := o.q.ExecContext(ctx, "UPDATE frames SET pay_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update pay status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &billing.FrameNotFoundError{FrameID: id}
	}
	return nil
}

// ---- ledger rows ----

func (o *ops) AppendCharges(ctx context.Context, charges []billing.LedgerCharge) error {
	for _, c := range charges {
		var frameID sql.NullString
		if c.FrameID != nil {
			frameID = sql.NullString{String: string(*c.FrameID), Valid: true}
		}
		_, err := o.q.ExecContext(ctx, `
			INSERT INTO charges (id, customer_id, frame_id, amount, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.CustomerID, frameID, c.Amount.String(), nullString(c.Description), formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append charge %s: %w", c.ID, err)
		}
	}
	return nil
}

func (o *ops) AppendPayment(ctx context.Context, p billing.LedgerPayment) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, amount, method, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.CustomerID, p.Amount.String(), p.Method, formatTime(p.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (o *ops) AppendAllocations(ctx context.Context, allocs []billing.PaymentAllocation) error {
	for _, a := range allocs {
		_, err := o.q.ExecContext(ctx, `
			INSERT INTO allocations (id, payment_id, charge_id, allocated_amount, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.PaymentID, a.ChargeID, a.AllocatedAmount.String(), formatTime(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append allocation %s: %w", a.ID, err)
		}
	}
	return nil
}

const chargeColumns = `seq, id, customer_id, frame_id, amount, description, created_at`

func (o *ops) ChargesByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.LedgerCharge, error) {
	return o.queryCharges(ctx,
		"SELECT "+chargeColumns+" FROM charges WHERE customer_id = ? ORDER BY created_at, seq", id)
}

func (o *ops) ChargesByFrame(ctx context.Context, id billing.FrameID) ([]billing.LedgerCharge, error) {
	return o.queryCharges(ctx,
		"SELECT "+chargeColumns+" FROM charges WHERE frame_id = ? ORDER BY created_at, seq", id)
}

func (o *ops) queryCharges(ctx context.Context, query string, args ...any) ([]billing.LedgerCharge, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var out []billing.LedgerCharge
	for rows.Next() {
		var (
			c           billing.LedgerCharge
			frameID     sql.NullString
			amount      string
			description sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&c.Seq, &c.ID, &c.CustomerID, &frameID, &amount, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		if frameID.Valid {
			id := billing.FrameID(frameID.String)
			c.FrameID = &id
		}
		if c.Amount, err = billing.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
		c.Description = description.String
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (o *ops) PaymentsByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.LedgerPayment, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, customer_id, amount, method, received_at FROM payments
		WHERE customer_id = ? ORDER BY received_at, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []billing.LedgerPayment
	for rows.Next() {
		var (
			p          billing.LedgerPayment
			amount     string
			receivedAt string
		)
		if err := rows.Scan(&p.ID, &p.CustomerID, &amount, &p.Method, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Amount, err = billing.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		if p.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const allocationColumns = `a.id, a.payment_id, a.charge_id, a.allocated_amount, a.created_at`

func (o *ops) AllocationsByCustomer(ctx context.Context, id billing.CustomerID) ([]billing.PaymentAllocation, error) {
	return o.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM allocations a
		JOIN charges c ON c.id = a.charge_id
		WHERE c.customer_id = ?
		ORDER BY a.seq`, id)
}

func (o *ops) AllocationsByCharges(ctx context.Context, ids []billing.ChargeID) ([]billing.PaymentAllocation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return o.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM allocations a
		WHERE a.charge_id IN (`+placeholders+`)
		ORDER BY a.seq`, args...)
}

func (o *ops) queryAllocations(ctx context.Context, query string, args ...any) ([]billing.PaymentAllocation, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []billing.PaymentAllocation
	for rows.Next() {
		var (
			a         billing.PaymentAllocation
			amount    string
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if a.AllocatedAmount, err = billing.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("allocation %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// RATE CARD STORE
// =============================================================================

// RateCardRecord is a stored rate card with its JSON config.
type RateCardRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveRateCard inserts a rate card or bumps its version.
func (s *Store) SaveRateCard(ctx context.Context, rc RateCardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rate_cards (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = rate_cards.version + 1,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query, rc.ID, rc.Name, rc.ConfigJSON, now, now)
	return err
}

// GetRateCard retrieves a rate card by ID.
func (s *Store) GetRateCard(ctx context.Context, id string) (*RateCardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM rate_cards WHERE id = ?", id)
	rc, err := scanRateCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rate card %s: %w", id, billing.ErrRateCardNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// ListRateCards returns all rate cards.
func (s *Store) ListRateCards(ctx context.Context) ([]RateCardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM rate_cards ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RateCardRecord
	for rows.Next() {
		rc, err := scanRateCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func scanRateCard(r scanner) (RateCardRecord, error) {
	var (
		rc                   RateCardRecord
		createdAt, updatedAt string
	)
	if err := r.Scan(&rc.ID, &rc.Name, &rc.ConfigJSON, &rc.Version, &createdAt, &updatedAt); err != nil {
		return rc, err
	}
	rc.CreatedAt, _ = parseTime(createdAt)
	rc.UpdatedAt, _ = parseTime(updatedAt)
	return rc, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID(id *billing.CustomerID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
