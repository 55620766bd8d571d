/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface the engines consume
  (schedule.EventStore, schedule.HistoryWriter, billing.SequenceAllocator,
  billing.FundingHistoryStore, billing.BillStore,
  billing.EventBillingUpdater, balances.Store, balances.ReferenceLoader)
  on a single SQLite database. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  events:            scheduled occurrences, with frozen billing snapshots
  event_history:     append-only audit trail, written before mutations
  bill_sequences:    per-company, per-prefix bill number counters
  funding_histories: consumed care-hours/amount accumulators, floored at 0
  bills, credit_notes, payments: financial documents
  customers, third_party_payers, services, auxiliaries: reference documents
                     stored as JSON, queried whole (document-model heritage)

REPRESENTATION:
  Timestamps are RFC3339 TEXT. Money and hour quantities are decimal
  strings (TEXT), never floats; grouped totals are therefore summed in Go
  with shopspring/decimal rather than with SQL SUM, which would coerce to
  float.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on read-modify-write paths
  (sequences, funding histories). SQLite is opened with WAL so readers
  don't block.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory: in-memory implementation for tests
  - schedule/engine.go, billing/aggregator.go: interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		auxiliary_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		sector TEXT NOT NULL DEFAULT '',
		misc TEXT NOT NULL DEFAULT '',
		repetition_frequency TEXT NOT NULL DEFAULT '',
		repetition_parent_id TEXT NOT NULL DEFAULT '',
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		cancellation_condition TEXT NOT NULL DEFAULT '',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		is_billed INTEGER NOT NULL DEFAULT 0,
		billing_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Conflict checks scan an auxiliary's window (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_auxiliary_range
		ON events(auxiliary_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_events_customer_range
		ON events(customer_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_events_repetition
		ON events(repetition_parent_id) WHERE repetition_parent_id != '';

	CREATE TABLE IF NOT EXISTS event_history (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		action TEXT NOT NULL,
		event_id TEXT NOT NULL,
		auxiliary_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_history_event
		ON event_history(event_id);

	CREATE TABLE IF NOT EXISTS bill_sequences (
		company_id TEXT NOT NULL,
		prefix TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (company_id, prefix)
	);

	CREATE TABLE IF NOT EXISTS funding_histories (
		funding_id TEXT NOT NULL,
		funding_version_id TEXT NOT NULL,
		month TEXT NOT NULL DEFAULT '',
		care_hours TEXT NOT NULL DEFAULT '0',
		amount_ttc TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (funding_version_id, month)
	);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL,
		third_party_payer_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		net_incl_taxes TEXT NOT NULL,
		subscriptions_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_number
		ON bills(company_id, number) WHERE number != '';
	CREATE INDEX IF NOT EXISTS idx_bills_customer
		ON bills(customer_id, third_party_payer_id);

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL,
		third_party_payer_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		incl_taxes_customer TEXT NOT NULL DEFAULT '0',
		incl_taxes_tpp TEXT NOT NULL DEFAULT '0',
		event_ids_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_notes_customer
		ON credit_notes(customer_id, third_party_payer_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL,
		third_party_payer_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		net_incl_taxes TEXT NOT NULL,
		nature TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON payments(customer_id, third_party_payer_id);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		doc_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS third_party_payers (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		doc_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		doc_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auxiliaries (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		doc_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_company ON customers(company_id);
	CREATE INDEX IF NOT EXISTS idx_payers_company ON third_party_payers(company_id);
	CREATE INDEX IF NOT EXISTS idx_services_company ON services(company_id);
	CREATE INDEX IF NOT EXISTS idx_auxiliaries_company ON auxiliaries(company_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (schedule.EventStore interface)
// =============================================================================

const eventColumns = `id, company_id, type, start_date, end_date, auxiliary_id,
	customer_id, subscription_id, sector, misc,
	repetition_frequency, repetition_parent_id,
	is_cancelled, cancellation_condition, cancellation_reason,
	is_billed, billing_json`

// Insert persists a new event.
func (s *Store) Insert(ctx context.Context, ev schedule.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	billingJSON, err := marshalBilling(ev.Billing)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (` + eventColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, eventArgs(ev, billingJSON,
		time.Now().UTC().Format(time.RFC3339))...)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update replaces an event's stored state.
func (s *Store) Update(ctx context.Context, ev schedule.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	billingJSON, err := marshalBilling(ev.Billing)
	if err != nil {
		return err
	}

	query := `
		UPDATE events SET
			company_id = ?, type = ?, start_date = ?, end_date = ?,
			auxiliary_id = ?, customer_id = ?, subscription_id = ?,
			sector = ?, misc = ?,
			repetition_frequency = ?, repetition_parent_id = ?,
			is_cancelled = ?, cancellation_condition = ?, cancellation_reason = ?,
			is_billed = ?, billing_json = ?
		WHERE id = ?
	`
	args := append(eventArgs(ev, billingJSON)[1:], ev.ID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrEventNotFound
	}
	return nil
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrEventNotFound
	}
	return nil
}

// GetByID loads one event.
func (s *Store) GetByID(ctx context.Context, id string) (schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return schedule.Event{}, schedule.ErrEventNotFound
	}
	return ev, err
}

// ByAuxiliaryInRange returns the auxiliary's events overlapping the window.
func (s *Store) ByAuxiliaryInRange(ctx context.Context, auxiliaryID string, window core.Interval) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + ` FROM events
		WHERE auxiliary_id = ? AND start_date < ? AND end_date > ?
		ORDER BY start_date ASC
	`
	return s.queryEvents(ctx, query, auxiliaryID,
		window.End.Format(time.RFC3339), window.Start.Format(time.RFC3339))
}

// ByCustomerInRange returns the customer's events overlapping the window.
func (s *Store) ByCustomerInRange(ctx context.Context, customerID string, window core.Interval) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + ` FROM events
		WHERE customer_id = ? AND start_date < ? AND end_date > ?
		ORDER BY start_date ASC
	`
	return s.queryEvents(ctx, query, customerID,
		window.End.Format(time.RFC3339), window.Start.Format(time.RFC3339))
}

// Siblings returns the members of a repetition group starting at or after from.
func (s *Store) Siblings(ctx context.Context, parentID string, from time.Time) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + ` FROM events
		WHERE (repetition_parent_id = ? OR id = ?) AND start_date >= ?
		ORDER BY start_date ASC
	`
	return s.queryEvents(ctx, query, parentID, parentID, from.Format(time.RFC3339))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]schedule.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []schedule.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (schedule.Event, error) {
	var (
		ev                    schedule.Event
		startDate, endDate    string
		repFrequency          string
		repParentID           string
		isCancelled, isBilled int
		cancelCondition       string
		cancelReason          string
		billingJSON           sql.NullString
	)

	err := row.Scan(
		&ev.ID, &ev.CompanyID, &ev.Type, &startDate, &endDate,
		&ev.AuxiliaryID, &ev.CustomerID, &ev.SubscriptionID,
		&ev.Sector, &ev.Misc,
		&repFrequency, &repParentID,
		&isCancelled, &cancelCondition, &cancelReason,
		&isBilled, &billingJSON,
	)
	if err != nil {
		return ev, err
	}

	ev.Interval.Start, _ = time.Parse(time.RFC3339, startDate)
	ev.Interval.End, _ = time.Parse(time.RFC3339, endDate)
	if repFrequency != "" || repParentID != "" {
		ev.Repetition = &schedule.Repetition{
			Frequency: schedule.Frequency(repFrequency),
			ParentID:  repParentID,
		}
	}
	ev.IsCancelled = isCancelled == 1
	if cancelCondition != "" || cancelReason != "" {
		ev.Cancellation = &schedule.Cancellation{
			Condition: cancelCondition,
			Reason:    cancelReason,
		}
	}
	ev.IsBilled = isBilled == 1
	if billingJSON.Valid && billingJSON.String != "" {
		var snap schedule.BillingSnapshot
		if err := json.Unmarshal([]byte(billingJSON.String), &snap); err != nil {
			return ev, fmt.Errorf("failed to decode billing snapshot: %w", err)
		}
		ev.Billing = &snap
	}
	return ev, nil
}

func eventArgs(ev schedule.Event, billingJSON sql.NullString, extra ...any) []any {
	repFrequency, repParentID := "", ""
	if ev.Repetition != nil {
		repFrequency = string(ev.Repetition.Frequency)
		repParentID = ev.Repetition.ParentID
	}
	cancelCondition, cancelReason := "", ""
	if ev.Cancellation != nil {
		cancelCondition = ev.Cancellation.Condition
		cancelReason = ev.Cancellation.Reason
	}

	args := []any{
		ev.ID, ev.CompanyID, string(ev.Type),
		ev.Interval.Start.Format(time.RFC3339), ev.Interval.End.Format(time.RFC3339),
		ev.AuxiliaryID, ev.CustomerID, ev.SubscriptionID,
		ev.Sector, ev.Misc,
		repFrequency, repParentID,
		boolInt(ev.IsCancelled), cancelCondition, cancelReason,
		boolInt(ev.IsBilled), billingJSON,
	}
	return append(args, extra...)
}

func marshalBilling(snap *schedule.BillingSnapshot) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode billing snapshot: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// MarkBilled freezes an event's billing outcome (billing.EventBillingUpdater).
func (s *Store) MarkBilled(ctx context.Context, eventID string, snap schedule.BillingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode billing snapshot: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET is_billed = 1, billing_json = ? WHERE id = ?`,
		string(raw), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event billed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrEventNotFound
	}
	return nil
}

// =============================================================================
// EVENT HISTORY (schedule.HistoryWriter interface)
// =============================================================================

// Append writes one audit record. Append-only: there is no update or delete
// path on event_history.
func (s *Store) Append(ctx context.Context, rec schedule.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, _ := json.Marshal(rec.Payload)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_history (id, company_id, action, event_id, auxiliary_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CompanyID, string(rec.Action), rec.EventID, rec.AuxiliaryID,
		string(payloadJSON), createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	return nil
}

// =============================================================================
// BILL SEQUENCES (billing.SequenceAllocator interface)
// =============================================================================

// Allocate atomically increments and returns the company's sequence for the
// prefix, starting at 1.
func (s *Store) Allocate(ctx context.Context, companyID, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bill_sequences (company_id, prefix, seq) VALUES (?, ?, 1)
		ON CONFLICT(company_id, prefix) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, companyID, prefix).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate bill number: %w", err)
	}
	return seq, nil
}

// =============================================================================
// FUNDING HISTORY (billing.FundingHistoryStore interface)
// =============================================================================

// Increment applies a funding-history delta, creating the record if absent.
// Accumulators are floored at zero: a decrement can never drive consumed
// care-hours or amount negative.
func (s *Store) Increment(ctx context.Context, delta billing.HistoryDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	careHours, amountTTC, err := s.consumed(ctx, delta.FundingVersionID, delta.Month)
	if err != nil {
		return err
	}
	careHours = floorZero(careHours.Add(delta.CareHours))
	amountTTC = floorZero(amountTTC.Add(delta.AmountTTC))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO funding_histories (funding_id, funding_version_id, month, care_hours, amount_ttc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(funding_version_id, month) DO UPDATE SET
			care_hours = excluded.care_hours,
			amount_ttc = excluded.amount_ttc,
			updated_at = excluded.updated_at
	`, delta.FundingID, delta.FundingVersionID, delta.Month,
		careHours.String(), amountTTC.String(),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert funding history: %w", err)
	}
	return nil
}

// Consumed reports the accumulated consumption for a funding version and
// month bucket. Missing records read as zero.
func (s *Store) Consumed(ctx context.Context, fundingVersionID, month string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumed(ctx, fundingVersionID, month)
}

func (s *Store) consumed(ctx context.Context, fundingVersionID, month string) (decimal.Decimal, decimal.Decimal, error) {
	var careHours, amountTTC string
	err := s.db.QueryRowContext(ctx, `
		SELECT care_hours, amount_ttc FROM funding_histories
		WHERE funding_version_id = ? AND month = ?
	`, fundingVersionID, month).Scan(&careHours, &amountTTC)
	if err == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to read funding history: %w", err)
	}
	ch, err := decimal.NewFromString(careHours)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("corrupt care_hours %q: %w", careHours, err)
	}
	am, err := decimal.NewFromString(amountTTC)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("corrupt amount_ttc %q: %w", amountTTC, err)
	}
	return ch, am, nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// FINANCIAL DOCUMENTS (billing.BillStore interface and payments)
// =============================================================================

// InsertBills persists a billing run's bills in one database transaction.
func (s *Store) InsertBills(ctx context.Context, bills []billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, b := range bills {
		subsJSON, err := json.Marshal(b.Subscriptions)
		if err != nil {
			return fmt.Errorf("failed to encode bill subscriptions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bills (id, company_id, number, customer_id, third_party_payer_id,
				date, net_incl_taxes, subscriptions_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.CompanyID, b.Number, b.CustomerID, b.ThirdPartyPayerID,
			b.Date.Format(time.RFC3339), b.NetInclTaxes.String(),
			string(subsJSON), b.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert bill: %w", err)
		}
	}
	return tx.Commit()
}

// InsertCreditNote persists a credit note.
func (s *Store) InsertCreditNote(ctx context.Context, cn billing.CreditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventIDs, _ := json.Marshal(cn.EventIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_notes (id, company_id, number, customer_id, third_party_payer_id,
			date, incl_taxes_customer, incl_taxes_tpp, event_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cn.ID, cn.CompanyID, cn.Number, cn.CustomerID, cn.ThirdPartyPayerID,
		cn.Date.Format(time.RFC3339), cn.InclTaxesCustomer.String(), cn.InclTaxesTpp.String(),
		string(eventIDs), cn.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert credit note: %w", err)
	}
	return nil
}

// InsertPayment persists a payment or refund.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, company_id, number, customer_id, third_party_payer_id,
			date, net_incl_taxes, nature, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CompanyID, p.Number, p.CustomerID, p.ThirdPartyPayerID,
		p.Date.Format(time.RFC3339), p.NetInclTaxes.String(),
		string(p.Nature), p.Type, p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// BillByID loads one bill, for document rendering.
func (s *Store) BillByID(ctx context.Context, id string) (billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b               billing.Bill
		date, createdAt string
		netInclTaxes    string
		subsJSON        string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, number, customer_id, third_party_payer_id,
			date, net_incl_taxes, subscriptions_json, created_at
		FROM bills WHERE id = ?
	`, id).Scan(&b.ID, &b.CompanyID, &b.Number, &b.CustomerID, &b.ThirdPartyPayerID,
		&date, &netInclTaxes, &subsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return billing.Bill{}, fmt.Errorf("bill %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return billing.Bill{}, fmt.Errorf("failed to load bill: %w", err)
	}
	b.Date, _ = time.Parse(time.RFC3339, date)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if b.NetInclTaxes, err = decimal.NewFromString(netInclTaxes); err != nil {
		return billing.Bill{}, fmt.Errorf("corrupt net_incl_taxes %q: %w", netInclTaxes, err)
	}
	if err := json.Unmarshal([]byte(subsJSON), &b.Subscriptions); err != nil {
		return billing.Bill{}, fmt.Errorf("failed to decode bill subscriptions: %w", err)
	}
	return b, nil
}

// =============================================================================
// BALANCE TOTALS (balances.Store interface)
// =============================================================================

// BilledTotals sums bill amounts by (customer, payer) up to the cutoff.
// Amounts are decimal strings, so summing happens in Go, not SQL.
func (s *Store) BilledTotals(ctx context.Context, companyID string, until time.Time) ([]balances.BilledGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, third_party_payer_id, net_incl_taxes
		FROM bills WHERE company_id = ? AND date <= ?
		ORDER BY created_at ASC
	`, companyID, until.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	for rows.Next() {
		var key balances.Key
		var amount string
		if err := rows.Scan(&key.CustomerID, &key.ThirdPartyPayerID, &amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt net_incl_taxes %q: %w", amount, err)
		}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]balances.BilledGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.BilledGroup{Key: key, Billed: totals[key]})
	}
	return out, nil
}

// CreditNoteTotals sums refunds by (customer, payer): the customer share for
// customer keys, the payer share for payer keys.
func (s *Store) CreditNoteTotals(ctx context.Context, companyID string, until time.Time) ([]balances.CreditGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, third_party_payer_id, incl_taxes_customer, incl_taxes_tpp
		FROM credit_notes WHERE company_id = ? AND date <= ?
		ORDER BY created_at ASC
	`, companyID, until.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query credit notes: %w", err)
	}
	defer rows.Close()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	for rows.Next() {
		var customerID, payerID, inclCustomer, inclTpp string
		if err := rows.Scan(&customerID, &payerID, &inclCustomer, &inclTpp); err != nil {
			return nil, err
		}
		custShare, err := decimal.NewFromString(inclCustomer)
		if err != nil {
			return nil, fmt.Errorf("corrupt incl_taxes_customer %q: %w", inclCustomer, err)
		}
		tppShare, err := decimal.NewFromString(inclTpp)
		if err != nil {
			return nil, fmt.Errorf("corrupt incl_taxes_tpp %q: %w", inclTpp, err)
		}

		// A credit note feeds two keys: the customer's own balance and,
		// when a payer share exists, the payer-side balance.
		custKey := balances.Key{CustomerID: customerID}
		if _, seen := totals[custKey]; !seen && !custShare.IsZero() {
			order = append(order, custKey)
		}
		if !custShare.IsZero() {
			totals[custKey] = totals[custKey].Add(custShare)
		}
		if payerID != "" && !tppShare.IsZero() {
			tppKey := balances.Key{CustomerID: customerID, ThirdPartyPayerID: payerID}
			if _, seen := totals[tppKey]; !seen {
				order = append(order, tppKey)
			}
			totals[tppKey] = totals[tppKey].Add(tppShare)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]balances.CreditGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.CreditGroup{Key: key, Refund: totals[key]})
	}
	return out, nil
}

// PaymentTotals sums payments by (customer, payer), refund-nature payments
// deducted.
func (s *Store) PaymentTotals(ctx context.Context, companyID string, until time.Time) ([]balances.PaymentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, third_party_payer_id, net_incl_taxes, nature
		FROM payments WHERE company_id = ? AND date <= ?
		ORDER BY created_at ASC
	`, companyID, until.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	for rows.Next() {
		var key balances.Key
		var amount, nature string
		if err := rows.Scan(&key.CustomerID, &key.ThirdPartyPayerID, &amount, &nature); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt net_incl_taxes %q: %w", amount, err)
		}
		if billing.PaymentNature(nature) == billing.PaymentRefund {
			d = d.Neg()
		}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]balances.PaymentGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.PaymentGroup{Key: key, Paid: totals[key]})
	}
	return out, nil
}

// =============================================================================
// REFERENCE DOCUMENTS (balances.ReferenceLoader and friends)
// =============================================================================

// PutCustomer upserts a customer document.
func (s *Store) PutCustomer(ctx context.Context, c customer.Customer) error {
	return s.putDoc(ctx, "customers", c.ID, c.CompanyID, c)
}

// PutPayer upserts a third-party payer document.
func (s *Store) PutPayer(ctx context.Context, p customer.ThirdPartyPayer) error {
	return s.putDoc(ctx, "third_party_payers", p.ID, p.CompanyID, p)
}

// PutService upserts a service document.
func (s *Store) PutService(ctx context.Context, sv pricing.Service) error {
	return s.putDoc(ctx, "services", sv.ID, sv.CompanyID, sv)
}

// PutAuxiliary upserts an auxiliary document with its contracts.
func (s *Store) PutAuxiliary(ctx context.Context, companyID string, a pay.Auxiliary) error {
	return s.putDoc(ctx, "auxiliaries", a.ID, companyID, a)
}

func (s *Store) putDoc(ctx context.Context, table, id, companyID string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, company_id, doc_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET company_id = excluded.company_id, doc_json = excluded.doc_json
	`, id, companyID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert %s document: %w", table, err)
	}
	return nil
}

// Customers loads all customer documents of a company, keyed by id.
func (s *Store) Customers(ctx context.Context, companyID string) (map[string]customer.Customer, error) {
	return loadDocs[customer.Customer](ctx, s, "customers", companyID)
}

// Payers loads all third-party payer documents of a company, keyed by id.
func (s *Store) Payers(ctx context.Context, companyID string) (map[string]customer.ThirdPartyPayer, error) {
	return loadDocs[customer.ThirdPartyPayer](ctx, s, "third_party_payers", companyID)
}

// Services loads all service documents of a company, keyed by id.
func (s *Store) Services(ctx context.Context, companyID string) (map[string]pricing.Service, error) {
	return loadDocs[pricing.Service](ctx, s, "services", companyID)
}

// Auxiliaries loads all auxiliary documents of a company, keyed by id.
func (s *Store) Auxiliaries(ctx context.Context, companyID string) (map[string]pay.Auxiliary, error) {
	return loadDocs[pay.Auxiliary](ctx, s, "auxiliaries", companyID)
}

func loadDocs[T any](ctx context.Context, s *Store, table, companyID string) (map[string]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_json FROM `+table+` WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]T)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document %s: %w", table, id, err)
		}
		out[id] = doc
	}
	return out, rows.Err()
}
