/*
Package memory provides an in-memory implementation of the storage
interfaces, for tests and development.

Semantics mirror store/sqlite: same interfaces, same not-found errors, same
funding-history floor at zero. All maps are guarded by one RWMutex; values
are copied on the way in and out so callers never share state with the
store.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// Store keeps every collection in memory.
type Store struct {
	mu sync.RWMutex

	events      map[string]schedule.Event
	history     []schedule.HistoryRecord
	sequences   map[string]int // companyID + "|" + prefix
	fundingHist map[string]fundingEntry
	bills       []billing.Bill
	creditNotes []billing.CreditNote
	payments    []billing.Payment

	customers   map[string]customer.Customer
	payers      map[string]customer.ThirdPartyPayer
	services    map[string]pricing.Service
	auxiliaries map[string]auxiliaryDoc
}

type fundingEntry struct {
	fundingID string
	careHours decimal.Decimal
	amountTTC decimal.Decimal
}

type auxiliaryDoc struct {
	companyID string
	auxiliary pay.Auxiliary
}

func New() *Store {
	return &Store{
		events:      make(map[string]schedule.Event),
		sequences:   make(map[string]int),
		fundingHist: make(map[string]fundingEntry),
		customers:   make(map[string]customer.Customer),
		payers:      make(map[string]customer.ThirdPartyPayer),
		services:    make(map[string]pricing.Service),
		auxiliaries: make(map[string]auxiliaryDoc),
	}
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (s *Store) Insert(ctx context.Context, ev schedule.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = copyEvent(ev)
	return nil
}

func (s *Store) Update(ctx context.Context, ev schedule.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; !ok {
		return schedule.ErrEventNotFound
	}
	s.events[ev.ID] = copyEvent(ev)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return schedule.ErrEventNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return schedule.Event{}, schedule.ErrEventNotFound
	}
	return copyEvent(ev), nil
}

func (s *Store) ByAuxiliaryInRange(ctx context.Context, auxiliaryID string, window core.Interval) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schedule.Event
	for _, ev := range s.events {
		if ev.AuxiliaryID == auxiliaryID && window.Overlaps(ev.Interval) {
			out = append(out, copyEvent(ev))
		}
	}
	sortByStart(out)
	return out, nil
}

// ByCustomerInRange returns the customer's events overlapping the window.
func (s *Store) ByCustomerInRange(ctx context.Context, customerID string, window core.Interval) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schedule.Event
	for _, ev := range s.events {
		if ev.CustomerID == customerID && window.Overlaps(ev.Interval) {
			out = append(out, copyEvent(ev))
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) Siblings(ctx context.Context, parentID string, from time.Time) ([]schedule.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schedule.Event
	for _, ev := range s.events {
		member := ev.ID == parentID ||
			(ev.Repetition != nil && ev.Repetition.ParentID == parentID)
		if member && !ev.Interval.Start.Before(from) {
			out = append(out, copyEvent(ev))
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) MarkBilled(ctx context.Context, eventID string, snap schedule.BillingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return schedule.ErrEventNotFound
	}
	ev.IsBilled = true
	snapCopy := snap
	ev.Billing = &snapCopy
	s.events[eventID] = ev
	return nil
}

func copyEvent(ev schedule.Event) schedule.Event {
	out := ev
	if ev.Repetition != nil {
		r := *ev.Repetition
		out.Repetition = &r
	}
	if ev.Cancellation != nil {
		c := *ev.Cancellation
		out.Cancellation = &c
	}
	if ev.Billing != nil {
		b := *ev.Billing
		out.Billing = &b
	}
	return out
}

func sortByStart(events []schedule.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Interval.Start.Before(events[j].Interval.Start)
	})
}

// =============================================================================
// EVENT HISTORY
// =============================================================================

func (s *Store) Append(ctx context.Context, rec schedule.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.history = append(s.history, rec)
	return nil
}

// History returns a copy of the audit trail, for assertions in tests.
func (s *Store) History() []schedule.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.HistoryRecord, len(s.history))
	copy(out, s.history)
	return out
}

// =============================================================================
// BILL SEQUENCES
// =============================================================================

func (s *Store) Allocate(ctx context.Context, companyID, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := companyID + "|" + prefix
	s.sequences[key]++
	return s.sequences[key], nil
}

// =============================================================================
// FUNDING HISTORY
// =============================================================================

func (s *Store) Increment(ctx context.Context, delta billing.HistoryDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := delta.FundingVersionID + "|" + delta.Month
	entry := s.fundingHist[key]
	entry.fundingID = delta.FundingID
	entry.careHours = floorZero(entry.careHours.Add(delta.CareHours))
	entry.amountTTC = floorZero(entry.amountTTC.Add(delta.AmountTTC))
	s.fundingHist[key] = entry
	return nil
}

func (s *Store) Consumed(ctx context.Context, fundingVersionID, month string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.fundingHist[fundingVersionID+"|"+month]
	return entry.careHours, entry.amountTTC, nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// FINANCIAL DOCUMENTS
// =============================================================================

func (s *Store) InsertBills(ctx context.Context, bills []billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills = append(s.bills, bills...)
	return nil
}

func (s *Store) InsertCreditNote(ctx context.Context, cn billing.CreditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditNotes = append(s.creditNotes, cn)
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, p)
	return nil
}

// BillByID loads one bill, for document rendering.
func (s *Store) BillByID(ctx context.Context, id string) (billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bills {
		if b.ID == id {
			return b, nil
		}
	}
	return billing.Bill{}, fmt.Errorf("bill %s not found", id)
}

// Bills returns a copy of all persisted bills, for assertions in tests.
func (s *Store) Bills() []billing.Bill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Bill, len(s.bills))
	copy(out, s.bills)
	return out
}

// =============================================================================
// BALANCE TOTALS
// =============================================================================

func (s *Store) BilledTotals(ctx context.Context, companyID string, until time.Time) ([]balances.BilledGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	for _, b := range s.bills {
		if b.CompanyID != companyID || b.Date.After(until) {
			continue
		}
		key := balances.Key{CustomerID: b.CustomerID, ThirdPartyPayerID: b.ThirdPartyPayerID}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(b.NetInclTaxes)
	}

	out := make([]balances.BilledGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.BilledGroup{Key: key, Billed: totals[key]})
	}
	return out, nil
}

func (s *Store) CreditNoteTotals(ctx context.Context, companyID string, until time.Time) ([]balances.CreditGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	add := func(key balances.Key, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(amount)
	}
	for _, cn := range s.creditNotes {
		if cn.CompanyID != companyID || cn.Date.After(until) {
			continue
		}
		add(balances.Key{CustomerID: cn.CustomerID}, cn.InclTaxesCustomer)
		if cn.ThirdPartyPayerID != "" {
			add(balances.Key{CustomerID: cn.CustomerID, ThirdPartyPayerID: cn.ThirdPartyPayerID}, cn.InclTaxesTpp)
		}
	}

	out := make([]balances.CreditGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.CreditGroup{Key: key, Refund: totals[key]})
	}
	return out, nil
}

func (s *Store) PaymentTotals(ctx context.Context, companyID string, until time.Time) ([]balances.PaymentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[balances.Key]decimal.Decimal)
	var order []balances.Key
	for _, p := range s.payments {
		if p.CompanyID != companyID || p.Date.After(until) {
			continue
		}
		amount := p.NetInclTaxes
		if p.Nature == billing.PaymentRefund {
			amount = amount.Neg()
		}
		key := balances.Key{CustomerID: p.CustomerID, ThirdPartyPayerID: p.ThirdPartyPayerID}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(amount)
	}

	out := make([]balances.PaymentGroup, 0, len(order))
	for _, key := range order {
		out = append(out, balances.PaymentGroup{Key: key, Paid: totals[key]})
	}
	return out, nil
}

// =============================================================================
// REFERENCE DOCUMENTS
// =============================================================================

func (s *Store) PutCustomer(ctx context.Context, c customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
	return nil
}

func (s *Store) PutPayer(ctx context.Context, p customer.ThirdPartyPayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payers[p.ID] = p
	return nil
}

func (s *Store) PutService(ctx context.Context, sv pricing.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[sv.ID] = sv
	return nil
}

func (s *Store) PutAuxiliary(ctx context.Context, companyID string, a pay.Auxiliary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auxiliaries[a.ID] = auxiliaryDoc{companyID: companyID, auxiliary: a}
	return nil
}

func (s *Store) Customers(ctx context.Context, companyID string) (map[string]customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]customer.Customer)
	for id, c := range s.customers {
		if c.CompanyID == companyID {
			out[id] = c
		}
	}
	return out, nil
}

func (s *Store) Payers(ctx context.Context, companyID string) (map[string]customer.ThirdPartyPayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]customer.ThirdPartyPayer)
	for id, p := range s.payers {
		if p.CompanyID == companyID {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) Services(ctx context.Context, companyID string) (map[string]pricing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]pricing.Service)
	for id, sv := range s.services {
		if sv.CompanyID == companyID {
			out[id] = sv
		}
	}
	return out, nil
}

func (s *Store) Auxiliaries(ctx context.Context, companyID string) (map[string]pay.Auxiliary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]pay.Auxiliary)
	for id, doc := range s.auxiliaries {
		if doc.companyID == companyID {
			out[id] = doc.auxiliary
		}
	}
	return out, nil
}
