/*
aggregator.go - Bill creation from draft groups

PURPOSE:
  Turns draft-bill groups into persisted Bill documents: one aggregate
  customer bill per group, one bill per third-party payer, sequential
  numbers for everything not externally billed.

WRITE ORDERING:
  The run is not atomic across documents. Sequence numbers are consumed
  first (Allocate is itself the counter update), then funding-history
  deltas are applied, then events are marked billed with their snapshots,
  and bills are inserted last. A reader can therefore never observe a
  Bill whose referenced events are not marked billed. A failure mid-run
  can leave numbers consumed or events marked without a bill; that gap is
  inherited from the document model and surfaces in logs for
  reconciliation rather than being hidden behind a partial rollback.
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// Aggregator persists billing runs.
type Aggregator struct {
	Sequence SequenceAllocator
	History  FundingHistoryStore
	Events   EventBillingUpdater
	Bills    BillStore
}

func NewAggregator(seq SequenceAllocator, history FundingHistoryStore, events EventBillingUpdater, bills BillStore) *Aggregator {
	return &Aggregator{Sequence: seq, History: history, Events: events, Bills: bills}
}

// FormatAndCreateBills builds and persists the bills for all draft groups.
// Prefix is the company's bill-number prefix (e.g. "FACT-1119"); date stamps
// the bills. It returns the created bills in creation order.
func (a *Aggregator) FormatAndCreateBills(ctx context.Context, companyID, prefix string, date time.Time, groups []DraftBillGroup) ([]Bill, error) {
	var bills []Bill
	snapshots := make(map[string]*schedule.BillingSnapshot)
	var deltas []HistoryDelta

	for _, group := range groups {
		if len(group.CustomerBills) > 0 {
			bill, err := a.buildBill(ctx, companyID, prefix, date, group.Customer.ID, "", group.CustomerBills)
			if err != nil {
				return nil, err
			}
			bills = append(bills, bill)
			collectCustomerSnapshots(group.CustomerBills, snapshots)
		}

		for _, byPayer := range groupByPayer(group.ThirdPartyBills) {
			payerID := byPayer[0].ThirdPartyPayerID
			bill, err := a.buildBill(ctx, companyID, prefix, date, group.Customer.ID, payerID, byPayer)
			if err != nil {
				return nil, err
			}
			bills = append(bills, bill)
			collectPayerSnapshots(byPayer, snapshots)
			deltas = append(deltas, historyDeltas(byPayer)...)
		}
	}

	for _, delta := range deltas {
		if err := a.History.Increment(ctx, delta); err != nil {
			return nil, err
		}
	}
	for eventID, snap := range snapshots {
		if err := a.Events.MarkBilled(ctx, eventID, *snap); err != nil {
			return nil, err
		}
	}
	if err := a.Bills.InsertBills(ctx, bills); err != nil {
		return nil, err
	}
	return bills, nil
}

// buildBill assembles one Bill from the drafts of a single payer side.
// Externally-billed payer bills get no number and consume no sequence slot.
func (a *Aggregator) buildBill(ctx context.Context, companyID, prefix string, date time.Time, customerID, payerID string, drafts []DraftBill) (Bill, error) {
	bill := Bill{
		ID:                uuid.NewString(),
		CompanyID:         companyID,
		CustomerID:        customerID,
		ThirdPartyPayerID: payerID,
		Date:              date,
		CreatedAt:         time.Now().UTC(),
	}

	if !external(drafts) {
		seq, err := a.Sequence.Allocate(ctx, companyID, prefix)
		if err != nil {
			return Bill{}, err
		}
		bill.Number = FormatNumber(prefix, seq)
	}

	for _, draft := range drafts {
		bill.NetInclTaxes = bill.NetInclTaxes.Add(draft.InclTaxes)
		line := BillSubscription{
			SubscriptionID: draft.SubscriptionID,
			ServiceName:    draft.ServiceName,
			UnitInclTaxes:  draft.UnitInclTaxes,
			Hours:          draft.Hours,
			ExclTaxes:      draft.ExclTaxes,
			InclTaxes:      draft.InclTaxes,
		}
		if draft.Nature == pricing.NatureHourly && payerID != "" {
			line.CareHours = draft.CareHours
		}
		for _, eb := range draft.EventBills {
			line.EventIDs = append(line.EventIDs, eb.EventID)
		}
		bill.Subscriptions = append(bill.Subscriptions, line)
	}
	return bill, nil
}

func external(drafts []DraftBill) bool {
	for _, d := range drafts {
		if !d.ExternalBilling {
			return false
		}
	}
	return len(drafts) > 0
}

// groupByPayer partitions third-party drafts by payer, preserving first-seen
// order so numbering stays deterministic.
func groupByPayer(drafts []DraftBill) [][]DraftBill {
	byPayer := make(map[string][]DraftBill)
	var order []string
	for _, d := range drafts {
		if _, seen := byPayer[d.ThirdPartyPayerID]; !seen {
			order = append(order, d.ThirdPartyPayerID)
		}
		byPayer[d.ThirdPartyPayerID] = append(byPayer[d.ThirdPartyPayerID], d)
	}
	out := make([][]DraftBill, 0, len(order))
	for _, id := range order {
		out = append(out, byPayer[id])
	}
	return out
}

func collectCustomerSnapshots(drafts []DraftBill, snapshots map[string]*schedule.BillingSnapshot) {
	for _, draft := range drafts {
		for _, eb := range draft.EventBills {
			snap := snapshotFor(eb.EventID, snapshots)
			snap.InclTaxesCustomer = snap.InclTaxesCustomer.Add(eb.InclTaxes)
			snap.ExclTaxesCustomer = snap.ExclTaxesCustomer.Add(eb.ExclTaxes)
		}
	}
}

func collectPayerSnapshots(drafts []DraftBill, snapshots map[string]*schedule.BillingSnapshot) {
	for _, draft := range drafts {
		for _, eb := range draft.EventBills {
			snap := snapshotFor(eb.EventID, snapshots)
			snap.FundingID = draft.FundingID
			snap.FundingVersionID = draft.FundingVersionID
			snap.ThirdPartyPayerID = draft.ThirdPartyPayerID
			snap.Nature = draft.Nature
			snap.Frequency = string(draft.Frequency)
			snap.CareHours = snap.CareHours.Add(eb.CareHours)
			snap.InclTaxesTpp = snap.InclTaxesTpp.Add(eb.InclTaxes)
			snap.ExclTaxesTpp = snap.ExclTaxesTpp.Add(eb.ExclTaxes)
		}
	}
}

func snapshotFor(eventID string, snapshots map[string]*schedule.BillingSnapshot) *schedule.BillingSnapshot {
	snap, ok := snapshots[eventID]
	if !ok {
		snap = &schedule.BillingSnapshot{}
		snapshots[eventID] = snap
	}
	return snap
}

// historyDeltas derives the funding-history increments of a payer's drafts:
// care hours month-bucketed for hourly/monthly fundings, flat care hours for
// hourly/once, consumed amount for fixed fundings.
func historyDeltas(drafts []DraftBill) []HistoryDelta {
	merged := make(map[string]*HistoryDelta)
	var order []string
	for _, draft := range drafts {
		for _, eb := range draft.EventBills {
			key := draft.FundingVersionID + "|" + eb.Month
			delta, ok := merged[key]
			if !ok {
				delta = &HistoryDelta{
					FundingID:        draft.FundingID,
					FundingVersionID: draft.FundingVersionID,
					Month:            eb.Month,
				}
				merged[key] = delta
				order = append(order, key)
			}
			if draft.Nature == pricing.NatureHourly {
				delta.CareHours = delta.CareHours.Add(eb.CareHours)
			} else {
				delta.AmountTTC = delta.AmountTTC.Add(eb.InclTaxes)
			}
		}
	}
	out := make([]HistoryDelta, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

// CreateCreditNote persists a credit note and reverses the funding-history
// consumption of the events it cancels, reading each event's frozen billing
// snapshot. History accumulators are floored at zero by the store.
func (a *Aggregator) CreateCreditNote(ctx context.Context, cn CreditNote, events []schedule.Event) error {
	for _, ev := range events {
		if ev.Billing == nil || ev.Billing.FundingVersionID == "" {
			continue
		}
		snap := ev.Billing
		delta := HistoryDelta{
			FundingID:        snap.FundingID,
			FundingVersionID: snap.FundingVersionID,
		}
		if snap.Frequency == string(customer.FrequencyMonthly) {
			delta.Month = MonthBucket(ev.Interval.Start)
		}
		if snap.Nature == pricing.NatureHourly {
			delta.CareHours = snap.CareHours.Neg()
		} else {
			delta.AmountTTC = snap.InclTaxesTpp.Neg()
		}
		if err := a.History.Increment(ctx, delta); err != nil {
			return err
		}
	}
	return a.Bills.InsertCreditNote(ctx, cn)
}

// TotalInclTaxes sums a credit note's customer and payer shares.
func (cn CreditNote) TotalInclTaxes() decimal.Decimal {
	return cn.InclTaxesCustomer.Add(cn.InclTaxesTpp)
}
