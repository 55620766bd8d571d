package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
	"github.com/warp/care-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func careEvent(id, day, startHM, endHM string) schedule.Event {
	start, _ := time.Parse(time.RFC3339, day+"T"+startHM+":00Z")
	end, _ := time.Parse(time.RFC3339, day+"T"+endHM+":00Z")
	return schedule.Event{
		ID:             id,
		CompanyID:      "company-1",
		Type:           schedule.TypeIntervention,
		Interval:       core.Interval{Start: start, End: end},
		CustomerID:     "customer-1",
		SubscriptionID: "sub-1",
	}
}

func hourlyService() pricing.Service {
	return pricing.Service{
		ID: "service-1",
		Versions: []pricing.ServiceVersion{{
			StartDate: time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
			Name:      "Temps de qualité - autonomie",
			Nature:    pricing.NatureHourly,
		}},
	}
}

func customerWithSubscription(fundings ...customer.Funding) customer.Customer {
	return customer.Customer{
		ID:        "customer-1",
		CompanyID: "company-1",
		Subscriptions: []customer.Subscription{{
			ID:          "sub-1",
			ServiceID:   "service-1",
			UnitTTCRate: dec("11.17643"),
		}},
		Fundings: fundings,
	}
}

// =============================================================================
// DRAFT BILLS - CUSTOMER ONLY
// =============================================================================

func TestDraftBills_CustomerPaysEverythingWithoutFunding(t *testing.T) {
	// GIVEN: A subscription at 11.17643/h and two 2h events, no funding
	// WHEN: Drafting bills
	// THEN: One customer draft of 4h totalling 44.70572, no payer drafts

	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
			{Event: careEvent("ev-2", "2019-11-29", "10:00", "12:00"), Service: hourlyService()},
		},
	})
	require.NoError(t, err)

	require.Len(t, group.CustomerBills, 1)
	assert.Empty(t, group.ThirdPartyBills)

	draft := group.CustomerBills[0]
	assert.True(t, draft.Hours.Equal(dec("4")))
	assert.True(t, draft.InclTaxes.Equal(dec("44.70572")), "got %s", draft.InclTaxes)
	assert.Equal(t, "Temps de qualité - autonomie", draft.ServiceName)
	require.Len(t, draft.EventBills, 2)
	assert.Equal(t, "ev-1", draft.EventBills[0].EventID)
}

func TestDraftBills_SkipsCancelledAndRejectsBilled(t *testing.T) {
	store := memory.New()
	builder := billing.NewBuilder(store)
	ctx := context.Background()

	cancelled := careEvent("ev-1", "2019-11-22", "10:00", "12:00")
	cancelled.IsCancelled = true

	group, err := builder.DraftBills(ctx, billing.DraftInput{
		Customer: customerWithSubscription(),
		Events:   []billing.BillableEvent{{Event: cancelled, Service: hourlyService()}},
	})
	require.NoError(t, err)
	assert.Empty(t, group.CustomerBills, "nothing billable, nothing drafted")

	billed := careEvent("ev-2", "2019-11-22", "10:00", "12:00")
	billed.IsBilled = true

	_, err = builder.DraftBills(ctx, billing.DraftInput{
		Customer: customerWithSubscription(),
		Events:   []billing.BillableEvent{{Event: billed, Service: hourlyService()}},
	})
	assert.ErrorIs(t, err, billing.ErrAlreadyBilled)
}

func TestDraftBills_UnknownSubscription(t *testing.T) {
	store := memory.New()
	builder := billing.NewBuilder(store)

	ev := careEvent("ev-1", "2019-11-22", "10:00", "12:00")
	ev.SubscriptionID = "sub-unknown"

	_, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(),
		Events:   []billing.BillableEvent{{Event: ev, Service: hourlyService()}},
	})
	assert.ErrorIs(t, err, billing.ErrUnknownSubscription)
}

// =============================================================================
// DRAFT BILLS - HOURLY FUNDING
// =============================================================================

func hourlyFunding(careHours, unitRate, participation string) customer.Funding {
	return customer.Funding{
		ID:                "funding-1",
		SubscriptionID:    "sub-1",
		ThirdPartyPayerID: "payer-1",
		Nature:            pricing.NatureHourly,
		Frequency:         customer.FrequencyMonthly,
		Versions: []customer.FundingVersion{{
			ID:                        "fv-1",
			StartDate:                 time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
			CareHours:                 dec(careHours),
			UnitTTCRate:               dec(unitRate),
			CustomerParticipationRate: dec(participation),
		}},
	}
}

func TestDraftBills_HourlyFundingSplit(t *testing.T) {
	// GIVEN: An hourly monthly funding - 10h cap, 8/h, 40% customer
	//        participation - and one 2h event
	// WHEN: Drafting bills
	// THEN: The payer covers 2h x 8 x 60% = 9.6; the customer the remainder

	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("10", "8", "40")),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1", Name: "Conseil départemental"}},
	})
	require.NoError(t, err)

	require.Len(t, group.ThirdPartyBills, 1)
	tpp := group.ThirdPartyBills[0]
	assert.True(t, tpp.InclTaxes.Equal(dec("9.6")), "got %s", tpp.InclTaxes)
	assert.True(t, tpp.CareHours.Equal(dec("2")))
	assert.Equal(t, "fv-1", tpp.FundingVersionID)
	require.Len(t, tpp.EventBills, 1)
	assert.Equal(t, "2019-11", tpp.EventBills[0].Month, "monthly funding buckets by event month")

	require.Len(t, group.CustomerBills, 1)
	wantCustomer := dec("11.17643").Mul(dec("2")).Sub(dec("9.6"))
	assert.True(t, group.CustomerBills[0].InclTaxes.Equal(wantCustomer), "got %s", group.CustomerBills[0].InclTaxes)
}

func TestDraftBills_HourlyCapSharedAcrossRun(t *testing.T) {
	// GIVEN: A 3h monthly cap and two 2h events in the same month
	// WHEN: Drafting bills
	// THEN: The second event only gets the remaining hour funded

	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("3", "8", "0")),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
			{Event: careEvent("ev-2", "2019-11-29", "10:00", "12:00"), Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	require.Len(t, group.ThirdPartyBills, 1)
	assert.True(t, group.ThirdPartyBills[0].CareHours.Equal(dec("3")), "got %s", group.ThirdPartyBills[0].CareHours)
}

func TestDraftBills_HourlyFundingClampedToEventPrice(t *testing.T) {
	// A funding unit rate above the subscription rate must never produce a
	// negative customer share.
	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("10", "50", "0")),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	eventIncl := dec("11.17643").Mul(dec("2"))
	require.Len(t, group.ThirdPartyBills, 1)
	assert.True(t, group.ThirdPartyBills[0].InclTaxes.Equal(eventIncl))
	assert.Empty(t, group.CustomerBills, "customer owes nothing, no customer draft")
}

func TestDraftBills_CareDaysFilter(t *testing.T) {
	// Funding restricted to Mondays; the event is on a Friday.
	funding := hourlyFunding("10", "8", "0")
	funding.Versions[0].CareDays = []time.Weekday{time.Monday}

	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(funding),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	assert.Empty(t, group.ThirdPartyBills)
	require.Len(t, group.CustomerBills, 1)
	assert.True(t, group.CustomerBills[0].InclTaxes.Equal(dec("22.35286")))
}

// =============================================================================
// DRAFT BILLS - FIXED FUNDING
// =============================================================================

func TestDraftBills_FixedFundingAmountCap(t *testing.T) {
	// GIVEN: A fixed funding with 30 remaining and two events worth ~22.35 each
	// WHEN: Drafting bills
	// THEN: The first event is fully funded, the second only up to the cap

	funding := customer.Funding{
		ID:                "funding-1",
		SubscriptionID:    "sub-1",
		ThirdPartyPayerID: "payer-1",
		Nature:            pricing.NatureFixed,
		Frequency:         customer.FrequencyOnce,
		Versions: []customer.FundingVersion{{
			ID:        "fv-1",
			StartDate: time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
			Amount:    dec("30"),
		}},
	}

	store := memory.New()
	builder := billing.NewBuilder(store)

	group, err := builder.DraftBills(context.Background(), billing.DraftInput{
		Customer: customerWithSubscription(funding),
		Events: []billing.BillableEvent{
			{Event: careEvent("ev-1", "2019-11-22", "10:00", "12:00"), Service: hourlyService()},
			{Event: careEvent("ev-2", "2019-11-29", "10:00", "12:00"), Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	require.Len(t, group.ThirdPartyBills, 1)
	assert.True(t, group.ThirdPartyBills[0].InclTaxes.Equal(dec("30")), "got %s", group.ThirdPartyBills[0].InclTaxes)

	require.Len(t, group.CustomerBills, 1)
	wantCustomer := dec("44.70572").Sub(dec("30"))
	assert.True(t, group.CustomerBills[0].InclTaxes.Equal(wantCustomer))
}

// =============================================================================
// BILL NUMBERS
// =============================================================================

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "FACT-111900001", billing.FormatNumber("FACT-1119", 1))
	assert.Equal(t, "FACT-111900042", billing.FormatNumber("FACT-1119", 42))
}

// =============================================================================
// AGGREGATOR
// =============================================================================

func newAggregator(store *memory.Store) *billing.Aggregator {
	return billing.NewAggregator(store, store, store, store)
}

func TestFormatAndCreateBills_NumbersAreConsecutive(t *testing.T) {
	// GIVEN: A draft group with a customer side and one payer side
	// WHEN: Creating the bills
	// THEN: Numbers come from one consecutive sequence, customer first

	store := memory.New()
	builder := billing.NewBuilder(store)
	ctx := context.Background()

	ev1 := careEvent("ev-1", "2019-11-22", "10:00", "12:00")
	ev2 := careEvent("ev-2", "2019-11-29", "10:00", "12:00")
	require.NoError(t, store.Insert(ctx, ev1))
	require.NoError(t, store.Insert(ctx, ev2))

	group, err := builder.DraftBills(ctx, billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("10", "8", "40")),
		Events: []billing.BillableEvent{
			{Event: ev1, Service: hourlyService()},
			{Event: ev2, Service: hourlyService()},
		},
		Payers: map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	date := time.Date(2019, time.November, 30, 0, 0, 0, 0, time.UTC)
	bills, err := newAggregator(store).FormatAndCreateBills(ctx, "company-1", "FACT-1119", date, []billing.DraftBillGroup{group})
	require.NoError(t, err)

	require.Len(t, bills, 2)
	assert.Equal(t, "FACT-111900001", bills[0].Number)
	assert.Empty(t, bills[0].ThirdPartyPayerID)
	assert.Equal(t, "FACT-111900002", bills[1].Number)
	assert.Equal(t, "payer-1", bills[1].ThirdPartyPayerID)

	// Events carry their frozen snapshots.
	stored, err := store.GetByID(ctx, "ev-1")
	require.NoError(t, err)
	require.True(t, stored.IsBilled)
	require.NotNil(t, stored.Billing)
	assert.Equal(t, "payer-1", stored.Billing.ThirdPartyPayerID)
	assert.True(t, stored.Billing.InclTaxesTpp.Equal(dec("9.6")))
	assert.True(t, stored.Billing.InclTaxesCustomer.Add(stored.Billing.InclTaxesTpp).Equal(dec("22.35286")))

	// Funding history records the consumed hours.
	hours, _, err := store.Consumed(ctx, "fv-1", "2019-11")
	require.NoError(t, err)
	assert.True(t, hours.Equal(dec("4")))
}

func TestFormatAndCreateBills_ExternalBillingConsumesNoNumber(t *testing.T) {
	// GIVEN: A payer billed through its own system
	// WHEN: Creating bills for two customers around it
	// THEN: The external bill has no number and the sequence has no gap

	store := memory.New()
	builder := billing.NewBuilder(store)
	ctx := context.Background()

	ev := careEvent("ev-1", "2019-11-22", "10:00", "12:00")
	require.NoError(t, store.Insert(ctx, ev))

	group, err := builder.DraftBills(ctx, billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("10", "8", "40")),
		Events:   []billing.BillableEvent{{Event: ev, Service: hourlyService()}},
		Payers:   map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1", ExternallyBilled: true}},
	})
	require.NoError(t, err)

	date := time.Date(2019, time.November, 30, 0, 0, 0, 0, time.UTC)
	bills, err := newAggregator(store).FormatAndCreateBills(ctx, "company-1", "FACT-1119", date, []billing.DraftBillGroup{group})
	require.NoError(t, err)

	require.Len(t, bills, 2)
	assert.Equal(t, "FACT-111900001", bills[0].Number)
	assert.Empty(t, bills[1].Number, "externally billed payer gets no internal number")

	seq, err := store.Allocate(ctx, "company-1", "FACT-1119")
	require.NoError(t, err)
	assert.Equal(t, 2, seq, "the external bill consumed no sequence slot")
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func TestCreateCreditNote_ReversesFundingHistory(t *testing.T) {
	// GIVEN: A billed event consuming 2 funded hours
	// WHEN: Crediting the event
	// THEN: The funding history returns to zero, never below

	store := memory.New()
	builder := billing.NewBuilder(store)
	ctx := context.Background()

	ev := careEvent("ev-1", "2019-11-22", "10:00", "12:00")
	require.NoError(t, store.Insert(ctx, ev))

	group, err := builder.DraftBills(ctx, billing.DraftInput{
		Customer: customerWithSubscription(hourlyFunding("10", "8", "40")),
		Events:   []billing.BillableEvent{{Event: ev, Service: hourlyService()}},
		Payers:   map[string]customer.ThirdPartyPayer{"payer-1": {ID: "payer-1"}},
	})
	require.NoError(t, err)

	agg := newAggregator(store)
	date := time.Date(2019, time.November, 30, 0, 0, 0, 0, time.UTC)
	_, err = agg.FormatAndCreateBills(ctx, "company-1", "FACT-1119", date, []billing.DraftBillGroup{group})
	require.NoError(t, err)

	hours, _, err := store.Consumed(ctx, "fv-1", "2019-11")
	require.NoError(t, err)
	require.True(t, hours.Equal(dec("2")))

	billed, err := store.GetByID(ctx, "ev-1")
	require.NoError(t, err)

	cn := billing.CreditNote{
		ID:                "cn-1",
		CompanyID:         "company-1",
		CustomerID:        "customer-1",
		ThirdPartyPayerID: "payer-1",
		Date:              date,
		InclTaxesCustomer: billed.Billing.InclTaxesCustomer,
		InclTaxesTpp:      billed.Billing.InclTaxesTpp,
		EventIDs:          []string{"ev-1"},
	}
	require.NoError(t, agg.CreateCreditNote(ctx, cn, []schedule.Event{billed}))

	hours, _, err = store.Consumed(ctx, "fv-1", "2019-11")
	require.NoError(t, err)
	assert.True(t, hours.IsZero(), "got %s", hours)

	assert.True(t, cn.TotalInclTaxes().Equal(dec("22.35286")))
}
