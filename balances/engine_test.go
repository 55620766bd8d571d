package balances_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pricing"
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

func newTestEngine(t *testing.T) (*balances.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	return balances.NewEngine(store, store), store
}

func eligibleCustomer(id string) customer.Customer {
	signed := time.Date(2022, time.January, 15, 0, 0, 0, 0, time.UTC)
	return customer.Customer{
		ID:        id,
		CompanyID: "company-1",
		Payment: customer.PaymentInfo{
			IBAN:             "FR7630006000011234567890189",
			BIC:              "AGRIFRPP",
			BankAccountOwner: "Lucie Bernard",
			Mandates: []customer.Mandate{{
				ID:        "mandate-1",
				RUM:       "R012345678903456789",
				SignedAt:  &signed,
				CreatedAt: time.Date(2022, time.January, 10, 0, 0, 0, 0, time.UTC),
			}},
		},
	}
}

func bill(customerID, payerID, amount string, date time.Time) billing.Bill {
	return billing.Bill{
		CompanyID:         "company-1",
		CustomerID:        customerID,
		ThirdPartyPayerID: payerID,
		Date:              date,
		NetInclTaxes:      dec(amount),
	}
}

var cutoff = time.Date(2022, time.July, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// BALANCE MATH
// =============================================================================

func TestBalances_PaidMinusNetBilled(t *testing.T) {
	// GIVEN: 100 billed, 20 refunded, 50 paid for one customer
	// WHEN: Computing balances
	// THEN: Amount = 50 - (100 - 20) = -30

	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))

	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "", "100", date)}))
	require.NoError(t, store.InsertCreditNote(ctx, billing.CreditNote{
		CompanyID:         "company-1",
		CustomerID:        "customer-1",
		Date:              date,
		InclTaxesCustomer: dec("20"),
	}))
	require.NoError(t, store.InsertPayment(ctx, billing.Payment{
		CompanyID:    "company-1",
		CustomerID:   "customer-1",
		Date:         date,
		Nature:       billing.PaymentReceived,
		NetInclTaxes: dec("50"),
	}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)

	b := out[0]
	assert.True(t, b.Billed.Equal(dec("100")))
	assert.True(t, b.Refund.Equal(dec("20")))
	assert.True(t, b.Paid.Equal(dec("50")))
	assert.True(t, b.Amount.Equal(dec("-30")), "got %s", b.Amount)
	assert.True(t, b.ToPay.Equal(dec("30")), "eligible customer, owed amount becomes to-pay")
}

func TestBalances_RefundPaymentsReduceNetPaid(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))

	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertPayment(ctx, billing.Payment{
		CompanyID:    "company-1",
		CustomerID:   "customer-1",
		Date:         date,
		Nature:       billing.PaymentReceived,
		NetInclTaxes: dec("80"),
	}))
	require.NoError(t, store.InsertPayment(ctx, billing.Payment{
		CompanyID:    "company-1",
		CustomerID:   "customer-1",
		Date:         date,
		Nature:       billing.PaymentRefund,
		NetInclTaxes: dec("30"),
	}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Paid.Equal(dec("50")), "got %s", out[0].Paid)
}

func TestBalances_CutoffExcludesLaterDocuments(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{
		bill("customer-1", "", "100", time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)),
		bill("customer-1", "", "999", time.Date(2022, time.August, 1, 0, 0, 0, 0, time.UTC)),
	}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Billed.Equal(dec("100")))
}

// =============================================================================
// TO-PAY ELIGIBILITY
// =============================================================================

func TestBalances_ToPayRequiresDirectDebitEligibility(t *testing.T) {
	// GIVEN: A customer with an unsigned mandate owing money
	// WHEN: Computing balances
	// THEN: The debt shows in Amount but ToPay stays zero

	engine, store := newTestEngine(t)
	ctx := context.Background()

	cust := eligibleCustomer("customer-1")
	cust.Payment.Mandates[0].SignedAt = nil
	require.NoError(t, store.PutCustomer(ctx, cust))

	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "", "100", date)}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Amount.Equal(dec("-100")))
	assert.True(t, out[0].ToPay.IsZero())
}

func TestBalances_PositiveBalanceNeverToPay(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))
	require.NoError(t, store.InsertPayment(ctx, billing.Payment{
		CompanyID:    "company-1",
		CustomerID:   "customer-1",
		Date:         time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC),
		Nature:       billing.PaymentReceived,
		NetInclTaxes: dec("40"),
	}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Amount.Equal(dec("40")))
	assert.True(t, out[0].ToPay.IsZero())
}

// =============================================================================
// PARTICIPATION RATE
// =============================================================================

func TestBalances_ParticipationRateDefaultsToFull(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))
	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "", "100", date)}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].ParticipationRate.Equal(dec("100")))
}

func TestBalances_ApaFundingDrivesParticipationRate(t *testing.T) {
	// GIVEN: Two APA fundings with participation 10 and 25 (latest versions)
	//        plus a non-APA funding at 90
	// WHEN: Computing the customer balance
	// THEN: ParticipationRate is 25 - the highest APA rate; non-APA ignored

	engine, store := newTestEngine(t)
	ctx := context.Background()

	cust := eligibleCustomer("customer-1")
	cust.Fundings = []customer.Funding{
		{
			ID:                "funding-1",
			ThirdPartyPayerID: "payer-apa",
			Nature:            pricing.NatureHourly,
			Versions: []customer.FundingVersion{
				{ID: "fv-1", CreatedAt: time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC), CustomerParticipationRate: dec("40")},
				{ID: "fv-2", CreatedAt: time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC), CustomerParticipationRate: dec("10")},
			},
		},
		{
			ID:                "funding-2",
			ThirdPartyPayerID: "payer-apa",
			Nature:            pricing.NatureHourly,
			Versions: []customer.FundingVersion{
				{ID: "fv-3", CreatedAt: time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC), CustomerParticipationRate: dec("25")},
			},
		},
		{
			ID:                "funding-3",
			ThirdPartyPayerID: "payer-other",
			Nature:            pricing.NatureHourly,
			Versions: []customer.FundingVersion{
				{ID: "fv-4", CreatedAt: time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC), CustomerParticipationRate: dec("90")},
			},
		},
	}
	require.NoError(t, store.PutCustomer(ctx, cust))
	require.NoError(t, store.PutPayer(ctx, customer.ThirdPartyPayer{ID: "payer-apa", CompanyID: "company-1", IsApa: true}))
	require.NoError(t, store.PutPayer(ctx, customer.ThirdPartyPayer{ID: "payer-other", CompanyID: "company-1"}))

	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "", "100", date)}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].ParticipationRate.Equal(dec("25")), "got %s", out[0].ParticipationRate)
}

func TestBalances_PayerKeyCarriesNoParticipationRate(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))
	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "payer-1", "100", date)}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "payer-1", out[0].Key.ThirdPartyPayerID)
	assert.True(t, out[0].ParticipationRate.IsZero())
}

// =============================================================================
// ORPHAN GROUPS
// =============================================================================

func TestBalances_OrphanPaymentStillVisible(t *testing.T) {
	// A spontaneous payment with no bill produces its own balance record.
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-1")))
	require.NoError(t, store.PutCustomer(ctx, eligibleCustomer("customer-2")))

	date := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBills(ctx, []billing.Bill{bill("customer-1", "", "100", date)}))
	require.NoError(t, store.InsertPayment(ctx, billing.Payment{
		CompanyID:    "company-1",
		CustomerID:   "customer-2",
		Date:         date,
		Nature:       billing.PaymentReceived,
		NetInclTaxes: dec("60"),
	}))

	out, err := engine.Balances(ctx, "company-1", cutoff)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "customer-1", out[0].Key.CustomerID, "billed groups come first")
	assert.Equal(t, "customer-2", out[1].Key.CustomerID)
	assert.True(t, out[1].Billed.IsZero())
	assert.True(t, out[1].Amount.Equal(dec("60")))
}
