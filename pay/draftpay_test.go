package pay_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/care-engine/contract"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) *pay.Engine {
	t.Helper()
	return pay.NewEngine(core.NewCalendar(), pay.CompanyConfig{
		Mutual:    true,
		Transport: decimal.NewFromInt(30),
	})
}

func mayPeriod() core.Interval {
	return core.Interval{
		Start: time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func auxiliaryWithContract(weeklyHours int64) pay.Auxiliary {
	return pay.Auxiliary{
		ID:        "aux-1",
		Firstname: "Jeanne",
		Lastname:  "Moreau",
		Sector:    "north",
		Contracts: []contract.Contract{{
			ID:          "contract-1",
			AuxiliaryID: "aux-1",
			StartDate:   time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
			Versions: []contract.Version{{
				StartDate:   time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
				WeeklyHours: decimal.NewFromInt(weeklyHours),
			}},
		}},
	}
}

func serviceWith(exemption bool, sur *pricing.Surcharge) pricing.Service {
	return pricing.Service{
		ID: "service-1",
		Versions: []pricing.ServiceVersion{{
			StartDate: time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
			Name:      "Autonomie",
			Nature:    pricing.NatureHourly,
			Exemption: exemption,
			Surcharge: sur,
		}},
	}
}

func careEvent(day, startHM, endHM string) schedule.Event {
	start, _ := time.Parse(time.RFC3339, day+"T"+startHM+":00Z")
	end, _ := time.Parse(time.RFC3339, day+"T"+endHM+":00Z")
	return schedule.Event{
		Type:        schedule.TypeIntervention,
		Interval:    core.Interval{Start: start, End: end},
		AuxiliaryID: "aux-1",
	}
}

// =============================================================================
// WORKED HOURS AND BUCKETS
// =============================================================================

func TestDraftPay_WorkedHoursAndBalance(t *testing.T) {
	// GIVEN: A 10h/week contract and two plain weekday events in May 2022
	// WHEN: Computing draft pay for the month
	// THEN: Worked hours sum, contract hours follow the proration formula,
	//       and the balance is their difference

	engine := newTestEngine(t)
	input := pay.Input{
		Auxiliary: auxiliaryWithContract(10),
		Events: []pay.EventWithService{
			{Event: careEvent("2022-05-03", "09:00", "11:00"), Service: serviceWith(false, nil)},
			{Event: careEvent("2022-05-04", "14:00", "17:30"), Service: serviceWith(false, nil)},
		},
	}

	summaries, err := engine.DraftPay([]pay.Input{input}, mayPeriod())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.True(t, s.WorkedHours.Equal(decimal.NewFromFloat(5.5)), "got %s", s.WorkedHours)

	wantContract := decimal.NewFromInt(10).Mul(core.WeeksPerMonth)
	assert.True(t, s.ContractHours.Equal(wantContract), "got %s", s.ContractHours)
	assert.True(t, s.HoursBalance.Equal(s.WorkedHours.Sub(wantContract)))

	// Plain weekday hours, non-exempt service: one bucket only.
	assert.True(t, s.NotSurchargedAndNotExempt.Equal(decimal.NewFromFloat(5.5)))
	assert.True(t, s.SurchargedAndNotExempt.IsZero())
	assert.True(t, s.NotSurchargedAndExempt.IsZero())
	assert.True(t, s.SurchargedAndExempt.IsZero())

	// Company config copied onto the summary.
	assert.True(t, s.Mutual)
	assert.True(t, s.Transport.Equal(decimal.NewFromInt(30)))
}

func TestDraftPay_ExemptionRoutesBuckets(t *testing.T) {
	// GIVEN: A Sunday surcharge plan; one exempt and one non-exempt service;
	//        one Sunday event under each
	// WHEN: Computing draft pay
	// THEN: Surcharged hours land in the bucket matching the exemption flag,
	//       with the detail maps kept separate

	engine := newTestEngine(t)
	sur := &pricing.Surcharge{Name: "Plan", Sunday: decimal.NewFromInt(25)}

	input := pay.Input{
		Auxiliary: auxiliaryWithContract(10),
		Events: []pay.EventWithService{
			{Event: careEvent("2022-05-15", "09:00", "11:00"), Service: serviceWith(false, sur)}, // Sunday
			{Event: careEvent("2022-05-22", "09:00", "12:00"), Service: serviceWith(true, sur)},  // Sunday
		},
	}

	summaries, err := engine.DraftPay([]pay.Input{input}, mayPeriod())
	require.NoError(t, err)
	s := summaries[0]

	assert.True(t, s.SurchargedAndNotExempt.Equal(decimal.NewFromInt(2)))
	assert.True(t, s.SurchargedAndExempt.Equal(decimal.NewFromInt(3)))
	assert.True(t, s.NotSurchargedAndNotExempt.IsZero())
	assert.True(t, s.NotSurchargedAndExempt.IsZero())

	assert.True(t, s.SurchargedAndNotExemptDetails["Plan"]["Dimanche - 25%"].Equal(decimal.NewFromInt(2)))
	assert.True(t, s.SurchargedAndExemptDetails["Plan"]["Dimanche - 25%"].Equal(decimal.NewFromInt(3)))
}

func TestDraftPay_CancelledEventsIgnored(t *testing.T) {
	engine := newTestEngine(t)

	cancelled := careEvent("2022-05-03", "09:00", "11:00")
	cancelled.IsCancelled = true

	input := pay.Input{
		Auxiliary: auxiliaryWithContract(10),
		Events: []pay.EventWithService{
			{Event: cancelled, Service: serviceWith(false, nil)},
		},
	}

	summaries, err := engine.DraftPay([]pay.Input{input}, mayPeriod())
	require.NoError(t, err)
	assert.True(t, summaries[0].WorkedHours.IsZero())
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestDraftPay_NoContractIsAnError(t *testing.T) {
	engine := newTestEngine(t)
	input := pay.Input{Auxiliary: pay.Auxiliary{ID: "aux-1"}}

	_, err := engine.DraftPay([]pay.Input{input}, mayPeriod())
	assert.ErrorIs(t, err, pay.ErrNoContract)
}

func TestDraftPay_UnresolvableServiceVersionPropagates(t *testing.T) {
	engine := newTestEngine(t)

	// Service version starts after the event: resolution must fail loudly.
	svc := pricing.Service{
		ID: "service-1",
		Versions: []pricing.ServiceVersion{{
			StartDate: time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	input := pay.Input{
		Auxiliary: auxiliaryWithContract(10),
		Events: []pay.EventWithService{
			{Event: careEvent("2022-05-03", "09:00", "11:00"), Service: svc},
		},
	}

	_, err := engine.DraftPay([]pay.Input{input}, mayPeriod())
	assert.ErrorIs(t, err, core.ErrNoMatchingVersion)
}
