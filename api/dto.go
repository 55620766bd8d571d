/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract. Dates travel as
  RFC3339 strings; money and hours travel as decimal strings so clients
  never receive binary floats.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/schedule"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents an event in API responses.
type EventDTO struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	AuxiliaryID    string `json:"auxiliary_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Sector         string `json:"sector,omitempty"`
	Misc           string `json:"misc,omitempty"`
	Frequency      string `json:"frequency,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	IsCancelled    bool   `json:"is_cancelled"`
	IsBilled       bool   `json:"is_billed"`
}

// CreateEventRequest is the request to create an event.
type CreateEventRequest struct {
	Type           string `json:"type"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	AuxiliaryID    string `json:"auxiliary_id"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	Sector         string `json:"sector"`
	Misc           string `json:"misc"`
	Frequency      string `json:"frequency"`
}

// UpdateEventRequest is the request to patch an event.
type UpdateEventRequest struct {
	StartDate              string              `json:"start_date"`
	EndDate                string              `json:"end_date"`
	AuxiliaryID            string              `json:"auxiliary_id"`
	SubscriptionID         string              `json:"subscription_id"`
	Sector                 string              `json:"sector"`
	Misc                   string              `json:"misc"`
	Cancellation           *CancellationDTO    `json:"cancellation,omitempty"`
	ShouldUpdateRepetition bool                `json:"should_update_repetition"`
}

// CancellationDTO carries a cancellation condition and reason.
type CancellationDTO struct {
	Condition string `json:"condition"`
	Reason    string `json:"reason"`
}

func toEventDTO(ev schedule.Event) EventDTO {
	dto := EventDTO{
		ID:             ev.ID,
		Type:           string(ev.Type),
		StartDate:      ev.Interval.Start.Format(time.RFC3339),
		EndDate:        ev.Interval.End.Format(time.RFC3339),
		AuxiliaryID:    ev.AuxiliaryID,
		CustomerID:     ev.CustomerID,
		SubscriptionID: ev.SubscriptionID,
		Sector:         ev.Sector,
		Misc:           ev.Misc,
		IsCancelled:    ev.IsCancelled,
		IsBilled:       ev.IsBilled,
	}
	if ev.Repetition != nil {
		dto.Frequency = string(ev.Repetition.Frequency)
		dto.ParentID = ev.Repetition.ParentID
	}
	return dto
}

// =============================================================================
// PAY
// =============================================================================

// PaySummaryDTO represents one auxiliary's draft pay.
type PaySummaryDTO struct {
	AuxiliaryID               string `json:"auxiliary_id"`
	Firstname                 string `json:"firstname"`
	Lastname                  string `json:"lastname"`
	Sector                    string `json:"sector,omitempty"`
	StartDate                 string `json:"start_date"`
	EndDate                   string `json:"end_date"`
	WorkedHours               string `json:"worked_hours"`
	ContractHours             string `json:"contract_hours"`
	HoursBalance              string `json:"hours_balance"`
	NotSurchargedAndNotExempt string `json:"not_surcharged_and_not_exempt"`
	SurchargedAndNotExempt    string `json:"surcharged_and_not_exempt"`
	NotSurchargedAndExempt    string `json:"not_surcharged_and_exempt"`
	SurchargedAndExempt       string `json:"surcharged_and_exempt"`
}

func toPaySummaryDTO(s pay.Summary) PaySummaryDTO {
	return PaySummaryDTO{
		AuxiliaryID:               s.AuxiliaryID,
		Firstname:                 s.Firstname,
		Lastname:                  s.Lastname,
		Sector:                    s.Sector,
		StartDate:                 s.StartDate.Format(time.RFC3339),
		EndDate:                   s.EndDate.Format(time.RFC3339),
		WorkedHours:               s.WorkedHours.String(),
		ContractHours:             s.ContractHours.String(),
		HoursBalance:              s.HoursBalance.String(),
		NotSurchargedAndNotExempt: s.NotSurchargedAndNotExempt.String(),
		SurchargedAndNotExempt:    s.SurchargedAndNotExempt.String(),
		NotSurchargedAndExempt:    s.NotSurchargedAndExempt.String(),
		SurchargedAndExempt:       s.SurchargedAndExempt.String(),
	}
}

// =============================================================================
// BILLING
// =============================================================================

// GenerateBillsRequest asks for a billing run over a period.
type GenerateBillsRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID                string                `json:"id"`
	Number            string                `json:"number,omitempty"`
	CustomerID        string                `json:"customer_id"`
	ThirdPartyPayerID string                `json:"third_party_payer_id,omitempty"`
	Date              string                `json:"date"`
	NetInclTaxes      string                `json:"net_incl_taxes"`
	Subscriptions     []BillSubscriptionDTO `json:"subscriptions"`
}

// BillSubscriptionDTO is one bill line item.
type BillSubscriptionDTO struct {
	SubscriptionID string   `json:"subscription_id"`
	ServiceName    string   `json:"service_name"`
	UnitInclTaxes  string   `json:"unit_incl_taxes"`
	Hours          string   `json:"hours"`
	ExclTaxes      string   `json:"excl_taxes"`
	InclTaxes      string   `json:"incl_taxes"`
	CareHours      string   `json:"care_hours,omitempty"`
	EventIDs       []string `json:"event_ids,omitempty"`
}

func toBillDTO(b billing.Bill) BillDTO {
	dto := BillDTO{
		ID:                b.ID,
		Number:            b.Number,
		CustomerID:        b.CustomerID,
		ThirdPartyPayerID: b.ThirdPartyPayerID,
		Date:              b.Date.Format(time.RFC3339),
		NetInclTaxes:      b.NetInclTaxes.String(),
	}
	for _, sub := range b.Subscriptions {
		line := BillSubscriptionDTO{
			SubscriptionID: sub.SubscriptionID,
			ServiceName:    sub.ServiceName,
			UnitInclTaxes:  sub.UnitInclTaxes.String(),
			Hours:          sub.Hours.String(),
			ExclTaxes:      sub.ExclTaxes.String(),
			InclTaxes:      sub.InclTaxes.String(),
			EventIDs:       sub.EventIDs,
		}
		if !sub.CareHours.IsZero() {
			line.CareHours = sub.CareHours.String()
		}
		dto.Subscriptions = append(dto.Subscriptions, line)
	}
	return dto
}

// CreatePaymentRequest records a payment or refund.
type CreatePaymentRequest struct {
	CustomerID        string `json:"customer_id"`
	ThirdPartyPayerID string `json:"third_party_payer_id"`
	Date              string `json:"date"`
	NetInclTaxes      string `json:"net_incl_taxes"`
	Nature            string `json:"nature"` // payment or refund
	Type              string `json:"type"`   // direct_debit, check, transfer...
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO represents one reconciled balance.
type BalanceDTO struct {
	CustomerID        string `json:"customer_id"`
	ThirdPartyPayerID string `json:"third_party_payer_id,omitempty"`
	Billed            string `json:"billed"`
	Paid              string `json:"paid"`
	Balance           string `json:"balance"`
	ToPay             string `json:"to_pay"`
	ParticipationRate string `json:"participation_rate"`
}

func toBalanceDTO(b balances.Balance) BalanceDTO {
	return BalanceDTO{
		CustomerID:        b.Key.CustomerID,
		ThirdPartyPayerID: b.Key.ThirdPartyPayerID,
		Billed:            b.Billed.Sub(b.Refund).String(),
		Paid:              b.Paid.String(),
		Balance:           b.Amount.String(),
		ToPay:             b.ToPay.String(),
		ParticipationRate: b.ParticipationRate.String(),
	}
}
