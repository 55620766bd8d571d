/*
handlers.go - HTTP API handlers for the care engine

PURPOSE:
  Exposes the scheduling, pay, billing, and balance engines via REST.
  Handles HTTP request/response, JSON serialization, and delegates every
  decision to domain logic.

ENDPOINTS:
  Events:
    POST   /api/events                    Create event (repetition included)
    GET    /api/events/{id}               Get event
    PUT    /api/events/{id}               Patch event
    DELETE /api/events/{id}               Delete event
    DELETE /api/events/{id}/repetition    Delete event and future siblings

  Pay:
    GET    /api/pay/draft                 Draft pay for a period
    GET    /api/pay/draft/export          Same, as an XLSX workbook

  Billing:
    POST   /api/bills                     Billing run over a period
    GET    /api/bills/{id}/pdf            Bill PDF document
    POST   /api/payments                  Record a payment or refund

  Balances:
    GET    /api/balances                  Reconciled balances at a date

  Reference documents:
    PUT    /api/customers, /api/payers, /api/services, /api/auxiliaries

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: validation errors, invalid input
  - 404: resource not found
  - 409: scheduling conflict, billed-event mutation
  - 500: internal errors

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind the
  main application gateway.

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/config"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/excel"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/pdf"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Repository is the read/write surface the handlers need beyond what the
// engines already own. Both store implementations satisfy it.
type Repository interface {
	ByAuxiliaryInRange(ctx context.Context, auxiliaryID string, window core.Interval) ([]schedule.Event, error)
	ByCustomerInRange(ctx context.Context, customerID string, window core.Interval) ([]schedule.Event, error)

	Customers(ctx context.Context, companyID string) (map[string]customer.Customer, error)
	Payers(ctx context.Context, companyID string) (map[string]customer.ThirdPartyPayer, error)
	Services(ctx context.Context, companyID string) (map[string]pricing.Service, error)
	Auxiliaries(ctx context.Context, companyID string) (map[string]pay.Auxiliary, error)

	PutCustomer(ctx context.Context, c customer.Customer) error
	PutPayer(ctx context.Context, p customer.ThirdPartyPayer) error
	PutService(ctx context.Context, s pricing.Service) error
	PutAuxiliary(ctx context.Context, companyID string, a pay.Auxiliary) error

	BillByID(ctx context.Context, id string) (billing.Bill, error)
	InsertPayment(ctx context.Context, p billing.Payment) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo       Repository
	Schedule   *schedule.Engine
	Pay        *pay.Engine
	Builder    *billing.Builder
	Aggregator *billing.Aggregator
	Balances   *balances.Engine
	PDF        *pdf.Generator
	Excel      *excel.Generator
	Billing    config.BillingConfig
	Log        zerolog.Logger
}

func NewHandler(
	repo Repository,
	scheduleEngine *schedule.Engine,
	payEngine *pay.Engine,
	builder *billing.Builder,
	aggregator *billing.Aggregator,
	balanceEngine *balances.Engine,
	billingCfg config.BillingConfig,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		Repo:       repo,
		Schedule:   scheduleEngine,
		Pay:        payEngine,
		Builder:    builder,
		Aggregator: aggregator,
		Balances:   balanceEngine,
		PDF:        pdf.NewGenerator(),
		Excel:      excel.NewGenerator(),
		Billing:    billingCfg,
		Log:        log,
	}
}

// =============================================================================
// EVENT ENDPOINTS
// =============================================================================

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	start, end, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dates", err)
		return
	}

	ev := schedule.Event{
		CompanyID:      h.Billing.CompanyID,
		Type:           schedule.Type(req.Type),
		Interval:       core.Interval{Start: start, End: end},
		AuxiliaryID:    req.AuxiliaryID,
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Sector:         req.Sector,
		Misc:           req.Misc,
	}
	if req.Frequency != "" {
		ev.Repetition = &schedule.Repetition{Frequency: schedule.Frequency(req.Frequency)}
	}

	created, err := h.Schedule.Create(r.Context(), ev)
	if err != nil {
		h.writeDomainError(w, err, "failed to create event")
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(created))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Schedule.Events.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	start, end, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dates", err)
		return
	}

	patch := schedule.Patch{
		StartDate:              start,
		EndDate:                end,
		AuxiliaryID:            req.AuxiliaryID,
		SubscriptionID:         req.SubscriptionID,
		Sector:                 req.Sector,
		Misc:                   req.Misc,
		ShouldUpdateRepetition: req.ShouldUpdateRepetition,
	}
	if req.Cancellation != nil {
		patch.Cancellation = &schedule.Cancellation{
			Condition: req.Cancellation.Condition,
			Reason:    req.Cancellation.Reason,
		}
	}

	updated, err := h.Schedule.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeDomainError(w, err, "failed to update event")
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(updated))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Schedule.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "failed to delete event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) DeleteRepetition(w http.ResponseWriter, r *http.Request) {
	if err := h.Schedule.DeleteRepetition(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "failed to delete repetition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PAY ENDPOINTS
// =============================================================================

func (h *Handler) DraftPay(w http.ResponseWriter, r *http.Request) {
	summaries, status, err := h.draftPay(r)
	if err != nil {
		writeError(w, status, "failed to compute draft pay", err)
		return
	}

	dtos := make([]PaySummaryDTO, 0, len(summaries))
	for _, s := range summaries {
		dtos = append(dtos, toPaySummaryDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ExportDraftPay(w http.ResponseWriter, r *http.Request) {
	summaries, status, err := h.draftPay(r)
	if err != nil {
		writeError(w, status, "failed to compute draft pay", err)
		return
	}

	raw, err := h.Excel.Generate(summaries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render workbook", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="draft_pay.xlsx"`)
	w.Write(raw)
}

func (h *Handler) draftPay(r *http.Request) ([]pay.Summary, int, error) {
	start, end, err := parsePeriod(r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	period := core.Interval{Start: start, End: end}

	inputs, err := h.payInputs(r.Context(), period)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	summaries, err := h.Pay.DraftPay(inputs, period)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return summaries, http.StatusOK, nil
}

// payInputs joins each auxiliary's period events with their service data.
func (h *Handler) payInputs(ctx context.Context, period core.Interval) ([]pay.Input, error) {
	auxiliaries, err := h.Repo.Auxiliaries(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}
	customers, err := h.Repo.Customers(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}
	services, err := h.Repo.Services(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(auxiliaries))
	for id := range auxiliaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var inputs []pay.Input
	for _, id := range ids {
		aux := auxiliaries[id]
		if len(aux.Contracts) == 0 {
			continue // not under contract, not payable
		}
		events, err := h.Repo.ByAuxiliaryInRange(ctx, id, period)
		if err != nil {
			return nil, err
		}

		input := pay.Input{Auxiliary: aux}
		for _, ev := range events {
			if ev.Type != schedule.TypeIntervention {
				continue
			}
			service, ok := h.serviceForEvent(ev, customers, services)
			if !ok {
				h.Log.Warn().Str("event_id", ev.ID).Msg("event has no resolvable service, skipped from pay")
				continue
			}
			input.Events = append(input.Events, pay.EventWithService{Event: ev, Service: service})
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func (h *Handler) serviceForEvent(ev schedule.Event, customers map[string]customer.Customer, services map[string]pricing.Service) (pricing.Service, bool) {
	cust, ok := customers[ev.CustomerID]
	if !ok {
		return pricing.Service{}, false
	}
	sub, ok := cust.SubscriptionByID(ev.SubscriptionID)
	if !ok {
		return pricing.Service{}, false
	}
	service, ok := services[sub.ServiceID]
	return service, ok
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

func (h *Handler) GenerateBills(w http.ResponseWriter, r *http.Request) {
	var req GenerateBillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	start, end, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dates", err)
		return
	}
	period := core.Interval{Start: start, End: end}

	groups, err := h.draftGroups(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute draft bills", err)
		return
	}

	// Bill numbers carry the period's month: FACT-1119 + sequence.
	prefix := h.Billing.NumberPrefix + end.Format("0106")
	bills, err := h.Aggregator.FormatAndCreateBills(r.Context(), h.Billing.CompanyID, prefix, end, groups)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create bills", err)
		return
	}
	h.Log.Info().Int("bills", len(bills)).Str("prefix", prefix).Msg("billing run completed")

	dtos := make([]BillDTO, 0, len(bills))
	for _, b := range bills {
		dtos = append(dtos, toBillDTO(b))
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// draftGroups assembles one draft-bill group per customer with billable
// events in the period. Already-billed events are excluded so a re-run after
// a partial failure stays idempotent.
func (h *Handler) draftGroups(ctx context.Context, period core.Interval) ([]billing.DraftBillGroup, error) {
	customers, err := h.Repo.Customers(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}
	payers, err := h.Repo.Payers(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}
	services, err := h.Repo.Services(ctx, h.Billing.CompanyID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(customers))
	for id := range customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var groups []billing.DraftBillGroup
	for _, id := range ids {
		cust := customers[id]
		events, err := h.Repo.ByCustomerInRange(ctx, id, period)
		if err != nil {
			return nil, err
		}

		input := billing.DraftInput{Customer: cust, Payers: payers}
		for _, ev := range events {
			if ev.Type != schedule.TypeIntervention || ev.IsCancelled || ev.IsBilled {
				continue
			}
			service, ok := h.serviceForEvent(ev, customers, services)
			if !ok {
				h.Log.Warn().Str("event_id", ev.ID).Msg("event has no resolvable service, skipped from billing")
				continue
			}
			input.Events = append(input.Events, billing.BillableEvent{Event: ev, Service: service})
		}
		if len(input.Events) == 0 {
			continue
		}

		group, err := h.Builder.DraftBills(ctx, input)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (h *Handler) GetBillPDF(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Repo.BillByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "bill not found", err)
		return
	}
	customers, err := h.Repo.Customers(r.Context(), h.Billing.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load customer", err)
		return
	}

	doc := pdf.BillDocument{
		Bill:        bill,
		Customer:    customers[bill.CustomerID],
		CompanyName: h.Billing.CompanyID,
	}
	if bill.ThirdPartyPayerID != "" {
		payers, err := h.Repo.Payers(r.Context(), h.Billing.CompanyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load payer", err)
			return
		}
		doc.PayerName = payers[bill.ThirdPartyPayerID].Name
	}

	raw, err := h.PDF.Generate(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render bill", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, bill.Number))
	w.Write(raw)
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	amount, err := decimal.NewFromString(req.NetInclTaxes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	nature := billing.PaymentNature(req.Nature)
	if nature != billing.PaymentReceived && nature != billing.PaymentRefund {
		writeError(w, http.StatusBadRequest, "invalid nature", nil)
		return
	}

	p := billing.Payment{
		ID:                uuid.NewString(),
		CompanyID:         h.Billing.CompanyID,
		CustomerID:        req.CustomerID,
		ThirdPartyPayerID: req.ThirdPartyPayerID,
		Date:              date,
		NetInclTaxes:      amount,
		Nature:            nature,
		Type:              req.Type,
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Repo.InsertPayment(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID})
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	until := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date", err)
			return
		}
		until = parsed
	}

	result, err := h.Balances.Balances(r.Context(), h.Billing.CompanyID, until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute balances", err)
		return
	}

	dtos := make([]BalanceDTO, 0, len(result))
	for _, b := range result {
		dtos = append(dtos, toBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE DOCUMENT ENDPOINTS
// =============================================================================

func (h *Handler) PutCustomer(w http.ResponseWriter, r *http.Request) {
	var c customer.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CompanyID = h.Billing.CompanyID
	if err := h.Repo.PutCustomer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save customer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": c.ID})
}

func (h *Handler) PutPayer(w http.ResponseWriter, r *http.Request) {
	var p customer.ThirdPartyPayer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CompanyID = h.Billing.CompanyID
	if err := h.Repo.PutPayer(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save payer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": p.ID})
}

func (h *Handler) PutService(w http.ResponseWriter, r *http.Request) {
	var s pricing.Service
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CompanyID = h.Billing.CompanyID
	if err := h.Repo.PutService(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save service", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": s.ID})
}

func (h *Handler) PutAuxiliary(w http.ResponseWriter, r *http.Request) {
	var a pay.Auxiliary
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := h.Repo.PutAuxiliary(r.Context(), h.Billing.CompanyID, a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save auxiliary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": a.ID})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, schedule.ErrConflict), errors.Is(err, schedule.ErrBilledEvent):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, schedule.ErrEventNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, core.ErrInvalidInterval), errors.Is(err, schedule.ErrMultiDayEvent):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	return s, e, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
