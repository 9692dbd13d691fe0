/*
handlers.go - HTTP API handlers for the table ledger

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine (billing package).

ENDPOINTS:
  Customers:
    GET    /api/customers                    List customers
    POST   /api/customers                    Create customer (initial credit fixed here)
    GET    /api/customers/{id}               Customer details
    GET    /api/customers/{id}/balance       Reconciled balance
    GET    /api/customers/{id}/statement     Balance + charges + payments
    POST   /api/customers/{id}/payments      Apply a payment (FIFO)
    POST   /api/customers/{id}/charges       Manual charge

  Frames:
    POST   /api/frames                       Start a frame
    GET    /api/frames/{id}                  Frame with its charges
    POST   /api/frames/{id}/complete         Price, distribute and bill a frame
    GET    /api/sessions/{id}/frames         Frames of a session

  Rate cards:
    GET    /api/rate-cards                   List rate cards
    POST   /api/rate-cards                   Create/replace rate card from JSON
    GET    /api/rate-cards/{id}              Rate card details

  Billing (pure, nothing is written):
    POST   /api/billing/total                Frame total
    POST   /api/billing/distribute           Charge distribution preview

  Admin:
    GET    /api/audit                        Run the ledger audit now

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse, status picked by error kind:
  - 400: ErrValidation, ErrPolicy, malformed body
  - 404: ErrNotFound, unknown rate card
  - 409: frame already billed, duplicate customer
  - 422: ErrArithmetic (overflow, more than two decimals)
  - 503: ErrConcurrency, with Retry-After
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/metrics"
	"github.com/warp/table-ledger/rates"
	"github.com/warp/table-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Engine   *billing.Engine
	Factory  *rates.Factory
	Auditor  *billing.Auditor
	Logger   *slog.Logger
	Accepted func(method string) bool // nil accepts every payment method

	mu              sync.RWMutex
	rateCards       map[string]*rates.RateCard
	currentScenario string
}

// NewHandler creates a handler over store and engine.
func NewHandler(store *sqlite.Store, engine *billing.Engine) *Handler {
	return &Handler{
		Store:     store,
		Engine:    engine,
		Factory:   rates.NewFactory(),
		Auditor:   &billing.Auditor{Store: store},
		Logger:    slog.Default(),
		rateCards: make(map[string]*rates.RateCard),
	}
}

// LoadRateCards loads all rate cards from the database into cache.
func (h *Handler) LoadRateCards(ctx context.Context) error {
	records, err := h.Store.ListRateCards(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range records {
		card, err := h.Factory.Parse(r.ConfigJSON)
		if err != nil {
			h.Logger.Warn("skipping invalid rate card", slog.String("id", r.ID), slog.String("error", err.Error()))
			continue
		}
		h.rateCards[card.ID] = card
	}
	return nil
}

func (h *Handler) rateCard(ctx context.Context, id string) (*rates.RateCard, error) {
	h.mu.RLock()
	card, ok := h.rateCards[id]
	h.mu.RUnlock()
	if ok {
		return card, nil
	}

	rec, err := h.Store.GetRateCard(ctx, id)
	if err != nil {
		return nil, err
	}
	card, err = h.Factory.Parse(rec.ConfigJSON)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.rateCards[id] = card
	h.mu.Unlock()
	return card, nil
}

func (h *Handler) resetCache() {
	h.mu.Lock()
	h.rateCards = make(map[string]*rates.RateCard)
	h.mu.Unlock()
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a customer with an optional opening debt.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decode(w, r, &req) {
		return
	}

	credit, err := parseAmount("initial_credit", req.InitialCredit, false)
	if err != nil {
		h.fail(w, r, "Invalid initial_credit", err)
		return
	}

	c, err := h.Engine.CreateCustomer(r.Context(), billing.NewCustomer{
		ID:            billing.CustomerID(req.ID),
		Name:          req.Name,
		Contact:       req.Contact,
		InitialCredit: credit,
	})
	if err != nil {
		h.fail(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*c))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCustomer(r.Context(), customerParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// GetBalance returns the reconciled balance of a customer.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Engine.GetBalance(r.Context(), customerParam(r))
	if err != nil {
		h.fail(w, r, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

// GetStatement returns balance, charges (oldest first) and payments.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.Statement(r.Context(), customerParam(r))
	if err != nil {
		h.fail(w, r, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// ApplyPayment records a payment and allocates it oldest charge first.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req ApplyPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		h.fail(w, r, "Invalid amount", err)
		return
	}
	if req.Method != "" && h.Accepted != nil && !h.Accepted(req.Method) {
		writeError(w, http.StatusBadRequest, "Unsupported payment method", fmt.Errorf("method %q is not accepted", req.Method))
		return
	}

	id := customerParam(r)
	res, err := h.Engine.ApplyPayment(r.Context(), id, amount, req.Method)
	if err != nil {
		h.fail(w, r, "Failed to apply payment", err)
		return
	}

	dto := toPaymentResultDTO(res)
	if bal, err := h.Engine.GetBalance(r.Context(), id); err == nil {
		b := toBalanceDTO(bal)
		dto.Balance = &b
	} else {
		h.Logger.Warn("balance after payment unavailable", slog.String("customer_id", string(id)), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusCreated, dto)
}

// AddCharge posts a manual charge that belongs to no frame.
func (h *Handler) AddCharge(w http.ResponseWriter, r *http.Request) {
	var req ManualChargeRequest
	if !decode(w, r, &req) {
		return
	}

	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		h.fail(w, r, "Invalid amount", err)
		return
	}

	c, err := h.Engine.AddManualCharge(r.Context(), customerParam(r), amount, req.Description)
	if err != nil {
		h.fail(w, r, "Failed to add charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTO(*c))
}

// =============================================================================
// FRAME HANDLERS
// =============================================================================

// StartFrame opens an unbilled frame.
func (h *Handler) StartFrame(w http.ResponseWriter, r *http.Request) {
	var req StartFrameRequest
	if !decode(w, r, &req) {
		return
	}

	in := billing.FrameStart{
		ID:           billing.FrameID(req.ID),
		SessionID:    billing.SessionID(req.SessionID),
		TableName:    req.TableName,
		Participants: fromParticipants(req.Participants),
	}

	if req.RateCardID != "" {
		card, err := h.rateCard(r.Context(), req.RateCardID)
		if err != nil {
			h.fail(w, r, "Failed to load rate card", err)
			return
		}
		in.BaseRate = card.BaseRate
		in.PayerMode = card.DefaultPayerMode
	}
	if req.BaseRate != "" || req.RateCardID == "" {
		base, err := parseAmount("base_rate", req.BaseRate, true)
		if err != nil {
			h.fail(w, r, "Invalid base_rate", err)
			return
		}
		in.BaseRate = base
	}
	if req.PayerMode != "" {
		mode, err := billing.ParsePayerMode(req.PayerMode)
		if err != nil {
			h.fail(w, r, "Invalid payer_mode", err)
			return
		}
		in.PayerMode = mode
	}

	f, err := h.Engine.StartFrame(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to start frame", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFrameDTO(*f))
}

// GetFrame returns a frame and the charges it produced.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id := billing.FrameID(chi.URLParam(r, "id"))

	f, err := h.Store.GetFrame(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get frame", err)
		return
	}
	charges, err := h.Store.ChargesByFrame(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get frame charges", err)
		return
	}
	writeJSON(w, http.StatusOK, FrameBillingDTO{Frame: toFrameDTO(*f), Charges: toChargeDTOs(charges)})
}

// CompleteFrame ends a frame, prices it and creates its charges.
func (h *Handler) CompleteFrame(w http.ResponseWriter, r *http.Request) {
	var req CompleteFrameRequest
	if !decode(w, r, &req) {
		return
	}

	in, err := h.completion(r.Context(), billing.FrameID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.fail(w, r, "Invalid completion", err)
		return
	}

	res, err := h.Engine.CompleteFrame(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to complete frame", err)
		return
	}
	writeJSON(w, http.StatusOK, FrameBillingDTO{
		Frame:    toFrameDTO(res.Frame),
		Charges:  toChargeDTOs(res.Charges),
		Warnings: res.Warnings,
	})
}

// completion turns a request into engine input, pricing overtime from a
// rate card when played_minutes is given.
func (h *Handler) completion(ctx context.Context, id billing.FrameID, req CompleteFrameRequest) (billing.FrameCompletion, error) {
	in := billing.FrameCompletion{
		FrameID:         id,
		OvertimeMinutes: req.OvertimeMinutes,
		WinnerID:        optionalCustomer(req.WinnerID),
		LoserID:         optionalCustomer(req.LoserID),
	}

	var err error
	if in.OvertimeAmount, err = parseAmount("overtime_amount", req.OvertimeAmount, false); err != nil {
		return in, err
	}
	if in.LumpSumFine, err = parseAmount("lump_sum_fine", req.LumpSumFine, false); err != nil {
		return in, err
	}
	if in.Discount, err = parseAmount("discount", req.Discount, false); err != nil {
		return in, err
	}

	if req.PlayedMinutes != nil {
		if req.RateCardID == "" {
			return in, fmt.Errorf("played_minutes needs a rate_card_id: %w", billing.ErrValidation)
		}
		card, err := h.rateCard(ctx, req.RateCardID)
		if err != nil {
			return in, err
		}
		q, err := card.Quote(*req.PlayedMinutes)
		if err != nil {
			return in, err
		}
		in.OvertimeMinutes = q.OvertimeMinutes
		in.OvertimeAmount = q.OvertimeAmount
	}

	if req.PayerMode != "" {
		if in.PayerMode, err = billing.ParsePayerMode(req.PayerMode); err != nil {
			return in, err
		}
	}
	if in.Custom, err = parseDrafts(req.Custom); err != nil {
		return in, err
	}
	return in, nil
}

// ListSessionFrames returns every frame of a table session.
func (h *Handler) ListSessionFrames(w http.ResponseWriter, r *http.Request) {
	frames, err := h.Store.ListFramesBySession(r.Context(), billing.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to list frames", err)
		return
	}

	dtos := make([]FrameDTO, len(frames))
	for i, f := range frames {
		dtos[i] = toFrameDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RATE CARD HANDLERS
// =============================================================================

// ListRateCards returns all stored rate cards.
func (h *Handler) ListRateCards(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRateCards(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list rate cards", err)
		return
	}

	dtos := make([]RateCardDTO, 0, len(records))
	for _, rec := range records {
		dto, err := h.rateCardDTO(rec)
		if err != nil {
			h.Logger.Warn("skipping invalid rate card", slog.String("id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRateCard returns a single rate card.
func (h *Handler) GetRateCard(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetRateCard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get rate card", err)
		return
	}
	dto, err := h.rateCardDTO(*rec)
	if err != nil {
		h.fail(w, r, "Stored rate card is invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateRateCard validates a rate card and stores it. Posting an existing
// id replaces the card and bumps its version.
func (h *Handler) CreateRateCard(w http.ResponseWriter, r *http.Request) {
	var req rates.RateCardJSON
	if !decode(w, r, &req) {
		return
	}

	card, err := h.Factory.FromJSON(req)
	if err != nil {
		h.fail(w, r, "Invalid rate card", err)
		return
	}

	if err := h.saveRateCard(r.Context(), card); err != nil {
		h.fail(w, r, "Failed to save rate card", err)
		return
	}

	rec, err := h.Store.GetRateCard(r.Context(), card.ID)
	if err != nil {
		h.fail(w, r, "Failed to reload rate card", err)
		return
	}
	dto, err := h.rateCardDTO(*rec)
	if err != nil {
		h.fail(w, r, "Stored rate card is invalid", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) saveRateCard(ctx context.Context, card *rates.RateCard) error {
	configJSON, err := json.Marshal(card.ToJSON())
	if err != nil {
		return err
	}
	if err := h.Store.SaveRateCard(ctx, sqlite.RateCardRecord{
		ID:         card.ID,
		Name:       card.Name,
		ConfigJSON: string(configJSON),
	}); err != nil {
		return err
	}

	h.mu.Lock()
	h.rateCards[card.ID] = card
	h.mu.Unlock()
	return nil
}

func (h *Handler) rateCardDTO(rec sqlite.RateCardRecord) (RateCardDTO, error) {
	card, err := h.Factory.Parse(rec.ConfigJSON)
	if err != nil {
		return RateCardDTO{}, err
	}
	return RateCardDTO{
		RateCardJSON: card.ToJSON(),
		Version:      rec.Version,
		UpdatedAt:    rec.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// =============================================================================
// PURE BILLING HANDLERS
// =============================================================================

// ComputeTotal prices a frame without touching the ledger.
func (h *Handler) ComputeTotal(w http.ResponseWriter, r *http.Request) {
	var req TotalRequest
	if !decode(w, r, &req) {
		return
	}

	var in billing.FrameCharges
	var err error
	if in.BaseRate, err = parseAmount("base_rate", req.BaseRate, true); err == nil {
		if in.OvertimeAmount, err = parseAmount("overtime_amount", req.OvertimeAmount, false); err == nil {
			if in.LumpSumFine, err = parseAmount("lump_sum_fine", req.LumpSumFine, false); err == nil {
				in.Discount, err = parseAmount("discount", req.Discount, false)
			}
		}
	}
	if err != nil {
		h.fail(w, r, "Invalid amount", err)
		return
	}

	total, err := billing.ComputeTotal(in)
	if err != nil {
		h.fail(w, r, "Failed to compute total", err)
		return
	}
	dto := TotalDTO{Total: total.Total.String()}
	if total.Clamp != nil {
		dto.Warning = total.Clamp.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// DistributeCharges previews how a total would be charged. Nothing is
// written and participants need not exist.
func (h *Handler) DistributeCharges(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if !decode(w, r, &req) {
		return
	}

	total, err := parseAmount("total", req.Total, true)
	if err != nil {
		h.fail(w, r, "Invalid total", err)
		return
	}
	mode, err := billing.ParsePayerMode(req.PayerMode)
	if err != nil {
		h.fail(w, r, "Invalid payer_mode", err)
		return
	}
	custom, err := parseDrafts(req.Custom)
	if err != nil {
		h.fail(w, r, "Invalid custom charges", err)
		return
	}

	frameID := req.FrameID
	if frameID == "" {
		frameID = "preview"
	}
	drafts, err := billing.Distribute(billing.DistributionRequest{
		FrameID:      billing.FrameID(frameID),
		Label:        req.Label,
		Total:        total,
		Mode:         mode,
		Participants: fromParticipants(req.Participants),
		WinnerID:     optionalCustomer(req.WinnerID),
		LoserID:      optionalCustomer(req.LoserID),
		Custom:       custom,
	})
	if err != nil {
		h.fail(w, r, "Failed to distribute charges", err)
		return
	}

	dtos := make([]ChargeDraftDTO, len(drafts))
	for i, d := range drafts {
		dtos[i] = ChargeDraftDTO{CustomerID: string(d.CustomerID), Amount: d.Amount.String(), Description: d.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAudit checks the ledger invariants across every customer.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.Audit(r.Context())
	metrics.AuditFinished(report, err)
	if err != nil {
		h.fail(w, r, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func customerParam(r *http.Request) billing.CustomerID {
	return billing.CustomerID(chi.URLParam(r, "id"))
}

// parseAmount parses a decimal string. An empty optional amount is zero.
func parseAmount(field, s string, required bool) (billing.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return billing.Zero, &billing.InvalidAmountError{Field: field, Value: s, Reason: "is required"}
		}
		return billing.Zero, nil
	}
	m, err := billing.ParseMoney(s)
	if err != nil {
		var ia *billing.InvalidAmountError
		if errors.As(err, &ia) {
			ia.Field = field
		}
		return billing.Zero, err
	}
	return m, nil
}

func parseDrafts(in []ChargeDraftDTO) ([]billing.ChargeDraft, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]billing.ChargeDraft, len(in))
	for i, d := range in {
		amount, err := parseAmount("custom.amount", d.Amount, true)
		if err != nil {
			return nil, err
		}
		out[i] = billing.ChargeDraft{
			CustomerID:  billing.CustomerID(d.CustomerID),
			Amount:      amount,
			Description: d.Description,
		}
	}
	return out, nil
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrConcurrency):
		return http.StatusServiceUnavailable
	case errors.Is(err, billing.ErrFrameAlreadyBilled), errors.Is(err, billing.ErrDuplicateCustomer):
		return http.StatusConflict
	case billing.IsNotFound(err), errors.Is(err, billing.ErrRateCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrArithmetic):
		return http.StatusUnprocessableEntity
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status of its kind.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.Logger.Error(message, slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, message, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
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
