/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	ledger showing one billing feature each. Every scenario goes through
	the engine, exactly like API traffic would.

AVAILABLE SCENARIOS:

	credit-fifo:    Opening debt of 100.00, two charges, one 150.00 payment
	payer-modes:    LOSER pays 500.00; SPLIT of 100.01 across three players
	rate-cards:     Per-minute and lump-sum overtime, clamped discount, CUSTOM

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create rate cards via rates presets
 3. Create customers
 4. Start and complete frames
 5. Optionally apply payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "credit-fifo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loadScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/rates"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "credit-fifo",
		Name:        "Opening Debt + FIFO",
		Description: "Initial credit 100.00, charges 60.00 and 40.00, payment 150.00 leaves a balance of 50.00",
		Category:    "payments",
	},
	{
		ID:          "payer-modes",
		Name:        "Loser Pays / Split",
		Description: "LOSER frame of 500.00 and a SPLIT of 100.01 into 33.35 / 33.33 / 33.33",
		Category:    "billing",
	},
	{
		ID:          "rate-cards",
		Name:        "Rate Cards & Overtime",
		Description: "Per-minute and lump-sum overtime, a discount clamped to zero, a CUSTOM split",
		Category:    "billing",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase wipes every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.resetCache()
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	if err := h.reset(ctx); err != nil {
		return err
	}

	var err error
	switch id {
	case "credit-fifo":
		err = h.loadCreditFIFOScenario(ctx)
	case "payer-modes":
		err = h.loadPayerModesScenario(ctx)
	case "rate-cards":
		err = h.loadRateCardsScenario(ctx)
	default:
		err = fmt.Errorf("unknown scenario %q: %w", id, billing.ErrValidation)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Dana carries 100.00 of old debt and loses two frames (60.00, 40.00).
// Paying 150.00 settles both frames and retires 50.00 of the old debt.
func (h *Handler) loadCreditFIFOScenario(ctx context.Context) error {
	if err := h.customers(ctx,
		billing.NewCustomer{ID: "dana", Name: "Dana Whitfield", Contact: "+1 555 0101", InitialCredit: billing.MustMoney("100.00")},
		billing.NewCustomer{ID: "sam", Name: "Sam Ortega"},
	); err != nil {
		return err
	}

	roster := []billing.FrameParticipant{{CustomerID: "sam", IsWinner: true}, {CustomerID: "dana"}}
	for i, base := range []string{"60.00", "40.00"} {
		if _, err := h.playFrame(ctx, billing.FrameStart{
			ID:           billing.FrameID(fmt.Sprintf("credit-frame-%d", i+1)),
			SessionID:    "credit-session",
			TableName:    "Table 3",
			BaseRate:     billing.MustMoney(base),
			PayerMode:    billing.PayerLoser,
			Participants: roster,
		}, billing.FrameCompletion{}); err != nil {
			return err
		}
	}

	_, err := h.Engine.ApplyPayment(ctx, "dana", billing.MustMoney("150.00"), "cash")
	return err
}

func (h *Handler) loadPayerModesScenario(ctx context.Context) error {
	if err := h.customers(ctx,
		billing.NewCustomer{ID: "lena", Name: "Lena Park"},
		billing.NewCustomer{ID: "will", Name: "Will Duarte"},
		billing.NewCustomer{ID: "ana", Name: "Ana Ruiz"},
		billing.NewCustomer{ID: "ben", Name: "Ben Cole"},
		billing.NewCustomer{ID: "cy", Name: "Cy Moreau"},
	); err != nil {
		return err
	}

	if _, err := h.playFrame(ctx, billing.FrameStart{
		ID:        "loser-frame",
		SessionID: "modes-session",
		TableName: "VIP Table",
		BaseRate:  billing.MustMoney("500.00"),
		PayerMode: billing.PayerLoser,
		Participants: []billing.FrameParticipant{
			{CustomerID: "will", IsWinner: true},
			{CustomerID: "lena"},
		},
	}, billing.FrameCompletion{}); err != nil {
		return err
	}

	_, err := h.playFrame(ctx, billing.FrameStart{
		ID:        "split-frame",
		SessionID: "modes-session",
		TableName: "Table 1",
		BaseRate:  billing.MustMoney("100.01"),
		PayerMode: billing.PayerSplit,
		Participants: []billing.FrameParticipant{
			{CustomerID: "ana", Team: "red"},
			{CustomerID: "ben", Team: "blue"},
			{CustomerID: "cy", Team: "blue"},
		},
	}, billing.FrameCompletion{})
	return err
}

func (h *Handler) loadRateCardsScenario(ctx context.Context) error {
	for _, js := range []string{
		rates.FlatJSON("flat-evening", "Flat Evening", "25.00"),
		rates.PerMinuteJSON("standard", "Standard", "30.00", 30, "2.50", 5),
		rates.LumpSumJSON("tournament", "Tournament", "45.00", 45, "20.00"),
	} {
		card, err := h.Factory.Parse(js)
		if err != nil {
			return err
		}
		if err := h.saveRateCard(ctx, card); err != nil {
			return err
		}
	}

	if err := h.customers(ctx,
		billing.NewCustomer{ID: "mia", Name: "Mia Chen", InitialCredit: billing.MustMoney("12.00")},
		billing.NewCustomer{ID: "oli", Name: "Oli Brandt"},
		billing.NewCustomer{ID: "pat", Name: "Pat Novak"},
	); err != nil {
		return err
	}
	duo := []billing.FrameParticipant{{CustomerID: "mia"}, {CustomerID: "oli", IsWinner: true}}

	// 42 minutes on Standard: 12 over, past the 5 minute grace -> 30.00 overtime.
	if err := h.playRated(ctx, "standard", "rated-1", duo, 42, billing.FrameCompletion{
		LumpSumFine: billing.MustMoney("5.00"),
	}); err != nil {
		return err
	}

	// 50 minutes on Tournament: lump sum overtime, split between both.
	if err := h.playRated(ctx, "tournament", "rated-2", duo, 50, billing.FrameCompletion{
		PayerMode: billing.PayerSplit,
	}); err != nil {
		return err
	}

	// House comp larger than the flat rate: total clamps to 0.00, frame PAID.
	if err := h.playRated(ctx, "flat-evening", "rated-3", duo, 20, billing.FrameCompletion{
		Discount: billing.MustMoney("40.00"),
	}); err != nil {
		return err
	}

	trio := []billing.FrameParticipant{{CustomerID: "mia"}, {CustomerID: "oli", IsWinner: true}, {CustomerID: "pat"}}
	if err := h.playRated(ctx, "flat-evening", "rated-4", trio, 25, billing.FrameCompletion{
		PayerMode: billing.PayerCustom,
		Custom: []billing.ChargeDraft{
			{CustomerID: "mia", Amount: billing.MustMoney("15.00"), Description: "birthday host"},
			{CustomerID: "pat", Amount: billing.MustMoney("10.00")},
		},
	}); err != nil {
		return err
	}

	_, err := h.Engine.ApplyPayment(ctx, "mia", billing.MustMoney("40.00"), "card")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) customers(ctx context.Context, cs ...billing.NewCustomer) error {
	for _, c := range cs {
		if _, err := h.Engine.CreateCustomer(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) playFrame(ctx context.Context, start billing.FrameStart, done billing.FrameCompletion) (*billing.FrameBilling, error) {
	f, err := h.Engine.StartFrame(ctx, start)
	if err != nil {
		return nil, err
	}
	done.FrameID = f.ID
	return h.Engine.CompleteFrame(ctx, done)
}

// playRated plays a frame priced from a stored rate card.
func (h *Handler) playRated(ctx context.Context, cardID string, frameID billing.FrameID, ps []billing.FrameParticipant, played int, done billing.FrameCompletion) error {
	card, err := h.rateCard(ctx, cardID)
	if err != nil {
		return err
	}
	q, err := card.Quote(played)
	if err != nil {
		return err
	}
	done.OvertimeMinutes = q.OvertimeMinutes
	done.OvertimeAmount = q.OvertimeAmount

	_, err = h.playFrame(ctx, billing.FrameStart{
		ID:           frameID,
		SessionID:    "rated-session",
		TableName:    card.Name,
		BaseRate:     q.BaseRate,
		PayerMode:    card.DefaultPayerMode,
		Participants: ps,
	}, done)
	return err
}
