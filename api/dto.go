/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every amount travels as a decimal string ("100.01"), never a JSON number.
  Requests are parsed with billing.ParseMoney, which rejects more than two
  decimal places instead of rounding.

TYPES:
  Customers:   CustomerDTO, CreateCustomerRequest, BalanceDTO, StatementDTO
  Ledger:      ChargeDTO, PaymentDTO, AllocationDTO, PaymentResultDTO,
               ApplyPaymentRequest, ManualChargeRequest
  Frames:      FrameDTO, ParticipantDTO, StartFrameRequest,
               CompleteFrameRequest, FrameBillingDTO
  Billing:     TotalRequest, TotalDTO, DistributeRequest, ChargeDraftDTO
  Rate cards:  RateCardDTO (wraps rates.RateCardJSON)
  Audit:       AuditReportDTO, ViolationDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.
*/
package api

import (
	"time"

	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/rates"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Contact       string `json:"contact,omitempty"`
	InitialCredit string `json:"initial_credit"`
	CreatedAt     string `json:"created_at"`
}

type CreateCustomerRequest struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Contact       string `json:"contact,omitempty"`
	InitialCredit string `json:"initial_credit,omitempty"`
}

// BalanceDTO is the reconciled position of a customer. Positive balance
// means the customer owes money.
type BalanceDTO struct {
	CustomerID         string `json:"customer_id"`
	InitialCredit      string `json:"initial_credit"`
	TotalPayments      string `json:"total_payments"`
	AllocatedToCharges string `json:"allocated_to_charges"`
	PaidTowardCredit   string `json:"paid_toward_credit"`
	RemainingCredit    string `json:"remaining_credit"`
	TotalCharges       string `json:"total_charges"`
	UnpaidCharges      string `json:"unpaid_charges"`
	Balance            string `json:"balance"`
}

type StatementDTO struct {
	Balance  BalanceDTO   `json:"balance"`
	Charges  []ChargeDTO  `json:"charges"`
	Payments []PaymentDTO `json:"payments"`
}

// =============================================================================
// LEDGER
// =============================================================================

type ChargeDTO struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	FrameID     string `json:"frame_id,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`

	// Set on statements only.
	Allocated   string `json:"allocated,omitempty"`
	Outstanding string `json:"outstanding,omitempty"`
	Status      string `json:"status,omitempty"`
}

type PaymentDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Amount     string `json:"amount"`
	Method     string `json:"method"`
	ReceivedAt string `json:"received_at"`
}

type AllocationDTO struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	ChargeID  string `json:"charge_id"`
	Amount    string `json:"amount"`
}

type StatusChangeDTO struct {
	FrameID string `json:"frame_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type ApplyPaymentRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method,omitempty"`
}

type PaymentResultDTO struct {
	Payment          PaymentDTO        `json:"payment"`
	Allocations      []AllocationDTO   `json:"allocations"`
	AffectedFrameIDs []string          `json:"affected_frame_ids"`
	StatusChanges    []StatusChangeDTO `json:"status_changes"`
	Unallocated      string            `json:"unallocated"`
	Balance          *BalanceDTO       `json:"balance,omitempty"`
}

type ManualChargeRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// =============================================================================
// FRAMES
// =============================================================================

type ParticipantDTO struct {
	CustomerID string `json:"customer_id"`
	Team       string `json:"team,omitempty"`
	IsWinner   bool   `json:"is_winner,omitempty"`
}

type FrameDTO struct {
	ID              string           `json:"id"`
	SessionID       string           `json:"session_id"`
	TableName       string           `json:"table_name"`
	BaseRate        string           `json:"base_rate"`
	OvertimeMinutes int              `json:"overtime_minutes"`
	OvertimeAmount  string           `json:"overtime_amount"`
	LumpSumFine     string           `json:"lump_sum_fine"`
	Discount        string           `json:"discount"`
	TotalAmount     string           `json:"total_amount"`
	PayerMode       string           `json:"payer_mode"`
	PayStatus       string           `json:"pay_status"`
	WinnerID        string           `json:"winner_customer_id,omitempty"`
	LoserID         string           `json:"loser_customer_id,omitempty"`
	Participants    []ParticipantDTO `json:"participants"`
	StartedAt       string           `json:"started_at"`
	EndedAt         string           `json:"ended_at,omitempty"`
}

// StartFrameRequest opens a frame. When RateCardID is set, an empty
// BaseRate and PayerMode are taken from the card.
type StartFrameRequest struct {
	ID           string           `json:"id,omitempty"`
	SessionID    string           `json:"session_id"`
	TableName    string           `json:"table_name"`
	RateCardID   string           `json:"rate_card_id,omitempty"`
	BaseRate     string           `json:"base_rate,omitempty"`
	PayerMode    string           `json:"payer_mode,omitempty"`
	Participants []ParticipantDTO `json:"participants"`
}

// CompleteFrameRequest ends a frame. Overtime is either given directly
// (overtime_minutes / overtime_amount) or priced from a rate card with
// rate_card_id + played_minutes.
type CompleteFrameRequest struct {
	RateCardID    string `json:"rate_card_id,omitempty"`
	PlayedMinutes *int   `json:"played_minutes,omitempty"`

	OvertimeMinutes int    `json:"overtime_minutes,omitempty"`
	OvertimeAmount  string `json:"overtime_amount,omitempty"`
	LumpSumFine     string `json:"lump_sum_fine,omitempty"`
	Discount        string `json:"discount,omitempty"`

	PayerMode string           `json:"payer_mode,omitempty"`
	WinnerID  string           `json:"winner_id,omitempty"`
	LoserID   string           `json:"loser_id,omitempty"`
	Custom    []ChargeDraftDTO `json:"custom,omitempty"`
}

type FrameBillingDTO struct {
	Frame    FrameDTO    `json:"frame"`
	Charges  []ChargeDTO `json:"charges"`
	Warnings []string    `json:"warnings,omitempty"`
}

// =============================================================================
// PURE BILLING
// =============================================================================

type TotalRequest struct {
	BaseRate       string `json:"base_rate"`
	OvertimeAmount string `json:"overtime_amount,omitempty"`
	LumpSumFine    string `json:"lump_sum_fine,omitempty"`
	Discount       string `json:"discount,omitempty"`
}

type TotalDTO struct {
	Total   string `json:"total"`
	Warning string `json:"warning,omitempty"`
}

type DistributeRequest struct {
	FrameID      string           `json:"frame_id,omitempty"`
	Label        string           `json:"label,omitempty"`
	Total        string           `json:"total"`
	PayerMode    string           `json:"payer_mode"`
	Participants []ParticipantDTO `json:"participants"`
	WinnerID     string           `json:"winner_id,omitempty"`
	LoserID      string           `json:"loser_id,omitempty"`
	Custom       []ChargeDraftDTO `json:"custom,omitempty"`
}

type ChargeDraftDTO struct {
	CustomerID  string `json:"customer_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// =============================================================================
// RATE CARDS
// =============================================================================

// RateCardDTO represents a stored rate card.
type RateCardDTO struct {
	rates.RateCardJSON
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

type ViolationDTO struct {
	CustomerID string `json:"customer_id"`
	Code       string `json:"code"`
	Ref        string `json:"ref"`
	Message    string `json:"message"`
}

type AuditReportDTO struct {
	OK         bool           `json:"ok"`
	Customers  int            `json:"customers"`
	Charges    int            `json:"charges"`
	Payments   int            `json:"payments"`
	Violations []ViolationDTO `json:"violations"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c billing.Customer) CustomerDTO {
	return CustomerDTO{
		ID:            string(c.ID),
		Name:          c.Name,
		Contact:       c.Contact,
		InitialCredit: c.InitialCredit.String(),
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(b billing.Balance) BalanceDTO {
	return BalanceDTO{
		CustomerID:         string(b.CustomerID),
		InitialCredit:      b.InitialCredit.String(),
		TotalPayments:      b.TotalPayments.String(),
		AllocatedToCharges: b.AllocatedToCharges.String(),
		PaidTowardCredit:   b.PaidTowardCredit.String(),
		RemainingCredit:    b.RemainingCredit.String(),
		TotalCharges:       b.TotalCharges.String(),
		UnpaidCharges:      b.UnpaidCharges.String(),
		Balance:            b.Balance.String(),
	}
}

func toChargeDTO(c billing.LedgerCharge) ChargeDTO {
	dto := ChargeDTO{
		ID:          string(c.ID),
		CustomerID:  string(c.CustomerID),
		Amount:      c.Amount.String(),
		Description: c.Description,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.FrameID != nil {
		dto.FrameID = string(*c.FrameID)
	}
	return dto
}

func toChargeDTOs(cs []billing.LedgerCharge) []ChargeDTO {
	out := make([]ChargeDTO, len(cs))
	for i, c := range cs {
		out[i] = toChargeDTO(c)
	}
	return out
}

func toPaymentDTO(p billing.LedgerPayment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		CustomerID: string(p.CustomerID),
		Amount:     p.Amount.String(),
		Method:     p.Method,
		ReceivedAt: p.ReceivedAt.Format(time.RFC3339),
	}
}

func toStatementDTO(st *billing.Statement) StatementDTO {
	dto := StatementDTO{
		Balance:  toBalanceDTO(st.Balance),
		Charges:  make([]ChargeDTO, len(st.Charges)),
		Payments: make([]PaymentDTO, len(st.Payments)),
	}
	for i, line := range st.Charges {
		c := toChargeDTO(line.Charge)
		c.Allocated = line.Allocated.String()
		c.Outstanding = line.Outstanding.String()
		c.Status = string(line.Status)
		dto.Charges[i] = c
	}
	for i, p := range st.Payments {
		dto.Payments[i] = toPaymentDTO(p)
	}
	return dto
}

func toPaymentResultDTO(res *billing.PaymentResult) PaymentResultDTO {
	dto := PaymentResultDTO{
		Payment:          toPaymentDTO(res.Payment),
		Allocations:      make([]AllocationDTO, len(res.Allocations)),
		AffectedFrameIDs: make([]string, len(res.AffectedFrameIDs)),
		StatusChanges:    make([]StatusChangeDTO, len(res.StatusChanges)),
		Unallocated:      res.Unallocated.String(),
	}
	for i, a := range res.Allocations {
		dto.Allocations[i] = AllocationDTO{
			ID:        string(a.ID),
			PaymentID: string(a.PaymentID),
			ChargeID:  string(a.ChargeID),
			Amount:    a.AllocatedAmount.String(),
		}
	}
	for i, id := range res.AffectedFrameIDs {
		dto.AffectedFrameIDs[i] = string(id)
	}
	for i, sc := range res.StatusChanges {
		dto.StatusChanges[i] = StatusChangeDTO{FrameID: string(sc.FrameID), From: string(sc.From), To: string(sc.To)}
	}
	return dto
}

func toFrameDTO(f billing.Frame) FrameDTO {
	dto := FrameDTO{
		ID:              string(f.ID),
		SessionID:       string(f.SessionID),
		TableName:       f.TableName,
		BaseRate:        f.BaseRate.String(),
		OvertimeMinutes: f.OvertimeMinutes,
		OvertimeAmount:  f.OvertimeAmount.String(),
		LumpSumFine:     f.LumpSumFine.String(),
		Discount:        f.Discount.String(),
		TotalAmount:     f.TotalAmount.String(),
		PayerMode:       string(f.PayerMode),
		PayStatus:       string(f.PayStatus),
		Participants:    make([]ParticipantDTO, len(f.Participants)),
		StartedAt:       f.StartedAt.Format(time.RFC3339),
	}
	if f.WinnerCustomerID != nil {
		dto.WinnerID = string(*f.WinnerCustomerID)
	}
	if f.LoserCustomerID != nil {
		dto.LoserID = string(*f.LoserCustomerID)
	}
	if f.EndedAt != nil {
		dto.EndedAt = f.EndedAt.Format(time.RFC3339)
	}
	for i, p := range f.Participants {
		dto.Participants[i] = ParticipantDTO{CustomerID: string(p.CustomerID), Team: p.Team, IsWinner: p.IsWinner}
	}
	return dto
}

func toAuditReportDTO(r *billing.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		OK:         r.OK(),
		Customers:  r.Customers,
		Charges:    r.Charges,
		Payments:   r.Payments,
		Violations: make([]ViolationDTO, len(r.Violations)),
	}
	for i, v := range r.Violations {
		dto.Violations[i] = ViolationDTO{CustomerID: string(v.CustomerID), Code: v.Code, Ref: v.Ref, Message: v.Message}
	}
	return dto
}

func fromParticipants(ps []ParticipantDTO) []billing.FrameParticipant {
	out := make([]billing.FrameParticipant, len(ps))
	for i, p := range ps {
		out[i] = billing.FrameParticipant{CustomerID: billing.CustomerID(p.CustomerID), Team: p.Team, IsWinner: p.IsWinner}
	}
	return out
}

func optionalCustomer(id string) *billing.CustomerID {
	if id == "" {
		return nil
	}
	c := billing.CustomerID(id)
	return &c
}
