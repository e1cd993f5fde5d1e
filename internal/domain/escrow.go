/**
 * @description
 * This file defines the EscrowTransaction aggregate, the central financial record of
 * the payments-service. One escrow exists per contract and tracks the full lifecycle
 * of the funder's deposit: how much was charged, how much has been released to the
 * creator across milestones, and how much was refunded.
 *
 * @notes
 * - All monetary values use decimal.Decimal. Escrow math repeatedly derives fees and
 *   running totals from prior values, so floating point is never acceptable here.
 * - The escrow row is append-only from the product's perspective: it is created once
 *   and mutated only by the ledger and the release coordinator, never deleted.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: Entity identifiers.
 * - github.com/shopspring/decimal: Exact monetary arithmetic.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus enumerates the lifecycle states of an EscrowTransaction.
type EscrowStatus string

const (
	// EscrowPendingDeposit: the held charge has been created with the processor but
	// the deposit has not yet been confirmed.
	EscrowPendingDeposit EscrowStatus = "PENDING_DEPOSIT"
	// EscrowFunded: the processor confirmed the deposit; funds are held.
	EscrowFunded EscrowStatus = "FUNDED"
	// EscrowPartiallyReleased: at least one milestone has been paid out, but the
	// released total is still below the contract total.
	EscrowPartiallyReleased EscrowStatus = "PARTIALLY_RELEASED"
	// EscrowFullyReleased: the released total reached the contract total. Terminal.
	EscrowFullyReleased EscrowStatus = "FULLY_RELEASED"
	// EscrowRefunded: the unreleased balance was returned to the funder. Terminal.
	EscrowRefunded EscrowStatus = "REFUNDED"
)

// EscrowTransaction maps to the `escrow_transactions` table. Exactly one row exists
// per contract, enforced by a unique index on contract_id.
type EscrowTransaction struct {
	ID                       uuid.UUID       `json:"id"`
	ContractID               uuid.UUID       `json:"contract_id"`
	TotalAmount              decimal.Decimal `json:"total_amount"`
	PlatformFee              decimal.Decimal `json:"platform_fee"`
	Currency                 string          `json:"currency"`
	ReleasedAmount           decimal.Decimal `json:"released_amount"`
	RefundedAmount           decimal.Decimal `json:"refunded_amount"`
	Status                   EscrowStatus    `json:"status"`
	ProcessorPaymentIntentID *string         `json:"processor_payment_intent_id,omitempty"`
	FundedAt                 *time.Time      `json:"funded_at,omitempty"`
	ReleasedAt               *time.Time      `json:"released_at,omitempty"`
	RefundedAt               *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// Releasable reports whether funds may currently be released from this escrow.
func (e *EscrowTransaction) Releasable() bool {
	return e.Status == EscrowFunded || e.Status == EscrowPartiallyReleased
}

// RefundableAmount is the portion of the deposit that has not been released.
func (e *EscrowTransaction) RefundableAmount() decimal.Decimal {
	return e.TotalAmount.Sub(e.ReleasedAmount)
}

// StatusAfterRelease computes the status the escrow must carry once `amount` has
// been added to the released total. The caller applies the result inside the same
// transaction that persists the release.
func (e *EscrowTransaction) StatusAfterRelease(amount decimal.Decimal) EscrowStatus {
	if e.ReleasedAmount.Add(amount).GreaterThanOrEqual(e.TotalAmount) {
		return EscrowFullyReleased
	}
	return EscrowPartiallyReleased
}

// CheckInvariants verifies the escrow's financial invariants. It is used by tests
// and by the store layer as a last line of defense before commit.
func (e *EscrowTransaction) CheckInvariants() bool {
	if e.ReleasedAmount.IsNegative() || e.RefundedAmount.IsNegative() {
		return false
	}
	if e.ReleasedAmount.Add(e.RefundedAmount).GreaterThan(e.TotalAmount) {
		return false
	}
	switch e.Status {
	case EscrowFullyReleased:
		return e.ReleasedAmount.GreaterThanOrEqual(e.TotalAmount)
	case EscrowPartiallyReleased:
		return e.ReleasedAmount.IsPositive() && e.ReleasedAmount.LessThan(e.TotalAmount)
	case EscrowPendingDeposit, EscrowFunded:
		return e.ReleasedAmount.IsZero() && e.RefundedAmount.IsZero()
	case EscrowRefunded:
		return e.RefundedAmount.IsPositive()
	}
	return false
}
