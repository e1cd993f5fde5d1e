/**
 * @description
 * This file defines the contract and milestone models as seen by the payments-service.
 * Contracts and milestones are created and advanced by the campaign workflow that
 * surrounds this service; the payments-service reads them to validate escrow and
 * release preconditions, and writes exactly one milestone transition: READY -> PAID.
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

// ContractStatus enumerates contract lifecycle states. Only ACTIVE matters to this
// service: escrow may be created for active contracts only.
type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractCompleted ContractStatus = "COMPLETED"
	ContractCancelled ContractStatus = "CANCELLED"
)

// Contract is a read-only projection of the `contracts` table. BrandID is the
// funder; CreatorID is the payee.
type Contract struct {
	ID          uuid.UUID       `json:"id"`
	BrandID     uuid.UUID       `json:"brand_id"`
	CreatorID   uuid.UUID       `json:"creator_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Status      ContractStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MilestoneStatus enumerates milestone lifecycle states.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	// MilestoneReady is set by the deliverable-approval workflow outside this
	// service. Only READY milestones may be released.
	MilestoneReady MilestoneStatus = "READY"
	// MilestonePaid is set exclusively by this service, exactly once, inside the
	// same transaction that records the Payment.
	MilestonePaid MilestoneStatus = "PAID"
)

// Milestone maps to the `milestones` table. Each milestone belongs to exactly one
// contract and owns at most one Payment (unique index on payments.milestone_id).
type Milestone struct {
	ID         uuid.UUID       `json:"id"`
	ContractID uuid.UUID       `json:"contract_id"`
	Title      string          `json:"title"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	Status     MilestoneStatus `json:"status"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
