/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the payments-service. The application layer depends on this interface
 * rather than on PostgreSQL directly, which keeps the escrow and release logic
 * testable with lightweight stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - github.com/shopspring/decimal: Exact monetary amounts.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User and payout account methods
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserIDByPayoutAccountID(ctx context.Context, accountID string) (string, error)
	// SetProcessorCustomerID persists the processor customer reference, only if the
	// user does not already have one. Returns the reference now on the row, so a
	// concurrent writer's value wins consistently.
	SetProcessorCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)
	// SetPayoutAccount persists the connected payout account reference, only if the
	// user does not already have one (same last-writer-loses discipline).
	SetPayoutAccount(ctx context.Context, userID uuid.UUID, accountID string, status domain.PayoutAccountStatus) (string, error)
	UpdatePayoutAccountStatus(ctx context.Context, userID uuid.UUID, status domain.PayoutAccountStatus) error

	// Contract and milestone methods
	FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	FindMilestoneByID(ctx context.Context, milestoneID uuid.UUID) (*domain.Milestone, error)

	// Escrow methods
	// CreateEscrowTransaction inserts the escrow row and relies on the unique index
	// on contract_id: a duplicate insert returns ErrEscrowExists.
	CreateEscrowTransaction(ctx context.Context, escrow *domain.EscrowTransaction) error
	FindEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*domain.EscrowTransaction, error)
	FindEscrowByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.EscrowTransaction, error)
	// MarkEscrowFunded transitions PENDING_DEPOSIT -> FUNDED. If the row is in any
	// other state the update matches nothing and (false, nil) is returned, which the
	// caller treats as an idempotent no-op.
	MarkEscrowFunded(ctx context.Context, escrowID uuid.UUID, fundedAt time.Time) (bool, error)
	// MarkEscrowRefunded transitions FUNDED -> REFUNDED with the refunded amount.
	// Returns ErrEscrowNotRefundable if the row is no longer in FUNDED.
	MarkEscrowRefunded(ctx context.Context, escrowID uuid.UUID, amount decimal.Decimal, refundedAt time.Time) error

	// ApplyMilestoneRelease performs the single atomic update of a release: insert
	// the Payment, mark the milestone PAID, and add the milestone amount to the
	// escrow's released total, recomputing its status. The unique index on
	// payments.milestone_id is the authoritative double-release guard; a violation
	// surfaces as ErrMilestoneAlreadyPaid.
	ApplyMilestoneRelease(ctx context.Context, params ApplyMilestoneReleaseParams) (*domain.Payment, error)

	// Payment read methods
	FindPaymentByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*domain.Payment, error)
	FindPaymentsByEscrowID(ctx context.Context, escrowID uuid.UUID) ([]domain.Payment, error)
}

// ApplyMilestoneReleaseParams carries everything the atomic release update needs.
// All amounts are computed by the coordinator before the processor call; the store
// only persists them.
type ApplyMilestoneReleaseParams struct {
	EscrowTransactionID uuid.UUID
	MilestoneID         uuid.UUID
	RecipientUserID     uuid.UUID
	Amount              decimal.Decimal
	PlatformFee         decimal.Decimal
	NetAmount           decimal.Decimal
	Currency            string
	ProcessorTransferID string
	ReleasedAt          time.Time
}
