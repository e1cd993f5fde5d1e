/**
 * @description
 * This file defines the Payment record and the payout-account projection of the user.
 * A Payment is the immutable ledger entry for one successful fund movement out of
 * escrow. It is inserted exactly once per milestone release and never updated.
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

// PaymentStatus enumerates terminal payment outcomes.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentType enumerates the kinds of fund movement this service records.
type PaymentType string

const (
	PaymentMilestoneRelease PaymentType = "MILESTONE_RELEASE"
)

// Payment maps to the `payments` table. Amount is gross; NetAmount is what actually
// moved to the creator's connected account after the platform fee.
type Payment struct {
	ID                  uuid.UUID       `json:"id"`
	EscrowTransactionID uuid.UUID       `json:"escrow_transaction_id"`
	MilestoneID         *uuid.UUID      `json:"milestone_id,omitempty"`
	RecipientUserID     uuid.UUID       `json:"recipient_user_id"`
	Amount              decimal.Decimal `json:"amount"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	Currency            string          `json:"currency"`
	Status              PaymentStatus   `json:"status"`
	Type                PaymentType     `json:"type"`
	ProcessorTransferID *string         `json:"processor_transfer_id,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// PayoutAccountStatus is the cached onboarding state of a creator's connected
// payout account, refreshed by polling the processor.
type PayoutAccountStatus string

const (
	PayoutNotConnected PayoutAccountStatus = "NOT_CONNECTED"
	PayoutPending      PayoutAccountStatus = "PENDING"
	PayoutRestricted   PayoutAccountStatus = "RESTRICTED"
	PayoutActive       PayoutAccountStatus = "ACTIVE"
)

// User is the slice of the `users` table this service cares about: identity
// resolution plus the processor references held on the user row.
type User struct {
	ID                  uuid.UUID           `json:"id"`
	ClerkUserID         string              `json:"clerk_user_id"`
	Email               string              `json:"email"`
	FullName            string              `json:"full_name"`
	ProcessorCustomerID *string             `json:"processor_customer_id,omitempty"`
	PayoutAccountID     *string             `json:"payout_account_id,omitempty"`
	PayoutAccountStatus PayoutAccountStatus `json:"payout_account_status"`
}

// ConnectStatusResult is returned by the payout account manager's status refresh.
type ConnectStatusResult struct {
	Status           PayoutAccountStatus `json:"status"`
	DetailsSubmitted bool                `json:"details_submitted"`
	PayoutsEnabled   bool                `json:"payouts_enabled"`
	ChargesEnabled   bool                `json:"charges_enabled"`
}

// EscrowWithPayments is the read model for the escrow detail endpoint.
type EscrowWithPayments struct {
	Escrow   EscrowTransaction `json:"escrow"`
	Payments []Payment         `json:"payments"`
}
