/**
 * @description
 * This file defines the payloads published to RabbitMQ after successful financial
 * state changes, plus the inbound webhook envelope received from the payment
 * processor. Downstream services (notifications, analytics) consume the published
 * events; the webhook drives funding confirmation and payout-account refreshes.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: Entity identifiers.
 * - github.com/shopspring/decimal: Exact monetary amounts in event payloads.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowFundedEvent is published when a deposit confirmation lands.
type EscrowFundedEvent struct {
	EscrowTransactionID uuid.UUID       `json:"escrow_transaction_id"`
	ContractID          uuid.UUID       `json:"contract_id"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	Currency            string          `json:"currency"`
	FundedAt            time.Time       `json:"funded_at"`
}

// MilestoneReleasedEvent is published after a milestone release commits.
type MilestoneReleasedEvent struct {
	PaymentID           uuid.UUID       `json:"payment_id"`
	MilestoneID         uuid.UUID       `json:"milestone_id"`
	ContractID          uuid.UUID       `json:"contract_id"`
	RecipientUserID     uuid.UUID       `json:"recipient_user_id"`
	Amount              decimal.Decimal `json:"amount"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	Currency            string          `json:"currency"`
	ProcessorTransferID string          `json:"processor_transfer_id"`
	ReleasedAt          time.Time       `json:"released_at"`
}

// EscrowRefundedEvent is published after a refund commits.
type EscrowRefundedEvent struct {
	EscrowTransactionID uuid.UUID       `json:"escrow_transaction_id"`
	ContractID          uuid.UUID       `json:"contract_id"`
	RefundedAmount      decimal.Decimal `json:"refunded_amount"`
	Currency            string          `json:"currency"`
	RefundedAt          time.Time       `json:"refunded_at"`
}

// PayoutAccountStatusEvent is published when a creator's cached payout-account
// status changes after a processor poll or an account.updated webhook.
type PayoutAccountStatusEvent struct {
	UserID    uuid.UUID           `json:"user_id"`
	OldStatus PayoutAccountStatus `json:"old_status"`
	NewStatus PayoutAccountStatus `json:"new_status"`
	Timestamp time.Time           `json:"timestamp"`
}

// ProcessorWebhookEvent is the envelope the payment processor posts to the webhook
// endpoint. Only the fields this service routes on are modeled.
type ProcessorWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}
