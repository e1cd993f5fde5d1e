/**
 * @description
 * This file implements the milestone release coordinator, the most sensitive flow
 * in the service. Releasing a milestone moves the milestone's net amount from
 * escrow to the creator's connected payout account and commits three local
 * updates as one transaction: the Payment record, the milestone's PAID flip, and
 * the escrow's released total.
 *
 * Preconditions are checked strictly in order, first failure wins, all before the
 * processor call. The transfer uses an idempotency key derived from the milestone
 * id, so a retried call after a timeout cannot create a second transfer. The
 * local commit relies on the unique index on payments.milestone_id as the
 * authoritative double-release guard.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/markinflu/payments-service/internal/store"
)

// ReleaseMilestone releases one READY milestone's funds to the contract's creator.
// Only the contract's brand may call it.
func (s *Service) ReleaseMilestone(ctx context.Context, milestoneID, funderID uuid.UUID) (*domain.Payment, error) {
	// 1. Milestone exists.
	milestone, err := s.repo.FindMilestoneByID(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, store.ErrMilestoneNotFound) {
			return nil, &NotFoundError{Entity: "milestone"}
		}
		return nil, err
	}

	// 2. Caller is the contract's funder.
	contract, err := s.repo.FindContractByID(ctx, milestone.ContractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			return nil, &NotFoundError{Entity: "contract"}
		}
		return nil, err
	}
	if contract.BrandID != funderID {
		return nil, &PermissionError{Reason: "only the contract's brand may release milestones"}
	}

	// 3. Milestone is READY.
	if milestone.Status != domain.MilestoneReady {
		return nil, validationErrorf("only READY milestones may be released (status %s)", milestone.Status)
	}

	// 4. No existing payment for the milestone.
	if _, err := s.repo.FindPaymentByMilestoneID(ctx, milestoneID); err == nil {
		return nil, validationErrorf("milestone %s has already been released", milestoneID)
	} else if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, err
	}

	// 5. Escrow exists for the contract.
	escrow, err := s.repo.FindEscrowByContractID(ctx, milestone.ContractID)
	if err != nil {
		if errors.Is(err, store.ErrEscrowNotFound) {
			return nil, validationErrorf("no escrow exists for contract %s", milestone.ContractID)
		}
		return nil, err
	}

	// 6. Escrow is releasable.
	if !escrow.Releasable() {
		return nil, validationErrorf("escrow is not releasable (status %s)", escrow.Status)
	}

	// 7. The milestone amount fits the escrow's remaining balance. Detectable
	// locally, so it must fail before any money moves; the SQL guard in the
	// release transaction stays as the last line of defense.
	if escrow.ReleasedAmount.Add(milestone.Amount).GreaterThan(escrow.TotalAmount) {
		return nil, validationErrorf("milestone amount %s exceeds the escrow's remaining balance %s", milestone.Amount, escrow.TotalAmount.Sub(escrow.ReleasedAmount))
	}

	// 8. Payee can receive transfers.
	creator, err := s.repo.FindUserByID(ctx, contract.CreatorID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, &NotFoundError{Entity: "creator"}
		}
		return nil, err
	}
	if creator.PayoutAccountID == nil || creator.PayoutAccountStatus != domain.PayoutActive {
		return nil, validationErrorf("creator has no active payout account (status %s)", creator.PayoutAccountStatus)
	}

	platformFee, netAmount := s.FeeSplit(milestone.Amount)

	// Point of no return. The deterministic idempotency key means a retry of this
	// exact release reuses the original transfer at the processor.
	idempotencyKey := "release-" + milestoneID.String()
	transfer, err := s.processor.CreateTransfer(ctx, netAmount, escrow.Currency, *creator.PayoutAccountID, idempotencyKey, map[string]string{
		"milestone_id": milestoneID.String(),
		"contract_id":  milestone.ContractID.String(),
	})
	if err != nil {
		// No local mutation happened; the milestone stays READY and the call is
		// retry-safe.
		return nil, &ProcessorError{Op: "create transfer", Err: err}
	}

	releasedAt := time.Now().UTC()
	payment, err := s.repo.ApplyMilestoneRelease(ctx, store.ApplyMilestoneReleaseParams{
		EscrowTransactionID: escrow.ID,
		MilestoneID:         milestoneID,
		RecipientUserID:     creator.ID,
		Amount:              milestone.Amount,
		PlatformFee:         platformFee,
		NetAmount:           netAmount,
		Currency:            escrow.Currency,
		ProcessorTransferID: transfer.ID,
		ReleasedAt:          releasedAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrMilestoneAlreadyPaid) {
			// A concurrent release won the insert. Thanks to the shared idempotency
			// key both processor calls resolved to the same transfer, so no money
			// moved twice; this caller simply lost.
			return nil, validationErrorf("milestone %s has already been released", milestoneID)
		}
		// Money moved at the processor but the local commit failed. Log both sides'
		// identifiers for reconciliation and surface loudly.
		cerr := &ConsistencyError{
			Op:                  "release milestone",
			ProcessorRef:        transfer.ID,
			EscrowTransactionID: escrow.ID,
			MilestoneID:         milestoneID,
			Err:                 err,
		}
		log.Printf("level=error component=release_coordinator msg=\"release reconciliation required\" milestone_id=%s escrow_id=%s transfer_id=%s err=%v", milestoneID, escrow.ID, transfer.ID, err)
		return nil, cerr
	}

	s.publish(ctx, "milestone.released", domain.MilestoneReleasedEvent{
		PaymentID:           payment.ID,
		MilestoneID:         milestoneID,
		ContractID:          milestone.ContractID,
		RecipientUserID:     creator.ID,
		Amount:              milestone.Amount,
		NetAmount:           netAmount,
		Currency:            escrow.Currency,
		ProcessorTransferID: transfer.ID,
		ReleasedAt:          releasedAt,
	})
	log.Printf("level=info component=release_coordinator msg=\"milestone released\" milestone_id=%s payment_id=%s gross=%s net=%s transfer_id=%s", milestoneID, payment.ID, milestone.Amount, netAmount, transfer.ID)
	return payment, nil
}
