/**
 * @description
 * This file implements the escrow ledger operations: creating the escrow with a
 * held charge at the processor, confirming the deposit when the processor's
 * webhook lands, refunding the unreleased balance, and the escrow read model.
 *
 * Ordering discipline: every precondition is checked before the single external
 * call of each flow, so precondition failures never leave side effects. The
 * external call is the point of no return; if it fails, local state is untouched
 * and the processor's error is surfaced wrapped with context.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/markinflu/payments-service/internal/store"
	"github.com/shopspring/decimal"
)

// CreateEscrowResult pairs the new escrow record with the client-side handle the
// funder's app needs to complete the deposit out-of-band.
type CreateEscrowResult struct {
	Escrow              *domain.EscrowTransaction `json:"escrow"`
	DepositClientSecret string                    `json:"deposit_client_secret"`
}

// CreateEscrow initiates escrow funding for a contract. Only the contract's brand
// (the funder) may call it, the contract must be active, and no escrow may already
// exist for the contract.
func (s *Service) CreateEscrow(ctx context.Context, contractID, funderID uuid.UUID) (*CreateEscrowResult, error) {
	contract, err := s.repo.FindContractByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			return nil, &NotFoundError{Entity: "contract"}
		}
		return nil, err
	}
	if contract.BrandID != funderID {
		return nil, &PermissionError{Reason: "only the contract's brand may fund escrow"}
	}
	if contract.Status != domain.ContractActive {
		return nil, validationErrorf("escrow can only be created for an active contract (status %s)", contract.Status)
	}

	// Application-level existence check first for a friendly error; the unique
	// index on contract_id is what actually closes the race.
	if _, err := s.repo.FindEscrowByContractID(ctx, contractID); err == nil {
		return nil, &ConflictError{Reason: fmt.Sprintf("escrow already exists for contract %s", contractID)}
	} else if !errors.Is(err, store.ErrEscrowNotFound) {
		return nil, err
	}

	funder, err := s.repo.FindUserByID(ctx, funderID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, &NotFoundError{Entity: "funder"}
		}
		return nil, err
	}

	customerID, err := s.ensureProcessorCustomer(ctx, funder)
	if err != nil {
		return nil, err
	}

	platformFee := s.PlatformFee(contract.TotalAmount)

	intent, err := s.processor.CreatePaymentIntent(ctx, contract.TotalAmount, contract.Currency, customerID, map[string]string{
		"contract_id": contractID.String(),
		"funder_id":   funderID.String(),
	})
	if err != nil {
		return nil, &ProcessorError{Op: "create payment intent", Err: err}
	}

	escrow := &domain.EscrowTransaction{
		ID:                       uuid.New(),
		ContractID:               contractID,
		TotalAmount:              contract.TotalAmount,
		PlatformFee:              platformFee,
		Currency:                 contract.Currency,
		ReleasedAmount:           decimal.Zero,
		RefundedAmount:           decimal.Zero,
		Status:                   domain.EscrowPendingDeposit,
		ProcessorPaymentIntentID: &intent.ID,
	}
	if err := s.repo.CreateEscrowTransaction(ctx, escrow); err != nil {
		if errors.Is(err, store.ErrEscrowExists) {
			// A concurrent creation won the insert. The held charge created above is
			// orphaned; it was never confirmed, so no funds moved.
			log.Printf("level=warn component=escrow_ledger msg=\"concurrent escrow creation lost insert race\" contract_id=%s payment_intent_id=%s", contractID, intent.ID)
			return nil, &ConflictError{Reason: fmt.Sprintf("escrow already exists for contract %s", contractID)}
		}
		return nil, err
	}

	log.Printf("level=info component=escrow_ledger msg=\"escrow created\" escrow_id=%s contract_id=%s total=%s fee=%s", escrow.ID, contractID, escrow.TotalAmount, escrow.PlatformFee)
	return &CreateEscrowResult{Escrow: escrow, DepositClientSecret: intent.ClientSecret}, nil
}

// ensureProcessorCustomer returns the funder's processor customer id, creating one
// and persisting the reference if the user does not have one yet.
func (s *Service) ensureProcessorCustomer(ctx context.Context, funder *domain.User) (string, error) {
	if funder.ProcessorCustomerID != nil && *funder.ProcessorCustomerID != "" {
		return *funder.ProcessorCustomerID, nil
	}
	customer, err := s.processor.CreateCustomer(ctx, funder.Email, funder.FullName, map[string]string{
		"user_id": funder.ID.String(),
	})
	if err != nil {
		return "", &ProcessorError{Op: "create customer", Err: err}
	}
	persisted, err := s.repo.SetProcessorCustomerID(ctx, funder.ID, customer.ID)
	if err != nil {
		return "", err
	}
	return persisted, nil
}

// ConfirmFunding transitions the escrow holding the given charge reference from
// PENDING_DEPOSIT to FUNDED. It is idempotent: duplicate webhook deliveries find
// the escrow already funded and return the current record unchanged.
func (s *Service) ConfirmFunding(ctx context.Context, paymentIntentID string) (*domain.EscrowTransaction, error) {
	escrow, err := s.repo.FindEscrowByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, store.ErrEscrowNotFound) {
			return nil, &NotFoundError{Entity: "escrow transaction"}
		}
		return nil, err
	}

	fundedAt := time.Now().UTC()
	transitioned, err := s.repo.MarkEscrowFunded(ctx, escrow.ID, fundedAt)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		// Already past PENDING_DEPOSIT; duplicate delivery, nothing to do.
		log.Printf("level=info component=escrow_ledger msg=\"funding confirmation replay ignored\" escrow_id=%s status=%s", escrow.ID, escrow.Status)
		return escrow, nil
	}

	escrow.Status = domain.EscrowFunded
	escrow.FundedAt = &fundedAt

	s.publish(ctx, "escrow.funded", domain.EscrowFundedEvent{
		EscrowTransactionID: escrow.ID,
		ContractID:          escrow.ContractID,
		TotalAmount:         escrow.TotalAmount,
		Currency:            escrow.Currency,
		FundedAt:            fundedAt,
	})
	log.Printf("level=info component=escrow_ledger msg=\"escrow funded\" escrow_id=%s contract_id=%s", escrow.ID, escrow.ContractID)
	return escrow, nil
}

// RefundEscrow returns the unreleased balance to the funder. Refund is permitted
// from FUNDED only; once any milestone has been released the remaining balance is
// committed to the contract.
func (s *Service) RefundEscrow(ctx context.Context, contractID, funderID uuid.UUID) (*domain.EscrowTransaction, error) {
	contract, err := s.repo.FindContractByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			return nil, &NotFoundError{Entity: "contract"}
		}
		return nil, err
	}
	if contract.BrandID != funderID {
		return nil, &PermissionError{Reason: "only the contract's brand may refund escrow"}
	}

	escrow, err := s.repo.FindEscrowByContractID(ctx, contractID)
	if err != nil {
		if errors.Is(err, store.ErrEscrowNotFound) {
			return nil, &NotFoundError{Entity: "escrow transaction"}
		}
		return nil, err
	}
	if escrow.Status != domain.EscrowFunded {
		return nil, validationErrorf("escrow must be FUNDED to refund (status %s)", escrow.Status)
	}
	refundable := escrow.RefundableAmount()
	if !refundable.IsPositive() {
		return nil, validationErrorf("nothing to refund for contract %s", contractID)
	}
	if escrow.ProcessorPaymentIntentID == nil {
		return nil, validationErrorf("escrow %s has no processor charge reference", escrow.ID)
	}

	// Processor first, local mutation only on success. The idempotency key derived
	// from the escrow id makes a retried call safe.
	refund, err := s.processor.CreateRefund(ctx, *escrow.ProcessorPaymentIntentID, refundable, "refund-"+escrow.ID.String())
	if err != nil {
		return nil, &ProcessorError{Op: "create refund", Err: err}
	}

	refundedAt := time.Now().UTC()
	if err := s.repo.MarkEscrowRefunded(ctx, escrow.ID, refundable, refundedAt); err != nil {
		if errors.Is(err, store.ErrEscrowNotRefundable) {
			// A concurrent refund won the conditional update. The shared idempotency
			// key means the processor executed exactly one refund, so local state is
			// already correct; this caller simply lost.
			log.Printf("level=info component=escrow_ledger msg=\"concurrent refund lost state race\" escrow_id=%s refund_id=%s", escrow.ID, refund.ID)
			return nil, validationErrorf("escrow for contract %s has already been refunded", contractID)
		}
		// The processor already refunded but the update itself failed; an operator
		// has to reconcile.
		cerr := &ConsistencyError{
			Op:                  "refund escrow",
			ProcessorRef:        refund.ID,
			EscrowTransactionID: escrow.ID,
			Err:                 err,
		}
		log.Printf("level=error component=escrow_ledger msg=\"refund reconciliation required\" escrow_id=%s refund_id=%s err=%v", escrow.ID, refund.ID, err)
		return nil, cerr
	}

	escrow.Status = domain.EscrowRefunded
	escrow.RefundedAmount = refundable
	escrow.RefundedAt = &refundedAt

	s.publish(ctx, "escrow.refunded", domain.EscrowRefundedEvent{
		EscrowTransactionID: escrow.ID,
		ContractID:          contractID,
		RefundedAmount:      refundable,
		Currency:            escrow.Currency,
		RefundedAt:          refundedAt,
	})
	log.Printf("level=info component=escrow_ledger msg=\"escrow refunded\" escrow_id=%s contract_id=%s amount=%s refund_id=%s", escrow.ID, contractID, refundable, refund.ID)
	return escrow, nil
}

// GetEscrowByContract returns the escrow with its payment history. Both contract
// parties may read it; anyone else is rejected.
func (s *Service) GetEscrowByContract(ctx context.Context, contractID, callerID uuid.UUID) (*domain.EscrowWithPayments, error) {
	contract, err := s.repo.FindContractByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			return nil, &NotFoundError{Entity: "contract"}
		}
		return nil, err
	}
	if contract.BrandID != callerID && contract.CreatorID != callerID {
		return nil, &PermissionError{Reason: "only contract parties may view escrow"}
	}

	escrow, err := s.repo.FindEscrowByContractID(ctx, contractID)
	if err != nil {
		if errors.Is(err, store.ErrEscrowNotFound) {
			return nil, &NotFoundError{Entity: "escrow transaction"}
		}
		return nil, err
	}
	payments, err := s.repo.FindPaymentsByEscrowID(ctx, escrow.ID)
	if err != nil {
		return nil, err
	}
	return &domain.EscrowWithPayments{Escrow: *escrow, Payments: payments}, nil
}
