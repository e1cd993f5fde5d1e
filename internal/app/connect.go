/**
 * @description
 * This file implements the payout account manager: onboarding a creator's
 * connected payout account with the processor and keeping the cached onboarding
 * status on the user row fresh.
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
	"github.com/markinflu/payments-service/pkg/processorclient"
)

// OnboardingLinkResult carries the fresh onboarding URL for the creator's client.
type OnboardingLinkResult struct {
	URL string `json:"url"`
}

// EnsureOnboardingLink creates the creator's connected payout account on first
// call and always requests a fresh time-limited onboarding link. Account creation
// is idempotent per user: the conditional update in the store means a concurrent
// caller's account wins and this caller links against it.
func (s *Service) EnsureOnboardingLink(ctx context.Context, userID uuid.UUID, returnURL string) (*OnboardingLinkResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, &NotFoundError{Entity: "user"}
		}
		return nil, err
	}

	accountID := ""
	if user.PayoutAccountID != nil && *user.PayoutAccountID != "" {
		accountID = *user.PayoutAccountID
	} else {
		account, err := s.processor.CreateConnectedAccount(ctx, user.Email)
		if err != nil {
			return nil, &ProcessorError{Op: "create connected account", Err: err}
		}
		persisted, err := s.repo.SetPayoutAccount(ctx, userID, account.ID, domain.PayoutPending)
		if err != nil {
			return nil, err
		}
		if persisted != account.ID {
			log.Printf("level=warn component=payout_manager msg=\"concurrent payout account creation; using persisted account\" user_id=%s created=%s persisted=%s", userID, account.ID, persisted)
		}
		accountID = persisted
	}

	link, err := s.processor.CreateAccountLink(ctx, accountID, returnURL, returnURL)
	if err != nil {
		return nil, &ProcessorError{Op: "create account link", Err: err}
	}
	return &OnboardingLinkResult{URL: link.URL}, nil
}

// RefreshConnectStatus polls the processor for the live account state, maps it to
// the cached enum, and persists the mapping if it changed. This is the read path
// behind "can this creator currently receive a release".
func (s *Service) RefreshConnectStatus(ctx context.Context, userID uuid.UUID) (*domain.ConnectStatusResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, &NotFoundError{Entity: "user"}
		}
		return nil, err
	}
	if user.PayoutAccountID == nil || *user.PayoutAccountID == "" {
		return &domain.ConnectStatusResult{Status: domain.PayoutNotConnected}, nil
	}

	account, err := s.processor.GetAccount(ctx, *user.PayoutAccountID)
	if err != nil {
		return nil, &ProcessorError{Op: "get account", Err: err}
	}

	status := mapAccountStatus(account)
	if status != user.PayoutAccountStatus {
		if err := s.repo.UpdatePayoutAccountStatus(ctx, userID, status); err != nil {
			return nil, err
		}
		s.publish(ctx, "payout_account.status_changed", domain.PayoutAccountStatusEvent{
			UserID:    userID,
			OldStatus: user.PayoutAccountStatus,
			NewStatus: status,
			Timestamp: time.Now().UTC(),
		})
		log.Printf("level=info component=payout_manager msg=\"payout account status changed\" user_id=%s old=%s new=%s", userID, user.PayoutAccountStatus, status)
	}

	return &domain.ConnectStatusResult{
		Status:           status,
		DetailsSubmitted: account.DetailsSubmitted,
		PayoutsEnabled:   account.PayoutsEnabled,
		ChargesEnabled:   account.ChargesEnabled,
	}, nil
}

// RefreshConnectStatusByAccountID is the webhook-driven variant: the processor's
// account.updated event carries the connected account id, not our user id.
func (s *Service) RefreshConnectStatusByAccountID(ctx context.Context, accountID string) error {
	account, err := s.processor.GetAccount(ctx, accountID)
	if err != nil {
		return &ProcessorError{Op: "get account", Err: err}
	}
	userID, err := s.repo.FindUserIDByPayoutAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// Not one of ours; the processor account may belong to another platform
			// environment. Ignore.
			return nil
		}
		return err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return err
	}
	status := mapAccountStatus(account)
	if err := s.repo.UpdatePayoutAccountStatus(ctx, uid, status); err != nil {
		return err
	}
	return nil
}

// mapAccountStatus maps the processor's live account flags onto the cached enum.
func mapAccountStatus(account *processorclient.ConnectedAccount) domain.PayoutAccountStatus {
	switch {
	case !account.DetailsSubmitted:
		return domain.PayoutPending
	case !account.PayoutsEnabled:
		return domain.PayoutRestricted
	default:
		return domain.PayoutActive
	}
}
