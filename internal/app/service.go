/**
 * @description
 * This file defines the `Service` struct, the core of the payments-service. The
 * Service orchestrates the escrow ledger, the milestone release coordinator, and
 * the payout account manager, coordinating between the database repository, the
 * payment processor client, and the message broker.
 *
 * Key features:
 * - The platform fee rate is injected at construction, never read from the
 *   environment at call time, so tests can pin a fixed rate.
 * - The processor is consumed through the small ProcessorAPI interface so tests
 *   can substitute a scripted fake for the HTTP client.
 * - Event publishing is best-effort: a broker outage never fails a financial
 *   operation that has already committed.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/shopspring/decimal: Fee arithmetic.
 * - internal/store, pkg/processorclient, pkg/rabbitmq: Collaborators.
 */

package app

import (
	"context"
	"log"

	"github.com/markinflu/payments-service/internal/store"
	"github.com/markinflu/payments-service/pkg/processorclient"
	"github.com/markinflu/payments-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// ProcessorAPI is the slice of the processor client the Service depends on.
type ProcessorAPI interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*processorclient.Customer, error)
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency, customerID string, metadata map[string]string) (*processorclient.PaymentIntent, error)
	CreateConnectedAccount(ctx context.Context, email string) (*processorclient.ConnectedAccount, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*processorclient.AccountLink, error)
	GetAccount(ctx context.Context, accountID string) (*processorclient.ConnectedAccount, error)
	CreateTransfer(ctx context.Context, amount decimal.Decimal, currency, destinationAccountID, idempotencyKey string, metadata map[string]string) (*processorclient.Transfer, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amount decimal.Decimal, idempotencyKey string) (*processorclient.Refund, error)
}

// Service provides the core business logic of the payments-service.
type Service struct {
	repo          store.Repository
	processor     ProcessorAPI
	eventProducer rabbitmq.Publisher
	feeRate       decimal.Decimal
	eventExchange string
}

// NewService creates a new payments service instance. feeRate is a fraction
// (0.10 for a 10% platform fee), not a percentage.
func NewService(repo store.Repository, processor ProcessorAPI, producer rabbitmq.Publisher, feeRate decimal.Decimal, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		processor:     processor,
		eventProducer: producer,
		feeRate:       feeRate,
		eventExchange: eventExchange,
	}
}

// ResolveInternalUserID converts a Clerk user id string (e.g., "user_abc123") into
// the internal UUID used by the database.
func (s *Service) ResolveInternalUserID(ctx context.Context, clerkUserID string) (string, error) {
	return s.repo.FindUserIDByClerkUserID(ctx, clerkUserID)
}

// PlatformFee computes the platform's cut of an amount, rounded to cents.
// The computation is deterministic: the same amount and rate always produce the
// same fee, independent of call order.
func (s *Service) PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.feeRate).Round(2)
}

// FeeSplit returns the platform fee and net amount for a gross amount.
func (s *Service) FeeSplit(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = s.PlatformFee(amount)
	return fee, amount.Sub(fee)
}

// publish sends an event to the topic exchange, logging instead of failing when
// the broker is down. Callers invoke it only after their local commit succeeded.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
