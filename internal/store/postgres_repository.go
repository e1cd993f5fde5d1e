/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all SQL for the escrow, milestone, payment, and user tables. The two
 * correctness-critical paths live here:
 *
 *   - CreateEscrowTransaction relies on the unique index on
 *     escrow_transactions.contract_id so two concurrent escrow creations cannot
 *     both succeed.
 *   - ApplyMilestoneRelease runs in a single database transaction and relies on the
 *     unique index on payments.milestone_id as the authoritative double-release
 *     guard. The escrow update re-checks the financial invariant in SQL; a release
 *     that would overdraw the escrow matches no row and rolls everything back.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - github.com/shopspring/decimal: NUMERIC columns scan into decimals.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrMilestoneNotFound    = errors.New("milestone not found")
	ErrEscrowNotFound       = errors.New("escrow transaction not found")
	ErrEscrowExists         = errors.New("escrow transaction already exists for contract")
	ErrEscrowNotRefundable  = errors.New("escrow transaction is not refundable")
	ErrMilestoneAlreadyPaid = errors.New("milestone already has a payment")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrEscrowOverdrawn      = errors.New("release would exceed escrow total")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return id, nil
}

// FindUserByID retrieves a user with their processor references.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, clerk_user_id, email, full_name,
		       processor_customer_id, payout_account_id, payout_account_status
		FROM users WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.ClerkUserID,
		&user.Email,
		&user.FullName,
		&user.ProcessorCustomerID,
		&user.PayoutAccountID,
		&user.PayoutAccountStatus,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserIDByPayoutAccountID resolves the user holding a connected payout
// account reference. Used by the account.updated webhook path.
func (r *PostgresRepository) FindUserIDByPayoutAccountID(ctx context.Context, accountID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE payout_account_id = $1", accountID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return id, nil
}

// SetProcessorCustomerID persists the processor customer reference if the user has
// none yet, then returns whatever reference is now on the row. Two concurrent
// callers converge on the first writer's value.
func (r *PostgresRepository) SetProcessorCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	query := `
		UPDATE users SET processor_customer_id = $2, updated_at = now()
		WHERE id = $1 AND processor_customer_id IS NULL
	`
	if _, err := r.db.Exec(ctx, query, userID, customerID); err != nil {
		return "", err
	}

	var current *string
	err := r.db.QueryRow(ctx, "SELECT processor_customer_id FROM users WHERE id = $1", userID).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if current == nil {
		return "", fmt.Errorf("processor customer id not persisted for user %s", userID)
	}
	return *current, nil
}

// SetPayoutAccount persists the connected payout account reference if absent and
// returns the reference now on the row.
func (r *PostgresRepository) SetPayoutAccount(ctx context.Context, userID uuid.UUID, accountID string, status domain.PayoutAccountStatus) (string, error) {
	query := `
		UPDATE users SET payout_account_id = $2, payout_account_status = $3, updated_at = now()
		WHERE id = $1 AND payout_account_id IS NULL
	`
	if _, err := r.db.Exec(ctx, query, userID, accountID, status); err != nil {
		return "", err
	}

	var current *string
	err := r.db.QueryRow(ctx, "SELECT payout_account_id FROM users WHERE id = $1", userID).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if current == nil {
		return "", fmt.Errorf("payout account id not persisted for user %s", userID)
	}
	return *current, nil
}

// UpdatePayoutAccountStatus updates the cached onboarding status on the user row.
func (r *PostgresRepository) UpdatePayoutAccountStatus(ctx context.Context, userID uuid.UUID, status domain.PayoutAccountStatus) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE users SET payout_account_status = $2, updated_at = now() WHERE id = $1",
		userID, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindContractByID retrieves a contract.
func (r *PostgresRepository) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	var c domain.Contract
	query := `
		SELECT id, brand_id, creator_id, total_amount, currency, status, created_at
		FROM contracts WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, contractID).Scan(
		&c.ID, &c.BrandID, &c.CreatorID, &c.TotalAmount, &c.Currency, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindMilestoneByID retrieves a milestone.
func (r *PostgresRepository) FindMilestoneByID(ctx context.Context, milestoneID uuid.UUID) (*domain.Milestone, error) {
	var m domain.Milestone
	query := `
		SELECT id, contract_id, title, amount, due_date, status, paid_at, created_at
		FROM milestones WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, milestoneID).Scan(
		&m.ID, &m.ContractID, &m.Title, &m.Amount, &m.DueDate, &m.Status, &m.PaidAt, &m.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMilestoneNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateEscrowTransaction inserts the escrow row. The unique index on contract_id
// closes the race between two concurrent escrow creations for the same contract.
func (r *PostgresRepository) CreateEscrowTransaction(ctx context.Context, escrow *domain.EscrowTransaction) error {
	query := `
		INSERT INTO escrow_transactions
			(id, contract_id, total_amount, platform_fee, currency,
			 released_amount, refunded_amount, status, processor_payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		escrow.ID,
		escrow.ContractID,
		escrow.TotalAmount,
		escrow.PlatformFee,
		escrow.Currency,
		escrow.ReleasedAmount,
		escrow.RefundedAmount,
		escrow.Status,
		escrow.ProcessorPaymentIntentID,
	).Scan(&escrow.CreatedAt, &escrow.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEscrowExists
		}
		return err
	}
	return nil
}

const escrowColumns = `
	id, contract_id, total_amount, platform_fee, currency,
	released_amount, refunded_amount, status, processor_payment_intent_id,
	funded_at, released_at, refunded_at, created_at, updated_at
`

func scanEscrow(row pgx.Row) (*domain.EscrowTransaction, error) {
	var e domain.EscrowTransaction
	err := row.Scan(
		&e.ID, &e.ContractID, &e.TotalAmount, &e.PlatformFee, &e.Currency,
		&e.ReleasedAmount, &e.RefundedAmount, &e.Status, &e.ProcessorPaymentIntentID,
		&e.FundedAt, &e.ReleasedAt, &e.RefundedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindEscrowByContractID retrieves the escrow for a contract.
func (r *PostgresRepository) FindEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*domain.EscrowTransaction, error) {
	query := "SELECT " + escrowColumns + " FROM escrow_transactions WHERE contract_id = $1"
	return scanEscrow(r.db.QueryRow(ctx, query, contractID))
}

// FindEscrowByPaymentIntentID retrieves the escrow holding a processor charge
// reference. Used by the deposit-confirmation webhook path.
func (r *PostgresRepository) FindEscrowByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.EscrowTransaction, error) {
	query := "SELECT " + escrowColumns + " FROM escrow_transactions WHERE processor_payment_intent_id = $1"
	return scanEscrow(r.db.QueryRow(ctx, query, paymentIntentID))
}

// MarkEscrowFunded transitions PENDING_DEPOSIT -> FUNDED. The status predicate in
// the UPDATE makes duplicate webhook deliveries harmless: the second delivery
// matches no row and reports (false, nil).
func (r *PostgresRepository) MarkEscrowFunded(ctx context.Context, escrowID uuid.UUID, fundedAt time.Time) (bool, error) {
	query := `
		UPDATE escrow_transactions
		SET status = $2, funded_at = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, escrowID, domain.EscrowFunded, fundedAt, domain.EscrowPendingDeposit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkEscrowRefunded transitions FUNDED -> REFUNDED. Refund is only permitted from
// FUNDED; any other state matches no row.
func (r *PostgresRepository) MarkEscrowRefunded(ctx context.Context, escrowID uuid.UUID, amount decimal.Decimal, refundedAt time.Time) error {
	query := `
		UPDATE escrow_transactions
		SET status = $2, refunded_amount = $3, refunded_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, escrowID, domain.EscrowRefunded, amount, refundedAt, domain.EscrowFunded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEscrowNotRefundable
	}
	return nil
}

// ApplyMilestoneRelease commits the three-way release update atomically: insert the
// Payment, mark the milestone PAID, and add to the escrow's released total. Any
// failure rolls the whole thing back, leaving the milestone releasable again.
func (r *PostgresRepository) ApplyMilestoneRelease(ctx context.Context, params ApplyMilestoneReleaseParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payment := &domain.Payment{
		ID:                  uuid.New(),
		EscrowTransactionID: params.EscrowTransactionID,
		MilestoneID:         &params.MilestoneID,
		RecipientUserID:     params.RecipientUserID,
		Amount:              params.Amount,
		PlatformFee:         params.PlatformFee,
		NetAmount:           params.NetAmount,
		Currency:            params.Currency,
		Status:              domain.PaymentCompleted,
		Type:                domain.PaymentMilestoneRelease,
		ProcessorTransferID: &params.ProcessorTransferID,
		CompletedAt:         &params.ReleasedAt,
	}

	// The unique index on payments.milestone_id is the double-release guard.
	insertPayment := `
		INSERT INTO payments
			(id, escrow_transaction_id, milestone_id, recipient_user_id,
			 amount, platform_fee, net_amount, currency, status, type,
			 processor_transfer_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertPayment,
		payment.ID, payment.EscrowTransactionID, payment.MilestoneID, payment.RecipientUserID,
		payment.Amount, payment.PlatformFee, payment.NetAmount, payment.Currency,
		payment.Status, payment.Type, payment.ProcessorTransferID, payment.CompletedAt,
	).Scan(&payment.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrMilestoneAlreadyPaid
		}
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	// The status predicate keeps PAID a one-way, exactly-once transition even if a
	// competing writer slipped past the precondition read.
	updateMilestone := `
		UPDATE milestones SET status = $2, paid_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := tx.Exec(ctx, updateMilestone, params.MilestoneID, domain.MilestonePaid, params.ReleasedAt, domain.MilestoneReady)
	if err != nil {
		return nil, fmt.Errorf("failed to mark milestone paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrMilestoneAlreadyPaid
	}

	// SQL-side invariant guard: released + refunded may never exceed total.
	updateEscrow := `
		UPDATE escrow_transactions
		SET released_amount = released_amount + $2,
		    status = CASE WHEN released_amount + $2 >= total_amount THEN $3 ELSE $4 END,
		    released_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ($6, $7)
		  AND released_amount + refunded_amount + $2 <= total_amount
	`
	tag, err = tx.Exec(ctx, updateEscrow,
		params.EscrowTransactionID, params.Amount,
		domain.EscrowFullyReleased, domain.EscrowPartiallyReleased,
		params.ReleasedAt,
		domain.EscrowFunded, domain.EscrowPartiallyReleased,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply release to escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrEscrowOverdrawn
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit release transaction: %w", err)
	}
	return payment, nil
}

const paymentColumns = `
	id, escrow_transaction_id, milestone_id, recipient_user_id,
	amount, platform_fee, net_amount, currency, status, type,
	processor_transfer_id, completed_at, created_at
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.EscrowTransactionID, &p.MilestoneID, &p.RecipientUserID,
		&p.Amount, &p.PlatformFee, &p.NetAmount, &p.Currency, &p.Status, &p.Type,
		&p.ProcessorTransferID, &p.CompletedAt, &p.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindPaymentByMilestoneID retrieves the payment for a milestone, if any.
func (r *PostgresRepository) FindPaymentByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*domain.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE milestone_id = $1"
	return scanPayment(r.db.QueryRow(ctx, query, milestoneID))
}

// FindPaymentsByEscrowID lists payments for an escrow, oldest first.
func (r *PostgresRepository) FindPaymentsByEscrowID(ctx context.Context, escrowID uuid.UUID) ([]domain.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE escrow_transaction_id = $1 ORDER BY created_at ASC"
	rows, err := r.db.Query(ctx, query, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		err := rows.Scan(
			&p.ID, &p.EscrowTransactionID, &p.MilestoneID, &p.RecipientUserID,
			&p.Amount, &p.PlatformFee, &p.NetAmount, &p.Currency, &p.Status, &p.Type,
			&p.ProcessorTransferID, &p.CompletedAt, &p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
