/**
 * @description
 * This file defines the error taxonomy of the payments-service application layer.
 * Handlers map these onto HTTP statuses; the taxonomy is deliberately small:
 *
 *   ValidationError  - a precondition or state rule was violated (user-actionable)
 *   ConflictError    - the resource being created already exists
 *   PermissionError  - the caller is not allowed to perform the operation
 *   NotFoundError    - a referenced entity does not exist
 *   ProcessorError   - the external payment call failed; local state is untouched
 *   ConsistencyError - the processor call succeeded but the local commit failed;
 *                      requires operator reconciliation and is never swallowed
 *
 * @dependencies
 * - errors, fmt: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers carried by ConsistencyError.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports a violated precondition or state rule.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports that the resource the caller tried to create already
// exists. Distinct from ValidationError so handlers can answer 409, not 400.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// PermissionError reports an authorization failure.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

// ProcessorError wraps a failed external payment call. No local state was mutated.
type ProcessorError struct {
	Op  string
	Err error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s failed: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports the one failure mode that cannot be resolved
// automatically: money moved at the processor but the local commit failed. It
// carries both sides' identifiers so an operator can reconcile without blindly
// re-querying the processor.
type ConsistencyError struct {
	Op                  string
	ProcessorRef        string
	EscrowTransactionID uuid.UUID
	MilestoneID         uuid.UUID
	Err                 error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency failure in %s: processor ref %s committed but local update failed (escrow=%s milestone=%s): %v",
		e.Op, e.ProcessorRef, e.EscrowTransactionID, e.MilestoneID, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// IsUserFacing reports whether an error belongs to the 4xx family.
func IsUserFacing(err error) bool {
	var ve *ValidationError
	var ce *ConflictError
	var pe *PermissionError
	var ne *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &pe) || errors.As(err, &ne)
}
