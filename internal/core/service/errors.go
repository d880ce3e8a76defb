package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrQuantityInvariant     = errors.New("quantity invariant violation")
	ErrMissingPredecessorLeg = errors.New("missing predecessor leg")
	ErrNotFound              = errors.New("not found")

	ErrRequisitionNotFound = fmt.Errorf("requisition %w", ErrNotFound)
	ErrTransferNotFound    = fmt.Errorf("transfer %w", ErrNotFound)
	ErrMoveNotFound        = fmt.Errorf("move %w", ErrNotFound)
	ErrProductNotFound     = fmt.Errorf("product %w", ErrNotFound)

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrEmptyRequisition  = errors.New("requisition needs at least one line")
	ErrInvalidLine       = errors.New("invalid requisition line")
	ErrRequisitionLocked = errors.New("requisition lines are locked after confirmation")
	ErrNotDestinationLeg = errors.New("transfer is not a destination leg")
	ErrTransferClosed    = errors.New("transfer is already done or cancelled")
	ErrInvalidMoveField  = errors.New("invalid move field")
	ErrNegativeQuantity  = errors.New("quantity must be >= 0")
	ErrLockNotObtained   = errors.New("could not obtain requisition lock")
	ErrDuplicateRequest  = errors.New("duplicate request")

	ErrProductNotSaleable = errors.New("product is not sale-enabled")
)

type PermissionDeniedError struct {
	ActorID    string
	Capability domain.Capability
	Operation  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s requires %s (actor %q)", e.Operation, e.Capability, e.ActorID)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

type QuantityInvariantError struct {
	MoveID    string
	ProductID string
	Demanded  decimal.Decimal
	Attempted decimal.Decimal
	Reason    string
}

func (e *QuantityInvariantError) Error() string {
	return fmt.Sprintf("quantity invariant violation on product %s: demanded %s, attempted %s: %s",
		e.ProductID, e.Demanded, e.Attempted, e.Reason)
}

func (e *QuantityInvariantError) Is(target error) bool { return target == ErrQuantityInvariant }

type MissingPredecessorError struct {
	Token      string
	TransferID string
}

func (e *MissingPredecessorError) Error() string {
	return fmt.Sprintf("missing predecessor leg: destination transfer %s of %s has no completed origin leg", e.TransferID, e.Token)
}

func (e *MissingPredecessorError) Is(target error) bool { return target == ErrMissingPredecessorLeg }
