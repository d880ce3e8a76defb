package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

// Lookups return (nil, nil) when the record does not exist.

type RequisitionRepository interface {
	CreateRequisition(ctx context.Context, r domain.Requisition) error
	GetRequisition(ctx context.Context, id string) (*domain.Requisition, error)
	GetRequisitionByToken(ctx context.Context, token string) (*domain.Requisition, error)

	// UpdateRequisition stores header fields and replaces the line set.
	UpdateRequisition(ctx context.Context, r domain.Requisition) error

	// ListRequisitions returns requisitions matching the token and creation
	// date parts of the filter, oldest first.
	ListRequisitions(ctx context.Context, f domain.ReportFilter) ([]domain.Requisition, error)

	// ListExpiredCandidates pages through open requisitions whose validity is
	// before now, ordered by id and starting after afterID.
	ListExpiredCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Requisition, error)

	// CancelIfOpen cancels the requisition only while it is draft or
	// web_quote, returning false when no row changed.
	CancelIfOpen(ctx context.Context, id string, at time.Time) (bool, error)

	AddNote(ctx context.Context, n domain.AuditNote) error
	ListNotes(ctx context.Context, requisitionID string) ([]domain.AuditNote, error)
}

type TransferRepository interface {
	// ListTransfersByToken returns every transfer referencing token with its
	// moves and locations, in creation order.
	ListTransfersByToken(ctx context.Context, token string) ([]domain.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	GetTransferByMove(ctx context.Context, moveID string) (*domain.Transfer, error)
	UpdateMoveQuantity(ctx context.Context, moveID string, field domain.MoveField, value decimal.Decimal) error

	// MarkTransferDone closes the transfer and every move in it that is not
	// cancelled.
	MarkTransferDone(ctx context.Context, transferID string, at time.Time) error
}

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Store interface {
	RequisitionRepository
	TransferRepository
	ProductRepository

	// WithinToken runs fn in one transaction holding the row lock of the
	// requisition identified by token. Returning an error rolls back.
	WithinToken(ctx context.Context, token string, fn func(tx Store) error) error
}
