package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequisitionState string

const (
	RequisitionDraft     RequisitionState = "draft"
	RequisitionWebQuote  RequisitionState = "web_quote"
	RequisitionConfirmed RequisitionState = "confirmed"
	RequisitionCancelled RequisitionState = "cancelled"
)

// IsOpen reports whether the requisition can still be quoted, confirmed,
// cancelled or expired.
func (s RequisitionState) IsOpen() bool {
	return s == RequisitionDraft || s == RequisitionWebQuote
}

// CanTransition lists the allowed state moves. Everything else, including
// leaving confirmed or cancelled, is rejected.
func (s RequisitionState) CanTransition(to RequisitionState) bool {
	switch s {
	case RequisitionDraft:
		return to == RequisitionWebQuote || to == RequisitionConfirmed || to == RequisitionCancelled
	case RequisitionWebQuote:
		return to == RequisitionConfirmed || to == RequisitionCancelled
	default:
		return false
	}
}

type LineKind string

const (
	LineInternalTransfer LineKind = "internal_transfer"
	LinePurchaseOrder    LineKind = "purchase_order"
)

type Requisition struct {
	ID           string
	Token        string
	State        RequisitionState
	OwnerID      string
	SalesChannel *string
	ValidUntil   *time.Time
	Lines        []RequisitionLine
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether an open requisition's validity has passed at now.
func (r Requisition) Expired(now time.Time) bool {
	return r.State.IsOpen() && r.ValidUntil != nil && r.ValidUntil.Before(now)
}

func (r Requisition) Line(id string) (RequisitionLine, bool) {
	for _, l := range r.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return RequisitionLine{}, false
}

type RequisitionLine struct {
	ID            string
	RequisitionID string
	ProductID     string
	Quantity      decimal.Decimal
	UoM           UnitOfMeasure
	Kind          LineKind
}

type AuditNote struct {
	ID            string
	RequisitionID string
	Author        string
	Body          string
	CreatedAt     time.Time
}

type Product struct {
	ID          string
	Name        string
	SaleEnabled bool
}
