package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferState string

const (
	TransferDraft              TransferState = "draft"
	TransferWaiting            TransferState = "waiting"
	TransferConfirmed          TransferState = "confirmed"
	TransferAssigned           TransferState = "assigned"
	TransferPartiallyAvailable TransferState = "partially_available"
	TransferDone               TransferState = "done"
	TransferCancelled          TransferState = "cancelled"
)

// IsClosed is true for done and cancelled, the states the quantity lock no
// longer applies to.
func (s TransferState) IsClosed() bool {
	return s == TransferDone || s == TransferCancelled
}

type Leg string

const (
	LegNone        Leg = ""
	LegOrigin      Leg = "origin"
	LegDestination Leg = "destination"
)

type Transfer struct {
	ID               string
	RequisitionToken string
	Source           Location
	Destination      Location
	State            TransferState

	// BackorderID points at the transfer this one was split from.
	BackorderID *string
	Sequence    int64
	Moves       []Move
	CreatedAt   time.Time
	DoneAt      *time.Time
}

// Leg classifies the transfer by its endpoints: internal→transit is the
// origin leg, transit→internal the destination leg.
func (t Transfer) Leg() Leg {
	src, dst := ClassifyLocation(&t.Source), ClassifyLocation(&t.Destination)
	switch {
	case src == ClassInternal && dst == ClassTransit:
		return LegOrigin
	case src == ClassTransit && dst == ClassInternal:
		return LegDestination
	default:
		return LegNone
	}
}

func (t Transfer) Move(id string) (Move, bool) {
	for _, m := range t.Moves {
		if m.ID == id {
			return m, true
		}
	}
	return Move{}, false
}

type Move struct {
	ID         string
	TransferID string
	ProductID  string
	Demanded   decimal.Decimal
	Realized   decimal.Decimal
	UoM        UnitOfMeasure
	State      TransferState
}

type MoveField string

const (
	FieldRealizedQuantity MoveField = "realized_quantity"
	FieldDemandedQuantity MoveField = "demanded_quantity"
)

func (f MoveField) Valid() bool {
	return f == FieldRealizedQuantity || f == FieldDemandedQuantity
}

// MoveEdit is one attempted write to a quantity field of a move.
type MoveEdit struct {
	Field    MoveField
	OldValue decimal.Decimal
	NewValue decimal.Decimal
}

// NewMoveEdit builds the edit against the move's current value of field.
func NewMoveEdit(m Move, field MoveField, value decimal.Decimal) MoveEdit {
	old := m.Realized
	if field == FieldDemandedQuantity {
		old = m.Demanded
	}
	return MoveEdit{Field: field, OldValue: old, NewValue: value}
}

// Apply returns a copy of m with the edit applied.
func (e MoveEdit) Apply(m Move) Move {
	switch e.Field {
	case FieldRealizedQuantity:
		m.Realized = e.NewValue
	case FieldDemandedQuantity:
		m.Demanded = e.NewValue
	}
	return m
}
