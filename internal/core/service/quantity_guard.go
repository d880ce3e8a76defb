package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

// QuantityGuard enforces the quantity lock on destination-leg moves. It holds
// no state; callers load the records and persist only after a nil result.
type QuantityGuard struct{}

// CheckEdit decides whether e may be written to m, a move of t.
func (QuantityGuard) CheckEdit(actor domain.Actor, t domain.Transfer, m domain.Move, e domain.MoveEdit) error {
	if actor.Has(domain.CapQuantityManager) {
		return nil
	}
	if t.Leg() != domain.LegDestination || t.RequisitionToken == "" || m.State.IsClosed() {
		return nil
	}

	switch e.Field {
	case domain.FieldDemandedQuantity:
		if m.UoM.Equal(e.OldValue, e.NewValue) {
			return nil
		}
		return &PermissionDeniedError{
			ActorID:    actor.ID,
			Capability: domain.CapQuantityManager,
			Operation:  "change demanded quantity of move " + m.ID,
		}
	case domain.FieldRealizedQuantity:
		if m.UoM.IsZero(e.NewValue) || m.UoM.Equal(e.NewValue, m.Demanded) {
			return nil
		}
		return &QuantityInvariantError{
			MoveID:    m.ID,
			ProductID: m.ProductID,
			Demanded:  m.Demanded,
			Attempted: e.NewValue,
			Reason:    "realized quantity must be 0 or the demanded quantity",
		}
	default:
		return ErrInvalidMoveField
	}
}

// Completion is the outcome of a successful pre-completion check.
type Completion struct {
	Transfer domain.Transfer
	Origin   domain.Transfer

	// Discrepancies lists the violations a quantity manager was allowed past.
	Discrepancies []QuantityInvariantError
}

// CheckCompletion verifies that the destination transfer transferID, one of
// the transfers of its requisition token, may be marked done.
//
// Without a backorder sibling every move must be received in full. Across the
// backorder chain the received total may never exceed what the matched origin
// chain shipped, and must equal it once the last open sibling closes.
func (g QuantityGuard) CheckCompletion(actor domain.Actor, transfers []domain.Transfer, transferID string) (*Completion, error) {
	lin := newLineage(transfers)
	t, ok := lin.byID[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	if t.Leg() != domain.LegDestination {
		return nil, ErrNotDestinationLeg
	}
	if t.State.IsClosed() {
		return nil, ErrTransferClosed
	}

	origin := MatchLegs(transfers, t.BackorderID).Origin
	if origin == nil || origin.State != domain.TransferDone {
		return nil, &MissingPredecessorError{Token: t.RequisitionToken, TransferID: t.ID}
	}

	violations := g.completionViolations(lin, t, origin)
	if len(violations) > 0 && !actor.Has(domain.CapQuantityManager) {
		return nil, &violations[0]
	}

	return &Completion{
		Transfer:      *t,
		Origin:        *origin,
		Discrepancies: violations,
	}, nil
}

func (QuantityGuard) completionViolations(lin *lineage, t, origin *domain.Transfer) []QuantityInvariantError {
	var out []QuantityInvariantError

	destChain := lin.chain(t)
	if len(destChain) == 1 {
		for _, m := range t.Moves {
			if m.State == domain.TransferCancelled || m.UoM.Equal(m.Realized, m.Demanded) {
				continue
			}
			out = append(out, QuantityInvariantError{
				MoveID:    m.ID,
				ProductID: m.ProductID,
				Demanded:  m.Demanded,
				Attempted: m.Realized,
				Reason:    "realized quantity must equal demand when no backorder remains",
			})
		}
	}

	lastOpen := true
	for _, c := range destChain {
		if c.ID != t.ID && !c.State.IsClosed() {
			lastOpen = false
			break
		}
	}

	shipped := map[string]decimal.Decimal{}
	for _, o := range lin.chain(origin) {
		for _, m := range o.Moves {
			if m.State == domain.TransferDone {
				shipped[m.ProductID] = shipped[m.ProductID].Add(m.Realized)
			}
		}
	}

	received := map[string]decimal.Decimal{}
	for _, c := range destChain {
		for _, m := range c.Moves {
			if m.State != domain.TransferCancelled {
				received[m.ProductID] = received[m.ProductID].Add(m.Realized)
			}
		}
	}

	checked := map[string]bool{}
	for _, m := range t.Moves {
		if m.State == domain.TransferCancelled || checked[m.ProductID] {
			continue
		}
		checked[m.ProductID] = true

		sent, got := m.UoM.Round(shipped[m.ProductID]), m.UoM.Round(received[m.ProductID])
		switch {
		case got.GreaterThan(sent):
			out = append(out, QuantityInvariantError{
				MoveID:    m.ID,
				ProductID: m.ProductID,
				Demanded:  sent,
				Attempted: got,
				Reason:    "received more than the origin leg shipped",
			})
		case lastOpen && got.LessThan(sent):
			out = append(out, QuantityInvariantError{
				MoveID:    m.ID,
				ProductID: m.ProductID,
				Demanded:  sent,
				Attempted: got,
				Reason:    "received less than the origin leg shipped",
			})
		}
	}
	return out
}
