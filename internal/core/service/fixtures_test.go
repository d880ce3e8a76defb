package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

var (
	stock   = domain.Location{ID: "WH/Stock", Name: "WH/Stock", Usage: domain.UsageInternal}
	transit = domain.Location{ID: "Transit", Name: "Inter-warehouse transit", Usage: domain.UsageTransit}
	shop    = domain.Location{ID: "SHOP/Stock", Name: "SHOP/Stock", Usage: domain.UsageInternal}

	units = domain.UnitOfMeasure{Name: "Units", Rounding: decimal.RequireFromString("0.01")}

	base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	clerk   = domain.NewActor("clerk")
	manager = domain.NewActor("manager", domain.CapQuantityManager)
	buyer   = domain.NewActor("buyer", domain.CapPurchaseRequisitionManager)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func requisition(id, token string, state domain.RequisitionState, lines ...domain.RequisitionLine) domain.Requisition {
	for i := range lines {
		lines[i].RequisitionID = id
	}
	return domain.Requisition{
		ID:        id,
		Token:     token,
		State:     state,
		OwnerID:   "clerk",
		Lines:     lines,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func line(id, product, qty string) domain.RequisitionLine {
	return domain.RequisitionLine{
		ID:        id,
		ProductID: product,
		Quantity:  dec(qty),
		UoM:       units,
		Kind:      domain.LineInternalTransfer,
	}
}

func move(id, product, demanded, realized string, state domain.TransferState) domain.Move {
	return domain.Move{
		ID:        id,
		ProductID: product,
		Demanded:  dec(demanded),
		Realized:  dec(realized),
		UoM:       units,
		State:     state,
	}
}

func origin(id, token string, seq int64, state domain.TransferState, backorder *string, moves ...domain.Move) domain.Transfer {
	return transfer(id, token, stock, transit, seq, state, backorder, moves)
}

func destination(id, token string, seq int64, state domain.TransferState, backorder *string, moves ...domain.Move) domain.Transfer {
	return transfer(id, token, transit, shop, seq, state, backorder, moves)
}

func transfer(id, token string, src, dst domain.Location, seq int64, state domain.TransferState, backorder *string, moves []domain.Move) domain.Transfer {
	for i := range moves {
		moves[i].TransferID = id
	}
	return domain.Transfer{
		ID:               id,
		RequisitionToken: token,
		Source:           src,
		Destination:      dst,
		State:            state,
		BackorderID:      backorder,
		Sequence:         seq,
		Moves:            moves,
		CreatedAt:        base.Add(time.Duration(seq) * time.Minute),
	}
}

// splitShipment seeds REQ-100: 10 units of P1 shipped in one origin leg and
// received as 6 on D1 plus a backorder D2 for the remaining 4.
func splitShipment(store *mockStore, d2Realized string) {
	store.putRequisition(requisition("r-100", "REQ-100", domain.RequisitionConfirmed, line("l-1", "P1", "10")))
	store.putTransfer(origin("O1", "REQ-100", 1, domain.TransferDone, nil,
		move("O1-m1", "P1", "10", "10", domain.TransferDone)))
	store.putTransfer(destination("D1", "REQ-100", 2, domain.TransferAssigned, nil,
		move("D1-m1", "P1", "10", "6", domain.TransferAssigned)))
	store.putTransfer(destination("D2", "REQ-100", 3, domain.TransferAssigned, ptr("D1"),
		move("D2-m1", "P1", "4", d2Realized, domain.TransferAssigned)))
}
