package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

type FillRateService struct {
	requisitions port.RequisitionRepository
	transfers    port.TransferRepository
}

func NewFillRateService(requisitions port.RequisitionRepository, transfers port.TransferRepository) *FillRateService {
	return &FillRateService{requisitions: requisitions, transfers: transfers}
}

// Compute derives one record per product of the requisition from the current
// transfer state. An unknown token yields an empty list.
func (s *FillRateService) Compute(ctx context.Context, token string) ([]domain.FillRateRecord, error) {
	r, err := s.requisitions.GetRequisitionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get requisition: %w", err)
	}
	if r == nil {
		return []domain.FillRateRecord{}, nil
	}

	transfers, err := s.transfers.ListTransfersByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}

	return ComputeFillRate(*r, transfers), nil
}

// ComputeFillRate sums done origin-leg moves as sent and done destination-leg
// moves as received, per product, in the order products first appear on the
// requisition lines.
func ComputeFillRate(r domain.Requisition, transfers []domain.Transfer) []domain.FillRateRecord {
	var order []string
	demanded := map[string]decimal.Decimal{}
	for _, l := range r.Lines {
		if _, ok := demanded[l.ProductID]; !ok {
			order = append(order, l.ProductID)
		}
		demanded[l.ProductID] = demanded[l.ProductID].Add(l.Quantity)
	}

	sent := map[string]decimal.Decimal{}
	received := map[string]decimal.Decimal{}
	for _, t := range transfers {
		var bucket map[string]decimal.Decimal
		switch t.Leg() {
		case domain.LegOrigin:
			bucket = sent
		case domain.LegDestination:
			bucket = received
		default:
			continue
		}
		for _, m := range t.Moves {
			if m.State != domain.TransferDone {
				continue
			}
			if _, ok := demanded[m.ProductID]; !ok {
				continue
			}
			bucket[m.ProductID] = bucket[m.ProductID].Add(m.Realized)
		}
	}

	records := make([]domain.FillRateRecord, 0, len(order))
	for _, pid := range order {
		rate := domain.FillRate(demanded[pid], received[pid])
		records = append(records, domain.FillRateRecord{
			RequisitionToken: r.Token,
			ProductID:        pid,
			Demanded:         demanded[pid],
			Sent:             sent[pid],
			Received:         received[pid],
			FillRate:         rate,
			Category:         domain.CategoryFor(rate),
		})
	}
	return records
}
