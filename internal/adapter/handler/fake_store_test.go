package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

// Fake Store
type fakeStore struct {
	mu           sync.Mutex
	requisitions []domain.Requisition
	transfers    []domain.Transfer
	products     map[string]domain.Product
	notes        []domain.AuditNote
}

func newFakeStore() *fakeStore {
	return &fakeStore{products: make(map[string]domain.Product)}
}

func (s *fakeStore) findRequisition(match func(domain.Requisition) bool) *domain.Requisition {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requisitions {
		if match(r) {
			r.Lines = append([]domain.RequisitionLine(nil), r.Lines...)
			return &r
		}
	}
	return nil
}

func (s *fakeStore) CreateRequisition(ctx context.Context, r domain.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requisitions = append(s.requisitions, r)
	return nil
}

func (s *fakeStore) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	return s.findRequisition(func(r domain.Requisition) bool { return r.ID == id }), nil
}

func (s *fakeStore) GetRequisitionByToken(ctx context.Context, token string) (*domain.Requisition, error) {
	return s.findRequisition(func(r domain.Requisition) bool { return r.Token == token }), nil
}

func (s *fakeStore) UpdateRequisition(ctx context.Context, r domain.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requisitions {
		if s.requisitions[i].ID == r.ID {
			s.requisitions[i] = r
		}
	}
	return nil
}

func (s *fakeStore) ListRequisitions(ctx context.Context, f domain.ReportFilter) ([]domain.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Requisition
	for _, r := range s.requisitions {
		if len(f.Tokens) > 0 && !containsString(f.Tokens, r.Token) {
			continue
		}
		if f.From != nil && r.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) ListExpiredCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Requisition
	for _, r := range s.requisitions {
		if r.ID > afterID && r.Expired(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CancelIfOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requisitions {
		if s.requisitions[i].ID == id && s.requisitions[i].State.IsOpen() {
			s.requisitions[i].State = domain.RequisitionCancelled
			s.requisitions[i].UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) AddNote(ctx context.Context, n domain.AuditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *fakeStore) ListNotes(ctx context.Context, requisitionID string) ([]domain.AuditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditNote
	for _, n := range s.notes {
		if n.RequisitionID == requisitionID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTransfersByToken(ctx context.Context, token string) ([]domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transfer
	for _, t := range s.transfers {
		if t.RequisitionToken == token {
			t.Moves = append([]domain.Move(nil), t.Moves...)
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transfers {
		if t.ID == id {
			t.Moves = append([]domain.Move(nil), t.Moves...)
			return &t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetTransferByMove(ctx context.Context, moveID string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transfers {
		if _, ok := t.Move(moveID); ok {
			t.Moves = append([]domain.Move(nil), t.Moves...)
			return &t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateMoveQuantity(ctx context.Context, moveID string, field domain.MoveField, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transfers {
		for j, m := range s.transfers[i].Moves {
			if m.ID == moveID {
				s.transfers[i].Moves[j] = domain.NewMoveEdit(m, field, value).Apply(m)
			}
		}
	}
	return nil
}

func (s *fakeStore) MarkTransferDone(ctx context.Context, transferID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transfers {
		if s.transfers[i].ID != transferID {
			continue
		}
		s.transfers[i].State = domain.TransferDone
		s.transfers[i].DoneAt = &at
		for j := range s.transfers[i].Moves {
			if s.transfers[i].Moves[j].State != domain.TransferCancelled {
				s.transfers[i].Moves[j].State = domain.TransferDone
			}
		}
	}
	return nil
}

func (s *fakeStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakeStore) WithinToken(ctx context.Context, token string, fn func(tx port.Store) error) error {
	return fn(s)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Fake IdempotencyStore
type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (f *fakeIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

var (
	stock   = domain.Location{ID: "WH/Stock", Usage: domain.UsageInternal}
	transit = domain.Location{ID: "Transit", Usage: domain.UsageTransit}
	shop    = domain.Location{ID: "SHOP/Stock", Usage: domain.UsageInternal}
	units   = domain.UnitOfMeasure{Name: "Units", Rounding: decimal.RequireFromString("0.01")}
)

// seedShipment stores REQ-100 with 10 units of P1 shipped and a destination
// leg D1 waiting to be received.
func seedShipment(s *fakeStore) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.requisitions = append(s.requisitions, domain.Requisition{
		ID: "r-100", Token: "REQ-100", State: domain.RequisitionConfirmed, CreatedAt: created,
		Lines: []domain.RequisitionLine{{ID: "l-1", RequisitionID: "r-100", ProductID: "P1", Quantity: decimal.NewFromInt(10), UoM: units, Kind: domain.LineInternalTransfer}},
	})
	s.transfers = append(s.transfers,
		domain.Transfer{
			ID: "O1", RequisitionToken: "REQ-100", Source: stock, Destination: transit, State: domain.TransferDone, Sequence: 1, CreatedAt: created,
			Moves: []domain.Move{{ID: "O1-m1", TransferID: "O1", ProductID: "P1", Demanded: decimal.NewFromInt(10), Realized: decimal.NewFromInt(10), UoM: units, State: domain.TransferDone}},
		},
		domain.Transfer{
			ID: "D1", RequisitionToken: "REQ-100", Source: transit, Destination: shop, State: domain.TransferAssigned, Sequence: 2, CreatedAt: created,
			Moves: []domain.Move{{ID: "D1-m1", TransferID: "D1", ProductID: "P1", Demanded: decimal.NewFromInt(10), Realized: decimal.Zero, UoM: units, State: domain.TransferAssigned}},
		},
	)
}
