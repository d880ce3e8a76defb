package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

// Mock Store
type mockStore struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	requisitions map[string]domain.Requisition
	transfers    map[string]domain.Transfer
	products     map[string]domain.Product
	notes        []domain.AuditNote
	failCancel   map[string]bool
	txCount      int
}

func newMockStore() *mockStore {
	return &mockStore{
		requisitions: make(map[string]domain.Requisition),
		transfers:    make(map[string]domain.Transfer),
		products:     make(map[string]domain.Product),
		failCancel:   make(map[string]bool),
	}
}

func (m *mockStore) putRequisition(r domain.Requisition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requisitions[r.ID] = copyRequisition(r)
}

func (m *mockStore) putTransfer(t domain.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[t.ID] = copyTransfer(t)
}

func (m *mockStore) putProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *mockStore) notesFor(id string) []domain.AuditNote {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditNote
	for _, n := range m.notes {
		if n.RequisitionID == id {
			out = append(out, n)
		}
	}
	return out
}

func (m *mockStore) CreateRequisition(ctx context.Context, r domain.Requisition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.requisitions {
		if have.Token == r.Token {
			return errors.New("duplicate token")
		}
	}
	m.requisitions[r.ID] = copyRequisition(r)
	return nil
}

func (m *mockStore) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requisitions[id]
	if !ok {
		return nil, nil
	}
	r = copyRequisition(r)
	return &r, nil
}

func (m *mockStore) GetRequisitionByToken(ctx context.Context, token string) (*domain.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requisitions {
		if r.Token == token {
			r = copyRequisition(r)
			return &r, nil
		}
	}
	return nil, nil
}

func (m *mockStore) UpdateRequisition(ctx context.Context, r domain.Requisition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requisitions[r.ID]; !ok {
		return errors.New("no such requisition")
	}
	m.requisitions[r.ID] = copyRequisition(r)
	return nil
}

func (m *mockStore) ListRequisitions(ctx context.Context, f domain.ReportFilter) ([]domain.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Requisition
	for _, r := range m.requisitions {
		if len(f.Tokens) > 0 && !contains(f.Tokens, r.Token) {
			continue
		}
		if f.From != nil && r.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, copyRequisition(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockStore) ListExpiredCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Requisition
	for _, r := range m.requisitions {
		if r.ID > afterID && r.Expired(now) {
			out = append(out, copyRequisition(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) CancelIfOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCancel[id] {
		return false, errors.New("connection reset")
	}
	r, ok := m.requisitions[id]
	if !ok || !r.State.IsOpen() {
		return false, nil
	}
	r.State = domain.RequisitionCancelled
	r.UpdatedAt = at
	m.requisitions[id] = r
	return true, nil
}

func (m *mockStore) AddNote(ctx context.Context, n domain.AuditNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

func (m *mockStore) ListNotes(ctx context.Context, requisitionID string) ([]domain.AuditNote, error) {
	return m.notesFor(requisitionID), nil
}

func (m *mockStore) ListTransfersByToken(ctx context.Context, token string) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transfer
	for _, t := range m.transfers {
		if t.RequisitionToken == token {
			out = append(out, copyTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockStore) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, nil
	}
	t = copyTransfer(t)
	return &t, nil
}

func (m *mockStore) GetTransferByMove(ctx context.Context, moveID string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transfers {
		if _, ok := t.Move(moveID); ok {
			t = copyTransfer(t)
			return &t, nil
		}
	}
	return nil, nil
}

func (m *mockStore) UpdateMoveQuantity(ctx context.Context, moveID string, field domain.MoveField, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.transfers {
		for i, mv := range t.Moves {
			if mv.ID != moveID {
				continue
			}
			t.Moves[i] = domain.NewMoveEdit(mv, field, value).Apply(mv)
			m.transfers[id] = t
			return nil
		}
	}
	return errors.New("no such move")
}

func (m *mockStore) MarkTransferDone(ctx context.Context, transferID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[transferID]
	if !ok {
		return errors.New("no such transfer")
	}
	t.State = domain.TransferDone
	t.DoneAt = &at
	for i := range t.Moves {
		if t.Moves[i].State != domain.TransferCancelled {
			t.Moves[i].State = domain.TransferDone
		}
	}
	m.transfers[transferID] = t
	return nil
}

func (m *mockStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// WithinToken serializes transactions and restores a snapshot when fn fails.
func (m *mockStore) WithinToken(ctx context.Context, token string, fn func(tx port.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	m.txCount++
	reqs := make(map[string]domain.Requisition, len(m.requisitions))
	for k, v := range m.requisitions {
		reqs[k] = copyRequisition(v)
	}
	transfers := make(map[string]domain.Transfer, len(m.transfers))
	for k, v := range m.transfers {
		transfers[k] = copyTransfer(v)
	}
	notes := append([]domain.AuditNote(nil), m.notes...)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.requisitions, m.transfers, m.notes = reqs, transfers, notes
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyRequisition(r domain.Requisition) domain.Requisition {
	r.Lines = append([]domain.RequisitionLine(nil), r.Lines...)
	return r
}

func copyTransfer(t domain.Transfer) domain.Transfer {
	t.Moves = append([]domain.Move(nil), t.Moves...)
	return t
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Mock FillRateCache
type mockCache struct {
	mu          sync.Mutex
	records     map[string][]domain.FillRateRecord
	gets        int
	sets        int
	invalidated []string
	failGet     bool
}

func newMockCache() *mockCache {
	return &mockCache{records: make(map[string][]domain.FillRateRecord)}
}

func (c *mockCache) GetFillRate(ctx context.Context, token string) ([]domain.FillRateRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, false, errors.New("redis down")
	}
	recs, ok := c.records[token]
	return recs, ok, nil
}

func (c *mockCache) SetFillRate(ctx context.Context, token string, records []domain.FillRateRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.records[token] = records
	return nil
}

func (c *mockCache) InvalidateFillRate(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, token)
	c.invalidated = append(c.invalidated, token)
	return nil
}

// Mock TokenLocker
type mockLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]bool)}
}

func (l *mockLocker) Lock(ctx context.Context, token string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[token] {
		return nil, ErrLockNotObtained
	}
	l.held[token] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, token)
		l.released++
		return nil
	}, nil
}
