package service

import (
	"context"
	"fmt"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

// Legs is the origin/destination pair for one backorder generation. Either
// side may be nil: not yet shipped, or not yet received.
type Legs struct {
	Origin      *domain.Transfer
	Destination *domain.Transfer
}

type LegMatcher struct {
	transfers port.TransferRepository
}

func NewLegMatcher(transfers port.TransferRepository) *LegMatcher {
	return &LegMatcher{transfers: transfers}
}

func (m *LegMatcher) FindLegs(ctx context.Context, token string, backorderID *string) (Legs, error) {
	list, err := m.transfers.ListTransfersByToken(ctx, token)
	if err != nil {
		return Legs{}, fmt.Errorf("list transfers: %w", err)
	}
	return MatchLegs(list, backorderID), nil
}

// MatchLegs picks the origin and destination legs for backorderID out of the
// transfers of one requisition token.
//
// A nil backorderID selects the first generation on both sides. A non-nil one
// names the predecessor of the transfer being matched and selects the next
// generation. When one side was never split that far, its nearest earlier
// generation is used, so an unsplit shipment pairs with every receipt split.
func MatchLegs(transfers []domain.Transfer, backorderID *string) Legs {
	lineage := newLineage(transfers)

	target := 0
	if backorderID != nil {
		g, ok := lineage.generation(*backorderID)
		if !ok {
			return Legs{}
		}
		target = g + 1
	}

	return Legs{
		Origin:      lineage.pick(domain.LegOrigin, target),
		Destination: lineage.pick(domain.LegDestination, target),
	}
}

type lineage struct {
	byID  map[string]*domain.Transfer
	order []*domain.Transfer
	gens  map[string]int
}

func newLineage(transfers []domain.Transfer) *lineage {
	l := &lineage{
		byID: make(map[string]*domain.Transfer, len(transfers)),
		gens: make(map[string]int, len(transfers)),
	}
	for i := range transfers {
		t := &transfers[i]
		l.byID[t.ID] = t
		l.order = append(l.order, t)
	}
	return l
}

// generation is the number of backorder hops from id back to a transfer
// with no predecessor in the set.
func (l *lineage) generation(id string) (int, bool) {
	if g, ok := l.gens[id]; ok {
		return g, true
	}
	t, ok := l.byID[id]
	if !ok {
		return 0, false
	}

	g := 0
	seen := map[string]bool{id: true}
	for cur := t; cur.BackorderID != nil; {
		prev, ok := l.byID[*cur.BackorderID]
		if !ok || seen[prev.ID] {
			break
		}
		seen[prev.ID] = true
		cur = prev
		g++
	}
	l.gens[id] = g
	return g, true
}

// root is the first transfer of id's backorder chain.
func (l *lineage) root(t *domain.Transfer) string {
	seen := map[string]bool{t.ID: true}
	cur := t
	for cur.BackorderID != nil {
		prev, ok := l.byID[*cur.BackorderID]
		if !ok || seen[prev.ID] {
			break
		}
		seen[prev.ID] = true
		cur = prev
	}
	return cur.ID
}

func (l *lineage) pick(leg domain.Leg, target int) *domain.Transfer {
	for g := target; g >= 0; g-- {
		var candidates []*domain.Transfer
		for _, t := range l.order {
			if t.Leg() != leg {
				continue
			}
			if gen, _ := l.generation(t.ID); gen == g {
				candidates = append(candidates, t)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		if t := choose(candidates); t != nil {
			return t
		}
	}
	return nil
}

// chain returns the transfers on t's leg sharing its backorder root,
// excluding cancelled ones. t itself is always included.
func (l *lineage) chain(t *domain.Transfer) []*domain.Transfer {
	leg, root := t.Leg(), l.root(t)
	var out []*domain.Transfer
	for _, c := range l.order {
		if c.ID != t.ID && (c.State == domain.TransferCancelled || c.Leg() != leg) {
			continue
		}
		if l.root(c) == root {
			out = append(out, c)
		}
	}
	return out
}

// choose returns the only candidate, or the most recent non-cancelled one.
// Equal creation times fall back to the oldest sequence.
func choose(candidates []*domain.Transfer) *domain.Transfer {
	if len(candidates) == 1 {
		return candidates[0]
	}
	var best *domain.Transfer
	for _, c := range candidates {
		if c.State == domain.TransferCancelled {
			continue
		}
		switch {
		case best == nil:
			best = c
		case c.CreatedAt.After(best.CreatedAt):
			best = c
		case c.CreatedAt.Equal(best.CreatedAt) && c.Sequence < best.Sequence:
			best = c
		}
	}
	return best
}
