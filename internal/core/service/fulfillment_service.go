package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

// FulfillmentService intercepts the inventory subsystem's quantity writes and
// destination-leg completions.
type FulfillmentService struct {
	store  port.Store
	locker port.TokenLocker
	cache  port.FillRateCache
	guard  QuantityGuard
	log    *zap.Logger
	now    func() time.Time
}

// NewFulfillmentService wires the service. locker and cache may be nil.
func NewFulfillmentService(store port.Store, locker port.TokenLocker, cache port.FillRateCache, log *zap.Logger) *FulfillmentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FulfillmentService{
		store:  store,
		locker: locker,
		cache:  cache,
		log:    log,
		now:    time.Now,
	}
}

// SetMoveQuantity validates and persists one quantity write. A rejected write
// changes nothing.
func (s *FulfillmentService) SetMoveQuantity(ctx context.Context, actor domain.Actor, moveID string, field domain.MoveField, value decimal.Decimal) (*domain.Move, error) {
	if !field.Valid() {
		return nil, ErrInvalidMoveField
	}
	if value.IsNegative() {
		return nil, ErrNegativeQuantity
	}

	head, err := s.store.GetTransferByMove(ctx, moveID)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if head == nil {
		return nil, ErrMoveNotFound
	}

	var updated domain.Move
	err = s.store.WithinToken(ctx, head.RequisitionToken, func(tx port.Store) error {
		t, err := tx.GetTransferByMove(ctx, moveID)
		if err != nil {
			return fmt.Errorf("get transfer: %w", err)
		}
		if t == nil {
			return ErrMoveNotFound
		}
		m, ok := t.Move(moveID)
		if !ok {
			return ErrMoveNotFound
		}

		edit := domain.NewMoveEdit(m, field, value)
		if err := s.guard.CheckEdit(actor, *t, m, edit); err != nil {
			s.log.Warn("quantity write rejected",
				zap.String("token", t.RequisitionToken),
				zap.String("move", m.ID),
				zap.String("product", m.ProductID),
				zap.String("field", string(field)),
				zap.String("demanded", m.Demanded.String()),
				zap.String("attempted", value.String()),
				zap.Error(err),
			)
			return err
		}
		if s.guard.CheckEdit(domain.Actor{ID: actor.ID}, *t, m, edit) != nil {
			s.log.Info("quantity lock overridden",
				zap.String("token", t.RequisitionToken),
				zap.String("move", m.ID),
				zap.String("actor", actor.ID),
				zap.String("field", string(field)),
				zap.String("value", value.String()),
			)
		}

		if err := tx.UpdateMoveQuantity(ctx, m.ID, field, value); err != nil {
			return fmt.Errorf("update move: %w", err)
		}
		updated = edit.Apply(m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, head.RequisitionToken)
	return &updated, nil
}

// CompleteDestination runs the pre-completion check and marks the destination
// transfer done in the same transaction.
func (s *FulfillmentService) CompleteDestination(ctx context.Context, actor domain.Actor, transferID string) (*Completion, error) {
	head, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if head == nil {
		return nil, ErrTransferNotFound
	}
	token := head.RequisitionToken

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, token)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release requisition lock", zap.String("token", token), zap.Error(err))
			}
		}()
	}

	var out *Completion
	err = s.store.WithinToken(ctx, token, func(tx port.Store) error {
		transfers, err := tx.ListTransfersByToken(ctx, token)
		if err != nil {
			return fmt.Errorf("list transfers: %w", err)
		}

		c, err := s.guard.CheckCompletion(actor, transfers, transferID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.MarkTransferDone(ctx, transferID, now); err != nil {
			return fmt.Errorf("mark transfer done: %w", err)
		}

		if len(c.Discrepancies) > 0 {
			if err := s.noteDiscrepancies(ctx, tx, actor, token, c, now); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		var qe *QuantityInvariantError
		if errors.As(err, &qe) || errors.Is(err, ErrMissingPredecessorLeg) {
			s.log.Warn("destination completion rejected",
				zap.String("token", token),
				zap.String("transfer", transferID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.log.Info("destination leg completed",
		zap.String("token", token),
		zap.String("transfer", transferID),
		zap.String("origin", out.Origin.ID),
		zap.String("actor", actor.ID),
	)
	s.invalidate(ctx, token)
	return out, nil
}

func (s *FulfillmentService) noteDiscrepancies(ctx context.Context, tx port.Store, actor domain.Actor, token string, c *Completion, now time.Time) error {
	parts := make([]string, 0, len(c.Discrepancies))
	for _, d := range c.Discrepancies {
		parts = append(parts, fmt.Sprintf("%s (expected %s, got %s: %s)", d.ProductID, d.Demanded, d.Attempted, d.Reason))
		s.log.Warn("receipt discrepancy accepted",
			zap.String("token", token),
			zap.String("transfer", c.Transfer.ID),
			zap.String("product", d.ProductID),
			zap.String("expected", d.Demanded.String()),
			zap.String("received", d.Attempted.String()),
			zap.String("actor", actor.ID),
		)
	}

	r, err := tx.GetRequisitionByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("get requisition: %w", err)
	}
	if r == nil {
		return nil
	}
	body := fmt.Sprintf("transfer %s completed by %s with discrepancies: %s", c.Transfer.ID, actor.ID, strings.Join(parts, "; "))
	if err := tx.AddNote(ctx, newNote(r.ID, actor.ID, body, now)); err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

func (s *FulfillmentService) invalidate(ctx context.Context, token string) {
	if s.cache == nil || token == "" {
		return
	}
	if err := s.cache.InvalidateFillRate(ctx, token); err != nil {
		s.log.Warn("fill-rate cache invalidation failed", zap.String("token", token), zap.Error(err))
	}
}
