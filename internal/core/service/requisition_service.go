package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

const DefaultSweepBatchSize = 1000

type LineInput struct {
	ProductID string
	Quantity  decimal.Decimal
	UoM       domain.UnitOfMeasure
	Kind      domain.LineKind
}

type CreateRequisitionInput struct {
	Token        string // generated when empty
	SalesChannel *string
	ValidUntil   *time.Time
	Lines        []LineInput
}

type LineQuantityChange struct {
	LineID   string
	Quantity decimal.Decimal
}

// RequisitionPatch is a write_requisition change set. Lines, when non-nil,
// replaces the whole line set; Quantities edits demand of existing lines.
type RequisitionPatch struct {
	SalesChannel *string
	ValidUntil   *time.Time
	Lines        []LineInput
	Quantities   []LineQuantityChange
}

type RequisitionService struct {
	store     port.Store
	cache     port.FillRateCache
	log       *zap.Logger
	batchSize int
	now       func() time.Time
}

func NewRequisitionService(store port.Store, cache port.FillRateCache, log *zap.Logger, batchSize int) *RequisitionService {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &RequisitionService{
		store:     store,
		cache:     cache,
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *RequisitionService) Create(ctx context.Context, actor domain.Actor, in CreateRequisitionInput) (*domain.Requisition, error) {
	now := s.now()
	r := domain.Requisition{
		ID:           uuid.NewString(),
		Token:        strings.TrimSpace(in.Token),
		State:        domain.RequisitionDraft,
		OwnerID:      actor.ID,
		SalesChannel: in.SalesChannel,
		ValidUntil:   in.ValidUntil,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if r.Token == "" {
		r.Token = newToken()
	}
	r.Lines = buildLines(r.ID, in.Lines)

	if err := s.checkLines(ctx, s.store, actor, r.Lines); err != nil {
		return nil, err
	}

	if err := s.store.CreateRequisition(ctx, r); err != nil {
		return nil, fmt.Errorf("create requisition: %w", err)
	}
	s.log.Info("requisition created",
		zap.String("token", r.Token),
		zap.String("actor", actor.ID),
		zap.Int("lines", len(r.Lines)),
	)
	return &r, nil
}

func (s *RequisitionService) Get(ctx context.Context, id string) (*domain.Requisition, error) {
	r, err := s.store.GetRequisition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get requisition: %w", err)
	}
	if r == nil {
		return nil, ErrRequisitionNotFound
	}
	return r, nil
}

// Write applies patch atomically. While the requisition is open both line
// predicates are re-checked on the resulting line set; any failure leaves the
// requisition untouched.
func (s *RequisitionService) Write(ctx context.Context, actor domain.Actor, id string, patch RequisitionPatch) (*domain.Requisition, error) {
	var out domain.Requisition
	err := s.withRequisition(ctx, id, func(tx port.Store, r domain.Requisition) error {
		var notes []string
		locked := !r.State.IsOpen()

		if patch.Lines != nil {
			if locked {
				return ErrRequisitionLocked
			}
			r.Lines = buildLines(r.ID, patch.Lines)
		}

		for _, ch := range patch.Quantities {
			idx := lineIndex(r.Lines, ch.LineID)
			if idx < 0 {
				return fmt.Errorf("line %s: %w", ch.LineID, ErrNotFound)
			}
			if ch.Quantity.IsNegative() {
				return ErrNegativeQuantity
			}
			line := &r.Lines[idx]
			if line.Quantity.Equal(ch.Quantity) {
				continue
			}
			if locked {
				if !actor.Has(domain.CapQuantityManager) {
					return &PermissionDeniedError{
						ActorID:    actor.ID,
						Capability: domain.CapQuantityManager,
						Operation:  "change demand on a " + string(r.State) + " requisition",
					}
				}
				notes = append(notes, fmt.Sprintf("demand of product %s changed from %s to %s by %s",
					line.ProductID, line.Quantity, ch.Quantity, actor.ID))
			}
			line.Quantity = ch.Quantity
		}

		if patch.SalesChannel != nil {
			r.SalesChannel = patch.SalesChannel
		}
		if patch.ValidUntil != nil {
			r.ValidUntil = patch.ValidUntil
		}

		// Lines of a confirmed requisition were checked when they were added.
		if !locked {
			if err := s.checkLines(ctx, tx, actor, r.Lines); err != nil {
				return err
			}
		}

		now := s.now()
		r.UpdatedAt = now
		if err := tx.UpdateRequisition(ctx, r); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		for _, body := range notes {
			if err := tx.AddNote(ctx, newNote(r.ID, actor.ID, body, now)); err != nil {
				return fmt.Errorf("add note: %w", err)
			}
			s.log.Info("privileged demand change",
				zap.String("token", r.Token),
				zap.String("actor", actor.ID),
				zap.String("note", body),
			)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, out.Token)
	return &out, nil
}

// Quote marks a draft as a web quote awaiting external payment. Quoting a
// web quote again is a no-op.
func (s *RequisitionService) Quote(ctx context.Context, actor domain.Actor, id string) (*domain.Requisition, error) {
	return s.transition(ctx, actor, id, domain.RequisitionWebQuote)
}

func (s *RequisitionService) Confirm(ctx context.Context, actor domain.Actor, id string) (*domain.Requisition, error) {
	return s.transition(ctx, actor, id, domain.RequisitionConfirmed)
}

// Cancel cancels an open requisition. Cancelling a cancelled one is a no-op.
func (s *RequisitionService) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Requisition, error) {
	return s.transition(ctx, actor, id, domain.RequisitionCancelled)
}

func (s *RequisitionService) transition(ctx context.Context, actor domain.Actor, id string, to domain.RequisitionState) (*domain.Requisition, error) {
	var out domain.Requisition
	err := s.withRequisition(ctx, id, func(tx port.Store, r domain.Requisition) error {
		if r.State == to {
			out = r
			return nil
		}
		if !r.State.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
		}

		now := s.now()
		if to == domain.RequisitionCancelled {
			ok, err := tx.CancelIfOpen(ctx, r.ID, now)
			if err != nil {
				return fmt.Errorf("cancel requisition: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
			}
			if err := tx.AddNote(ctx, newNote(r.ID, actor.ID, "cancelled by "+actor.ID, now)); err != nil {
				return fmt.Errorf("add note: %w", err)
			}
		} else {
			prev := r.State
			r.State = to
			r.UpdatedAt = now
			if err := tx.UpdateRequisition(ctx, r); err != nil {
				return fmt.Errorf("update requisition: %w", err)
			}
			s.log.Info("requisition state changed",
				zap.String("token", r.Token),
				zap.String("from", string(prev)),
				zap.String("to", string(to)),
				zap.String("actor", actor.ID),
			)
		}

		r.State = to
		r.UpdatedAt = now
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RequisitionService) Notes(ctx context.Context, id string) ([]domain.AuditNote, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// ExpireSweep cancels every open requisition whose validity has passed, in
// batches, and returns how many it cancelled. A failure on one requisition is
// logged and skipped; the next run picks it up again.
func (s *RequisitionService) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now()
	cancelled := 0
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			return cancelled, err
		}

		batch, err := s.store.ListExpiredCandidates(ctx, now, afterID, s.batchSize)
		if err != nil {
			return cancelled, fmt.Errorf("list expired requisitions: %w", err)
		}

		for _, r := range batch {
			ok, err := s.expire(ctx, r, now)
			if err != nil {
				s.log.Error("failed to expire requisition",
					zap.String("token", r.Token),
					zap.String("id", r.ID),
					zap.Error(err),
				)
				continue
			}
			if ok {
				cancelled++
			}
		}

		if len(batch) < s.batchSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	s.log.Info("expiration sweep finished", zap.Int("cancelled", cancelled))
	return cancelled, nil
}

func (s *RequisitionService) expire(ctx context.Context, candidate domain.Requisition, now time.Time) (bool, error) {
	var cancelled bool
	err := s.store.WithinToken(ctx, candidate.Token, func(tx port.Store) error {
		r, err := tx.GetRequisition(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if r == nil || !r.Expired(now) {
			return nil
		}

		ok, err := tx.CancelIfOpen(ctx, r.ID, now)
		if err != nil || !ok {
			return err
		}

		body := fmt.Sprintf("expired: validity ended %s", r.ValidUntil.UTC().Format(time.RFC3339))
		if err := tx.AddNote(ctx, newNote(r.ID, "system", body, now)); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

func (s *RequisitionService) withRequisition(ctx context.Context, id string, fn func(tx port.Store, r domain.Requisition) error) error {
	head, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.store.WithinToken(ctx, head.Token, func(tx port.Store) error {
		r, err := tx.GetRequisition(ctx, id)
		if err != nil {
			return fmt.Errorf("get requisition: %w", err)
		}
		if r == nil {
			return ErrRequisitionNotFound
		}
		return fn(tx, *r)
	})
}

// checkLines evaluates the line predicates before anything is persisted:
// purchase-order lines need the purchase-requisition-manager capability, and
// their products must be sale-enabled.
func (s *RequisitionService) checkLines(ctx context.Context, products port.ProductRepository, actor domain.Actor, lines []domain.RequisitionLine) error {
	if len(lines) == 0 {
		return ErrEmptyRequisition
	}

	for _, l := range lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: product is required", ErrInvalidLine)
		}
		if l.Quantity.IsNegative() {
			return ErrNegativeQuantity
		}
		switch l.Kind {
		case domain.LineInternalTransfer, domain.LinePurchaseOrder:
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidLine, l.Kind)
		}
	}

	for _, l := range lines {
		if l.Kind != domain.LinePurchaseOrder {
			continue
		}
		if !actor.Has(domain.CapPurchaseRequisitionManager) {
			return &PermissionDeniedError{
				ActorID:    actor.ID,
				Capability: domain.CapPurchaseRequisitionManager,
				Operation:  "add purchase order line",
			}
		}
	}

	for _, l := range lines {
		if l.Kind != domain.LinePurchaseOrder {
			continue
		}
		p, err := products.GetProduct(ctx, l.ProductID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%s: %w", l.ProductID, ErrProductNotFound)
		}
		if !p.SaleEnabled {
			return fmt.Errorf("%s: %w", l.ProductID, ErrProductNotSaleable)
		}
	}
	return nil
}

func (s *RequisitionService) invalidate(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFillRate(ctx, token); err != nil {
		s.log.Warn("fill-rate cache invalidation failed", zap.String("token", token), zap.Error(err))
	}
}

func buildLines(requisitionID string, in []LineInput) []domain.RequisitionLine {
	lines := make([]domain.RequisitionLine, 0, len(in))
	for _, l := range in {
		kind := l.Kind
		if kind == "" {
			kind = domain.LineInternalTransfer
		}
		lines = append(lines, domain.RequisitionLine{
			ID:            uuid.NewString(),
			RequisitionID: requisitionID,
			ProductID:     strings.TrimSpace(l.ProductID),
			Quantity:      l.Quantity,
			UoM:           l.UoM,
			Kind:          kind,
		})
	}
	return lines
}

func lineIndex(lines []domain.RequisitionLine, id string) int {
	for i := range lines {
		if lines[i].ID == id {
			return i
		}
	}
	return -1
}

func newToken() string {
	return "REQ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func newNote(requisitionID, author, body string, at time.Time) domain.AuditNote {
	return domain.AuditNote{
		ID:            uuid.NewString(),
		RequisitionID: requisitionID,
		Author:        author,
		Body:          body,
		CreatedAt:     at,
	}
}
