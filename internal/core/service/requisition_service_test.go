package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

func TestCreate_GeneratesToken(t *testing.T) {
	store := newMockStore()
	svc := NewRequisitionService(store, nil, nil, 0)

	r, err := svc.Create(context.Background(), clerk, CreateRequisitionInput{
		Lines: []LineInput{{ProductID: "P1", Quantity: dec("10"), UoM: units}},
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !strings.HasPrefix(r.Token, "REQ-") {
		t.Errorf("expected generated token, got %q", r.Token)
	}
	if r.State != domain.RequisitionDraft {
		t.Errorf("expected draft, got %s", r.State)
	}
	if r.Lines[0].Kind != domain.LineInternalTransfer {
		t.Errorf("expected default kind internal_transfer, got %s", r.Lines[0].Kind)
	}
}

func TestCreate_Rejections(t *testing.T) {
	store := newMockStore()
	store.putProduct(domain.Product{ID: "P1", SaleEnabled: true})
	store.putProduct(domain.Product{ID: "P2", SaleEnabled: false})
	svc := NewRequisitionService(store, nil, nil, 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor domain.Actor
		lines []LineInput
		want  error
	}{
		{"no lines", clerk, nil, ErrEmptyRequisition},
		{"no product", clerk, []LineInput{{Quantity: dec("1")}}, ErrInvalidLine},
		{"negative", clerk, []LineInput{{ProductID: "P1", Quantity: dec("-1")}}, ErrNegativeQuantity},
		{"bad kind", clerk, []LineInput{{ProductID: "P1", Quantity: dec("1"), Kind: "gift"}}, ErrInvalidLine},
		{"po without capability", clerk, []LineInput{{ProductID: "P1", Quantity: dec("1"), Kind: domain.LinePurchaseOrder}}, ErrPermissionDenied},
		{"po not saleable", buyer, []LineInput{{ProductID: "P2", Quantity: dec("1"), Kind: domain.LinePurchaseOrder}}, ErrProductNotSaleable},
		{"po unknown product", buyer, []LineInput{{ProductID: "P9", Quantity: dec("1"), Kind: domain.LinePurchaseOrder}}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.actor, CreateRequisitionInput{Lines: tt.lines})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got: %v", tt.want, err)
			}
		})
	}

	if len(store.requisitions) != 0 {
		t.Errorf("expected nothing persisted, got %d requisitions", len(store.requisitions))
	}
}

func TestCreate_PurchaseOrderLine(t *testing.T) {
	store := newMockStore()
	store.putProduct(domain.Product{ID: "P1", SaleEnabled: true})
	svc := NewRequisitionService(store, nil, nil, 0)

	_, err := svc.Create(context.Background(), buyer, CreateRequisitionInput{
		Token: "REQ-7",
		Lines: []LineInput{{ProductID: "P1", Quantity: dec("3"), Kind: domain.LinePurchaseOrder}},
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
}

func TestWrite_ReplacesLines(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionDraft, line("l-1", "P1", "10")))
	cache := newMockCache()
	svc := NewRequisitionService(store, cache, nil, 0)

	r, err := svc.Write(context.Background(), clerk, "r-1", RequisitionPatch{
		Lines: []LineInput{{ProductID: "P2", Quantity: dec("4")}, {ProductID: "P3", Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(r.Lines) != 2 || r.Lines[0].ProductID != "P2" {
		t.Errorf("expected replaced lines, got %+v", r.Lines)
	}
	if len(cache.invalidated) != 1 {
		t.Errorf("expected cache invalidation, got %v", cache.invalidated)
	}
}

func TestWrite_FailedPredicateLeavesRequisitionUntouched(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionDraft, line("l-1", "P1", "10")))
	svc := NewRequisitionService(store, nil, nil, 0)

	channel := "web"
	_, err := svc.Write(context.Background(), clerk, "r-1", RequisitionPatch{
		SalesChannel: &channel,
		Lines:        []LineInput{{ProductID: "P1", Quantity: dec("1"), Kind: domain.LinePurchaseOrder}},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got: %v", err)
	}

	r, _ := store.GetRequisition(context.Background(), "r-1")
	if r.SalesChannel != nil || len(r.Lines) != 1 || r.Lines[0].ID != "l-1" {
		t.Errorf("expected requisition untouched, got %+v", r)
	}
}

func TestWrite_ConfirmedLocksLines(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionConfirmed, line("l-1", "P1", "10")))
	svc := NewRequisitionService(store, nil, nil, 0)
	ctx := context.Background()

	_, err := svc.Write(ctx, clerk, "r-1", RequisitionPatch{Lines: []LineInput{{ProductID: "P1", Quantity: dec("1")}}})
	if !errors.Is(err, ErrRequisitionLocked) {
		t.Errorf("expected ErrRequisitionLocked, got: %v", err)
	}

	change := RequisitionPatch{Quantities: []LineQuantityChange{{LineID: "l-1", Quantity: dec("12")}}}
	if _, err := svc.Write(ctx, clerk, "r-1", change); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got: %v", err)
	}

	r, err := svc.Write(ctx, manager, "r-1", change)
	if err != nil {
		t.Fatalf("expected manager to pass, got: %v", err)
	}
	if !r.Lines[0].Quantity.Equal(dec("12")) {
		t.Errorf("expected demand 12, got %s", r.Lines[0].Quantity)
	}
	notes := store.notesFor("r-1")
	if len(notes) != 1 || !strings.Contains(notes[0].Body, "from 10 to 12") {
		t.Errorf("expected one audit note for the demand change, got %+v", notes)
	}
}

func TestWrite_ConfirmedPurchaseOrderDemandChange(t *testing.T) {
	store := newMockStore()
	po := line("l-1", "P1", "10")
	po.Kind = domain.LinePurchaseOrder
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionConfirmed, po))
	svc := NewRequisitionService(store, nil, nil, 0)

	// manager holds only the quantity capability and P1 is not in the catalogue.
	r, err := svc.Write(context.Background(), manager, "r-1", RequisitionPatch{
		Quantities: []LineQuantityChange{{LineID: "l-1", Quantity: dec("8")}},
	})
	if err != nil {
		t.Fatalf("expected demand change to be accepted, got: %v", err)
	}
	if !r.Lines[0].Quantity.Equal(dec("8")) {
		t.Errorf("expected demand 8, got %s", r.Lines[0].Quantity)
	}
	if notes := store.notesFor("r-1"); len(notes) != 1 {
		t.Errorf("expected one audit note, got %d", len(notes))
	}
}

func TestWrite_UnknownLine(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionDraft, line("l-1", "P1", "10")))
	svc := NewRequisitionService(store, nil, nil, 0)

	_, err := svc.Write(context.Background(), clerk, "r-1", RequisitionPatch{
		Quantities: []LineQuantityChange{{LineID: "l-9", Quantity: dec("1")}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestTransitions(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionDraft, line("l-1", "P1", "10")))
	svc := NewRequisitionService(store, nil, nil, 0)
	ctx := context.Background()

	r, err := svc.Quote(ctx, clerk, "r-1")
	if err != nil || r.State != domain.RequisitionWebQuote {
		t.Fatalf("quote: %v %v", r, err)
	}
	if _, err := svc.Quote(ctx, clerk, "r-1"); err != nil {
		t.Errorf("expected repeated quote to be a no-op, got: %v", err)
	}
	r, err = svc.Confirm(ctx, clerk, "r-1")
	if err != nil || r.State != domain.RequisitionConfirmed {
		t.Fatalf("confirm: %v %v", r, err)
	}
	if _, err := svc.Cancel(ctx, clerk, "r-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
	if _, err := svc.Quote(ctx, clerk, "r-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
	if _, err := svc.Confirm(ctx, clerk, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestCancel_AddsNoteOnce(t *testing.T) {
	store := newMockStore()
	store.putRequisition(requisition("r-1", "REQ-1", domain.RequisitionWebQuote, line("l-1", "P1", "10")))
	svc := NewRequisitionService(store, nil, nil, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		r, err := svc.Cancel(ctx, clerk, "r-1")
		if err != nil {
			t.Fatalf("cancel #%d: %v", i, err)
		}
		if r.State != domain.RequisitionCancelled {
			t.Errorf("expected cancelled, got %s", r.State)
		}
	}

	notes, err := svc.Notes(ctx, "r-1")
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("expected 1 note, got %d", len(notes))
	}
}

func TestExpireSweep(t *testing.T) {
	store := newMockStore()
	past := base.Add(-time.Hour)
	future := base.Add(time.Hour)

	expired := requisition("r-1", "REQ-1", domain.RequisitionDraft, line("l-1", "P1", "1"))
	expired.ValidUntil = &past
	quoted := requisition("r-2", "REQ-2", domain.RequisitionWebQuote, line("l-2", "P1", "1"))
	quoted.ValidUntil = &past
	valid := requisition("r-3", "REQ-3", domain.RequisitionDraft, line("l-3", "P1", "1"))
	valid.ValidUntil = &future
	confirmed := requisition("r-4", "REQ-4", domain.RequisitionConfirmed, line("l-4", "P1", "1"))
	confirmed.ValidUntil = &past
	noValidity := requisition("r-5", "REQ-5", domain.RequisitionDraft, line("l-5", "P1", "1"))

	for _, r := range []domain.Requisition{expired, quoted, valid, confirmed, noValidity} {
		store.putRequisition(r)
	}

	svc := NewRequisitionService(store, nil, nil, 1)
	svc.now = func() time.Time { return base }
	ctx := context.Background()

	n, err := svc.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}

	want := map[string]domain.RequisitionState{
		"r-1": domain.RequisitionCancelled,
		"r-2": domain.RequisitionCancelled,
		"r-3": domain.RequisitionDraft,
		"r-4": domain.RequisitionConfirmed,
		"r-5": domain.RequisitionDraft,
	}
	for id, state := range want {
		r, _ := store.GetRequisition(ctx, id)
		if r.State != state {
			t.Errorf("%s: expected %s, got %s", id, state, r.State)
		}
	}

	n, err = svc.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("expected second sweep to cancel nothing, got %d", n)
	}
	for _, id := range []string{"r-1", "r-2"} {
		notes := store.notesFor(id)
		if len(notes) != 1 {
			t.Fatalf("%s: expected exactly 1 note, got %d", id, len(notes))
		}
		if notes[0].Author != "system" || !strings.HasPrefix(notes[0].Body, "expired") {
			t.Errorf("%s: unexpected note %+v", id, notes[0])
		}
	}
}

func TestExpireSweep_ContinuesAfterFailure(t *testing.T) {
	store := newMockStore()
	past := base.Add(-time.Minute)
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		r := requisition(id, "REQ-"+id, domain.RequisitionDraft, line("l-"+id, "P1", "1"))
		r.ValidUntil = &past
		store.putRequisition(r)
	}
	store.failCancel["r-2"] = true

	svc := NewRequisitionService(store, nil, nil, 2)
	svc.now = func() time.Time { return base }

	n, err := svc.ExpireSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}
	r, _ := store.GetRequisition(context.Background(), "r-2")
	if r.State != domain.RequisitionDraft {
		t.Errorf("expected r-2 to stay draft, got %s", r.State)
	}
}

func TestExpireSweep_CancelledContext(t *testing.T) {
	store := newMockStore()
	svc := NewRequisitionService(store, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.ExpireSweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}
