package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/core/service"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

const (
	headerActorID      = "X-Actor-ID"
	headerCapabilities = "X-Actor-Capabilities"
	headerIdempotency  = "Idempotency-Key"
)

type HTTPHandler struct {
	requisitions *service.RequisitionService
	fulfillment  *service.FulfillmentService
	reports      *service.ReportBuilder
	legs         *service.LegMatcher
	idempotency  port.IdempotencyStore
	log          *zap.Logger
}

type LineHTTPRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UoM       string          `json:"uom"`
	Rounding  decimal.Decimal `json:"uom_rounding"`
	Kind      domain.LineKind `json:"kind"`
}

type CreateRequisitionHTTPRequest struct {
	Token        string            `json:"token"`
	SalesChannel *string           `json:"sales_channel"`
	ValidUntil   *time.Time        `json:"valid_until"`
	Lines        []LineHTTPRequest `json:"lines"`
}

type LineQuantityHTTPRequest struct {
	LineID   string          `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type WriteRequisitionHTTPRequest struct {
	SalesChannel *string                   `json:"sales_channel"`
	ValidUntil   *time.Time                `json:"valid_until"`
	Lines        []LineHTTPRequest         `json:"lines"`
	Quantities   []LineQuantityHTTPRequest `json:"quantities"`
}

type MoveQuantityHTTPRequest struct {
	Field domain.MoveField `json:"field"`
	Value decimal.Decimal  `json:"value"`
}

type LineHTTPResponse struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UoM       string          `json:"uom"`
	Kind      domain.LineKind `json:"kind"`
}

type RequisitionHTTPResponse struct {
	ID           string                  `json:"id"`
	Token        string                  `json:"token"`
	State        domain.RequisitionState `json:"state"`
	OwnerID      string                  `json:"owner_id"`
	SalesChannel *string                 `json:"sales_channel,omitempty"`
	ValidUntil   *time.Time              `json:"valid_until,omitempty"`
	Lines        []LineHTTPResponse      `json:"lines"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

type NoteHTTPResponse struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type MoveHTTPResponse struct {
	ID         string               `json:"id"`
	TransferID string               `json:"transfer_id"`
	ProductID  string               `json:"product_id"`
	Demanded   decimal.Decimal      `json:"demanded_quantity"`
	Realized   decimal.Decimal      `json:"realized_quantity"`
	State      domain.TransferState `json:"state"`
}

type DiscrepancyHTTPResponse struct {
	ProductID string          `json:"product_id"`
	Expected  decimal.Decimal `json:"expected"`
	Received  decimal.Decimal `json:"received"`
	Reason    string          `json:"reason"`
}

type CompletionHTTPResponse struct {
	TransferID    string                    `json:"transfer_id"`
	OriginID      string                    `json:"origin_id"`
	Discrepancies []DiscrepancyHTTPResponse `json:"discrepancies"`
}

type TransferHTTPResponse struct {
	ID          string               `json:"id"`
	State       domain.TransferState `json:"state"`
	BackorderID *string              `json:"backorder_id,omitempty"`
	Source      string               `json:"source_location"`
	Destination string               `json:"destination_location"`
	Moves       []MoveHTTPResponse   `json:"moves"`
}

type LegsHTTPResponse struct {
	Origin      *TransferHTTPResponse `json:"origin"`
	Destination *TransferHTTPResponse `json:"destination"`
}

type ErrorHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(requisitions *service.RequisitionService, fulfillment *service.FulfillmentService, reports *service.ReportBuilder, legs *service.LegMatcher, idempotency port.IdempotencyStore, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{
		requisitions: requisitions,
		fulfillment:  fulfillment,
		reports:      reports,
		legs:         legs,
		idempotency:  idempotency,
		log:          log,
	}
}

// Routes returns the API mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/requisitions", h.CreateRequisition)
	mux.HandleFunc("GET /api/requisitions/{id}", h.GetRequisition)
	mux.HandleFunc("PATCH /api/requisitions/{id}", h.WriteRequisition)
	mux.HandleFunc("POST /api/requisitions/{id}/quote", h.transition(h.requisitions.Quote))
	mux.HandleFunc("POST /api/requisitions/{id}/confirm", h.transition(h.requisitions.Confirm))
	mux.HandleFunc("POST /api/requisitions/{id}/cancel", h.transition(h.requisitions.Cancel))
	mux.HandleFunc("GET /api/requisitions/{id}/notes", h.ListNotes)
	mux.HandleFunc("PUT /api/moves/{id}/quantity", h.SetMoveQuantity)
	mux.HandleFunc("POST /api/transfers/{id}/complete", h.CompleteTransfer)
	mux.HandleFunc("GET /api/legs/{token}", h.FindLegs)
	mux.HandleFunc("GET /api/fillrate/{token}", h.FillRate)
	mux.HandleFunc("GET /api/report", h.Report)
	mux.HandleFunc("POST /api/sweep", h.Sweep)
	return mux
}

func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req CreateRequisitionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if key := r.Header.Get(headerIdempotency); key != "" && h.idempotency != nil {
		fresh, err := h.idempotency.SetIdempotency(r.Context(), "create:"+key)
		if err != nil {
			h.log.Error("idempotency check failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !fresh {
			h.fail(w, service.ErrDuplicateRequest)
			return
		}
	}

	created, err := h.requisitions.Create(r.Context(), actor, service.CreateRequisitionInput{
		Token:        req.Token,
		SalesChannel: req.SalesChannel,
		ValidUntil:   req.ValidUntil,
		Lines:        lineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requisitionResponse(created))
}

func (h *HTTPHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	req, err := h.requisitions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requisitionResponse(req))
}

func (h *HTTPHandler) WriteRequisition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req WriteRequisitionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := service.RequisitionPatch{
		SalesChannel: req.SalesChannel,
		ValidUntil:   req.ValidUntil,
	}
	if req.Lines != nil {
		patch.Lines = lineInputs(req.Lines)
	}
	for _, q := range req.Quantities {
		patch.Quantities = append(patch.Quantities, service.LineQuantityChange{LineID: q.LineID, Quantity: q.Quantity})
	}

	updated, err := h.requisitions.Write(r.Context(), actor, r.PathValue("id"), patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requisitionResponse(updated))
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id string) (*domain.Requisition, error)

func (h *HTTPHandler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		req, err := fn(r.Context(), actor, r.PathValue("id"))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requisitionResponse(req))
	}
}

func (h *HTTPHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.requisitions.Notes(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make([]NoteHTTPResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteHTTPResponse{ID: n.ID, Author: n.Author, Body: n.Body, CreatedAt: n.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) SetMoveQuantity(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req MoveQuantityHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.fulfillment.SetMoveQuantity(r.Context(), actor, r.PathValue("id"), req.Field, req.Value)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MoveHTTPResponse{
		ID:         m.ID,
		TransferID: m.TransferID,
		ProductID:  m.ProductID,
		Demanded:   m.Demanded,
		Realized:   m.Realized,
		State:      m.State,
	})
}

func (h *HTTPHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	c, err := h.fulfillment.CompleteDestination(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := CompletionHTTPResponse{
		TransferID:    c.Transfer.ID,
		OriginID:      c.Origin.ID,
		Discrepancies: make([]DiscrepancyHTTPResponse, 0, len(c.Discrepancies)),
	}
	for _, d := range c.Discrepancies {
		resp.Discrepancies = append(resp.Discrepancies, DiscrepancyHTTPResponse{
			ProductID: d.ProductID,
			Expected:  d.Demanded,
			Received:  d.Attempted,
			Reason:    d.Reason,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// FindLegs returns the origin and destination legs of a requisition. The
// optional backorder query parameter selects a later split.
func (h *HTTPHandler) FindLegs(w http.ResponseWriter, r *http.Request) {
	var backorder *string
	if b := r.URL.Query().Get("backorder"); b != "" {
		backorder = &b
	}

	legs, err := h.legs.FindLegs(r.Context(), r.PathValue("token"), backorder)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LegsHTTPResponse{
		Origin:      transferResponse(legs.Origin),
		Destination: transferResponse(legs.Destination),
	})
}

func (h *HTTPHandler) FillRate(w http.ResponseWriter, r *http.Request) {
	records, err := h.reports.Compute(r.Context(), r.PathValue("token"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ReportFilter{
		Tokens:     q["token"],
		ProductIDs: q["product"],
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+": expected RFC3339")
			return
		}
		*dst = &t
	}

	rows, err := h.reports.Report(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *HTTPHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.requisitions.ExpireSweep(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorFrom reads the caller identity. It writes a 400 and returns false when
// the actor header is missing.
func actorFrom(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing "+headerActorID+" header")
		return domain.Actor{}, false
	}

	var caps []domain.Capability
	for _, c := range strings.Split(r.Header.Get(headerCapabilities), ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, domain.Capability(c))
		}
	}
	return domain.NewActor(id, caps...), true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		message = "internal error"
	}
	writeError(w, status, message)
}

func httpStatus(err error) int {
	var qe *service.QuantityInvariantError
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.As(err, &qe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMissingPredecessorLeg),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrRequisitionLocked),
		errors.Is(err, service.ErrTransferClosed),
		errors.Is(err, service.ErrLockNotObtained),
		errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmptyRequisition),
		errors.Is(err, service.ErrInvalidLine),
		errors.Is(err, service.ErrNegativeQuantity),
		errors.Is(err, service.ErrInvalidMoveField),
		errors.Is(err, service.ErrNotDestinationLeg),
		errors.Is(err, service.ErrProductNotSaleable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func lineInputs(lines []LineHTTPRequest) []service.LineInput {
	out := make([]service.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, service.LineInput{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UoM:       domain.UnitOfMeasure{Name: l.UoM, Rounding: l.Rounding},
			Kind:      l.Kind,
		})
	}
	return out
}

func requisitionResponse(r *domain.Requisition) RequisitionHTTPResponse {
	resp := RequisitionHTTPResponse{
		ID:           r.ID,
		Token:        r.Token,
		State:        r.State,
		OwnerID:      r.OwnerID,
		SalesChannel: r.SalesChannel,
		ValidUntil:   r.ValidUntil,
		Lines:        make([]LineHTTPResponse, 0, len(r.Lines)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, l := range r.Lines {
		resp.Lines = append(resp.Lines, LineHTTPResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UoM:       l.UoM.Name,
			Kind:      l.Kind,
		})
	}
	return resp
}

func transferResponse(t *domain.Transfer) *TransferHTTPResponse {
	if t == nil {
		return nil
	}
	resp := &TransferHTTPResponse{
		ID:          t.ID,
		State:       t.State,
		BackorderID: t.BackorderID,
		Source:      t.Source.ID,
		Destination: t.Destination.ID,
		Moves:       make([]MoveHTTPResponse, 0, len(t.Moves)),
	}
	for _, m := range t.Moves {
		resp.Moves = append(resp.Moves, MoveHTTPResponse{
			ID:         m.ID,
			TransferID: t.ID,
			ProductID:  m.ProductID,
			Demanded:   m.Demanded,
			Realized:   m.Realized,
			State:      m.State,
		})
	}
	return resp
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorHTTPResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
