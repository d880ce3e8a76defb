package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

var (
	ErrOptimisticLock = errors.New("optimistic lock conflict")
	ErrRowNotFound    = errors.New("row not found")
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

var _ port.Store = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, q: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithinToken opens a transaction and locks the requisition row for token
// before running fn. Calls nested inside fn reuse the same transaction.
func (m *MySQLAdapter) WithinToken(ctx context.Context, token string, fn func(tx port.Store) error) error {
	if m.tx != nil {
		return fn(m)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if token != "" {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM requisitions WHERE token = ? FOR UPDATE`, token).Scan(&id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock requisition: %w", err)
		}
	}

	if err := fn(&MySQLAdapter{db: m.db, q: tx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// inTx runs fn in the current transaction, or in a new one when there is none.
func (m *MySQLAdapter) inTx(ctx context.Context, fn func(q querier) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) CreateRequisition(ctx context.Context, r domain.Requisition) error {
	return m.inTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO requisitions (id, token, state, owner_id, sales_channel, valid_until, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Token, r.State, r.OwnerID, r.SalesChannel, r.ValidUntil, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert requisition: %w", err)
		}
		return insertLines(ctx, q, r.ID, r.Lines)
	})
}

func (m *MySQLAdapter) UpdateRequisition(ctx context.Context, r domain.Requisition) error {
	return m.inTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE requisitions
			SET state = ?, sales_channel = ?, valid_until = ?, updated_at = ?
			WHERE id = ?`,
			r.State, r.SalesChannel, r.ValidUntil, r.UpdatedAt, r.ID,
		)
		if err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			var exists int
			err := q.QueryRowContext(ctx, `SELECT 1 FROM requisitions WHERE id = ?`, r.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRowNotFound
			}
			if err != nil {
				return fmt.Errorf("query requisition: %w", err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM requisition_lines WHERE requisition_id = ?`, r.ID); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		return insertLines(ctx, q, r.ID, r.Lines)
	})
}

func insertLines(ctx context.Context, q querier, requisitionID string, lines []domain.RequisitionLine) error {
	for i, l := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO requisition_lines (id, requisition_id, position, product_id, quantity, uom_name, uom_rounding, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, requisitionID, i, l.ProductID, l.Quantity, l.UoM.Name, l.UoM.Rounding, l.Kind,
		)
		if err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
	}
	return nil
}

const requisitionColumns = `id, token, state, owner_id, sales_channel, valid_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequisition(s rowScanner) (domain.Requisition, error) {
	var (
		r       domain.Requisition
		channel sql.NullString
		valid   sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Token, &r.State, &r.OwnerID, &channel, &valid, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	if channel.Valid {
		r.SalesChannel = &channel.String
	}
	if valid.Valid {
		t := valid.Time
		r.ValidUntil = &t
	}
	return r, nil
}

func (m *MySQLAdapter) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	return m.getRequisition(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id = ?`, id)
}

func (m *MySQLAdapter) GetRequisitionByToken(ctx context.Context, token string) (*domain.Requisition, error) {
	return m.getRequisition(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE token = ?`, token)
}

func (m *MySQLAdapter) getRequisition(ctx context.Context, query string, arg string) (*domain.Requisition, error) {
	r, err := scanRequisition(m.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query requisition: %w", err)
	}

	lines, err := m.loadLines(ctx, []string{r.ID})
	if err != nil {
		return nil, err
	}
	r.Lines = lines[r.ID]
	return &r, nil
}

func (m *MySQLAdapter) loadLines(ctx context.Context, ids []string) (map[string][]domain.RequisitionLine, error) {
	out := make(map[string][]domain.RequisitionLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := m.q.QueryContext(ctx, `
		SELECT id, requisition_id, product_id, quantity, uom_name, uom_rounding, kind
		FROM requisition_lines
		WHERE requisition_id IN (`+placeholders(len(ids))+`)
		ORDER BY requisition_id, position`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.RequisitionLine
		if err := rows.Scan(&l.ID, &l.RequisitionID, &l.ProductID, &l.Quantity, &l.UoM.Name, &l.UoM.Rounding, &l.Kind); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		out[l.RequisitionID] = append(out[l.RequisitionID], l)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListRequisitions(ctx context.Context, f domain.ReportFilter) ([]domain.Requisition, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Tokens) > 0 {
		where = append(where, `token IN (`+placeholders(len(f.Tokens))+`)`)
		args = append(args, stringArgs(f.Tokens)...)
	}
	if f.From != nil {
		where = append(where, `created_at >= ?`)
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, `created_at <= ?`)
		args = append(args, *f.To)
	}

	query := `SELECT ` + requisitionColumns + ` FROM requisitions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at, id`

	list, err := m.queryRequisitions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	lines, err := m.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Lines = lines[list[i].ID]
	}
	return list, nil
}

// ListExpiredCandidates returns requisition headers only; lines are not
// loaded.
func (m *MySQLAdapter) ListExpiredCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Requisition, error) {
	return m.queryRequisitions(ctx, `
		SELECT `+requisitionColumns+`
		FROM requisitions
		WHERE state IN (?, ?) AND valid_until IS NOT NULL AND valid_until < ? AND id > ?
		ORDER BY id
		LIMIT ?`,
		domain.RequisitionDraft, domain.RequisitionWebQuote, now, afterID, limit,
	)
}

func (m *MySQLAdapter) queryRequisitions(ctx context.Context, query string, args ...any) ([]domain.Requisition, error) {
	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requisitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Requisition
	for rows.Next() {
		r, err := scanRequisition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requisition: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) CancelIfOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE requisitions
		SET state = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?)`,
		domain.RequisitionCancelled, at, id, domain.RequisitionDraft, domain.RequisitionWebQuote,
	)
	if err != nil {
		return false, fmt.Errorf("cancel requisition: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) AddNote(ctx context.Context, n domain.AuditNote) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO requisition_notes (id, requisition_id, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.RequisitionID, n.Author, n.Body, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListNotes(ctx context.Context, requisitionID string) ([]domain.AuditNote, error) {
	rows, err := m.q.QueryContext(ctx, `
		SELECT id, requisition_id, author, body, created_at
		FROM requisition_notes
		WHERE requisition_id = ?
		ORDER BY created_at, id`, requisitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditNote
	for rows.Next() {
		var n domain.AuditNote
		if err := rows.Scan(&n.ID, &n.RequisitionID, &n.Author, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.q.QueryRowContext(ctx, `
		SELECT id, name, sale_enabled
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.SaleEnabled)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

const transferSelect = `
	SELECT t.id, t.requisition_token, t.state, t.backorder_id, t.sequence, t.created_at, t.done_at,
		src.id, src.name, src.usage_type, dst.id, dst.name, dst.usage_type
	FROM transfers t
	LEFT JOIN locations src ON src.id = t.source_location_id
	LEFT JOIN locations dst ON dst.id = t.destination_location_id`

func scanTransfer(s rowScanner) (domain.Transfer, error) {
	var (
		t                   domain.Transfer
		backorder           sql.NullString
		doneAt              sql.NullTime
		srcID, srcName, src sql.NullString
		dstID, dstName, dst sql.NullString
	)
	err := s.Scan(&t.ID, &t.RequisitionToken, &t.State, &backorder, &t.Sequence, &t.CreatedAt, &doneAt,
		&srcID, &srcName, &src, &dstID, &dstName, &dst)
	if err != nil {
		return t, err
	}
	if backorder.Valid {
		t.BackorderID = &backorder.String
	}
	if doneAt.Valid {
		at := doneAt.Time
		t.DoneAt = &at
	}
	// A dangling location reference scans as an empty usage, which classifies
	// as external.
	t.Source = domain.Location{ID: srcID.String, Name: srcName.String, Usage: domain.LocationUsage(src.String)}
	t.Destination = domain.Location{ID: dstID.String, Name: dstName.String, Usage: domain.LocationUsage(dst.String)}
	return t, nil
}

func (m *MySQLAdapter) ListTransfersByToken(ctx context.Context, token string) ([]domain.Transfer, error) {
	rows, err := m.q.QueryContext(ctx, transferSelect+`
		WHERE t.requisition_token = ?
		ORDER BY t.sequence, t.id`, token,
	)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}

	var out []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	moves, err := m.loadMoves(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Moves = moves[out[i].ID]
	}
	return out, nil
}

func (m *MySQLAdapter) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(m.q.QueryRowContext(ctx, transferSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer: %w", err)
	}

	moves, err := m.loadMoves(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Moves = moves[t.ID]
	return &t, nil
}

func (m *MySQLAdapter) GetTransferByMove(ctx context.Context, moveID string) (*domain.Transfer, error) {
	var transferID string
	err := m.q.QueryRowContext(ctx, `SELECT transfer_id FROM moves WHERE id = ?`, moveID).Scan(&transferID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query move: %w", err)
	}
	return m.GetTransfer(ctx, transferID)
}

func (m *MySQLAdapter) loadMoves(ctx context.Context, transferIDs []string) (map[string][]domain.Move, error) {
	out := make(map[string][]domain.Move, len(transferIDs))
	if len(transferIDs) == 0 {
		return out, nil
	}

	rows, err := m.q.QueryContext(ctx, `
		SELECT id, transfer_id, product_id, demanded, realized, uom_name, uom_rounding, state
		FROM moves
		WHERE transfer_id IN (`+placeholders(len(transferIDs))+`)
		ORDER BY transfer_id, position`,
		stringArgs(transferIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mv domain.Move
		if err := rows.Scan(&mv.ID, &mv.TransferID, &mv.ProductID, &mv.Demanded, &mv.Realized, &mv.UoM.Name, &mv.UoM.Rounding, &mv.State); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		out[mv.TransferID] = append(out[mv.TransferID], mv)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) UpdateMoveQuantity(ctx context.Context, moveID string, field domain.MoveField, value decimal.Decimal) error {
	var column string
	switch field {
	case domain.FieldRealizedQuantity:
		column = "realized"
	case domain.FieldDemandedQuantity:
		column = "demanded"
	default:
		return fmt.Errorf("unknown move field %q", field)
	}

	_, err := m.q.ExecContext(ctx, `UPDATE moves SET `+column+` = ? WHERE id = ?`, value, moveID)
	if err != nil {
		return fmt.Errorf("update move: %w", err)
	}
	return nil
}

// MarkTransferDone fails with ErrOptimisticLock when the transfer was closed
// by someone else in the meantime.
func (m *MySQLAdapter) MarkTransferDone(ctx context.Context, transferID string, at time.Time) error {
	return m.inTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE transfers
			SET state = ?, done_at = ?
			WHERE id = ? AND state NOT IN (?, ?)`,
			domain.TransferDone, at, transferID, domain.TransferDone, domain.TransferCancelled,
		)
		if err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrOptimisticLock
		}

		_, err = q.ExecContext(ctx, `
			UPDATE moves
			SET state = ?
			WHERE transfer_id = ? AND state <> ?`,
			domain.TransferDone, transferID, domain.TransferCancelled,
		)
		if err != nil {
			return fmt.Errorf("update moves: %w", err)
		}
		return nil
	})
}

// SaveProduct and the other Save methods load records owned by the
// surrounding application: the product catalogue and the inventory
// subsystem's locations and transfers.
func (m *MySQLAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO products (id, name, sale_enabled) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), sale_enabled = VALUES(sale_enabled)`,
		p.ID, p.Name, p.SaleEnabled,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SaveLocation(ctx context.Context, l domain.Location) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO locations (id, name, usage_type) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), usage_type = VALUES(usage_type)`,
		l.ID, l.Name, l.Usage,
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

// SaveTransfer upserts the transfer and replaces its moves.
func (m *MySQLAdapter) SaveTransfer(ctx context.Context, t domain.Transfer) error {
	return m.inTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transfers (id, requisition_token, source_location_id, destination_location_id, state, backorder_id, sequence, created_at, done_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				requisition_token = VALUES(requisition_token),
				source_location_id = VALUES(source_location_id),
				destination_location_id = VALUES(destination_location_id),
				state = VALUES(state),
				backorder_id = VALUES(backorder_id),
				sequence = VALUES(sequence),
				done_at = VALUES(done_at)`,
			t.ID, t.RequisitionToken, t.Source.ID, t.Destination.ID, t.State, t.BackorderID, t.Sequence, t.CreatedAt, t.DoneAt,
		)
		if err != nil {
			return fmt.Errorf("upsert transfer: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM moves WHERE transfer_id = ?`, t.ID); err != nil {
			return fmt.Errorf("delete moves: %w", err)
		}
		for i, mv := range t.Moves {
			_, err := q.ExecContext(ctx, `
				INSERT INTO moves (id, transfer_id, position, product_id, demanded, realized, uom_name, uom_rounding, state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				mv.ID, t.ID, i, mv.ProductID, mv.Demanded, mv.Realized, mv.UoM.Name, mv.UoM.Rounding, mv.State,
			)
			if err != nil {
				return fmt.Errorf("insert move: %w", err)
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
