package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/port"
)

type ReportBuilder struct {
	requisitions port.RequisitionRepository
	fillRate     *FillRateService
	cache        port.FillRateCache
	cacheTTL     time.Duration
	log          *zap.Logger
}

// NewReportBuilder returns a builder that reads through cache when it is
// non-nil.
func NewReportBuilder(requisitions port.RequisitionRepository, fillRate *FillRateService, cache port.FillRateCache, cacheTTL time.Duration, log *zap.Logger) *ReportBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReportBuilder{
		requisitions: requisitions,
		fillRate:     fillRate,
		cache:        cache,
		cacheTTL:     cacheTTL,
		log:          log,
	}
}

func (b *ReportBuilder) Report(ctx context.Context, f domain.ReportFilter) ([]domain.ReportRow, error) {
	list, err := b.requisitions.ListRequisitions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requisitions: %w", err)
	}

	rows := make([]domain.ReportRow, 0, len(list))
	for _, r := range list {
		records, err := b.cachedRecords(ctx, r.Token)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if !f.MatchesProduct(rec.ProductID) {
				continue
			}
			rows = append(rows, newReportRow(rec, r.CreatedAt))
		}
	}
	return rows, nil
}

// Compute returns the fill-rate records for token from the current transfer
// state. It never reads the cache: origin legs are finalised outside this
// service, so a cached entry can miss their completion.
func (b *ReportBuilder) Compute(ctx context.Context, token string) ([]domain.FillRateRecord, error) {
	return b.fillRate.Compute(ctx, token)
}

// cachedRecords returns the fill-rate records for token, from cache when
// possible. Reports tolerate up to the cache TTL of staleness.
func (b *ReportBuilder) cachedRecords(ctx context.Context, token string) ([]domain.FillRateRecord, error) {
	if b.cache != nil {
		cached, ok, err := b.cache.GetFillRate(ctx, token)
		if err != nil {
			b.log.Warn("fill-rate cache read failed", zap.String("token", token), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	records, err := b.fillRate.Compute(ctx, token)
	if err != nil {
		return nil, err
	}

	if b.cache != nil && len(records) > 0 {
		if err := b.cache.SetFillRate(ctx, token, records, b.cacheTTL); err != nil {
			b.log.Warn("fill-rate cache write failed", zap.String("token", token), zap.Error(err))
		}
	}
	return records, nil
}

func newReportRow(rec domain.FillRateRecord, createdAt time.Time) domain.ReportRow {
	variance := rec.Received.Sub(rec.Demanded)
	pct := 0.0
	if rec.Demanded.IsPositive() {
		pct = variance.Div(rec.Demanded).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return domain.ReportRow{
		FillRateRecord:       rec,
		RequisitionCreatedAt: createdAt,
		Variance:             variance,
		VariancePct:          pct,
	}
}
