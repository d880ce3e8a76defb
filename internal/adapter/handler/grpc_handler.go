package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
	"github.com/rl1809/requisition-fillrate/internal/core/service"
)

type GRPCHandler struct {
	reports *service.ReportBuilder
	log     *zap.Logger
}

var _ FillRateServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(reports *service.ReportBuilder, log *zap.Logger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{reports: reports, log: log}
}

func (h *GRPCHandler) Compute(ctx context.Context, req *ComputeRequest) (*ComputeResponse, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	records, err := h.reports.Compute(ctx, token)
	if err != nil {
		return nil, h.statusErr(err)
	}
	return &ComputeResponse{Records: records}, nil
}

func (h *GRPCHandler) Report(ctx context.Context, req *ReportRequest) (*ReportResponse, error) {
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, status.Error(codes.InvalidArgument, "to is before from")
	}

	rows, err := h.reports.Report(ctx, domain.ReportFilter{
		Tokens:     req.Tokens,
		ProductIDs: req.ProductIDs,
		From:       req.From,
		To:         req.To,
	})
	if err != nil {
		return nil, h.statusErr(err)
	}
	return &ReportResponse{Rows: rows}, nil
}

func (h *GRPCHandler) statusErr(err error) error {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrQuantityInvariant),
		errors.Is(err, service.ErrMissingPredecessorLeg),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrRequisitionLocked):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		h.log.Error("report request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLoggingInterceptor logs every call with its duration and status code.
func UnaryLoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.Internal {
			log.Error("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("grpc call", fields...)
		}
		return resp, err
	}
}
