package handler

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

// The reporting service is described by hand and carried as JSON, so callers
// need no generated stubs. Clients select the codec with
// grpc.CallContentSubtype(JSONCodecName).

const (
	JSONCodecName       = "json"
	FillRateServiceName = "fillrate.v1.FillRateService"
)

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return JSONCodecName }

type ComputeRequest struct {
	Token string `json:"token"`
}

type ComputeResponse struct {
	Records []domain.FillRateRecord `json:"records"`
}

type ReportRequest struct {
	Tokens     []string   `json:"tokens,omitempty"`
	ProductIDs []string   `json:"product_ids,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

type ReportResponse struct {
	Rows []domain.ReportRow `json:"rows"`
}

type FillRateServiceServer interface {
	Compute(context.Context, *ComputeRequest) (*ComputeResponse, error)
	Report(context.Context, *ReportRequest) (*ReportResponse, error)
}

func RegisterFillRateServiceServer(s grpc.ServiceRegistrar, srv FillRateServiceServer) {
	s.RegisterService(&FillRateServiceDesc, srv)
}

var FillRateServiceDesc = grpc.ServiceDesc{
	ServiceName: FillRateServiceName,
	HandlerType: (*FillRateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compute", Handler: computeHandler},
		{MethodName: "Report", Handler: reportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fillrate/v1/fillrate.json",
}

func computeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ComputeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FillRateServiceServer).Compute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + FillRateServiceName + "/Compute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FillRateServiceServer).Compute(ctx, req.(*ComputeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FillRateServiceServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + FillRateServiceName + "/Report"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FillRateServiceServer).Report(ctx, req.(*ReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type FillRateServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFillRateServiceClient(cc grpc.ClientConnInterface) *FillRateServiceClient {
	return &FillRateServiceClient{cc: cc}
}

func (c *FillRateServiceClient) Compute(ctx context.Context, in *ComputeRequest, opts ...grpc.CallOption) (*ComputeResponse, error) {
	out := new(ComputeResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+FillRateServiceName+"/Compute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FillRateServiceClient) Report(ctx context.Context, in *ReportRequest, opts ...grpc.CallOption) (*ReportResponse, error) {
	out := new(ReportResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+FillRateServiceName+"/Report", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
