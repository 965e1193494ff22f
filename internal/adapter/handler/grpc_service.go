package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

// JSONCodecName is the gRPC content subtype the sale service speaks.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CreateSaleRequest struct {
	UserID        string            `json:"userId"`
	PaymentMethod string            `json:"paymentMethod"`
	Items         []domain.SaleLine `json:"items"`
}

type CreateSaleResponse struct {
	Sale *domain.Sale `json:"sale"`
}

type GetSaleRequest struct {
	ID string `json:"id"`
}

type GetSaleResponse struct {
	Sale *domain.Sale `json:"sale"`
}

type ListSalesRequest struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"offset"`
}

type ListSalesResponse struct {
	Sales []domain.Sale `json:"sales"`
	Count int32         `json:"count"`
}

type SaleServiceServer interface {
	CreateSale(context.Context, *CreateSaleRequest) (*CreateSaleResponse, error)
	GetSale(context.Context, *GetSaleRequest) (*GetSaleResponse, error)
	ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error)
}

const (
	saleServiceName         = "pos.v1.SaleService"
	saleServiceCreateMethod = "/" + saleServiceName + "/CreateSale"
	saleServiceGetMethod    = "/" + saleServiceName + "/GetSale"
	saleServiceListMethod   = "/" + saleServiceName + "/ListSales"
)

var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: saleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: createSaleHandler},
		{MethodName: "GetSale", Handler: getSaleHandler},
		{MethodName: "ListSales", Handler: listSalesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pos/v1/sale_service",
}

func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&SaleServiceDesc, srv)
}

func createSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).CreateSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: saleServiceCreateMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).CreateSale(ctx, req.(*CreateSaleRequest))
	})
}

func getSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).GetSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: saleServiceGetMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).GetSale(ctx, req.(*GetSaleRequest))
	})
}

func listSalesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSalesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).ListSales(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: saleServiceListMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).ListSales(ctx, req.(*ListSalesRequest))
	})
}

// SaleServiceClient calls the sale service with the JSON codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) CreateSale(ctx context.Context, in *CreateSaleRequest, opts ...grpc.CallOption) (*CreateSaleResponse, error) {
	out := new(CreateSaleResponse)
	if err := c.cc.Invoke(ctx, saleServiceCreateMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) GetSale(ctx context.Context, in *GetSaleRequest, opts ...grpc.CallOption) (*GetSaleResponse, error) {
	out := new(GetSaleResponse)
	if err := c.cc.Invoke(ctx, saleServiceGetMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) ListSales(ctx context.Context, in *ListSalesRequest, opts ...grpc.CallOption) (*ListSalesResponse, error) {
	out := new(ListSalesResponse)
	if err := c.cc.Invoke(ctx, saleServiceListMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
}
