package handler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/core/service"
)

type GRPCHandler struct {
	sales  *service.SaleService
	logger *zap.Logger
}

func NewGRPCHandler(sales *service.SaleService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{sales: sales, logger: logger}
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	sale, err := h.sales.CreateSale(ctx, domain.SaleRequest{
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
	})
	if err != nil {
		return nil, h.toStatus("CreateSale", err)
	}
	return &CreateSaleResponse{Sale: sale}, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *GetSaleRequest) (*GetSaleResponse, error) {
	sale, err := h.sales.GetSale(ctx, req.ID)
	if err != nil {
		return nil, h.toStatus("GetSale", err)
	}
	return &GetSaleResponse{Sale: sale}, nil
}

func (h *GRPCHandler) ListSales(ctx context.Context, req *ListSalesRequest) (*ListSalesResponse, error) {
	sales, err := h.sales.ListSales(ctx, domain.SaleFilter{
		UserID: req.UserID,
		Status: domain.SaleStatus(strings.ToUpper(req.Status)),
		Limit:  int(req.Limit),
		Offset: int(req.Offset),
	})
	if err != nil {
		return nil, h.toStatus("ListSales", err)
	}
	return &ListSalesResponse{Sales: sales, Count: int32(len(sales))}, nil
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrServiceBusy):
		return status.Error(codes.Unavailable, domain.ErrServiceBusy.Error())
	}
	h.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
