package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/service"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	paymentService *service.PaymentService
}

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

func (s *Server) CreatePayment(ctx context.Context, req *types.CreatePaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	l := loggerWithContext(ctx)
	if strings.TrimSpace(req.RequestId) == "" {
		req.RequestId = RequestIDFromContext(ctx)
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.ResourceType = strings.ToLower(strings.TrimSpace(req.ResourceType))
	req.Flow = strings.ToLower(strings.TrimSpace(req.Flow))
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create payment validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CreatePayment(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Create payment failed", err)
	}

	return envelope(item), nil
}

func (s *Server) GetPayment(ctx context.Context, req *types.GetPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetPayment(ctx, req.GetId())
	if err != nil {
		return nil, s.statusError(ctx, "Get payment failed", err)
	}

	return envelope(item), nil
}

func (s *Server) ListPayments(ctx context.Context, req *types.ListPaymentsRequest) (*types.ListPaymentsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.paymentService.ListPayments(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "List payments failed", err)
	}

	return &types.ListPaymentsResponse{Payments: mapper.PaymentsToResponse(items)}, nil
}

func (s *Server) AuthorizePayment(ctx context.Context, req *types.AuthorizePaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	req.IdempotencyKey = idempotencyKey(ctx, req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.Authorize(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Authorize payment failed", err)
	}
	return envelope(item), nil
}

func (s *Server) ConfirmPayment(ctx context.Context, req *types.ConfirmPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	req.IdempotencyKey = idempotencyKey(ctx, req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.Confirm(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Confirm payment failed", err)
	}
	return envelope(item), nil
}

func (s *Server) FailPayment(ctx context.Context, req *types.FailPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	req.IdempotencyKey = idempotencyKey(ctx, req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.Fail(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Fail payment failed", err)
	}
	return envelope(item), nil
}

func (s *Server) RefundPayment(ctx context.Context, req *types.RefundPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	req.IdempotencyKey = idempotencyKey(ctx, req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.Refund(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Refund payment failed", err)
	}
	return envelope(item), nil
}

func (s *Server) CancelPayment(ctx context.Context, req *types.CancelPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	req.IdempotencyKey = idempotencyKey(ctx, req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.Cancel(ctx, req)
	if err != nil {
		return nil, s.statusError(ctx, "Cancel payment failed", err)
	}
	return envelope(item), nil
}

func (s *Server) statusError(ctx context.Context, logMessage string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		return status.Error(codes.Unauthenticated, "invalid signature")
	case errors.Is(err, service.ErrPaymentNotFound):
		return status.Error(codes.NotFound, "payment not found")
	case errors.Is(err, service.ErrPaymentAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrIdempotencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrProviderRejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		loggerWithContext(ctx).WithError(err).Warn(logMessage)
		return status.Error(codes.Unavailable, "payment provider unavailable")
	default:
		loggerWithContext(ctx).WithError(err).Error(logMessage)
		return status.Error(codes.Internal, "internal server error")
	}
}

func idempotencyKey(ctx context.Context, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return RequestIDFromContext(ctx)
}

func envelope(item *entity.Payment) *types.PaymentEnvelopeResponse {
	return &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)}
}
