package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/factory"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/service"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
)

const retryAfterSeconds = "30"

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) CreatePayment(ctx echo.Context) error {
	req, err := types.NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CreatePayment(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Create payment failed", err)
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeServiceError(ctx, "Get payment failed", err)
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) ListPayments(ctx echo.Context) error {
	req, err := types.NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPayments(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "List payments failed", err)
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentsResponse{Payments: mapper.PaymentsToResponse(items)})
}

func (c *PaymentController) ListRefunds(ctx echo.Context) error {
	req, err := types.NewListRefundsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListRefunds(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeServiceError(ctx, "List refunds failed", err)
	}

	return ctx.JSON(http.StatusOK, &types.ListRefundsResponse{Refunds: mapper.RefundsToResponse(items)})
}

func (c *PaymentController) AuthorizePayment(ctx echo.Context) error {
	req, err := types.NewAuthorizePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Authorize(ctx.Request().Context(), req)
	return c.writeLifecycleResult(ctx, "Authorize payment failed", item, err)
}

func (c *PaymentController) ConfirmPayment(ctx echo.Context) error {
	req, err := types.NewConfirmPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Confirm(ctx.Request().Context(), req)
	return c.writeLifecycleResult(ctx, "Confirm payment failed", item, err)
}

func (c *PaymentController) FailPayment(ctx echo.Context) error {
	req, err := types.NewFailPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Fail(ctx.Request().Context(), req)
	return c.writeLifecycleResult(ctx, "Fail payment failed", item, err)
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	req, err := types.NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Refund(ctx.Request().Context(), req)
	return c.writeLifecycleResult(ctx, "Refund payment failed", item, err)
}

func (c *PaymentController) CancelPayment(ctx echo.Context) error {
	req, err := types.NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Cancel(ctx.Request().Context(), req)
	return c.writeLifecycleResult(ctx, "Cancel payment failed", item, err)
}

// Unknown payments and state conflicts are acknowledged so gateways stop redelivering.
func (c *PaymentController) HandleProviderWebhook(ctx echo.Context) error {
	req, err := types.NewProviderWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	_, err = c.paymentService.HandleProviderWebhook(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			factory.LoggerWithContext(c.logger, ctx).WithField("provider", req.GetProvider()).Warn("Webhook for unknown payment acknowledged")
			return ctx.JSON(http.StatusOK, &types.WebhookResponse{Status: "ignored"})
		}
		if errors.Is(err, service.ErrInvalidTransition) {
			factory.LoggerWithContext(c.logger, ctx).WithError(err).WithField("provider", req.GetProvider()).Warn("Webhook conflicting with payment state acknowledged")
			return ctx.JSON(http.StatusOK, &types.WebhookResponse{Status: "rejected"})
		}
		return c.writeServiceError(ctx, "Handle provider webhook failed", err)
	}

	return ctx.JSON(http.StatusOK, &types.WebhookResponse{Status: "processed"})
}

func (c *PaymentController) writeLifecycleResult(ctx echo.Context, logMessage string, item *entity.Payment, err error) error {
	if err != nil {
		return c.writeServiceError(ctx, logMessage, err)
	}
	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) writeServiceError(ctx echo.Context, logMessage string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		return c.writeError(ctx, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, service.ErrPaymentNotFound):
		return c.writeError(ctx, http.StatusNotFound, "payment not found")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrIdempotencyConflict),
		errors.Is(err, service.ErrPaymentAlreadyExists):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrProviderRejected):
		return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn(logMessage)
		ctx.Response().Header().Set("Retry-After", retryAfterSeconds)
		return c.writeError(ctx, http.StatusServiceUnavailable, "payment provider unavailable")
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
