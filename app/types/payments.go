package types

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

const IdempotencyKeyHeader = "Idempotency-Key"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateStruct reports the first failing field as "<json name> <rule>".
func validateStruct(v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%s failed %s=%s", toSnake(fe.Field()), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s failed %s", toSnake(fe.Field()), fe.Tag())
	}
	return err
}

func NewCreatePaymentRequestFromContext(ctx echo.Context) (*CreatePaymentRequest, error) {
	var body CreatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = strings.TrimSpace(body.RequestId)
	if body.RequestId == "" {
		body.RequestId = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.CallerService = strings.TrimSpace(body.CallerService)
	body.UserId = strings.TrimSpace(body.UserId)
	body.ResourceType = strings.ToLower(strings.TrimSpace(body.ResourceType))
	body.ResourceId = strings.TrimSpace(body.ResourceId)
	body.Description = strings.TrimSpace(body.Description)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Flow = strings.ToLower(strings.TrimSpace(body.Flow))
	body.PayerEmail = strings.TrimSpace(body.PayerEmail)
	body.StatusCallbackUrl = strings.TrimSpace(body.StatusCallbackUrl)

	return &body, nil
}

func (r *CreatePaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{Id: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewListRefundsRequestFromContext(ctx echo.Context) (*ListRefundsRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ListRefundsRequest{Id: id}, nil
}

func (r *ListRefundsRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		CallerService: strings.TrimSpace(ctx.QueryParam("caller_service")),
		UserId:        strings.TrimSpace(ctx.QueryParam("user_id")),
		ResourceType:  strings.ToLower(strings.TrimSpace(ctx.QueryParam("resource_type"))),
		ResourceId:    strings.TrimSpace(ctx.QueryParam("resource_id")),
		Status:        strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		Provider:      strings.ToLower(strings.TrimSpace(ctx.QueryParam("provider"))),
		Limit:         100,
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	return validateStruct(r)
}

// idempotencyKey prefers the explicit Idempotency-Key header and falls back to
// the request id so retries through the gateway stay deduplicated.
func idempotencyKey(ctx echo.Context, fromBody string) string {
	if key := strings.TrimSpace(ctx.Request().Header.Get(IdempotencyKeyHeader)); key != "" {
		return key
	}
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	if key := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)); key != "" {
		return key
	}
	return strings.TrimSpace(ctx.Response().Header().Get(echo.HeaderXRequestID))
}

// bindAction binds an optional JSON body; lifecycle calls may be sent empty.
func bindAction(ctx echo.Context, body interface{}) (uint64, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	if ctx.Request().ContentLength != 0 {
		if err := (&echo.DefaultBinder{}).BindBody(ctx, body); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
	}
	return id, nil
}

func NewAuthorizePaymentRequestFromContext(ctx echo.Context) (*AuthorizePaymentRequest, error) {
	var body AuthorizePaymentRequest
	id, err := bindAction(ctx, &body)
	if err != nil {
		return nil, err
	}
	body.Id = id
	body.IdempotencyKey = idempotencyKey(ctx, body.IdempotencyKey)
	body.PaymentToken = strings.TrimSpace(body.PaymentToken)
	body.PaymentMethodId = strings.TrimSpace(body.PaymentMethodId)
	body.PayerEmail = strings.TrimSpace(body.PayerEmail)
	return &body, nil
}

func (r *AuthorizePaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewConfirmPaymentRequestFromContext(ctx echo.Context) (*ConfirmPaymentRequest, error) {
	var body ConfirmPaymentRequest
	id, err := bindAction(ctx, &body)
	if err != nil {
		return nil, err
	}
	body.Id = id
	body.IdempotencyKey = idempotencyKey(ctx, body.IdempotencyKey)
	return &body, nil
}

func (r *ConfirmPaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewFailPaymentRequestFromContext(ctx echo.Context) (*FailPaymentRequest, error) {
	var body FailPaymentRequest
	id, err := bindAction(ctx, &body)
	if err != nil {
		return nil, err
	}
	body.Id = id
	body.IdempotencyKey = idempotencyKey(ctx, body.IdempotencyKey)
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *FailPaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewRefundPaymentRequestFromContext(ctx echo.Context) (*RefundPaymentRequest, error) {
	var body RefundPaymentRequest
	id, err := bindAction(ctx, &body)
	if err != nil {
		return nil, err
	}
	body.Id = id
	body.IdempotencyKey = idempotencyKey(ctx, body.IdempotencyKey)
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *RefundPaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewCancelPaymentRequestFromContext(ctx echo.Context) (*CancelPaymentRequest, error) {
	var body CancelPaymentRequest
	id, err := bindAction(ctx, &body)
	if err != nil {
		return nil, err
	}
	body.Id = id
	body.IdempotencyKey = idempotencyKey(ctx, body.IdempotencyKey)
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *CancelPaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewProviderWebhookRequestFromContext(ctx echo.Context) (*ProviderWebhookRequest, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Response(), ctx.Request().Body, 1<<20))
	if err != nil {
		return nil, err
	}

	return &ProviderWebhookRequest{
		Provider: strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Headers:  ctx.Request().Header.Clone(),
		Payload:  payload,
	}, nil
}

func (r *ProviderWebhookRequest) Validate() error {
	if strings.TrimSpace(r.GetProvider()) == "" {
		return errors.New("provider is required")
	}
	if len(r.GetPayload()) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
