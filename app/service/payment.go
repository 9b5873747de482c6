package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/events"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/factory"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/lock"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/provider"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/repository"
	"github.com/vibast-solutions/ms-go-lavago-payments/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultListLimit = int32(100)
	maxListLimit     = int32(500)
	defaultBatchSize = int32(100)
)

type createPaymentRequest interface {
	GetRequestId() string
	GetCallerService() string
	GetUserId() string
	GetResourceType() string
	GetResourceId() string
	GetDescription() string
	GetAmountCents() int64
	GetCurrency() string
	GetFlow() string
	GetPayerEmail() string
	GetStatusCallbackUrl() string
	GetMetadata() map[string]string
}

type listPaymentsRequest interface {
	GetCallerService() string
	GetUserId() string
	GetResourceType() string
	GetResourceId() string
	GetStatus() string
	GetProvider() string
	GetLimit() int32
	GetOffset() int32
}

type paymentRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Payment, error)
	FindByProviderReference(ctx context.Context, provider, orderID, chargeID, externalRef string) (*entity.Payment, error)
	UpdateCallbackDelivery(ctx context.Context, payment *entity.Payment) error
	List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
	ListDueCallbackDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error)
	ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
	ExistsForProviderEvent(ctx context.Context, paymentID uint64, providerEventID string) (bool, error)
	ListUnpublished(ctx context.Context, limit int32) ([]*entity.PaymentEvent, error)
	MarkPublished(ctx context.Context, ids []uint64, publishedAt time.Time) error
}

type paymentCallbackRepository interface {
	Create(ctx context.Context, callback *entity.PaymentCallback) error
}

type refundRepository interface {
	ListByPayment(ctx context.Context, paymentID uint64) ([]*entity.Refund, error)
}

type operationRepository interface {
	FindByKey(ctx context.Context, paymentID uint64, operation entity.Operation, key string) (*entity.PaymentOperation, error)
}

type transitionStore interface {
	CreatePayment(ctx context.Context, payment *entity.Payment, events ...*entity.PaymentEvent) error
	CommitTransition(ctx context.Context, commit *repository.TransitionCommit) error
}

type Repositories struct {
	Payments   paymentRepository
	Events     paymentEventRepository
	Callbacks  paymentCallbackRepository
	Refunds    refundRepository
	Operations operationRepository
	Store      transitionStore
}

type PaymentService struct {
	paymentRepo   paymentRepository
	eventRepo     paymentEventRepository
	callbackRepo  paymentCallbackRepository
	refundRepo    refundRepository
	operationRepo operationRepository
	store         transitionStore

	provider  provider.Provider
	locker    lock.Locker
	publisher events.Publisher

	paymentsCfg  config.PaymentsConfig
	appAPIKey    string
	callbackHTTP *http.Client

	logger logrus.FieldLogger
	tracer trace.Tracer
	now    func() time.Time
}

func NewPaymentService(
	repos Repositories,
	paymentProvider provider.Provider,
	locker lock.Locker,
	publisher events.Publisher,
	paymentsCfg config.PaymentsConfig,
	appAPIKey string,
) *PaymentService {
	timeout := paymentsCfg.CallbackHTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PaymentService{
		paymentRepo:   repos.Payments,
		eventRepo:     repos.Events,
		callbackRepo:  repos.Callbacks,
		refundRepo:    repos.Refunds,
		operationRepo: repos.Operations,
		store:         repos.Store,
		provider:      paymentProvider,
		locker:        locker,
		publisher:     publisher,
		paymentsCfg:   paymentsCfg,
		appAPIKey:     strings.TrimSpace(appAPIKey),
		callbackHTTP:  &http.Client{Timeout: timeout},
		logger:        factory.NewModuleLogger("payment_service"),
		tracer:        otel.Tracer("lavago/payments/service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentService) CreatePayment(ctx context.Context, req createPaymentRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.create")
	defer span.End()

	requestID := strings.TrimSpace(req.GetRequestId())
	callerService := strings.TrimSpace(req.GetCallerService())
	if requestID == "" || callerService == "" {
		return nil, s.spanError(span, fmt.Errorf("%w: request_id and caller_service are required", ErrInvalidRequest))
	}
	if req.GetAmountCents() <= 0 {
		return nil, s.spanError(span, fmt.Errorf("%w: amount_cents must be > 0", ErrInvalidRequest))
	}
	flow := entity.PaymentFlow(strings.ToLower(strings.TrimSpace(req.GetFlow())))
	if flow == "" {
		flow = entity.PaymentFlowLink
	}
	if flow != entity.PaymentFlowLink && flow != entity.PaymentFlowPreAuth {
		return nil, s.spanError(span, fmt.Errorf("%w: flow must be link or preauth", ErrInvalidRequest))
	}

	existing, err := s.paymentRepo.FindByCallerRequestID(ctx, callerService, requestID)
	if err != nil {
		return nil, s.spanError(span, err)
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now()
	payment := &entity.Payment{
		RequestID:              requestID,
		CallerService:          callerService,
		UserID:                 strings.TrimSpace(req.GetUserId()),
		ResourceType:           strings.TrimSpace(req.GetResourceType()),
		ResourceID:             strings.TrimSpace(req.GetResourceId()),
		Description:            strings.TrimSpace(req.GetDescription()),
		AmountCents:            req.GetAmountCents(),
		Currency:               strings.ToUpper(strings.TrimSpace(req.GetCurrency())),
		Status:                 entity.PaymentStatusPending,
		Flow:                   flow,
		Provider:               s.provider.Name(),
		ExternalReference:      uuid.NewString(),
		StatusCallbackURL:      strings.TrimSpace(req.GetStatusCallbackUrl()),
		Metadata:               cloneMetadata(req.GetMetadata()),
		CallbackDeliveryStatus: entity.CallbackDeliveryNone,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if flow == entity.PaymentFlowLink {
		link, err := s.provider.CreatePaymentLink(ctx, &provider.LinkInput{
			ExternalReference: payment.ExternalReference,
			AmountCents:       payment.AmountCents,
			Currency:          payment.Currency,
			Description:       payment.Description,
			PayerEmail:        strings.TrimSpace(req.GetPayerEmail()),
			Metadata:          payment.Metadata,
		})
		if err != nil {
			return nil, s.spanError(span, providerError(err))
		}
		applyReference(payment, link.Reference)
		if link.PaymentURL != "" {
			checkoutURL := link.PaymentURL
			payment.CheckoutURL = &checkoutURL
		}
	}

	created := &entity.PaymentEvent{
		EventType:   entity.EventPaymentCreated,
		NewStatus:   payment.Status,
		AmountCents: payment.AmountCents,
		CreatedAt:   now,
	}
	if err := s.store.CreatePayment(ctx, payment, created); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			return nil, s.spanError(span, ErrPaymentAlreadyExists)
		}
		return nil, s.spanError(span, err)
	}

	span.SetAttributes(attribute.Int64("payment.id", int64(payment.ID)))
	s.logger.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"caller_service": payment.CallerService,
		"flow":           payment.Flow,
		"provider":       payment.Provider,
	}).Info("payment_created")

	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, req listPaymentsRequest) ([]*entity.Payment, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if req.GetOffset() < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0", ErrInvalidRequest)
	}

	status := entity.PaymentStatus(strings.ToLower(strings.TrimSpace(req.GetStatus())))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}

	filter := repository.PaymentFilter{
		CallerService: strings.TrimSpace(req.GetCallerService()),
		UserID:        strings.TrimSpace(req.GetUserId()),
		ResourceType:  strings.TrimSpace(req.GetResourceType()),
		ResourceID:    strings.TrimSpace(req.GetResourceId()),
		Status:        status,
		Provider:      strings.ToLower(strings.TrimSpace(req.GetProvider())),
		Limit:         limit,
		Offset:        req.GetOffset(),
	}

	return s.paymentRepo.List(ctx, filter)
}

func (s *PaymentService) ListRefunds(ctx context.Context, paymentID uint64) ([]*entity.Refund, error) {
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.refundRepo.ListByPayment(ctx, paymentID)
}

func (s *PaymentService) markForCallbackDelivery(payment *entity.Payment, now time.Time) {
	payment.CallbackDeliveryStatus = entity.CallbackDeliveryPending
	payment.CallbackDeliveryAttempts = 0
	payment.CallbackDeliveryNextAt = &now
	payment.CallbackDeliveryLastErr = nil
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func (s *PaymentService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("payment.provider", s.provider.Name())))
}

func (s *PaymentService) spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// providerError maps adapter errors onto the service taxonomy. Anything that
// is not an explicit rejection leaves the payment untouched and may be retried.
func providerError(err error) error {
	switch {
	case errors.Is(err, provider.ErrRejected):
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	case errors.Is(err, provider.ErrNotSupported):
		return fmt.Errorf("%w: %v", ErrProviderUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
}

func referenceOf(payment *entity.Payment) provider.Reference {
	ref := provider.Reference{External: payment.ExternalReference}
	if payment.ProviderOrderID != nil {
		ref.OrderID = *payment.ProviderOrderID
	}
	if payment.ProviderChargeID != nil {
		ref.ChargeID = *payment.ProviderChargeID
	}
	return ref
}

// applyReference never overwrites a known gateway id.
func applyReference(payment *entity.Payment, ref provider.Reference) bool {
	changed := false
	if ref.OrderID != "" && (payment.ProviderOrderID == nil || *payment.ProviderOrderID == "") {
		orderID := ref.OrderID
		payment.ProviderOrderID = &orderID
		changed = true
	}
	if ref.ChargeID != "" && (payment.ProviderChargeID == nil || *payment.ProviderChargeID == "") {
		chargeID := ref.ChargeID
		payment.ProviderChargeID = &chargeID
		changed = true
	}
	return changed
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
