package service

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/lock"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/provider"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/repository"
	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

// memDB backs every repository fake so commits and reads see the same rows.
type memDB struct {
	mu         sync.Mutex
	payments   map[uint64]*entity.Payment
	nextID     uint64
	events     []*entity.PaymentEvent
	callbacks  []*entity.PaymentCallback
	refunds    []*entity.Refund
	operations []*entity.PaymentOperation

	// beforeCommit lets a test fail a commit before it is applied.
	beforeCommit func(commit *repository.TransitionCommit) error
}

func newMemDB() *memDB {
	return &memDB{payments: map[uint64]*entity.Payment{}, nextID: 1}
}

func (db *memDB) insert(p *entity.Payment) *entity.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	p.ID = db.nextID
	db.nextID++
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	db.payments[p.ID] = p.Clone()
	return p
}

func (db *memDB) get(id uint64) *entity.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.payments[id].Clone()
}

func (db *memDB) eventsFor(paymentID uint64) []*entity.PaymentEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*entity.PaymentEvent
	for _, e := range db.events {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out
}

func (db *memDB) callbackStatuses() []int32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]int32, 0, len(db.callbacks))
	for _, c := range db.callbacks {
		out = append(out, c.Status)
	}
	return out
}

type memPaymentRepo struct{ db *memDB }

func (r memPaymentRepo) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	return r.db.get(id), nil
}

func (r memPaymentRepo) FindByCallerRequestID(_ context.Context, callerService, requestID string) (*entity.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.CallerService == callerService && p.RequestID == requestID {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (r memPaymentRepo) FindByProviderReference(_ context.Context, providerName, orderID, chargeID, externalRef string) (*entity.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.Provider != providerName {
			continue
		}
		if (orderID != "" && p.ProviderOrderID != nil && *p.ProviderOrderID == orderID) ||
			(chargeID != "" && p.ProviderChargeID != nil && *p.ProviderChargeID == chargeID) ||
			(externalRef != "" && p.ExternalReference == externalRef) {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (r memPaymentRepo) UpdateCallbackDelivery(_ context.Context, payment *entity.Payment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.payments[payment.ID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if stored.Version != payment.Version {
		return repository.ErrCallbackSuperseded
	}
	stored.CallbackDeliveryStatus = payment.CallbackDeliveryStatus
	stored.CallbackDeliveryAttempts = payment.CallbackDeliveryAttempts
	stored.CallbackDeliveryNextAt = payment.CallbackDeliveryNextAt
	stored.CallbackDeliveryLastErr = payment.CallbackDeliveryLastErr
	return nil
}

func (r memPaymentRepo) List(_ context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool {
		return (filter.Status == "" || p.Status == filter.Status) &&
			(filter.UserID == "" || p.UserID == filter.UserID) &&
			(filter.Provider == "" || p.Provider == filter.Provider)
	}, filter.Limit), nil
}

func (r memPaymentRepo) ListDueCallbackDispatch(_ context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool {
		return p.CallbackDeliveryStatus == entity.CallbackDeliveryPending &&
			p.CallbackDeliveryNextAt != nil && !p.CallbackDeliveryNextAt.After(now)
	}, limit), nil
}

func (r memPaymentRepo) ListExpiredPending(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusPending && p.CreatedAt.Before(cutoff)
	}, limit), nil
}

func (r memPaymentRepo) ListForReconcile(_ context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	return r.filter(func(p *entity.Payment) bool {
		return (p.Status == entity.PaymentStatusPending || p.Status == entity.PaymentStatusAuthorized) &&
			p.UpdatedAt.Before(before)
	}, limit), nil
}

func (r memPaymentRepo) filter(keep func(p *entity.Payment) bool, limit int32) []*entity.Payment {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	items := make([]*entity.Payment, 0)
	for _, p := range r.db.payments {
		if p.DeletedAt == nil && keep(p) {
			items = append(items, p.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

type memStore struct{ db *memDB }

func (s memStore) CreatePayment(_ context.Context, payment *entity.Payment, events ...*entity.PaymentEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payments {
		if p.CallerService == payment.CallerService && p.RequestID == payment.RequestID {
			return repository.ErrPaymentAlreadyExists
		}
	}
	payment.ID = s.db.nextID
	s.db.nextID++
	s.db.payments[payment.ID] = payment.Clone()
	for _, e := range events {
		e.PaymentID = payment.ID
		e.ID = uint64(len(s.db.events) + 1)
		s.db.events = append(s.db.events, e)
	}
	return nil
}

func (s memStore) CommitTransition(_ context.Context, commit *repository.TransitionCommit) error {
	if s.db.beforeCommit != nil {
		if err := s.db.beforeCommit(commit); err != nil {
			return err
		}
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored, ok := s.db.payments[commit.Payment.ID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if stored.Version != commit.Payment.Version {
		return repository.ErrVersionConflict
	}
	if op := commit.Operation; op != nil {
		for _, existing := range s.db.operations {
			if existing.PaymentID == commit.Payment.ID && existing.Operation == op.Operation && existing.IdempotencyKey == op.IdempotencyKey {
				return repository.ErrOperationAlreadyApplied
			}
		}
		op.PaymentID = commit.Payment.ID
		s.db.operations = append(s.db.operations, op)
	}
	if commit.Refund != nil {
		commit.Refund.PaymentID = commit.Payment.ID
		commit.Refund.ID = uint64(len(s.db.refunds) + 1)
		s.db.refunds = append(s.db.refunds, commit.Refund)
	}
	for _, e := range commit.Events {
		e.PaymentID = commit.Payment.ID
		e.ID = uint64(len(s.db.events) + 1)
		s.db.events = append(s.db.events, e)
	}
	commit.Payment.Version++
	s.db.payments[commit.Payment.ID] = commit.Payment.Clone()
	return nil
}

type memEventRepo struct{ db *memDB }

func (r memEventRepo) Create(_ context.Context, event *entity.PaymentEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	event.ID = uint64(len(r.db.events) + 1)
	r.db.events = append(r.db.events, event)
	return nil
}

func (r memEventRepo) ExistsForProviderEvent(_ context.Context, paymentID uint64, providerEventID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.events {
		if e.PaymentID == paymentID && e.ProviderEventID != nil && *e.ProviderEventID == providerEventID {
			return true, nil
		}
	}
	return false, nil
}

func (r memEventRepo) ListUnpublished(_ context.Context, limit int32) ([]*entity.PaymentEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.PaymentEvent
	for _, e := range r.db.events {
		if e.PublishedAt == nil {
			out = append(out, e)
		}
		if limit > 0 && int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (r memEventRepo) MarkPublished(_ context.Context, ids []uint64, publishedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	wanted := map[uint64]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	for _, e := range r.db.events {
		if wanted[e.ID] {
			at := publishedAt
			e.PublishedAt = &at
		}
	}
	return nil
}

type memCallbackRepo struct{ db *memDB }

func (r memCallbackRepo) Create(_ context.Context, callback *entity.PaymentCallback) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.callbacks = append(r.db.callbacks, callback)
	return nil
}

type memRefundRepo struct{ db *memDB }

func (r memRefundRepo) ListByPayment(_ context.Context, paymentID uint64) ([]*entity.Refund, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*entity.Refund, 0)
	for _, refund := range r.db.refunds {
		if refund.PaymentID == paymentID {
			out = append(out, refund)
		}
	}
	return out, nil
}

type memOperationRepo struct{ db *memDB }

func (r memOperationRepo) FindByKey(_ context.Context, paymentID uint64, operation entity.Operation, key string) (*entity.PaymentOperation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, op := range r.db.operations {
		if op.PaymentID == paymentID && op.Operation == operation && op.IdempotencyKey == key {
			return op, nil
		}
	}
	return nil, nil
}

// fakeProvider counts calls and delegates to optional func fields.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	linkFn    func(input *provider.LinkInput) (*provider.LinkResult, error)
	preAuthFn func(input *provider.PreAuthInput) (*provider.PreAuthResult, error)
	captureFn func(input *provider.CaptureInput) (*provider.ChargeResult, error)
	statusFn  func(ref provider.Reference) (provider.Status, error)
	refundFn  func(input *provider.RefundInput) (*provider.RefundResult, error)
	webhookFn func(headers http.Header, payload []byte) (*provider.WebhookEvent, error)
}

func (p *fakeProvider) count(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[op]++
}

func (p *fakeProvider) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) Name() string { return "stripe" }

func (p *fakeProvider) CreatePaymentLink(_ context.Context, input *provider.LinkInput) (*provider.LinkResult, error) {
	p.count("link")
	if p.linkFn != nil {
		return p.linkFn(input)
	}
	return &provider.LinkResult{
		Reference:  provider.Reference{OrderID: "plink_1", External: input.ExternalReference},
		PaymentURL: "https://pay.example.com/plink_1",
		Status:     provider.StatusPending,
	}, nil
}

func (p *fakeProvider) CreatePreAuthorization(_ context.Context, input *provider.PreAuthInput) (*provider.PreAuthResult, error) {
	p.count("preauth")
	if p.preAuthFn != nil {
		return p.preAuthFn(input)
	}
	expires := time.Now().Add(7 * 24 * time.Hour)
	return &provider.PreAuthResult{
		Reference: provider.Reference{OrderID: "pi_1", External: input.ExternalReference},
		Status:    provider.StatusAuthorized,
		ExpiresAt: &expires,
	}, nil
}

func (p *fakeProvider) CapturePreAuth(_ context.Context, input *provider.CaptureInput) (*provider.ChargeResult, error) {
	p.count("capture")
	if p.captureFn != nil {
		return p.captureFn(input)
	}
	result := &provider.ChargeResult{ChargeID: "ch_1", Status: provider.StatusConfirmed}
	if input.AmountCents != nil {
		result.AmountCents = *input.AmountCents
	}
	return result, nil
}

func (p *fakeProvider) GetPaymentStatus(_ context.Context, ref provider.Reference) (provider.Status, error) {
	p.count("status")
	if p.statusFn != nil {
		return p.statusFn(ref)
	}
	return provider.StatusUnknown, nil
}

func (p *fakeProvider) RefundPayment(_ context.Context, input *provider.RefundInput) (*provider.RefundResult, error) {
	p.count("refund")
	if p.refundFn != nil {
		return p.refundFn(input)
	}
	return &provider.RefundResult{RefundID: "re_1", Status: provider.StatusRefunded, AmountCents: *input.AmountCents}, nil
}

func (p *fakeProvider) VerifyAndParseWebhook(_ context.Context, headers http.Header, payload []byte) (*provider.WebhookEvent, error) {
	p.count("webhook")
	if p.webhookFn != nil {
		return p.webhookFn(headers, payload)
	}
	return nil, provider.ErrSignatureInvalid
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []uint64
	failOn    map[uint64]bool
}

func (p *recordingPublisher) Publish(_ context.Context, event *entity.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[event.ID] {
		return context.DeadlineExceeded
	}
	p.published = append(p.published, event.ID)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, prov *fakeProvider) (*PaymentService, *memDB, *recordingPublisher) {
	t.Helper()
	logrus.SetLevel(logrus.PanicLevel)

	db := newMemDB()
	publisher := &recordingPublisher{failOn: map[uint64]bool{}}
	svc := NewPaymentService(
		Repositories{
			Payments:   memPaymentRepo{db: db},
			Events:     memEventRepo{db: db},
			Callbacks:  memCallbackRepo{db: db},
			Refunds:    memRefundRepo{db: db},
			Operations: memOperationRepo{db: db},
			Store:      memStore{db: db},
		},
		prov,
		lock.NewLocalLocker(2*time.Second),
		publisher,
		config.PaymentsConfig{
			CallbackMaxAttempts:   3,
			CallbackRetryInterval: time.Minute,
			PendingTimeout:        time.Hour,
			ReconcileStaleAfter:   15 * time.Minute,
			JobBatchSize:          50,
		},
		"internal-key",
	)
	svc.now = func() time.Time { return testNow }
	return svc, db, publisher
}

func seedPayment(db *memDB, status entity.PaymentStatus, mutate func(p *entity.Payment)) *entity.Payment {
	orderID := "pi_1"
	p := &entity.Payment{
		RequestID:         "req-seed",
		CallerService:     "bookings-service",
		UserID:            "user-1",
		ResourceType:      entity.ResourceTypeBooking,
		ResourceID:        "bk-1",
		AmountCents:       5000,
		Currency:          "BRL",
		Status:            status,
		Flow:              entity.PaymentFlowPreAuth,
		Provider:          "stripe",
		ExternalReference: "ext-1",
		StatusCallbackURL: "https://bookings.internal/callback",
		CreatedAt:         testNow.Add(-2 * time.Hour),
		UpdatedAt:         testNow.Add(-2 * time.Hour),
	}
	if status != entity.PaymentStatusPending {
		p.ProviderOrderID = &orderID
	}
	switch status {
	case entity.PaymentStatusConfirmed:
		p.CapturedCents = p.AmountCents
	case entity.PaymentStatusRefunded:
		p.CapturedCents = p.AmountCents
		p.RefundedCents = p.AmountCents
	}
	if mutate != nil {
		mutate(p)
	}
	return db.insert(p)
}
