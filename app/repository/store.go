package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

// TransitionCommit is everything a lifecycle step persists. Payment carries the
// version it was read at; the commit fails with ErrVersionConflict if another
// writer got there first.
type TransitionCommit struct {
	Payment   *entity.Payment
	Events    []*entity.PaymentEvent
	Operation *entity.PaymentOperation
	Refund    *entity.Refund
}

// Store runs multi-table writes in one transaction.
type Store struct {
	db TxBeginner
}

func NewStore(db TxBeginner) *Store {
	return &Store{db: db}
}

func (s *Store) CreatePayment(ctx context.Context, payment *entity.Payment, events ...*entity.PaymentEvent) error {
	return s.withinTx(ctx, func(tx DBTX) error {
		if err := NewPaymentRepository(tx).Create(ctx, payment); err != nil {
			return err
		}
		return createEvents(ctx, tx, payment.ID, events)
	})
}

func (s *Store) CommitTransition(ctx context.Context, commit *TransitionCommit) error {
	version := commit.Payment.Version
	err := s.withinTx(ctx, func(tx DBTX) error {
		if err := NewPaymentRepository(tx).Update(ctx, commit.Payment); err != nil {
			return err
		}
		if commit.Operation != nil {
			commit.Operation.PaymentID = commit.Payment.ID
			if err := NewPaymentOperationRepository(tx).Create(ctx, commit.Operation); err != nil {
				return err
			}
		}
		if commit.Refund != nil {
			commit.Refund.PaymentID = commit.Payment.ID
			if err := NewRefundRepository(tx).Create(ctx, commit.Refund); err != nil {
				return err
			}
		}
		return createEvents(ctx, tx, commit.Payment.ID, commit.Events)
	})
	if err != nil {
		commit.Payment.Version = version
	}
	return err
}

func (s *Store) withinTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func createEvents(ctx context.Context, tx DBTX, paymentID uint64, events []*entity.PaymentEvent) error {
	repo := NewPaymentEventRepository(tx)
	for _, event := range events {
		event.PaymentID = paymentID
		if err := repo.Create(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
