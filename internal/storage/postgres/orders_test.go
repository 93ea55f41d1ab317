package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmockv3 "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

func orderRows(orders ...*model.Order) *pgxmockv3.Rows {
	rows := pgxmockv3.NewRows([]string{
		"id", "user_id", "package_id", "transaction_id", "order_type", "topup_esim_id", "status",
		"payment_method", "invoice_id", "payment_url", "paid_at", "amount_usd",
		"provider_order_no", "created_at", "updated_at",
	})
	for _, o := range orders {
		rows.AddRow(o.ID, o.UserID, o.PackageID, o.TransactionID, o.Type, o.TopupESimID, o.Status,
			o.PaymentMethod, o.InvoiceID, o.PaymentURL, o.PaidAt, o.AmountUSD,
			o.ProviderOrderNo, o.CreatedAt, o.UpdatedAt)
	}
	return rows
}

func sampleOrder(id int64, status model.OrderStatus) *model.Order {
	now := time.Now()
	return &model.Order{
		ID:            id,
		UserID:        1,
		PackageID:     2,
		TransactionID: "txn-1",
		Type:          model.OrderTypeNew,
		Status:        status,
		AmountUSD:     decimal.RequireFromString("12.50"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRepositoryCreate(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	now := time.Now()
	amount := decimal.RequireFromString("12.50")

	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(int64(1), int64(2), "txn-1", model.OrderTypeNew, (*int64)(nil), model.OrderStatusCreated, amount).
		WillReturnRows(pgxmockv3.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(10), now, now))

	order := &model.Order{
		UserID: 1, PackageID: 2, TransactionID: "txn-1",
		Type: model.OrderTypeNew, Status: model.OrderStatusCreated, AmountUSD: amount,
	}
	created, err := repo.Create(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != 10 {
		t.Fatalf("unexpected order id %d", created.ID)
	}

	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(int64(1), int64(2), "txn-1", model.OrderTypeNew, (*int64)(nil), model.OrderStatusCreated, amount).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if _, err := repo.Create(context.Background(), order); !errors.Is(err, domainErrors.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestOrderRepositoryLookups(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id=").WithArgs(int64(10)).
		WillReturnRows(orderRows(sampleOrder(10, model.OrderStatusPaid)))
	order, err := repo.GetByID(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != model.OrderStatusPaid {
		t.Fatalf("unexpected status %s", order.Status)
	}

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_id=").WithArgs("txn-1").
		WillReturnRows(orderRows(sampleOrder(10, model.OrderStatusCreated)))
	if _, err := repo.GetByTransactionID(context.Background(), "txn-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_id=").WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetByTransactionID(context.Background(), "missing"); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM orders").WithArgs(int64(1), 10, 0).
		WillReturnRows(orderRows(sampleOrder(10, model.OrderStatusCompleted), sampleOrder(11, model.OrderStatusFailed)))
	orders, err := repo.ListByUser(context.Background(), 1, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestOrderRepositoryStatusTransitions(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	t.Run("set invoice", func(t *testing.T) {
		mock.ExpectExec("UPDATE orders").
			WithArgs(int64(10), model.OrderStatusAwaitingPayment, "crypto", "42", "https://pay/42", model.OrderStatusCreated).
			WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
		if err := repo.SetInvoice(context.Background(), 10, "crypto", "42", "https://pay/42"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("mark paid conflict reports current status", func(t *testing.T) {
		paidAt := time.Now()
		mock.ExpectExec("UPDATE orders").
			WithArgs(int64(10), model.OrderStatusPaid, paidAt, model.OrderStatusAwaitingPayment).
			WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM orders WHERE id=").WithArgs(int64(10)).
			WillReturnRows(pgxmockv3.NewRows([]string{"status"}).AddRow(model.OrderStatusPaid))

		err := repo.MarkPaid(context.Background(), 10, paidAt)
		var conflict domainErrors.StateConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected state conflict, got %v", err)
		}
		if conflict.Current != string(model.OrderStatusPaid) {
			t.Fatalf("unexpected current status %q", conflict.Current)
		}
	})

	t.Run("update status from", func(t *testing.T) {
		mock.ExpectExec("UPDATE orders").
			WithArgs(int64(10), model.OrderStatusProcessing, model.OrderStatusPaid).
			WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
		if err := repo.UpdateStatusFrom(context.Background(), 10, model.OrderStatusPaid, model.OrderStatusProcessing); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid transition rejected without query", func(t *testing.T) {
		err := repo.UpdateStatusFrom(context.Background(), 10, model.OrderStatusCompleted, model.OrderStatusProcessing)
		var conflict domainErrors.StateConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected state conflict, got %v", err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		mock.ExpectExec("UPDATE orders").
			WithArgs(int64(99), model.OrderStatusProcessing, model.OrderStatusPaid).
			WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM orders WHERE id=").WithArgs(int64(99)).
			WillReturnError(pgx.ErrNoRows)
		if err := repo.UpdateStatusFrom(context.Background(), 99, model.OrderStatusPaid, model.OrderStatusProcessing); !errors.Is(err, domainErrors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestOrderRepositorySetProviderOrderNo(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	mock.ExpectExec("UPDATE orders SET provider_order_no=").WithArgs(int64(10), "B231000").
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.SetProviderOrderNo(context.Background(), 10, "B231000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE orders SET provider_order_no=").WithArgs(int64(99), "B231000").
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
	if err := repo.SetProviderOrderNo(context.Background(), 99, "B231000"); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestSelectFailedPaidClaimsBatch(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	failed := sampleOrder(10, model.OrderStatusFailed)
	paidAt := time.Now()
	failed.PaidAt = &paidAt

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders").WithArgs(5).
		WillReturnRows(orderRows(failed))
	mock.ExpectExec("UPDATE orders SET status='PROCESSING'").WithArgs(int64(10)).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	orders, err := repo.SelectFailedPaid(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Status != model.OrderStatusProcessing {
		t.Fatalf("expected claimed order to be PROCESSING, got %s", orders[0].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestSelectStuckProvisioning(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &orderRepository{storage: storage}

	stuck := sampleOrder(12, model.OrderStatusProcessing)
	stuck.ProviderOrderNo = "B2310099"

	mock.ExpectQuery("SELECT (.+) FROM orders o").WithArgs(5).
		WillReturnRows(orderRows(stuck))

	orders, err := repo.SelectStuckProvisioning(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ProviderOrderNo != "B2310099" {
		t.Fatalf("unexpected orders: %+v", orders)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
