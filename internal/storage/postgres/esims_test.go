package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmockv3 "github.com/pashagolub/pgxmock/v3"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

func esimRows(esims ...*model.ESim) *pgxmockv3.Rows {
	rows := pgxmockv3.NewRows([]string{
		"id", "order_id", "esim_tran_no", "iccid", "activation_code", "qr_code_url", "short_url",
		"smdp_status", "status", "total_bytes", "used_bytes", "expired_at", "low_data_notified",
		"raw_payload", "created_at", "updated_at",
	})
	for _, e := range esims {
		rows.AddRow(e.ID, e.OrderID, e.TranNo, e.ICCID, e.ActivationCode, e.QRCodeURL, e.ShortURL,
			e.SMDPStatus, e.Status, e.TotalBytes, e.UsedBytes, e.ExpiredAt, e.LowDataNotified,
			e.RawPayload, e.CreatedAt, e.UpdatedAt)
	}
	return rows
}

func sampleESim(id, orderID int64) *model.ESim {
	now := time.Now()
	return &model.ESim{
		ID:             id,
		OrderID:        orderID,
		TranNo:         "T231000",
		ICCID:          "894400001",
		ActivationCode: "LPA:1$smdp.example$CODE",
		Status:         model.ESimStatusActivated,
		TotalBytes:     5 << 30,
		UsedBytes:      1 << 30,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestESimRepositoryCreate(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &esimRepository{storage: storage}

	now := time.Now()
	esim := sampleESim(0, 10)

	mock.ExpectQuery("INSERT INTO esims").
		WithArgs(esim.OrderID, esim.TranNo, esim.ICCID, esim.ActivationCode, esim.QRCodeURL, esim.ShortURL,
			esim.SMDPStatus, esim.Status, esim.TotalBytes, esim.UsedBytes, esim.ExpiredAt, esim.RawPayload).
		WillReturnRows(pgxmockv3.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))

	created, err := repo.Create(context.Background(), esim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != 3 {
		t.Fatalf("unexpected esim id %d", created.ID)
	}

	mock.ExpectQuery("INSERT INTO esims").
		WithArgs(esim.OrderID, esim.TranNo, esim.ICCID, esim.ActivationCode, esim.QRCodeURL, esim.ShortURL,
			esim.SMDPStatus, esim.Status, esim.TotalBytes, esim.UsedBytes, esim.ExpiredAt, esim.RawPayload).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if _, err := repo.Create(context.Background(), esim); !errors.Is(err, domainErrors.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestESimRepositoryLookups(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &esimRepository{storage: storage}

	mock.ExpectQuery("SELECT (.+) FROM esims WHERE order_id=").WithArgs(int64(10)).
		WillReturnRows(esimRows(sampleESim(3, 10)))
	esim, err := repo.GetByOrderID(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if esim.ICCID != "894400001" {
		t.Fatalf("unexpected iccid %q", esim.ICCID)
	}

	mock.ExpectQuery("SELECT (.+) FROM esims WHERE order_id=").WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetByOrderID(context.Background(), 99); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM esims WHERE iccid=").WithArgs("894400001").
		WillReturnRows(esimRows(sampleESim(3, 10)))
	if _, err := repo.GetByICCID(context.Background(), "894400001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM esims WHERE esim_tran_no=").WithArgs("T231000").
		WillReturnRows(esimRows(sampleESim(3, 10)))
	if _, err := repo.GetByTranNo(context.Background(), "T231000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM esims e").WithArgs(int64(1)).
		WillReturnRows(esimRows(sampleESim(3, 10), sampleESim(4, 11)))
	esims, err := repo.ListByUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(esims) != 2 {
		t.Fatalf("expected 2 esims, got %d", len(esims))
	}

	mock.ExpectQuery("SELECT (.+) FROM esims").WithArgs(model.ESimStatusActivated).
		WillReturnRows(esimRows(sampleESim(3, 10)))
	active, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active esim, got %d", len(active))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestESimRepositoryUpdates(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &esimRepository{storage: storage}

	mock.ExpectExec("UPDATE esims SET status=").
		WithArgs(int64(3), model.ESimStatusDepleted, "ENABLED").
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.UpdateStatus(context.Background(), 3, model.ESimStatusDepleted, "ENABLED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE esims SET total_bytes=").
		WithArgs(int64(3), int64(5<<30), int64(4<<30)).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.UpdateUsage(context.Background(), 3, 5<<30, 4<<30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expiredAt := time.Now().Add(720 * time.Hour)
	mock.ExpectExec("UPDATE esims SET expired_at=").
		WithArgs(int64(3), expiredAt).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.UpdateValidity(context.Background(), 3, expiredAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE esims SET low_data_notified=").
		WithArgs(int64(3), true).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.SetLowDataNotified(context.Background(), 3, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE esims SET low_data_notified=").
		WithArgs(int64(99), false).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
	if err := repo.SetLowDataNotified(context.Background(), 99, false); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestESimRepositoryApplyTopup(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer mock.Close()
	repo := &esimRepository{storage: storage}

	mock.ExpectExec("UPDATE esims").
		WithArgs(int64(3), int64(2<<30), (*time.Time)(nil),
			model.ESimStatusDepleted, model.ESimStatusExpired, model.ESimStatusActivated).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))
	if err := repo.ApplyTopup(context.Background(), 3, 2<<30, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE esims").
		WithArgs(int64(99), int64(2<<30), (*time.Time)(nil),
			model.ESimStatusDepleted, model.ESimStatusExpired, model.ESimStatusActivated).
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))
	if err := repo.ApplyTopup(context.Background(), 99, 2<<30, nil); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
