package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"clinipay/backend/internal/domain"
	"clinipay/backend/internal/store"
)

func TestUpdateInstallmentStatusMarksPaidOnce(t *testing.T) {
	databaseURL := os.Getenv("CLINIPAY_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CLINIPAY_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("sale-status-it-%d", stamp)
	instID := fmt.Sprintf("inst-status-it-%d", stamp)
	clinicID := "clinic-it"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM installments WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_splits WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	})

	saleDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sale := domain.Sale{
		ID:          saleID,
		ClinicID:    clinicID,
		PatientName: "Integration Patient",
		Procedure:   "Cleaning",
		TotalCents:  30000,
		SaleDate:    saleDate,
		Splits: []domain.PaymentSplit{
			{Method: domain.MethodCashPix, AmountCents: 30000, InstallmentCount: 1},
		},
	}
	installments := []domain.Installment{
		{
			ID:          instID,
			SaleID:      saleID,
			ClinicID:    clinicID,
			Method:      domain.MethodCashPix,
			Sequence:    1,
			AmountCents: 30000,
			DueDate:     saleDate.AddDate(0, 0, 2),
			Status:      domain.InstallmentPending,
		},
	}
	if _, err := s.CreateSale(ctx, sale, installments); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	at := time.Now().UTC()
	updated, err := s.UpdateInstallmentStatus(ctx, instID, domain.InstallmentPaid, at)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.InstallmentPaid {
		t.Fatalf("expected paid status, got %s", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}

	// A second transition must fail: paid is terminal.
	if _, err := s.UpdateInstallmentStatus(ctx, instID, domain.InstallmentOverdue, at); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord on second transition, got %v", err)
	}
}
