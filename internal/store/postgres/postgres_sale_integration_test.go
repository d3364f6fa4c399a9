package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kiranapos/backend/internal/domain"
	"kiranapos/backend/internal/store"
)

func TestRecordSaleLocksAndDecrementsStock(t *testing.T) {
	databaseURL := os.Getenv("KIRANAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KIRANAPOS_TEST_DATABASE_URL to run postgres integration test")
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
	productID := fmt.Sprintf("p-sale-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, hsn, price, gst_pct, stock)
		VALUES ($1, 'Integration Cola 250ml', '2202', 41.00, 12.00, 2)
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	sale, err := s.RecordSale(ctx, domain.Sale{
		ID:        fmt.Sprintf("sale-it-%d", stamp),
		Date:      time.Now().UTC(),
		Counter:   1,
		StaffID:   "u-c1",
		StaffName: "Counter 1",
		ProductID: productID,
		Qty:       2,
		Discount:  decimal.RequireFromString("5.00"),
		Mode:      domain.ModeCash,
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if got := sale.Taxable.StringFixed(2); got != "77.00" {
		t.Fatalf("expected taxable 77.00, got %s", got)
	}
	if got := sale.Total.StringFixed(2); got != "86.24" {
		t.Fatalf("expected total 86.24, got %s", got)
	}
	if sale.Snapshot.Name != "Integration Cola 250ml" {
		t.Fatalf("expected snapshot captured, got %+v", sale.Snapshot)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1
	`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 0 {
		t.Fatalf("expected stock 0 after sale, got %d", stock)
	}

	// The row is exhausted now; another unit must be rejected without
	// writing anything.
	_, err = s.RecordSale(ctx, domain.Sale{
		ProductID: productID,
		Qty:       1,
		Discount:  decimal.Zero,
		Mode:      domain.ModeCash,
		StaffID:   "u-c1",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var saleCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM sales WHERE product_id = $1
	`, productID).Scan(&saleCount); err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if saleCount != 1 {
		t.Fatalf("expected exactly 1 persisted sale, got %d", saleCount)
	}
}
