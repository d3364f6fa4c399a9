package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kiranapos/backend/internal/cache"
	"kiranapos/backend/internal/domain"
	"kiranapos/backend/internal/store"
	"kiranapos/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopReportCache{}, time.Hour)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Name:     "Admin",
		Role:     domain.RoleAdmin,
	})
}

func staffCtx(counter int) context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "c1",
		Name:     "Counter 1",
		Role:     domain.RoleStaff,
		Counter:  counter,
	})
}

func TestRecordSaleComputesReferenceTotals(t *testing.T) {
	svc := newTestService()

	sale, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-apple-250",
		Qty:       2,
		Discount:  "5.00",
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	if got := sale.Taxable.StringFixed(2); got != "77.00" {
		t.Fatalf("expected taxable 77.00, got %s", got)
	}
	if got := sale.Tax.StringFixed(2); got != "9.24" {
		t.Fatalf("expected tax 9.24, got %s", got)
	}
	if got := sale.Total.StringFixed(2); got != "86.24" {
		t.Fatalf("expected total 86.24, got %s", got)
	}
	if sale.Mode != domain.ModeCash {
		t.Fatalf("expected payment mode to default to cash, got %s", sale.Mode)
	}
	if sale.Counter != 1 {
		t.Fatalf("expected counter 1 from actor, got %d", sale.Counter)
	}
	if sale.StaffID != "u-c1" {
		t.Fatalf("expected staff id u-c1, got %s", sale.StaffID)
	}

	if sale.Product == nil {
		t.Fatalf("expected live product joined onto the sale payload")
	}
	if sale.Product.Stock != 10 {
		t.Fatalf("expected joined product to show decremented stock 10, got %d", sale.Product.Stock)
	}

	product, err := svc.GetProduct(staffCtx(1), "p-apple-250")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("expected stock 12-2=10 after sale, got %d", product.Stock)
	}
}

func TestRecordedSaleStoresTaxAtTwoDecimals(t *testing.T) {
	svc := newTestService()

	price := decimal.RequireFromString("9.99")
	rate := decimal.RequireFromString("7.5")
	if _, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		ID:             "p-biscuit-100",
		Name:           "Biscuit 100g",
		Price:          price,
		TaxRatePercent: rate,
		Stock:          3,
	}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	sale, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-biscuit-100",
		Qty:       3,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	// 3 x 9.99 at 7.5%: raw tax is 2.24775; the stored record must carry it
	// rounded so taxable + tax equals total exactly.
	if got := sale.Tax.String(); got != "2.25" {
		t.Fatalf("expected stored tax 2.25, got %s", got)
	}
	if sale.Tax.Exponent() < -2 {
		t.Fatalf("stored tax %s carries more than two decimals", sale.Tax)
	}
	if got := sale.Total.StringFixed(2); got != "32.22" {
		t.Fatalf("expected total 32.22, got %s", got)
	}
	if !sale.Total.Equal(sale.Taxable.Add(sale.Tax)) {
		t.Fatalf("total %s != taxable %s + tax %s", sale.Total, sale.Taxable, sale.Tax)
	}
}

func TestListSalesJoinsLiveProduct(t *testing.T) {
	svc := newTestService()

	if _, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-mango-500",
		Qty:       2,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	newPrice := decimal.RequireFromString("120.00")
	if _, err := svc.UpdateProduct(adminCtx(), "p-mango-500", domain.ProductUpdateRequest{
		Price: &newPrice,
	}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}

	sales, err := svc.ListSales(adminCtx(), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(sales))
	}
	sale := sales[0]
	if sale.Product == nil {
		t.Fatalf("expected live product joined onto listed sale")
	}
	// The join reflects the catalog now; the snapshot stays at sale time.
	if got := sale.Product.Price.StringFixed(2); got != "120.00" {
		t.Fatalf("expected joined product price 120.00, got %s", got)
	}
	if got := sale.Snapshot.Price.StringFixed(2); got != "90.00" {
		t.Fatalf("expected snapshot price frozen at 90.00, got %s", got)
	}
}

func TestRecordSaleRejectsBadInputBeforeTouchingStock(t *testing.T) {
	svc := newTestService()

	cases := []struct {
		name string
		req  domain.SaleCreateRequest
	}{
		{"zero qty", domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 0}},
		{"negative qty", domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: -3}},
		{"negative discount", domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 1, Discount: "-2.50"}},
		{"garbage discount", domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 1, Discount: "ten"}},
		{"unknown mode", domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 1, Mode: "cheque"}},
		{"missing product id", domain.SaleCreateRequest{Qty: 1}},
	}

	for _, tc := range cases {
		_, err := svc.RecordSale(staffCtx(1), tc.req)
		if !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	product, err := svc.GetProduct(staffCtx(1), "p-apple-250")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 12 {
		t.Fatalf("expected stock untouched at 12, got %d", product.Stock)
	}
}

func TestRecordSaleUnknownProduct(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-nope",
		Qty:       1,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	svc := newTestService()

	// Seeded with zero stock.
	_, err := svc.RecordSale(staffCtx(2), domain.SaleCreateRequest{
		ProductID: "p-orange-250",
		Qty:       1,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestRecordSaleSnapshotSurvivesProductEdit(t *testing.T) {
	svc := newTestService()

	sale, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-mango-500",
		Qty:       1,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	newPrice := decimal.RequireFromString("120.00")
	newName := "Maaza 500ml (new pack)"
	if _, err := svc.UpdateProduct(adminCtx(), "p-mango-500", domain.ProductUpdateRequest{
		Name:  &newName,
		Price: &newPrice,
	}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}

	stored, err := svc.GetSale(adminCtx(), sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if got := stored.Snapshot.Price.StringFixed(2); got != "90.00" {
		t.Fatalf("expected snapshot price frozen at 90.00, got %s", got)
	}
	if stored.Snapshot.Name != "Maaza 500ml" {
		t.Fatalf("expected snapshot name frozen, got %s", stored.Snapshot.Name)
	}
	if got := stored.Total.StringFixed(2); got != "106.20" {
		t.Fatalf("expected total priced at sale time (106.20), got %s", got)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc := newTestService()

	// p-lime-100 is seeded with stock 5; race 8 single-unit sales at it.
	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
				ProductID: "p-lime-100",
				Qty:       1,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 || exhausted != 3 {
		t.Fatalf("expected exactly 5 successes and 3 stock rejections, got %d/%d", succeeded, exhausted)
	}

	product, err := svc.GetProduct(staffCtx(1), "p-lime-100")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock exactly 0, got %d", product.Stock)
	}
}

func TestDailyReportFiltersByUTCDay(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopReportCache{}, time.Hour)

	today := time.Now().UTC()
	yesterday := today.Add(-24 * time.Hour)

	// Backdate one sale to yesterday directly through the repository.
	if _, err := repo.RecordSale(context.Background(), domain.Sale{
		ID:        "sale-yesterday",
		Date:      yesterday,
		Counter:   2,
		StaffID:   "u-c2",
		StaffName: "Counter 2",
		ProductID: "p-apple-250",
		Qty:       1,
		Discount:  decimal.Zero,
		Mode:      domain.ModeCash,
	}); err != nil {
		t.Fatalf("backdated sale failed: %v", err)
	}

	if _, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-apple-250",
		Qty:       2,
		Discount:  "5.00",
		Mode:      domain.ModeUPI,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	report, err := svc.DailyReport(adminCtx(), "")
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("expected only today's sale in report, got %d rows", len(report.Rows))
	}
	row := report.Rows[0]
	if row.Product != "7 Up 250ml" {
		t.Fatalf("expected product name from snapshot, got %s", row.Product)
	}
	if got := row.Total.StringFixed(2); got != "86.24" {
		t.Fatalf("expected row total 86.24, got %s", got)
	}

	pastReport, err := svc.DailyReport(adminCtx(), yesterday.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("past daily report failed: %v", err)
	}
	if len(pastReport.Rows) != 1 {
		t.Fatalf("expected yesterday's sale in past report, got %d rows", len(pastReport.Rows))
	}
}

func TestDailyReportRejectsMalformedDate(t *testing.T) {
	svc := newTestService()

	_, err := svc.DailyReport(adminCtx(), "31-12-2025")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed date, got %v", err)
	}
}

func TestDeleteProductWithSalesConflicts(t *testing.T) {
	svc := newTestService()

	if _, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-apple-250",
		Qty:       1,
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	err := svc.DeleteProduct(adminCtx(), "p-apple-250")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict deleting a referenced product, got %v", err)
	}

	// A product with no ledger references deletes cleanly.
	if err := svc.DeleteProduct(adminCtx(), "p-orange-250"); err != nil {
		t.Fatalf("expected clean delete of unreferenced product, got %v", err)
	}
	if _, err := svc.GetProduct(adminCtx(), "p-orange-250"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product gone after delete, got %v", err)
	}
}

func TestRolePolicy(t *testing.T) {
	svc := newTestService()

	if _, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 1}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without actor, got %v", err)
	}

	if _, err := svc.ListSales(staffCtx(1), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be forbidden from the sale list, got %v", err)
	}
	if _, err := svc.DailyReport(staffCtx(1), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be forbidden from reports, got %v", err)
	}
	if _, err := svc.CreateProduct(staffCtx(1), domain.ProductCreateRequest{ID: "p-x", Name: "X"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be forbidden from product create, got %v", err)
	}
	if err := svc.DeleteSale(staffCtx(1), "sale-x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be forbidden from sale delete, got %v", err)
	}

	// Admin can record sales too (single-operator shops).
	if _, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{ProductID: "p-apple-250", Qty: 1}); err != nil {
		t.Fatalf("expected admin to record sales, got %v", err)
	}
}

func TestDeleteSaleRemovesLedgerEntry(t *testing.T) {
	svc := newTestService()

	sale, err := svc.RecordSale(staffCtx(1), domain.SaleCreateRequest{
		ProductID: "p-apple-250",
		Qty:       1,
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	if err := svc.DeleteSale(adminCtx(), sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}
	if _, err := svc.GetSale(adminCtx(), sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sale gone after delete, got %v", err)
	}
}

func TestListStaffExcludesAdmin(t *testing.T) {
	svc := newTestService()

	staff, err := svc.ListStaff(staffCtx(1))
	if err != nil {
		t.Fatalf("list staff failed: %v", err)
	}
	if len(staff) != 3 {
		t.Fatalf("expected 3 seeded counter accounts, got %d", len(staff))
	}
	for _, u := range staff {
		if u.Role != domain.RoleStaff {
			t.Fatalf("expected staff-only list, got role %s", u.Role)
		}
	}
}
