package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kiranapos/backend/internal/cache"
	"kiranapos/backend/internal/domain"
	"kiranapos/backend/internal/store"
	"kiranapos/backend/internal/xid"
)

var (
	// ErrUnauthenticated means no principal is attached to the context.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the principal's role does not allow the operation.
	ErrForbidden = errors.New("forbidden role")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func requireStaffOrAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthenticated
	}
	if !actor.IsStaffOrAdmin() {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// Service is the sale ledger and its admin surface. It owns input validation
// and role policy; the repository owns the atomic lock/price/persist step.
type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 24 * time.Hour
	}
	return &Service{repo: repo, reports: reports, reportTTL: reportTTL}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, ErrUnauthenticated
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.HSN = strings.TrimSpace(req.HSN)
	if req.ID == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: id and name required", store.ErrInvalidInput)
	}
	if req.Price.IsNegative() || req.TaxRatePercent.IsNegative() || req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: price, gstPct and stock must be non-negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             req.ID,
		Name:           req.Name,
		HSN:            req.HSN,
		Price:          req.Price,
		TaxRatePercent: req.TaxRatePercent,
		Stock:          req.Stock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.HSN != nil {
		updated.HSN = strings.TrimSpace(*req.HSN)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price must be non-negative", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}
	if req.TaxRatePercent != nil {
		if req.TaxRatePercent.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: gstPct must be non-negative", store.ErrInvalidInput)
		}
		updated.TaxRatePercent = *req.TaxRatePercent
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock must be non-negative", store.ErrInvalidInput)
		}
		updated.Stock = *req.Stock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: product has recorded sales", store.ErrConflict)
		}
		return err
	}
	return nil
}

// RecordSale converts a sale request into a priced, stock-adjusted,
// immutable sale record. Validation happens before any stock read; the
// lock/check/price/persist/decrement sequence is one atomic repository call.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := requireStaffOrAdmin(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	if req.Qty < 1 {
		return domain.Sale{}, fmt.Errorf("%w: qty must be >= 1", store.ErrInvalidInput)
	}

	discount := decimal.Zero
	if raw := strings.TrimSpace(req.Discount); raw != "" {
		discount, err = decimal.NewFromString(raw)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("%w: discount must be a decimal number", store.ErrInvalidInput)
		}
		if discount.IsNegative() {
			return domain.Sale{}, fmt.Errorf("%w: discount must be non-negative", store.ErrInvalidInput)
		}
	}

	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = domain.ModeCash
	}
	if !domain.ValidMode(mode) {
		return domain.Sale{}, fmt.Errorf("%w: unknown payment mode %q", store.ErrInvalidInput, mode)
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.Sale{}, fmt.Errorf("%w: product_id required", store.ErrInvalidInput)
	}

	staffName := actor.Name
	if staffName == "" {
		staffName = actor.Username
	}

	recorded, err := s.repo.RecordSale(ctx, domain.Sale{
		ID:        xid.New("sale"),
		Date:      time.Now().UTC(),
		Counter:   actor.Counter,
		StaffID:   actor.ID(),
		StaffName: staffName,
		ProductID: productID,
		Qty:       req.Qty,
		Discount:  discount,
		Mode:      mode,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return domain.Sale{}, err
	}

	log.Printf("[ledger] sale %s product=%s qty=%d total=%s counter=%d staff=%s",
		recorded.ID, recorded.ProductID, recorded.Qty, recorded.Total, recorded.Counter, recorded.StaffID)

	s.attachProduct(ctx, recorded)
	return *recorded, nil
}

// attachProduct joins the live catalog row onto a sale for transport. The
// snapshot stays authoritative for pricing; a sale whose product row cannot
// be read simply ships without the join.
func (s *Service) attachProduct(ctx context.Context, sale *domain.Sale) {
	product, err := s.repo.GetProduct(ctx, sale.ProductID)
	if err != nil {
		return
	}
	sale.Product = product
}

func (s *Service) attachProducts(ctx context.Context, sales []domain.Sale) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for i := range sales {
		if p, ok := byID[sales[i].ProductID]; ok {
			copied := p
			sales[i].Product = &copied
		}
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: sale id required", store.ErrInvalidInput)
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachProduct(ctx, sale)
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 500
	}
	sales, err := s.repo.ListSales(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.attachProducts(ctx, sales)
	return sales, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: sale id required", store.ErrInvalidInput)
	}
	return s.repo.DeleteSale(ctx, id)
}

// DailyReport aggregates sales within the UTC day named by date
// ("2006-01-02"; empty means today). Day boundaries are UTC regardless of
// deployment locale. Reports for past days are immutable and cached.
func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DailyReport{}, err
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	day := today
	if trimmed := strings.TrimSpace(date); trimmed != "" {
		parsed, err := time.Parse("2006-01-02", trimmed)
		if err != nil {
			return domain.DailyReport{}, fmt.Errorf("%w: invalid date format, use YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed.UTC()
	}
	from := day
	to := from.Add(24 * time.Hour)
	dateKey := from.Format("2006-01-02")

	cacheable := from.Before(today)
	if cacheable {
		if cached, ok, err := s.reports.Get(ctx, dateKey); err != nil {
			log.Printf("[service] WARN: report cache get %s: %v", dateKey, err)
		} else if ok {
			return *cached, nil
		}
	}

	sales, err := s.repo.ListSalesBetween(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}

	rows := make([]domain.DailyReportRow, 0, len(sales))
	for _, sale := range sales {
		rows = append(rows, domain.DailyReportRow{
			Date:     sale.Date,
			Counter:  sale.Counter,
			Staff:    sale.StaffName,
			Product:  sale.Snapshot.Name,
			Qty:      sale.Qty,
			Price:    sale.Snapshot.Price,
			Discount: sale.Discount,
			Taxable:  sale.Taxable,
			Tax:      sale.Tax,
			Total:    sale.Total,
		})
	}

	report := domain.DailyReport{Date: dateKey, Rows: rows}
	if cacheable {
		if err := s.reports.Set(ctx, dateKey, &report, s.reportTTL); err != nil {
			log.Printf("[service] WARN: report cache set %s: %v", dateKey, err)
		}
	}
	return report, nil
}

// ListStaff returns staff accounts for the counter-assignment view.
func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, ErrUnauthenticated
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	staff := make([]domain.StaffUser, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleStaff {
			continue
		}
		name := user.Name
		if name == "" {
			name = user.Username
		}
		staff = append(staff, domain.StaffUser{
			ID:       "u-" + user.Username,
			Username: user.Username,
			Name:     name,
			Role:     user.Role,
			Counter:  user.Counter,
		})
	}
	return staff, nil
}
