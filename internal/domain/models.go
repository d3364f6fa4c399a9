package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	ModeCash = "Cash"
	ModeCard = "Card"
	ModeUPI  = "UPI"
)

// ValidMode reports whether mode is one of the accepted payment modes.
func ValidMode(mode string) bool {
	return mode == ModeCash || mode == ModeCard || mode == ModeUPI
}

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	HSN            string          `json:"hsn"`
	Price          decimal.Decimal `json:"price"`
	TaxRatePercent decimal.Decimal `json:"gstPct"`
	Stock          int             `json:"stock"`
}

type ProductCreateRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	HSN            string          `json:"hsn"`
	Price          decimal.Decimal `json:"price"`
	TaxRatePercent decimal.Decimal `json:"gstPct"`
	Stock          int             `json:"stock"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	HSN            *string          `json:"hsn,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	TaxRatePercent *decimal.Decimal `json:"gstPct,omitempty"`
	Stock          *int             `json:"stock,omitempty"`
}

// ProductSnapshot is the frozen copy of product fields embedded in a sale at
// creation time. It is never re-derived, so later catalog edits do not
// rewrite sale history.
type ProductSnapshot struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	TaxRatePercent decimal.Decimal `json:"gstPct"`
}

type Sale struct {
	ID        string          `json:"id"`
	Date      time.Time       `json:"date"`
	Counter   int             `json:"counter"`
	StaffID   string          `json:"staffId"`
	StaffName string          `json:"staff"`
	ProductID string          `json:"productId"`
	Qty       int             `json:"qty"`
	Discount  decimal.Decimal `json:"discount"`
	Taxable   decimal.Decimal `json:"taxable"`
	Tax       decimal.Decimal `json:"gst"`
	Total     decimal.Decimal `json:"total"`
	Mode      string          `json:"mode"`
	Snapshot  ProductSnapshot `json:"product_snapshot"`
	// Product is the live catalog row joined in at read time; the snapshot
	// above stays frozen at sale time.
	Product *Product `json:"product,omitempty"`
}

type SaleCreateRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	// Discount arrives as a string so malformed input can be rejected before
	// any stock read. Empty means zero.
	Discount string `json:"discount"`
	Mode     string `json:"mode"`
}

// Actor is the authenticated principal attached to a request context.
type Actor struct {
	Username string
	Name     string
	Role     string
	Counter  int
}

func (a Actor) ID() string {
	return "u-" + a.Username
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsStaffOrAdmin() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// UserAccount is the persistence model for staff credentials and identity.
type UserAccount struct {
	Username  string
	Name      string
	Password  string
	Role      string
	Counter   int
	Active    bool
	CreatedAt time.Time
}

type StaffUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Counter  int    `json:"counter"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   string    `json:"expires_at"`
	User        StaffUser `json:"user"`
}

type RegisterStaffRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Counter  int    `json:"counter"`
}

// DailyReportRow is one exported line of the daily sales report, flattened
// for transport. Decimal fields render as numeric strings.
type DailyReportRow struct {
	Date     time.Time       `json:"date"`
	Counter  int             `json:"counter"`
	Staff    string          `json:"staff"`
	Product  string          `json:"product"`
	Qty      int             `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
	Taxable  decimal.Decimal `json:"taxable"`
	Tax      decimal.Decimal `json:"gst"`
	Total    decimal.Decimal `json:"total"`
}

type DailyReport struct {
	Date string           `json:"date"`
	Rows []DailyReportRow `json:"rows"`
}
