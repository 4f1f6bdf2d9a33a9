// Package model defines domain types used by the service.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry of an organization.
type Product struct {
	ID     string          `json:"id"`
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int64           `json:"stock"`
	Active bool            `json:"active"`
	OrgID  string          `json:"org_id"`
}

// Customer is only read for name lookups.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OrgID string `json:"org_id"`
}

// Sale is the persisted header of a completed sale. A nil CustomerID is a
// walk-in customer.
type Sale struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"org_id"`
	CustomerID *string         `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SaleLine is one product entry of a sale. UnitPrice is captured at sale time.
type SaleLine struct {
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns Quantity × UnitPrice.
func (l SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// CartLine is a requested line of a sale before it is committed.
type CartLine struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// Severity classifies how urgent a stock alert is.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityCritical Severity = "critical"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities from most (0) to least urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityLow:
		return 1
	case SeverityWarning:
		return 2
	default:
		return 3
	}
}

// ProductLevel is the stock snapshot of one product fed into alert evaluation.
type ProductLevel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Stock int64  `json:"stock"`
}

// StockAlert is an active low-stock alert. At most one exists per product.
type StockAlert struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	ProductCode string    `json:"product_code"`
	Stock       int64     `json:"stock"`
	Severity    Severity  `json:"severity"`
	Threshold   int64     `json:"threshold"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snooze suppresses alert re-creation for a product until Until, unless the
// stock drifts away from Stock.
type Snooze struct {
	ProductID string    `json:"product_id"`
	Until     time.Time `json:"until"`
	Stock     int64     `json:"stock"`
}
