package datastore

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
)

// Relations consumed by the core.
const (
	TableProduct   = "producto"
	TableSale      = "venta"
	TableSaleLine  = "venta_item"
	TableCustomer  = "cliente"
	TablePromotion = "promocion"
)

// Column names shared across relations.
const (
	ColID        = "id"
	ColOrgID     = "org_id"
	ColCreatedAt = "created_at"

	ColProductCode   = "codigo"
	ColProductName   = "nombre"
	ColProductPrice  = "precio"
	ColProductStock  = "stock"
	ColProductActive = "activo"

	ColSaleCustomerID = "cliente_id"
	ColSaleTotal      = "total"

	ColLineSaleID    = "venta_id"
	ColLineProductID = "producto_id"
	ColLineQuantity  = "cantidad"
	ColLineUnitPrice = "precio_unitario"

	ColCustomerName = "nombre"
)

// Columns lists the known columns per relation. SQL backends use it as an
// identifier allow-list.
var Columns = map[string][]string{
	TableProduct:   {ColID, ColProductCode, ColProductName, ColProductPrice, ColProductStock, ColProductActive, ColOrgID, ColCreatedAt},
	TableSale:      {ColID, ColOrgID, ColSaleCustomerID, ColSaleTotal, ColCreatedAt},
	TableSaleLine:  {ColID, ColLineSaleID, ColLineProductID, ColLineQuantity, ColLineUnitPrice},
	TableCustomer:  {ColID, ColCustomerName, ColOrgID, "email", "telefono", ColCreatedAt},
	TablePromotion: {ColID, ColOrgID, ColProductName, "descripcion", "tipo", "valor", "fecha_inicio", "fecha_fin", "activo", ColCreatedAt},
}

// HasColumn reports whether col is a known column of table.
func HasColumn(table, col string) bool {
	for _, c := range Columns[table] {
		if c == col {
			return true
		}
	}
	return false
}

// UniqueKeys lists column sets that must be unique per relation.
var UniqueKeys = map[string][][]string{
	TableProduct: {{ColOrgID, ColProductCode}},
}

// CheckColumns rejects unknown relations and columns.
func CheckColumns(table string, cols ...string) error {
	if _, ok := Columns[table]; !ok {
		return apperr.Validation("unknown table %q", table)
	}
	for _, c := range cols {
		if !HasColumn(table, c) {
			return apperr.Validation("unknown column %q on %s", c, table)
		}
	}
	return nil
}

// Columns returns the column names referenced by q.
func (q Query) Columns() []string {
	cols := make([]string, 0, len(q.Filters)+len(q.Order))
	for _, f := range q.Filters {
		cols = append(cols, f.Column)
	}
	for _, o := range q.Order {
		cols = append(cols, o.Column)
	}
	return cols
}

// RowColumns returns the keys of r.
func RowColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	return cols
}

// WithDefaults fills id and created_at when the relation has them and the row
// does not.
func WithDefaults(table string, r Row, id string, now time.Time) Row {
	out := r.Clone()
	if v, ok := out[ColID]; !ok || v == nil || v == "" {
		out[ColID] = id
	}
	if HasColumn(table, ColCreatedAt) {
		if v, ok := out[ColCreatedAt]; !ok || v == nil {
			out[ColCreatedAt] = now.UTC()
		}
	}
	return out
}

// CheckUnique returns apperr.ErrConstraint when candidate collides with an
// existing row on one of the relation's unique keys. Rows sharing skipID are
// ignored so updates do not collide with themselves.
func CheckUnique(table string, existing []Row, candidate Row, skipID string) error {
	for _, key := range UniqueKeys[table] {
		for _, r := range existing {
			if skipID != "" && r.String(ColID) == skipID {
				continue
			}
			same := true
			for _, col := range key {
				c, ok := Compare(r[col], candidate[col])
				if !ok || c != 0 {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: duplicate %v on %s", apperr.ErrConstraint, key, table)
			}
		}
	}
	return nil
}
