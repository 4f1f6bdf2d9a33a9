package sales

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
)

// LineDetail is a sale line with its product snapshot.
type LineDetail struct {
	model.SaleLine
	ProductName string          `json:"product_name"`
	ProductCode string          `json:"product_code"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// SaleDetail is a sale with its lines and customer name.
type SaleDetail struct {
	model.Sale
	CustomerName string       `json:"customer_name,omitempty"`
	Lines        []LineDetail `json:"lines"`
}

// HistoryFilter narrows History. Zero values do not filter.
type HistoryFilter struct {
	CustomerID string
	From       time.Time
	To         time.Time
	Limit      int
}

// CustomerStat aggregates the sales of one customer.
type CustomerStat struct {
	Customer     model.Customer  `json:"customer"`
	TotalSales   int             `json:"total_sales"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	LastPurchase *time.Time      `json:"last_purchase"`
}

// Get returns one sale of the org.
func (c *Coordinator) Get(ctx context.Context, orgID, saleID string) (*SaleDetail, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization is required")
	}
	rows, err := c.store.Select(ctx, ds.TableSale, ds.Query{
		Filters: []ds.Filter{ds.Eq(ds.ColID, saleID), ds.Eq(ds.ColOrgID, orgID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("sale", saleID)
	}
	details, err := c.details(ctx, orgID, rows)
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// History lists the org's sales, newest first.
func (c *Coordinator) History(ctx context.Context, orgID string, f HistoryFilter) ([]SaleDetail, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization is required")
	}
	q := ds.Query{
		Filters: []ds.Filter{ds.Eq(ds.ColOrgID, orgID)},
		Order:   []ds.Order{{Column: ds.ColCreatedAt, Desc: true}},
		Limit:   f.Limit,
	}
	if f.CustomerID != "" {
		q.Filters = append(q.Filters, ds.Eq(ds.ColSaleCustomerID, f.CustomerID))
	}
	if !f.From.IsZero() {
		q.Filters = append(q.Filters, ds.Gte(ds.ColCreatedAt, f.From.UTC()))
	}
	if !f.To.IsZero() {
		q.Filters = append(q.Filters, ds.Lte(ds.ColCreatedAt, f.To.UTC()))
	}
	rows, err := c.store.Select(ctx, ds.TableSale, q)
	if err != nil {
		return nil, err
	}
	return c.details(ctx, orgID, rows)
}

// CustomerStats aggregates sales per registered customer, largest total
// first. Walk-in sales and customers without sales are left out.
func (c *Coordinator) CustomerStats(ctx context.Context, orgID string) ([]CustomerStat, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization is required")
	}
	customers, err := c.customers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	rows, err := c.store.Select(ctx, ds.TableSale, ds.Query{
		Filters: []ds.Filter{ds.Eq(ds.ColOrgID, orgID)},
		Order:   []ds.Order{{Column: ds.ColCreatedAt, Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	stats := map[string]*CustomerStat{}
	for _, r := range rows {
		s := SaleFromRow(r)
		if s.CustomerID == nil {
			continue
		}
		cust, ok := customers[*s.CustomerID]
		if !ok {
			continue
		}
		st, ok := stats[cust.ID]
		if !ok {
			created := s.CreatedAt
			st = &CustomerStat{Customer: cust, TotalAmount: decimal.Zero, LastPurchase: &created}
			stats[cust.ID] = st
		}
		st.TotalSales++
		st.TotalAmount = st.TotalAmount.Add(s.Total)
	}
	out := make([]CustomerStat, 0, len(stats))
	for _, st := range stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].TotalAmount.Cmp(out[j].TotalAmount); cmp != 0 {
			return cmp > 0
		}
		return out[i].Customer.Name < out[j].Customer.Name
	})
	return out, nil
}

func (c *Coordinator) customers(ctx context.Context, orgID string) (map[string]model.Customer, error) {
	rows, err := c.store.Select(ctx, ds.TableCustomer, ds.Where(ds.Eq(ds.ColOrgID, orgID)))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Customer, len(rows))
	for _, r := range rows {
		cust := model.Customer{ID: r.String(ds.ColID), Name: r.String(ds.ColCustomerName), OrgID: r.String(ds.ColOrgID)}
		out[cust.ID] = cust
	}
	return out, nil
}

// details loads lines, products and customer names for sale rows.
func (c *Coordinator) details(ctx context.Context, orgID string, rows []ds.Row) ([]SaleDetail, error) {
	customers, err := c.customers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	products := map[string]model.Product{}
	out := make([]SaleDetail, 0, len(rows))
	for _, r := range rows {
		d := SaleDetail{Sale: SaleFromRow(r), Lines: []LineDetail{}}
		if d.CustomerID != nil {
			d.CustomerName = customers[*d.CustomerID].Name
		}
		lineRows, err := c.store.Select(ctx, ds.TableSaleLine, ds.Where(ds.Eq(ds.ColLineSaleID, d.ID)))
		if err != nil {
			return nil, err
		}
		for _, lr := range lineRows {
			line := LineFromRow(lr)
			p, ok := products[line.ProductID]
			if !ok {
				p, err = c.ledger.Product(ctx, orgID, line.ProductID)
				if err != nil && !apperr.IsNotFound(err) {
					return nil, err
				}
				products[line.ProductID] = p
			}
			d.Lines = append(d.Lines, LineDetail{
				SaleLine:    line,
				ProductName: p.Name,
				ProductCode: p.Code,
				Subtotal:    line.Subtotal(),
			})
		}
		out = append(out, d)
	}
	return out, nil
}
