// Package sales commits carts as sales and drives the resulting stock
// decrements.
//
// A commit is three sequential steps against a store without multi-statement
// transactions: the sale header, its lines in one batch, then one stock
// decrement per line. A failed line batch is compensated by deleting the
// header. Stock failures after that point never undo the sale; they are
// reported per line.
package sales

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

var tracer = otel.Tracer("pos.sales")

// Commit outcome labels.
const (
	statusCommitted    = "committed"
	statusRejected     = "rejected"
	statusRolledBack   = "rolled_back"
	statusInconsistent = "inconsistent"
)

// Coordinator commits sales.
type Coordinator struct {
	store   ds.Store
	ledger  *ledger.Ledger
	metrics *obs.Metrics
}

// New returns a Coordinator. A nil metrics gets a private instance.
func New(store ds.Store, l *ledger.Ledger, m *obs.Metrics) *Coordinator {
	if m == nil {
		m = obs.NewMetrics(nil)
	}
	return &Coordinator{store: store, ledger: l, metrics: m}
}

// LineStock reports the stock update of one sale line.
type LineStock struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Updated   bool   `json:"updated"`
	Previous  int64  `json:"previous"`
	New       int64  `json:"new"`
	Overdraft bool   `json:"overdraft"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Receipt is a committed sale with its per-line stock report.
type Receipt struct {
	Sale  model.Sale       `json:"sale"`
	Lines []model.SaleLine `json:"lines"`
	Stock []LineStock      `json:"stock_report"`
}

// StockFailures returns the lines whose stock could not be updated.
func (r *Receipt) StockFailures() []LineStock {
	var out []LineStock
	for _, ls := range r.Stock {
		if !ls.Updated {
			out = append(out, ls)
		}
	}
	return out
}

// Overdrafts returns the lines that sold more than was in stock.
func (r *Receipt) Overdrafts() []LineStock {
	var out []LineStock
	for _, ls := range r.Stock {
		if ls.Overdraft {
			out = append(out, ls)
		}
	}
	return out
}

// Total sums quantity × unit price over lines.
func Total(lines []model.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	}
	return total
}

// Commit persists a sale for orgID and decrements stock for each line. A nil
// customerID is a walk-in sale.
//
// The returned error is a validation or not-found error when nothing was
// written, a persistence or timeout error when the header or lines were
// rejected (and rolled back), or an *apperr.InconsistencyError when the
// rollback itself failed. Stock failures are reported in the Receipt.
func (c *Coordinator) Commit(ctx context.Context, orgID string, customerID *string, lines []model.CartLine) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "sales.Commit",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.Int("sale.lines", len(lines)),
		),
	)
	defer span.End()

	rcpt, status, err := c.commit(ctx, orgID, customerID, lines)
	c.metrics.SalesTotal.WithLabelValues(status).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("sale.id", rcpt.Sale.ID),
		attribute.Int("sale.stock_failures", len(rcpt.StockFailures())),
	)
	return rcpt, nil
}

func (c *Coordinator) commit(ctx context.Context, orgID string, customerID *string, lines []model.CartLine) (*Receipt, string, error) {
	if err := validateInput(commitInput{OrgID: orgID, Lines: lines}); err != nil {
		return nil, statusRejected, err
	}
	if customerID != nil {
		if err := c.checkCustomer(ctx, orgID, *customerID); err != nil {
			return nil, statusRejected, err
		}
	}
	if err := c.checkProducts(ctx, orgID, lines); err != nil {
		return nil, statusRejected, err
	}

	total := Total(lines)
	header := ds.Row{ds.ColOrgID: orgID, ds.ColSaleTotal: total, ds.ColSaleCustomerID: nil}
	if customerID != nil {
		header[ds.ColSaleCustomerID] = *customerID
	}
	saved, err := c.store.Insert(ctx, ds.TableSale, header)
	if err != nil {
		obs.Logger.Error("sale_insert_failed", "org_id", orgID, "error", err)
		return nil, statusRejected, apperr.Persistence("insert sale", err)
	}
	sale := SaleFromRow(saved)

	saleLines := make([]model.SaleLine, len(lines))
	rows := make([]ds.Row, len(lines))
	for i, l := range lines {
		saleLines[i] = model.SaleLine{SaleID: sale.ID, ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		rows[i] = ds.Row{
			ds.ColLineSaleID:    sale.ID,
			ds.ColLineProductID: l.ProductID,
			ds.ColLineQuantity:  l.Quantity,
			ds.ColLineUnitPrice: l.UnitPrice,
		}
	}
	if err := c.store.InsertMany(ctx, ds.TableSaleLine, rows); err != nil {
		status, cerr := c.compensate(ctx, sale.ID, err)
		return nil, status, cerr
	}
	c.metrics.SaleLinesTotal.Add(float64(len(lines)))

	rcpt := &Receipt{Sale: sale, Lines: saleLines, Stock: make([]LineStock, 0, len(lines))}
	for _, l := range lines {
		rcpt.Stock = append(rcpt.Stock, c.decrement(ctx, orgID, sale.ID, l))
	}
	obs.Logger.Info("sale_committed",
		"sale_id", sale.ID,
		"org_id", orgID,
		"total", total.String(),
		"lines", len(lines),
		"stock_failures", len(rcpt.StockFailures()),
		"overdrafts", len(rcpt.Overdrafts()),
	)
	return rcpt, statusCommitted, nil
}

// compensate deletes the header of a sale whose lines were rejected and
// returns the commit status and error.
func (c *Coordinator) compensate(ctx context.Context, saleID string, cause error) (string, error) {
	obs.Logger.Warn("sale_lines_insert_failed", "sale_id", saleID, "error", cause)
	// The caller's deadline may be what failed the lines; the delete gets its own.
	dctx := context.WithoutCancel(ctx)
	n, err := c.store.Delete(dctx, ds.TableSale, []ds.Filter{ds.Eq(ds.ColID, saleID)})
	if err == nil && n == 0 {
		err = errors.New("sale header not deleted")
	}
	if err != nil {
		inc := &apperr.InconsistencyError{SaleID: saleID, Action: "delete sale header", Cause: errors.Join(cause, err)}
		obs.Logger.Error("sale_orphaned", "sale_id", saleID, "lines_error", cause, "delete_error", err)
		return statusInconsistent, inc
	}
	obs.Logger.Info("sale_rolled_back", "sale_id", saleID)
	if errors.Is(cause, apperr.ErrTimeout) {
		return statusRolledBack, apperr.Timeout("insert sale lines (rolled back)", cause)
	}
	return statusRolledBack, apperr.Persistence("insert sale lines (rolled back)", cause)
}

func (c *Coordinator) decrement(ctx context.Context, orgID, saleID string, l model.CartLine) LineStock {
	ls := LineStock{ProductID: l.ProductID, Quantity: l.Quantity}
	d, err := c.ledger.Decrement(ctx, orgID, l.ProductID, l.Quantity)
	if err != nil {
		ls.Error = err.Error()
		ls.ErrorKind = apperr.Kind(err)
		c.metrics.StockUpdateFailuresTotal.Inc()
		obs.Logger.Error("stock_update_failed", "sale_id", saleID, "product_id", l.ProductID,
			"quantity", l.Quantity, "error", err)
		return ls
	}
	ls.Updated = true
	ls.Previous = d.Previous
	ls.New = d.New
	ls.Overdraft = d.Overdraft
	return ls
}

func (c *Coordinator) checkCustomer(ctx context.Context, orgID, customerID string) error {
	rows, err := c.store.Select(ctx, ds.TableCustomer, ds.Query{
		Filters: []ds.Filter{ds.Eq(ds.ColID, customerID), ds.Eq(ds.ColOrgID, orgID)},
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.NotFound("customer", customerID)
	}
	return nil
}

// checkProducts rejects lines naming a product the org does not have.
func (c *Coordinator) checkProducts(ctx context.Context, orgID string, lines []model.CartLine) error {
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if seen[l.ProductID] {
			continue
		}
		seen[l.ProductID] = true
		if _, err := c.ledger.Product(ctx, orgID, l.ProductID); err != nil {
			return err
		}
	}
	return nil
}

// SaleFromRow maps a venta row.
func SaleFromRow(r ds.Row) model.Sale {
	return model.Sale{
		ID:         r.String(ds.ColID),
		OrgID:      r.String(ds.ColOrgID),
		CustomerID: r.OptString(ds.ColSaleCustomerID),
		Total:      r.Decimal(ds.ColSaleTotal),
		CreatedAt:  r.Time(ds.ColCreatedAt),
	}
}

// LineFromRow maps a venta_item row.
func LineFromRow(r ds.Row) model.SaleLine {
	return model.SaleLine{
		SaleID:    r.String(ds.ColLineSaleID),
		ProductID: r.String(ds.ColLineProductID),
		Quantity:  r.Int64(ds.ColLineQuantity),
		UnitPrice: r.Decimal(ds.ColLineUnitPrice),
	}
}
