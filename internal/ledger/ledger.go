// Package ledger owns product stock. Decrement is the only code path that
// writes producto.stock.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

var tracer = otel.Tracer("pos.ledger")

// casAttempts bounds compare-and-swap retries of one decrement.
const casAttempts = 3

// Ledger reads and decrements stock through a datastore.Store.
type Ledger struct {
	store   ds.Store
	metrics *obs.Metrics
	cas     bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics sets the collectors decrements are counted on.
func WithMetrics(m *obs.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithCAS makes Decrement write only if stock is still the value it read,
// retrying on a lost race. Without it a concurrent decrement of the same
// product can be lost.
func WithCAS(enabled bool) Option { return func(l *Ledger) { l.cas = enabled } }

func New(store ds.Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = obs.NewMetrics(nil)
	}
	return l
}

// Product loads one product of the org. A product of another org is not
// found.
func (l *Ledger) Product(ctx context.Context, orgID, productID string) (model.Product, error) {
	if orgID == "" {
		return model.Product{}, apperr.Validation("organization is required")
	}
	if productID == "" {
		return model.Product{}, apperr.Validation("product id is required")
	}
	rows, err := l.store.Select(ctx, ds.TableProduct, ds.Query{
		Filters: []ds.Filter{ds.Eq(ds.ColID, productID), ds.Eq(ds.ColOrgID, orgID)},
		Limit:   1,
	})
	if err != nil {
		return model.Product{}, err
	}
	if len(rows) == 0 {
		return model.Product{}, apperr.NotFound("product", productID)
	}
	return ProductFromRow(rows[0]), nil
}

// Read returns the current stock of a product.
func (l *Ledger) Read(ctx context.Context, orgID, productID string) (int64, error) {
	p, err := l.Product(ctx, orgID, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

// Decrement is the outcome of one stock decrement.
type Decrement struct {
	ProductID string `json:"product_id"`
	Previous  int64  `json:"previous"`
	Requested int64  `json:"requested"`
	New       int64  `json:"new"`
	// Overdraft is set when more was requested than was available. The stock
	// is clamped at zero rather than rejected.
	Overdraft bool `json:"overdraft"`
}

// Decrement lowers the stock of the org's productID by quantity, clamping at
// zero.
func (l *Ledger) Decrement(ctx context.Context, orgID, productID string, quantity int64) (Decrement, error) {
	ctx, span := tracer.Start(ctx, "ledger.Decrement",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("product.id", productID),
			attribute.Int64("stock.requested", quantity),
		),
	)
	defer span.End()

	d, err := l.decrement(ctx, orgID, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decrement{}, err
	}
	span.SetAttributes(
		attribute.Int64("stock.previous", d.Previous),
		attribute.Int64("stock.new", d.New),
		attribute.Bool("stock.overdraft", d.Overdraft),
	)
	l.metrics.StockDecrementsTotal.Inc()
	if d.Overdraft {
		l.metrics.StockOverdraftsTotal.Inc()
		obs.Logger.Warn("stock_overdraft", "product_id", productID,
			"previous", d.Previous, "requested", quantity)
	}
	return d, nil
}

func (l *Ledger) decrement(ctx context.Context, orgID, productID string, quantity int64) (Decrement, error) {
	if quantity <= 0 {
		return Decrement{}, apperr.Validation("quantity must be positive, got %d", quantity)
	}
	attempts := 1
	if l.cas {
		attempts = casAttempts
	}
	for i := 0; i < attempts; i++ {
		prev, err := l.Read(ctx, orgID, productID)
		if err != nil {
			return Decrement{}, err
		}
		d := clamp(productID, prev, quantity)
		filters := []ds.Filter{ds.Eq(ds.ColID, productID), ds.Eq(ds.ColOrgID, orgID)}
		if l.cas {
			filters = append(filters, ds.Eq(ds.ColProductStock, prev))
		}
		n, err := l.store.Update(ctx, ds.TableProduct, filters, ds.Row{ds.ColProductStock: d.New})
		if err != nil {
			return Decrement{}, err
		}
		if n > 0 {
			return d, nil
		}
		if !l.cas {
			return Decrement{}, apperr.NotFound("product", productID)
		}
		l.metrics.StockConflictsTotal.Inc()
		obs.Logger.Debug("stock_cas_retry", "product_id", productID, "attempt", i+1)
	}
	// A vanished product surfaces as not found on the next read; anything
	// else lost every race.
	if _, err := l.Read(ctx, orgID, productID); err != nil {
		return Decrement{}, err
	}
	return Decrement{}, fmt.Errorf("%w: stock of product %s changed during %d attempts",
		apperr.ErrConflict, productID, attempts)
}

func clamp(productID string, prev, quantity int64) Decrement {
	next := prev - quantity
	if next < 0 {
		next = 0
	}
	return Decrement{
		ProductID: productID,
		Previous:  prev,
		Requested: quantity,
		New:       next,
		Overdraft: quantity > prev,
	}
}

// Reasons a line fails the stock pre-check.
const (
	ReasonNotFound     = "not_found"
	ReasonOutOfStock   = "out_of_stock"
	ReasonInsufficient = "insufficient"
)

// Availability is the pre-check result of one product.
type Availability struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
}

// Check reports whether the org has enough stock for lines. Quantities of
// repeated products are summed. It is advisory: stock may change before the
// sale commits.
func (l *Ledger) Check(ctx context.Context, orgID string, lines []model.CartLine) ([]Availability, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization is required")
	}
	var order []string
	requested := map[string]int64{}
	for _, ln := range lines {
		if _, seen := requested[ln.ProductID]; !seen {
			order = append(order, ln.ProductID)
		}
		requested[ln.ProductID] += ln.Quantity
	}
	out := make([]Availability, 0, len(order))
	for _, id := range order {
		a := Availability{ProductID: id, Requested: requested[id]}
		rows, err := l.store.Select(ctx, ds.TableProduct, ds.Query{
			Filters: []ds.Filter{ds.Eq(ds.ColID, id), ds.Eq(ds.ColOrgID, orgID)},
			Limit:   1,
		})
		if err != nil {
			return nil, err
		}
		switch {
		case len(rows) == 0:
			a.Reason = ReasonNotFound
			a.Message = "product not found in inventory"
		default:
			a.Available = rows[0].Int64(ds.ColProductStock)
			switch {
			case a.Available <= 0:
				a.Reason = ReasonOutOfStock
				a.Message = "product is out of stock"
			case a.Requested > a.Available:
				a.Reason = ReasonInsufficient
				a.Message = fmt.Sprintf("insufficient stock, available: %d", a.Available)
			default:
				a.OK = true
				a.Message = "stock available"
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Levels returns the stock of every active product of the org, least stock
// first.
func (l *Ledger) Levels(ctx context.Context, orgID string) ([]model.ProductLevel, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization is required")
	}
	rows, err := l.store.Select(ctx, ds.TableProduct, ds.Where(ds.Eq(ds.ColOrgID, orgID)))
	if err != nil {
		return nil, err
	}
	levels := make([]model.ProductLevel, 0, len(rows))
	for _, r := range rows {
		if !r.Bool(ds.ColProductActive) {
			continue
		}
		p := ProductFromRow(r)
		levels = append(levels, model.ProductLevel{ID: p.ID, Name: p.Name, Code: p.Code, Stock: p.Stock})
	}
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Stock != levels[j].Stock {
			return levels[i].Stock < levels[j].Stock
		}
		return strings.ToLower(levels[i].Name) < strings.ToLower(levels[j].Name)
	})
	return levels, nil
}

// ProductFromRow maps a producto row.
func ProductFromRow(r ds.Row) model.Product {
	return model.Product{
		ID:     r.String(ds.ColID),
		Code:   r.String(ds.ColProductCode),
		Name:   r.String(ds.ColProductName),
		Price:  r.Decimal(ds.ColProductPrice),
		Stock:  r.Int64(ds.ColProductStock),
		Active: r.Bool(ds.ColProductActive),
		OrgID:  r.String(ds.ColOrgID),
	}
}
