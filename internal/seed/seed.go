// Package seed loads a YAML catalog of products and customers into a store.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

// Catalog is the document format.
//
//	org_id: shop-1
//	products:
//	  - code: MILK
//	    name: Milk 1L
//	    price: "1.20"
//	    stock: 40
//	customers:
//	  - name: Ana
type Catalog struct {
	OrgID     string     `yaml:"org_id"`
	Products  []Product  `yaml:"products"`
	Customers []Customer `yaml:"customers"`
}

type Product struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Price  string `yaml:"price"`
	Stock  int64  `yaml:"stock"`
	Active *bool  `yaml:"active"`
}

type Customer struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
}

// Result counts what Apply wrote.
type Result struct {
	ProductsInserted  int `json:"products_inserted"`
	ProductsUpdated   int `json:"products_updated"`
	CustomersInserted int `json:"customers_inserted"`
	CustomersSkipped  int `json:"customers_skipped"`
}

// Parse decodes and validates a catalog. An empty org_id takes defaultOrg.
func Parse(r io.Reader, defaultOrg string) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Catalog{}, apperr.Validation("decode catalog: %v", err)
	}
	if c.OrgID == "" {
		c.OrgID = defaultOrg
	}
	if c.OrgID == "" {
		return Catalog{}, apperr.Validation("catalog has no org_id")
	}
	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		switch {
		case p.Code == "":
			return Catalog{}, apperr.Validation("products[%d].code is required", i)
		case p.Name == "":
			return Catalog{}, apperr.Validation("products[%d].name is required", i)
		case p.Stock < 0:
			return Catalog{}, apperr.Validation("products[%d].stock must not be negative", i)
		case seen[p.Code]:
			return Catalog{}, apperr.Validation("products[%d].code %q is repeated", i, p.Code)
		}
		seen[p.Code] = true
		if _, err := p.price(); err != nil {
			return Catalog{}, apperr.Validation("products[%d].price: %v", i, err)
		}
	}
	for i, cu := range c.Customers {
		if cu.Name == "" {
			return Catalog{}, apperr.Validation("customers[%d].name is required", i)
		}
	}
	return c, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path, defaultOrg string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f, defaultOrg)
}

func (p Product) price() (decimal.Decimal, error) {
	if p.Price == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func (p Product) active() bool { return p.Active == nil || *p.Active }

// Apply upserts products by (org, code) and inserts customers not already
// present by id or name.
func Apply(ctx context.Context, store ds.Store, c Catalog) (Result, error) {
	var res Result
	for _, p := range c.Products {
		price, _ := p.price()
		existing, err := store.Select(ctx, ds.TableProduct, ds.Where(
			ds.Eq(ds.ColOrgID, c.OrgID), ds.Eq(ds.ColProductCode, p.Code)))
		if err != nil {
			return res, apperr.Persistence("select product", err)
		}
		fields := ds.Row{
			ds.ColProductName:   p.Name,
			ds.ColProductPrice:  price,
			ds.ColProductStock:  p.Stock,
			ds.ColProductActive: p.active(),
		}
		if len(existing) > 0 {
			if _, err := store.Update(ctx, ds.TableProduct, []ds.Filter{ds.Eq(ds.ColID, existing[0].String(ds.ColID))}, fields); err != nil {
				return res, apperr.Persistence("update product", err)
			}
			res.ProductsUpdated++
			continue
		}
		fields[ds.ColProductCode] = p.Code
		fields[ds.ColOrgID] = c.OrgID
		if _, err := store.Insert(ctx, ds.TableProduct, fields); err != nil {
			return res, apperr.Persistence("insert product", err)
		}
		res.ProductsInserted++
	}
	for _, cu := range c.Customers {
		key := ds.Eq(ds.ColCustomerName, cu.Name)
		if cu.ID != "" {
			key = ds.Eq(ds.ColID, cu.ID)
		}
		existing, err := store.Select(ctx, ds.TableCustomer, ds.Where(ds.Eq(ds.ColOrgID, c.OrgID), key))
		if err != nil {
			return res, apperr.Persistence("select customer", err)
		}
		if len(existing) > 0 {
			res.CustomersSkipped++
			continue
		}
		row := ds.Row{ds.ColCustomerName: cu.Name, ds.ColOrgID: c.OrgID}
		if cu.ID != "" {
			row[ds.ColID] = cu.ID
		}
		if cu.Email != "" {
			row["email"] = cu.Email
		}
		if cu.Phone != "" {
			row["telefono"] = cu.Phone
		}
		if _, err := store.Insert(ctx, ds.TableCustomer, row); err != nil {
			return res, apperr.Persistence("insert customer", err)
		}
		res.CustomersInserted++
	}
	obs.Logger.Info("catalog_seeded", "org_id", c.OrgID,
		"products_inserted", res.ProductsInserted, "products_updated", res.ProductsUpdated,
		"customers_inserted", res.CustomersInserted)
	return res, nil
}
