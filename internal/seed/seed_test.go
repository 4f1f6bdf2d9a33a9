package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/store"
)

const catalog = `
org_id: shop-1
products:
  - code: MILK
    name: Milk 1L
    price: "1.20"
    stock: 40
  - code: EGGS
    name: Eggs x12
    price: 3
    stock: 4
    active: false
customers:
  - id: c-1
    name: Ana
    email: ana@example.com
  - name: Luis
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(catalog), "default")
	require.NoError(t, err)
	assert.Equal(t, "shop-1", c.OrgID)
	require.Len(t, c.Products, 2)
	assert.True(t, c.Products[0].active())
	assert.False(t, c.Products[1].active())
	require.Len(t, c.Customers, 2)

	c, err = Parse(strings.NewReader("products: []\n"), "default")
	require.NoError(t, err)
	assert.Equal(t, "default", c.OrgID)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"missing code":   "products:\n  - name: x\n",
		"negative stock": "products:\n  - {code: A, name: x, stock: -1}\n",
		"bad price":      "products:\n  - {code: A, name: x, price: abc}\n",
		"negative price": "products:\n  - {code: A, name: x, price: \"-1\"}\n",
		"repeated code":  "products:\n  - {code: A, name: x}\n  - {code: A, name: y}\n",
		"unknown field":  "prodcts: []\n",
		"customer name":  "customers:\n  - email: a@b.c\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc), "org")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	_, err := Parse(strings.NewReader("products: []\n"), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	c, err := Parse(strings.NewReader(catalog), "")
	require.NoError(t, err)

	res, err := Apply(ctx, st, c)
	require.NoError(t, err)
	assert.Equal(t, Result{ProductsInserted: 2, CustomersInserted: 2}, res)

	c.Products[0].Stock = 7
	res, err = Apply(ctx, st, c)
	require.NoError(t, err)
	assert.Equal(t, Result{ProductsUpdated: 2, CustomersSkipped: 2}, res)

	rows, err := st.Select(ctx, ds.TableProduct, ds.Where(ds.Eq(ds.ColProductCode, "MILK")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 7, rows[0].Int64(ds.ColProductStock))
	assert.Equal(t, "1.2", rows[0].Decimal(ds.ColProductPrice).String())

	cust, err := st.Select(ctx, ds.TableCustomer, ds.Where(ds.Eq(ds.ColID, "c-1")))
	require.NoError(t, err)
	require.Len(t, cust, 1)
	assert.Equal(t, "Ana", cust[0].String(ds.ColCustomerName))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))
	c, err := LoadFile(path, "")
	require.NoError(t, err)
	assert.Len(t, c.Products, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}
