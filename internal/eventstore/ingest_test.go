package eventstore

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockIngestor(t *testing.T) (*Ingestor, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewIngestor(mock), mock
}

func TestIngest_UnknownKind(t *testing.T) {
	ing, _ := newMockIngestor(t)

	_, err := ing.Ingest(context.Background(), "bogus", strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown report kind "bogus"`)
}

func TestIngest_Returns_CopiesRows(t *testing.T) {
	ing, mock := newMockIngestor(t)

	report := strings.Join([]string{
		`{"seller_id":"S1","order_id":"O1","sku":"SKU-A","return_date":"2026-07-01T00:00:00Z","quantity":1,"status":"received","tracking_confirmed":true}`,
		``,
		`{"seller_id":"S1","order_id":"O2","sku":"SKU-B","return_date":"2026-07-02T00:00:00Z","quantity":2,"status":"in_transit","restocking_fee":3.5}`,
	}, "\n")

	cols := []string{"seller_id", "order_id", "sku", "return_date", "quantity", "status", "condition", "tracking_confirmed", "restocking_fee", "condition_documented"}
	mock.ExpectCopyFrom(pgx.Identifier{"returns"}, cols).WillReturnResult(2)

	n, err := ing.Ingest(context.Background(), KindReturns, strings.NewReader(report))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_Orders_Upserts(t *testing.T) {
	ing, mock := newMockIngestor(t)

	report := `{"seller_id":"S1","order_id":"O1","purchase_date":"2026-07-01T00:00:00Z","status":"shipped","lines":[{"sku":"SKU-A","quantity_ordered":1,"quantity_shipped":1,"unit_price":25}]}`

	cols := []string{"seller_id", "order_id", "buyer_id", "purchase_date", "currency", "status", "lines"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_orders"}, cols).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("seller_id", "order_id"\)`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := ing.Ingest(context.Background(), KindOrders, strings.NewReader(report))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_Catalog_Upserts(t *testing.T) {
	ing, mock := newMockIngestor(t)

	report := strings.Join([]string{
		`{"seller_id":"S1","sku":"SKU-A","category":"electronics","unit_cost":12.5,"weight_lb":1.2}`,
		`{"seller_id":"S1","sku":"SKU-B","unit_cost":4}`,
	}, "\n")

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_catalog_items"},
		[]string{"seller_id", "sku", "asin", "category", "unit_cost", "weight_lb", "length_in", "width_in", "height_in"}).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("seller_id", "sku"\)`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := ing.Ingest(context.Background(), KindCatalog, strings.NewReader(report))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_MalformedLine(t *testing.T) {
	ing, _ := newMockIngestor(t)

	report := `{"seller_id":"S1","order_id":"O1","purchase_date":"2026-07-01T00:00:00Z","status":"shipped"}` + "\n{not json"

	_, err := ing.Ingest(context.Background(), KindOrders, strings.NewReader(report))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDecodeLines_SkipsBlankLines(t *testing.T) {
	in := "\n\n" + `{"sku":"A"}` + "\n\n" + `{"sku":"B"}` + "\n"

	type rec struct {
		SKU string `json:"sku"`
	}
	out, err := decodeLines[rec](strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].SKU)
	assert.Equal(t, "B", out[1].SKU)
}

func TestKinds_CoverAllTables(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 11)
	seen := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
}
