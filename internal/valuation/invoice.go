package valuation

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// InvoiceLine is one supplier-invoice row: the strongest cost evidence the
// cascade can cite.
type InvoiceLine struct {
	SKU      string
	ASIN     string
	UnitCost float64
	Currency string
	Quantity int
}

// InvoiceIndex resolves a unit cost by SKU first, ASIN second.
type InvoiceIndex struct {
	bySKU  map[string]InvoiceLine
	byASIN map[string]InvoiceLine
}

// Lookup returns the invoice line for a SKU/ASIN pair, SKU taking
// precedence.
func (idx *InvoiceIndex) Lookup(sku, asin string) (InvoiceLine, bool) {
	if idx == nil {
		return InvoiceLine{}, false
	}
	if line, ok := idx.bySKU[strings.ToUpper(sku)]; ok && sku != "" {
		return line, true
	}
	if line, ok := idx.byASIN[strings.ToUpper(asin)]; ok && asin != "" {
		return line, true
	}
	return InvoiceLine{}, false
}

// Len reports how many distinct SKUs the index covers.
func (idx *InvoiceIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.bySKU)
}

// LoadInvoiceWorkbook parses a supplier invoice xlsx into an index. The
// first sheet is scanned for a header row naming at least a SKU column and
// a unit cost column; rows that fail to parse are logged and skipped
// rather than failing the whole workbook.
func LoadInvoiceWorkbook(path string) (*InvoiceIndex, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: open invoice workbook %s", path)
	}
	if len(file.Sheets) == 0 {
		return nil, eris.Errorf("valuation: invoice workbook %s has no sheets", path)
	}

	sheet := file.Sheets[0]
	cols, headerRow, err := invoiceColumns(sheet)
	if err != nil {
		return nil, err
	}

	idx := &InvoiceIndex{
		bySKU:  make(map[string]InvoiceLine),
		byASIN: make(map[string]InvoiceLine),
	}

	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		line, ok := parseInvoiceRow(row, cols)
		if !ok {
			continue
		}
		if line.UnitCost <= 0 {
			zap.L().Debug("skipping invoice row without positive unit cost",
				zap.Int("row", i),
				zap.String("sku", line.SKU))
			continue
		}
		if line.SKU != "" {
			idx.bySKU[strings.ToUpper(line.SKU)] = line
		}
		if line.ASIN != "" {
			idx.byASIN[strings.ToUpper(line.ASIN)] = line
		}
	}

	zap.L().Info("loaded invoice workbook",
		zap.String("path", path),
		zap.Int("skus", idx.Len()))
	return idx, nil
}

// invoiceColumn positions within the sheet; -1 means absent.
type invoiceColumnMap struct {
	sku      int
	asin     int
	unitCost int
	currency int
	quantity int
}

// invoiceColumns scans the first few rows for a header naming the columns
// we care about. Supplier exports vary, so matching is loose.
func invoiceColumns(sheet *xlsx.Sheet) (invoiceColumnMap, int, error) {
	limit := len(sheet.Rows)
	if limit > 10 {
		limit = 10
	}
	for r := 0; r < limit; r++ {
		cols := invoiceColumnMap{sku: -1, asin: -1, unitCost: -1, currency: -1, quantity: -1}
		for c, cell := range sheet.Rows[r].Cells {
			header := strings.ToLower(strings.TrimSpace(cell.String()))
			switch {
			case header == "sku" || header == "seller sku" || header == "merchant sku":
				cols.sku = c
			case header == "asin":
				cols.asin = c
			case strings.Contains(header, "unit cost") || strings.Contains(header, "unit price") || header == "cost":
				cols.unitCost = c
			case header == "currency":
				cols.currency = c
			case header == "qty" || header == "quantity" || header == "units":
				cols.quantity = c
			}
		}
		if cols.sku >= 0 && cols.unitCost >= 0 {
			return cols, r, nil
		}
	}
	return invoiceColumnMap{}, 0, eris.New("valuation: no header row with sku and unit cost columns")
}

func parseInvoiceRow(row *xlsx.Row, cols invoiceColumnMap) (InvoiceLine, bool) {
	line := InvoiceLine{Currency: "USD"}
	line.SKU = cellAt(row, cols.sku)
	line.ASIN = cellAt(row, cols.asin)
	if line.SKU == "" && line.ASIN == "" {
		return InvoiceLine{}, false
	}

	cost, err := parseMoney(cellAt(row, cols.unitCost))
	if err != nil {
		return InvoiceLine{}, false
	}
	line.UnitCost = cost

	if cur := cellAt(row, cols.currency); cur != "" {
		line.Currency = strings.ToUpper(cur)
	}
	if qty := cellAt(row, cols.quantity); qty != "" {
		if n, err := strconv.Atoi(qty); err == nil {
			line.Quantity = n
		}
	}
	return line, true
}

func cellAt(row *xlsx.Row, col int) string {
	if col < 0 || col >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[col].String())
}

// parseMoney accepts "12.50", "$12.50", "1,250.00".
func parseMoney(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, eris.New("valuation: empty money cell")
	}
	return strconv.ParseFloat(cleaned, 64)
}
