// Package importer receives stock from an .xlsx sheet. Each row names a
// product, its prices and one incoming batch.
package importer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/ledger"
)

// Columns is the header row of an import sheet, in template order.
var Columns = []string{
	"BATCH_NUMBER",
	"NAME",
	"STOCK_QUANTITY",
	"BUYING_PRICE",
	"SHIPPING_COST",
	"HANDLING_COST",
	"WHOLESALE_PRICE",
	"WHOLESALE_THRESHOLD",
	"RETAIL_PRICE",
	"UNIT",
	"BIG_UNIT",
	"RELATION_OF_UNITY",
	"LOW_STOCK_THRESHOLD",
	"EXPIRY_DATE",
}

var required = []string{"NAME", "STOCK_QUANTITY", "BUYING_PRICE"}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "01-02-06", "2006/01/02"}

// Catalog is the subset of the service the importer drives.
type Catalog interface {
	ListProducts(ctx context.Context, storeID int64) ([]domain.Product, error)
	CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error)
	SetPrice(ctx context.Context, req domain.PriceSetRequest) (domain.StorePrice, error)
	ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.StockBatch, error)
}

type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

type Report struct {
	ProductsCreated int        `json:"products_created"`
	PricesSet       int        `json:"prices_set"`
	BatchesReceived int        `json:"batches_received"`
	UnitsReceived   int        `json:"units_received"`
	Failed          []RowError `json:"failed"`
}

type Importer struct {
	catalog Catalog
	logger  logrus.FieldLogger
}

func New(catalog Catalog, logger logrus.FieldLogger) *Importer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Importer{catalog: catalog, logger: logger}
}

// row is one parsed sheet line with unit conversion applied.
type row struct {
	batchNumber  string
	name         string
	quantity     int
	buying       decimal.Decimal
	shipping     decimal.Decimal
	handling     decimal.Decimal
	retail       decimal.Decimal
	wholesale    decimal.Decimal
	threshold    int
	unit         string
	bigUnit      string
	lowThreshold int
	expiry       *time.Time
}

// Import reads the first sheet of r and books every valid row into storeID.
// A bad row is reported and skipped; rows are committed one by one.
func (im *Importer) Import(ctx context.Context, storeID int64, r io.Reader) (Report, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Report{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return Report{}, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) == 0 {
		return Report{}, fmt.Errorf("sheet is empty")
	}
	index, err := headerIndex(rows[0])
	if err != nil {
		return Report{}, err
	}

	products, err := im.catalog.ListProducts(ctx, storeID)
	if err != nil {
		return Report{}, err
	}
	byName := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byName[strings.ToLower(p.Name)] = p
	}

	report := Report{Failed: make([]RowError, 0)}
	for i, cells := range rows[1:] {
		number := i + 2
		if blank(cells) {
			continue
		}
		parsed, err := parseRow(cells, index)
		if err == nil {
			err = im.book(ctx, storeID, parsed, byName, &report)
		}
		if err != nil {
			report.Failed = append(report.Failed, RowError{Row: number, Err: err.Error()})
			im.logger.WithFields(logrus.Fields{
				"field":    "importer.Import",
				"store_id": storeID,
				"row":      number,
			}).WithError(err).Warn("import row skipped")
		}
	}

	im.logger.WithFields(logrus.Fields{
		"field":    "importer.Import",
		"store_id": storeID,
		"created":  report.ProductsCreated,
		"batches":  report.BatchesReceived,
		"failed":   len(report.Failed),
	}).Info("stock import finished")
	return report, nil
}

func (im *Importer) book(ctx context.Context, storeID int64, r row, byName map[string]domain.Product, report *Report) error {
	p, ok := byName[strings.ToLower(r.name)]
	if !ok {
		created, err := im.catalog.CreateProduct(ctx, domain.ProductCreateRequest{
			StoreID:           storeID,
			Name:              r.name,
			LowStockThreshold: r.lowThreshold,
			Unit:              r.unit,
			BigUnit:           r.bigUnit,
		})
		if err != nil {
			return fmt.Errorf("create product %s: %w", r.name, err)
		}
		p = created
		byName[strings.ToLower(r.name)] = p
		report.ProductsCreated++
	}

	if r.retail.IsPositive() {
		wholesale, threshold := r.wholesale, r.threshold
		if !wholesale.IsPositive() {
			wholesale = r.retail
		}
		if threshold < 1 {
			threshold = 1
		}
		if _, err := im.catalog.SetPrice(ctx, domain.PriceSetRequest{
			StoreID:            storeID,
			ProductID:          p.ID,
			RetailPrice:        r.retail,
			WholesalePrice:     wholesale,
			WholesaleThreshold: threshold,
		}); err != nil {
			return fmt.Errorf("price %s: %w", r.name, err)
		}
		report.PricesSet++
	}

	if _, err := im.catalog.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		StoreID:      storeID,
		ProductID:    p.ID,
		BatchNumber:  r.batchNumber,
		Quantity:     r.quantity,
		BuyingPrice:  r.buying,
		ShippingCost: r.shipping,
		HandlingCost: r.handling,
		ExpiryDate:   r.expiry,
	}); err != nil {
		return fmt.Errorf("receive %s: %w", r.name, err)
	}
	report.BatchesReceived++
	report.UnitsReceived += r.quantity
	return nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}
	return index, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseRow reads one line. When UNIT and BIG_UNIT differ and
// RELATION_OF_UNITY is above 1, the row is counted in big units: quantities
// are multiplied by the relation and costs divided by it.
func parseRow(cells []string, index map[string]int) (row, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	r := row{
		batchNumber: cell("BATCH_NUMBER"),
		name:        cell("NAME"),
		unit:        cell("UNIT"),
		bigUnit:     cell("BIG_UNIT"),
	}
	if r.name == "" {
		return row{}, fmt.Errorf("NAME is empty")
	}

	var err error
	if r.quantity, err = intCell(cell("STOCK_QUANTITY"), "STOCK_QUANTITY"); err != nil {
		return row{}, err
	}
	if r.threshold, err = intCell(cell("WHOLESALE_THRESHOLD"), "WHOLESALE_THRESHOLD"); err != nil {
		return row{}, err
	}
	if r.lowThreshold, err = intCell(cell("LOW_STOCK_THRESHOLD"), "LOW_STOCK_THRESHOLD"); err != nil {
		return row{}, err
	}
	for col, dst := range map[string]*decimal.Decimal{
		"BUYING_PRICE":    &r.buying,
		"SHIPPING_COST":   &r.shipping,
		"HANDLING_COST":   &r.handling,
		"RETAIL_PRICE":    &r.retail,
		"WHOLESALE_PRICE": &r.wholesale,
	} {
		if *dst, err = decimalCell(cell(col), col); err != nil {
			return row{}, err
		}
	}

	relation, err := intCell(cell("RELATION_OF_UNITY"), "RELATION_OF_UNITY")
	if err != nil {
		return row{}, err
	}
	if relation > 1 && r.bigUnit != "" && !strings.EqualFold(r.unit, r.bigUnit) {
		rel := decimal.NewFromInt(int64(relation))
		r.quantity *= relation
		r.lowThreshold *= relation
		r.buying = r.buying.DivRound(rel, ledger.CostPlaces)
		r.shipping = r.shipping.DivRound(rel, ledger.CostPlaces)
		r.handling = r.handling.DivRound(rel, ledger.CostPlaces)
	}

	if raw := cell("EXPIRY_DATE"); raw != "" {
		day, err := parseDate(raw)
		if err != nil {
			return row{}, err
		}
		r.expiry = &day
	}
	return r, nil
}

func intCell(raw string, col string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || f < 0 || f != float64(int(f)) {
		return 0, fmt.Errorf("%s %q is not a whole number", col, raw)
	}
	return int(f), nil
}

func decimalCell(raw string, col string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s %q is not an amount", col, raw)
	}
	return d, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return domain.DateUTC(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("EXPIRY_DATE %q is not a date", raw)
}

// Template writes an empty import workbook with the header row.
func Template(w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	sheet := f.GetSheetName(0)
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
