package catalogfile

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/andrew12-circle/circle-marketplace/internal/deals"
)

// DealColumns is the header of every deals export.
var DealColumns = []string{
	"rank", "item_id", "title", "vendor", "score",
	"discount", "rating", "featured", "co_pay", "brand", "sponsored", "reasons",
}

// DealRows flattens ranked results into export rows, without the header.
func DealRows(results []deals.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		vendor := r.Item.VendorDisplayName
		if vendor == "" {
			vendor = r.Item.VendorName
		}
		b := r.Breakdown
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.ItemID,
			r.Item.Title,
			vendor,
			formatFloat(r.Score),
			formatFloat(b.Discount),
			formatFloat(b.Rating),
			formatFloat(b.Featured),
			formatFloat(b.CoPay),
			formatFloat(b.Brand),
			formatFloat(b.Sponsored),
			strings.Join(r.Reasons, "; "),
		})
	}
	return rows
}

// WriteDealsCSV writes results as CSV with a header row.
func WriteDealsCSV(w io.Writer, results []deals.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DealColumns); err != nil {
		return eris.Wrap(err, "catalogfile: write csv header")
	}
	if err := cw.WriteAll(DealRows(results)); err != nil {
		return eris.Wrap(err, "catalogfile: write csv rows")
	}
	return nil
}

// WriteDealsXLSX saves results to an XLSX workbook at path with one
// "Top Deals" sheet. Numeric columns are written as numbers.
func WriteDealsXLSX(path string, results []deals.Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Top Deals")
	if err != nil {
		return eris.Wrap(err, "catalogfile: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range DealColumns {
		header.AddCell().SetString(col)
	}

	for i, r := range results {
		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(r.ItemID)
		row.AddCell().SetString(r.Item.Title)
		vendor := r.Item.VendorDisplayName
		if vendor == "" {
			vendor = r.Item.VendorName
		}
		row.AddCell().SetString(vendor)
		b := r.Breakdown
		for _, v := range []float64{r.Score, b.Discount, b.Rating, b.Featured, b.CoPay, b.Brand, b.Sponsored} {
			row.AddCell().SetFloat(v)
		}
		row.AddCell().SetString(strings.Join(r.Reasons, "; "))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "catalogfile: save %s", path)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
