// Package catalogfile reads catalog imports from CSV, XLSX, JSON and YAML
// files and writes ranked deals out as CSV or XLSX.
package catalogfile

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// Catalog is the content of one import file.
type Catalog struct {
	Vendors []model.Vendor
	Items   []model.CatalogItem
}

// Record is one catalog row as it appears in an import file. Tabular files
// use the yaml names as column headers.
type Record struct {
	ID                string   `yaml:"id" json:"id"`
	Title             string   `yaml:"title" json:"title"`
	Category          string   `yaml:"category" json:"category"`
	VendorID          string   `yaml:"vendor_id" json:"vendor_id"`
	VendorName        string   `yaml:"vendor_name" json:"vendor_name"`
	VendorDisplayName string   `yaml:"vendor_display_name" json:"vendor_display_name"`
	VendorVerified    bool     `yaml:"vendor_verified" json:"vendor_verified"`
	RetailPrice       string   `yaml:"retail_price" json:"retail_price"`
	DiscountedPrice   string   `yaml:"discounted_price" json:"discounted_price"`
	CoPayPrice        string   `yaml:"co_pay_price" json:"co_pay_price"`
	IsFeatured        bool     `yaml:"is_featured" json:"is_featured"`
	AllowsCoPay       bool     `yaml:"allows_co_pay" json:"allows_co_pay"`
	IsSponsored       bool     `yaml:"is_sponsored" json:"is_sponsored"`
	Rating            *float64 `yaml:"rating" json:"rating"`
}

// VendorRecord is one entry of the vendors list in a JSON or YAML import.
type VendorRecord struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Verified    bool   `yaml:"verified" json:"verified"`
}

// document is the shape of a JSON or YAML import.
type document struct {
	Vendors []VendorRecord `yaml:"vendors" json:"vendors"`
	Items   []Record       `yaml:"items" json:"items"`
}

// ReadFile reads a catalog file, picking the format from its extension.
func ReadFile(path string) (*Catalog, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalogfile: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	case ".json", ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalogfile: read %s", path)
		}
		return decodeDocument(data, ext == ".json")
	default:
		return nil, eris.Errorf("catalogfile: unsupported file type %q", ext)
	}
}

// ReadCSV reads a catalog from CSV with a header row.
func ReadCSV(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "catalogfile: read csv")
	}
	return fromRows(rows)
}

// ReadXLSX reads a catalog from the first sheet of an XLSX workbook.
func ReadXLSX(path string) (*Catalog, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalogfile: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("catalogfile: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		rows = append(rows, cells)
	}
	return fromRows(rows)
}

func decodeDocument(data []byte, isJSON bool) (*Catalog, error) {
	var doc document
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "catalogfile: parse json")
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "catalogfile: parse yaml")
		}
	}
	return build(doc.Vendors, doc.Items)
}

// fromRows maps a header row plus data rows onto records.
func fromRows(rows [][]string) (*Catalog, error) {
	if len(rows) == 0 {
		return &Catalog{}, nil
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := header["id"]; !ok {
		return nil, eris.New("catalogfile: header has no id column")
	}

	records := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		get := func(col string) string {
			if i, ok := header[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		if get("id") == "" && get("title") == "" {
			continue
		}

		rec := Record{
			ID:                get("id"),
			Title:             get("title"),
			Category:          get("category"),
			VendorID:          get("vendor_id"),
			VendorName:        get("vendor_name"),
			VendorDisplayName: get("vendor_display_name"),
			RetailPrice:       get("retail_price"),
			DiscountedPrice:   get("discounted_price"),
			CoPayPrice:        get("co_pay_price"),
		}
		var err error
		if rec.VendorVerified, err = parseBool(get("vendor_verified")); err != nil {
			return nil, rowError(n, "vendor_verified", err)
		}
		if rec.IsFeatured, err = parseBool(get("is_featured")); err != nil {
			return nil, rowError(n, "is_featured", err)
		}
		if rec.AllowsCoPay, err = parseBool(get("allows_co_pay")); err != nil {
			return nil, rowError(n, "allows_co_pay", err)
		}
		if rec.IsSponsored, err = parseBool(get("is_sponsored")); err != nil {
			return nil, rowError(n, "is_sponsored", err)
		}
		if raw := get("rating"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, rowError(n, "rating", err)
			}
			rec.Rating = &v
		}
		records = append(records, rec)
	}
	return build(nil, records)
}

// build validates records and collects vendors. Explicit vendors win over
// the vendor columns of an item.
func build(vendors []VendorRecord, records []Record) (*Catalog, error) {
	cat := &Catalog{Items: make([]model.CatalogItem, 0, len(records))}
	seen := make(map[string]bool, len(vendors))
	for _, v := range vendors {
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		cat.Vendors = append(cat.Vendors, model.Vendor{
			ID:          v.ID,
			Name:        v.Name,
			DisplayName: v.DisplayName,
			Verified:    v.Verified,
		})
	}

	for i, rec := range records {
		if rec.ID == "" {
			return nil, eris.Errorf("catalogfile: item %d has no id", i+1)
		}
		if rec.Title == "" {
			return nil, eris.Errorf("catalogfile: item %s has no title", rec.ID)
		}
		cat.Items = append(cat.Items, rec.item())

		if rec.VendorID != "" && !seen[rec.VendorID] {
			seen[rec.VendorID] = true
			cat.Vendors = append(cat.Vendors, model.Vendor{
				ID:          rec.VendorID,
				Name:        rec.VendorName,
				DisplayName: rec.VendorDisplayName,
				Verified:    rec.VendorVerified,
			})
		}
	}
	return cat, nil
}

func (r Record) item() model.CatalogItem {
	return model.CatalogItem{
		ID:                r.ID,
		Title:             r.Title,
		Category:          r.Category,
		VendorID:          r.VendorID,
		VendorName:        r.VendorName,
		VendorDisplayName: r.VendorDisplayName,
		VendorVerified:    r.VendorVerified,
		RetailPrice:       r.RetailPrice,
		DiscountedPrice:   r.DiscountedPrice,
		CoPayPrice:        r.CoPayPrice,
		IsFeatured:        r.IsFeatured,
		AllowsCoPay:       r.AllowsCoPay,
		IsSponsored:       r.IsSponsored,
		Rating:            r.Rating,
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no", "n":
		return false, nil
	case "1", "true", "yes", "y":
		return true, nil
	}
	return false, eris.Errorf("not a boolean: %q", s)
}

// rowError numbers data rows from 2 so they match a spreadsheet view.
func rowError(n int, col string, err error) error {
	return eris.Wrapf(err, "catalogfile: row %d column %s", n+2, col)
}
