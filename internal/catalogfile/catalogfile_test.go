package catalogfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/andrew12-circle/circle-marketplace/internal/deals"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

const sampleCSV = `id,title,category,vendor_id,vendor_name,vendor_display_name,vendor_verified,retail_price,discounted_price,is_featured,rating
svc-1,Listing Photos,media,v1,skyshots,SkyShots Media,true,$200,$150,yes,4.5
svc-2, Drone Video ,media,v1,skyshots,SkyShots Media,true,500,450,no,
svc-3,Signs,,,,,,80,,,
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV(t *testing.T) {
	cat, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Len(t, cat.Items, 3)
	assert.Equal(t, "Drone Video", cat.Items[1].Title)
	assert.True(t, cat.Items[0].IsFeatured)
	assert.True(t, cat.Items[0].VendorVerified)
	require.NotNil(t, cat.Items[0].Rating)
	assert.InDelta(t, 4.5, *cat.Items[0].Rating, 0.001)
	assert.Nil(t, cat.Items[1].Rating)
	assert.Empty(t, cat.Items[2].VendorID)

	require.Len(t, cat.Vendors, 1)
	assert.Equal(t, model.Vendor{ID: "v1", Name: "skyshots", DisplayName: "SkyShots Media", Verified: true}, cat.Vendors[0])
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr string
	}{
		{"no id column", "title,retail_price\nA,10\n", "no id column"},
		{"bad bool", "id,title,is_featured\na,A,maybe\n", "row 2 column is_featured"},
		{"bad rating", "id,title,rating\na,A,\n b,B,five\n", "row 3 column rating"},
		{"missing title", "id,title\na,\n", "item a has no title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadCSV_SkipsBlankRows(t *testing.T) {
	cat, err := ReadCSV(strings.NewReader("id,title\n,\na,A\n"))
	require.NoError(t, err)
	require.Len(t, cat.Items, 1)
	assert.Equal(t, "a", cat.Items[0].ID)
}

func TestReadFile_YAML(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
vendors:
  - id: v1
    name: kw
    display_name: Keller Williams Media
    verified: true
items:
  - id: svc-1
    title: Listing Photos
    vendor_id: v1
    vendor_display_name: ignored because vendors lists v1
    retail_price: "200"
    discounted_price: "150"
    is_sponsored: true
  - id: svc-2
    title: Staging
    vendor_id: v2
    vendor_name: stagers
    rating: 3.9
`)

	cat, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, cat.Items, 2)
	assert.True(t, cat.Items[0].IsSponsored)
	require.Len(t, cat.Vendors, 2)
	assert.Equal(t, "Keller Williams Media", cat.Vendors[0].DisplayName)
	assert.Equal(t, "v2", cat.Vendors[1].ID)
	assert.Equal(t, "stagers", cat.Vendors[1].Name)
}

func TestReadFile_JSON(t *testing.T) {
	path := writeFile(t, "catalog.json", `{"items":[{"id":"a","title":"A","co_pay_price":"25","allows_co_pay":true}]}`)

	cat, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, cat.Items, 1)
	assert.Equal(t, "25", cat.Items[0].CoPayPrice)
	assert.True(t, cat.Items[0].AllowsCoPay)
	assert.Empty(t, cat.Vendors)
}

func TestReadFile_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Catalog")
	require.NoError(t, err)
	for _, cells := range [][]string{
		{"ID", "Title", "Retail_Price", "Is_Featured"},
		{"x1", "Photos", "99", "TRUE"},
	} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.Save(path))

	cat, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, cat.Items, 1)
	assert.Equal(t, "99", cat.Items[0].RetailPrice)
	assert.True(t, cat.Items[0].IsFeatured)
}

func TestReadFile_Unsupported(t *testing.T) {
	_, err := ReadFile(writeFile(t, "catalog.txt", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func rankedSample() []deals.Result {
	items := []model.CatalogItem{
		{ID: "a", Title: "Photos", VendorDisplayName: "SkyShots", IsFeatured: true, IsSponsored: true},
		{ID: "b", Title: "Signs", VendorName: "signco", CoPayPrice: "20", AllowsCoPay: true},
	}
	return deals.Rank(items, deals.DefaultWeights())
}

func TestWriteDealsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDealsCSV(&buf, rankedSample()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(DealColumns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,a,Photos,SkyShots,28.40,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2,b,Signs,signco,18.40,"), lines[2])
	assert.Contains(t, lines[1], "Featured service; Sponsored placement")
}

func TestWriteDealsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.xlsx")
	require.NoError(t, WriteDealsXLSX(path, rankedSample()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Top Deals", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "item_id", sheet.Rows[0].Cells[1].String())
	assert.Equal(t, "a", sheet.Rows[1].Cells[1].String())

	score, err := sheet.Rows[1].Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 28.4, score, 0.001)
}
