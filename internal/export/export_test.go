package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joneqian/b2b-jd-crawl/internal/models"
)

func testExporter(t *testing.T) *Exporter {
	t.Helper()
	e := New(t.TempDir(), nil)
	e.now = func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	}
	return e
}

func sampleRecord(skuID string) *models.ProductRecord {
	rec := models.NewProductRecord(skuID)
	rec.Name = "测试商品"
	rec.Brand = "品牌A"
	rec.Category = "食品 > 零食"
	rec.JDPrice = "9.90"
	rec.MinimumPurchase = 2
	rec.MainImages = []string{"m1", "m2"}
	rec.Params = map[string]string{"净含量": "500g"}
	for i := 0; i < 12; i++ {
		rec.DetailImages = append(rec.DetailImages, fmt.Sprintf("d%d", i))
	}
	return rec
}

func TestExportWritesBothArtifacts(t *testing.T) {
	e := testExporter(t)

	records := []*models.ProductRecord{sampleRecord("100"), models.NewProductRecord("200")}
	require.NoError(t, e.Export("休闲零食", records))

	xlsxPath := filepath.Join(e.outputDir, "products_休闲零食_20240315_103000.xlsx")
	jsonPath := filepath.Join(e.outputDir, "products_休闲零食_20240315_103000.json")

	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per record")

	assert.Equal(t, headers, rows[0][:len(headers)])

	first := rows[1]
	assert.Equal(t, "100", first[0])
	assert.Equal(t, "测试商品", first[1])
	assert.Equal(t, "2", first[7], "minimum purchase column")
	assert.Equal(t, "m1", first[10])
	assert.Equal(t, "m2", first[11])
	assert.Equal(t, "12", first[16], "detail image count is the full list length")
	assert.Equal(t, "d0; d1; d2; d3; d4; d5; d6; d7; d8; d9", first[17], "spreadsheet clips to ten detail images")

	var spec map[string]string
	require.NoError(t, json.Unmarshal([]byte(first[15]), &spec))
	assert.Equal(t, "500g", spec["净含量"])

	// stub record renders with defaults
	stub := rows[2]
	assert.Equal(t, "200", stub[0])
	assert.Equal(t, "9999", stub[7])

	// the JSON backup keeps the full, unclipped record list
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded []*models.ProductRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Len(t, decoded[0].DetailImages, 12)
}

func TestExportEmptyRunWritesNothing(t *testing.T) {
	e := testExporter(t)
	require.NoError(t, e.Export("空类目", nil))

	entries, err := os.ReadDir(e.outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportInterruptedRunKeepsAccumulatedRecords(t *testing.T) {
	// simulate an interrupt after 3 of 5 products: exactly those 3 records
	// must land in a file named for the active category
	e := testExporter(t)
	records := []*models.ProductRecord{
		sampleRecord("1"), sampleRecord("2"), sampleRecord("3"),
	}
	require.NoError(t, e.Export("饮料冲调", records))

	jsonPath := filepath.Join(e.outputDir, "products_饮料冲调_20240315_103000.json")
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var decoded []*models.ProductRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, decoded[i].SKUID)
	}
}

func TestEmergencyDump(t *testing.T) {
	e := testExporter(t)
	path, err := e.EmergencyDump("休闲零食", []*models.ProductRecord{models.NewProductRecord("1")})
	require.NoError(t, err)
	assert.Equal(t, "emergency_backup_休闲零食_20240315_103000.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []*models.ProductRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "1", decoded[0].SKUID)
	assert.Equal(t, models.DefaultMinimumPurchase, decoded[0].MinimumPurchase)
}

func TestExportFallsBackToEmergencyDumpOnSpreadsheetFailure(t *testing.T) {
	e := testExporter(t)
	// occupy the xlsx path with a directory so SaveAs fails
	xlsxPath := filepath.Join(e.outputDir, "products_零食_20240315_103000.xlsx")
	require.NoError(t, os.MkdirAll(xlsxPath, 0755))

	err := e.Export("零食", []*models.ProductRecord{models.NewProductRecord("42")})
	require.Error(t, err)

	emergency := filepath.Join(e.outputDir, "emergency_backup_零食_20240315_103000.json")
	data, readErr := os.ReadFile(emergency)
	require.NoError(t, readErr, "emergency dump must exist after spreadsheet failure")
	var decoded []*models.ProductRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "42", decoded[0].SKUID)
}
