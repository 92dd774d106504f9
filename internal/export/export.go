// Package export serialises harvested records to the two flat artifacts the
// run produces per category: an xlsx spreadsheet whose column layout is a
// compatibility surface, and a JSON backup holding the full, unclipped
// record list. When the spreadsheet itself cannot be written the records
// degrade to an emergency JSON dump, which is simple enough to have no
// further fallback.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joneqian/b2b-jd-crawl/internal/metrics"
	"github.com/joneqian/b2b-jd-crawl/internal/models"
)

const (
	sheetName         = "商品详情"
	maxMainImageCols  = 5
	maxDetailImageRef = 10
	timestampLayout   = "20060102_150405"
	emergencyPrefix   = "emergency_backup_"
)

// headers is the spreadsheet's compatibility surface; order matters to
// downstream consumers.
var headers = []string{
	"SKU ID", "商品名称", "品牌", "分类",
	"京东价", "建议零售价", "主显示价", "起购数量",
	"保质期", "生产日期",
	"主图1", "主图2", "主图3", "主图4", "主图5",
	"参数JSON", "详情图数量", "详情图列表",
}

type Exporter struct {
	outputDir string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// now is swapped in tests for deterministic filenames.
	now func() time.Time
}

func New(outputDir string, m *metrics.Metrics) *Exporter {
	return &Exporter{
		outputDir: outputDir,
		metrics:   m,
		logger:    slog.Default().With("component", "export"),
		now:       time.Now,
	}
}

// Export writes the spreadsheet and the JSON backup for one category. When
// the spreadsheet fails it falls back to the emergency dump and reports the
// original failure.
func (e *Exporter) Export(category string, records []*models.ProductRecord) error {
	if len(records) == 0 {
		e.logger.Info("nothing to export", "category", category)
		return nil
	}

	timestamp := e.now().Format(timestampLayout)
	base := fmt.Sprintf("products_%s_%s", category, timestamp)

	xlsxPath, xlsxErr := e.writeXLSX(filepath.Join(e.outputDir, base+".xlsx"), records)
	if xlsxErr == nil {
		e.logger.Info("spreadsheet written", "path", xlsxPath, "records", len(records))
		e.metrics.IncExport("xlsx")
	}

	jsonPath, jsonErr := e.writeJSON(filepath.Join(e.outputDir, base+".json"), records)
	if jsonErr == nil {
		e.logger.Info("json backup written", "path", jsonPath)
		e.metrics.IncExport("json")
	}

	if xlsxErr != nil {
		e.logger.Error("spreadsheet export failed, writing emergency dump", "error", xlsxErr)
		if path, err := e.EmergencyDump(category, records); err != nil {
			e.logger.Error("emergency dump failed", "error", err)
		} else {
			e.logger.Warn("emergency dump written", "path", path)
		}
		return fmt.Errorf("failed to write spreadsheet: %w", xlsxErr)
	}
	if jsonErr != nil {
		return fmt.Errorf("failed to write json backup: %w", jsonErr)
	}
	return nil
}

// EmergencyDump writes the bare JSON record list under a distinct filename
// prefix. Used when the primary export path failed or when the process is
// unwinding from an unrecoverable state.
func (e *Exporter) EmergencyDump(category string, records []*models.ProductRecord) (string, error) {
	timestamp := e.now().Format(timestampLayout)
	name := fmt.Sprintf("%s%s_%s.json", emergencyPrefix, category, timestamp)
	path, err := e.writeJSON(filepath.Join(e.outputDir, name), records)
	if err != nil {
		return "", err
	}
	e.metrics.IncExport("emergency")
	return path, nil
}

func (e *Exporter) writeXLSX(path string, records []*models.ProductRecord) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := setRow(f, 1, toAnySlice(headers)); err != nil {
		return "", err
	}

	for i, rec := range records {
		if err := setRow(f, i+2, recordRow(rec)); err != nil {
			return "", err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	return path, nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to compute cell name: %w", err)
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

// recordRow renders one record into the fixed column layout: main images
// padded to exactly five cells, the specification map as a JSON blob, and
// the first ten detail images joined with semicolons.
func recordRow(rec *models.ProductRecord) []any {
	main := make([]string, maxMainImageCols)
	for i := 0; i < maxMainImageCols && i < len(rec.MainImages); i++ {
		main[i] = rec.MainImages[i]
	}

	params, err := json.Marshal(rec.Params)
	if err != nil {
		params = []byte("{}")
	}

	detail := rec.DetailImages
	if len(detail) > maxDetailImageRef {
		detail = detail[:maxDetailImageRef]
	}

	return []any{
		rec.SKUID,
		rec.Name,
		rec.Brand,
		rec.Category,
		rec.JDPrice,
		rec.RetailPrice,
		rec.MainPrice,
		rec.MinimumPurchase,
		rec.ShelfLife,
		rec.ManufacturingDate,
		main[0], main[1], main[2], main[3], main[4],
		string(params),
		len(rec.DetailImages),
		strings.Join(detail, "; "),
	}
}

func (e *Exporter) writeJSON(path string, records []*models.ProductRecord) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write json file: %w", err)
	}
	return path, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
