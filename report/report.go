package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"charassets/domain"
)

const (
	SheetStats    = "Scan Stats"
	SheetVariants = "Variants"
	SheetFailures = "Failures"
)

// Input is everything the scan report shows.
type Input struct {
	Stats    map[string]domain.ScanStats
	Variants map[string][]string
	Failures domain.FailureLedgerDoc
}

// WriteScanReport writes a three-sheet workbook: per-character stability,
// confirmed variants, and the failure ledger.
func WriteScanReport(outPath string, in Input) error {
	if strings.TrimSpace(outPath) == "" {
		return errors.New("report: output path is empty")
	}

	f := excelize.NewFile()
	defer f.Close()
	// Reuse default sheet as the first one to keep sheet order stable and avoid extra sheets.
	defSheet := f.GetSheetName(0)
	if defSheet == "" {
		defSheet = "Sheet1"
	}
	_ = f.SetSheetName(defSheet, SheetStats)
	if _, err := f.NewSheet(SheetVariants); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetFailures); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})

	if err := writeStatsSheet(f, in.Stats, headerStyle); err != nil {
		return fmt.Errorf("write scan stats sheet: %w", err)
	}
	if err := writeVariantsSheet(f, in.Variants, headerStyle); err != nil {
		return fmt.Errorf("write variants sheet: %w", err)
	}
	if err := writeFailuresSheet(f, in.Failures, headerStyle); err != nil {
		return fmt.Errorf("write failures sheet: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer out.Close()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

func headerRow(style int, names ...string) []interface{} {
	row := make([]interface{}, len(names))
	for i, n := range names {
		row[i] = excelize.Cell{StyleID: style, Value: n}
	}
	return row
}

func writeStatsSheet(f *excelize.File, stats map[string]domain.ScanStats, style int) error {
	sw, err := f.NewStreamWriter(SheetStats)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		if err := sw.SetRow("A1", []interface{}{"no scan history"}); err != nil {
			return err
		}
		return sw.Flush()
	}
	if err := sw.SetRow("A1", headerRow(style, "character", "status", "variants", "consistent", "last scan")); err != nil {
		return err
	}
	rowNum := 2
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		last := ""
		if t := st.LastScan(); !t.IsZero() {
			last = t.UTC().Format(time.RFC3339)
		}
		row := []interface{}{id, string(st.Status), st.LastVariantCount, st.ConsistentCount, last}
		if err := sw.SetRow(cellAxis(rowNum, 1), row); err != nil {
			return err
		}
		rowNum++
	}
	return sw.Flush()
}

func writeVariantsSheet(f *excelize.File, variants map[string][]string, style int) error {
	sw, err := f.NewStreamWriter(SheetVariants)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", headerRow(style, "character", "variant", "face", "body")); err != nil {
		return err
	}
	rowNum := 2
	for _, id := range sortedKeys(variants) {
		for _, v := range variants[id] {
			row := []interface{}{id, v, "", ""}
			if vid, err := domain.ParseVariantID(v); err == nil {
				row[2], row[3] = vid.Face, vid.Body
			}
			if err := sw.SetRow(cellAxis(rowNum, 1), row); err != nil {
				return err
			}
			rowNum++
		}
	}
	return sw.Flush()
}

func writeFailuresSheet(f *excelize.File, doc domain.FailureLedgerDoc, style int) error {
	sw, err := f.NewStreamWriter(SheetFailures)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", headerRow(style, "kind", "variant", "url/key", "error", "time")); err != nil {
		return err
	}
	rowNum := 2
	write := func(kind string, entries []domain.FailureEntry) error {
		for _, e := range entries {
			target := e.URL
			if target == "" {
				target = e.Key
			}
			row := []interface{}{kind, e.Variant, target, e.Error, e.Timestamp.UTC().Format(time.RFC3339)}
			if err := sw.SetRow(cellAxis(rowNum, 1), row); err != nil {
				return err
			}
			rowNum++
		}
		return nil
	}
	if err := write("download", doc.DownloadFailures); err != nil {
		return err
	}
	if err := write("upload", doc.UploadFailures); err != nil {
		return err
	}
	return sw.Flush()
}

func cellAxis(row, col int) string {
	axis, _ := excelize.CoordinatesToCellName(col, row)
	return axis
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
