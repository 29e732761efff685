package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"qaprobe/internal/logging"
)

// Artifacts lists the files one sheet write produced.
type Artifacts struct {
	CSVPath  string `json:"csvPath"`
	PDFPath  string `json:"pdfPath,omitempty"`
	XLSXPath string `json:"xlsxPath,omitempty"`
	Rows     int    `json:"rows"`
}

// XLSXRenderer renders the sheet into a spreadsheet file. Optional; wired
// in by deployments that need xlsx delivery.
type XLSXRenderer interface {
	RenderXLSX(path string, rows []ValidationPointRow, t Tally) error
}

// Writer writes sheet artifacts under one output directory.
// Each artifact is written to a temp file in the same directory and
// renamed into place, so readers only ever see complete sheets.
type Writer struct {
	dir  string
	xlsx XLSXRenderer
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// SetXLSXRenderer enables xlsx output.
func (w *Writer) SetXLSXRenderer(r XLSXRenderer) { w.xlsx = r }

var csvHeader = []string{
	"no", "field", "action", "expected", "observed",
	"result", "failure_code", "error_reason", "evidence_url", "screenshot", "timestamp",
}

// Write renders every configured artifact for one run. The CSV is the
// canonical sheet; PDF and XLSX failures are logged but do not fail the
// write as long as the CSV landed.
func (w *Writer) Write(runID string, rows []ValidationPointRow, t Tally) (Artifacts, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create output dir: %w", err)
	}

	art := Artifacts{Rows: len(rows)}

	csvPath := filepath.Join(w.dir, fmt.Sprintf("sheet_%s.csv", runID))
	if err := w.writeCSV(csvPath, rows); err != nil {
		return Artifacts{}, err
	}
	art.CSVPath = csvPath

	pdfPath := filepath.Join(w.dir, fmt.Sprintf("sheet_%s.pdf", runID))
	if err := w.writePDF(pdfPath, rows, t); err != nil {
		logging.Sheet("pdf render failed for run %s: %v", runID, err)
	} else {
		art.PDFPath = pdfPath
	}

	if w.xlsx != nil {
		xlsxPath := filepath.Join(w.dir, fmt.Sprintf("sheet_%s.xlsx", runID))
		if err := w.xlsx.RenderXLSX(xlsxPath, rows, t); err != nil {
			logging.Sheet("xlsx render failed for run %s: %v", runID, err)
		} else {
			art.XLSXPath = xlsxPath
		}
	}

	logging.Sheet("run %s: wrote %d row(s) to %s", runID, len(rows), csvPath)
	return art, nil
}

func (w *Writer) writeCSV(path string, rows []ValidationPointRow) error {
	tmp, err := os.CreateTemp(w.dir, ".sheet-*.csv")
	if err != nil {
		return fmt.Errorf("create temp sheet: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(csvHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Index),
			r.Field,
			r.Action,
			r.Expected,
			r.Observed,
			r.Result,
			r.FailureCode,
			r.ErrorReason,
			r.Evidence.ObservedURL,
			r.Evidence.ScreenshotPath,
			strconv.FormatInt(r.Evidence.Timestamp, 10),
		}
		if err := cw.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
