package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/phpdave11/gofpdf"
)

// pdf rows beyond this go to the CSV only; the PDF is a review summary,
// not the full export.
const pdfRowLimit = 60

// writePDF renders a one-glance summary document: the tally headline and
// a compact result table. Written via temp file and rename like the CSV.
func (w *Writer) writePDF(path string, rows []ValidationPointRow, t Tally) error {
	doc := gofpdf.New("L", "mm", "A4", "")
	doc.SetTitle("QA Execution Sheet", false)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 14)
	doc.Cell(0, 10, "QA Execution Sheet")
	doc.Ln(12)

	doc.SetFont("Helvetica", "", 10)
	doc.Cell(0, 6, t.headline())
	doc.Ln(6)
	doc.Cell(0, 6, fmt.Sprintf("generated %s", time.UnixMilli(t.GeneratedAt).UTC().Format(time.RFC3339)))
	doc.Ln(10)

	type col struct {
		name  string
		width float64
	}
	cols := []col{
		{"#", 10}, {"field", 55}, {"action", 45}, {"result", 22},
		{"failure code", 50}, {"observed", 95},
	}

	doc.SetFont("Helvetica", "B", 9)
	doc.SetFillColor(230, 230, 230)
	for _, c := range cols {
		doc.CellFormat(c.width, 7, c.name, "1", 0, "L", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Helvetica", "", 8)
	for i, r := range rows {
		if i >= pdfRowLimit {
			doc.CellFormat(0, 6, fmt.Sprintf("... %d more row(s) in the CSV export", len(rows)-pdfRowLimit), "0", 0, "L", false, 0, "")
			break
		}
		fill := r.Result == "FAIL"
		doc.SetFillColor(253, 226, 226)
		cells := []string{
			fmt.Sprintf("%d", r.Index),
			clip(r.Field, 40),
			clip(r.Action, 32),
			r.Result,
			r.FailureCode,
			clip(r.Observed, 70),
		}
		for j, c := range cols {
			doc.CellFormat(c.width, 6, cells[j], "1", 0, "L", fill, 0, "")
		}
		doc.Ln(-1)
	}

	tmp, err := os.CreateTemp(w.dir, ".sheet-*.pdf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := doc.Output(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Clean(path))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
