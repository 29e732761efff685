package sheet

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaprobe/internal/evidence"
)

func triple(field, action string, pass bool, code string) []Record {
	return []Record{
		{Kind: KindField, Field: field, Action: action},
		{Kind: KindAction, Field: field, Action: action, Evidence: evidence.Snapshot{Timestamp: 100}},
		{Kind: KindAssertion, Field: field, Action: action,
			Assertion: &Assertion{Expected: "works", Observed: "observed", Pass: pass, FailureCode: code},
			Evidence:  evidence.Snapshot{Timestamp: 101, ScreenshotPath: "shot.png"}},
	}
}

func TestAssembleMergesTripleIntoOneRow(t *testing.T) {
	rows := Assemble(triple("email field", "type", true, ""), 0)

	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, 1, r.Index)
	assert.Equal(t, "email field", r.Field)
	assert.Equal(t, "type", r.Action)
	assert.Equal(t, "PASS", r.Result)
	assert.Equal(t, "shot.png", r.Evidence.ScreenshotPath, "assertion evidence is the richest and wins")
}

func TestAssembleRowCountBoundedByDistinctKeys(t *testing.T) {
	var records []Record
	records = append(records, triple("a", "click", true, "")...)
	records = append(records, triple("a", "click", true, "")...) // duplicate key
	records = append(records, triple("b", "click", false, "ASSERT_NO_STATE_CHANGE")...)
	records = append(records, triple("b", "type", false, "ASSERT_VALIDATION_MISSING")...)

	rows := Assemble(records, 0)

	assert.Len(t, rows, 3, "one row per distinct (field, action) pair")
	assert.Equal(t, "a", rows[0].Field)
	assert.Equal(t, "b", rows[1].Field)
	assert.Equal(t, "click", rows[1].Action)
	assert.Equal(t, "type", rows[2].Action)
}

func TestAssembleKeepsFirstSeenOrder(t *testing.T) {
	var records []Record
	records = append(records, triple("z-last-alphabetically", "go", true, "")...)
	records = append(records, triple("a-first-alphabetically", "go", true, "")...)

	rows := Assemble(records, 0)

	require.Len(t, rows, 2)
	assert.Equal(t, "z-last-alphabetically", rows[0].Field)
}

func TestAssembleGroupWithoutAssertionIsUnverified(t *testing.T) {
	rows := Assemble([]Record{
		{Kind: KindField, Field: "orphan", Action: "hover", Evidence: evidence.Snapshot{Timestamp: 7}},
	}, 0)

	require.Len(t, rows, 1)
	assert.Equal(t, "UNVERIFIED", rows[0].Result)
	assert.EqualValues(t, 7, rows[0].Evidence.Timestamp, "evidence still gap-filled")
}

func TestAssembleErrorDetailSurvivesMerge(t *testing.T) {
	records := triple("save button", "click", false, "SELECTOR_NOT_FOUND")
	records[2].Error = &ErrorDetail{Code: "SELECTOR_NOT_FOUND", Reason: "no clickable matched"}

	rows := Assemble(records, 0)

	require.Len(t, rows, 1)
	assert.Equal(t, "FAIL", rows[0].Result)
	assert.Equal(t, "SELECTOR_NOT_FOUND", rows[0].FailureCode)
	assert.Equal(t, "no clickable matched", rows[0].ErrorReason)
}

func TestAssembleHonorsRowCap(t *testing.T) {
	var records []Record
	records = append(records, triple("a", "click", true, "")...)
	records = append(records, triple("b", "click", true, "")...)
	records = append(records, triple("c", "click", true, "")...)

	rows := Assemble(records, 2)

	assert.Len(t, rows, 2)
}

func TestAssembleEmptyInput(t *testing.T) {
	assert.Empty(t, Assemble(nil, 10))
}

func TestWriterProducesCompleteCSV(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	rows := Assemble(triple("email field", "type", false, "ASSERT_VALIDATION_MISSING"), 0)

	art, err := w.Write("run1", rows, Tally{Project: "qaprobe", RunID: "run1", Fail: 1, GeneratedAt: 1700000000000})
	require.NoError(t, err)
	assert.Equal(t, 1, art.Rows)

	f, err := os.Open(art.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	all, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2, "header plus one data row")
	assert.Equal(t, csvHeader, all[0])
	assert.Equal(t, "FAIL", all[1][5])
	assert.Equal(t, "ASSERT_VALIDATION_MISSING", all[1][6])

	// no temp leftovers; the rename either completed or never happened
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".sheet-"), "stray temp file %s", e.Name())
	}
}

func TestWriterRendersPDFSummary(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	rows := Assemble(triple("save button", "click", true, ""), 0)

	art, err := w.Write("run2", rows, Tally{Project: "qaprobe", RunID: "run2", Pass: 1, GeneratedAt: 1700000000000})
	require.NoError(t, err)
	require.NotEmpty(t, art.PDFPath)

	info, err := os.Stat(art.PDFPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, filepath.Join(dir, "sheet_run2.pdf"), art.PDFPath)
}

type fakeXLSX struct {
	calls int
	path  string
}

func (f *fakeXLSX) RenderXLSX(path string, rows []ValidationPointRow, t Tally) error {
	f.calls++
	f.path = path
	return os.WriteFile(path, []byte("xlsx"), 0o644)
}

func TestWriterInvokesXLSXRendererWhenSet(t *testing.T) {
	w := NewWriter(t.TempDir())
	r := &fakeXLSX{}
	w.SetXLSXRenderer(r)

	art, err := w.Write("run3", nil, Tally{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, r.path, art.XLSXPath)
}
