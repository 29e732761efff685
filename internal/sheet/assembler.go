// Package sheet assembles execution output into the final report sheet.
//
// Upstream producers emit decomposed records: a FIELD record describing
// what was touched, an ACTION record describing what was done, and an
// ASSERTION record describing what was checked. The assembler merges the
// records for one (field, action) pair into a single validation point row,
// then writes the sheet artifacts atomically so a crashed run never leaves
// a half-written report behind.
package sheet

import (
	"fmt"
	"sort"
	"strings"

	"qaprobe/internal/evidence"
)

// RecordKind tags a decomposed record.
type RecordKind string

const (
	KindField     RecordKind = "FIELD"
	KindAction    RecordKind = "ACTION"
	KindAssertion RecordKind = "ASSERTION"
	// KindPoint is a pre-merged record carrying everything at once; the
	// engine emits these, external producers emit decomposed triples.
	KindPoint RecordKind = "POINT"
)

// Assertion is the checked expectation of a record.
type Assertion struct {
	Expected    string `json:"expected,omitempty"`
	Observed    string `json:"observed,omitempty"`
	Pass        bool   `json:"pass"`
	FailureCode string `json:"failureCode,omitempty"`
}

// ErrorDetail carries a structured failure annotation.
type ErrorDetail struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Record is one decomposed unit of execution output.
type Record struct {
	Kind      RecordKind        `json:"kind"`
	Field     string            `json:"field"`
	Action    string            `json:"action"`
	Assertion *Assertion        `json:"assertion,omitempty"`
	Error     *ErrorDetail      `json:"error,omitempty"`
	Evidence  evidence.Snapshot `json:"evidence"`
}

// ValidationPointRow is one merged row of the final sheet.
type ValidationPointRow struct {
	Index       int               `json:"index"`
	Field       string            `json:"field"`
	Action      string            `json:"action"`
	Expected    string            `json:"expected,omitempty"`
	Observed    string            `json:"observed,omitempty"`
	Result      string            `json:"result"` // PASS, FAIL, or UNVERIFIED
	FailureCode string            `json:"failureCode,omitempty"`
	ErrorReason string            `json:"errorReason,omitempty"`
	Evidence    evidence.Snapshot `json:"evidence"`
}

func mergeKey(r Record) string {
	return strings.TrimSpace(strings.ToLower(r.Field)) + "\x00" + strings.TrimSpace(strings.ToLower(r.Action))
}

// Assemble merges decomposed records into validation point rows.
//
// Rows keep first-seen order of their (field, action) key. Within a group
// the assertion record decides the outcome; field and action records only
// contribute identity and evidence. A group with no assertion becomes an
// UNVERIFIED row rather than being dropped, so untested points stay
// visible in the sheet. The result is capped at rowCap rows (unlimited
// when rowCap <= 0).
func Assemble(records []Record, rowCap int) []ValidationPointRow {
	type group struct {
		order   int
		records []Record
	}
	groups := make(map[string]*group)
	var keys []string

	for _, r := range records {
		k := mergeKey(r)
		g, ok := groups[k]
		if !ok {
			g = &group{order: len(keys)}
			groups[k] = g
			keys = append(keys, k)
		}
		g.records = append(g.records, r)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return groups[keys[i]].order < groups[keys[j]].order
	})

	rows := make([]ValidationPointRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, mergeGroup(groups[k].records))
	}
	for i := range rows {
		rows[i].Index = i + 1
	}
	if rowCap > 0 && len(rows) > rowCap {
		rows = rows[:rowCap]
	}
	return rows
}

func mergeGroup(records []Record) ValidationPointRow {
	row := ValidationPointRow{Result: "UNVERIFIED"}

	for _, r := range records {
		if row.Field == "" {
			row.Field = strings.TrimSpace(r.Field)
		}
		if row.Action == "" {
			row.Action = strings.TrimSpace(r.Action)
		}
		// Richest evidence wins: prefer a snapshot with a screenshot,
		// otherwise any stamped snapshot fills the gap.
		if betterEvidence(r.Evidence, row.Evidence) {
			row.Evidence = r.Evidence
		}
		if r.Error != nil && row.ErrorReason == "" {
			row.FailureCode = r.Error.Code
			row.ErrorReason = r.Error.Reason
		}
		if r.Assertion == nil {
			continue
		}
		if r.Kind == KindAssertion || r.Kind == KindPoint || row.Result == "UNVERIFIED" {
			row.Expected = r.Assertion.Expected
			row.Observed = r.Assertion.Observed
			if r.Assertion.Pass {
				row.Result = "PASS"
			} else {
				row.Result = "FAIL"
			}
			if r.Assertion.FailureCode != "" {
				row.FailureCode = r.Assertion.FailureCode
			}
		}
	}

	if row.Field == "" && row.Action == "" {
		row.Field = "(unnamed)"
	}
	return row
}

func betterEvidence(candidate, current evidence.Snapshot) bool {
	if current.Timestamp == 0 {
		return candidate.Timestamp != 0
	}
	return candidate.ScreenshotPath != "" && current.ScreenshotPath == ""
}

// Tally summarizes a run for the sheet header.
type Tally struct {
	Project     string `json:"project"`
	RunID       string `json:"runId"`
	Pass        int    `json:"pass"`
	Fail        int    `json:"fail"`
	Blocked     int    `json:"blocked"`
	GeneratedAt int64  `json:"generatedAt"` // unix milliseconds
}

func (t Tally) total() int { return t.Pass + t.Fail + t.Blocked }

func (t Tally) headline() string {
	return fmt.Sprintf("%s run %s: %d checked, %d passed, %d failed, %d blocked",
		t.Project, t.RunID, t.total(), t.Pass, t.Fail, t.Blocked)
}
