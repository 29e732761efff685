// Package engine executes checklist rows against a live browser session
// and produces evidence-backed verdicts.
//
// One run's rows execute sequentially because they share a single
// authenticated page context; independent runs may execute concurrently on
// separate sessions. The engine only sees typed outcomes from the browser
// boundary; every failure it emits is a member of the closed taxonomy in
// the classify package and carries a non-null evidence snapshot.
package engine

import (
	"qaprobe/internal/browser"
	"qaprobe/internal/checklist"
	"qaprobe/internal/classify"
	"qaprobe/internal/evidence"
)

// Verdict is the terminal outcome of one row.
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictBlocked Verdict = "BLOCKED"
)

// RowVerdict is the output of executing one row. Never mutated after
// creation; owned by the run.
type RowVerdict struct {
	Row             checklist.Row          `json:"row"`
	Verdict         Verdict                `json:"verdict"`
	FailureCode     classify.FailureCode   `json:"failureCode,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	RemediationHint string                 `json:"remediationHint,omitempty"`
	RetryClass      classify.RetryClass    `json:"retryClass"`
	RetryEligible   bool                   `json:"retryEligible"`
	Kind            checklist.ScenarioKind `json:"scenarioKind"`
	Evidence        evidence.Snapshot      `json:"evidence"`
	Elements        browser.ElementCounts  `json:"elements"`
}

// Summary tallies verdicts for a whole run.
type Summary struct {
	Pass    int `json:"PASS"`
	Fail    int `json:"FAIL"`
	Blocked int `json:"BLOCKED"`
}

// RetryStats aggregates retry classification over a run.
type RetryStats struct {
	EligibleRows   int                         `json:"eligibleRows"`
	IneligibleRows int                         `json:"ineligibleRows"`
	TotalRows      int                         `json:"totalRows"`
	ByClass        map[classify.RetryClass]int `json:"byClass"`
	RetryRate      float64                     `json:"retryRate"`
}

func newRetryStats() RetryStats {
	return RetryStats{
		ByClass: map[classify.RetryClass]int{
			classify.RetryNone:         0,
			classify.RetryTransient:    0,
			classify.RetryWeakSignal:   0,
			classify.RetryConditional:  0,
			classify.RetryNonRetryable: 0,
		},
	}
}

func (s *RetryStats) observe(v RowVerdict) {
	s.TotalRows++
	s.ByClass[v.RetryClass]++
	if v.RetryEligible {
		s.EligibleRows++
	} else {
		s.IneligibleRows++
	}
	s.RetryRate = float64(s.EligibleRows) / float64(s.TotalRows)
}
