package engine

import (
	"qaprobe/internal/checklist"
	"qaprobe/internal/config"
)

// ExhaustiveStats records the budgets that shaped a sweep and what the
// sweep actually touched. Reported even when the sweep is disabled so the
// consumer can tell "off" apart from "ran and found nothing".
type ExhaustiveStats struct {
	Enabled             bool   `json:"enabled"`
	ClickBudget         int    `json:"clickBudget"`
	InputBudget         int    `json:"inputBudget"`
	DepthBudget         int    `json:"depthBudget"`
	TimeBudgetMs        int64  `json:"timeBudgetMs"`
	AllowRiskyActions   bool   `json:"allowRiskyActions"`
	FuzzProfile         string `json:"fuzzProfile"`
	ElementsReached     int    `json:"elementsReached"`
	RiskyActionsSkipped int    `json:"riskyActionsSkipped"`
	PagesVisited        int    `json:"pagesVisited"`
	AttemptCount        int    `json:"attemptCount"`
}

// Coverage estimates how much of the observed interactive surface the run
// actually exercised.
type Coverage struct {
	TotalsObserved   int             `json:"totalsObserved"`
	CoveredSignals   int             `json:"coveredSignals"`
	UntestedEstimate int             `json:"untestedEstimate"`
	CoverageRate     float64         `json:"coverageRate"`
	Exhaustive       ExhaustiveStats `json:"exhaustive"`
}

// coveredByRow estimates how many of a row's observed elements its kind of
// assertion actually exercised. A click probe touches one button or link;
// a validation probe touches the form inputs it submitted.
func coveredByRow(v RowVerdict) int {
	c := v.Elements
	switch v.Kind {
	case checklist.KindInteraction, checklist.KindSmoke, checklist.KindAuth:
		covered := 0
		if c.Buttons > 0 {
			covered++
		}
		if c.Links > 0 {
			covered++
		}
		return covered
	case checklist.KindValidation, checklist.KindPublishing:
		covered := c.Forms
		if c.Inputs > 0 {
			covered += c.Inputs
		}
		covered += c.Selects + c.Textareas + c.Editors
		return covered
	default:
		return 0
	}
}

// aggregateCoverage folds row verdicts and the optional fuzz report into
// one coverage figure. Empty input yields explicit zeros, never NaN, and
// covered never exceeds observed.
func aggregateCoverage(verdicts []RowVerdict, fz *FuzzReport, ec config.ExecutionContext) Coverage {
	cov := Coverage{
		Exhaustive: ExhaustiveStats{
			Enabled:           ec.Exhaustive,
			ClickBudget:       ec.GetClickBudget(),
			InputBudget:       ec.GetInputBudget(),
			DepthBudget:       ec.GetDepthBudget(),
			TimeBudgetMs:      ec.GetTimeBudget().Milliseconds(),
			AllowRiskyActions: ec.AllowRiskyAction,
			FuzzProfile:       ec.GetFuzzProfile(),
		},
	}

	for _, v := range verdicts {
		cov.TotalsObserved += v.Elements.Total()
		cov.CoveredSignals += coveredByRow(v)
	}
	if fz != nil {
		cov.Exhaustive.ElementsReached = fz.ElementsReached
		cov.Exhaustive.RiskyActionsSkipped = fz.RiskySkipped
		cov.Exhaustive.PagesVisited = fz.PagesVisited
		cov.Exhaustive.AttemptCount = len(fz.Attempts)
		// Elements the sweep enumerated are observed surface too;
		// counting only the attempts would let a barely-touched page
		// read as fully covered.
		cov.TotalsObserved += fz.ElementsReached
		cov.CoveredSignals += fz.Clicks + fz.Fills
	}

	if cov.CoveredSignals > cov.TotalsObserved {
		cov.CoveredSignals = cov.TotalsObserved
	}
	cov.UntestedEstimate = cov.TotalsObserved - cov.CoveredSignals
	if cov.TotalsObserved > 0 {
		cov.CoverageRate = float64(cov.CoveredSignals) / float64(cov.TotalsObserved)
	}
	return cov
}
