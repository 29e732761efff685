package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"qaprobe/internal/browser"
	"qaprobe/internal/checklist"
	"qaprobe/internal/classify"
	"qaprobe/internal/config"
	"qaprobe/internal/evidence"
	"qaprobe/internal/logging"
	"qaprobe/internal/sheet"
)

// ErrNoRows is returned when a request carries no executable rows.
var ErrNoRows = errors.New("at least one checklist row is required")

// Request is one execution order: the rows to run plus run-scoped options.
type Request struct {
	Rows    []checklist.RowInput      `json:"rows"`
	Context config.ExecutionContext   `json:"context"`
	Auth    *checklist.AuthDescriptor `json:"auth,omitempty"`

	// Progress, when set, is called after each row with (completed, total).
	// Invoked from the run goroutine; keep it fast.
	Progress func(completed, total int) `json:"-"`
}

// Result is the complete outcome of one run.
type Result struct {
	OK               bool                           `json:"ok"`
	RunID            string                         `json:"runId"`
	Summary          Summary                        `json:"summary"`
	Coverage         Coverage                       `json:"coverage"`
	RetryStats       RetryStats                     `json:"retryStats"`
	Rows             []RowVerdict                   `json:"rows"`
	FinalSheet       sheet.Artifacts                `json:"finalSheet"`
	LoginUsed        bool                           `json:"loginUsed"`
	FailureCodeHints map[classify.FailureCode]string `json:"failureCodeHints,omitempty"`
	DurationMs       int64                          `json:"durationMs"`
}

// Engine executes checklist runs. One Engine serves many runs; each run
// gets its own browser session, evidence recorder, and sheet.
type Engine struct {
	sessions browser.SessionFactory

	// Reconfigure may swap these between runs; a run snapshots them once
	// at its start.
	mu       sync.RWMutex
	browserC browser.Config
	outDir   string
	project  string
	writer   *sheet.Writer
	xlsx     sheet.XLSXRenderer
}

// New creates an engine from the loaded configuration.
func New(sessions browser.SessionFactory, cfg config.Config) *Engine {
	e := &Engine{sessions: sessions}
	e.Reconfigure(cfg)
	return e
}

// Reconfigure applies a freshly loaded configuration to subsequent runs.
// In-flight runs keep the settings they started with. Browser launch
// settings and the listen address are fixed at process start; this covers
// the per-run knobs (output location, project name, viewport).
func (e *Engine) Reconfigure(cfg config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.browserC = cfg.Browser
	e.outDir = cfg.OutputDir
	e.project = cfg.Project
	e.writer = sheet.NewWriter(cfg.OutputDir)
	if e.xlsx != nil {
		e.writer.SetXLSXRenderer(e.xlsx)
	}
	logging.Engine("engine configuration applied: project %s, output %s", cfg.Project, cfg.OutputDir)
}

// SetXLSXRenderer enables xlsx sheet output.
func (e *Engine) SetXLSXRenderer(r sheet.XLSXRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.xlsx = r
	e.writer.SetXLSXRenderer(r)
}

// Execute runs one checklist synchronously and returns the full result.
// Returns an error only when the run could not start at all (no rows, no
// browser); once rows begin executing, failures become verdicts instead.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if len(req.Rows) == 0 {
		return nil, ErrNoRows
	}
	rows := checklist.NormalizeAll(req.Rows)
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if max := req.Context.GetMaxRows(); len(rows) > max {
		logging.Engine("row cap: executing %d of %d submitted rows", max, len(rows))
		rows = rows[:max]
	}

	e.mu.RLock()
	browserC, outDir, project, writer := e.browserC, e.outDir, e.project, e.writer
	e.mu.RUnlock()

	runID := uuid.New().String()[:8]
	started := time.Now()
	rec := evidence.NewRecorder(filepath.Join(outDir, "evidence"), runID)
	logging.Engine("run %s: %d row(s), exhaustive=%v", runID, len(rows), req.Context.Exhaustive)

	driver, err := e.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	defer driver.Close()

	loginUsed, loginErr := e.login(ctx, driver, req.Auth)

	verdicts := make([]RowVerdict, 0, len(rows))
	stats := newRetryStats()
	var summary Summary
	for i, row := range rows {
		var v RowVerdict
		if loginErr != nil {
			v = blockedByLogin(rec, row, loginErr)
		} else {
			v = executeRow(ctx, driver, rec, req.Context, browserC, row, loginUsed)
		}
		verdicts = append(verdicts, v)
		stats.observe(v)
		switch v.Verdict {
		case VerdictPass:
			summary.Pass++
		case VerdictFail:
			summary.Fail++
		default:
			summary.Blocked++
		}
		logging.Engine("run %s row %d/%d: %s %s", runID, i+1, len(rows), v.Verdict, v.FailureCode)
		if req.Progress != nil {
			req.Progress(i+1, len(rows))
		}
	}

	var fz *FuzzReport
	if req.Context.Exhaustive && loginErr == nil {
		report := fuzz(ctx, driver, seedURLs(rows), FuzzBudget{
			Clicks:     req.Context.GetClickBudget(),
			Inputs:     req.Context.GetInputBudget(),
			Depth:      req.Context.GetDepthBudget(),
			TimeBudget: req.Context.GetTimeBudget(),
			AllowRisky: req.Context.AllowRiskyAction,
			Profile:    req.Context.GetFuzzProfile(),
		}, rec)
		fz = &report
		logging.Engine("run %s fuzz: %d page(s), %d element(s), %d attempt(s), %d risky skipped",
			runID, report.PagesVisited, report.ElementsReached, len(report.Attempts), report.RiskySkipped)
	}

	artifacts, err := writer.Write(runID, sheet.Assemble(toRecords(verdicts), req.Context.GetMaxRows()), sheet.Tally{
		Project:     project,
		RunID:       runID,
		Pass:        summary.Pass,
		Fail:        summary.Fail,
		Blocked:     summary.Blocked,
		GeneratedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		// Verdicts are still good; report the run with an empty sheet.
		logging.Sheet("run %s: sheet write failed: %v", runID, err)
	}

	return &Result{
		OK:               true,
		RunID:            runID,
		Summary:          summary,
		Coverage:         aggregateCoverage(verdicts, fz, req.Context),
		RetryStats:       stats,
		Rows:             verdicts,
		FinalSheet:       artifacts,
		LoginUsed:        loginUsed,
		FailureCodeHints: hintsFor(verdicts),
		DurationMs:       time.Since(started).Milliseconds(),
	}, nil
}

// login establishes the shared session when credentials are present.
// A failed login poisons the whole run: every row is blocked, because
// executing protected screens unauthenticated would produce false FAILs.
func (e *Engine) login(ctx context.Context, d browser.Driver, auth *checklist.AuthDescriptor) (bool, error) {
	if auth == nil || !auth.Complete() {
		return false, nil
	}
	if err := d.Login(ctx, auth.LoginURL, auth.UserID, auth.Password); err != nil {
		logging.Engine("login failed on %s: %v", auth.LoginURL, err)
		return false, err
	}
	logging.Engine("login succeeded for %s", auth.UserID)
	return true, nil
}

func blockedByLogin(rec *evidence.Recorder, row checklist.Row, loginErr error) RowVerdict {
	code := classify.Coerce(loginErr)
	class := classify.Retry(code, row.Kind)
	return RowVerdict{
		Row:             row,
		Verdict:         VerdictBlocked,
		FailureCode:     code,
		Reason:          fmt.Sprintf("run login failed: %v", loginErr),
		RemediationHint: classify.Hint(code),
		RetryClass:      class,
		RetryEligible:   classify.Eligible(class),
		Kind:            row.Kind,
		Evidence:        rec.Capture("", "", 0, string(row.Kind), ""),
	}
}

// seedURLs collects the distinct navigable URLs of a run in row order.
func seedURLs(rows []checklist.Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		u := checklist.PickURL(r.Target)
		if !checklist.IsHTTP(u) || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// toRecords decomposes verdicts into sheet records. Each row yields a
// field, an action, and an assertion record sharing one merge key, the
// shape external sheet producers use. Legacy rows carry no element or
// action, so the scenario text stands in for the action: two different
// checks on the same screen must stay two validation points.
func toRecords(verdicts []RowVerdict) []sheet.Record {
	records := make([]sheet.Record, 0, len(verdicts)*3)
	for _, v := range verdicts {
		field := v.Row.Element
		if field == "" {
			field = v.Row.Target
		}
		action := v.Row.Action
		if action == "" {
			action = v.Row.Scenario
		}
		if action == "" {
			action = string(v.Kind)
		}

		records = append(records,
			sheet.Record{Kind: sheet.KindField, Field: field, Action: action, Evidence: v.Evidence},
			sheet.Record{Kind: sheet.KindAction, Field: field, Action: action, Evidence: v.Evidence},
		)

		assertion := sheet.Record{
			Kind:   sheet.KindAssertion,
			Field:  field,
			Action: action,
			Assertion: &sheet.Assertion{
				Expected:    v.Row.Expected,
				Observed:    v.Reason,
				Pass:        v.Verdict == VerdictPass,
				FailureCode: string(v.FailureCode),
			},
			Evidence: v.Evidence,
		}
		if v.FailureCode != "" {
			assertion.Error = &sheet.ErrorDetail{Code: string(v.FailureCode), Reason: v.Reason}
		}
		records = append(records, assertion)
	}
	return records
}

func hintsFor(verdicts []RowVerdict) map[classify.FailureCode]string {
	out := make(map[classify.FailureCode]string)
	for _, v := range verdicts {
		if v.FailureCode != "" {
			out[v.FailureCode] = classify.Hint(v.FailureCode)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
