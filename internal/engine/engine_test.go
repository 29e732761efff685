package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaprobe/internal/browser"
	"qaprobe/internal/checklist"
	"qaprobe/internal/classify"
	"qaprobe/internal/config"
	"qaprobe/internal/evidence"
	"qaprobe/internal/sheet"
)

// fakePage is one canned page served by the fake driver.
type fakePage struct {
	state  browser.PageState
	counts browser.ElementCounts
	items  []browser.Interactable
	links  []string
	scroll int
	inner  int
}

func healthyPage(url string) fakePage {
	return fakePage{
		state: browser.PageState{
			URL:        url,
			Title:      "Dashboard",
			HTTPStatus: 200,
			HTMLSample: "<html><body><button>확인</button><a href='/next'>next</a></body></html>",
		},
		counts: browser.ElementCounts{Buttons: 3, Links: 5, Inputs: 2, Forms: 1},
		scroll: 1440,
		inner:  1440,
	}
}

type fillCall struct {
	item  browser.Interactable
	value string
}

// fakeDriver is a scriptable in-memory Driver.
type fakeDriver struct {
	pages  map[string]fakePage
	navErr map[string]error

	loginErr  error
	clickOK   bool
	clickErr  error
	afterURL  string // URL reported after a successful ClickFirst
	afterHTML string // markup reported after SubmitFirstForm
	submitted bool
	invalid   int
	shotErr   error

	cur     fakePage
	curSet  bool
	viewW   int
	clicked []browser.Interactable
	filled  []fillCall
	closed  bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:     map[string]fakePage{},
		navErr:    map[string]error{},
		clickOK:   true,
		submitted: true,
	}
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) (browser.PageState, error) {
	if err := f.navErr[url]; err != nil {
		return browser.PageState{}, err
	}
	p, ok := f.pages[url]
	if !ok {
		p = healthyPage(url)
	}
	f.cur = p
	f.curSet = true
	return p.state, nil
}

func (f *fakeDriver) State(ctx context.Context) (browser.PageState, error) {
	st := f.cur.state
	if f.afterURL != "" {
		st.URL = f.afterURL
	}
	if f.afterHTML != "" {
		st.HTMLSample = f.afterHTML
	}
	return st, nil
}

func (f *fakeDriver) Login(ctx context.Context, loginURL, userID, password string) error {
	return f.loginErr
}

func (f *fakeDriver) Counts(ctx context.Context) (browser.ElementCounts, error) {
	return f.cur.counts, nil
}

func (f *fakeDriver) ClickFirst(ctx context.Context, labelHint string) (bool, error) {
	return f.clickOK, f.clickErr
}

func (f *fakeDriver) SubmitFirstForm(ctx context.Context) (bool, int, error) {
	return f.submitted, f.invalid, nil
}

func (f *fakeDriver) SetViewport(ctx context.Context, width, height int) error {
	f.viewW = width
	return nil
}

func (f *fakeDriver) ScrollWidths(ctx context.Context) (int, int, error) {
	return f.cur.scroll, f.cur.inner, nil
}

func (f *fakeDriver) Links(ctx context.Context, max int) ([]string, error) {
	return f.cur.links, nil
}

func (f *fakeDriver) Interactables(ctx context.Context, max int) ([]browser.Interactable, error) {
	items := f.cur.items
	if len(items) > max {
		items = items[:max]
	}
	return items, nil
}

func (f *fakeDriver) Click(ctx context.Context, it browser.Interactable) error {
	f.clicked = append(f.clicked, it)
	return nil
}

func (f *fakeDriver) Fill(ctx context.Context, it browser.Interactable, value string) error {
	f.filled = append(f.filled, fillCall{item: it, value: value})
	return nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, path string) error {
	if f.shotErr != nil {
		return f.shotErr
	}
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	driver browser.Driver
	err    error
}

func (f fakeFactory) NewSession(ctx context.Context) (browser.Driver, error) {
	return f.driver, f.err
}

func testEngine(t *testing.T, d browser.Driver) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	return New(fakeFactory{driver: d}, cfg)
}

func newRecorder(t *testing.T) *evidence.Recorder {
	t.Helper()
	return evidence.NewRecorder(t.TempDir(), "test")
}

func runOne(t *testing.T, d browser.Driver, row checklist.RowInput) RowVerdict {
	t.Helper()
	r := checklist.Normalize(row)
	return executeRow(context.Background(), d, newRecorder(t), config.ExecutionContext{}, browser.DefaultConfig(), r, false)
}

func TestRowWithoutNavigableURLIsBlocked(t *testing.T) {
	v := runOne(t, newFakeDriver(), checklist.RowInput{Screen: "홈 화면", Scenario: "버튼 클릭 동작"})

	assert.Equal(t, VerdictBlocked, v.Verdict)
	assert.Equal(t, classify.CodeBlockedTimeout, v.FailureCode)
	assert.Equal(t, classify.RetryNonRetryable, v.RetryClass, "a broken locator does not heal on retry")
	assert.False(t, v.RetryEligible)
	assert.NotZero(t, v.Evidence.Timestamp, "every verdict carries stamped evidence")
}

func TestNavigateTimeoutBlocksWithTransientClass(t *testing.T) {
	d := newFakeDriver()
	d.navErr["https://app.test/home"] = context.DeadlineExceeded

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/home", Scenario: "버튼 클릭"})

	assert.Equal(t, VerdictBlocked, v.Verdict)
	assert.Equal(t, classify.CodeBlockedTimeout, v.FailureCode)
	assert.Equal(t, classify.RetryTransient, v.RetryClass)
	assert.True(t, v.RetryEligible)
	assert.NotZero(t, v.Evidence.Timestamp)
}

func TestHTTPErrorStatusFailsRow(t *testing.T) {
	d := newFakeDriver()
	p := healthyPage("https://app.test/broken")
	p.state.HTTPStatus = 500
	d.pages["https://app.test/broken"] = p

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/broken", Scenario: "클릭 이동"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeHTTPError, v.FailureCode)
	assert.Equal(t, classify.RetryTransient, v.RetryClass)
	assert.NotEmpty(t, v.RemediationHint)
}

func TestInteractionWithNothingClickableIsWeakSignal(t *testing.T) {
	d := newFakeDriver()
	d.clickOK = false

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/home", Scenario: "저장 버튼 클릭"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeSelectorNotFound, v.FailureCode)
	assert.Equal(t, classify.RetryWeakSignal, v.RetryClass)
	assert.True(t, v.RetryEligible)
}

func TestInteractionPassesOnURLChange(t *testing.T) {
	d := newFakeDriver()
	d.afterURL = "https://app.test/detail"

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/home", Scenario: "상세 이동 클릭"})

	assert.Equal(t, VerdictPass, v.Verdict)
	assert.Empty(t, string(v.FailureCode))
	assert.Equal(t, classify.RetryNone, v.RetryClass)
	assert.False(t, v.RetryEligible)
}

func TestInteractionWithoutStateChangeFails(t *testing.T) {
	v := runOne(t, newFakeDriver(), checklist.RowInput{Screen: "https://app.test/home", Scenario: "버튼 클릭 동작"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeNoStateChange, v.FailureCode)
	assert.Equal(t, classify.RetryNonRetryable, v.RetryClass, "state facts on interaction rows do not flip on retry")
}

func TestValidationMissingIsConditional(t *testing.T) {
	d := newFakeDriver()
	d.invalid = 0

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/form", Scenario: "필수 입력 검증"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeValidationMissing, v.FailureCode)
	assert.Equal(t, classify.RetryConditional, v.RetryClass)
	assert.True(t, v.RetryEligible)
}

func TestValidationPassesOnInvalidFlags(t *testing.T) {
	d := newFakeDriver()
	d.invalid = 2

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/form", Scenario: "필수 입력 검증"})

	assert.Equal(t, VerdictPass, v.Verdict)
}

func TestValidationPassesOnRenderedMessage(t *testing.T) {
	d := newFakeDriver()
	d.invalid = 0
	d.afterHTML = "<div class='error'>필수 항목을 입력해 주세요</div>"

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/form", Scenario: "필수 입력 검증"})

	assert.Equal(t, VerdictPass, v.Verdict)
}

func TestResponsiveOverflowIsNonRetryable(t *testing.T) {
	d := newFakeDriver()
	p := healthyPage("https://app.test/list")
	p.scroll = 820
	p.inner = 390
	d.pages["https://app.test/list"] = p

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/list", Scenario: "모바일 반응형 확인"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeResponsiveOverflow, v.FailureCode)
	assert.Equal(t, classify.RetryNonRetryable, v.RetryClass)
	assert.False(t, v.RetryEligible)
	assert.Equal(t, browser.DefaultConfig().GetViewportWidth(), d.viewW, "desktop viewport restored after the mobile pass")
}

func TestAuthGuardSignalPasses(t *testing.T) {
	d := newFakeDriver()
	p := healthyPage("https://app.test/admin")
	p.state.HTMLSample = "<html><body>로그인이 필요합니다</body></html>"
	d.pages["https://app.test/admin"] = p

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/admin", Scenario: "비로그인 접근 차단"})

	assert.Equal(t, VerdictPass, v.Verdict)
}

func TestAuthGuardMissingFailsConditional(t *testing.T) {
	d := newFakeDriver()
	p := healthyPage("https://app.test/admin")
	p.state.Title = "Admin"
	p.state.HTMLSample = "<html><body><table>secret rows</table></body></html>"
	d.pages["https://app.test/admin"] = p

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/admin", Scenario: "비로그인 접근 차단"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeValidationMissing, v.FailureCode)
	assert.Equal(t, classify.RetryConditional, v.RetryClass)
}

func TestSmokeFailsOnLowSurface(t *testing.T) {
	d := newFakeDriver()
	p := healthyPage("https://app.test/empty")
	p.counts = browser.ElementCounts{Links: 1}
	p.state.HTMLSample = "<html><body>almost nothing</body></html>"
	d.pages["https://app.test/empty"] = p

	v := runOne(t, d, checklist.RowInput{Screen: "https://app.test/empty", Scenario: "페이지 표시"})

	assert.Equal(t, VerdictFail, v.Verdict)
	assert.Equal(t, classify.CodeInteractionSurfaceLow, v.FailureCode)
	assert.False(t, v.RetryEligible)
}

func TestExecuteRejectsEmptyRows(t *testing.T) {
	e := testEngine(t, newFakeDriver())

	_, err := e.Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = e.Execute(context.Background(), Request{Rows: []checklist.RowInput{{}}})
	assert.ErrorIs(t, err, ErrNoRows, "rows with no content normalize away")
}

func TestExecuteProducesSummarySheetAndProgress(t *testing.T) {
	d := newFakeDriver()
	d.afterURL = "https://app.test/after"
	broken := healthyPage("https://app.test/broken")
	broken.state.HTTPStatus = 404
	d.pages["https://app.test/broken"] = broken

	e := testEngine(t, d)

	var progress []int
	res, err := e.Execute(context.Background(), Request{
		Rows: []checklist.RowInput{
			{Screen: "https://app.test/home", Scenario: "버튼 클릭 이동"},
			{Screen: "https://app.test/broken", Scenario: "버튼 클릭 이동"},
			{Screen: "없는 화면", Scenario: "버튼 클릭"},
		},
		Progress: func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, Summary{Pass: 1, Fail: 1, Blocked: 1}, res.Summary)
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, 3, res.RetryStats.TotalRows)
	assert.InDelta(t, 2.0/3.0, res.RetryStats.RetryRate, 1e-9)
	assert.True(t, d.closed, "session released after the run")

	require.NotEmpty(t, res.FinalSheet.CSVPath)
	if _, err := os.Stat(res.FinalSheet.CSVPath); err != nil {
		t.Errorf("final sheet not on disk: %v", err)
	}

	for _, v := range res.Rows {
		assert.NotZero(t, v.Evidence.Timestamp, "row %s has no evidence", v.Row.Target)
	}
	for i := 1; i < len(res.Rows); i++ {
		assert.GreaterOrEqual(t, res.Rows[i].Evidence.Timestamp, res.Rows[i-1].Evidence.Timestamp)
	}
}

func TestLoginFailureBlocksEveryRow(t *testing.T) {
	d := newFakeDriver()
	d.loginErr = context.DeadlineExceeded
	e := testEngine(t, d)

	res, err := e.Execute(context.Background(), Request{
		Rows: []checklist.RowInput{
			{Screen: "https://app.test/a", Scenario: "버튼 클릭"},
			{Screen: "https://app.test/b", Scenario: "필수 입력 검증"},
		},
		Auth: &checklist.AuthDescriptor{LoginURL: "https://app.test/login", UserID: "qa", Password: "pw"},
	})
	require.NoError(t, err)

	assert.False(t, res.LoginUsed)
	assert.Equal(t, 2, res.Summary.Blocked)
	for _, v := range res.Rows {
		assert.Equal(t, VerdictBlocked, v.Verdict)
		assert.NotZero(t, v.Evidence.Timestamp)
	}
}

func TestSheetKeepsDistinctChecksOnSameScreen(t *testing.T) {
	// Two legacy rows probe the same screen with the same inferred kind
	// but different checks; the sheet must keep both validation points.
	rowA := checklist.Normalize(checklist.RowInput{Screen: "https://app.test/home", Scenario: "저장 버튼 클릭"})
	rowB := checklist.Normalize(checklist.RowInput{Screen: "https://app.test/home", Scenario: "목록 링크 이동"})
	verdicts := []RowVerdict{
		{Row: rowA, Verdict: VerdictPass, Kind: rowA.Kind, Reason: "URL changed"},
		{Row: rowB, Verdict: VerdictFail, Kind: rowB.Kind,
			FailureCode: classify.CodeNoStateChange, Reason: "no state change"},
	}

	rows := sheet.Assemble(toRecords(verdicts), 0)

	require.Len(t, rows, 2, "distinct checks on one screen must not merge")
	results := []string{rows[0].Result, rows[1].Result}
	assert.Contains(t, results, "PASS")
	assert.Contains(t, results, "FAIL")
}

func TestReconfigureAppliesToNextRun(t *testing.T) {
	d := newFakeDriver()
	e := testEngine(t, d)

	req := Request{Rows: []checklist.RowInput{{Screen: "https://app.test/home", Scenario: "버튼 클릭"}}}
	first, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	next := config.Default()
	next.OutputDir = t.TempDir()
	e.Reconfigure(next)

	second, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, filepath.Dir(first.FinalSheet.CSVPath), filepath.Dir(second.FinalSheet.CSVPath))
	assert.Equal(t, next.OutputDir, filepath.Dir(second.FinalSheet.CSVPath), "new output dir used after reload")
	if _, err := os.Stat(second.FinalSheet.CSVPath); err != nil {
		t.Errorf("sheet not written under the reloaded output dir: %v", err)
	}
}

func TestCoverageZeroOnEmptyRun(t *testing.T) {
	cov := aggregateCoverage(nil, nil, config.ExecutionContext{})

	assert.Zero(t, cov.TotalsObserved)
	assert.Zero(t, cov.CoveredSignals)
	assert.Zero(t, cov.UntestedEstimate)
	assert.Zero(t, cov.CoverageRate)
	assert.False(t, cov.Exhaustive.Enabled)
}

func TestCoverageCountsFuzzReachedElements(t *testing.T) {
	fz := &FuzzReport{ElementsReached: 10, Clicks: 2, Fills: 1}

	cov := aggregateCoverage(nil, fz, config.ExecutionContext{})

	assert.Equal(t, 10, cov.TotalsObserved, "enumerated elements are observed surface")
	assert.Equal(t, 3, cov.CoveredSignals)
	assert.Equal(t, 7, cov.UntestedEstimate)
	assert.InDelta(t, 0.3, cov.CoverageRate, 1e-9)
}

func TestCoverageNeverExceedsObserved(t *testing.T) {
	verdicts := []RowVerdict{{
		Kind:     checklist.KindValidation,
		Elements: browser.ElementCounts{Inputs: 1, Forms: 1},
	}}
	fz := &FuzzReport{Clicks: 50, Fills: 50}

	cov := aggregateCoverage(verdicts, fz, config.ExecutionContext{})

	assert.Equal(t, cov.TotalsObserved, cov.CoveredSignals)
	assert.Zero(t, cov.UntestedEstimate)
	assert.Equal(t, 1.0, cov.CoverageRate)
}
