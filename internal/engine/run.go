package engine

import (
	"context"
	"fmt"
	"strings"

	"qaprobe/internal/browser"
	"qaprobe/internal/checklist"
	"qaprobe/internal/classify"
	"qaprobe/internal/config"
	"qaprobe/internal/evidence"
	"qaprobe/internal/logging"
)

// rowState tracks how far a single row progressed. Forward-only; a row
// that cannot advance terminates with a verdict at its current state.
type rowState string

const (
	statePending       rowState = "PENDING"
	stateNavigated     rowState = "NAVIGATED"
	stateAuthenticated rowState = "AUTHENTICATED"
	stateInteracted    rowState = "INTERACTED"
	stateAsserted      rowState = "ASSERTED"
)

// rowRun holds the mutable state of one row execution. One goroutine only.
type rowRun struct {
	driver  browser.Driver
	rec     *evidence.Recorder
	row     checklist.Row
	state   rowState
	page    browser.PageState
	counts  browser.ElementCounts
	session bool // an authenticated session was established before this row

	deskW, deskH int // viewport to restore after the mobile re-render
}

// executeRow drives a single row through navigate, interact, and assert.
// The returned verdict always carries evidence, a hint when it failed, and
// a retry classification.
func executeRow(ctx context.Context, d browser.Driver, rec *evidence.Recorder, ec config.ExecutionContext, bc browser.Config, row checklist.Row, session bool) RowVerdict {
	ctx, cancel := context.WithTimeout(ctx, ec.GetRowTimeout())
	defer cancel()

	rr := &rowRun{
		driver:  d,
		rec:     rec,
		row:     row,
		state:   statePending,
		session: session,
		deskW:   bc.GetViewportWidth(),
		deskH:   bc.GetViewportHeight(),
	}
	return rr.run(ctx)
}

func (rr *rowRun) run(ctx context.Context) RowVerdict {
	url := checklist.PickURL(rr.row.Target)
	if !checklist.IsHTTP(url) {
		// A broken locator is a checklist authoring problem, not a flake;
		// re-running the same row can never heal it.
		v := rr.finish(ctx, VerdictBlocked, classify.CodeBlockedTimeout,
			fmt.Sprintf("no navigable URL in target %q", rr.row.Target))
		v.RetryClass = classify.RetryNonRetryable
		v.RetryEligible = false
		return v
	}

	page, err := rr.driver.Navigate(ctx, url)
	if err != nil {
		code := classify.Coerce(err)
		verdict := VerdictBlocked
		if code == classify.CodeHTTPError {
			verdict = VerdictFail
		}
		return rr.finish(ctx, verdict, code, fmt.Sprintf("navigation failed: %v", err))
	}
	rr.page = page
	rr.state = stateNavigated
	if rr.session {
		rr.state = stateAuthenticated
	}

	if page.HTTPStatus >= 400 {
		return rr.finish(ctx, VerdictFail, classify.CodeHTTPError,
			fmt.Sprintf("document responded with HTTP %d", page.HTTPStatus))
	}

	// Counts are best effort; a miss degrades coverage, not the verdict.
	if counts, err := rr.driver.Counts(ctx); err == nil {
		rr.counts = counts
	} else {
		logging.EngineDebug("element count failed on %s: %v", url, err)
	}

	verdict, code, reason := rr.interactAndAssert(ctx)
	return rr.finish(ctx, verdict, code, reason)
}

// interactAndAssert dispatches on scenario kind. Each handler performs the
// kind's interaction (if any) and evaluates its assertion, returning a
// terminal verdict with an in-set failure code on anything but PASS.
func (rr *rowRun) interactAndAssert(ctx context.Context) (Verdict, classify.FailureCode, string) {
	switch rr.row.Kind {
	case checklist.KindAuth:
		return rr.assertAuthGuard(ctx)
	case checklist.KindValidation:
		return rr.assertValidation(ctx)
	case checklist.KindInteraction:
		return rr.assertInteraction(ctx)
	case checklist.KindResponsive:
		return rr.assertResponsive(ctx)
	case checklist.KindPublishing:
		return rr.assertPublishing(ctx)
	default:
		return rr.assertSmoke(ctx)
	}
}

var authSignals = []string{"login", "sign in", "unauthorized", "forbidden", "로그인", "권한", "인증"}

// assertAuthGuard checks that a protected screen pushes an unauthenticated
// (or under-privileged) visitor toward an auth boundary: a login-ish URL,
// title, or guard message in the rendered markup.
func (rr *rowRun) assertAuthGuard(ctx context.Context) (Verdict, classify.FailureCode, string) {
	haystack := strings.ToLower(rr.page.URL + " " + rr.page.Title + " " + rr.page.HTMLSample)
	for _, sig := range authSignals {
		if strings.Contains(haystack, sig) {
			return VerdictPass, "", fmt.Sprintf("auth guard signal %q observed", sig)
		}
	}
	if rr.page.HTTPStatus == 401 || rr.page.HTTPStatus == 403 {
		return VerdictPass, "", fmt.Sprintf("auth guard responded with HTTP %d", rr.page.HTTPStatus)
	}
	return VerdictFail, classify.CodeValidationMissing,
		"no auth guard signal: page rendered without login redirect or block message"
}

var validationSignals = []string{"required", "invalid", "필수", "유효하지", "입력해", "입력 해", "형식이"}

// assertValidation submits the first form empty and expects the page to
// push back: browser-native :invalid flags or a rendered error message.
func (rr *rowRun) assertValidation(ctx context.Context) (Verdict, classify.FailureCode, string) {
	submitted, invalid, err := rr.driver.SubmitFirstForm(ctx)
	if err != nil {
		return rr.coerced(err, "form submit failed")
	}
	rr.state = stateInteracted

	if !submitted {
		return VerdictFail, classify.CodeSelectorNotFound, "no form found to exercise validation"
	}
	if invalid > 0 {
		return VerdictPass, "", fmt.Sprintf("browser flagged %d field(s) invalid on empty submit", invalid)
	}

	after, err := rr.driver.State(ctx)
	if err == nil {
		rr.page = after
		low := strings.ToLower(after.HTMLSample)
		for _, sig := range validationSignals {
			if strings.Contains(low, sig) {
				return VerdictPass, "", fmt.Sprintf("validation message %q rendered after empty submit", sig)
			}
		}
	}
	return VerdictFail, classify.CodeValidationMissing,
		"empty submit produced no invalid flags and no validation message"
}

var stateChangeSignals = []string{"modal", "dialog", "toast", "alert", "open", "active", "selected", "loading", "success", "완료", "성공"}

// assertInteraction clicks the row's element (best match by label) and
// expects an observable state change: URL move or a state marker in markup.
func (rr *rowRun) assertInteraction(ctx context.Context) (Verdict, classify.FailureCode, string) {
	before := rr.page
	clicked, err := rr.driver.ClickFirst(ctx, rr.row.Element)
	if err != nil {
		return rr.coerced(err, "click failed")
	}
	if !clicked {
		return VerdictFail, classify.CodeSelectorNotFound,
			fmt.Sprintf("no clickable element matched %q", rr.row.Element)
	}
	rr.state = stateInteracted

	after, err := rr.driver.State(ctx)
	if err != nil {
		return rr.coerced(err, "post-click state read failed")
	}
	rr.page = after

	if after.URL != before.URL {
		return VerdictPass, "", fmt.Sprintf("URL changed %s -> %s", before.URL, after.URL)
	}
	low := strings.ToLower(after.HTMLSample)
	for _, sig := range stateChangeSignals {
		if strings.Contains(low, sig) && !strings.Contains(strings.ToLower(before.HTMLSample), sig) {
			return VerdictPass, "", fmt.Sprintf("state marker %q appeared after click", sig)
		}
	}
	return VerdictFail, classify.CodeNoStateChange,
		"click landed but neither URL nor page state changed"
}

const (
	mobileWidth  = 390
	mobileHeight = 844
	// Sub-pixel rounding and scrollbar gutters produce a few px of slack
	// on healthy pages; only a real overflow should fail.
	mobileOverflowSlack  = 20
	desktopOverflowSlack = 30
)

// assertResponsive re-renders at a phone viewport and fails on horizontal
// overflow. Restores the desktop viewport before returning so later rows
// see the configured size.
func (rr *rowRun) assertResponsive(ctx context.Context) (Verdict, classify.FailureCode, string) {
	if err := rr.driver.SetViewport(ctx, mobileWidth, mobileHeight); err != nil {
		return rr.coerced(err, "viewport resize failed")
	}
	rr.state = stateInteracted
	defer func() {
		if err := rr.driver.SetViewport(ctx, rr.deskW, rr.deskH); err != nil {
			logging.BrowserWarn("viewport restore failed: %v", err)
		}
	}()

	scroll, inner, err := rr.driver.ScrollWidths(ctx)
	if err != nil {
		return rr.coerced(err, "scroll width read failed")
	}
	if scroll > inner+mobileOverflowSlack {
		return VerdictFail, classify.CodeResponsiveOverflow,
			fmt.Sprintf("horizontal overflow at %dpx viewport: scrollWidth %d > innerWidth %d", mobileWidth, scroll, inner)
	}
	return VerdictPass, "", fmt.Sprintf("no horizontal overflow at %dpx viewport", mobileWidth)
}

// assertPublishing checks layout integrity at the desktop viewport: the
// document must not scroll sideways beyond slack.
func (rr *rowRun) assertPublishing(ctx context.Context) (Verdict, classify.FailureCode, string) {
	scroll, inner, err := rr.driver.ScrollWidths(ctx)
	if err != nil {
		return rr.coerced(err, "scroll width read failed")
	}
	if scroll > inner+desktopOverflowSlack {
		return VerdictFail, classify.CodeResponsiveOverflow,
			fmt.Sprintf("layout overflow: scrollWidth %d exceeds innerWidth %d", scroll, inner)
	}
	return VerdictPass, "", "layout fits the viewport"
}

var errPageSignals = []string{"404", "not found", "internal server error", "에러가 발생", "오류가 발생"}

// assertSmoke is the fallback health probe: the page must carry a title,
// must not render an error template, and must expose a minimal clickable
// surface.
func (rr *rowRun) assertSmoke(ctx context.Context) (Verdict, classify.FailureCode, string) {
	low := strings.ToLower(rr.page.Title + " " + rr.page.HTMLSample)
	for _, sig := range errPageSignals {
		if strings.Contains(low, sig) {
			return VerdictFail, classify.CodeHTTPError,
				fmt.Sprintf("error page signal %q in rendered content", sig)
		}
	}
	if strings.TrimSpace(rr.page.Title) == "" {
		return VerdictFail, classify.CodeInteractionSurfaceLow, "page rendered without a title"
	}
	if len(strings.TrimSpace(rr.page.HTMLSample)) < 200 {
		return VerdictFail, classify.CodeInteractionSurfaceLow,
			fmt.Sprintf("rendered markup is only %d bytes", len(rr.page.HTMLSample))
	}
	if rr.counts.Surface() < 2 {
		return VerdictFail, classify.CodeInteractionSurfaceLow,
			fmt.Sprintf("only %d clickable element(s) exposed", rr.counts.Surface())
	}
	return VerdictPass, "", fmt.Sprintf("title present, %d interactive elements", rr.counts.Total())
}

// coerced folds a driver error into a terminal verdict. Timeouts block the
// row; everything else fails it with the coerced code.
func (rr *rowRun) coerced(err error, what string) (Verdict, classify.FailureCode, string) {
	code := classify.Coerce(err)
	verdict := VerdictFail
	if code == classify.CodeBlockedTimeout {
		verdict = VerdictBlocked
	}
	return verdict, code, fmt.Sprintf("%s: %v", what, err)
}

// finish seals the row: screenshot (best effort), evidence snapshot,
// retry classification. Evidence is never nil, even when the page never
// loaded.
func (rr *rowRun) finish(ctx context.Context, verdict Verdict, code classify.FailureCode, reason string) RowVerdict {
	rr.state = stateAsserted

	shot := ""
	if rr.page.URL != "" {
		path := rr.rec.NextScreenshotPath()
		if err := rr.driver.Screenshot(ctx, path); err != nil {
			logging.BrowserWarn("screenshot failed for %s: %v", rr.page.URL, err)
		} else {
			shot = path
		}
	}
	snap := rr.rec.Capture(rr.page.URL, rr.page.Title, rr.page.HTTPStatus, string(rr.row.Kind), shot)

	hint := ""
	if code != "" {
		hint = classify.Hint(code)
	}
	class := classify.Retry(code, rr.row.Kind)

	return RowVerdict{
		Row:             rr.row,
		Verdict:         verdict,
		FailureCode:     code,
		Reason:          reason,
		RemediationHint: hint,
		RetryClass:      class,
		RetryEligible:   classify.Eligible(class),
		Kind:            rr.row.Kind,
		Evidence:        snap,
		Elements:        rr.counts,
	}
}
