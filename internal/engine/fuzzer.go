package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"qaprobe/internal/browser"
	"qaprobe/internal/evidence"
	"qaprobe/internal/logging"
)

// FuzzBudget bounds an exhaustive sweep. Every dimension is a hard cap;
// the sweep stops the moment any of them is exhausted.
type FuzzBudget struct {
	Clicks     int           `json:"clicks"`     // click attempts per page
	Inputs     int           `json:"inputs"`     // input attempts per page
	Depth      int           `json:"depth"`      // link traversal depth from seed pages
	TimeBudget time.Duration `json:"-"`          // wall clock across the whole sweep
	AllowRisky bool          `json:"allowRisky"` // permit destructive-looking labels
	Profile    string        `json:"profile"`    // input value profile name
}

// FuzzAttempt is the micro-evidence for one interaction attempt.
type FuzzAttempt struct {
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	Label     string `json:"label,omitempty"`
	Value     string `json:"value,omitempty"`
	OK        bool   `json:"ok"`
	Timestamp int64  `json:"timestamp"`
}

// FuzzReport is the outcome of one exhaustive sweep.
type FuzzReport struct {
	Attempts        []FuzzAttempt `json:"attempts"`
	ElementsReached int           `json:"elementsReached"`
	RiskySkipped    int           `json:"riskyActionsSkipped"`
	PagesVisited    int           `json:"pagesVisited"`
	Clicks          int           `json:"clicks"`
	Fills           int           `json:"fills"`
	TimedOut        bool          `json:"timedOut"`
}

// riskyLabels marks element labels the fuzzer must never trigger unless
// explicitly allowed: anything that could destroy, publish, or spend.
var riskyLabels = []string{
	"delete", "remove", "pay", "purchase", "publish", "withdraw", "submit order",
	"삭제", "제거", "결제", "구매", "발행", "게시", "탈퇴", "주문",
}

func isRisky(label string) bool {
	low := strings.ToLower(label)
	for _, r := range riskyLabels {
		if strings.Contains(low, r) {
			return true
		}
	}
	return false
}

// fuzzValues returns the typed probe values for an input element under the
// typed-input-v1 profile: one plausible value and one hostile value per
// recognized input type.
func fuzzValues(it browser.Interactable) []string {
	switch it.InputType {
	case "email":
		return []string{"qa@example.com", "invalid-email"}
	case "tel":
		return []string{"01012345678", "010-12"}
	case "number":
		return []string{"1", "-999999999"}
	case "date":
		return []string{"2026-01-01", "1900-01-01"}
	case "password":
		return []string{"Aa123456!", "1234"}
	case "url":
		return []string{"https://example.com", "not-a-url"}
	case "search":
		return []string{"qa-auto", "<script>probe</script>"}
	default:
		return []string{"qa-auto"}
	}
}

// fuzzer walks pages breadth-first in document order and probes every
// interactable within budget. Determinism contract: identical page content
// and budget yield identical attempt sequences, because enumeration order
// is document order and budgets are consumed in that order.
type fuzzer struct {
	driver browser.Driver
	rec    *evidence.Recorder
	budget FuzzBudget
	report FuzzReport

	deadline time.Time
	visited  map[string]bool
}

type fuzzTarget struct {
	url   string
	depth int
}

// fuzz sweeps the given seed URLs. seeds preserve caller order; duplicates
// are visited once.
func fuzz(ctx context.Context, d browser.Driver, seeds []string, b FuzzBudget, rec *evidence.Recorder) FuzzReport {
	f := &fuzzer{
		driver:   d,
		rec:      rec,
		budget:   b,
		deadline: time.Now().Add(b.TimeBudget),
		visited:  make(map[string]bool),
	}

	queue := make([]fuzzTarget, 0, len(seeds))
	for _, s := range seeds {
		queue = append(queue, fuzzTarget{url: s, depth: 0})
	}

	for len(queue) > 0 {
		if f.expired(ctx) {
			break
		}
		next := queue[0]
		queue = queue[1:]
		if f.visited[next.url] {
			continue
		}
		f.visited[next.url] = true

		discovered := f.sweepPage(ctx, next)
		queue = append(queue, discovered...)
	}
	return f.report
}

func (f *fuzzer) expired(ctx context.Context) bool {
	if ctx.Err() != nil || time.Now().After(f.deadline) {
		f.report.TimedOut = true
		return true
	}
	return false
}

// sweepPage probes one page and returns same-origin links to enqueue.
func (f *fuzzer) sweepPage(ctx context.Context, t fuzzTarget) []fuzzTarget {
	if _, err := f.driver.Navigate(ctx, t.url); err != nil {
		logging.EngineDebug("fuzz navigate %s failed: %v", t.url, err)
		return nil
	}
	f.report.PagesVisited++

	var discovered []fuzzTarget
	if t.depth < f.budget.Depth {
		if links, err := f.driver.Links(ctx, 80); err == nil {
			for _, href := range links {
				if sameOrigin(t.url, href) && !f.visited[href] {
					discovered = append(discovered, fuzzTarget{url: href, depth: t.depth + 1})
				}
			}
		}
	}

	items, err := f.driver.Interactables(ctx, 50)
	if err != nil {
		logging.EngineDebug("fuzz enumerate on %s failed: %v", t.url, err)
		return discovered
	}
	f.report.ElementsReached += len(items)

	clicks, fills := 0, 0
	for _, it := range items {
		if f.expired(ctx) {
			break
		}
		switch it.Kind {
		case "button", "link":
			if clicks >= f.budget.Clicks {
				continue
			}
			if isRisky(it.Label) && !f.budget.AllowRisky {
				f.report.RiskySkipped++
				continue
			}
			err := f.driver.Click(ctx, it)
			f.record(t.url, it, "", err == nil)
			clicks++
			f.report.Clicks++
		case "input", "textarea":
			if fills >= f.budget.Inputs {
				continue
			}
			for _, v := range fuzzValues(it) {
				if fills >= f.budget.Inputs || f.expired(ctx) {
					break
				}
				err := f.driver.Fill(ctx, it, v)
				f.record(t.url, it, v, err == nil)
				fills++
				f.report.Fills++
			}
		case "select":
			if fills >= f.budget.Inputs {
				continue
			}
			err := f.driver.Fill(ctx, it, "")
			f.record(t.url, it, "", err == nil)
			fills++
			f.report.Fills++
		}
	}
	return discovered
}

func (f *fuzzer) record(pageURL string, it browser.Interactable, value string, ok bool) {
	f.report.Attempts = append(f.report.Attempts, FuzzAttempt{
		URL:       pageURL,
		Kind:      it.Kind,
		Label:     it.Label,
		Value:     value,
		OK:        ok,
		Timestamp: f.rec.Stamp(),
	})
}

func sameOrigin(base, candidate string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return b.Scheme == c.Scheme && b.Host == c.Host
}
