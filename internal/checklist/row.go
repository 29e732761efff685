// Package checklist defines the row schemas accepted by the execution
// engine and normalizes them into one canonical internal shape.
//
// Two row schemas coexist in the wild:
//   - legacy 4-field rows (screen / category / scenario / check)
//   - extended 5-field rows (module / element / action / expected / category)
//
// Both are accepted at ingestion. When a row carries both, the extended
// fields drive execution and the legacy fields are preserved for display.
package checklist

import "strings"

// ScenarioKind tags what a row is fundamentally probing for.
type ScenarioKind string

const (
	KindAuth        ScenarioKind = "AUTH"
	KindValidation  ScenarioKind = "VALIDATION"
	KindInteraction ScenarioKind = "INTERACTION"
	KindResponsive  ScenarioKind = "RESPONSIVE"
	KindPublishing  ScenarioKind = "PUBLISHING"
	KindSmoke       ScenarioKind = "SMOKE"
)

// RowInput is the wire shape for a checklist row. It carries both the
// legacy and extended field sets; Normalize collapses them.
type RowInput struct {
	// Extended schema.
	Module   string `json:"module,omitempty" yaml:"module,omitempty"`
	Element  string `json:"element,omitempty" yaml:"element,omitempty"`
	Action   string `json:"action,omitempty" yaml:"action,omitempty"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// Legacy schema.
	Screen   string `json:"screen,omitempty" yaml:"screen,omitempty"`
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Check    string `json:"check,omitempty" yaml:"check,omitempty"`
}

// Row is the canonical internal row. Immutable input; the engine appends
// outcome fields on its own verdict type, never here.
type Row struct {
	Target   string       // URL or logical module locator
	Category string
	Scenario string
	Element  string
	Action   string
	Expected string
	Kind     ScenarioKind
	Legacy   bool // true when only the legacy field set was present
}

// Normalize collapses a RowInput into the canonical Row. Extended fields
// take priority; legacy fields fill the gaps.
func Normalize(in RowInput) Row {
	target := strings.TrimSpace(in.Module)
	if target == "" {
		target = strings.TrimSpace(in.Screen)
	}

	scenario := strings.TrimSpace(in.Scenario)
	if scenario == "" {
		scenario = strings.TrimSpace(strings.Trim(in.Action+" - "+in.Expected, " -"))
	}

	r := Row{
		Target:   target,
		Category: strings.TrimSpace(in.Category),
		Scenario: scenario,
		Element:  strings.TrimSpace(in.Element),
		Action:   strings.TrimSpace(in.Action),
		Expected: strings.TrimSpace(in.Expected),
		Legacy:   in.Element == "" && in.Action == "" && in.Expected == "",
	}
	if r.Expected == "" {
		r.Expected = strings.TrimSpace(in.Check)
	}
	r.Kind = InferKind(r.Scenario, r.Category)
	return r
}

// NormalizeAll maps a batch of inputs, dropping rows with no usable content.
func NormalizeAll(in []RowInput) []Row {
	out := make([]Row, 0, len(in))
	for _, ri := range in {
		r := Normalize(ri)
		if r.Target == "" && r.Scenario == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PickURL extracts the first URL-ish token from a target locator.
// Locators may carry annotations after "|" or whitespace.
func PickURL(target string) string {
	s := strings.TrimSpace(target)
	if s == "" {
		return ""
	}
	s = strings.TrimSpace(strings.SplitN(s, "|", 2)[0])
	return strings.TrimSpace(strings.SplitN(s, " ", 2)[0])
}

// IsHTTP reports whether the locator resolves to a navigable URL.
func IsHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

var kindKeywords = []struct {
	kind ScenarioKind
	keys []string
}{
	{KindAuth, []string{"권한", "비로그인", "접근 차단", "redirect", "리다이렉트", "보안", "unauthorized"}},
	{KindValidation, []string{"유효성", "입력", "필수", "에러", "오류", "실패", "validation", "required", "invalid"}},
	{KindResponsive, []string{"반응형", "모바일", "해상도", "키보드", "responsive", "mobile", "viewport"}},
	{KindPublishing, []string{"퍼블리싱", "정렬", "간격", "디자인", "깨짐", "layout", "overflow"}},
	{KindInteraction, []string{"버튼", "클릭", "이동", "동작", "링크", "click", "button", "link", "submit"}},
}

// InferKind derives the scenario kind from free-text scenario and category.
// Falls back to SMOKE when nothing matches.
func InferKind(scenario, category string) ScenarioKind {
	s := strings.ToLower(scenario + " " + category)
	for _, kk := range kindKeywords {
		for _, k := range kk.keys {
			if strings.Contains(s, k) {
				return kk.kind
			}
		}
	}
	return KindSmoke
}

// AuthDescriptor carries the optional run-level login credentials.
// Used at most once per run; the resulting session is shared by all rows.
type AuthDescriptor struct {
	LoginURL string `json:"loginUrl" yaml:"login_url"`
	UserID   string `json:"userId" yaml:"user_id"`
	Password string `json:"password" yaml:"password"`
}

// Complete reports whether the descriptor has everything needed to log in.
func (a AuthDescriptor) Complete() bool {
	return strings.TrimSpace(a.LoginURL) != "" &&
		strings.TrimSpace(a.UserID) != "" &&
		strings.TrimSpace(a.Password) != ""
}
