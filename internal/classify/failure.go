// Package classify maps observed execution outcomes onto a closed failure
// taxonomy and decides retry eligibility. Both classifiers are pure and
// total: the engine never emits an unclassified failure, and automation
// errors never surface raw.
package classify

import (
	"context"
	"errors"
	"strings"
)

// FailureCode is one member of the fixed failure enumeration.
type FailureCode string

const (
	CodeHTTPError             FailureCode = "HTTP_ERROR"
	CodeSelectorNotFound      FailureCode = "SELECTOR_NOT_FOUND"
	CodeNoStateChange         FailureCode = "ASSERT_NO_STATE_CHANGE"
	CodeValidationMissing     FailureCode = "ASSERT_VALIDATION_MISSING"
	CodeResponsiveOverflow    FailureCode = "ASSERT_RESPONSIVE_OVERFLOW"
	CodeInteractionSurfaceLow FailureCode = "ASSERT_INTERACTION_SURFACE_LOW"
	CodeBlockedTimeout        FailureCode = "BLOCKED_TIMEOUT"
)

// Codes lists every member of the enumeration.
func Codes() []FailureCode {
	return []FailureCode{
		CodeHTTPError,
		CodeSelectorNotFound,
		CodeNoStateChange,
		CodeValidationMissing,
		CodeResponsiveOverflow,
		CodeInteractionSurfaceLow,
		CodeBlockedTimeout,
	}
}

// Valid reports membership in the closed enumeration.
func Valid(code FailureCode) bool {
	for _, c := range Codes() {
		if c == code {
			return true
		}
	}
	return false
}

var hints = map[FailureCode]string{
	CodeHTTPError:             "Resolve the 4xx/5xx response on the target URL: check routing, permissions, and backend error logs.",
	CodeSelectorNotFound:      "No matching clickable element was found. Pin down the CTA selector/role/text and strengthen accessibility attributes.",
	CodeNoStateChange:         "Click produced no navigation or state signal. Verify routing, modal open state, and disabled conditions.",
	CodeValidationMissing:     "No validation error surfaced. Implement required/invalid handling and render the error message.",
	CodeResponsiveOverflow:    "Horizontal scroll or broken layout suspected on narrow viewports. Check min-width, fixed widths, and table wrapping in the 360-430px range.",
	CodeInteractionSurfaceLow: "Too few interactive elements exposed. Check visibility and disabled conditions on primary CTAs, links, and buttons.",
	CodeBlockedTimeout:        "Page or element load timed out. Check network conditions and raise the wait/retry budget.",
}

// Hint returns the single remediation hint for a code.
func Hint(code FailureCode) string {
	if h, ok := hints[code]; ok {
		return h
	}
	// Coerced inputs land here only if callers bypass Coerce; give the
	// timeout hint, the closest catch-all in the closed set.
	return hints[CodeBlockedTimeout]
}

// Coerce folds an arbitrary automation error into the closest member of
// the enumeration. Never returns an out-of-set value.
func Coerce(err error) FailureCode {
	if err == nil {
		return CodeBlockedTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeBlockedTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CodeBlockedTimeout
	case strings.Contains(msg, "element not found"), strings.Contains(msg, "selector"), strings.Contains(msg, "cannot find"):
		return CodeSelectorNotFound
	case strings.Contains(msg, "http"), strings.Contains(msg, "status"), strings.Contains(msg, "net::"):
		return CodeHTTPError
	default:
		return CodeBlockedTimeout
	}
}
