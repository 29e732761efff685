package classify

import "qaprobe/internal/checklist"

// RetryClass says whether a failed row is worth re-attempting and under
// what condition.
type RetryClass string

const (
	RetryNone         RetryClass = "NONE"
	RetryTransient    RetryClass = "TRANSIENT"
	RetryWeakSignal   RetryClass = "WEAK_SIGNAL"
	RetryConditional  RetryClass = "CONDITIONAL"
	RetryNonRetryable RetryClass = "NON_RETRYABLE"
)

// Retry classifies a terminal outcome. An empty failure code means the row
// passed and is never retried. The assertion codes split on scenario kind:
// auth/state mismatches can flip after a reset, while layout and surface
// facts are deterministic.
func Retry(code FailureCode, kind checklist.ScenarioKind) RetryClass {
	if code == "" {
		return RetryNone
	}
	switch code {
	case CodeHTTPError, CodeBlockedTimeout:
		return RetryTransient
	case CodeSelectorNotFound:
		return RetryWeakSignal
	case CodeResponsiveOverflow, CodeInteractionSurfaceLow:
		return RetryNonRetryable
	case CodeNoStateChange, CodeValidationMissing:
		switch kind {
		case checklist.KindAuth, checklist.KindValidation:
			return RetryConditional
		case checklist.KindResponsive, checklist.KindInteraction:
			return RetryNonRetryable
		}
		return RetryConditional
	}
	return RetryConditional
}

// Eligible reports whether a class is worth an automated re-attempt.
func Eligible(class RetryClass) bool {
	switch class {
	case RetryTransient, RetryWeakSignal, RetryConditional:
		return true
	}
	return false
}
