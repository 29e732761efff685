// Package browser provides the automation boundary between the execution
// engine and a live Chrome instance. The engine only ever talks to the
// Driver interface; rod errors never cross it untyped.
package browser

import "context"

// PageState is the observable state of the current page.
type PageState struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	HTTPStatus int    `json:"httpStatus"`
	HTMLSample string `json:"-"` // first ~40KB of markup, for signal scans
}

// ElementCounts tallies the interactive surface of the current page.
type ElementCounts struct {
	Buttons   int `json:"buttons"`
	Links     int `json:"links"`
	Inputs    int `json:"inputs"`
	Selects   int `json:"selects"`
	Textareas int `json:"textareas"`
	Editors   int `json:"editors"`
	Forms     int `json:"forms"`
}

// Total sums every tracked signal category.
func (c ElementCounts) Total() int {
	return c.Buttons + c.Links + c.Inputs + c.Selects + c.Textareas + c.Editors + c.Forms
}

// Surface is the clickable surface used by the smoke assertion.
func (c ElementCounts) Surface() int {
	return c.Buttons + c.Links
}

// Interactable identifies one interactive element discovered on the page,
// in document order. Index is stable for the lifetime of the enumeration.
type Interactable struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"` // button, link, input, select, textarea
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	InputType   string `json:"inputType,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Href        string `json:"href,omitempty"`
}

// Driver is what one run owns: an isolated authenticated page context.
// Implementations convert automation-layer failures into plain errors; the
// engine classifies them, it never sees raw library exceptions.
type Driver interface {
	// Navigate loads a URL and reports the resulting page state.
	Navigate(ctx context.Context, url string) (PageState, error)
	// State re-reads the current page without navigating.
	State(ctx context.Context) (PageState, error)
	// Login establishes the run session. Best effort form fill on loginURL.
	Login(ctx context.Context, loginURL, userID, password string) error
	// Counts tallies interactive elements on the current page.
	Counts(ctx context.Context) (ElementCounts, error)
	// ClickFirst clicks the first clickable element, preferring ones whose
	// text matches labelHint. Returns false when nothing clickable exists.
	ClickFirst(ctx context.Context, labelHint string) (bool, error)
	// SubmitFirstForm submits the first form empty and reports how many
	// inputs the browser flagged :invalid.
	SubmitFirstForm(ctx context.Context) (submitted bool, invalidCount int, err error)
	// SetViewport resizes the emulated viewport.
	SetViewport(ctx context.Context, width, height int) error
	// ScrollWidths reports document scrollWidth vs window innerWidth.
	ScrollWidths(ctx context.Context) (scrollWidth, innerWidth int, err error)
	// Links lists same-document anchor hrefs in document order.
	Links(ctx context.Context, max int) ([]string, error)
	// Interactables enumerates interactive elements in document order.
	Interactables(ctx context.Context, max int) ([]Interactable, error)
	// Click clicks a previously enumerated element.
	Click(ctx context.Context, it Interactable) error
	// Fill types a value into a previously enumerated element.
	Fill(ctx context.Context, it Interactable, value string) error
	// Screenshot writes a full-page capture to path.
	Screenshot(ctx context.Context, path string) error
	// Close releases the page context. The run that created the session is
	// its only owner.
	Close() error
}

// SessionFactory mints one isolated Driver per run.
type SessionFactory interface {
	NewSession(ctx context.Context) (Driver, error)
}
