package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"qaprobe/internal/logging"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string `yaml:"debugger_url" json:"debugger_url"`
	Bin                 string `yaml:"bin" json:"bin"`
	Headless            bool   `yaml:"headless" json:"headless"`
	ViewportWidth       int    `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height" json:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms" json:"navigation_timeout_ms"`
	StepTimeoutMs       int    `yaml:"step_timeout_ms" json:"step_timeout_ms"`
}

// DefaultConfig returns sensible defaults for unattended QA runs.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1440,
		ViewportHeight:      900,
		NavigationTimeoutMs: 30000,
		StepTimeoutMs:       1500,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1440
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// StepTimeout returns the per-interaction timeout.
func (c Config) StepTimeout() time.Duration {
	if c.StepTimeoutMs == 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// Manager owns the Chrome instance and mints one isolated session per run.
// Sessions never share a page context; concurrent runs get separate
// incognito contexts.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
}

// NewManager creates a manager. Chrome is launched lazily on first session.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.Browser("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			launch = launch.Bin(m.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = browser
	return nil
}

// Shutdown closes the browser.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}

// NewSession opens a fresh incognito page context for one run.
func (m *Manager) NewSession(ctx context.Context) (Driver, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &Session{page: page, cfg: m.cfg}
	if err := s.SetViewport(ctx, m.cfg.GetViewportWidth(), m.cfg.GetViewportHeight()); err != nil {
		logging.BrowserWarn("set viewport: %v", err)
	}
	return s, nil
}

// Session is one run's exclusive page context.
type Session struct {
	page *rod.Page
	cfg  Config

	mu         sync.Mutex
	lastStatus int
	handles    []*rod.Element // from the last Interactables enumeration
}

var _ Driver = (*Session)(nil)

// interactableSelector enumerates the interactive surface in document order.
const interactableSelector = "button, [role='button'], input, select, textarea, a[href]"

// Navigate loads url and waits for the document response and load event.
func (s *Session) Navigate(ctx context.Context, url string) (PageState, error) {
	page := s.page.Context(ctx)

	var status int
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status = e.Response.Status
			return true
		}
		return false
	})

	if err := page.Timeout(s.cfg.NavigationTimeout()).Navigate(url); err != nil {
		return PageState{}, fmt.Errorf("navigate %s: %w", url, err)
	}

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.NavigationTimeout()):
	case <-ctx.Done():
		return PageState{}, ctx.Err()
	}

	_ = page.Timeout(s.cfg.NavigationTimeout()).WaitLoad()

	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()
	return s.State(ctx)
}

// State re-reads the current page.
func (s *Session) State(ctx context.Context) (PageState, error) {
	page := s.page.Context(ctx)
	info, err := page.Info()
	if err != nil {
		return PageState{}, fmt.Errorf("page info: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		html = ""
	}
	if len(html) > 40000 {
		html = html[:40000]
	}
	s.mu.Lock()
	status := s.lastStatus
	s.mu.Unlock()
	return PageState{URL: info.URL, Title: info.Title, HTTPStatus: status, HTMLSample: html}, nil
}

// Login fills the first recognizable login form and submits it.
func (s *Session) Login(ctx context.Context, loginURL, userID, password string) error {
	if _, err := s.Navigate(ctx, loginURL); err != nil {
		return err
	}
	page := s.page.Context(ctx)

	pws, err := page.Elements("input[type='password']")
	if err != nil || len(pws) == 0 {
		return errors.New("login form not found: no password input")
	}
	if err := pws[0].Input(password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	uids, err := page.Elements("input[type='email'], input[name*='id' i], input[name*='user' i], input[type='text']")
	if err != nil || len(uids) == 0 {
		return errors.New("login form not found: no user id input")
	}
	if err := uids[0].Input(userID); err != nil {
		return fmt.Errorf("fill user id: %w", err)
	}

	submits, _ := page.Elements("button[type='submit'], input[type='submit']")
	if len(submits) > 0 {
		if err := submits[0].Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click login submit: %w", err)
		}
	} else {
		el, err := page.Timeout(s.cfg.StepTimeout()).ElementR("button", "(?i)login|sign in|로그인")
		if err != nil {
			return fmt.Errorf("login submit not found: %w", err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click login submit: %w", err)
		}
	}

	time.Sleep(1200 * time.Millisecond) // settle time for the post-login redirect
	return nil
}

// Counts tallies interactive elements on the current page.
func (s *Session) Counts(ctx context.Context) (ElementCounts, error) {
	var counts ElementCounts
	err := s.evalInto(ctx, `
	() => ({
	  buttons: document.querySelectorAll("button,[role='button'],input[type='button'],input[type='submit']").length,
	  links: document.querySelectorAll("a[href]").length,
	  inputs: document.querySelectorAll("input").length,
	  selects: document.querySelectorAll("select").length,
	  textareas: document.querySelectorAll("textarea").length,
	  editors: document.querySelectorAll("[contenteditable='true'], .ql-editor, .toastui-editor-contents, .ck-editor__editable").length,
	  forms: document.querySelectorAll("form").length,
	})
	`, &counts)
	if err != nil {
		return ElementCounts{}, fmt.Errorf("collect element counts: %w", err)
	}
	return counts, nil
}

// ClickFirst clicks the first clickable element, preferring a label match.
func (s *Session) ClickFirst(ctx context.Context, labelHint string) (bool, error) {
	page := s.page.Context(ctx)
	var candidates []*rod.Element
	for _, sel := range []string{"button, [role='button'], input[type='button'], input[type='submit']", "a[href]"} {
		els, err := page.Elements(sel)
		if err != nil {
			continue
		}
		candidates = append(candidates, els...)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	ordered := candidates
	if hint := strings.ToLower(strings.TrimSpace(labelHint)); hint != "" {
		for i, el := range candidates {
			text, err := el.Text()
			if err == nil && strings.Contains(strings.ToLower(text), hint) {
				ordered = append([]*rod.Element{el}, append(candidates[:i:i], candidates[i+1:]...)...)
				break
			}
		}
	}

	var lastErr error
	for _, el := range ordered {
		if err := el.Timeout(s.cfg.StepTimeout()).Click(proto.InputMouseButtonLeft, 1); err != nil {
			lastErr = err
			continue
		}
		time.Sleep(600 * time.Millisecond)
		return true, nil
	}
	return false, fmt.Errorf("all click attempts failed: %w", lastErr)
}

// SubmitFirstForm submits the first form empty and counts :invalid inputs.
func (s *Session) SubmitFirstForm(ctx context.Context) (bool, int, error) {
	page := s.page.Context(ctx)
	submitted := false

	forms, _ := page.Elements("form")
	if len(forms) > 0 {
		btns, _ := forms[0].Elements("button[type='submit'], input[type='submit']")
		if len(btns) > 0 {
			if err := btns[0].Timeout(s.cfg.StepTimeout()).Click(proto.InputMouseButtonLeft, 1); err == nil {
				submitted = true
			}
		}
	}
	if !submitted {
		btns, _ := page.Elements("button[type='submit'], input[type='submit']")
		if len(btns) > 0 {
			if err := btns[0].Timeout(s.cfg.StepTimeout()).Click(proto.InputMouseButtonLeft, 1); err == nil {
				submitted = true
			}
		}
	}
	time.Sleep(500 * time.Millisecond)

	var invalid int
	if err := s.evalInto(ctx, `() => document.querySelectorAll(":invalid").length`, &invalid); err != nil {
		return submitted, 0, nil // invalid count is best effort
	}
	return submitted, invalid, nil
}

// SetViewport resizes the emulated viewport.
func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	return (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            width < 800,
	}).Call(s.page.Context(ctx))
}

// ScrollWidths reports document scrollWidth vs window innerWidth.
func (s *Session) ScrollWidths(ctx context.Context) (int, int, error) {
	var widths struct {
		Scroll int `json:"scroll"`
		Inner  int `json:"inner"`
	}
	err := s.evalInto(ctx, `
	() => ({
	  scroll: Math.max(document.documentElement.scrollWidth, document.body ? document.body.scrollWidth : 0),
	  inner: window.innerWidth,
	})
	`, &widths)
	if err != nil {
		return 0, 0, fmt.Errorf("measure widths: %w", err)
	}
	return widths.Scroll, widths.Inner, nil
}

// Links lists anchor hrefs in document order.
func (s *Session) Links(ctx context.Context, max int) ([]string, error) {
	var hrefs []string
	err := s.evalInto(ctx, fmt.Sprintf(`
	() => Array.from(document.querySelectorAll("a[href]")).map(a => a.href).filter(Boolean).slice(0, %d)
	`, max), &hrefs)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return hrefs, nil
}

// Interactables enumerates interactive elements in document order and
// caches their handles so Click/Fill can address them by index.
func (s *Session) Interactables(ctx context.Context, max int) ([]Interactable, error) {
	page := s.page.Context(ctx)
	els, err := page.Elements(interactableSelector)
	if err != nil {
		return nil, fmt.Errorf("enumerate elements: %w", err)
	}
	if len(els) > max {
		els = els[:max]
	}

	out := make([]Interactable, 0, len(els))
	handles := make([]*rod.Element, 0, len(els))
	for i, el := range els {
		it := Interactable{Index: i}

		tagRes, err := el.Eval(`() => this.tagName.toLowerCase()`)
		if err != nil {
			continue
		}
		switch tag := tagRes.Value.Str(); tag {
		case "a":
			it.Kind = "link"
		case "button":
			it.Kind = "button"
		case "select", "textarea":
			it.Kind = tag
		case "input":
			it.Kind = "input"
			if t, _ := el.Attribute("type"); t != nil {
				it.InputType = strings.ToLower(*t)
			}
			if it.InputType == "button" || it.InputType == "submit" {
				it.Kind = "button"
			}
			if it.InputType == "hidden" {
				continue
			}
		default:
			it.Kind = "button" // role='button' on arbitrary tags
		}

		if text, err := el.Text(); err == nil {
			it.Label = truncate(strings.TrimSpace(text), 80)
		}
		if n, _ := el.Attribute("name"); n != nil {
			it.Name = *n
		}
		if p, _ := el.Attribute("placeholder"); p != nil {
			it.Placeholder = *p
		}
		if h, _ := el.Attribute("href"); h != nil {
			it.Href = *h
		}

		it.Index = len(handles)
		out = append(out, it)
		handles = append(handles, el)
	}

	s.mu.Lock()
	s.handles = handles
	s.mu.Unlock()
	return out, nil
}

func (s *Session) handle(it Interactable) (*rod.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.Index < 0 || it.Index >= len(s.handles) {
		return nil, fmt.Errorf("stale element reference: index %d of %d", it.Index, len(s.handles))
	}
	return s.handles[it.Index], nil
}

// Click clicks a previously enumerated element.
func (s *Session) Click(ctx context.Context, it Interactable) error {
	el, err := s.handle(it)
	if err != nil {
		return err
	}
	return el.Timeout(s.cfg.StepTimeout()).Click(proto.InputMouseButtonLeft, 1)
}

// Fill types a value into a previously enumerated element.
func (s *Session) Fill(ctx context.Context, it Interactable, value string) error {
	el, err := s.handle(it)
	if err != nil {
		return err
	}
	if it.Kind == "select" {
		_, err := el.Eval(`() => {
			if (this.options.length > 0) {
				this.selectedIndex = 0;
				this.dispatchEvent(new Event("change", { bubbles: true }));
			}
		}`)
		return err
	}
	return el.Timeout(s.cfg.StepTimeout()).Input(value)
}

// Screenshot writes a full-page capture to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	data, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Close releases the page context.
func (s *Session) Close() error {
	return s.page.Close()
}

// evalInto runs a JS expression and unmarshals the result into out.
func (s *Session) evalInto(ctx context.Context, js string, out any) error {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
