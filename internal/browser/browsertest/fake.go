// Package browsertest provides an in-memory browser.Page for exercising the
// interpreter without a real browser. Elements form a static tree; callbacks
// on elements let tests model pages that react to clicks.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// Element is a node in the fake document.
type Element struct {
	Role    string
	Name    string
	Label   string
	Text    string
	Title   string
	Value   string
	Options []string
	// Selectors lists the CSS or XPath strings this element answers to.
	Selectors []string
	Attrs     map[string]string
	Hidden    bool
	// VisibleAfter hides the element for that many visibility checks.
	VisibleAfter int
	Disabled     bool
	Children     []*Element

	// OnClick runs with the page lock released after a successful click.
	OnClick func(p *Page)
	// ClickErr and SelectErr make the respective operation fail.
	ClickErr  error
	SelectErr error

	checks int
}

// AllText is the element's own text followed by its descendants' text.
func (e *Element) AllText() string {
	parts := []string{e.Text}
	for _, c := range e.Children {
		parts = append(parts, c.AllText())
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Op is one recorded page interaction.
type Op struct {
	Kind   string
	Target string
	Value  string
}

func (o Op) String() string {
	if o.Value == "" {
		return o.Kind + " " + o.Target
	}
	return fmt.Sprintf("%s %s %q", o.Kind, o.Target, o.Value)
}

// Page is a fake browser.Page.
type Page struct {
	mu       sync.Mutex
	roots    []*Element
	ops      []Op
	url      string
	videoDir string
	video    string
	closed   bool

	// GotoErr fails navigation.
	GotoErr error
}

var _ browser.Page = (*Page)(nil)

// NewPage builds a page over the given top-level elements.
func NewPage(roots ...*Element) *Page {
	return &Page{roots: roots}
}

// SetRoots replaces the document.
func (p *Page) SetRoots(roots ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = roots
}

// Add appends top-level elements.
func (p *Page) Add(els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = append(p.roots, els...)
}

// Ops returns a copy of the recorded interactions.
func (p *Page) Ops() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Op(nil), p.ops...)
}

// OpKinds lists "kind target" for every op of the given kinds, or all ops
// when no kind is given.
func (p *Page) OpKinds(kinds ...string) []string {
	var out []string
	for _, op := range p.Ops() {
		if len(kinds) > 0 && !contains(kinds, op.Kind) {
			continue
		}
		out = append(out, op.Kind+" "+op.Target)
	}
	return out
}

// URL is the last navigated address.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) record(kind, target, value string) {
	p.ops = append(p.ops, Op{Kind: kind, Target: target, Value: value})
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("goto", url, "")
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.url = url
	return ctx.Err()
}

func (p *Page) Locate(sel browser.Selector) browser.Locator {
	return &Locator{page: p, steps: []step{{sel: &sel}}}
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("keyboard", key, "")
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	p.record("screenshot", filepath.Base(path), "")
	p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("\x89PNG"), 0o644)
}

// SetVideoDir enables a fake recording written on Close.
func (p *Page) SetVideoDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoDir = dir
}

func (p *Page) VideoPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.record("close", "", "")
	if p.videoDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.videoDir, 0o755); err != nil {
		return err
	}
	p.video = filepath.Join(p.videoDir, "page.webm")
	return os.WriteFile(p.video, []byte("webm"), 0o644)
}

// Driver hands out one pre-built Page.
type Driver struct {
	Page       *Page
	NewPageErr error
	closed     bool
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) NewPage(_ context.Context, opts browser.PageOptions) (browser.Page, error) {
	if d.NewPageErr != nil {
		return nil, d.NewPageErr
	}
	if opts.VideoDir != "" {
		d.Page.SetVideoDir(opts.VideoDir)
	}
	return d.Page, nil
}

func (d *Driver) Close(context.Context) error {
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool { return d.closed }

type step struct {
	sel     *browser.Selector
	hasText string
	hasNot  string
	filter  bool
	nth     int
	isNth   bool
}

// Locator is a fake browser.Locator resolved against the page on every call.
type Locator struct {
	page  *Page
	steps []step
}

var _ browser.Locator = (*Locator)(nil)

func (l *Locator) with(s step) *Locator {
	steps := append(append([]step(nil), l.steps...), s)
	return &Locator{page: l.page, steps: steps}
}

func (l *Locator) Locate(sel browser.Selector) browser.Locator { return l.with(step{sel: &sel}) }
func (l *Locator) Filter(hasText, hasNot string) browser.Locator {
	return l.with(step{filter: true, hasText: hasText, hasNot: hasNot})
}
func (l *Locator) Nth(i int) browser.Locator { return l.with(step{nth: i, isNth: true}) }

func (l *Locator) String() string {
	var parts []string
	for _, s := range l.steps {
		switch {
		case s.sel != nil:
			parts = append(parts, s.sel.String())
		case s.filter:
			parts = append(parts, fmt.Sprintf("filter(hasText=%q, hasNot=%q)", s.hasText, s.hasNot))
		case s.isNth:
			parts = append(parts, fmt.Sprintf("nth=%d", s.nth))
		}
	}
	return strings.Join(parts, " >> ")
}

// resolve must be called with the page lock held.
func (l *Locator) resolve() ([]*Element, error) {
	var current []*Element
	for i, s := range l.steps {
		switch {
		case s.sel != nil:
			m, err := newMatcher(*s.sel)
			if err != nil {
				return nil, err
			}
			var next []*Element
			if i == 0 {
				walk(l.page.roots, func(e *Element) {
					if m(e) {
						next = append(next, e)
					}
				})
			} else {
				for _, parent := range current {
					walk(parent.Children, func(e *Element) {
						if m(e) {
							next = append(next, e)
						}
					})
				}
			}
			current = next
		case s.filter:
			var next []*Element
			for _, e := range current {
				text := strings.ToLower(e.AllText())
				if s.hasText != "" && !strings.Contains(text, strings.ToLower(s.hasText)) {
					continue
				}
				if s.hasNot != "" && strings.Contains(text, strings.ToLower(s.hasNot)) {
					continue
				}
				next = append(next, e)
			}
			current = next
		case s.isNth:
			if s.nth < len(current) {
				current = []*Element{current[s.nth]}
			} else {
				current = nil
			}
		}
	}
	return current, nil
}

func (l *Locator) first() (*Element, error) {
	els, err := l.resolve()
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", l, browser.ErrNotFound)
	}
	return els[0], nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	els, err := l.resolve()
	return len(els), err
}

func (l *Locator) visible() (bool, error) {
	els, err := l.resolve()
	if err != nil || len(els) == 0 {
		return false, err
	}
	e := els[0]
	if e.checks < e.VisibleAfter {
		e.checks++
		return false, nil
	}
	return !e.Hidden, nil
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	ok, err := l.visible()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s after %s: %w", l, timeout, browser.ErrTimeout)
	}
	return ctx.Err()
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return l.visible()
}

func (l *Locator) Click(ctx context.Context) error {
	l.page.mu.Lock()
	e, err := l.first()
	if err != nil {
		l.page.mu.Unlock()
		return err
	}
	l.page.record("click", l.String(), "")
	if e.ClickErr != nil {
		l.page.mu.Unlock()
		return e.ClickErr
	}
	hook := e.OnClick
	l.page.mu.Unlock()
	if hook != nil {
		hook(l.page)
	}
	return ctx.Err()
}

func (l *Locator) Hover(ctx context.Context) error {
	return l.do("hover", "", func(*Element) error { return nil })
}

func (l *Locator) Highlight(ctx context.Context) error {
	return l.do("highlight", "", func(*Element) error { return nil })
}

func (l *Locator) Fill(ctx context.Context, value string) error {
	return l.do("fill", value, func(e *Element) error {
		if e.Disabled {
			return fmt.Errorf("%s is disabled", l)
		}
		e.Value = value
		return nil
	})
}

func (l *Locator) Press(ctx context.Context, key string) error {
	return l.do("press", key, func(e *Element) error {
		if key == "Backspace" && e.Value != "" {
			e.Value = e.Value[:len(e.Value)-1]
		}
		return nil
	})
}

func (l *Locator) SelectOption(ctx context.Context, value string) error {
	return l.do("select", value, func(e *Element) error {
		if e.SelectErr != nil {
			return e.SelectErr
		}
		if !contains(e.Options, value) {
			return fmt.Errorf("%s has no option %q", l, value)
		}
		e.Value = value
		return nil
	})
}

func (l *Locator) do(kind, value string, fn func(*Element) error) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	e, err := l.first()
	if err != nil {
		return err
	}
	l.page.record(kind, l.String(), value)
	return fn(e)
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	e, err := l.first()
	if err != nil {
		return "", err
	}
	return e.AllText(), nil
}

func (l *Locator) InputValue(ctx context.Context) (string, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	e, err := l.first()
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	e, err := l.first()
	if err != nil {
		return "", false, err
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func newMatcher(sel browser.Selector) (func(*Element) bool, error) {
	switch sel.Kind {
	case browser.ByRole:
		if sel.Name == "" {
			return func(e *Element) bool { return e.Role == sel.Value }, nil
		}
		tm, err := browser.NewTextMatcher(sel.Name, sel.Exact)
		if err != nil {
			return nil, err
		}
		return func(e *Element) bool { return e.Role == sel.Value && tm.Match(e.Name) }, nil
	case browser.ByCSS:
		return func(e *Element) bool { return contains(e.Selectors, sel.Value) }, nil
	}

	tm, err := browser.NewTextMatcher(sel.Value, sel.Exact)
	if err != nil {
		return nil, err
	}
	field := map[browser.SelectorKind]func(*Element) string{
		browser.ByLabel: func(e *Element) string { return e.Label },
		browser.ByText:  func(e *Element) string { return e.Text },
		browser.ByTitle: func(e *Element) string { return e.Title },
	}[sel.Kind]
	if field == nil {
		return nil, fmt.Errorf("unknown selector kind %q", sel.Kind)
	}
	return func(e *Element) bool {
		v := field(e)
		return v != "" && tm.Match(v)
	}, nil
}

func walk(els []*Element, fn func(*Element)) {
	for _, e := range els {
		fn(e)
		walk(e.Children, fn)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
