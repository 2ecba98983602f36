package pwdriver

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// textArg converts locator text into what Playwright accepts: a compiled
// regexp for /pattern/flags literals, otherwise the string plus the exact
// flag. Exact does not apply to regular expressions.
func textArg(text string, exact bool) (interface{}, *bool, error) {
	if _, _, ok := browser.SplitRegexLiteral(text); ok {
		m, err := browser.NewTextMatcher(text, exact)
		if err != nil {
			return nil, nil, err
		}
		return m.Regexp(), nil, nil
	}
	return text, playwright.Bool(exact), nil
}

func cssOrXPath(sel browser.Selector) string {
	if sel.IsXPath() {
		return "xpath=" + sel.Value
	}
	return sel.Value
}

func pageLocator(p playwright.Page, sel browser.Selector) (playwright.Locator, error) {
	switch sel.Kind {
	case browser.ByRole:
		opts := playwright.PageGetByRoleOptions{}
		if sel.Name != "" {
			name, exact, err := textArg(sel.Name, sel.Exact)
			if err != nil {
				return nil, err
			}
			opts.Name, opts.Exact = name, exact
		}
		return p.GetByRole(playwright.AriaRole(sel.Value), opts), nil
	case browser.ByLabel:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return p.GetByLabel(text, playwright.PageGetByLabelOptions{Exact: exact}), nil
	case browser.ByText:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return p.GetByText(text, playwright.PageGetByTextOptions{Exact: exact}), nil
	case browser.ByTitle:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return p.GetByTitle(text, playwright.PageGetByTitleOptions{Exact: exact}), nil
	case browser.ByCSS:
		return p.Locator(cssOrXPath(sel)), nil
	}
	return nil, fmt.Errorf("unsupported selector kind %q", sel.Kind)
}

func childLocator(l playwright.Locator, sel browser.Selector) (playwright.Locator, error) {
	switch sel.Kind {
	case browser.ByRole:
		opts := playwright.LocatorGetByRoleOptions{}
		if sel.Name != "" {
			name, exact, err := textArg(sel.Name, sel.Exact)
			if err != nil {
				return nil, err
			}
			opts.Name, opts.Exact = name, exact
		}
		return l.GetByRole(playwright.AriaRole(sel.Value), opts), nil
	case browser.ByLabel:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return l.GetByLabel(text, playwright.LocatorGetByLabelOptions{Exact: exact}), nil
	case browser.ByText:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return l.GetByText(text, playwright.LocatorGetByTextOptions{Exact: exact}), nil
	case browser.ByTitle:
		text, exact, err := textArg(sel.Value, sel.Exact)
		if err != nil {
			return nil, err
		}
		return l.GetByTitle(text, playwright.LocatorGetByTitleOptions{Exact: exact}), nil
	case browser.ByCSS:
		return l.Locator(cssOrXPath(sel)), nil
	}
	return nil, fmt.Errorf("unsupported selector kind %q", sel.Kind)
}
