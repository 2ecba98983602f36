package interpreter

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// Resolver turns an action's structured locator fields into a browser.Locator.
type Resolver struct {
	strict bool
}

// NewResolver creates a resolver. In strict mode Target rejects a locator
// that matches several elements when the action names no index.
func NewResolver(strict bool) *Resolver {
	return &Resolver{strict: strict}
}

// SelectorFor maps one locator step onto a browser selector.
func SelectorFor(spec schemas.LocatorSpec) (browser.Selector, error) {
	switch spec.LocatorType {
	case schemas.LocatorByRole:
		return browser.Role(spec.Selector, spec.Params.Name, spec.Params.Exact), nil
	case schemas.LocatorByLabel:
		return browser.Label(textOf(spec), spec.Params.Exact), nil
	case schemas.LocatorByText:
		return browser.Text(textOf(spec), spec.Params.Exact), nil
	case schemas.LocatorByTitle:
		return browser.Title(textOf(spec), spec.Params.Exact), nil
	case schemas.LocatorGenericSelector:
		return browser.CSS(spec.Selector), nil
	}
	return browser.Selector{}, &UnknownLocatorError{Type: spec.LocatorType}
}

// textOf prefers the selector and falls back to the name option, which some
// recorded actions use for text locators.
func textOf(spec schemas.LocatorSpec) string {
	if spec.Selector != "" {
		return spec.Selector
	}
	return spec.Params.Name
}

// Resolve returns the possibly multi-element set the action addresses.
//
// With an additional filter, the primary set is filtered by its text
// predicates and the child locator is then resolved inside each surviving
// element. Without one, the child locator is chained directly.
func (r *Resolver) Resolve(page browser.Page, a schemas.Action) (browser.Locator, error) {
	primary, err := SelectorFor(a.Locator())
	if err != nil {
		return nil, err
	}
	var child *browser.Selector
	if a.ChildLocator != nil {
		sel, err := SelectorFor(*a.ChildLocator)
		if err != nil {
			return nil, err
		}
		child = &sel
	}

	set := page.Locate(primary)
	if !a.AdditionalFilter.IsZero() {
		set = set.Filter(a.AdditionalFilter.HasText, a.AdditionalFilter.HasNot)
		if child != nil {
			set = set.Locate(*child)
		}
		return set, nil
	}
	if child != nil {
		set = set.Locate(*child)
	}
	return set, nil
}

// Target picks the single element to act on: the action's nth when set,
// otherwise the first match.
func (r *Resolver) Target(ctx context.Context, set browser.Locator, a schemas.Action) (browser.Locator, error) {
	if a.Nth != nil {
		if *a.Nth < 0 {
			return nil, fmt.Errorf("negative index %d", *a.Nth)
		}
		return set.Nth(*a.Nth), nil
	}
	if r.strict {
		n, err := set.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting matches for %s: %w", set, err)
		}
		if n > 1 {
			return nil, &AmbiguousMatchError{Locator: set.String(), Count: n}
		}
	}
	return set.Nth(0), nil
}
