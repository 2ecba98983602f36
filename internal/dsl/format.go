package dsl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

var locatorNames = map[schemas.LocatorType]string{
	schemas.LocatorByRole:          "getByRole",
	schemas.LocatorByLabel:         "getByLabel",
	schemas.LocatorByText:          "getByText",
	schemas.LocatorByTitle:         "getByTitle",
	schemas.LocatorGenericSelector: "locator",
}

// Format renders the canonical expression for the structured fields of a.
// Parse(Format(a)) yields the same locator, verb and value.
func Format(a schemas.Action) (string, error) {
	chain, err := formatLocatorChain(a)
	if err != nil {
		return "", err
	}

	switch a.ActionVerb {
	case schemas.VerbClick:
		return chain + ".click()", nil
	case schemas.VerbFill:
		return chain + ".fill(" + quote(a.Input()) + ")", nil
	case schemas.VerbPress:
		return chain + ".press(" + quote(a.Input()) + ")", nil
	case schemas.VerbSelectOption:
		return chain + ".selectOption(" + quote(a.Input()) + ")", nil
	case schemas.VerbGetText:
		return chain + ".textContent()", nil
	case schemas.VerbExpect:
		if _, ok := assertionMethods[string(a.AssertionType)]; !ok {
			return "", fmt.Errorf("%w: assertion %q", ErrUnsupported, a.AssertionType)
		}
		args := ""
		if a.AssertionType != schemas.AssertToBeVisible {
			args = quote(a.Input())
		}
		return fmt.Sprintf("expect(page.%s).%s(%s)", chain, a.AssertionType, args), nil
	}
	return "", fmt.Errorf("%w: verb %q", ErrUnsupported, a.ActionVerb)
}

func formatLocatorChain(a schemas.Action) (string, error) {
	primary, err := formatLocator(a.Locator())
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(primary)

	if !a.AdditionalFilter.IsZero() {
		var opts []string
		if a.AdditionalFilter.HasText != "" {
			opts = append(opts, "hasText: "+quote(a.AdditionalFilter.HasText))
		}
		if a.AdditionalFilter.HasNot != "" {
			opts = append(opts, "hasNotText: "+quote(a.AdditionalFilter.HasNot))
		}
		b.WriteString(".filter({ " + strings.Join(opts, ", ") + " })")
	}
	if a.ChildLocator != nil {
		child, err := formatLocator(*a.ChildLocator)
		if err != nil {
			return "", err
		}
		b.WriteString("." + child)
	}
	if a.Nth != nil {
		b.WriteString(".nth(" + strconv.Itoa(*a.Nth) + ")")
	}
	return b.String(), nil
}

func formatLocator(spec schemas.LocatorSpec) (string, error) {
	method, ok := locatorNames[spec.LocatorType]
	if !ok {
		return "", fmt.Errorf("%w: locator type %q", ErrUnsupported, spec.LocatorType)
	}
	if spec.Params.IsZero() {
		return fmt.Sprintf("%s(%s)", method, quote(spec.Selector)), nil
	}
	var opts []string
	if spec.Params.Name != "" {
		opts = append(opts, "name: "+quote(spec.Params.Name))
	}
	if spec.Params.Exact {
		opts = append(opts, "exact: true")
	}
	return fmt.Sprintf("%s(%s, { %s })", method, quote(spec.Selector), strings.Join(opts, ", ")), nil
}

// quote renders s as a single-quoted literal. Regex literals pass through.
func quote(s string) string {
	if IsRegexLiteral(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\', '\'':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// IsRegexLiteral reports whether s has the `/pattern/flags` shape.
func IsRegexLiteral(s string) bool {
	if len(s) < 3 || s[0] != '/' {
		return false
	}
	end := strings.LastIndexByte(s, '/')
	if end <= 1 {
		return false
	}
	return strings.Trim(s[end+1:], "dgimsuy") == ""
}

// Apply fills the structured fields of a from its raw expression when the
// locator type or verb is missing. Fields already set are left untouched.
func Apply(a *schemas.Action) error {
	if a.LocatorType != "" && a.ActionVerb != "" {
		return nil
	}
	if a.Raw == "" {
		return fmt.Errorf("%w: action has neither structured fields nor raw text", ErrUnsupported)
	}
	parsed, err := Parse(a.Raw)
	if err != nil {
		return err
	}
	if a.LocatorType == "" {
		a.LocatorType = parsed.LocatorType
		a.Selector = parsed.Selector
		a.Params = parsed.Params
		if a.ChildLocator == nil {
			a.ChildLocator = parsed.ChildLocator
		}
		if a.AdditionalFilter == nil {
			a.AdditionalFilter = parsed.AdditionalFilter
		}
		if a.Nth == nil {
			a.Nth = parsed.Nth
		}
	}
	if a.ActionVerb == "" {
		a.ActionVerb = parsed.ActionVerb
	}
	if a.AssertionType == "" {
		a.AssertionType = parsed.AssertionType
	}
	if a.Value == "" && a.ParsedValue == "" {
		a.ParsedValue = parsed.ParsedValue
	}
	return nil
}

// Consistent reports an error when raw parses to a different locator or verb
// than the structured fields. Values are not compared because data-driven runs
// substitute them after authoring.
func Consistent(a schemas.Action) error {
	parsed, err := Parse(a.Raw)
	if err != nil {
		return err
	}
	if parsed.Locator() != a.Locator() {
		return fmt.Errorf("raw locator %s contradicts structured locator %s", parsed.Locator(), a.Locator())
	}
	if !sameSpec(parsed.ChildLocator, a.ChildLocator) {
		return fmt.Errorf("raw child locator contradicts structured child locator")
	}
	if parsed.AdditionalFilter.IsZero() != a.AdditionalFilter.IsZero() ||
		(!a.AdditionalFilter.IsZero() && *parsed.AdditionalFilter != *a.AdditionalFilter) {
		return fmt.Errorf("raw filter contradicts structured filter")
	}
	if !sameIndex(parsed.Nth, a.Nth) {
		return fmt.Errorf("raw index contradicts structured index")
	}
	verb := a.ActionVerb
	// Recorded scripts click message banners the interpreter reads as text.
	if verb == schemas.VerbGetText && parsed.ActionVerb == schemas.VerbClick {
		verb = schemas.VerbClick
	}
	if parsed.ActionVerb != verb {
		return fmt.Errorf("raw verb %q contradicts structured verb %q", parsed.ActionVerb, a.ActionVerb)
	}
	if verb == schemas.VerbExpect && parsed.AssertionType != a.AssertionType {
		return fmt.Errorf("raw assertion %q contradicts structured assertion %q", parsed.AssertionType, a.AssertionType)
	}
	return nil
}

func sameSpec(a, b *schemas.LocatorSpec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameIndex(a, b *int) bool {
	if a == nil || b == nil {
		// An absent index means the first match.
		return (a == nil || *a == 0) && (b == nil || *b == 0)
	}
	return *a == *b
}
