package dsl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// ErrUnsupported is wrapped by every error about syntactically valid input the
// interpreter has no structured form for.
var ErrUnsupported = errors.New("unsupported expression")

var locatorMethods = map[string]schemas.LocatorType{
	"getByRole":  schemas.LocatorByRole,
	"getByLabel": schemas.LocatorByLabel,
	"getByText":  schemas.LocatorByText,
	"getByTitle": schemas.LocatorByTitle,
	"locator":    schemas.LocatorGenericSelector,
}

var verbMethods = map[string]schemas.ActionVerb{
	"click":        schemas.VerbClick,
	"fill":         schemas.VerbFill,
	"press":        schemas.VerbPress,
	"selectOption": schemas.VerbSelectOption,
	"textContent":  schemas.VerbGetText,
	"innerText":    schemas.VerbGetText,
}

var assertionMethods = map[string]schemas.AssertionType{
	"toContainText": schemas.AssertToContainText,
	"toHaveText":    schemas.AssertToHaveText,
	"toHaveValue":   schemas.AssertToHaveValue,
	"toBeVisible":   schemas.AssertToBeVisible,
	"includes":      schemas.AssertIncludes,
}

// Parse converts an action expression into an Action with its structured
// fields populated. Raw is set to the input.
func Parse(raw string) (schemas.Action, error) {
	expr, err := ParseExpression(strings.TrimSpace(raw))
	if err != nil {
		return schemas.Action{}, fmt.Errorf("failed to parse action %q: %w", raw, err)
	}

	action := schemas.Action{Raw: raw}
	segs := expr.Chain.Segments

	if segs[0].Name == "expect" {
		if err := lowerExpect(&action, segs); err != nil {
			return schemas.Action{}, fmt.Errorf("action %q: %w", raw, err)
		}
		return action, nil
	}

	segs = stripPage(segs)
	if len(segs) < 2 {
		return schemas.Action{}, fmt.Errorf("action %q: %w: expected a locator followed by a verb", raw, ErrUnsupported)
	}
	verbSeg := segs[len(segs)-1]
	verb, ok := verbMethods[verbSeg.Name]
	if !ok || verbSeg.Call == nil {
		return schemas.Action{}, fmt.Errorf("action %q: %w: unknown verb %q", raw, ErrUnsupported, verbSeg.Name)
	}
	action.ActionVerb = verb

	if err := lowerLocatorChain(&action, segs[:len(segs)-1]); err != nil {
		return schemas.Action{}, fmt.Errorf("action %q: %w", raw, err)
	}

	switch verb {
	case schemas.VerbFill, schemas.VerbPress, schemas.VerbSelectOption:
		v, err := stringArg(verbSeg, 0)
		if err != nil {
			return schemas.Action{}, fmt.Errorf("action %q: %w", raw, err)
		}
		action.ParsedValue = v
	}
	return action, nil
}

func lowerExpect(action *schemas.Action, segs []*Segment) error {
	head := segs[0]
	if head.Call == nil || len(head.Call.Args) != 1 || head.Call.Args[0].Chain == nil {
		return fmt.Errorf("%w: expect() takes exactly one locator", ErrUnsupported)
	}
	if len(segs) != 2 || segs[1].Call == nil {
		return fmt.Errorf("%w: expect() must be followed by one assertion", ErrUnsupported)
	}
	assertion, ok := assertionMethods[segs[1].Name]
	if !ok {
		return fmt.Errorf("%w: unknown assertion %q", ErrUnsupported, segs[1].Name)
	}

	action.ActionVerb = schemas.VerbExpect
	action.AssertionType = assertion
	if err := lowerLocatorChain(action, stripPage(head.Call.Args[0].Chain.Segments)); err != nil {
		return err
	}
	if len(segs[1].Call.Args) > 0 {
		v, err := stringArg(segs[1], 0)
		if err != nil {
			return err
		}
		action.ParsedValue = v
	}
	return nil
}

// lowerLocatorChain maps locator, filter, nth and first segments onto the
// action. At most one child locator is supported.
func lowerLocatorChain(action *schemas.Action, segs []*Segment) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: missing locator", ErrUnsupported)
	}
	primary, err := lowerLocator(segs[0])
	if err != nil {
		return err
	}
	action.LocatorType = primary.LocatorType
	action.Selector = primary.Selector
	action.Params = primary.Params

	for _, seg := range segs[1:] {
		switch seg.Name {
		case "filter":
			if action.ChildLocator != nil || action.AdditionalFilter != nil {
				return fmt.Errorf("%w: filter must directly follow the primary locator", ErrUnsupported)
			}
			f, err := lowerFilter(seg)
			if err != nil {
				return err
			}
			action.AdditionalFilter = f
		case "nth", "first":
			if action.Nth != nil {
				return fmt.Errorf("%w: more than one index", ErrUnsupported)
			}
			n := 0
			if seg.Name == "nth" {
				if n, err = intArg(seg, 0); err != nil {
					return err
				}
			}
			action.Nth = &n
		default:
			if action.ChildLocator != nil {
				return fmt.Errorf("%w: locator chains deeper than two levels", ErrUnsupported)
			}
			if action.Nth != nil {
				return fmt.Errorf("%w: index must be the last locator segment", ErrUnsupported)
			}
			child, err := lowerLocator(seg)
			if err != nil {
				return err
			}
			action.ChildLocator = &child
		}
	}
	return nil
}

func lowerLocator(seg *Segment) (schemas.LocatorSpec, error) {
	lt, ok := locatorMethods[seg.Name]
	if !ok || seg.Call == nil {
		return schemas.LocatorSpec{}, fmt.Errorf("%w: unknown locator method %q", ErrUnsupported, seg.Name)
	}
	sel, err := stringArg(seg, 0)
	if err != nil {
		return schemas.LocatorSpec{}, err
	}
	spec := schemas.LocatorSpec{LocatorType: lt, Selector: sel}

	if len(seg.Call.Args) > 1 {
		opts := seg.Call.Args[1].Object
		if opts == nil {
			return schemas.LocatorSpec{}, fmt.Errorf("%w: %s options must be an object", ErrUnsupported, seg.Name)
		}
		for _, e := range opts.Entries {
			switch unquoteKey(e.Key) {
			case "name":
				if spec.Params.Name, err = literal(e.Value); err != nil {
					return schemas.LocatorSpec{}, err
				}
			case "exact":
				if e.Value.Boolean == nil {
					return schemas.LocatorSpec{}, fmt.Errorf("%w: exact must be a boolean", ErrUnsupported)
				}
				spec.Params.Exact = *e.Value.Boolean == "true"
			default:
				return schemas.LocatorSpec{}, fmt.Errorf("%w: locator option %q", ErrUnsupported, e.Key)
			}
		}
	}
	return spec, nil
}

func lowerFilter(seg *Segment) (*schemas.Filter, error) {
	if seg.Call == nil || len(seg.Call.Args) != 1 || seg.Call.Args[0].Object == nil {
		return nil, fmt.Errorf("%w: filter() takes one options object", ErrUnsupported)
	}
	f := &schemas.Filter{}
	for _, e := range seg.Call.Args[0].Object.Entries {
		v, err := literal(e.Value)
		if err != nil {
			return nil, err
		}
		switch unquoteKey(e.Key) {
		case "hasText":
			f.HasText = v
		case "hasNot", "hasNotText":
			f.HasNot = v
		default:
			return nil, fmt.Errorf("%w: filter option %q", ErrUnsupported, e.Key)
		}
	}
	return f, nil
}

func stripPage(segs []*Segment) []*Segment {
	if len(segs) > 0 && segs[0].Name == "page" && segs[0].Call == nil {
		return segs[1:]
	}
	return segs
}

func stringArg(seg *Segment, i int) (string, error) {
	if seg.Call == nil || len(seg.Call.Args) <= i {
		return "", fmt.Errorf("%w: %s() is missing argument %d", ErrUnsupported, seg.Name, i+1)
	}
	return literal(seg.Call.Args[i])
}

func intArg(seg *Segment, i int) (int, error) {
	if seg.Call == nil || len(seg.Call.Args) <= i || seg.Call.Args[i].Number == nil {
		return 0, fmt.Errorf("%w: %s() needs a numeric argument", ErrUnsupported, seg.Name)
	}
	n := *seg.Call.Args[i].Number
	if n < 0 || n != float64(int(n)) {
		return 0, fmt.Errorf("%w: %s(%v) needs a non-negative integer", ErrUnsupported, seg.Name, n)
	}
	return int(n), nil
}

// literal returns the string form of a scalar argument. Regex literals are
// kept with their slashes so resolvers can tell them apart from plain text.
func literal(v *Value) (string, error) {
	switch {
	case v.String != nil:
		return unquote(*v.String)
	case v.Regex != nil:
		return *v.Regex, nil
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64), nil
	case v.Boolean != nil:
		return *v.Boolean, nil
	}
	return "", fmt.Errorf("%w: expected a string literal", ErrUnsupported)
}

func unquoteKey(k string) string {
	if s, err := unquote(k); err == nil {
		return s
	}
	return k
}

// unquote handles single, double and backtick quoted literals.
func unquote(s string) (string, error) {
	if len(s) < 2 {
		return s, nil
	}
	q := s[0]
	if (q != '\'' && q != '"' && q != '`') || s[len(s)-1] != q {
		return s, nil
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i == len(body)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
