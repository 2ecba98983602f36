package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// SelectorKind is the strategy a Selector uses to match elements.
type SelectorKind string

const (
	ByRole  SelectorKind = "role"
	ByLabel SelectorKind = "label"
	ByText  SelectorKind = "text"
	ByTitle SelectorKind = "title"
	// ByCSS accepts CSS and, when prefixed with "//", XPath.
	ByCSS SelectorKind = "css"
)

// Selector is one link of a locator chain.
//
// For ByRole, Value is the ARIA role and Name the accessible name. For the
// text based kinds Value is the text to match. Text written as /pattern/flags
// is a regular expression.
type Selector struct {
	Kind  SelectorKind
	Value string
	Name  string
	Exact bool
}

// Role, Label, Text, Title and CSS are shorthand constructors.
func Role(role, name string, exact bool) Selector {
	return Selector{Kind: ByRole, Value: role, Name: name, Exact: exact}
}
func Label(text string, exact bool) Selector { return Selector{Kind: ByLabel, Value: text, Exact: exact} }
func Text(text string, exact bool) Selector  { return Selector{Kind: ByText, Value: text, Exact: exact} }
func Title(text string, exact bool) Selector { return Selector{Kind: ByTitle, Value: text, Exact: exact} }
func CSS(sel string) Selector                { return Selector{Kind: ByCSS, Value: sel} }

// IsXPath reports whether a ByCSS selector is an XPath expression.
func (s Selector) IsXPath() bool {
	return s.Kind == ByCSS && (strings.HasPrefix(s.Value, "//") || strings.HasPrefix(s.Value, "(//"))
}

func (s Selector) String() string {
	switch s.Kind {
	case ByRole:
		if s.Name == "" {
			return fmt.Sprintf("role=%s", s.Value)
		}
		return fmt.Sprintf("role=%s[name=%q exact=%t]", s.Value, s.Name, s.Exact)
	case ByCSS:
		return s.Value
	default:
		return fmt.Sprintf("%s=%q exact=%t", s.Kind, s.Value, s.Exact)
	}
}

// TextMatcher matches element text the way locators do: substring and case
// insensitive by default, whole-string when exact, or a regular expression.
type TextMatcher struct {
	re    *regexp.Regexp
	text  string
	exact bool
}

// NewTextMatcher compiles text. Regex literals use JavaScript flag syntax;
// only the i, m and s flags change matching.
func NewTextMatcher(text string, exact bool) (TextMatcher, error) {
	if pattern, flags, ok := SplitRegexLiteral(text); ok {
		var prefix string
		for _, f := range flags {
			switch f {
			case 'i', 'm', 's':
				prefix += string(f)
			}
		}
		if prefix != "" {
			pattern = "(?" + prefix + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return TextMatcher{}, fmt.Errorf("invalid text pattern %s: %w", text, err)
		}
		return TextMatcher{re: re}, nil
	}
	return TextMatcher{text: normalizeSpace(text), exact: exact}, nil
}

// Match reports whether s satisfies the matcher.
func (m TextMatcher) Match(s string) bool {
	if m.re != nil {
		return m.re.MatchString(s)
	}
	s = normalizeSpace(s)
	if m.exact {
		return s == m.text
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(m.text))
}

// Regexp returns the compiled pattern, or nil for plain text.
func (m TextMatcher) Regexp() *regexp.Regexp { return m.re }

// SplitRegexLiteral splits `/pattern/flags` into its parts.
func SplitRegexLiteral(s string) (pattern, flags string, ok bool) {
	if len(s) < 3 || s[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(s, '/')
	if end <= 1 || strings.Trim(s[end+1:], "dgimsuy") != "" {
		return "", "", false
	}
	return s[1:end], s[end+1:], true
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
