// Package dsl parses and renders the action expression language used by
// recorded browser scripts, e.g.
//
//	page.getByRole('row', { name: 'Order 12' }).getByRole('button', { name: 'Edit' }).click()
//	expect(page.getByRole('cell', { name: 'Status' })).toContainText('Shipped')
//
// Parsing only produces structured Action fields. Expressions are never executed.
package dsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ExprLexer tokenizes action expressions.
var ExprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|` + "`(?:[^`\\\\]|\\\\.)*`"},
	{Name: "Regex", Pattern: `/(?:[^/\\\n]|\\.)+/[dgimsuy]*`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_$][a-zA-Z0-9_$]*`},
	{Name: "Punct", Pattern: `[(){}.,:;\[\]]`},
})

// Expression is the root of a parsed action expression.
type Expression struct {
	Pos   lexer.Position
	Await bool   `@"await"?`
	Chain *Chain `@@`
	Semi  bool   `@";"?`
}

// Chain is a dotted sequence of member accesses and calls.
type Chain struct {
	Segments []*Segment `@@ ( "." @@ )*`
}

// Segment is one member of a chain, optionally called with arguments.
type Segment struct {
	Pos  lexer.Position
	Name string    `@Ident`
	Call *CallArgs `@@?`
}

// CallArgs is a parenthesised argument list. Open distinguishes `f()` from `f`.
type CallArgs struct {
	Open bool     `@"("`
	Args []*Value `( @@ ( "," @@ )* ","? )? ")"`
}

// Value is a literal or nested expression argument.
type Value struct {
	String  *string  `  @String`
	Regex   *string  `| @Regex`
	Number  *float64 `| @Number`
	Boolean *string  `| @("true" | "false")`
	Object  *Object  `| @@`
	Array   *Array   `| @@`
	Chain   *Chain   `| @@`
}

// Object is a `{ key: value }` literal.
type Object struct {
	Entries []*Entry `"{" ( @@ ( "," @@ )* ","? )? "}"`
}

// Entry is one key/value pair of an Object.
type Entry struct {
	Key   string `( @Ident | @String ) ":"`
	Value *Value `@@`
}

// Array is a `[ a, b ]` literal.
type Array struct {
	Items []*Value `"[" ( @@ ( "," @@ )* ","? )? "]"`
}

var exprParser = participle.MustBuild[Expression](
	participle.Lexer(ExprLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(4),
)

// ParseExpression parses raw into its syntax tree.
func ParseExpression(raw string) (*Expression, error) {
	return exprParser.ParseString("", raw)
}
