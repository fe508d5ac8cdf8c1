/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tree

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/launix-de/arraytree/ir"
	packrat "github.com/launix-de/go-packrat/v2"
)

type SourceInfo struct {
	Source string
	Line   int
	Col    int
}

func (source_info SourceInfo) String() string {
	return fmt.Sprintf("%s:%d:%d", source_info.Source, source_info.Line, source_info.Col)
}

type ASTKind uint8

const (
	ASTLiteral ASTKind = iota
	ASTSymbol
	ASTCall
	astGroup   // intermediate result while parsing: Args, optionally Name
	astInvalid // a token that matched but cannot be converted; Name is the message
)

// AST is what the compiler consumes: Literal, Symbol or Call(head, args)
type AST struct {
	Kind  ASTKind
	Value Value  // literal
	Name  string // symbol
	Head  *AST
	Args  []*AST
	Names []string // per argument: name of a named argument or ""
	Span  SourceInfo
}

// HeadName returns the symbol name of a call head, or ""
func (a *AST) HeadName() string {
	if a.Kind == ASTCall && a.Head.Kind == ASTSymbol {
		return a.Head.Name
	}
	return ""
}

func (a *AST) String() string {
	switch a.Kind {
	case ASTLiteral:
		return a.Value.String()
	case ASTSymbol:
		return a.Name
	case astGroup, astInvalid:
		return fmt.Sprintf("group%v", a.Args)
	}
	var b strings.Builder
	b.WriteString(a.Head.String())
	b.WriteByte('(')
	for i, arg := range a.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		if a.Names != nil && a.Names[i] != "" {
			b.WriteString(a.Names[i])
			b.WriteByte('=')
		}
		b.WriteString(arg.String())
	}
	b.WriteByte(')')
	return b.String()
}

// skipBlanks skips whitespace, /* block */ and // line comments
var skipBlanks = regexp.MustCompile(`^(?:/\*(?s:.*?)\*/|//[^\n]*|[\r\n\t ]+)+`)

var stringBody = regexp.MustCompile(`^"(?:[^"\\]|\\.)*"`)

var stringReplacer = strings.NewReplacer("\\\"", "\"", "\\\\", "\\", "\\n", "\n", "\\r", "\r", "\\t", "\t")

var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<=", ">=", "<", ">"},
	{"+", "-"},
	{"*", "/", "%"},
}

var operatorPrimitives = map[string]string{
	"||": "__or", "&&": "__and", "==": "__eq", "!=": "__ne",
	"<": "__lt", "<=": "__le", ">": "__gt", ">=": "__ge",
	"+": "__add", "-": "__sub", "*": "__mul", "/": "__div", "%": "__mod",
}

/*
grammar is one instance of the expression grammar. Packrat parsers keep
buffers between matches, so an instance serves one parse at a time; Parse
takes them from a pool.

	program   = { expr [","] } $
	expr      = binary(0)
	binary(i) = binary(i+1) { op(i) binary(i+1) }   ; last level: unary
	unary     = ("-" | "!") unary | postfix
	postfix   = primary { "(" [argument {"," argument}] [","] ")" }
	argument  = name "=" expr | expr
	primary   = number | string | name | "(" expr ")" | "[" [expr {"," expr}] [","] "]"
*/
type grammar struct {
	root packrat.Parser[*AST]

	// per parse
	source string
	lines  []int // byte offset of every line start
	err    *Error
}

var grammars = sync.Pool{New: func() any { return newGrammar() }}

// located sets the span of the payload to where inner starts matching
type located struct {
	g     *grammar
	inner packrat.Parser[*AST]
}

func (p *located) Match(s *packrat.Scanner[*AST]) (packrat.Node[*AST], bool) {
	s.Skip()
	start := s.GetPosition()
	n, ok := p.inner.Match(s)
	if !ok || n.Payload == nil {
		return n, ok
	}
	a := *n.Payload
	a.Span = p.g.span(start)
	if a.Kind == astInvalid && p.g.err == nil {
		span := a.Span
		p.g.err = &Error{Kind: SyntaxError, Message: a.Name, Span: &span}
	}
	return packrat.Node[*AST]{Payload: &a}, true
}

func (g *grammar) span(pos int) SourceInfo {
	line := sort.Search(len(g.lines), func(i int) bool { return g.lines[i] > pos }) - 1
	return SourceInfo{g.source, line + 1, pos - g.lines[line] + 1}
}

func group(parts ...*AST) *AST {
	return &AST{Kind: astGroup, Args: append([]*AST(nil), parts...)}
}

func collect(_ string, parts ...*AST) *AST {
	return group(parts...)
}

func newGrammar() *grammar {
	g := &grammar{}
	at := func(p packrat.Parser[*AST]) packrat.Parser[*AST] {
		return &located{g: g, inner: p}
	}
	punct := func(text string) packrat.Parser[*AST] {
		return at(packrat.NewAtomParser(&AST{Kind: ASTSymbol, Name: text}, text, false, true))
	}
	operator := func(ops ...string) packrat.Parser[*AST] {
		alternatives := make([]packrat.Parser[*AST], len(ops))
		for i, op := range ops {
			name := op
			if prim, ok := operatorPrimitives[op]; ok {
				name = prim
			}
			alternatives[i] = at(packrat.NewAtomParser(&AST{Kind: ASTSymbol, Name: name}, op, false, true))
		}
		return packrat.NewOrParser[*AST](alternatives...)
	}

	expr := packrat.NewOrParser[*AST]()
	unary := packrat.NewOrParser[*AST]()

	number := at(packrat.NewRegexParser(func(s string) *AST {
		v, err := parseNumber(s)
		if err != nil {
			return &AST{Kind: astInvalid, Name: err.Error()}
		}
		return &AST{Kind: ASTLiteral, Value: v}
	}, `(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?`, false, true))
	str := at(packrat.NewRegexParser(func(s string) *AST {
		return &AST{Kind: ASTLiteral, Value: NewString(stringReplacer.Replace(s[1 : len(s)-1]))}
	}, `"(?:[^"\\]|\\.)*"`, false, true))
	const identifier = `[A-Za-z_][A-Za-z0-9_]*`
	name := at(packrat.NewRegexParser(func(s string) *AST {
		switch s {
		case "true":
			return &AST{Kind: ASTLiteral, Value: NewBool(true)}
		case "false":
			return &AST{Kind: ASTLiteral, Value: NewBool(false)}
		case "nil":
			return &AST{Kind: ASTLiteral, Value: NewNil()}
		}
		return &AST{Kind: ASTSymbol, Name: s}
	}, identifier, false, true))
	paren := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		return parts[1]
	}, punct("("), expr, punct(")"))
	array := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		open, elems := parts[0], parts[1].Args
		if a, ok := constantArray(elems); ok {
			return &AST{Kind: ASTLiteral, Value: NewArray(a), Span: open.Span}
		}
		return call("__array", open.Span, elems...)
	}, punct("["), packrat.NewKleeneParser[*AST](collect, expr, punct(",")), packrat.NewMaybeParser[*AST](nil, punct(",")), punct("]"))
	primary := packrat.NewOrParser[*AST](number, str, name, paren, array)

	named := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		return &AST{Kind: astGroup, Name: parts[0].Name, Args: []*AST{parts[2]}}
	}, packrat.NewRegexParser(func(s string) *AST {
		return &AST{Kind: ASTSymbol, Name: s}
	}, identifier, false, true), punct("="), expr)
	positional := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		return group(parts[0])
	}, expr)
	arguments := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		c := &AST{Kind: ASTCall, Span: parts[0].Span}
		hasNames := false
		for _, arg := range parts[1].Args {
			c.Args = append(c.Args, arg.Args[0])
			c.Names = append(c.Names, arg.Name)
			hasNames = hasNames || arg.Name != ""
		}
		if !hasNames {
			c.Names = nil
		}
		return c
	}, punct("("), packrat.NewKleeneParser[*AST](collect, packrat.NewOrParser[*AST](named, positional), punct(",")), packrat.NewMaybeParser[*AST](nil, punct(",")), punct(")"))
	postfix := packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		e := parts[0]
		for _, args := range parts[1].Args {
			c := &AST{Kind: ASTCall, Head: e, Args: args.Args, Names: args.Names, Span: e.Span}
			if e.Kind != ASTSymbol {
				c.Span = args.Span
			}
			e = c
		}
		return e
	}, primary, packrat.NewKleeneParser[*AST](collect, arguments, nil))

	unary.Set(packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		op, operand := parts[0], parts[1]
		if op.Name == "-" && operand.Kind == ASTLiteral {
			// negative number literals are folded right away
			switch operand.Value.Kind() {
			case KindInt:
				return &AST{Kind: ASTLiteral, Value: NewInt(-operand.Value.Int()), Span: op.Span}
			case KindFloat:
				return &AST{Kind: ASTLiteral, Value: NewFloat(-operand.Value.Float()), Span: op.Span}
			}
		}
		if op.Name == "-" {
			return call("__minus", op.Span, operand)
		}
		return call("__not", op.Span, operand)
	}, packrat.NewOrParser[*AST](punct("-"), punct("!")), unary), postfix)

	var level packrat.Parser[*AST] = unary
	for i := len(binaryLevels) - 1; i >= 0; i-- {
		operand := level
		pair := packrat.NewAndParser[*AST](collect, operator(binaryLevels[i]...), operand)
		level = packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
			left := parts[0]
			for _, p := range parts[1].Args {
				op, right := p.Args[0], p.Args[1]
				left = call(op.Name, op.Span, left, right)
			}
			return left
		}, operand, packrat.NewKleeneParser[*AST](collect, pair, nil))
	}
	expr.Set(level)

	g.root = packrat.NewAndParser[*AST](func(_ string, parts ...*AST) *AST {
		return parts[0]
	}, packrat.NewKleeneParser[*AST](collect, expr, packrat.NewMaybeParser[*AST](nil, punct(","))), packrat.NewEndParser[*AST](nil, true))
	return g
}

func call(head string, span SourceInfo, args ...*AST) *AST {
	return &AST{Kind: ASTCall, Head: &AST{Kind: ASTSymbol, Name: head, Span: span}, Args: args, Span: span}
}

// Parse reads all top level expressions of a source text
func Parse(source, s string) ([]*AST, error) {
	g := grammars.Get().(*grammar)
	defer grammars.Put(g)
	g.source, g.err = source, nil
	g.lines = append(g.lines[:0], 0)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			g.lines = append(g.lines, i+1)
		}
	}
	scanner := packrat.NewScanner[*AST](s, skipBlanks)
	node, perr := packrat.Parse(g.root, scanner)
	if perr != nil {
		return nil, g.syntaxError(s, perr.Position)
	}
	if g.err != nil {
		return nil, g.err
	}
	return node.Payload.Args, nil
}

// syntaxError describes what is found where the grammar stopped matching
func (g *grammar) syntaxError(s string, pos int) *Error {
	if pos > len(s) {
		pos = len(s)
	}
	if m := skipBlanks.FindStringIndex(s[pos:]); m != nil {
		pos += m[1]
	}
	rest := s[pos:]
	span := g.span(pos)
	var msg string
	switch {
	case strings.TrimSpace(rest) == "":
		msg = "expression incomplete before end of input"
	case strings.HasPrefix(rest, "/*"):
		msg = "unterminated comment"
	case rest[0] == '"' && !stringBody.MatchString(rest):
		msg = "unterminated string"
	default:
		found := rest
		if i := strings.IndexAny(found, " \t\r\n"); i > 0 {
			found = found[:i]
		}
		if len(found) > 20 {
			found = found[:20]
		}
		msg = fmt.Sprintf("unexpected %q", found)
	}
	return &Error{Kind: SyntaxError, Message: msg, Span: &span}
}

func parseNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return NewInt(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("malformed number %q", s)
	}
	return NewFloat(f), nil
}

func constantArray(elems []*AST) (*ir.NodeData, bool) {
	if len(elems) == 0 {
		return ir.Zeros(ir.Float64, []int{0}), true
	}
	values := make([]Value, len(elems))
	for i, e := range elems {
		if e.Kind != ASTLiteral {
			return nil, false
		}
		values[i] = e.Value
	}
	a, err := Stack(values)
	return a, err == nil
}

// Stack combines scalars into a vector or equally shaped arrays into an array of rank+1
func Stack(values []Value) (*ir.NodeData, error) {
	if len(values) == 0 {
		return ir.Zeros(ir.Float64, []int{0}), nil
	}
	if values[0].Kind() != KindArray {
		return listToArray(values)
	}
	first := values[0].Array()
	dtype := first.DType()
	for _, v := range values {
		if v.Kind() != KindArray {
			return nil, Errorf(TypeMismatch, "cannot mix arrays and %s in an array literal", v.Kind())
		}
		if !ir.SameShape(v.Array(), first) {
			return nil, Errorf(ShapeMismatch, "array literal rows have different shapes %v and %v", first.Shape(), v.Array().Shape())
		}
		dtype = ir.Promote(dtype, v.Array().DType())
	}
	if first.Rank() >= ir.MaxRank {
		return nil, Errorf(ShapeMismatch, "array literal exceeds rank %d", ir.MaxRank)
	}
	shape := append([]int{len(values)}, first.Shape()...)
	result := ir.Zeros(dtype, shape)
	for i, v := range values {
		row, _ := result.Index(0, i)
		row.Assign(v.Array())
	}
	return result, nil
}
