// Package expr implements the restricted expression language used by
// step `if:` guards. Expressions are parsed with a purpose-built lexer
// and parser rather than a general-purpose host parser, so the grammar
// is Turing-incomplete by construction: the parser simply cannot build
// function calls, comprehensions, lambdas or assignments.
package expr

import (
	"fmt"
	"sort"
	"sync"
)

// ExpressionError is returned for any syntax, validation or evaluation
// failure of a guard expression.
type ExpressionError struct {
	msg string
}

func (e *ExpressionError) Error() string { return e.msg }

func errf(format string, args ...any) error {
	return &ExpressionError{msg: fmt.Sprintf(format, args...)}
}

// namespaces are the only identifiers an access chain may be rooted at.
var namespaces = map[string]bool{
	"params":  true,
	"vars":    true,
	"outputs": true,
	"env":     true,
}

// Node is a node of the parsed expression tree.
type Node interface{ node() }

// Literal is a constant: number, string, bool or null.
type Literal struct{ Value any }

// Ident is a bare identifier resolved against the evaluation context.
type Ident struct{ Name string }

// Attr is dotted access, e.g. params.region.
type Attr struct {
	X    Node
	Name string
}

// Index is subscript access, e.g. outputs["report"] or items[0].
type Index struct {
	X   Node
	Key Node
}

// ListLit is a list literal.
type ListLit struct{ Elems []Node }

// MapLit is a dict literal with string keys.
type MapLit struct {
	Keys   []Node
	Values []Node
}

// Unary is a prefix operation: ! or unary minus.
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operation, including comparisons and && / ||.
type Binary struct {
	Op   string
	L, R Node
}

func (*Literal) node() {}
func (*Ident) node()   {}
func (*Attr) node()    {}
func (*Index) node()   {}
func (*ListLit) node() {}
func (*MapLit) node()  {}
func (*Unary) node()   {}
func (*Binary) node()  {}

// Evaluator parses, validates and evaluates guard expressions.
// Parsed trees are cached; the zero value is not usable, call New.
type Evaluator struct {
	mu       sync.Mutex
	compiled map[string]Node
}

// New creates an Evaluator with an empty parse cache.
func New() *Evaluator {
	return &Evaluator{compiled: make(map[string]Node)}
}

// Parse compiles an expression into its tree form, rejecting anything
// outside the supported grammar with an ExpressionError.
func (e *Evaluator) Parse(expression string) (Node, error) {
	e.mu.Lock()
	if n, ok := e.compiled[expression]; ok {
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	toks, err := lex(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, errf("unexpected %q in expression", p.peek().text)
	}
	if err := validateTree(n); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.compiled[expression] = n
	e.mu.Unlock()
	return n, nil
}

// Evaluate parses and evaluates an expression against the given context,
// coercing the result to a boolean by truthiness.
func (e *Evaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	v, err := e.EvaluateValue(expression, context)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvaluateValue parses and evaluates an expression, returning the raw
// result value.
func (e *Evaluator) EvaluateValue(expression string, context map[string]any) (any, error) {
	n, err := e.Parse(expression)
	if err != nil {
		return nil, err
	}
	return eval(n, context)
}

// Validate checks an expression without evaluating it. It never returns
// an error value to propagate; the message is empty when the expression
// is valid.
func (e *Evaluator) Validate(expression string) (bool, string) {
	if _, err := e.Parse(expression); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Identifiers returns the sorted set of identifiers an expression
// references. Dotted namespace access is reported as "ns.field".
func (e *Evaluator) Identifiers(expression string) []string {
	n, err := e.Parse(expression)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	collectIdentifiers(n, seen)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectIdentifiers(n Node, seen map[string]bool) {
	switch t := n.(type) {
	case *Ident:
		seen[t.Name] = true
	case *Attr:
		if base, ok := t.X.(*Ident); ok {
			seen[base.Name+"."+t.Name] = true
			return
		}
		collectIdentifiers(t.X, seen)
	case *Index:
		collectIdentifiers(t.X, seen)
		collectIdentifiers(t.Key, seen)
	case *ListLit:
		for _, el := range t.Elems {
			collectIdentifiers(el, seen)
		}
	case *MapLit:
		for i := range t.Keys {
			collectIdentifiers(t.Keys[i], seen)
			collectIdentifiers(t.Values[i], seen)
		}
	case *Unary:
		collectIdentifiers(t.X, seen)
	case *Binary:
		collectIdentifiers(t.L, seen)
		collectIdentifiers(t.R, seen)
	}
}

// validateTree enforces the namespace allow-list: every attribute or
// subscript chain must be rooted at one of the four namespaces.
func validateTree(n Node) error {
	switch t := n.(type) {
	case *Literal:
		return nil
	case *Ident:
		return nil
	case *Attr:
		return validateAccessBase(t.X)
	case *Index:
		if err := validateAccessBase(t.X); err != nil {
			return err
		}
		return validateTree(t.Key)
	case *ListLit:
		for _, el := range t.Elems {
			if err := validateTree(el); err != nil {
				return err
			}
		}
		return nil
	case *MapLit:
		for i := range t.Keys {
			if err := validateTree(t.Keys[i]); err != nil {
				return err
			}
			if err := validateTree(t.Values[i]); err != nil {
				return err
			}
		}
		return nil
	case *Unary:
		return validateTree(t.X)
	case *Binary:
		if err := validateTree(t.L); err != nil {
			return err
		}
		return validateTree(t.R)
	default:
		return errf("unsupported expression construct %T", n)
	}
}

func validateAccessBase(base Node) error {
	switch b := base.(type) {
	case *Ident:
		if !namespaces[b.Name] {
			return errf("invalid namespace: %s", b.Name)
		}
		return nil
	case *Attr:
		return validateAccessBase(b.X)
	case *Index:
		if err := validateAccessBase(b.X); err != nil {
			return err
		}
		return validateTree(b.Key)
	default:
		return errf("attribute access is only allowed on the params, vars, outputs and env namespaces")
	}
}
