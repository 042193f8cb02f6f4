package expr

// parser is a recursive-descent parser over the lexed token stream.
// Precedence, loosest first: || < && < ! < comparisons/in < additive <
// multiplicative < unary minus < ** (right-associative) < postfix access.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.toks[p.pos].kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEOF() bool { return p.peek().kind == tokEOF }

func (p *parser) acceptOp(op string) bool {
	if p.peek().kind == tokOp && p.peek().text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptPunct(text string) bool {
	if p.peek().kind == tokPunct && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return errf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) parseExpression() (Node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "||", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "&&", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.acceptOp("!") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "!", X: x}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && comparisonOps[t.text]:
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: t.text, L: left, R: right}
		case t.kind == tokIdent && t.text == "in":
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: "in", L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: "+", L: left, R: right}
		case p.acceptOp("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: "-", L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.text, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.acceptOp("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.acceptOp("**") {
		// Right-associative; the exponent may carry its own unary minus.
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "**", L: base, R: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptPunct("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, errf("expected attribute name after '.', got %q", t.text)
			}
			x = &Attr{X: x, Name: t.text}
		case p.acceptPunct("["):
			key, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Key: key}
		case p.peek().kind == tokPunct && p.peek().text == "(":
			return nil, errf("function calls are not allowed in expressions")
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		if t.isInt {
			return &Literal{Value: int64(t.num)}, nil
		}
		return &Literal{Value: t.num}, nil

	case tokString:
		p.next()
		return &Literal{Value: t.str}, nil

	case tokIdent:
		p.next()
		switch t.text {
		case "true", "True":
			return &Literal{Value: true}, nil
		case "false", "False":
			return &Literal{Value: false}, nil
		case "null", "None":
			return &Literal{Value: nil}, nil
		case "in":
			return nil, errf("unexpected 'in' in expression")
		case "lambda", "import", "for", "if", "else", "while", "def":
			return nil, errf("unsupported construct %q in expression", t.text)
		}
		return &Ident{Name: t.text}, nil

	case tokPunct:
		switch t.text {
		case "(":
			p.next()
			inner, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return p.parseList()
		case "{":
			return p.parseMap()
		}
	}
	return nil, errf("unexpected %q in expression", t.text)
}

func (p *parser) parseList() (Node, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var elems []Node
	if p.acceptPunct("]") {
		return &ListLit{}, nil
	}
	for {
		el, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if p.acceptPunct(",") {
			if p.acceptPunct("]") {
				return &ListLit{Elems: elems}, nil
			}
			continue
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		return &ListLit{Elems: elems}, nil
	}
}

func (p *parser) parseMap() (Node, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	m := &MapLit{}
	if p.acceptPunct("}") {
		return m, nil
	}
	for {
		key, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, val)
		if p.acceptPunct(",") {
			if p.acceptPunct("}") {
				return m, nil
			}
			continue
		}
		if err := p.expectPunct("}"); err != nil {
			return nil, err
		}
		return m, nil
	}
}
