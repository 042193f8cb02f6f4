package expr

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	// parsed literal payload for numbers and strings
	num   float64
	isInt bool
	str   string
}

// twoCharOps are matched before single-character operators.
var twoCharOps = []string{"&&", "||", "==", "!=", "<=", ">=", "**"}

func lex(input string) ([]token, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errf("expression cannot be empty")
	}

	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]

		if unicode.IsSpace(r) {
			i++
			continue
		}

		// identifiers and keywords
		if r == '_' || unicode.IsLetter(r) {
			j := i
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
			continue
		}

		// numbers
		if unicode.IsDigit(r) {
			j := i
			isInt := true
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == '.' && j+1 < len(runes) && unicode.IsDigit(runes[j+1]) {
				isInt = false
				j++
				for j < len(runes) && unicode.IsDigit(runes[j]) {
					j++
				}
			}
			if j < len(runes) && (runes[j] == 'e' || runes[j] == 'E') {
				k := j + 1
				if k < len(runes) && (runes[k] == '+' || runes[k] == '-') {
					k++
				}
				if k < len(runes) && unicode.IsDigit(runes[k]) {
					isInt = false
					j = k
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
				}
			}
			text := string(runes[i:j])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errf("invalid number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: f, isInt: isInt})
			i = j
			continue
		}

		// string literals, single or double quoted
		if r == '\'' || r == '"' {
			quote := r
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(runes) {
				c := runes[j]
				if c == '\\' && j+1 < len(runes) {
					next := runes[j+1]
					switch next {
					case 'n':
						sb.WriteRune('\n')
					case 't':
						sb.WriteRune('\t')
					case '\\', '\'', '"':
						sb.WriteRune(next)
					default:
						sb.WriteRune('\\')
						sb.WriteRune(next)
					}
					j += 2
					continue
				}
				if c == quote {
					closed = true
					j++
					break
				}
				sb.WriteRune(c)
				j++
			}
			if !closed {
				return nil, errf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), str: sb.String()})
			i = j
			continue
		}

		// multi-character operators
		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			matched := false
			for _, op := range twoCharOps {
				if two == op {
					toks = append(toks, token{kind: tokOp, text: op})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}

		switch r {
		case '!', '<', '>', '+', '-', '*', '/', '%':
			toks = append(toks, token{kind: tokOp, text: string(r)})
		case '(', ')', '[', ']', '{', '}', ',', ':', '.':
			toks = append(toks, token{kind: tokPunct, text: string(r)})
		case '=':
			return nil, errf("assignment is not allowed in expressions")
		default:
			return nil, errf("unexpected character %q in expression", string(r))
		}
		i++
	}

	toks = append(toks, token{kind: tokEOF, text: ""})
	return toks, nil
}
