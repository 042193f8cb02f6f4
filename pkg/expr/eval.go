package expr

import (
	"math"
	"reflect"
	"strings"
)

func eval(n Node, ctx map[string]any) (any, error) {
	switch t := n.(type) {
	case *Literal:
		return t.Value, nil

	case *Ident:
		v, ok := ctx[t.Name]
		if !ok {
			return nil, errf("undefined identifier: %s", t.Name)
		}
		return v, nil

	case *Attr:
		base, err := eval(t.X, ctx)
		if err != nil {
			return nil, err
		}
		return lookupKey(base, t.Name)

	case *Index:
		base, err := eval(t.X, ctx)
		if err != nil {
			return nil, err
		}
		key, err := eval(t.Key, ctx)
		if err != nil {
			return nil, err
		}
		return lookupIndex(base, key)

	case *ListLit:
		out := make([]any, 0, len(t.Elems))
		for _, el := range t.Elems {
			v, err := eval(el, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *MapLit:
		out := make(map[string]any, len(t.Keys))
		for i := range t.Keys {
			k, err := eval(t.Keys[i], ctx)
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				return nil, errf("dict keys must be strings, got %T", k)
			}
			v, err := eval(t.Values[i], ctx)
			if err != nil {
				return nil, err
			}
			out[ks] = v
		}
		return out, nil

	case *Unary:
		v, err := eval(t.X, ctx)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case "!":
			return !truthy(v), nil
		case "-":
			if i, ok := asInt(v); ok {
				return -i, nil
			}
			if f, ok := asFloat(v); ok {
				return -f, nil
			}
			return nil, errf("unary minus requires a number, got %T", v)
		}
		return nil, errf("unsupported unary operator %q", t.Op)

	case *Binary:
		return evalBinary(t, ctx)
	}
	return nil, errf("unsupported expression construct %T", n)
}

func evalBinary(b *Binary, ctx map[string]any) (any, error) {
	// Short-circuit boolean operators.
	switch b.Op {
	case "&&":
		l, err := eval(b.L, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := eval(b.R, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "||":
		l, err := eval(b.L, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := eval(b.R, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := eval(b.L, ctx)
	if err != nil {
		return nil, err
	}
	r, err := eval(b.R, ctx)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return valuesEqual(l, r), nil
	case "!=":
		return !valuesEqual(l, r), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(b.Op, l, r)
	case "in":
		return evalIn(l, r)
	case "+", "-", "*", "/", "%", "**":
		return arithmetic(b.Op, l, r)
	}
	return nil, errf("unsupported operator %q", b.Op)
}

func lookupKey(base any, key string) (any, error) {
	switch m := base.(type) {
	case map[string]any:
		v, ok := m[key]
		if !ok {
			return nil, errf("undefined attribute: %s", key)
		}
		return v, nil
	case map[string]string:
		v, ok := m[key]
		if !ok {
			return nil, errf("undefined attribute: %s", key)
		}
		return v, nil
	default:
		return nil, errf("cannot access attribute %q on %T", key, base)
	}
}

func lookupIndex(base, key any) (any, error) {
	switch c := base.(type) {
	case map[string]any, map[string]string:
		ks, ok := key.(string)
		if !ok {
			return nil, errf("map subscript requires a string key, got %T", key)
		}
		return lookupKey(c, ks)
	case []any:
		i, ok := asInt(key)
		if !ok {
			return nil, errf("list subscript requires an integer, got %T", key)
		}
		if i < 0 {
			i += int64(len(c))
		}
		if i < 0 || i >= int64(len(c)) {
			return nil, errf("list index %d out of range", i)
		}
		return c[i], nil
	case string:
		i, ok := asInt(key)
		if !ok {
			return nil, errf("string subscript requires an integer, got %T", key)
		}
		runes := []rune(c)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil, errf("string index %d out of range", i)
		}
		return string(runes[i]), nil
	default:
		return nil, errf("type %T does not support subscripting", base)
	}
}

func evalIn(needle, haystack any) (any, error) {
	switch c := haystack.(type) {
	case []any:
		for _, el := range c {
			if valuesEqual(needle, el) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return nil, errf("'in' on a string requires a string operand, got %T", needle)
		}
		return strings.Contains(c, s), nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, present := c[s]
		return present, nil
	case map[string]string:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, present := c[s]
		return present, nil
	default:
		return nil, errf("'in' requires a list, string or dict on the right, got %T", haystack)
	}
}

func arithmetic(op string, l, r any) (any, error) {
	// String and list concatenation only for +.
	if op == "+" {
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, errf("cannot add string and %T", r)
			}
			return ls + rs, nil
		}
		if ll, ok := l.([]any); ok {
			rl, ok := r.([]any)
			if !ok {
				return nil, errf("cannot add list and %T", r)
			}
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
	}

	li, lIsInt := asInt(l)
	ri, rIsInt := asInt(r)
	lf, lOK := asFloat(l)
	rf, rOK := asFloat(r)
	if !lOK || !rOK {
		return nil, errf("operator %q requires numbers, got %T and %T", op, l, r)
	}

	switch op {
	case "+":
		if lIsInt && rIsInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case "-":
		if lIsInt && rIsInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case "*":
		if lIsInt && rIsInt {
			return li * ri, nil
		}
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errf("division by zero")
		}
		// Division always yields a float, matching the DSL's arithmetic.
		return lf / rf, nil
	case "%":
		if lIsInt && rIsInt {
			if ri == 0 {
				return nil, errf("division by zero")
			}
			return li % ri, nil
		}
		if rf == 0 {
			return nil, errf("division by zero")
		}
		return math.Mod(lf, rf), nil
	case "**":
		if lIsInt && rIsInt && ri >= 0 {
			result := int64(1)
			for n := int64(0); n < ri; n++ {
				result *= li
			}
			return result, nil
		}
		return math.Pow(lf, rf), nil
	}
	return nil, errf("unsupported operator %q", op)
}

func compareOrdered(op string, l, r any) (any, error) {
	if lf, ok := asFloat(l); ok {
		rf, ok := asFloat(r)
		if !ok {
			return nil, errf("cannot compare %T with %T", l, r)
		}
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return nil, errf("cannot compare %T with %T", l, r)
		}
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, errf("type %T does not support ordering", l)
}

func valuesEqual(l, r any) bool {
	if lf, ok := asFloat(l); ok {
		if rf, ok := asFloat(r); ok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(l, r)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case map[string]string:
		return len(t) > 0
	default:
		if f, ok := asFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
