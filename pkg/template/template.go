// Package template implements the `{{ }}` interpolation language used
// in workflow vars, step env overrides and with-parameter bags.
//
// Rendering is strict and single-pass: unresolved variables are errors,
// and a template whose expansion would itself contain template syntax is
// rejected outright. There are no loops and no include/extends style
// composition; the only computation available is a closed set of pure
// filter functions.
package template

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

// TemplateError is returned for syntax errors, unresolved variables and
// forbidden nested-template patterns.
type TemplateError struct {
	msg string
}

func (e *TemplateError) Error() string { return e.msg }

func errf(format string, args ...any) error {
	return &TemplateError{msg: fmt.Sprintf(format, args...)}
}

// nestedPatterns flag template strings that would require a second
// rendering pass or template composition; both are hard-rejected.
var nestedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{.*\{\{.*\}\}.*\}\}`),
	regexp.MustCompile(`(?i)\{\{.*render.*\}\}`),
	regexp.MustCompile(`(?i)\{\{.*include.*\}\}`),
	regexp.MustCompile(`(?i)\{\{.*extends.*\}\}`),
}

var variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Engine renders workflow template strings.
// The zero value is not usable, call New.
type Engine struct {
	now     func() time.Time
	newUUID func() string
}

// New creates a template engine.
func New() *Engine {
	return &Engine{
		now:     time.Now,
		newUUID: func() string { return uuid.NewString() },
	}
}

// Render interpolates every {{ }} marker in tpl against the context in a
// single pass. A string without markers is returned unchanged.
func (e *Engine) Render(tpl string, context map[string]any) (string, error) {
	if hasNestedTemplates(tpl) {
		return "", errf("nested template rendering is not allowed")
	}
	if !strings.Contains(tpl, "{{") {
		return tpl, nil
	}

	var out strings.Builder
	rest := tpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", errf("unclosed template marker")
		}
		inner := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		value, err := e.evalPipeline(inner, context)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(value))
	}
}

// Validate checks a template without rendering it. The message is empty
// when the template is valid.
func (e *Engine) Validate(tpl string) (bool, string) {
	if hasNestedTemplates(tpl) {
		return false, "nested template rendering is not allowed"
	}
	rest := tpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			return true, ""
		}
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return false, "unclosed template marker"
		}
		inner := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]
		if _, err := parsePipeline(inner); err != nil {
			return false, err.Error()
		}
	}
}

// RequiredVariables returns the sorted set of bare variable names a
// template references.
func (e *Engine) RequiredVariables(tpl string) []string {
	seen := make(map[string]bool)
	for _, m := range variablePattern.FindAllStringSubmatch(tpl, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func hasNestedTemplates(tpl string) bool {
	for _, p := range nestedPatterns {
		if p.MatchString(tpl) {
			return true
		}
	}
	return false
}

// pipeline is a parsed {{ value | filter(args) | ... }} body.
type pipeline struct {
	head    segment
	filters []filterCall
}

type segment struct {
	// exactly one of these is set
	path    []string // dotted identifier path
	literal any
	isLit   bool
}

type filterCall struct {
	name string
	args []segment
}

func parsePipeline(inner string) (*pipeline, error) {
	if inner == "" {
		return nil, errf("empty template expression")
	}
	parts, err := splitPipeline(inner)
	if err != nil {
		return nil, err
	}

	head, err := parseSegment(parts[0])
	if err != nil {
		return nil, err
	}
	p := &pipeline{head: head}

	for _, raw := range parts[1:] {
		fc, err := parseFilterCall(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := filters[fc.name]; !ok {
			return nil, errf("unknown filter %q", fc.name)
		}
		p.filters = append(p.filters, fc)
	}
	return p, nil
}

// splitPipeline splits on '|' outside of quoted strings.
func splitPipeline(s string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '|':
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, errf("unterminated string in template expression")
	}
	parts = append(parts, strings.TrimSpace(cur.String()))
	for _, p := range parts {
		if p == "" {
			return nil, errf("empty segment in template pipeline")
		}
	}
	return parts, nil
}

var identPathPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)
var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

func parseSegment(s string) (segment, error) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		if s[len(s)-1] != s[0] {
			return segment{}, errf("unterminated string literal %q", s)
		}
		return segment{literal: s[1 : len(s)-1], isLit: true}, nil
	}
	switch s {
	case "true":
		return segment{literal: true, isLit: true}, nil
	case "false":
		return segment{literal: false, isLit: true}, nil
	}
	if numberPattern.MatchString(s) {
		if strings.Contains(s, ".") {
			var f float64
			fmt.Sscanf(s, "%g", &f)
			return segment{literal: f, isLit: true}, nil
		}
		var i int64
		fmt.Sscanf(s, "%d", &i)
		return segment{literal: i, isLit: true}, nil
	}
	if identPathPattern.MatchString(s) {
		return segment{path: strings.Split(s, ".")}, nil
	}
	return segment{}, errf("invalid template expression %q", s)
}

func parseFilterCall(raw string) (filterCall, error) {
	open := strings.Index(raw, "(")
	if open < 0 {
		if !identPathPattern.MatchString(raw) || strings.Contains(raw, ".") {
			return filterCall{}, errf("invalid filter %q", raw)
		}
		return filterCall{name: raw}, nil
	}
	if !strings.HasSuffix(raw, ")") {
		return filterCall{}, errf("missing ')' in filter %q", raw)
	}
	name := strings.TrimSpace(raw[:open])
	argsRaw := strings.TrimSpace(raw[open+1 : len(raw)-1])
	fc := filterCall{name: name}
	if argsRaw == "" {
		return fc, nil
	}
	for _, a := range splitArgs(argsRaw) {
		seg, err := parseSegment(strings.TrimSpace(a))
		if err != nil {
			return filterCall{}, err
		}
		fc.args = append(fc.args, seg)
	}
	return fc, nil
}

// splitArgs splits on commas outside of quoted strings.
func splitArgs(s string) []string {
	var parts []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

func (e *Engine) evalPipeline(inner string, context map[string]any) (any, error) {
	p, err := parsePipeline(inner)
	if err != nil {
		return nil, err
	}

	value, err := resolveSegment(p.head, context)
	if err != nil {
		return nil, err
	}

	for _, fc := range p.filters {
		args := make([]any, 0, len(fc.args))
		for _, seg := range fc.args {
			v, err := resolveSegment(seg, context)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		value, err = filters[fc.name](e, value, args)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func resolveSegment(seg segment, context map[string]any) (any, error) {
	if seg.isLit {
		return seg.literal, nil
	}
	var cur any = context
	for i, part := range seg.path {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, errf("undefined template variable %q", strings.Join(seg.path[:i+1], "."))
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, errf("undefined template variable %q", strings.Join(seg.path[:i+1], "."))
			}
			cur = v
		default:
			return nil, errf("cannot resolve %q: %q is not a map", strings.Join(seg.path, "."), strings.Join(seg.path[:i], "."))
		}
	}
	return cur, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// filterFunc implements one whitelisted filter. The piped value arrives
// first, extra call arguments after.
type filterFunc func(e *Engine, value any, args []any) (any, error)

var filters = map[string]filterFunc{
	"now":      filterNow,
	"hash":     filterHash,
	"tojson":   filterToJSON,
	"abspath":  filterAbspath,
	"relpath":  filterRelpath,
	"env":      filterEnv,
	"basename": filterBasename,
	"dirname":  filterDirname,
	"uuid":     filterUUID,
	"joinpath": filterJoinpath,
}

// filterNow formats the current time. The piped value, when a non-empty
// string, is used as the strftime format; default "%Y-%m-%d %H:%M:%S".
func filterNow(e *Engine, value any, args []any) (any, error) {
	format := "%Y-%m-%d %H:%M:%S"
	if s, ok := value.(string); ok && s != "" {
		format = s
	}
	if len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return nil, errf("now: format must be a string")
		}
		format = s
	}
	return strftime.Format(format, e.now()), nil
}

func filterHash(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("hash: value must be a string, got %T", value)
	}
	algorithm := "sha256"
	if len(args) > 0 {
		a, ok := args[0].(string)
		if !ok {
			return nil, errf("hash: algorithm must be a string")
		}
		algorithm = a
	}

	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return nil, errf("unsupported hash algorithm: %s", algorithm)
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func filterToJSON(e *Engine, value any, args []any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, errf("tojson: %v", err)
	}
	return string(b), nil
}

func filterAbspath(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("abspath: value must be a string, got %T", value)
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return nil, errf("abspath: %v", err)
	}
	return abs, nil
}

func filterRelpath(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("relpath: value must be a string, got %T", value)
	}
	start := "."
	if len(args) > 0 {
		st, ok := args[0].(string)
		if !ok {
			return nil, errf("relpath: start must be a string")
		}
		start = st
	}
	rel, err := filepath.Rel(start, s)
	if err != nil {
		return nil, errf("relpath: %v", err)
	}
	return rel, nil
}

// filterEnv reads a process environment variable by name; an optional
// argument supplies the default for unset variables.
func filterEnv(e *Engine, value any, args []any) (any, error) {
	key, ok := value.(string)
	if !ok {
		return nil, errf("env: key must be a string, got %T", value)
	}
	def := ""
	if len(args) > 0 {
		d, ok := args[0].(string)
		if !ok {
			return nil, errf("env: default must be a string")
		}
		def = d
	}
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return def, nil
}

func filterBasename(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("basename: value must be a string, got %T", value)
	}
	return filepath.Base(s), nil
}

func filterDirname(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("dirname: value must be a string, got %T", value)
	}
	return filepath.Dir(s), nil
}

// filterUUID ignores its input and produces a fresh random UUID.
func filterUUID(e *Engine, value any, args []any) (any, error) {
	return e.newUUID(), nil
}

func filterJoinpath(e *Engine, value any, args []any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errf("joinpath: value must be a string, got %T", value)
	}
	parts := []string{s}
	for _, a := range args {
		p, ok := a.(string)
		if !ok {
			return nil, errf("joinpath: parts must be strings, got %T", a)
		}
		parts = append(parts, p)
	}
	return filepath.Join(parts...), nil
}
