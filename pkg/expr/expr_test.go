package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() map[string]any {
	return map[string]any{
		"params": map[string]any{
			"region":  "us-east-1",
			"count":   int64(3),
			"enabled": true,
			"ratio":   0.5,
		},
		"vars": map[string]any{
			"greeting": "hello",
			"items":    []any{"a", "b", "c"},
			"limits":   map[string]any{"max": int64(10)},
		},
		"outputs": map[string]any{
			"build": map[string]any{"ok": true},
		},
		"env": map[string]string{
			"STAGE": "prod",
		},
	}
}

func TestEvaluateComparisons(t *testing.T) {
	e := New()
	ctx := testContext()

	cases := map[string]bool{
		"params.count == 3":                   true,
		"params.count != 3":                   false,
		"params.count < 5":                    true,
		"params.count <= 3":                   true,
		"params.count > 10":                   false,
		"params.count >= 3":                   true,
		"params.region == 'us-east-1'":        true,
		"params.region != \"eu-west-1\"":      true,
		"params.ratio < 1":                    true,
		"params.enabled && params.count > 1":  true,
		"params.enabled && params.count > 5":  false,
		"!params.enabled || params.count > 1": true,
		"!params.enabled":                     false,
	}
	for expression, want := range cases {
		got, err := e.Evaluate(expression, ctx)
		require.NoError(t, err, expression)
		assert.Equal(t, want, got, expression)
	}
}

func TestEvaluateMembership(t *testing.T) {
	e := New()
	ctx := testContext()

	got, err := e.Evaluate("'b' in vars.items", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate("'z' in vars.items", ctx)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("'east' in params.region", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate("'max' in vars.limits", ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateArithmetic(t *testing.T) {
	e := New()
	ctx := testContext()

	v, err := e.EvaluateValue("params.count + 1", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = e.EvaluateValue("2 ** 10", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), v)

	v, err = e.EvaluateValue("7 % 3", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = e.EvaluateValue("3 / 2", ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = e.EvaluateValue("'foo' + 'bar'", ctx)
	require.NoError(t, err)
	assert.Equal(t, "foobar", v)

	_, err = e.EvaluateValue("1 / 0", ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestEvaluateSubscripts(t *testing.T) {
	e := New()
	ctx := testContext()

	v, err := e.EvaluateValue("vars.items[0]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = e.EvaluateValue("vars.items[-1]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	v, err = e.EvaluateValue("vars.limits['max']", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	v, err = e.EvaluateValue("outputs.build.ok", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = e.EvaluateValue("vars.items[9]", ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestRejectsFunctionCalls(t *testing.T) {
	e := New()
	rejected := []string{
		"os.system('rm -rf /')",
		"len(vars.items)",
		"params.region.upper()",
		"__import__('os')",
	}
	for _, expression := range rejected {
		_, err := e.Parse(expression)
		require.Error(t, err, expression)
		assert.Contains(t, err.Error(), "function calls are not allowed in expressions", expression)

		var exprErr *ExpressionError
		assert.ErrorAs(t, err, &exprErr, expression)
	}
}

func TestRejectsForbiddenConstructs(t *testing.T) {
	e := New()

	_, err := e.Parse("x = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assignment is not allowed")

	_, err = e.Parse("lambda")
	require.Error(t, err)

	_, err = e.Parse("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expression cannot be empty")

	_, err = e.Parse("   ")
	require.Error(t, err)
}

func TestRejectsUnknownNamespace(t *testing.T) {
	e := New()
	_, err := e.Parse("secrets.token == 'x'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid namespace: secrets")
}

func TestUndefinedIdentifier(t *testing.T) {
	e := New()
	_, err := e.Evaluate("missing", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined identifier: missing")

	var exprErr *ExpressionError
	assert.ErrorAs(t, err, &exprErr)
}

func TestUndefinedAttribute(t *testing.T) {
	e := New()
	_, err := e.Evaluate("params.missing == 1", testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined attribute: missing")
}

func TestValidate(t *testing.T) {
	e := New()

	ok, msg := e.Validate("params.count > 0 && 'a' in vars.items")
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, msg = e.Validate("open('/etc/passwd')")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}

func TestIdentifiers(t *testing.T) {
	e := New()
	ids := e.Identifiers("params.count > 0 && env.STAGE == 'prod' || vars.greeting in vars.items")
	assert.Equal(t, []string{"env.STAGE", "params.count", "vars.greeting", "vars.items"}, ids)
}

func TestTruthinessCoercion(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"vars": map[string]any{
			"empty":    "",
			"nonempty": "x",
			"zero":     int64(0),
			"list":     []any{},
		},
	}

	got, err := e.Evaluate("vars.nonempty", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate("vars.empty", ctx)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("vars.zero", ctx)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("vars.list", ctx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLiterals(t *testing.T) {
	e := New()
	ctx := map[string]any{}

	v, err := e.EvaluateValue("[1, 2, 3]", ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, v)

	v, err = e.EvaluateValue("{'a': 1, 'b': 2}", ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(2)}, v)

	v, err = e.EvaluateValue("None", ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = e.EvaluateValue("True", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestParseCaching(t *testing.T) {
	e := New()
	n1, err := e.Parse("1 + 2")
	require.NoError(t, err)
	n2, err := e.Parse("1 + 2")
	require.NoError(t, err)
	assert.Same(t, n1, n2)
}

func TestShortCircuit(t *testing.T) {
	e := New()
	// The right side would fail if evaluated.
	got, err := e.Evaluate("false && missing", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("true || missing", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}
