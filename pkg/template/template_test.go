package template

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine() *Engine {
	e := New()
	e.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	e.newUUID = func() string { return "00000000-0000-4000-8000-000000000000" }
	return e
}

func TestRenderPlainString(t *testing.T) {
	e := New()
	out, err := e.Render("no markers here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers here", out)
}

func TestRenderVariables(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"name":  "world",
		"count": int64(3),
		"params": map[string]any{
			"region": "us-east-1",
		},
	}

	out, err := e.Render("hello {{ name }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = e.Render("{{ count }} items in {{ params.region }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "3 items in us-east-1", out)
}

func TestStrictUndefined(t *testing.T) {
	e := New()
	_, err := e.Render("hello {{ missing }}", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined template variable "missing"`)

	var tplErr *TemplateError
	assert.ErrorAs(t, err, &tplErr)
}

func TestNestedTemplatesRejected(t *testing.T) {
	e := New()
	rejected := []string{
		"{{ a {{ b }} c }}",
		"{{ render('x') }}",
		"{{ RENDER }}",
		"{{ include 'other' }}",
		"{{ extends base }}",
	}
	for _, tpl := range rejected {
		_, err := e.Render(tpl, map[string]any{"a": 1})
		require.Error(t, err, tpl)
		assert.Contains(t, err.Error(), "nested template rendering is not allowed", tpl)
	}
}

func TestUnclosedMarker(t *testing.T) {
	e := New()
	_, err := e.Render("oops {{ name", map[string]any{"name": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed template marker")
}

func TestNowFilter(t *testing.T) {
	e := fixedEngine()

	out, err := e.Render("{{ '' | now }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14 09:26:53", out)

	out, err = e.Render("{{ '%Y%m%d' | now }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "20250314", out)

	out, err = e.Render("{{ '' | now('%H:%M') }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "09:26", out)
}

func TestHashFilter(t *testing.T) {
	e := New()

	out, err := e.Render("{{ value | hash }}", map[string]any{"value": "petal"})
	require.NoError(t, err)
	assert.Len(t, out, 64) // sha256 hex

	out, err = e.Render("{{ value | hash('md5') }}", map[string]any{"value": "petal"})
	require.NoError(t, err)
	assert.Len(t, out, 32)

	_, err = e.Render("{{ value | hash('crc32') }}", map[string]any{"value": "petal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported hash algorithm: crc32")
}

func TestToJSONFilter(t *testing.T) {
	e := New()
	ctx := map[string]any{"obj": map[string]any{"a": int64(1), "b": []any{"x"}}}
	out, err := e.Render("{{ obj | tojson }}", ctx)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(1), decoded["a"])
}

func TestPathFilters(t *testing.T) {
	e := New()
	ctx := map[string]any{"p": "/tmp/runs/run_1/report.json"}

	out, err := e.Render("{{ p | basename }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "report.json", out)

	out, err = e.Render("{{ p | dirname }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs/run_1", out)

	out, err = e.Render("{{ p | joinpath('sub', 'file.txt') }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/runs/run_1/report.json", "sub", "file.txt"), out)

	out, err = e.Render("{{ rel | abspath }}", map[string]any{"rel": "x/y"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(out))

	out, err = e.Render("{{ p | relpath('/tmp/runs') }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("run_1", "report.json"), out)
}

func TestEnvFilter(t *testing.T) {
	e := New()
	t.Setenv("PETAL_TEST_VAR", "from-env")

	out, err := e.Render("{{ 'PETAL_TEST_VAR' | env }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", out)

	out, err = e.Render("{{ 'PETAL_TEST_MISSING' | env('fallback') }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestUUIDFilter(t *testing.T) {
	e := fixedEngine()
	out, err := e.Render("{{ '' | uuid }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-4000-8000-000000000000", out)
}

func TestUnknownFilterRejected(t *testing.T) {
	e := New()
	_, err := e.Render("{{ value | upper }}", map[string]any{"value": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown filter "upper"`)
}

func TestFilterChaining(t *testing.T) {
	e := New()
	out, err := e.Render("{{ p | basename | hash('md5') }}", map[string]any{"p": "/a/b/c.txt"})
	require.NoError(t, err)
	assert.Len(t, out, 32)
}

func TestValidate(t *testing.T) {
	e := New()

	ok, msg := e.Validate("plain {{ name }} and {{ p | basename }}")
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, msg = e.Validate("{{ a {{ b }} }}")
	assert.False(t, ok)
	assert.Equal(t, "nested template rendering is not allowed", msg)

	ok, msg = e.Validate("{{ value | upper }}")
	assert.False(t, ok)
	assert.Contains(t, msg, `unknown filter "upper"`)

	ok, msg = e.Validate("{{ broken")
	assert.False(t, ok)
	assert.Contains(t, msg, "unclosed template marker")
}

func TestRequiredVariables(t *testing.T) {
	e := New()
	vars := e.RequiredVariables("{{ name }} {{ count }} {{ name }} {{ p | basename }}")
	assert.Equal(t, []string{"count", "name"}, vars)
}

func TestLiteralSegments(t *testing.T) {
	e := New()

	out, err := e.Render("{{ 'quoted' }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "quoted", out)

	out, err = e.Render("{{ 42 }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	out, err = e.Render("{{ true }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "true", out)
}
