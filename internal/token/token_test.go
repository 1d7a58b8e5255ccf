package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransformResolvesKeywordsInputsEnv(t *testing.T) {
	ctx := New("/root", "/project", "run-1", time.Unix(0, 0), map[string]string{"name": "world"}, map[string]string{"STAGE": "prod"})
	out := ctx.Transform("hello ${{ name }} in ${{ STAGE }} at ${{ bld_run_id }}")
	assert.Equal(t, "hello world in prod at run-1", out)
}

func TestTransformLeavesUnresolvedLiteral(t *testing.T) {
	ctx := New("/root", "/project", "run-1", time.Now(), nil, nil)
	out := ctx.Transform("value: ${{ missing }}")
	assert.Equal(t, "value: ${{ missing }}", out)
}

func TestTransformIdempotentWithoutMarkers(t *testing.T) {
	ctx := New("/root", "/project", "run-1", time.Now(), nil, nil)
	assert.Equal(t, "plain text, no markers here", ctx.Transform("plain text, no markers here"))
}

func TestUnresolvedReportsMissingNames(t *testing.T) {
	ctx := New("/root", "/project", "run-1", time.Now(), map[string]string{"a": "1"}, nil)
	missing := ctx.Unresolved("${{ a }} ${{ b }} ${{ bld_run_id }} ${{ c }}")
	assert.ElementsMatch(t, []string{"b", "c"}, missing)
}

func TestTransformToleratesWhitespaceInsideMarker(t *testing.T) {
	ctx := New("/root", "/project", "run-1", time.Now(), map[string]string{"x": "y"}, nil)
	assert.Equal(t, "y", ctx.Transform("${{   x   }}"))
}
