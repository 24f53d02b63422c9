package autonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/registry"
)

func openTestPortal(t *testing.T) *portal.Portal {
	t.Helper()
	reg := registry.New()
	p, err := portal.Open(reg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAnalyzeSelfContainedFunctionIsAutonomous(t *testing.T) {
	report, err := Analyze(`func square(x int) int {
	return x * x
}`, nil)
	require.NoError(t, err)
	assert.True(t, report.Autonomous())
	assert.Empty(t, report.UnclassifiedNames)
}

func TestAnalyzeFlagsUnclassifiedSelector(t *testing.T) {
	report, err := Analyze(`func greet(name string) string {
	return fmt.Sprintf("hi %s", name)
}`, nil)
	require.NoError(t, err)
	assert.False(t, report.Autonomous())
	assert.Contains(t, report.UnclassifiedNames, "fmt.Sprintf")
}

func TestAnalyzeAllowsWhitelistedSelector(t *testing.T) {
	report, err := Analyze(`func greet(name string) string {
	return fmt.Sprintf("hi %s", name)
}`, []string{"fmt.Sprintf"})
	require.NoError(t, err)
	assert.True(t, report.Autonomous())
}

func TestAnalyzeFlagsGoStatement(t *testing.T) {
	report, err := Analyze(`func fireAndForget() {
	go func() {}()
}`, nil)
	require.NoError(t, err)
	assert.True(t, report.HasGoStatement)
	assert.False(t, report.Autonomous())
}

func TestAnalyzeTreatsLocalsAndBuiltinsAsClassified(t *testing.T) {
	report, err := Analyze(`func sumSlice(nums []int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return len(total)
}`, nil)
	require.NoError(t, err)
	assert.Empty(t, report.UnclassifiedNames)
}

func TestAnalyzeTreatsVarDeclarationsAsClassified(t *testing.T) {
	report, err := Analyze(`func sumRange(n int) int {
	var total int
	for i := 0; i < n; i++ {
		total += i
	}
	const unit = 1
	return total * unit
}`, nil)
	require.NoError(t, err)
	assert.Empty(t, report.UnclassifiedNames)
}

func TestAnalyzeTreatsClosureParamsAsClassified(t *testing.T) {
	report, err := Analyze(`func applyTwice(x int) int {
	double := func(y int) int {
		return y * 2
	}
	return double(double(x))
}`, nil)
	require.NoError(t, err)
	assert.Empty(t, report.UnclassifiedNames)
}

func TestAnalyzeTreatsStructLiteralKeysAsClassified(t *testing.T) {
	report, err := Analyze(`func makePair(a int, b int) struct{ X, Y int } {
	pair := struct{ X, Y int }{X: a, Y: b}
	return pair
}`, nil)
	require.NoError(t, err)
	assert.Empty(t, report.UnclassifiedNames)
}

func TestAssertAutonomousReturnsErrorForViolation(t *testing.T) {
	err := AssertAutonomous(`func bad() int {
	return globalCounter
}`, nil)
	assert.Error(t, err)
}

func TestRegisterRejectsNonAutonomousSource(t *testing.T) {
	p := openTestPortal(t)
	_, err := Register(`func bad() int {
	return globalCounter
}`, nil, p)
	assert.Error(t, err)
}

func TestRegisterAcceptsAutonomousSource(t *testing.T) {
	p := openTestPortal(t)
	af, err := Register(`func double(x int) int {
	return x * 2
}`, nil, p)
	require.NoError(t, err)
	assert.Equal(t, "double", af.Fn.Name)
}

func TestFixKwArgsMergesAndRejectsOverlap(t *testing.T) {
	p := openTestPortal(t)
	af, err := Register(`func add(a int, b int) int {
	return a + b
}`, nil, p)
	require.NoError(t, err)

	fixed, err := af.FixKwArgs(fn.KwArgs{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, fixed.FixedKwArgs["a"])

	_, err = fixed.FixKwArgs(fn.KwArgs{"a": 2})
	assert.Error(t, err, "fixing an already-fixed key must be rejected")
}

func TestCallKwArgsMergesFixedAndCallTime(t *testing.T) {
	p := openTestPortal(t)
	af, err := Register(`func add(a int, b int) int {
	return a + b
}`, nil, p)
	require.NoError(t, err)

	fixed, err := af.FixKwArgs(fn.KwArgs{"a": 10})
	require.NoError(t, err)

	call, err := fixed.CallKwArgs(fn.KwArgs{"b": 5})
	require.NoError(t, err)
	assert.Equal(t, 10, call["a"])
	assert.Equal(t, 5, call["b"])

	_, err = fixed.CallKwArgs(fn.KwArgs{"a": 99})
	assert.Error(t, err, "call-time kwargs overlapping fixed kwargs must be rejected")
}
