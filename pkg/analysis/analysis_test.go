package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

func build(t *testing.T, src string) *callgraph.Graph {
	t.Helper()
	prog, err := decl.Load(strings.NewReader(src), "test.yaml")
	require.NoError(t, err)
	g, err := callgraph.Build(prog)
	require.NoError(t, err)
	return g
}

func testConfig(t *testing.T) platform.Config {
	t.Helper()
	cfg, err := platform.Lookup("test")
	require.NoError(t, err)
	return cfg
}

func run(t *testing.T, src string) (*callgraph.Graph, *Result, *diag.List) {
	t.Helper()
	g := build(t, src)
	var diags diag.List
	r := Analyze(g, testConfig(t), &diags)
	return g, r, &diags
}

func TestTransitiveCallers(t *testing.T) {
	g := build(t, `
functions:
  - name: main
    calls: [a]
  - name: a
    calls: [b]
  - name: b
    calls: [c]
  - name: c
  - name: d
    calls: [c]
`)
	passes := TransitiveCallers(g)
	assert.GreaterOrEqual(t, passes, 1)
	assert.Equal(t, []string{"a", "b", "d", "main"}, g.Node("c").TransitiveCallers.Sorted())
	assert.Equal(t, []string{"a", "main"}, g.Node("b").TransitiveCallers.Sorted())
	assert.Empty(t, g.Node("main").TransitiveCallers)
	assert.Empty(t, g.Node("d").TransitiveCallers)
}

func TestAnalyze_SiblingsNormalOnly(t *testing.T) {
	g, r, diags := run(t, `
functions:
  - name: main
    calls: [a, b, c]
  - name: a
  - name: b
  - name: c
`)
	assert.False(t, diags.HasErrors())
	assert.Empty(t, r.Cycles)
	for _, name := range []string{"main", "a", "b", "c"} {
		n := g.Node(name)
		assert.Equal(t, callgraph.NormalOnly, n.Context, name)
		assert.False(t, n.Recursive, name)
		assert.True(t, n.Reachable, name)
	}
	assert.Equal(t, 0, g.Node("main").Depth)
	assert.Equal(t, 1, g.Node("b").Depth)
	assert.Equal(t, 1, r.MaxDepth)
}

func TestAnalyze_ContextBoth(t *testing.T) {
	g, _, diags := run(t, `
functions:
  - name: main
    calls: [shared, plain]
  - name: shared
  - name: plain
  - name: irq
    interrupt: true
    calls: [shared, helper]
  - name: helper
`)
	assert.Equal(t, callgraph.Both, g.Node("shared").Context)
	assert.Equal(t, callgraph.NormalOnly, g.Node("plain").Context)
	assert.Equal(t, callgraph.InterruptOnly, g.Node("irq").Context)
	assert.Equal(t, callgraph.InterruptOnly, g.Node("helper").Context)
	assert.Equal(t, []string{"irq"}, g.Node("helper").Handlers.Sorted())

	both := diags.WithCode(diag.CodeContextBoth)
	require.Len(t, both, 1)
	assert.Equal(t, diag.Warning, both[0].Severity)
	assert.Equal(t, "shared", both[0].Function)
	assert.Equal(t, []string{"irq"}, both[0].Members)
	assert.False(t, diags.HasErrors(), "context Both is not fatal")
}

func TestAnalyze_SelfRecursionFatal(t *testing.T) {
	_, r, diags := run(t, `
functions:
  - name: main
    calls: [factorial]
  - name: factorial
    line: 10
    calls: [{func: factorial, line: 12, col: 9}]
`)
	require.True(t, diags.HasErrors())
	require.True(t, r.HasFatalRecursion())

	errs := diags.WithCode(diag.CodeRecursionSelf)
	require.Len(t, errs, 1)
	d := errs[0]
	assert.Equal(t, "factorial", d.Function)
	assert.Equal(t, 12, d.Pos.Line)
	assert.Equal(t, 9, d.Pos.Col)
	assert.Contains(t, d.Message, "factorial")
	assert.NotEmpty(t, d.Suggestion)
	assert.Equal(t, []string{"factorial"}, d.Members)
}

func TestAnalyze_MutualRecursion(t *testing.T) {
	g, r, diags := run(t, `
functions:
  - name: main
    calls: [even]
  - name: even
    allow_recursion: true
    calls: [odd]
  - name: odd
    calls: [even]
`)
	require.Len(t, r.Cycles, 1)
	c := r.Cycles[0]
	assert.Equal(t, []string{"even", "odd"}, c.Members)
	assert.Equal(t, []string{"even", "odd", "even"}, c.Path)
	assert.False(t, c.Allowed, "partially tagged cycles are rejected")
	assert.Equal(t, []string{"odd"}, c.Untagged)

	errs := diags.WithCode(diag.CodeRecursionMutual)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "allow_recursion is missing on odd")
	assert.Equal(t, "odd", errs[0].Details["untagged"])
	assert.True(t, g.Node("even").Recursive)
	assert.True(t, g.Node("odd").Recursive)
	assert.False(t, g.Node("main").Recursive)
}

func TestAnalyze_AllowedRecursion(t *testing.T) {
	g, r, diags := run(t, `
functions:
  - name: main
    calls: [walk, fact]
  - name: walk
    allow_recursion: true
    calls: [visit]
  - name: visit
    allow_recursion: true
    calls: [walk]
  - name: fact
    allow_recursion: true
    calls: [fact]
`)
	assert.False(t, diags.HasErrors())
	assert.False(t, r.HasFatalRecursion())
	require.Len(t, r.Cycles, 2)
	assert.Equal(t, []string{"fact"}, r.Cycles[0].Members)
	assert.True(t, r.Cycles[0].Self)
	assert.Equal(t, []string{"visit", "walk"}, r.Cycles[1].Members)
	assert.Len(t, diags.WithCode(diag.CodeRecursionAllowed), 2)
	for _, name := range []string{"walk", "visit", "fact"} {
		assert.True(t, g.Node(name).Recursive, name)
	}
}

// Every function in a cycle, and only those, is in its own caller set.
func TestAnalyze_RecursionFlagMatchesCycles(t *testing.T) {
	g, r, _ := run(t, `
functions:
  - name: main
    calls: [a, x]
  - name: a
    calls: [b]
  - name: b
    calls: [c]
  - name: c
    calls: [a, d]
  - name: d
  - name: x
    calls: [x]
`)
	inCycle := map[string]bool{}
	for _, c := range r.Cycles {
		for _, m := range c.Members {
			inCycle[m] = true
		}
	}
	for _, name := range g.Order {
		assert.Equal(t, inCycle[name], g.Node(name).Recursive, name)
	}
	assert.Len(t, r.Cycles, 2)
}

func TestAnalyze_Unreachable(t *testing.T) {
	g, r, diags := run(t, `
functions:
  - name: main
  - name: orphan
`)
	assert.Equal(t, []string{"orphan"}, r.Unreachable)
	n := g.Node("orphan")
	assert.False(t, n.Reachable)
	assert.Equal(t, callgraph.NormalOnly, n.Context)
	assert.Equal(t, -1, n.Depth)
	infos := diags.WithCode(diag.CodeUnreachable)
	require.Len(t, infos, 1)
	assert.Equal(t, diag.Info, infos[0].Severity)
}

func TestAnalyze_DeepCallChain(t *testing.T) {
	g := build(t, `
functions:
  - name: main
    calls: [f1]
  - name: f1
    calls: [f2]
  - name: f2
    calls: [f3]
  - name: f3
    calls: [f4]
  - name: f4
`)
	cfg := testConfig(t)
	cfg.DeepCallDepth = 2
	var diags diag.List
	r := Analyze(g, cfg, &diags)

	assert.Equal(t, 4, r.MaxDepth)
	deep := diags.WithCode(diag.CodeCallDepthDeep)
	require.Len(t, deep, 1, "one warning per chain, at the first function past the limit")
	assert.Equal(t, "f3", deep[0].Function)
	assert.Equal(t, []string{"main", "f1", "f2", "f3"}, deep[0].Members)
	assert.Equal(t, 6, deep[0].Bytes)
}

// main also calls f4 directly; the stack still holds the full chain
func TestAnalyze_DeepChainWithShortcut(t *testing.T) {
	g := build(t, `
functions:
  - name: main
    calls: [f1, f4]
  - name: f1
    calls: [f2]
  - name: f2
    calls: [f3]
  - name: f3
    calls: [f4]
  - name: f4
    calls: [f5]
  - name: f5
`)
	cfg := testConfig(t)
	cfg.DeepCallDepth = 3
	var diags diag.List
	r := Analyze(g, cfg, &diags)

	assert.Equal(t, 5, r.MaxDepth)
	assert.Equal(t, 2, g.Node("f5").Depth)
	assert.Equal(t, 5, g.Node("f5").StackDepth)
	assert.Equal(t, 1, g.Node("f4").Depth)
	assert.Equal(t, 4, g.Node("f4").StackDepth)

	deep := diags.WithCode(diag.CodeCallDepthDeep)
	require.Len(t, deep, 1)
	assert.Equal(t, "f4", deep[0].Function)
	assert.Equal(t, []string{"main", "f1", "f2", "f3", "f4"}, deep[0].Members)
	assert.Equal(t, "1", deep[0].Details["shortest"])
}

// a tagged cycle counts once on the chain
func TestAnalyze_StackDepthThroughCycle(t *testing.T) {
	g := build(t, `
functions:
  - name: main
    calls: [a]
  - name: a
    allow_recursion: true
    calls: [b]
  - name: b
    allow_recursion: true
    calls: [a, leaf]
  - name: leaf
  - name: orphan
`)
	var diags diag.List
	r := Analyze(g, testConfig(t), &diags)

	assert.Equal(t, 1, g.Node("a").StackDepth)
	assert.Equal(t, 1, g.Node("b").StackDepth)
	assert.Equal(t, 2, g.Node("leaf").StackDepth)
	assert.Equal(t, -1, g.Node("orphan").StackDepth)
	assert.Equal(t, 2, r.MaxDepth)
}

func TestAnalyze_DepthFromNearestEntry(t *testing.T) {
	g, _, _ := run(t, `
functions:
  - name: main
    calls: [a]
  - name: a
    calls: [b]
  - name: b
    calls: [c]
  - name: c
  - name: irq
    interrupt: true
    calls: [c]
`)
	assert.Equal(t, 1, g.Node("c").Depth)
	assert.Equal(t, 0, g.Node("irq").Depth)
}

func TestAnalyze_MultipleHandlers(t *testing.T) {
	g, _, _ := run(t, `
functions:
  - name: main
  - name: raster
    interrupt: true
    calls: [util]
  - name: timer
    interrupt: true
    calls: [util, tick]
  - name: util
  - name: tick
`)
	assert.Equal(t, callgraph.InterruptOnly, g.Node("util").Context)
	assert.Equal(t, []string{"raster", "timer"}, g.Node("util").Handlers.Sorted())
	assert.Equal(t, []string{"timer"}, g.Node("tick").Handlers.Sorted())
}

func TestAnalyze_IndirectCall(t *testing.T) {
	g, _, diags := run(t, `
functions:
  - name: main
    calls: [{addr_of: left}, run]
  - name: run
    calls: [{indirect: true, line: 5}]
  - name: left
`)
	// left is only reachable through the indirect call
	assert.True(t, g.Node("left").Reachable)
	assert.Contains(t, g.Node("left").TransitiveCallers.Sorted(), "run")

	ind := diags.WithCode(diag.CodeIndirectCall)
	require.Len(t, ind, 1)
	assert.Equal(t, "run", ind[0].Function)
	assert.Equal(t, 5, ind[0].Pos.Line)
	assert.Equal(t, []string{"left"}, ind[0].Members)
}

func TestAnalyze_Deterministic(t *testing.T) {
	src := `
functions:
  - name: main
    calls: [a, b]
  - name: a
    allow_recursion: true
    calls: [b]
  - name: b
    allow_recursion: true
    calls: [a]
  - name: irq
    interrupt: true
    calls: [a]
`
	_, _, first := run(t, src)
	for i := 0; i < 5; i++ {
		_, _, again := run(t, src)
		require.Equal(t, len(first.All()), len(again.All()))
		for j, d := range first.All() {
			assert.Equal(t, d.String(), again.All()[j].String())
		}
	}
}
