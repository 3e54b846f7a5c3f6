package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/layout"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

func testConfig(t *testing.T) platform.Config {
	t.Helper()
	cfg, err := platform.Lookup("test")
	require.NoError(t, err)
	return cfg
}

func quiet() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}
}

func runYAML(t *testing.T, src string) (*Result, error) {
	t.Helper()
	prog, err := decl.Load(strings.NewReader(src), "test.yaml")
	require.NoError(t, err)
	return Run(context.Background(), prog, testConfig(t), quiet())
}

const game = `
functions:
  - name: main
    locals: [{name: frame, type: word, reads: 4, writes: 4}]
    calls: [s1, s2, s3]
  - name: s1
    locals: [{name: a, type: word}, {name: b, type: word}, {name: c, type: "byte[4]"}]
  - name: s2
    locals: [{name: a, type: word}, {name: b, type: word}, {name: c, type: "byte[4]"}]
  - name: s3
    locals: [{name: a, type: word}, {name: b, type: word}, {name: c, type: "byte[4]"}]
  - name: on_raster
    interrupt: true
    locals: [{name: line, type: byte, reads: 3}]
`

func TestRun(t *testing.T) {
	res, err := runYAML(t, game)
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Equal(t, 5, res.Stats.FunctionCount)
	// s1-s3 share one 8-byte group; main and on_raster each get their own
	assert.Equal(t, 3, res.Stats.GroupCount)
	assert.Equal(t, 8*3+2+2, res.Stats.RawFrameBytes)
	assert.Equal(t, 8+2+2, res.Stats.CoalescedFrameBytes)
	assert.Equal(t, 16, res.Stats.SavedBytes)
	assert.Equal(t, 106, res.Stats.FastBytesAvailable)

	require.Len(t, res.Records, 1+3*3+1)
	r, ok := res.Records.Find("on_raster", "line")
	require.True(t, ok)
	assert.Equal(t, layout.InFast, r.Location)

	a1, _ := res.Records.Find("s1", "c")
	a2, _ := res.Records.Find("s2", "c")
	assert.Equal(t, a1.Group, a2.Group)
}

func TestRun_Logging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	prog, err := decl.Load(strings.NewReader(game), "test.yaml")
	require.NoError(t, err)

	_, err = Run(context.Background(), prog, testConfig(t), Options{Logger: log})
	require.NoError(t, err)

	out := buf.String()
	for _, msg := range []string{
		"call graph built", "call graph analyzed", "frames sized",
		"frames coalesced", "fast memory allocated", "allocation complete",
	} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, "target=test")
	assert.Contains(t, out, "level=INFO msg=\"allocation complete\"")
}

func TestRun_SelfRecursionFatal(t *testing.T) {
	res, err := runYAML(t, `
functions:
  - name: main
    calls: [factorial]
  - name: factorial
    params: [{name: n, type: byte}]
    return: word
    calls: [{func: factorial, line: 12, col: 9}]
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllocationFailed))

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "analysis", fe.Stage)
	require.Len(t, fe.Diagnostics, 1)
	d := fe.Diagnostics[0]
	assert.Equal(t, diag.CodeRecursionSelf, d.Code)
	assert.Equal(t, "factorial", d.Function)
	assert.Equal(t, 12, d.Pos.Line)

	assert.False(t, res.OK())
	assert.Nil(t, res.Records)
	assert.NotNil(t, res.Groups, "later stages still run")
}

func TestRun_FastOverflowFatal(t *testing.T) {
	main := &decl.Function{Name: "main", Body: decl.Sskip{}}
	for i := 0; i < 120; i++ {
		main.Locals = append(main.Locals, decl.Var{Name: fmt.Sprintf("v%03d", i), Type: types.Byte(), Directive: decl.MustBeFast})
	}
	prog := &decl.Program{Functions: []*decl.Function{main}}

	res, err := Run(context.Background(), prog, testConfig(t), quiet())
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "fastmem", fe.Stage)

	overflow := res.Diagnostics.WithCode(diag.CodeFastOverflow)
	require.Len(t, overflow, 1)
	assert.Equal(t, 14, overflow[0].Shortfall)
	assert.Equal(t, 106, res.Stats.FastBytesUsed)
}

func TestRun_SeveralFatalsReported(t *testing.T) {
	_, err := runYAML(t, `
functions:
  - name: main
    calls: [loop]
    locals: [{name: big, type: "byte[600]"}]
  - name: loop
    calls: [loop]
`)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "analysis", fe.Stage, "earliest stage wins")
	codes := make([]diag.Code, 0, len(fe.Diagnostics))
	for _, d := range fe.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Equal(t, []diag.Code{diag.CodeRecursionSelf, diag.CodeFrameRegionOverflow}, codes)
	assert.Contains(t, err.Error(), "2 errors (RECURSION_SELF, FRAME_REGION_OVERFLOW)")
}

func TestRun_ValidationStops(t *testing.T) {
	res, err := runYAML(t, `
functions:
  - name: main
  - name: main
`)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "validate", fe.Stage)
	assert.Nil(t, res.Graph)
	assert.Equal(t, diag.CodeDuplicateFunction, fe.Diagnostics[0].Code)
}

func TestRun_MissingEntry(t *testing.T) {
	_, err := runYAML(t, `
functions:
  - name: helper
`)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, diag.CodeMissingEntry, fe.Diagnostics[0].Code)
}

func TestRun_BadPlatform(t *testing.T) {
	cfg := testConfig(t)
	cfg.FrameRegion = platform.Range{}
	_, err := Run(context.Background(), &decl.Program{}, cfg, quiet())
	var ce *platform.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.False(t, errors.Is(err, ErrAllocationFailed))
}

func TestRun_Cancelled(t *testing.T) {
	prog, err := decl.Load(strings.NewReader(game), "test.yaml")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, prog, testConfig(t), quiet())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Idempotent(t *testing.T) {
	first, err := runYAML(t, game)
	require.NoError(t, err)
	second, err := runYAML(t, game)
	require.NoError(t, err)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestFatalError(t *testing.T) {
	one := &FatalError{Stage: "fastmem", Diagnostics: []*diag.Diagnostic{{Code: diag.CodeFastOverflow, Message: "too much"}}}
	assert.Equal(t, "memory allocation failed: fastmem: too much", one.Error())
	assert.ErrorIs(t, one, ErrAllocationFailed)
}
