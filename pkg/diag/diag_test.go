package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Severities(t *testing.T) {
	var l List
	l.Infof(CodeUnreachable, "function %q is never called", "dead")
	l.Warnf(CodeFrameLarge, "frame of %q is %d bytes", "big", 80)
	assert.False(t, l.HasErrors())

	l.Errorf(CodeRecursionSelf, "function %q calls itself", "factorial")
	require.True(t, l.HasErrors())
	assert.Len(t, l.Errors(), 1)
	assert.Len(t, l.Warnings(), 1)
	assert.Equal(t, 3, l.Len())
	assert.Len(t, l.WithCode(CodeFrameLarge), 1)
}

func TestList_AddReturnsDecoratable(t *testing.T) {
	var l List
	d := l.Errorf(CodeFastOverflow, "fast memory exhausted")
	d.Shortfall = 14
	d.Members = []string{"main.a", "main.b"}

	require.Len(t, l.All(), 1)
	assert.Equal(t, 14, l.All()[0].Shortfall)
	assert.Equal(t, []string{"main.a", "main.b"}, l.All()[0].Members)
}

func TestList_Sorted(t *testing.T) {
	var l List
	l.Infof(CodeRecursionAllowed, "ok").Function = "b"
	l.Warnf(CodeFastFallback, "x").Function = "z"
	l.Warnf(CodeFastFallback, "y").Function = "a"
	l.Errorf(CodeFrameRegionOverflow, "boom")

	sorted := l.Sorted()
	require.Len(t, sorted, 4)
	assert.Equal(t, CodeFrameRegionOverflow, sorted[0].Code)
	assert.Equal(t, "a", sorted[1].Function)
	assert.Equal(t, "z", sorted[2].Function)
	assert.Equal(t, CodeRecursionAllowed, sorted[3].Code)

	// emission order untouched
	assert.Equal(t, CodeRecursionAllowed, l.All()[0].Code)
}

func TestList_Merge(t *testing.T) {
	var a, b List
	a.Infof(CodeUnreachable, "one")
	b.Warnf(CodeContextBoth, "two")
	a.Merge(&b)
	a.Merge(nil)
	assert.Equal(t, 2, a.Len())
}

func TestDiagnostic_String(t *testing.T) {
	d := &Diagnostic{Severity: Error, Code: CodeRecursionSelf, Message: "function \"factorial\" calls itself",
		Pos: Pos{File: "math.b65", Line: 12, Col: 9}}
	assert.Equal(t, `math.b65:12:9: error: RECURSION_SELF: function "factorial" calls itself`, d.String())
	assert.Equal(t, d.String(), d.Error())

	d.Pos = Pos{}
	assert.Equal(t, `error: RECURSION_SELF: function "factorial" calls itself`, d.String())
}

func TestPos_String(t *testing.T) {
	assert.Equal(t, "", Pos{}.String())
	assert.Equal(t, "3:4", Pos{Line: 3, Col: 4}.String())
	assert.Equal(t, "a.b65:3:4", Pos{File: "a.b65", Line: 3, Col: 4}.String())
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "info", Info.String())
}
