// Package pipeline runs the six allocation stages in order:
//
//	callgraph -> analysis -> frame -> coalesce -> fastmem -> layout
//
// Input validation and call-graph errors stop the run at once. Later errors
// (recursion, frame overflow, fast-memory overflow) do not: stages 3 to 5
// still run so that one build reports every fatal problem, but no layout
// records are produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blendsdk/blend65-sub013/pkg/analysis"
	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/coalesce"
	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/fastmem"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
	"github.com/blendsdk/blend65-sub013/pkg/layout"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// ErrAllocationFailed is wrapped by every FatalError
var ErrAllocationFailed = errors.New("memory allocation failed")

// FatalError is returned when the run produced error diagnostics
type FatalError struct {
	Stage       string
	Diagnostics []*diag.Diagnostic // error severity only
}

func (e *FatalError) Error() string {
	if len(e.Diagnostics) == 1 {
		return fmt.Sprintf("%s: %s: %s", ErrAllocationFailed, e.Stage, e.Diagnostics[0].Message)
	}
	codes := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		codes = append(codes, string(d.Code))
	}
	return fmt.Sprintf("%s: %s: %d errors (%s)", ErrAllocationFailed, e.Stage, len(e.Diagnostics), strings.Join(codes, ", "))
}

func (e *FatalError) Unwrap() error {
	return ErrAllocationFailed
}

// Options tunes a run
type Options struct {
	Logger *slog.Logger // nil means slog.Default()
}

// Stats summarizes a run
type Stats struct {
	FunctionCount       int     `json:"functions"`
	GroupCount          int     `json:"groups"`
	RawFrameBytes       int     `json:"raw_frame_bytes"`
	CoalescedFrameBytes int     `json:"coalesced_frame_bytes"`
	SavedBytes          int     `json:"saved_bytes"`
	SavedPercent        float64 `json:"saved_percent"`
	FrameBytesUsed      int     `json:"frame_bytes_used"`
	FastBytesUsed       int     `json:"fast_bytes_used"`
	FastBytesAvailable  int     `json:"fast_bytes_available"`
	FallbackCount       int     `json:"fallbacks"`
	MaxCallDepth        int     `json:"max_call_depth"`
}

// Result holds every stage's output. Fields of stages that did not run
// are nil.
type Result struct {
	Platform    platform.Config
	Graph       *callgraph.Graph
	Analysis    *analysis.Result
	Frames      *frame.Set
	Groups      *coalesce.Result
	Fast        *fastmem.Result
	Records     layout.Records
	Diagnostics *diag.List
	Stats       Stats
}

// OK reports whether the run produced layout records
func (r *Result) OK() bool {
	return r.Records != nil && !r.Diagnostics.HasErrors()
}

// Run allocates memory for prog on the target cfg. On fatal diagnostics it
// returns the partial result together with a *FatalError.
func Run(ctx context.Context, prog *decl.Program, cfg platform.Config, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("target", cfg.Name)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Platform: cfg, Diagnostics: &diag.List{}}
	diags := res.Diagnostics

	if !decl.Validate(prog, diags) {
		return res, fatal("validate", diags)
	}

	g, err := callgraph.Build(prog)
	if err != nil {
		graphError(err, diags)
		return res, fatal("callgraph", diags)
	}
	res.Graph = g
	log.Debug("call graph built", "functions", len(g.Order), "entry", g.Entry, "handlers", len(g.Handlers))

	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Analysis = analysis.Analyze(g, cfg, diags)
	log.Debug("call graph analyzed",
		"passes", res.Analysis.Passes,
		"cycles", len(res.Analysis.Cycles),
		"unreachable", len(res.Analysis.Unreachable),
		"max_depth", res.Analysis.MaxDepth)

	res.Frames = frame.Compute(prog, g.Order, cfg, diags)
	log.Debug("frames sized", "frames", len(res.Frames.Order), "bytes", res.Frames.RawBytes())

	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Groups = coalesce.Coalesce(g, res.Frames, cfg, diags)
	log.Debug("frames coalesced",
		"groups", len(res.Groups.Groups),
		"bytes", res.Groups.CoalescedBytes,
		"saved", res.Groups.SavedBytes)

	res.Fast = fastmem.Allocate(g, res.Frames, res.Groups, cfg, diags)
	log.Debug("fast memory allocated",
		"placed", len(res.Fast.Placements),
		"used", res.Fast.Used,
		"available", res.Fast.Available,
		"fallbacks", len(res.Fast.Fallbacks))

	res.Stats = collectStats(res)

	if diags.HasErrors() {
		log.Info("allocation failed", "errors", len(diags.Errors()), "warnings", len(diags.Warnings()))
		return res, fatal(failedStage(diags), diags)
	}

	res.Records = layout.Resolve(res.Frames, res.Groups, res.Fast)
	log.Info("allocation complete",
		"functions", res.Stats.FunctionCount,
		"groups", res.Stats.GroupCount,
		"frame_bytes", res.Stats.CoalescedFrameBytes,
		"saved_bytes", res.Stats.SavedBytes,
		"fast_bytes", res.Stats.FastBytesUsed,
		"warnings", len(diags.Warnings()))
	return res, nil
}

func collectStats(r *Result) Stats {
	return Stats{
		FunctionCount:       len(r.Graph.Order),
		GroupCount:          len(r.Groups.Groups),
		RawFrameBytes:       r.Groups.RawBytes,
		CoalescedFrameBytes: r.Groups.CoalescedBytes,
		SavedBytes:          r.Groups.SavedBytes,
		SavedPercent:        r.Groups.SavedPercent,
		FrameBytesUsed:      r.Groups.UsedBytes,
		FastBytesUsed:       r.Fast.Used,
		FastBytesAvailable:  r.Fast.Available,
		FallbackCount:       len(r.Fast.Fallbacks),
		MaxCallDepth:        r.Analysis.MaxDepth,
	}
}

// graphError turns a call-graph build failure into a diagnostic
func graphError(err error, diags *diag.List) {
	var undeclared *callgraph.UndeclaredError
	switch {
	case errors.As(err, &undeclared):
		d := diags.Errorf(diag.CodeUndeclaredFunction, "%s", err.Error())
		d.Function = undeclared.Caller
		d.Members = []string{undeclared.Callee}
		d.Pos = undeclared.Pos
	case errors.Is(err, callgraph.ErrNoEntry):
		diags.Errorf(diag.CodeMissingEntry, "%s", err.Error())
	default:
		diags.Errorf(diag.CodeInvalidSlot, "%s", err.Error())
	}
}

// stageOf maps each fatal code to the stage that raises it
var stageOf = map[diag.Code]string{
	diag.CodeRecursionSelf:       "analysis",
	diag.CodeRecursionMutual:     "analysis",
	diag.CodeFrameRegionOverflow: "coalesce",
	diag.CodeFastOverflow:        "fastmem",
	diag.CodeFastFragmented:      "fastmem",
	diag.CodeFastReservedAddress: "fastmem",
	diag.CodeFastAddressConflict: "fastmem",
	diag.CodeUndeclaredFunction:  "callgraph",
	diag.CodeMissingEntry:        "callgraph",
	diag.CodeDuplicateFunction:   "validate",
	diag.CodeInvalidSlot:         "validate",
}

// failedStage names the earliest stage that reported an error
func failedStage(diags *diag.List) string {
	errs := diags.Errors()
	if len(errs) == 0 {
		return ""
	}
	if s, ok := stageOf[errs[0].Code]; ok {
		return s
	}
	return "allocate"
}

func fatal(stage string, diags *diag.List) error {
	return &FatalError{Stage: stage, Diagnostics: diags.Errors()}
}
