package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/pipeline"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
	"github.com/blendsdk/blend65-sub013/pkg/report"
	"github.com/blendsdk/blend65-sub013/pkg/store"
)

var version = "0.1.0"

// Debug flags for dumping intermediate stage results
var (
	dDecl    bool
	dGraph   bool
	dFrames  bool
	dGroups  bool
	dFast    bool
	dRecords bool
)

// Run options
var (
	target       string
	platformFile string
	format       string
	dbPath       string
	verbose      bool
	listTargets  bool
)

// ErrUnknownFormat is returned for an unsupported --format value
var ErrUnknownFormat = errors.New("unknown output format")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the dump flags that also accept a single dash
var debugFlagNames = []string{"ddecl", "dgraph", "dframes", "dgroups", "dfast", "drecords"}

// normalizeFlags converts single-dash dump flags like -dgraph to --dgraph
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "framealloc [file.yaml]",
		Short: "framealloc lays out static frames and zero page for 8-bit targets",
		Long: `framealloc reads typed function declarations, builds the call graph,
rejects unsafe recursion, coalesces frames of functions that are never
active together and places the hottest variables in fast memory.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listTargets {
				printTargets(out)
				return nil
			}
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			if format != "text" && format != "json" {
				fmt.Fprintf(errOut, "framealloc: %v %q\n", ErrUnknownFormat, format)
				return ErrUnknownFormat
			}
			return doAllocate(cmd.Context(), args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVarP(&dDecl, "ddecl", "", false, "Dump the loaded declarations")
	rootCmd.Flags().BoolVarP(&dGraph, "dgraph", "", false, "Dump the analyzed call graph")
	rootCmd.Flags().BoolVarP(&dFrames, "dframes", "", false, "Dump frame layouts")
	rootCmd.Flags().BoolVarP(&dGroups, "dgroups", "", false, "Dump coalescing groups")
	rootCmd.Flags().BoolVarP(&dFast, "dfast", "", false, "Dump fast-memory placements")
	rootCmd.Flags().BoolVarP(&dRecords, "drecords", "", false, "Dump final slot records")

	rootCmd.Flags().StringVarP(&target, "target", "t", platform.DefaultTarget, "Built-in target platform")
	rootCmd.Flags().StringVar(&platformFile, "platform-file", "", "Target description in CUE (overrides --target)")
	rootCmd.Flags().StringVarP(&format, "format", "f", "text", "Report format: text or json")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Record the run in this SQLite database and compare with the last run")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every stage")
	rootCmd.Flags().BoolVar(&listTargets, "list-targets", false, "List the built-in targets and exit")

	rootCmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "platform" {
			name = "platform-file"
		}
		return pflag.NormalizedName(name)
	})

	return rootCmd
}

func anyDump() bool {
	return dDecl || dGraph || dFrames || dGroups || dFast || dRecords
}

func newLogger(errOut io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

func loadPlatform() (platform.Config, error) {
	if platformFile != "" {
		return platform.LoadCUEFile(platformFile)
	}
	return platform.Lookup(target)
}

// doAllocate runs the whole pipeline on one declaration file
func doAllocate(ctx context.Context, filename string, out, errOut io.Writer) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "framealloc: error reading %s: %v\n", filename, err)
		return err
	}
	prog, err := decl.Load(bytes.NewReader(data), filename)
	if err != nil {
		fmt.Fprintf(errOut, "framealloc: %v\n", err)
		return err
	}
	cfg, err := loadPlatform()
	if err != nil {
		fmt.Fprintf(errOut, "framealloc: %v\n", err)
		return err
	}

	if dDecl {
		decl.NewPrinter(out).PrintProgram(prog)
	}

	log := newLogger(errOut)
	res, runErr := pipeline.Run(ctx, prog, cfg, pipeline.Options{Logger: log})
	if res == nil {
		fmt.Fprintf(errOut, "framealloc: %v\n", runErr)
		return runErr
	}

	if anyDump() {
		doDumps(res, out, errOut)
	} else if err := writeReport(res, out); err != nil {
		fmt.Fprintf(errOut, "framealloc: %v\n", err)
		return err
	}

	if dbPath != "" {
		if err := recordRun(ctx, report.InputHash(data), res, log, errOut); err != nil {
			fmt.Fprintf(errOut, "framealloc: %v\n", err)
			return err
		}
	}

	if runErr != nil {
		fmt.Fprintf(errOut, "framealloc: %v\n", runErr)
		return runErr
	}
	return nil
}

func writeReport(res *pipeline.Result, out io.Writer) error {
	if format == "json" {
		return report.JSON(out, res)
	}
	report.Text(out, res)
	return nil
}

// doDumps prints the requested stage results in pipeline order
func doDumps(res *pipeline.Result, out, errOut io.Writer) {
	p := report.NewPrinter(out)
	if dGraph && res.Graph != nil {
		p.PrintGraph(res.Graph)
	}
	if dFrames && res.Frames != nil {
		p.PrintFrames(res.Frames)
	}
	if dGroups && res.Groups != nil {
		p.PrintGroups(res.Groups)
	}
	if dFast && res.Fast != nil {
		p.PrintFast(res.Fast)
	}
	if dRecords {
		p.PrintRecords(res.Records)
	}
	report.NewPrinter(errOut).PrintDiagnostics(res.Diagnostics.Sorted())
}

// recordRun saves the run and warns when the layout of an unchanged input
// differs from the previous run
func recordRun(ctx context.Context, inputHash string, res *pipeline.Result, log *slog.Logger, errOut io.Writer) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	prev, err := db.LastRun(ctx, inputHash, res.Platform.Name)
	if err != nil && !errors.Is(err, store.ErrNoRun) {
		return err
	}
	cur, err := db.SaveRun(ctx, inputHash, res)
	if err != nil {
		return err
	}
	log.Debug("run recorded", "id", cur.ID, "seq", cur.Seq, "fingerprint", cur.Fingerprint)

	if store.Changed(prev, cur) {
		fmt.Fprintf(errOut, "framealloc: warning: layout differs from run %s of the same input (fingerprint %.12s, now %.12s)\n",
			prev.ID, prev.Fingerprint, cur.Fingerprint)
	}
	return nil
}

func printTargets(out io.Writer) {
	for _, name := range platform.Targets() {
		cfg, err := platform.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%-6s fast %s (%d free)  frames %s", name, cfg.FastRegion, cfg.FastPoolSize(), cfg.FrameRegion)
		if cfg.RegisterParams {
			fmt.Fprint(out, "  register params")
		}
		fmt.Fprintln(out)
	}
}
