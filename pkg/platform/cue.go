package platform

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSrc string

// rangeFile and platformFile mirror #Range and #Platform in schema.cue
type rangeFile struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type platformFile struct {
	Name                  string      `json:"name"`
	Fast                  rangeFile   `json:"fast"`
	Reserved              []rangeFile `json:"reserved"`
	Frame                 rangeFile   `json:"frame"`
	Alignment             int         `json:"alignment"`
	LargeFrameBytes       int         `json:"large_frame_bytes"`
	VeryLargeFrameBytes   int         `json:"very_large_frame_bytes"`
	LargeFramePercent     int         `json:"large_frame_percent"`
	VeryLargeFramePercent int         `json:"very_large_frame_percent"`
	DeepCallDepth         int         `json:"deep_call_depth"`
	RegisterParams        bool        `json:"register_params"`
	AccessCap             int         `json:"access_cap"`
	MaxLoopShift          int         `json:"max_loop_shift"`
	MaxAutoSlotBytes      int         `json:"max_auto_slot_bytes"`
}

// LoadError is a CUE failure with the first position CUE reported
type LoadError struct {
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadCUEFile reads a target description written in CUE
func LoadCUEFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading platform file: %w", err)
	}
	return LoadCUE(data, path)
}

// LoadCUE unifies src with the #Platform schema and converts it to a Config.
// Omitted thresholds take the schema defaults.
func LoadCUE(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Platform")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var pf platformFile
	if err := v.Decode(&pf); err != nil {
		return Config{}, formatCUEError(err)
	}

	c := Config{
		Name:                  pf.Name,
		FastRegion:            toRange(pf.Fast),
		FrameRegion:           toRange(pf.Frame),
		Alignment:             pf.Alignment,
		LargeFrameBytes:       pf.LargeFrameBytes,
		VeryLargeFrameBytes:   pf.VeryLargeFrameBytes,
		LargeFramePercent:     pf.LargeFramePercent,
		VeryLargeFramePercent: pf.VeryLargeFramePercent,
		DeepCallDepth:         pf.DeepCallDepth,
		RegisterParams:        pf.RegisterParams,
		AccessCap:             pf.AccessCap,
		MaxLoopShift:          pf.MaxLoopShift,
		MaxAutoSlotBytes:      pf.MaxAutoSlotBytes,
	}
	for _, r := range pf.Reserved {
		c.FastReserved = append(c.FastReserved, toRange(r))
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func toRange(r rangeFile) Range {
	return Range{Start: uint16(r.Start), End: uint16(r.End)}
}

// formatCUEError keeps the first CUE error and its position
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	le := &LoadError{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
