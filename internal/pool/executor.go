package pool

import (
	"context"
	"fmt"

	"pixelpress/internal/codec"
	"pixelpress/internal/engine"
	"pixelpress/internal/logging"
)

// EncodeExecutor runs optimize tasks against the encoding engine.
type EncodeExecutor struct {
	engine *engine.Engine
	reg    codec.Registry
	search engine.SearchConfig
}

// NewEncodeExecutor builds the production executor.
func NewEncodeExecutor(eng *engine.Engine, reg codec.Registry, search engine.SearchConfig) *EncodeExecutor {
	return &EncodeExecutor{engine: eng, reg: reg, search: search}
}

// Execute decodes the task source and runs a fixed-settings encode or a
// target-size search, attaching a preview when the winning format is not
// directly displayable.
func (e *EncodeExecutor) Execute(ctx context.Context, task Task) (*TaskResult, error) {
	img, err := codec.DecodeBytes(ctx, task.Source)
	if err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}

	var res *engine.Result
	switch task.Mode {
	case ModeTargetSize:
		res, err = e.engine.Search(ctx, img, task.MaxWidth, task.MaxHeight, task.Format, task.TargetBytes, e.search)
	case ModeFixed:
		res, err = e.engine.Encode(ctx, img, task.MaxWidth, task.MaxHeight, task.Format, task.Quality)
	default:
		return nil, fmt.Errorf("unknown task mode %q", task.Mode)
	}
	if err != nil {
		return nil, err
	}

	out := &TaskResult{
		Bytes:       res.Bytes,
		ByteSize:    res.ByteSize,
		Format:      res.Format,
		Width:       res.Width,
		Height:      res.Height,
		Displayable: res.Displayable,
		Converged:   res.Converged,
	}

	if !res.Displayable {
		preview, perr := e.engine.Preview(ctx, img)
		if perr != nil {
			// The optimized output stands on its own; the preview is a
			// convenience.
			logging.Warn("Preview generation failed for %s result: %v", res.Format, perr)
		} else {
			out.Preview = preview
		}
	}

	return out, nil
}

// Warm initializes the codec library and pre-builds every reachable codec
// so the first real task pays no startup cost.
func (e *EncodeExecutor) Warm(ctx context.Context) error {
	if err := codec.InitVips(); err != nil {
		return fmt.Errorf("initializing vips: %w", err)
	}
	return e.reg.Warmup(ctx)
}
