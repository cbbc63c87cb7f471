package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pixelpress/internal/batch"
	"pixelpress/internal/capability"
	"pixelpress/internal/codec"
	"pixelpress/internal/engine"
	"pixelpress/internal/formats"
	"pixelpress/internal/locks"
	"pixelpress/internal/logging"
	"pixelpress/internal/pool"
	"pixelpress/internal/store"

	"golang.org/x/term"
)

// sourceExtensions are the inputs the walker picks up from directories.
var sourceExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".avif": true,
	".jxl":  true,
}

type options struct {
	format        string
	quality       float64
	targetSize    int
	maxWidth      int
	maxHeight     int
	outDir        string
	jobs          int
	tolerance     float64
	historyPath   string
	skipProcessed bool
}

func main() {
	opts := parseFlags()

	inputs := flag.Args()
	if len(inputs) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	if err := run(ctx, opts, inputs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.format, "format", "jpeg", "output format (jpeg, png, webp, avif, jxl)")
	flag.Float64Var(&opts.quality, "quality", engine.DefaultQuality, "encode quality in (0,1]")
	flag.IntVar(&opts.targetSize, "target-size", 0, "target output size in bytes; 0 encodes at -quality")
	flag.IntVar(&opts.maxWidth, "max-width", 0, "maximum output width in pixels; 0 keeps the source width")
	flag.IntVar(&opts.maxHeight, "max-height", 0, "maximum output height in pixels; 0 keeps the source height")
	flag.StringVar(&opts.outDir, "out", "", "output directory (default: alongside each source)")
	flag.IntVar(&opts.jobs, "jobs", 0, "concurrent items; 0 sizes to the worker pool")
	flag.Float64Var(&opts.tolerance, "tolerance", 0.85, "accepted fill fraction of -target-size")
	flag.StringVar(&opts.historyPath, "history", "", "job history database path; empty disables history")
	flag.BoolVar(&opts.skipProcessed, "skip-processed", false, "skip sources already optimized with identical parameters (needs -history)")
	flag.Usage = printUsage
	flag.Parse()
	return opts
}

func printUsage() {
	fmt.Println("PixelPress batch optimizer")
	fmt.Println("")
	fmt.Println("Usage: pxcli [flags] <file-or-directory> ...")
	fmt.Println("")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func run(ctx context.Context, opts *options, inputs []string) error {
	format, err := formats.Parse(opts.format)
	if err != nil {
		return err
	}
	if opts.quality <= 0 || opts.quality > 1 {
		return fmt.Errorf("quality must be in (0,1], got %v", opts.quality)
	}
	if opts.targetSize < 0 {
		return fmt.Errorf("target-size must be non-negative, got %d", opts.targetSize)
	}

	items, err := collectItems(inputs)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no source images found under %s", strings.Join(inputs, ", "))
	}

	if err := codec.InitVips(); err != nil {
		logging.Warn("libvips initialization failed: %v", err)
	}
	defer codec.ShutdownVips()

	reg := codec.NewRegistry()
	caps := capability.NewResolver(reg)
	caps.Resolve(ctx)
	if !caps.Supported(format) {
		return fmt.Errorf("format %s is not supported by this build", format)
	}

	search := engine.DefaultSearchConfig()
	search.Tolerance = opts.tolerance
	p := pool.New(pool.NewEncodeExecutor(engine.New(reg, caps), reg, search))
	defer p.Close()
	p.Warmup(0, len(items))

	var history *store.Store
	if opts.historyPath != "" {
		history, err = store.New(ctx, opts.historyPath)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer func() {
			if err := history.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close history database: %v\n", err)
			}
		}()
	}

	opt := batch.New(p, locks.New(), historyOrNil(history))

	settings := batch.Settings{
		Mode:          pool.ModeFixed,
		Format:        format,
		Quality:       opts.quality,
		MaxWidth:      opts.maxWidth,
		MaxHeight:     opts.maxHeight,
		Jobs:          opts.jobs,
		SkipProcessed: opts.skipProcessed && history != nil,
	}
	if opts.targetSize > 0 {
		settings.Mode = pool.ModeTargetSize
		settings.TargetBytes = opts.targetSize
	}

	summary := opt.Run(ctx, items, settings)

	if err := writeOutputs(summary, items, format, opts.outDir); err != nil {
		return err
	}

	report(summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", summary.Failed, len(items))
	}
	return nil
}

// historyOrNil avoids handing batch.New a typed nil interface.
func historyOrNil(s *store.Store) batch.History {
	if s == nil {
		return nil
	}
	return s
}

func collectItems(inputs []string) ([]batch.Item, error) {
	var paths []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", input, err)
		}
		if !info.IsDir() {
			paths = append(paths, input)
			continue
		}
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if sourceExtensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", input, err)
		}
	}

	items := make([]batch.Item, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		items = append(items, batch.Item{Key: abs, Name: filepath.Base(path), Source: data})
	}
	return items, nil
}

func writeOutputs(summary batch.Summary, items []batch.Item, format formats.Format, outDir string) error {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	for i, out := range summary.Outcomes {
		if out.Status != store.StatusSucceeded {
			continue
		}
		path := outputPath(items[i].Key, out.Result.Format, outDir)
		if err := os.WriteFile(path, out.Result.Bytes, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// outputPath swaps the source extension for the encoded format's, placing
// the file in outDir when given. A same-directory, same-extension output
// gets an ".opt" infix rather than clobbering the source.
func outputPath(sourcePath string, format formats.Format, outDir string) string {
	traits, _ := formats.TraitsOf(format)
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	dir := filepath.Dir(sourcePath)
	if outDir != "" {
		dir = outDir
	}

	path := filepath.Join(dir, base+"."+traits.Extension)
	if path == sourcePath {
		path = filepath.Join(dir, base+".opt."+traits.Extension)
	}
	return path
}

func report(summary batch.Summary) {
	tty := term.IsTerminal(int(os.Stdout.Fd()))

	for _, out := range summary.Outcomes {
		note := ""
		if out.Animated {
			note = "  (first frame only)"
		}
		switch {
		case out.Status == store.StatusSucceeded && tty:
			fmt.Printf("  %-40s %8d bytes  %s %dx%d%s\n",
				out.Name, out.Result.ByteSize, out.Result.Format, out.Result.Width, out.Result.Height, note)
		case out.Status == store.StatusSucceeded:
			fmt.Printf("%s\t%s\t%d\t%s\n", out.Name, out.Status, out.Result.ByteSize, out.Result.Format)
		case out.Err != nil:
			fmt.Printf("%s\t%s\t%v\n", out.Name, out.Status, out.Err)
		default:
			fmt.Printf("%s\t%s\n", out.Name, out.Status)
		}
	}

	if tty {
		fmt.Println("")
		fmt.Printf("%d succeeded, %d failed, %d skipped in %s\n",
			summary.Succeeded, summary.Failed, summary.Skipped, summary.Duration.Round(10*time.Millisecond))
		if summary.BytesSaved > 0 {
			pct := float64(summary.BytesSaved) / float64(summary.BytesIn) * 100
			fmt.Printf("%d bytes in, %d bytes out (%.1f%% saved)\n", summary.BytesIn, summary.BytesOut, pct)
		}
	}
}
