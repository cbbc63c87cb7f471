package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pixelpress/internal/formats"
	"pixelpress/internal/limiter"
	"pixelpress/internal/locks"
	"pixelpress/internal/logging"
	"pixelpress/internal/metrics"
	"pixelpress/internal/pool"
	"pixelpress/internal/store"
)

// ErrLocked marks an item skipped because another operation holds it.
var ErrLocked = errors.New("item is locked by another operation")

// Item is one source image to optimize. Key identifies the logical item
// for locking; for files it is the path.
type Item struct {
	Key    string
	Name   string
	Source []byte
}

// Settings applies to every item of one run.
type Settings struct {
	Mode        pool.Mode
	Format      formats.Format
	Quality     float64
	TargetBytes int
	MaxWidth    int
	MaxHeight   int
	// Jobs bounds concurrent items; 0 means one per pool unit.
	Jobs int
	// SkipProcessed consults job history and skips sources already
	// optimized with identical parameters.
	SkipProcessed bool
}

// Outcome is one item's result.
type Outcome struct {
	Key    string
	Name   string
	JobID  string
	Status string // store.StatusSucceeded, StatusFailed, StatusSkipped
	Result *pool.TaskResult
	Err    error
	// Retryable is set on failures that a later run may succeed on.
	Retryable bool
	// Animated marks sources whose container holds multiple frames; the
	// encoded output keeps only the first.
	Animated bool
	Duration time.Duration
}

// Summary aggregates a run.
type Summary struct {
	Outcomes   []Outcome
	Succeeded  int
	Failed     int
	Skipped    int
	BytesIn    int64
	BytesOut   int64
	BytesSaved int64
	Duration   time.Duration
}

// Dispatcher is the pool surface the orchestrator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, task pool.Task) (*pool.TaskResult, error)
	Grow(minCount, itemCount int)
}

// History records job outcomes; *store.Store satisfies it.
type History interface {
	Record(ctx context.Context, job store.Job) error
	ShouldSkip(ctx context.Context, sourceSHA256, paramsHash string) (bool, error)
}

// Optimizer drives batches of items through the worker pool with per-item
// locking and bounded concurrency.
type Optimizer struct {
	pool    Dispatcher
	locks   *locks.Registry
	history History // optional
}

// New creates an Optimizer. history may be nil to disable job records.
func New(p Dispatcher, reg *locks.Registry, history History) *Optimizer {
	return &Optimizer{pool: p, locks: reg, history: history}
}

// Run optimizes every item. A single item's failure never aborts the
// batch; outcomes come back in item order.
func (o *Optimizer) Run(ctx context.Context, items []Item, settings Settings) Summary {
	start := time.Now()

	o.pool.Grow(0, len(items))

	jobs := settings.Jobs
	if jobs <= 0 {
		jobs = len(items)
	}

	paramsHash := settings.hash()
	tasks := make([]func(context.Context) (Outcome, error), len(items))
	for i, item := range items {
		item := item
		tasks[i] = func(ctx context.Context) (Outcome, error) {
			return o.runItem(ctx, item, settings, paramsHash), nil
		}
	}

	results := limiter.Run(ctx, tasks, jobs)

	sum := Summary{Outcomes: make([]Outcome, len(items))}
	for i, r := range results {
		out := r.Value
		if r.Err != nil {
			// Only the limiter itself errors here (context ended before
			// the item started).
			out = Outcome{Key: items[i].Key, Name: items[i].Name, Status: store.StatusSkipped, Err: r.Err}
		}
		sum.Outcomes[i] = out

		switch out.Status {
		case store.StatusSucceeded:
			sum.Succeeded++
			sum.BytesIn += int64(len(items[i].Source))
			sum.BytesOut += int64(out.Result.ByteSize)
			if saved := int64(len(items[i].Source)) - int64(out.Result.ByteSize); saved > 0 {
				sum.BytesSaved += saved
				metrics.BytesSavedTotal.Add(float64(saved))
			}
		case store.StatusFailed:
			sum.Failed++
		default:
			sum.Skipped++
		}
		metrics.BatchItemsTotal.WithLabelValues(out.Status).Inc()
	}
	sum.Duration = time.Since(start)

	logging.Info("Batch complete: %d succeeded, %d failed, %d skipped, %s saved in %s",
		sum.Succeeded, sum.Failed, sum.Skipped, humanBytes(sum.BytesSaved), sum.Duration.Round(time.Millisecond))
	return sum
}

func (o *Optimizer) runItem(ctx context.Context, item Item, settings Settings, paramsHash string) Outcome {
	start := time.Now()
	out := Outcome{
		Key:   item.Key,
		Name:  item.Name,
		JobID: uuid.NewString(),
	}

	sourceSHA := sha256Hex(item.Source)

	if formats.IsAnimated(item.Source) {
		out.Animated = true
		logging.Warn("%s looks animated; only the first frame is encoded", item.Name)
	}

	if settings.SkipProcessed && o.history != nil {
		skip, err := o.history.ShouldSkip(ctx, sourceSHA, paramsHash)
		if err != nil {
			logging.Warn("Job history lookup failed for %s: %v", item.Name, err)
		} else if skip {
			out.Status = store.StatusSkipped
			out.Duration = time.Since(start)
			logging.Debug("Skipping %s: already optimized with identical parameters", item.Name)
			return out
		}
	}

	if !o.locks.Acquire(item.Key) {
		out.Status = store.StatusSkipped
		out.Err = ErrLocked
		out.Duration = time.Since(start)
		logging.Warn("Skipping %s: %v", item.Name, ErrLocked)
		return out
	}
	defer o.locks.Release(item.Key)

	res, err := o.pool.Dispatch(ctx, pool.Task{
		Mode:        settings.Mode,
		Source:      item.Source,
		Format:      settings.Format,
		Quality:     settings.Quality,
		TargetBytes: settings.TargetBytes,
		MaxWidth:    settings.MaxWidth,
		MaxHeight:   settings.MaxHeight,
	})
	out.Duration = time.Since(start)

	if err != nil {
		out.Status = store.StatusFailed
		out.Err = err
		out.Retryable = true
		logging.Error("Optimizing %s failed: %v", item.Name, err)
	} else {
		out.Status = store.StatusSucceeded
		out.Result = res
		if !res.Converged && settings.Mode == pool.ModeTargetSize {
			logging.Warn("%s: best effort %d bytes, above the %d byte target",
				item.Name, res.ByteSize, settings.TargetBytes)
		}
	}

	o.record(ctx, item, out, sourceSHA, paramsHash)
	return out
}

func (o *Optimizer) record(ctx context.Context, item Item, out Outcome, sourceSHA, paramsHash string) {
	if o.history == nil {
		return
	}

	job := store.Job{
		ID:           out.JobID,
		SourceName:   item.Name,
		SourceSHA256: sourceSHA,
		ParamsHash:   paramsHash,
		Status:       out.Status,
		SourceSize:   int64(len(item.Source)),
		Duration:     out.Duration,
	}
	if out.Result != nil {
		job.OutputFormat = string(out.Result.Format)
		job.OutputSize = int64(out.Result.ByteSize)
	}
	if out.Err != nil {
		job.Error = out.Err.Error()
	}

	if err := o.history.Record(ctx, job); err != nil {
		logging.Warn("Recording job %s failed: %v", out.JobID, err)
	}
}

// hash folds every setting that affects output into a short hex token.
func (s Settings) hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.4f|%d|%d|%d", s.Mode, s.Format, s.Quality, s.TargetBytes, s.MaxWidth, s.MaxHeight)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func humanBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
