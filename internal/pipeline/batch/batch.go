// Package batch runs a per-file operation over a batch of files with bounded
// concurrency, a per-file wall-clock timeout, and total error isolation: one
// file's failure, panic, or timeout never disturbs its siblings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"niemgraph/internal/pipeline/report"
)

type Kind string

const (
	KindSchema  Kind = "schema"
	KindConvert Kind = "convert"
	KindIngest  Kind = "ingest"
)

// File is one unit of batch work: a filename plus its raw bytes.
type File struct {
	Name string
	Data []byte
}

// Outcome is what a per-file operation reports on success.
type Outcome struct {
	Nodes      int
	Edges      int
	Validation *report.ValidationReport
	Warnings   []string
}

// Fn is the per-file operation. The context carries the per-file deadline and
// the batch cancellation signal; implementations are expected to honor it at
// their blocking points.
type Fn func(ctx context.Context, f File) (Outcome, error)

// Limits holds the reconfigurable caps. Zero values fall back to defaults.
type Limits struct {
	MaxConcurrent  int
	PerFileTimeout time.Duration
	MaxFiles       map[Kind]int
}

const (
	DefaultMaxConcurrent  = 3
	DefaultPerFileTimeout = 60 * time.Second
)

// DefaultMaxFiles returns the default per-kind batch size caps.
func DefaultMaxFiles() map[Kind]int {
	return map[Kind]int{
		KindSchema:  50,
		KindConvert: 20,
		KindIngest:  20,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = DefaultMaxConcurrent
	}
	if l.PerFileTimeout <= 0 {
		l.PerFileTimeout = DefaultPerFileTimeout
	}
	if l.MaxFiles == nil {
		l.MaxFiles = DefaultMaxFiles()
	}
	return l
}

// Executor owns the process-wide concurrency gate. One Executor is shared by
// every public entrypoint, so the cap holds across overlapping batches.
type Executor struct {
	limits Limits
	sem    *semaphore.Weighted
	log    *zap.Logger

	// Test probes, invoked as each per-file operation starts and finishes.
	// Must be fast and safe for concurrent use.
	OnStart func(filename string)
	OnDone  func(filename string)
}

func NewExecutor(limits Limits, log *zap.Logger) *Executor {
	limits = limits.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		limits: limits,
		sem:    semaphore.NewWeighted(int64(limits.MaxConcurrent)),
		log:    log,
	}
}

// Run applies fn to every file. The result has one entry per input file in
// input order; no file is skipped, retried, or cancelled by a sibling's
// failure. A batch larger than the per-kind cap is rejected synchronously.
func (e *Executor) Run(ctx context.Context, files []File, kind Kind, fn Fn) (report.BatchResult, error) {
	limit, ok := e.limits.MaxFiles[kind]
	if !ok {
		return report.BatchResult{}, fmt.Errorf("unknown batch kind %q", kind)
	}
	if len(files) > limit {
		return report.BatchResult{}, fmt.Errorf("%w: %d files submitted, %s cap is %d",
			report.ErrBatchTooLarge, len(files), kind, limit)
	}

	res := report.BatchResult{
		FilesSubmitted: len(files),
		PerFile:        make([]report.FileResult, len(files)),
	}

	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f File) {
			defer wg.Done()
			res.PerFile[i] = e.runOne(ctx, f, fn)
		}(i, f)
	}
	wg.Wait()

	res.Tally()
	return res, nil
}

var errTimeout = errors.New("timeout")

type fileDone struct {
	out Outcome
	err error
}

func (e *Executor) runOne(ctx context.Context, f File, fn Fn) report.FileResult {
	fr := report.FileResult{Filename: f.Name, Status: report.StatusFailed}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		fr.Error = err.Error()
		return fr
	}

	if e.OnStart != nil {
		e.OnStart(f.Name)
	}
	start := time.Now()

	fctx, cancel := context.WithTimeout(ctx, e.limits.PerFileTimeout)
	defer cancel()

	// The operation races its deadline. If the timer wins, the slot is
	// released immediately and the straggler goroutine is left to observe
	// its cancelled context; its late result is discarded.
	done := make(chan fileDone, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("per-file operation panicked",
					zap.String("file", f.Name),
					zap.ByteString("stack", debug.Stack()))
				done <- fileDone{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn(fctx, f)
		done <- fileDone{out: out, err: err}
	}()

	var d fileDone
	select {
	case d = <-done:
	case <-fctx.Done():
		d.err = fctx.Err()
	}
	// Normalize the per-file deadline to the documented "timeout" error,
	// whether the timer won the race or the operation reported it first.
	if errors.Is(d.err, context.DeadlineExceeded) && ctx.Err() == nil {
		d.err = errTimeout
	} else if ctx.Err() != nil && d.err != nil {
		d.err = ctx.Err()
	}

	e.sem.Release(1)
	if e.OnDone != nil {
		e.OnDone(f.Name)
	}

	fr.Validation = d.out.Validation
	fr.Warnings = d.out.Warnings
	if d.err != nil {
		fr.Error = d.err.Error()
		e.log.Warn("file failed",
			zap.String("file", f.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", fr.Error))
		return fr
	}
	fr.Status = report.StatusSuccess
	fr.NodesCreated = d.out.Nodes
	fr.EdgesCreated = d.out.Edges
	return fr
}
