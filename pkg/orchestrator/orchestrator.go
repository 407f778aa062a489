/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
	"github.com/cloudnative-pg/pg-backup-core/pkg/concurrency"
	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

// Destination selects which worker runs a job: the orchestrator's own
// process (Local true) or a remote subprocess addressed by Key.
type Destination struct {
	Local bool
	Key   RemoteClientKey
}

// PlannedFile is one unit of dispatch: a copy job, the manifest entry it
// will eventually produce, and where it should run.
type PlannedFile struct {
	Job         copier.Job
	RelPath     string
	Size        int64
	Destination Destination
}

// Applier commits one job's result into the backup manifest under
// construction. It is always called from a single goroutine at a time, so
// it never needs its own locking.
type Applier func(file PlannedFile, result manifest.CopyResult) error

// PeriodicSaver persists the manifest-in-progress, called after every
// ManifestSaveThreshold completed files so a crash mid-backup loses at
// most one threshold's worth of progress.
type PeriodicSaver func() error

// Config bounds the behavior of a Dispatcher.
type Config struct {
	Concurrency           int
	ManifestSaveThreshold int
	LocalWorker           *copier.Worker
	RemotePool            *RemoteClientPool
	Metrics               *Metrics
}

// Summary totals a dispatch run's outcomes.
type Summary struct {
	Copied        int
	Skipped       int
	Noop          int
	Recopied      int
	ChecksumMatch int
	Failed        int
}

// Dispatcher runs a fixed pool of workers against a queue of planned
// files, applying each result to the manifest as it completes and
// checking for cancellation at file boundaries only — a job already
// running is never interrupted mid-copy.
type Dispatcher struct {
	cfg   Config
	paths *pathLocks
	slots *slotPool
}

// NewDispatcher builds a Dispatcher from cfg, defaulting Concurrency to 1
// when unset.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &Dispatcher{
		cfg:   cfg,
		paths: newPathLocks(),
		slots: newSlotPool(cfg.Concurrency),
	}
}

// Run dispatches every file in files, grouped by containing directory and
// ordered largest-first within each group so that one slow, small file
// doesn't stall a whole directory's worth of throughput. cancel, once
// broadcast, stops new jobs from starting; in-flight jobs still run to
// completion.
func (d *Dispatcher) Run(
	ctx context.Context,
	files []PlannedFile,
	apply Applier,
	save PeriodicSaver,
	cancel *concurrency.Executed,
) (Summary, error) {
	queue := groupAndOrder(files)

	var (
		mu        sync.Mutex
		summary   Summary
		applyErr  error
		wg        sync.WaitGroup
		sinceSave int
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if cancel != nil {
		go func() {
			cancel.Wait()
			stop()
		}()
	}

	for _, file := range queue {
		mu.Lock()
		hasErr := applyErr != nil
		mu.Unlock()
		if hasErr || runCtx.Err() != nil {
			break
		}

		if err := d.slots.acquire(runCtx); err != nil {
			break
		}

		file := file
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.slots.release()

			if err := d.paths.lock(runCtx, file.RelPath); err != nil {
				return
			}
			defer d.paths.unlock(file.RelPath)

			d.cfg.Metrics.jobStarted()
			start := time.Now()

			result, err := d.runOne(runCtx, file)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				d.cfg.Metrics.jobFailed()
				if applyErr == nil {
					applyErr = fmt.Errorf("copying %s: %w", file.RelPath, err)
				}
				summary.Failed++
				return
			}

			d.cfg.Metrics.jobFinished(result.Status, result.CopySize, time.Since(start).Seconds())
			tallyStatus(&summary, result.Status)

			if applyErr == nil {
				if err := apply(file, result); err != nil {
					applyErr = fmt.Errorf("applying result for %s: %w", file.RelPath, err)
					return
				}
				sinceSave++
				if save != nil && d.cfg.ManifestSaveThreshold > 0 && sinceSave >= d.cfg.ManifestSaveThreshold {
					sinceSave = 0
					if err := save(); err != nil {
						applyErr = fmt.Errorf("periodic manifest save: %w", err)
					}
				}
			}
		}()
	}

	wg.Wait()

	if applyErr != nil {
		return summary, applyErr
	}
	if runCtx.Err() != nil && (cancel == nil || !cancel.IsDone()) {
		return summary, runCtx.Err()
	}
	return summary, nil
}

func (d *Dispatcher) runOne(ctx context.Context, file PlannedFile) (manifest.CopyResult, error) {
	if file.Destination.Local {
		if d.cfg.LocalWorker == nil {
			return manifest.CopyResult{}, fmt.Errorf("no local worker configured: %w", backupengine.ErrAssert)
		}
		return d.cfg.LocalWorker.CopyFile(file.Job)
	}

	if d.cfg.RemotePool == nil {
		return manifest.CopyResult{}, fmt.Errorf("no remote client pool configured: %w", backupengine.ErrAssert)
	}

	transport, err := d.cfg.RemotePool.Get(ctx, file.Destination.Key)
	if err != nil {
		return manifest.CopyResult{}, err
	}

	resp, err := transport.Send(ctx, jobToRequest(file.Job))
	if err != nil {
		return manifest.CopyResult{}, err
	}

	return responseToResult(resp)
}

// groupAndOrder buckets files by their containing directory (preserving
// each bucket's first-seen order across the run) and sorts files within a
// bucket largest-first, then flattens back into a single queue. Grouping
// by locality keeps a worker's page cache and any per-directory repo
// metadata warm; largest-first keeps one huge file from landing last and
// extending the tail of an otherwise-finished directory.
func groupAndOrder(files []PlannedFile) []PlannedFile {
	order := make([]string, 0)
	buckets := make(map[string][]PlannedFile)

	for _, f := range files {
		dir := filepath.Dir(f.RelPath)
		if _, ok := buckets[dir]; !ok {
			order = append(order, dir)
		}
		buckets[dir] = append(buckets[dir], f)
	}

	result := make([]PlannedFile, 0, len(files))
	for _, dir := range order {
		bucket := buckets[dir]
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Size > bucket[j].Size })
		result = append(result, bucket...)
	}
	return result
}

func tallyStatus(s *Summary, status manifest.CopyStatus) {
	switch status {
	case manifest.CopyStatusCopied:
		s.Copied++
	case manifest.CopyStatusSkipped:
		s.Skipped++
	case manifest.CopyStatusNoop:
		s.Noop++
	case manifest.CopyStatusRecopied:
		s.Recopied++
	case manifest.CopyStatusChecksumMatch:
		s.ChecksumMatch++
	}
}
