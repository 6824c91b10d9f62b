// Package schedule triggers backup runs on a cron schedule or in response to
// filesystem activity.
package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/blingcc/ddbvault/internal/core"
)

// JobType distinguishes a cron-triggered job from a watch-triggered one.
type JobType string

const (
	JobTypeCron  JobType = "cron"
	JobTypeWatch JobType = "watch"
)

// JobConfig describes one scheduled backup job's target and trigger.
type JobConfig struct {
	UserID, SetName string
	Sources         []string
	Filter          *core.Filter
	DeepScan        bool
	CheckHash       bool

	CronExpr        string
	WatchPaths      []string
	WatchDebounceMs int
}

// Job is a named, enable-able scheduled backup.
type Job struct {
	ID      string
	Type    JobType
	Enabled bool
	Config  JobConfig
}

type jobState struct {
	job Job

	cronEntry cron.EntryID

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	debounce  *time.Timer

	running bool
	pending bool
}

// Runner owns a set of Jobs and fires core.Target.Backup runs for them,
// either on a cron schedule or debounced after filesystem activity.
type Runner struct {
	mu     sync.Mutex
	jobs   map[string]*jobState
	target *core.Target
	obs    core.Observer

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRunner constructs a Runner bound to target. obs (may be nil) receives
// OnLog notifications about job run outcomes.
func NewRunner(target *core.Target, obs core.Observer) *Runner {
	return &Runner{
		jobs:   make(map[string]*jobState),
		target: target,
		obs:    obs,
		cron:   cron.New(),
	}
}

// Start begins firing scheduled/watched jobs. Idempotent.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.started = true
	r.cron.Start()

	for id := range r.jobs {
		_ = r.applyJobLocked(id)
	}
}

// Stop halts all cron entries and file watchers. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.cron.Stop()
	for id := range r.jobs {
		r.stopJobLocked(id)
	}
	r.started = false
}

// Upsert registers or updates a Job, (re)arming its trigger if the Runner
// is started.
func (r *Runner) Upsert(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.jobs[job.ID]
	if !ok {
		st = &jobState{job: job}
		r.jobs[job.ID] = st
	} else {
		st.job = job
	}

	if r.started {
		return r.applyJobLocked(job.ID)
	}
	return nil
}

// Remove disarms and deletes a Job.
func (r *Runner) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopJobLocked(jobID)
	delete(r.jobs, jobID)
}

// RunNow triggers jobID immediately, outside its normal schedule.
func (r *Runner) RunNow(jobID string) {
	r.runJob(jobID)
}

// List returns every registered Job.
func (r *Runner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, st := range r.jobs {
		out = append(out, st.job)
	}
	return out
}

func (r *Runner) applyJobLocked(jobID string) error {
	st, ok := r.jobs[jobID]
	if !ok {
		return nil
	}

	r.stopJobLocked(jobID)

	if !st.job.Enabled {
		return nil
	}

	switch st.job.Type {
	case JobTypeCron:
		entryID, err := r.cron.AddFunc(st.job.Config.CronExpr, func() {
			r.runJob(jobID)
		})
		if err != nil {
			return fmt.Errorf("scheduling job %s: %w", jobID, err)
		}
		st.cronEntry = entryID
	case JobTypeWatch:
		if err := r.startWatchLocked(jobID); err != nil {
			return fmt.Errorf("watching job %s: %w", jobID, err)
		}
	default:
		return fmt.Errorf("unsupported job type: %s", st.job.Type)
	}
	return nil
}

func (r *Runner) stopJobLocked(jobID string) {
	st, ok := r.jobs[jobID]
	if !ok {
		return
	}

	if st.cronEntry != 0 {
		r.cron.Remove(st.cronEntry)
		st.cronEntry = 0
	}
	if st.debounce != nil {
		st.debounce.Stop()
		st.debounce = nil
	}
	if st.watcher != nil {
		close(st.watchDone)
		_ = st.watcher.Close()
		st.watcher = nil
	}
}

func (r *Runner) startWatchLocked(jobID string) error {
	st, ok := r.jobs[jobID]
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, p := range st.job.Config.WatchPaths {
		if err := addWatchRecursive(watcher, p); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	st.watcher = watcher
	st.watchDone = make(chan struct{})

	debounce := time.Duration(st.job.Config.WatchDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	go func() {
		for {
			select {
			case <-st.watchDone:
				return
			case <-r.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = addWatchRecursive(watcher, event.Name)
					}
				}
				r.requestRun(jobID, debounce)
			case <-watcher.Errors:
			}
		}
	}()
	return nil
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (r *Runner) requestRun(jobID string, debounce time.Duration) {
	r.mu.Lock()
	st, ok := r.jobs[jobID]
	if !ok || !st.job.Enabled {
		r.mu.Unlock()
		return
	}
	if st.debounce != nil {
		st.debounce.Stop()
	}
	st.debounce = time.AfterFunc(debounce, func() {
		r.runJob(jobID)
	})
	r.mu.Unlock()
}

func (r *Runner) runJob(jobID string) {
	r.mu.Lock()
	st, ok := r.jobs[jobID]
	if !ok || !st.job.Enabled {
		r.mu.Unlock()
		return
	}
	if st.running {
		st.pending = true
		r.mu.Unlock()
		return
	}
	st.running = true
	cfg := st.job.Config
	r.mu.Unlock()

	result, err := r.target.Backup(core.BackupOptions{
		UserID:    cfg.UserID,
		SetName:   cfg.SetName,
		Sources:   cfg.Sources,
		Filter:    cfg.Filter,
		DeepScan:  cfg.DeepScan,
		CheckHash: cfg.CheckHash,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	st.running = false

	switch {
	case err != nil:
		logf(r.obs, "job %s failed: %v", jobID, err)
	default:
		logf(r.obs, "job %s completed: %d files, %d bytes", jobID, result.Stats.Files, result.Stats.Bytes)
	}

	if st.pending {
		st.pending = false
		go r.runJob(jobID)
	}
}

func logf(obs core.Observer, format string, args ...any) {
	if obs == nil {
		return
	}
	obs.OnLog(fmt.Sprintf(format, args...))
}
