package service

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/metrics"
	"github.com/apim-gateway/gwbundle/internal/progress"
	"github.com/apim-gateway/gwbundle/internal/storage"
)

var (
	defaultInterval = 5 * time.Minute
	errorInterval   = 30 * time.Second
)

// BuildWorker builds the artifacts of a project and writes them to the
// configured storage. Each run synchronizes the git sources, reads the
// dependency bundles, loads the project, assembles the artifacts and stores
// them.
type BuildWorker struct {
	cfg        *config.Root
	kinds      *entity.Registry
	sources    *Sources
	workDir    string
	storage    storage.Store
	changed    chan struct{}
	done       chan struct{}
	singleShot bool
	log        *logging.Logger
	bar        *progress.Bar
	interval   time.Duration

	mu     sync.Mutex
	status Status
}

// NewBuildWorker creates a worker for the project configured by cfg. Git
// working copies and downloaded dependency bundles are kept below workDir.
func NewBuildWorker(cfg *config.Root, workDir string, logger *logging.Logger, bar *progress.Bar) *BuildWorker {
	return &BuildWorker{
		cfg:      cfg,
		kinds:    entity.DefaultRegistry(),
		sources:  NewSources(cfg, workDir, logger),
		workDir:  workDir,
		log:      logger,
		bar:      bar,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
		interval: cmp.Or(time.Duration(cfg.Build.Interval), defaultInterval),
	}
}

func (w *BuildWorker) WithStorage(s storage.Store) *BuildWorker {
	w.storage = s
	return w
}

func (w *BuildWorker) WithSingleShot(singleShot bool) *BuildWorker {
	w.singleShot = singleShot
	return w
}

func (w *BuildWorker) WithInterval(d time.Duration) *BuildWorker {
	w.interval = cmp.Or(d, defaultInterval)
	return w
}

func (w *BuildWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the worker has left the pool.
func (w *BuildWorker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BuildWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// UpdateConfig retires the worker when the configuration differs from the
// one it was created with. The caller schedules a new worker.
func (w *BuildWorker) UpdateConfig(cfg *config.Root) bool {
	if cfg == nil || !w.cfg.Equal(cfg) {
		w.changeConfiguration()
		return true
	}
	return false
}

// Execute runs one build iteration and returns the time of the next one. A
// zero time removes the worker from the pool.
func (w *BuildWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now()

	defer w.bar.Add(1)

	if w.configurationChanged() {
		return w.die()
	}

	vars, err := w.sources.Sync(ctx)
	if err != nil {
		w.log.Warnf("failed to synchronize sources of project %q: %v", w.cfg.Project.Name, err)
		return w.report(BuildStateSyncFailed, startTime, Status{}, err)
	}

	deps, err := ReadDependencies(ctx, w.cfg, w.kinds, w.workDir, w.log)
	if err != nil {
		w.log.Warnf("failed to read dependencies of project %q: %v", w.cfg.Project.Name, err)
		return w.report(BuildStateSyncFailed, startTime, Status{}, err)
	}

	fsys, err := w.sources.FS()
	if err != nil {
		w.log.Warnf("failed to open sources of project %q: %v", w.cfg.Project.Name, err)
		return w.report(BuildStateInternalError, startTime, Status{}, err)
	}

	b, err := Load(w.cfg, w.kinds, fsys, deps, w.log)
	if err != nil {
		w.log.Warnf("failed to load project %q: %v", w.cfg.Project.Name, err)
		return w.report(BuildStateLoadFailed, startTime, Status{}, err)
	}

	project := ProjectInfo(w.cfg, vars)
	artifacts, err := Assemble(ctx, w.cfg, project, b, w.log)
	if err != nil {
		w.log.Warnf("failed to build project %q: %v", w.cfg.Project.Name, err)
		return w.report(BuildStateBuildFailed, startTime, Status{Version: project.Version}, err)
	}
	bundleType, _ := w.cfg.Build.BundleType()
	metrics.ArtifactsBuilt(w.cfg.Project.Name, bundleType, len(artifacts))

	result := Status{Version: project.Version}
	if w.storage != nil {
		written, err := storage.Write(ctx, w.storage, artifacts, nil)
		result.Artifacts = written
		if err != nil {
			w.log.Warnf("failed to store artifacts of project %q: %v", w.cfg.Project.Name, err)
			return w.report(BuildStatePushFailed, startTime, result, err)
		}
		w.log.Debugf("Project %q built and stored: %d files.", w.cfg.Project.Name, len(written))
		return w.report(BuildStateSuccess, startTime, result, nil)
	}

	w.log.Debugf("Project %q built.", w.cfg.Project.Name)
	return w.report(BuildStateSuccess, startTime, result, nil)
}

func (w *BuildWorker) report(state BuildState, startTime time.Time, status Status, err error) time.Time {
	interval := w.interval
	status.State = state
	status.Time = time.Now()
	if err != nil {
		interval = min(interval, errorInterval) // faster retry on error
		status.Message = err.Error()
	}

	w.mu.Lock()
	w.status = status
	w.mu.Unlock()

	if state == BuildStateSuccess {
		metrics.BuildSucceeded(w.cfg.Project.Name, startTime)
	} else {
		metrics.BuildFailed(w.cfg.Project.Name, state.String())
	}

	if w.singleShot {
		return w.die()
	}

	return time.Now().Add(interval)
}

func (w *BuildWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *BuildWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *BuildWorker) die() time.Time {
	close(w.done)

	var zero time.Time
	return zero
}
