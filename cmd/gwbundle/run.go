package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/pool"
	"github.com/apim-gateway/gwbundle/internal/service"
	"github.com/apim-gateway/gwbundle/internal/storage"
)

type runParams struct {
	once        bool
	workDir     string
	interval    time.Duration
	metricsAddr string
}

func newRunCommand(global *globalParams) *cobra.Command {
	params := &runParams{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Rebuild the project periodically",
		Long: `Run keeps building the project: it synchronizes the git sources, builds and
stores the artifacts every build.interval and retries sooner after a failure.
SIGHUP reloads the configuration, or rebuilds right away when it is unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := global.logger(cmd.ErrOrStderr())
			return runService(cmd.Context(), global, params, log)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&params.once, "once", false, "build once and exit")
	addWorkDirFlag(flags, &params.workDir)
	flags.DurationVar(&params.interval, "interval", 0, "build interval (overrides build.interval)")
	flags.StringVar(&params.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func runService(ctx context.Context, global *globalParams, params *runParams, log *logging.Logger) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}

	workDir := params.workDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "gwbundle-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	if params.metricsAddr != "" {
		srv := &http.Server{Addr: params.metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sv := &supervisor{
		pool:      pool.New(ctx, 1),
		newWorker: func(cfg *config.Root) (*service.BuildWorker, error) {
			w, err := newWorker(ctx, cfg, workDir, log)
			if err != nil {
				return nil, err
			}
			if params.interval > 0 {
				w.WithInterval(params.interval)
			}
			return w.WithSingleShot(params.once), nil
		},
		log: log,
	}
	if err := sv.start(cfg); err != nil {
		return err
	}

	if params.once {
		if err := sv.worker.Wait(ctx); err != nil {
			return err
		}
		if status := sv.worker.Status(); status.State != service.BuildStateSuccess {
			return fmt.Errorf("build %s: %s", status.State, status.Message)
		}
		return nil
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			cancel()
			sv.pool.Wait()
			return nil
		case <-hup:
			next, err := global.loadConfig()
			if err != nil {
				log.Errorf("failed to reload configuration: %v", err)
				continue
			}
			if err := sv.reload(next); err != nil {
				log.Errorf("failed to restart worker, keeping the previous configuration: %v", err)
			}
		}
	}
}

// supervisor keeps one build worker in the pool and replaces it when the
// configuration changes.
type supervisor struct {
	pool       *pool.Pool
	newWorker  func(*config.Root) (*service.BuildWorker, error)
	log        *logging.Logger
	cfg        *config.Root
	worker     *service.BuildWorker
	name       string
	generation int
}

func (s *supervisor) start(cfg *config.Root) error {
	w, err := s.newWorker(cfg)
	if err != nil {
		return err
	}
	s.add(cfg, w)
	return nil
}

func (s *supervisor) add(cfg *config.Root, w *service.BuildWorker) {
	s.generation++
	s.cfg, s.worker = cfg, w
	s.name = fmt.Sprintf("%s#%d", cfg.Project.Name, s.generation)
	s.pool.Add(s.name, w.Execute)
}

// reload rebuilds right away when next equals the running configuration.
// Otherwise the new worker is created first; the running one is only retired
// once that succeeded.
func (s *supervisor) reload(next *config.Root) error {
	if s.cfg.Equal(next) {
		s.log.Infof("configuration unchanged, rebuilding")
		return s.pool.Trigger(s.name)
	}

	w, err := s.newWorker(next)
	if err != nil {
		return err
	}
	s.log.Infof("configuration changed, restarting worker")
	s.worker.UpdateConfig(next)
	s.pool.Remove(s.name)
	s.add(next, w)
	return nil
}

func newWorker(ctx context.Context, cfg *config.Root, workDir string, log *logging.Logger) (*service.BuildWorker, error) {
	store, err := storage.New(ctx, cfg.Output)
	if err != nil {
		return nil, err
	}
	return service.NewBuildWorker(cfg, workDir, log, nil).WithStorage(store), nil
}
