package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/pool"
	"github.com/apim-gateway/gwbundle/internal/service"
)

func TestSupervisorReload(t *testing.T) {
	dir := setup(t)
	file := filepath.Join(dir, "gwbundle.yaml")
	cfg, err := config.ParseFile(file)
	if err != nil {
		t.Fatal(err)
	}
	changed, err := config.ParseFile(file)
	if err != nil {
		t.Fatal(err)
	}
	changed.Build.Type = "environment"

	// A stopped pool keeps its queue without running the tasks.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var failure error
	sv := &supervisor{
		pool: pool.New(ctx, 1),
		newWorker: func(cfg *config.Root) (*service.BuildWorker, error) {
			if failure != nil {
				return nil, failure
			}
			return service.NewBuildWorker(cfg, t.TempDir(), logging.NewNop(), nil).WithInterval(time.Hour), nil
		},
		log: logging.NewNop(),
	}
	if err := sv.start(cfg); err != nil {
		t.Fatal(err)
	}
	first := sv.worker

	failure = errors.New("storage unavailable")
	if err := sv.reload(changed); err == nil {
		t.Fatal("expected reload to fail")
	}
	if sv.worker != first || sv.name != "orders#1" || sv.cfg != cfg {
		t.Fatalf("expected the running worker to be kept, got %s", sv.name)
	}
	if n := sv.pool.Len(); n != 1 {
		t.Fatalf("expected 1 task in the pool, got %d", n)
	}
	if next := first.Execute(t.Context()); next.IsZero() {
		t.Fatal("expected the running worker not to be retired")
	}
	if err := sv.reload(cfg); err != nil {
		t.Fatalf("expected unchanged configuration to trigger a rebuild, got %v", err)
	}

	failure = nil
	if err := sv.reload(changed); err != nil {
		t.Fatal(err)
	}
	if sv.worker == first || sv.name != "orders#2" || sv.cfg != changed {
		t.Fatalf("expected a new worker, got %s", sv.name)
	}
	if n := sv.pool.Len(); n != 1 {
		t.Fatalf("expected 1 task in the pool, got %d", n)
	}
	if next := first.Execute(t.Context()); !next.IsZero() {
		t.Fatal("expected the previous worker to be retired")
	}
}
