package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBuildMetrics(t *testing.T) {
	BuildSucceeded("p", time.Now())
	BuildFailed("p", "build_failed")
	ArtifactsBuilt("p", "deployment", 3)

	if v := testutil.ToFloat64(buildCount.WithLabelValues("p")); v != 2 {
		t.Errorf("expected 2 builds, got %v", v)
	}
	if v := testutil.ToFloat64(buildFailed.WithLabelValues("p", "build_failed")); v != 1 {
		t.Errorf("expected 1 failure, got %v", v)
	}
	if v := testutil.ToFloat64(artifactsBuilt.WithLabelValues("p", "deployment")); v != 3 {
		t.Errorf("expected 3 artifacts, got %v", v)
	}
}

func TestGitSyncMetrics(t *testing.T) {
	GitSyncFailed("repo")
	if v := testutil.ToFloat64(gitSyncFailed.WithLabelValues("repo")); v != 1 {
		t.Errorf("expected 1 failure, got %v", v)
	}
}
