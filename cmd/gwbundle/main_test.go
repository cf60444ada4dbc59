package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const servicePolicy = `<wsp:Policy xmlns:L7p="http://www.layer7tech.com/ws/policy" xmlns:wsp="http://schemas.xmlsoap.org/ws/2002/12/policy">
  <wsp:All wsp:Usage="Required">
    <L7p:Include>
      <L7p:PolicyGuid policyPath="lib/auth"/>
    </L7p:Include>
  </wsp:All>
</wsp:Policy>`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"gwbundle.yaml": `
project:
  name: orders
  version: "1.0"
sources:
  main:
    directory: project
`,
		"project/config/services.yml":          "api/orders:\n  attributes:\n    url: /orders\n",
		"project/config/static-properties.yml": "timeout:\n  attributes:\n    value: \"30\"\n",
		"project/src/api/orders.xml":           servicePolicy,
		"project/src/lib/auth.xml":             `<wsp:Policy xmlns:wsp="http://schemas.xmlsoap.org/ws/2002/12/policy"/>`,
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestBuild(t *testing.T) {
	dir := setup(t)
	cfg := filepath.Join(dir, "gwbundle.yaml")
	out := filepath.Join(dir, "out")

	if output, err := run(t, "build", "-c", cfg, "-o", out); err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}
	for _, name := range []string{"orders-1.0.install.bundle", "orders-1.0.delete.bundle", "orders-1.0.metadata.yml"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	output, err := run(t, "build", "-c", cfg, "-o", out, "--diff")
	if err != nil {
		t.Fatal(err)
	}
	if output != "" {
		t.Errorf("expected no differences after an identical build, got:\n%s", output)
	}

	if err := os.WriteFile(filepath.Join(dir, "project/src/lib/auth.xml"), []byte(`<wsp:Policy xmlns:wsp="http://schemas.xmlsoap.org/ws/2002/12/policy"><wsp:All/></wsp:Policy>`), 0o644); err != nil {
		t.Fatal(err)
	}
	output, err = run(t, "build", "-c", cfg, "-o", out, "--diff")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(output, "orders-1.0.install.bundle") || !strings.Contains(output, "+") {
		t.Errorf("expected a diff of the install bundle, got:\n%s", output)
	}
}

func TestBuildEnvironment(t *testing.T) {
	dir := setup(t)
	out := filepath.Join(dir, "out")

	if output, err := run(t, "build", "-c", filepath.Join(dir, "gwbundle.yaml"), "-o", out, "--type", "environment"); err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}
	if _, err := os.Stat(filepath.Join(out, "orders-1.0.environment.install.bundle")); err != nil {
		t.Error(err)
	}
}

func TestExportAndInspect(t *testing.T) {
	dir := setup(t)
	cfg := filepath.Join(dir, "gwbundle.yaml")
	out := filepath.Join(dir, "out")

	if output, err := run(t, "build", "-c", cfg, "-o", out); err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	bundleFile := filepath.Join(out, "orders-1.0.install.bundle")
	exported := filepath.Join(dir, "exported")
	if output, err := run(t, "export", bundleFile, "-o", exported); err != nil {
		t.Fatalf("export failed: %v\n%s", err, output)
	}
	bs, err := os.ReadFile(filepath.Join(exported, "src/api/orders.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bs), `policyPath="lib/auth"`) {
		t.Errorf("expected path reference in exported policy, got:\n%s", bs)
	}

	output, err := run(t, "inspect", bundleFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"SERVICE", "api/orders", "POLICY:lib/auth", "CLUSTER_PROPERTY"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in inspect output:\n%s", want, output)
		}
	}

	output, err = run(t, "inspect", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(output, "lib/auth") {
		t.Errorf("expected project entities in inspect output:\n%s", output)
	}
}

func TestValidate(t *testing.T) {
	dir := setup(t)
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("project: {}\nunknown: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := run(t, "validate", filepath.Join(dir, "gwbundle.yaml"))
	if err != nil || !strings.Contains(output, "valid") {
		t.Fatalf("expected valid configuration, got %v\n%s", err, output)
	}
	if _, err := run(t, "validate", bad); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("expected validation error naming the file, got %v", err)
	}
}

func TestRunOnce(t *testing.T) {
	dir := setup(t)
	out := filepath.Join(dir, "out")
	cfg := filepath.Join(dir, "gwbundle.yaml")
	bs, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	bs = append(bs, []byte("output:\n  filesystem:\n    path: out\n")...)
	if err := os.WriteFile(cfg, bs, 0o644); err != nil {
		t.Fatal(err)
	}

	if output, err := run(t, "run", "--once", "-c", cfg); err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if _, err := os.Stat(filepath.Join(out, "orders-1.0.install.bundle")); err != nil {
		t.Error(err)
	}
}
