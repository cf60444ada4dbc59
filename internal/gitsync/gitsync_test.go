package gitsync

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	gohttp "net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/crypto/ssh"

	"github.com/apim-gateway/gwbundle/internal/config"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(name); err != nil {
		t.Fatal(err)
	}
	hash, err := w.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return hash.String()
}

func TestSynchronizerExecute(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	origin := t.TempDir()
	repo, err := git.PlainInit(origin, false)
	if err != nil {
		t.Fatal(err)
	}
	first := commitFile(t, repo, origin, "config/cluster-properties.yml", "timeout:\n  value: \"10\"\n")

	ref := "refs/heads/master"
	path := filepath.Join(t.TempDir(), "shared")
	s := New(path, config.Git{Repo: origin, Reference: &ref}, "shared")

	head, err := s.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if head != first {
		t.Fatalf("expected head %s, got %s", first, head)
	}
	if _, err := os.Stat(filepath.Join(path, "config/cluster-properties.yml")); err != nil {
		t.Fatalf("expected checked out file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, ".git", stateFile)); err != nil {
		t.Fatalf("expected state file: %v", err)
	}

	second := commitFile(t, repo, origin, "src/api/orders.xml", "<wsp:Policy/>")
	head, err = s.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if head != second {
		t.Fatalf("expected head %s after fetch, got %s", second, head)
	}

	pinned := New(path, config.Git{Repo: origin, Commit: &first}, "shared")
	head, err = pinned.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if head != first {
		t.Fatalf("expected pinned head %s, got %s", first, head)
	}
	if _, err := os.Stat(filepath.Join(path, "src/api/orders.xml")); !os.IsNotExist(err) {
		t.Fatalf("expected file of later commit to be gone, got %v", err)
	}
}

func TestSynchronizerRequiresReference(t *testing.T) {
	s := New(t.TempDir(), config.Git{Repo: "https://example.com/r.git"}, "s")
	if _, err := s.Execute(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSameCheckout(t *testing.T) {
	main, dev, commit := "main", "dev", "abc"
	cases := []struct {
		note string
		a, b config.Git
		exp  bool
	}{
		{note: "equal", a: config.Git{Repo: "r", Reference: &main}, b: config.Git{Repo: "r", Reference: &main}, exp: true},
		{note: "credentials ignored", a: config.Git{Repo: "r"}, b: config.Git{Repo: "r", Credentials: &config.SecretRef{Name: "x"}}, exp: true},
		{note: "repo", a: config.Git{Repo: "r"}, b: config.Git{Repo: "s"}},
		{note: "reference", a: config.Git{Repo: "r", Reference: &main}, b: config.Git{Repo: "r", Reference: &dev}},
		{note: "commit added", a: config.Git{Repo: "r"}, b: config.Git{Repo: "r", Commit: &commit}},
	}
	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if act := sameCheckout(&tc.a, &tc.b); act != tc.exp {
				t.Errorf("expected %v, got %v", tc.exp, act)
			}
		})
	}
}

func TestAuthFromTyped(t *testing.T) {
	ctx := context.Background()

	auth, err := authFromTyped(ctx, &github{}, nil, config.SecretBasicAuth{Username: "bob", Password: "pw", Headers: []string{"X-Org: acme"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := auth.(*basicAuth); !ok {
		t.Fatalf("expected basicAuth, got %T", auth)
	}

	auth, err = authFromTyped(ctx, &github{}, nil, config.SecretTokenAuth{Token: "t0k"})
	if err != nil {
		t.Fatal(err)
	}
	if ta, ok := auth.(*http.TokenAuth); !ok || ta.Token != "t0k" {
		t.Fatalf("expected token auth, got %#v", auth)
	}

	if _, err := authFromTyped(ctx, &github{}, nil, config.SecretAWS{}); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestCheckFingerprints(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	check := newCheckFingerprints([]string{ssh.FingerprintSHA256(key)})
	if err := check("example.com:22", nil, key); err != nil {
		t.Fatalf("expected known fingerprint to pass: %v", err)
	}

	other := newCheckFingerprints([]string{"SHA256:unknown"})
	if err := other("example.com:22", nil, key); err == nil {
		t.Fatal("expected unknown fingerprint to fail")
	}
}

func TestBasicAuthSetsHeaders(t *testing.T) {
	a := &basicAuth{Username: "bob", Password: "pw", Headers: []string{"X-Org: acme", "malformed"}}
	req := httptest.NewRequest(gohttp.MethodGet, "https://example.com/r.git/info/refs", nil)
	a.SetAuth(req)

	if user, pass, ok := req.BasicAuth(); !ok || user != "bob" || pass != "pw" {
		t.Fatalf("unexpected basic auth: %v %v %v", user, pass, ok)
	}
	if act := req.Header.Get("X-Org"); act != "acme" {
		t.Fatalf("expected header X-Org=acme, got %q", act)
	}
	if a.String() != "http-basic-auth-extra - bob:******* [X-Org: acme, malformed]" {
		t.Fatalf("unexpected string: %s", a.String())
	}
}
