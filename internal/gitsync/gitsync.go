// Package gitsync keeps a local working copy of a git source up to date.
package gitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	gohttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/metrics"
)

// stateFile records the configuration a working copy was cloned with. It is
// kept under .git so the loader never sees it.
const stateFile = "gwbundle-source"

const remote = "origin"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

type Synchronizer struct {
	path       string
	config     config.Git
	gh         github
	sourceName string
	log        *logging.Logger
}

// New creates a Synchronizer for the working copy at path. The caller
// guarantees that path is used by one Synchronizer only. If the path does not
// exist, it is created by the first clone.
func New(path string, config config.Git, sourceName string) *Synchronizer {
	return &Synchronizer{path: path, config: config, sourceName: sourceName, log: logging.NewNop()}
}

func (s *Synchronizer) WithLogger(log *logging.Logger) *Synchronizer {
	s.log = log.With("source", s.sourceName)
	return s
}

// Path is the working copy directory.
func (s *Synchronizer) Path() string {
	return s.path
}

// Execute clones the repository if there is no working copy yet, fetches
// otherwise, and checks out the configured reference or commit. It returns
// the hash of the checked out commit.
func (s *Synchronizer) Execute(ctx context.Context) (string, error) {
	startTime := time.Now()

	head, err := s.execute(ctx)
	if err != nil {
		metrics.GitSyncFailed(s.config.Repo)
		return "", fmt.Errorf("source %q: git synchronizer: %v: %w", s.sourceName, s.config.Repo, err)
	}

	metrics.GitSyncSucceeded(s.config.Repo, startTime)
	s.log.Debugf("checked out %s at %s", s.config.Repo, head)
	return head, nil
}

func (s *Synchronizer) execute(ctx context.Context) (string, error) {
	if s.config.Commit == nil && s.config.Reference == nil {
		return "", errors.New("either reference or commit must be set in git configuration")
	}

	var referenceName plumbing.ReferenceName
	if s.config.Reference != nil {
		referenceName = plumbing.ReferenceName(*s.config.Reference)
	}

	// A changed repository or reference invalidates the working copy.
	if data, err := os.ReadFile(filepath.Join(s.path, ".git", stateFile)); err == nil {
		var recorded config.Git
		if err := json.Unmarshal(data, &recorded); err != nil || !sameCheckout(&recorded, &s.config) {
			s.log.Infof("configuration of %s changed, removing working copy", s.config.Repo)
			if err := os.RemoveAll(s.path); err != nil {
				return "", err
			}
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	var authMethod transport.AuthMethod

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		authMethod, err = s.auth(ctx)
		if err != nil {
			return "", err
		}

		s.log.Infof("cloning %s", s.config.Repo)
		repository, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
			URL:               s.config.Repo,
			Auth:              authMethod,
			RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
			ReferenceName:     referenceName,
			SingleBranch:      true,
			NoCheckout:        true,
		})
		if err != nil {
			return "", err
		}

		data, err := json.Marshal(s.config)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(s.path, ".git", stateFile), data, 0o644); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	w, err := repository.Worktree()
	if err != nil {
		return "", err
	}

	// A pinned commit that is already present needs no fetch.
	if s.config.Commit != nil {
		hash := plumbing.NewHash(*s.config.Commit)
		if w.Checkout(&git.CheckoutOptions{Force: true, Hash: hash}) == nil {
			return hash.String(), nil
		}
	}

	if authMethod == nil {
		authMethod, err = s.auth(ctx)
		if err != nil {
			return "", err
		}
	}

	if err := repository.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		Auth:       authMethod,
		Force:      true,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/refs/heads/*", remote)),
			gitconfig.RefSpec(fmt.Sprintf("+refs/tags/*:refs/remotes/%s/refs/tags/*", remote)),
		},
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", err
	}

	opts := &git.CheckoutOptions{
		Force: true, // discard local changes
	}
	switch {
	case s.config.Reference != nil:
		opts.Branch = plumbing.ReferenceName(fmt.Sprintf("refs/remotes/%s/%s", remote, *s.config.Reference))
	case s.config.Commit != nil:
		opts.Hash = plumbing.NewHash(*s.config.Commit)
	}
	if err := w.Checkout(opts); err != nil {
		return "", err
	}

	head, err := repository.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// sameCheckout compares everything but the credentials, whose secret values
// are not recorded.
func sameCheckout(a, b *config.Git) bool {
	return a.Repo == b.Repo && ptrEqual(a.Reference, b.Reference) && ptrEqual(a.Commit, b.Commit)
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Synchronizer) auth(ctx context.Context) (transport.AuthMethod, error) {
	if s.config.Credentials == nil {
		return nil, nil
	}

	typed, err := s.config.Credentials.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	return authFromTyped(ctx, &s.gh, s.log, typed)
}

// authFromTyped converts a resolved secret to a go-git AuthMethod.
func authFromTyped(ctx context.Context, gh *github, log *logging.Logger, value any) (transport.AuthMethod, error) {
	switch value := value.(type) {
	case config.SecretBasicAuth:
		return &basicAuth{
			Username: value.Username,
			Password: value.Password,
			Headers:  value.Headers,
		}, nil

	case config.SecretGitHubApp:
		token, err := gh.Token(ctx, log, value.IntegrationID, value.InstallationID, value.PrivateKey)
		if err != nil {
			return nil, err
		}
		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil

	case config.SecretSSHKey:
		return newSSHAuth(value.Key, value.Passphrase, value.Fingerprints)

	case config.SecretTokenAuth:
		return &http.TokenAuth{Token: value.Token}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type for git: %T", value)
	}
}

// github caches the installation transport, which refreshes its token
// when it expires.
type github struct {
	integrationID  int64
	installationID int64
	privateKey     []byte
	tr             *ghinstallation.Transport
	mu             sync.Mutex
}

// Token returns an installation token. privateKey is either the PEM encoded
// key or the path of a file holding it.
func (gh *github) Token(ctx context.Context, log *logging.Logger, integrationID, installationID int64, privateKey string) (string, error) {
	key := []byte(privateKey)
	if !strings.HasPrefix(strings.TrimSpace(privateKey), "-----BEGIN") {
		var err error
		if key, err = os.ReadFile(privateKey); err != nil {
			return "", err
		}
	}

	tr, err := gh.transport(log, integrationID, installationID, key)
	if err != nil {
		return "", err
	}

	return tr.Token(ctx)
}

func (gh *github) transport(log *logging.Logger, integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	if gh.tr == nil || gh.integrationID != integrationID || gh.installationID != installationID || !bytes.Equal(gh.privateKey, privateKey) {
		tr, err := ghinstallation.New(NewLoggingTransport(gohttp.DefaultTransport, log), integrationID, installationID, privateKey)
		if err != nil {
			return nil, err
		}

		gh.integrationID = integrationID
		gh.installationID = installationID
		gh.privateKey = privateKey
		gh.tr = tr
	}

	return gh.tr, nil
}

func newSSHAuth(key string, passphrase string, fingerprints []string) (gitssh.AuthMethod, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(key))
	}
	if err != nil {
		return nil, err
	}

	if len(fingerprints) == 0 {
		return nil, errors.New("ssh: at least one fingerprint is required when using ssh_key authentication")
	}

	return &gitssh.PublicKeys{
		User:   "git",
		Signer: signer,
		HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
			HostKeyCallback: newCheckFingerprints(fingerprints),
		},
	}, nil
}

func newCheckFingerprints(fingerprints []string) ssh.HostKeyCallback {
	m := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = struct{}{}
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if _, ok := m[fingerprint]; !ok {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}

// basicAuth is HTTP basic authentication that also sets extra headers, as
// some git hosts require.
type basicAuth struct {
	Username string
	Password string
	Headers  []string
}

func (a *basicAuth) String() string {
	masked := "*******"
	if a.Password == "" {
		masked = "<empty>"
	}
	return fmt.Sprintf("%s - %s:%s [%s]", a.Name(), a.Username, masked, strings.Join(a.Headers, ", "))
}

func (*basicAuth) Name() string {
	return "http-basic-auth-extra"
}

func (a *basicAuth) SetAuth(r *gohttp.Request) {
	r.SetBasicAuth(a.Username, a.Password)
	for _, header := range a.Headers {
		name, value, found := strings.Cut(header, ":")
		if found {
			r.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
}
