// Package gitrepo materializes isolated working trees of remote
// repositories at specific revisions. Every git invocation runs through
// exec.CommandContext with an explicit working directory and a bounded
// timeout; nothing in this package ever changes the process working
// directory.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrCheckout marks clone or checkout failures (unreachable remote, unknown
// revision). Callers treat it as a recoverable per-pipeline condition, not a
// run-fatal error.
var ErrCheckout = errors.New("checkout failed")

// Provider materializes working trees. The engine consumes this interface
// so tests can substitute an in-memory double.
type Provider interface {
	Materialize(ctx context.Context, remoteURL, revision string) (*Snapshot, error)
}

// Snapshot is a handle to a materialized working tree. Release returns its
// disk space to the system and is safe to call more than once; only the
// first call removes the tree.
type Snapshot struct {
	root    string
	timeout time.Duration

	releaseOnce sync.Once
	releaseErr  error
}

// Root returns the filesystem root of the working tree.
func (s *Snapshot) Root() string {
	return s.root
}

// Release removes the working tree. Subsequent calls are no-ops returning
// the first call's result.
func (s *Snapshot) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = os.RemoveAll(s.root)
	})
	return s.releaseErr
}

// SubmoduleRevision resolves the committed revision of the named submodule
// in the checked-out tree. An absent submodule is not an error; it yields an
// empty revision.
func (s *Snapshot) SubmoduleRevision(ctx context.Context, name string) (string, error) {
	out, err := runGit(ctx, s.root, s.timeout, "ls-tree", "HEAD", name)
	if err != nil {
		return "", fmt.Errorf("ls-tree %s: %w", name, err)
	}
	return ParseSubmoduleRevision(out), nil
}

// ParseSubmoduleRevision extracts the commit hash from `git ls-tree HEAD
// <path>` output. Lines have the form "<mode> <type> <hash>\t<path>"; only
// commit entries (gitlinks) count as submodules. Empty output or a
// non-submodule entry yields an empty revision.
func ParseSubmoduleRevision(lsTreeOutput string) string {
	line := strings.TrimSpace(lsTreeOutput)
	if line == "" {
		return ""
	}
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[1] != "commit" {
		return ""
	}
	return fields[2]
}

// CommandProvider clones repositories with the git binary.
type CommandProvider struct {
	// Timeout bounds each individual git invocation.
	Timeout time.Duration
}

// NewCommandProvider returns a provider with the given per-command timeout.
// A non-positive timeout falls back to five minutes.
func NewCommandProvider(timeout time.Duration) *CommandProvider {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandProvider{Timeout: timeout}
}

// Materialize clones remoteURL into a fresh temporary directory and checks
// out revision. On clone or checkout failure it returns the snapshot handle
// alongside an error wrapping ErrCheckout: the caller still owns the handle
// and must release it, so partially created trees feed into the same cleanup
// bookkeeping as healthy ones.
func (p *CommandProvider) Materialize(ctx context.Context, remoteURL, revision string) (*Snapshot, error) {
	dir, err := os.MkdirTemp("", "scheduler-repo-")
	if err != nil {
		return nil, fmt.Errorf("create working tree dir: %w", err)
	}
	snap := &Snapshot{root: dir, timeout: p.Timeout}

	if out, err := runGit(ctx, "", p.Timeout, "clone", "--quiet", remoteURL, dir); err != nil {
		return snap, fmt.Errorf("%w: clone %s: %v (%s)", ErrCheckout, remoteURL, err, strings.TrimSpace(out))
	}
	if out, err := runGit(ctx, dir, p.Timeout, "checkout", "--quiet", revision); err != nil {
		return snap, fmt.Errorf("%w: checkout %s: %v (%s)", ErrCheckout, revision, err, strings.TrimSpace(out))
	}
	return snap, nil
}

func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	cmdCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil && cmdCtx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out after %s", args[0], timeout)
	}
	return string(out), err
}
