// Package danger invokes the downstream review tool on a verified pull
// request. The tool expects a dedicated CI environment, so the runner
// simulates one: provider-specific variables are scrubbed from the
// inherited environment and replaced with the variables of the CI service
// the tool supports. Each invocation runs as a separate OS process with its
// own working directory (cmd.Dir); the scheduler process never changes its
// own working directory.
package danger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrMissingPrerequisite signals that the project checkout lacks the node
// modules the review tool needs. The dispatch is skipped, not failed.
var ErrMissingPrerequisite = errors.New("node_modules not installed in project path")

// Execution identifies one review-tool run: the commit to analyze, the pull
// request it belongs to, and the root of the already-cloned working tree.
type Execution struct {
	Commit      string
	PullRequest int
	RepoDir     string
}

// Runner executes the review tool.
type Runner struct {
	// ProjectPath is the host checkout whose node_modules the tool
	// borrows via symlink.
	ProjectPath string

	// Repository is the OWNER/NAME the tool reports against.
	Repository string

	// GitHubToken is handed to the tool for its own API access.
	GitHubToken string

	// Stdout and Stderr receive the tool's output; nil means the
	// scheduler's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the review tool for one pull request. A missing
// node_modules prerequisite returns ErrMissingPrerequisite; a non-zero tool
// exit returns the exec error. Both are recoverable per dispatch.
func (r *Runner) Run(ctx context.Context, e Execution) error {
	modules := filepath.Join(r.ProjectPath, "node_modules")
	if _, err := os.Stat(modules); err != nil {
		return fmt.Errorf("%w (looked in %s)", ErrMissingPrerequisite, modules)
	}
	link := filepath.Join(e.RepoDir, "node_modules")
	if err := os.Symlink(modules, link); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("link node_modules into working tree: %w", err)
	}

	cmd := exec.CommandContext(ctx, "yarn", "run", "danger", "ci")
	cmd.Dir = e.RepoDir
	cmd.Env = reviewToolEnv(os.Environ(), e, r.Repository, r.GitHubToken)
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("review tool on PR #%d: %w", e.PullRequest, err)
	}
	return nil
}

// reviewToolEnv builds the simulated CI environment: every CircleCI
// variable is dropped so the tool does not mistake the scheduler's own CI
// context for the pull request's, then the Bitrise variables it expects are
// injected.
func reviewToolEnv(environ []string, e Execution, repository, token string) []string {
	env := make([]string, 0, len(environ)+5)
	for _, entry := range environ {
		key, _, _ := strings.Cut(entry, "=")
		if strings.Contains(key, "CIRCLE_") || key == "CI" || key == "CIRCLECI" {
			continue
		}
		env = append(env, entry)
	}
	return append(env,
		"BITRISE_GIT_COMMIT="+e.Commit,
		"BITRISE_IO=TRUE",
		"BITRISE_PULL_REQUEST="+strconv.Itoa(e.PullRequest),
		"DANGER_GITHUB_API_TOKEN="+token,
		fmt.Sprintf("GIT_REPOSITORY_URL=https://github.com/%s.git", repository),
	)
}
