package danger

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestReviewToolEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"CIRCLE_WORKFLOW_ID=wf-1",
		"CIRCLECI=true",
		"CI=true",
		"HOME=/home/ci",
	}
	e := Execution{Commit: "abc123", PullRequest: 42, RepoDir: "/tmp/tree"}
	env := reviewToolEnv(environ, e, "acme/app", "secret")

	joined := strings.Join(env, "\n")
	for _, banned := range []string{"CIRCLE_WORKFLOW_ID", "CIRCLECI=true", "\nCI=true"} {
		if strings.Contains("\n"+joined, banned) {
			t.Errorf("scrubbed variable leaked: %s", banned)
		}
	}
	for _, want := range []string{
		"PATH=/usr/bin",
		"HOME=/home/ci",
		"BITRISE_GIT_COMMIT=abc123",
		"BITRISE_IO=TRUE",
		"BITRISE_PULL_REQUEST=42",
		"DANGER_GITHUB_API_TOKEN=secret",
		"GIT_REPOSITORY_URL=https://github.com/acme/app.git",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("environment missing %q:\n%s", want, joined)
		}
	}
}

func TestRun_MissingNodeModulesIsPrerequisiteError(t *testing.T) {
	r := &Runner{ProjectPath: t.TempDir(), Repository: "acme/app"}
	err := r.Run(context.Background(), Execution{Commit: "abc", PullRequest: 7, RepoDir: t.TempDir()})
	if !errors.Is(err, ErrMissingPrerequisite) {
		t.Errorf("err = %v, want ErrMissingPrerequisite", err)
	}
}
