package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects the action policy applied to pipelines that pass
// verification.
const (
	ModeReviewTool = "review-tool"
	ModeRerun      = "rerun"
)

type Config struct {
	Project      Project
	Verification Verification
	Action       Action
	Runtime      Runtime
	Credentials  Credentials
	Output       Output
}

type Project struct {
	// Repository is the GitHub repository to gate, as OWNER/NAME.
	Repository string

	// ReferenceBranch is the trusted branch the baseline is taken from.
	ReferenceBranch string

	// SchedulerBranch is the branch the scheduler workflow itself runs on;
	// its latest successful scheduler pipeline is the backlog lower bound.
	SchedulerBranch string

	// ProjectPath is the checkout of this repository on the host running
	// the scheduler; the review tool borrows its node_modules.
	ProjectPath string

	// CurrentWorkflowID is the scheduler's own workflow id when running
	// under the CI provider (CIRCLE_WORKFLOW_ID). Empty outside CI, which
	// disables the backlog upper bound.
	CurrentWorkflowID string
}

type Verification struct {
	// ProtectedFiles are the repository-relative paths that must stay
	// byte-identical to the reference branch.
	ProtectedFiles []string `yaml:"protected_files"`

	// SubmoduleName is the scheduler submodule whose pinned revision is
	// part of the integrity check.
	SubmoduleName string `yaml:"submodule_name"`

	// SchedulerWorkflow is the workflow name that identifies scheduler
	// pipelines (excluded from the reference baseline, matched for the
	// lower stop token).
	SchedulerWorkflow string `yaml:"scheduler_workflow"`
}

type Action struct {
	// Mode picks the action policy: review-tool dispatches the downstream
	// review tool for safe forked pipelines; rerun re-authorizes gated
	// workflows for safe pipelines.
	Mode string

	// AuthorizedWorkflows is the allow-list of workflow names the rerun
	// mode may re-run.
	AuthorizedWorkflows []string `yaml:"authorized_workflows"`
}

type Runtime struct {
	// VerifyConcurrency bounds the pipeline verification worker pool.
	VerifyConcurrency int

	// ActionConcurrency bounds the action dispatch worker pool. Dispatch
	// units need isolated working directories, so this pool is separate
	// from (and typically smaller than) the verification pool.
	ActionConcurrency int

	// GitTimeout bounds each git invocation.
	GitTimeout time.Duration

	// HTTPTimeout bounds each provider/hosting API call.
	HTTPTimeout time.Duration
}

type Credentials struct {
	// CircleToken authenticates against the CI provider API.
	CircleToken string

	// GitHubToken authenticates comment reads and writes.
	GitHubToken string

	// BotLogin is the GitHub login the scheduler comments as; it keys the
	// edit-over-create comment lookup.
	BotLogin string
}

type Output struct {
	// Emit optionally adds a structured event stream on stdout ("ndjson").
	Emit string

	// Verbose logs every API call with latency.
	Verbose bool
}

func New() *Config {
	return &Config{
		Project: Project{
			ReferenceBranch: "master",
			SchedulerBranch: "master",
		},
		Verification: Verification{
			SubmoduleName:     "scheduler",
			SchedulerWorkflow: "scheduler",
		},
		Action: Action{
			Mode: ModeReviewTool,
		},
		Runtime: Runtime{
			VerifyConcurrency: 4,
			ActionConcurrency: 4,
			GitTimeout:        5 * time.Minute,
			HTTPTimeout:       30 * time.Second,
		},
	}
}

// ProjectSlug is the CI provider's coordinate for the repository.
func (c *Config) ProjectSlug() string {
	return "gh/" + c.Project.Repository
}

// RepositoryOwnerName splits Repository into its owner and name parts.
func (c *Config) RepositoryOwnerName() (owner, name string) {
	owner, name, _ = strings.Cut(c.Project.Repository, "/")
	return owner, name
}

func (c *Config) Validate() error {
	repo := strings.TrimSpace(c.Project.Repository)
	if repo == "" {
		return errors.New("repository is required (OWNER/NAME)")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid repository %q (must be OWNER/NAME)", repo)
	}
	c.Project.Repository = repo

	if c.Project.ReferenceBranch == "" {
		return errors.New("reference branch must not be empty")
	}
	if c.Project.SchedulerBranch == "" {
		return errors.New("scheduler branch must not be empty")
	}
	if c.Verification.SchedulerWorkflow == "" {
		return errors.New("scheduler workflow name must not be empty")
	}

	c.Action.Mode = strings.ToLower(strings.TrimSpace(c.Action.Mode))
	switch c.Action.Mode {
	case ModeReviewTool, ModeRerun:
	case "":
		c.Action.Mode = ModeReviewTool
	default:
		return fmt.Errorf("unsupported mode: %s (must be one of: %s, %s)", c.Action.Mode, ModeReviewTool, ModeRerun)
	}

	if c.Runtime.VerifyConcurrency <= 0 {
		return errors.New("verify concurrency must be >= 1")
	}
	if c.Runtime.ActionConcurrency <= 0 {
		return errors.New("action concurrency must be >= 1")
	}
	if c.Runtime.GitTimeout <= 0 {
		return errors.New("git timeout must be > 0")
	}
	if c.Runtime.HTTPTimeout <= 0 {
		return errors.New("http timeout must be > 0")
	}

	if c.Credentials.CircleToken == "" {
		return errors.New("a CircleCI API token is required (CIRCLECI_API_TOKEN)")
	}
	if c.Credentials.GitHubToken == "" {
		return errors.New("a GitHub token is required (GITHUB_TOKEN)")
	}
	if c.Credentials.BotLogin == "" {
		return errors.New("the bot login is required (GITHUB_USERNAME)")
	}

	if c.Output.Emit != "" {
		v := strings.ToLower(strings.TrimSpace(c.Output.Emit))
		if v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be: ndjson)", c.Output.Emit)
		}
		c.Output.Emit = v
	}

	// Zero protected files is a documented degenerate case, not an error:
	// the run proceeds and comments carry the no-files-specified notice.
	return nil
}
