package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/immuni-app/immuni-ci-scheduler/internal/circleci"
	"github.com/immuni-app/immuni-ci-scheduler/internal/config"
	"github.com/immuni-app/immuni-ci-scheduler/internal/danger"
	"github.com/immuni-app/immuni-ci-scheduler/internal/engine"
	gh "github.com/immuni-app/immuni-ci-scheduler/internal/github"
	"github.com/immuni-app/immuni-ci-scheduler/internal/gitrepo"
	"github.com/immuni-app/immuni-ci-scheduler/internal/output"
)

var (
	cfg        = config.New()
	configPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one verification and scheduling pass",
	Long: `Run one verification and scheduling pass.

The pass fingerprints the protected files of the latest pipeline on the
reference branch, lists every pipeline submitted since the last successful
scheduler run, clones and verifies each one concurrently, posts the safety
verdict on the associated pull request, and applies the configured action to
the pipelines that pass:

  review-tool  run the downstream review tool on safe forked pull requests
  rerun        re-run allow-listed on-hold workflows of safe pipelines

Authentication:
  The CI provider token is read from CIRCLECI_API_TOKEN and the GitHub token
  from GITHUB_TOKEN. GITHUB_USERNAME identifies the account the scheduler
  comments as.

Output:
	Human-readable progress goes to stdout. With --emit ndjson, stdout carries
	one JSON lifecycle event per line (run.started, pipeline.checked,
	pr.notified, action.dispatched, action.failed, run.finished) and the
	human-readable lines move to stderr.

Exit codes:
	0 = pass completed (per-pipeline failures are reported, not fatal)
	1 = the pass could not run (bad configuration, no reference pipeline)

Examples:
  export CIRCLECI_API_TOKEN="<token>"
  export GITHUB_TOKEN="<token>"
  export GITHUB_USERNAME="verifier-bot"
  scheduler run --repository org/repo

	# Machine-readable event stream
	scheduler run --repository org/repo --emit ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runPass(cmd))
	},
}

func runPass(cmd *cobra.Command) int {
	if err := cfg.LoadFile(configPath, cmd.Flags().Changed("config")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.ApplyEnv(os.Getenv)

	token, err := gh.ResolveAuthToken(cfg.Credentials.GitHubToken)
	if err == nil {
		cfg.Credentials.GitHubToken = token
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	// With a structured stream on stdout the human-readable lines move to
	// stderr so the two never interleave.
	out := output.NewManager()
	defer out.Close()
	console := io.Writer(os.Stdout)
	if cfg.Output.Emit != "" {
		console = os.Stderr
	}
	if err := out.AddSink(output.NewConsoleSink(console)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Output.Emit == "ndjson" {
		if err := out.AddSink(output.NewNDJSONSink(os.Stdout)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	dir := circleci.NewClient(cfg.Credentials.CircleToken, cfg.ProjectSlug(),
		circleci.WithHTTPClient(&http.Client{Timeout: cfg.Runtime.HTTPTimeout}),
		circleci.WithVerbose(cfg.Output.Verbose, os.Stderr))

	ghClient, err := gh.NewClient(ctx, cfg.Credentials.GitHubToken,
		gh.WithTimeout(cfg.Runtime.HTTPTimeout),
		gh.WithVerbose(cfg.Output.Verbose, os.Stderr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create GitHub client: %v\n", err)
		return 1
	}

	owner, name := cfg.RepositoryOwnerName()
	notifier := gh.NewNotifier(ghClient, owner, name, cfg.Credentials.BotLogin,
		cfg.Project.ReferenceBranch, cfg.Verification.ProtectedFiles)

	policy := policyFor(cfg, dir)
	trees := engine.NewGitProvider(gitrepo.NewCommandProvider(cfg.Runtime.GitTimeout))

	eng, err := engine.New(cfg, dir, trees, notifier, policy, out, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := eng.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// policyFor maps the configured mode to its action policy. Validate has
// already normalized the mode, so anything but rerun means review-tool.
func policyFor(cfg *config.Config, dir circleci.Directory) engine.ActionPolicy {
	if cfg.Action.Mode == config.ModeRerun {
		return engine.RerunPolicy{
			Directory:           dir,
			AuthorizedWorkflows: cfg.Action.AuthorizedWorkflows,
		}
	}
	return engine.ReviewToolPolicy{
		Runner: &danger.Runner{
			ProjectPath: cfg.Project.ProjectPath,
			Repository:  cfg.Project.Repository,
			GitHubToken: cfg.Credentials.GitHubToken,
		},
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&configPath, "config", "scheduler.yml", "Path to the scheduler configuration file")

	// Project
	runCmd.Flags().StringVar(&cfg.Project.Repository, "repository", "", "GitHub repository to gate as OWNER/NAME (or the REPOSITORY environment variable)")
	runCmd.Flags().StringVar(&cfg.Project.ReferenceBranch, "reference-branch", cfg.Project.ReferenceBranch, "Trusted branch the protected-file baseline is taken from")
	runCmd.Flags().StringVar(&cfg.Project.SchedulerBranch, "scheduler-branch", cfg.Project.SchedulerBranch, "Branch the scheduler workflow runs on")
	runCmd.Flags().StringVar(&cfg.Project.ProjectPath, "project-path", "", "Host checkout of the repository (defaults to the working directory)")

	// Action
	runCmd.Flags().StringVar(&cfg.Action.Mode, "mode", cfg.Action.Mode, "Action applied to safe pipelines: review-tool|rerun")

	// Runtime
	runCmd.Flags().IntVar(&cfg.Runtime.VerifyConcurrency, "verify-concurrency", cfg.Runtime.VerifyConcurrency, "Concurrent pipeline verifications")
	runCmd.Flags().IntVar(&cfg.Runtime.ActionConcurrency, "action-concurrency", cfg.Runtime.ActionConcurrency, "Concurrent action dispatches")
	runCmd.Flags().DurationVar(&cfg.Runtime.GitTimeout, "git-timeout", cfg.Runtime.GitTimeout, "Timeout for each git invocation")
	runCmd.Flags().DurationVar(&cfg.Runtime.HTTPTimeout, "http-timeout", cfg.Runtime.HTTPTimeout, "Timeout for each API call")

	// Output
	runCmd.Flags().StringVar(&cfg.Output.Emit, "emit", "", "Emit a structured event stream to stdout: ndjson")
}
