// Package engine orchestrates one scheduler run: it establishes the
// trusted reference baseline, lists the pipelines submitted since the last
// successful run, verifies each one concurrently, notifies the associated
// pull requests, and dispatches the configured action for the pipelines
// that pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/immuni-app/immuni-ci-scheduler/internal/circleci"
	"github.com/immuni-app/immuni-ci-scheduler/internal/config"
	"github.com/immuni-app/immuni-ci-scheduler/internal/fingerprint"
	gh "github.com/immuni-app/immuni-ci-scheduler/internal/github"
	"github.com/immuni-app/immuni-ci-scheduler/internal/gitrepo"
	"github.com/immuni-app/immuni-ci-scheduler/internal/output"
	"github.com/immuni-app/immuni-ci-scheduler/internal/verify"
)

// ErrNoReferencePipeline is returned when the reference branch has no
// pipeline to take the baseline from. The run halts before any side effect.
var ErrNoReferencePipeline = errors.New("no pipeline found on the reference branch")

// Notifier posts safety-check results on pull requests.
type Notifier interface {
	Notify(ctx context.Context, note gh.Notification) error
}

// WorkTree is a materialized checkout of a repository at one revision.
type WorkTree interface {
	Root() string
	SubmoduleRevision(ctx context.Context, name string) (string, error)
	Release() error
}

// TreeProvider materializes working trees. A provider may return a usable
// handle together with an error (a failed checkout still occupies disk);
// the engine tracks every non-nil handle for release.
type TreeProvider interface {
	Materialize(ctx context.Context, remoteURL, revision string) (WorkTree, error)
}

type gitTreeProvider struct {
	inner gitrepo.Provider
}

// NewGitProvider adapts the git-backed snapshot provider to TreeProvider.
func NewGitProvider(p gitrepo.Provider) TreeProvider {
	return gitTreeProvider{inner: p}
}

func (g gitTreeProvider) Materialize(ctx context.Context, remoteURL, revision string) (WorkTree, error) {
	snap, err := g.inner.Materialize(ctx, remoteURL, revision)
	if snap == nil {
		return nil, err
	}
	return snap, err
}

// Engine runs the verification and scheduling pass. All collaborators are
// injected; there is no package-level state.
type Engine struct {
	cfg      *config.Config
	dir      circleci.Directory
	trees    TreeProvider
	notifier Notifier
	policy   ActionPolicy
	out      *output.Manager
	log      io.Writer

	now func() time.Time
}

// New wires an engine from its collaborators. A nil out discards run
// events; a nil log falls back to stderr.
func New(cfg *config.Config, dir circleci.Directory, trees TreeProvider, notifier Notifier, policy ActionPolicy, out *output.Manager, log io.Writer) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if dir == nil {
		return nil, errors.New("pipeline directory is nil")
	}
	if trees == nil {
		return nil, errors.New("tree provider is nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier is nil")
	}
	if policy == nil {
		return nil, errors.New("action policy is nil")
	}
	if out == nil {
		out = output.Discard()
	}
	if log == nil {
		log = os.Stderr
	}
	return &Engine{
		cfg:      cfg,
		dir:      dir,
		trees:    trees,
		notifier: notifier,
		policy:   policy,
		out:      out,
		log:      log,
		now:      time.Now,
	}, nil
}

// Run executes one full scheduling pass. The returned error is fatal (the
// pass could not establish its inputs); per-pipeline and per-PR failures
// are logged and never abort the run. Every working tree materialized
// during the pass is released before Run returns, on every exit path.
func (e *Engine) Run(ctx context.Context) error {
	tracker := &treeTracker{}
	defer tracker.sweep(e.log)

	ref, err := e.establishReference(ctx, tracker)
	if err != nil {
		return err
	}

	backlog, err := e.listBacklog(ctx)
	if err != nil {
		return err
	}

	// Outside the CI provider there is no workflow id to bound the pass
	// with, so pipelines submitted during the run are checked too and the
	// diagnostic identifiers read "devmode".
	schedulerNumber, schedulerID := "devmode", "devmode"
	if id := e.cfg.Project.CurrentWorkflowID; id != "" {
		wf, err := e.dir.GetWorkflow(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve current scheduler workflow: %w", err)
		}
		schedulerNumber = strconv.Itoa(wf.PipelineNumber)
		schedulerID = wf.PipelineID
		backlog = circleci.TrimThrough(backlog, wf.PipelineID)
	}

	e.emit(output.Event{Type: "run.started", Backlog: len(backlog)})

	results := e.checkAll(ctx, backlog, ref, tracker)

	// Newest pipelines first, so each pull request is notified and
	// actioned exactly once, on its latest commit.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Pipeline.Number > results[j].Pipeline.Number
	})

	var units []dispatchUnit
	seen := make(map[int]bool)
	notified := 0
	for i := range results {
		c := &results[i]
		for _, pr := range c.PullRequests {
			if seen[pr] {
				continue
			}
			seen[pr] = true

			note := gh.Notification{
				PullRequest:             pr,
				Commit:                  c.Pipeline.VCS.Revision,
				Safe:                    c.Safe,
				Details:                 c.Details,
				SchedulerPipelineNumber: schedulerNumber,
				SchedulerPipelineID:     schedulerID,
				CheckedAt:               e.now(),
			}
			if err := e.notifier.Notify(ctx, note); err != nil {
				fmt.Fprintf(e.log, "Unable to comment on PR #%d: %v\n", pr, err)
			} else {
				notified++
				e.emit(output.Event{
					Type:           "pr.notified",
					PullRequest:    pr,
					PipelineNumber: c.Pipeline.Number,
					PipelineID:     c.Pipeline.ID,
					Safe:           output.Bool(c.Safe),
				})
			}

			if e.policy.Eligible(c) {
				units = append(units, dispatchUnit{candidate: c, pullRequest: pr})
			}
		}
	}

	if len(units) > 0 {
		prs := make([]string, len(units))
		for i, u := range units {
			prs[i] = strconv.Itoa(u.pullRequest)
		}
		fmt.Fprintf(e.log, "The following PRs passed the safety check and will receive the %s action: %s\n",
			e.policy.Name(), strings.Join(prs, ", "))
	}

	dispatched := e.dispatchAll(ctx, units)

	e.emit(output.Event{
		Type:       "run.finished",
		Backlog:    len(backlog),
		Checked:    len(results),
		Notified:   notified,
		Dispatched: dispatched,
	})
	return nil
}

// establishReference fingerprints the latest pipeline of the reference
// branch. Scheduler-workflow pipelines are excluded: they are
// cron-triggered, and cron pipelines carry a differently compiled
// configuration.
func (e *Engine) establishReference(ctx context.Context, tracker *treeTracker) (verify.Snapshot, error) {
	var zero verify.Snapshot

	refs, err := e.dir.ListPipelines(ctx, circleci.ListOptions{
		Branch:                 e.cfg.Project.ReferenceBranch,
		NotContainingWorkflows: []string{e.cfg.Verification.SchedulerWorkflow},
		Limit:                  1,
		Multipage:              true,
	})
	if err != nil {
		return zero, fmt.Errorf("list reference pipelines: %w", err)
	}
	if len(refs) == 0 {
		return zero, fmt.Errorf("%w: branch %s", ErrNoReferencePipeline, e.cfg.Project.ReferenceBranch)
	}
	latest := refs[0]

	refConfig, err := e.dir.GetPipelineConfig(ctx, latest.ID)
	if err != nil {
		return zero, fmt.Errorf("fetch reference configuration: %w", err)
	}

	tree, err := e.trees.Materialize(ctx, latest.VCS.TargetRepositoryURL, latest.VCS.Revision)
	tracker.track(tree)
	if err != nil {
		return zero, fmt.Errorf("materialize reference tree at %s: %w", latest.VCS.Revision, err)
	}

	files, err := fingerprint.Files(tree.Root(), e.cfg.Verification.ProtectedFiles)
	if err != nil {
		return zero, fmt.Errorf("fingerprint reference files: %w", err)
	}
	submodule, err := tree.SubmoduleRevision(ctx, e.cfg.Verification.SubmoduleName)
	if err != nil {
		return zero, fmt.Errorf("read reference submodule revision: %w", err)
	}

	return verify.Snapshot{
		ProtectedFiles:    files,
		ConfigDigest:      fingerprint.Bytes([]byte(refConfig.Compiled)),
		SubmoduleRevision: submodule,
	}, nil
}

// listBacklog returns every pipeline submitted after the latest successful
// scheduler run, newest first. Without a previous successful run the
// listing is unbounded below.
func (e *Engine) listBacklog(ctx context.Context) ([]circleci.Pipeline, error) {
	scheduler, err := e.dir.ListPipelines(ctx, circleci.ListOptions{
		Branch:              e.cfg.Project.SchedulerBranch,
		ContainingWorkflows: []string{e.cfg.Verification.SchedulerWorkflow},
		SuccessfulOnly:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("list scheduler pipelines: %w", err)
	}

	opts := circleci.ListOptions{Multipage: true}
	if len(scheduler) > 0 {
		opts.StopAtPipelineID = scheduler[0].ID
	}
	backlog, err := e.dir.ListPipelines(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list pending pipelines: %w", err)
	}
	return backlog, nil
}

// checkAll verifies the backlog with a bounded worker pool. Each worker
// writes only its own slot, so no locking is needed; events are emitted
// from the calling goroutine after the pool drains.
func (e *Engine) checkAll(ctx context.Context, backlog []circleci.Pipeline, ref verify.Snapshot, tracker *treeTracker) []CandidateResult {
	results := make([]CandidateResult, len(backlog))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Runtime.VerifyConcurrency)
	for i, p := range backlog {
		g.Go(func() error {
			results[i] = e.checkPipeline(ctx, p, ref, tracker)
			return nil
		})
	}
	g.Wait()

	for _, c := range results {
		e.emit(output.Event{
			Type:           "pipeline.checked",
			PipelineNumber: c.Pipeline.Number,
			PipelineID:     c.Pipeline.ID,
			Safe:           output.Bool(c.Safe),
		})
	}
	return results
}

type dispatchUnit struct {
	candidate   *CandidateResult
	pullRequest int
}

// dispatchAll runs the action policy over the deduplicated units with a
// second bounded pool and returns the number of successful dispatches. A
// failed dispatch is logged and never affects its siblings.
func (e *Engine) dispatchAll(ctx context.Context, units []dispatchUnit) int {
	if len(units) == 0 {
		return 0
	}

	errs := make([]error, len(units))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Runtime.ActionConcurrency)
	for i, u := range units {
		g.Go(func() error {
			errs[i] = e.policy.Dispatch(ctx, u.candidate, u.pullRequest)
			return nil
		})
	}
	g.Wait()

	dispatched := 0
	for i, u := range units {
		if err := errs[i]; err != nil {
			fmt.Fprintf(e.log, "The %s action failed on PR #%d: %v\n", e.policy.Name(), u.pullRequest, err)
			e.emit(output.Event{Type: "action.failed", PullRequest: u.pullRequest, Error: err.Error()})
			continue
		}
		dispatched++
		fmt.Fprintf(e.log, "The %s action completed on PR #%d.\n", e.policy.Name(), u.pullRequest)
		e.emit(output.Event{Type: "action.dispatched", PullRequest: u.pullRequest})
	}
	return dispatched
}

func (e *Engine) emit(ev output.Event) {
	if err := e.out.Write(ev); err != nil {
		fmt.Fprintf(e.log, "warning: writing run event: %v\n", err)
	}
}
