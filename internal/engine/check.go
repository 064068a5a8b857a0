package engine

import (
	"context"
	"fmt"

	"github.com/immuni-app/immuni-ci-scheduler/internal/circleci"
	"github.com/immuni-app/immuni-ci-scheduler/internal/fingerprint"
	gh "github.com/immuni-app/immuni-ci-scheduler/internal/github"
	"github.com/immuni-app/immuni-ci-scheduler/internal/verify"
)

// CandidateResult is the outcome of verifying one pipeline: its safety
// verdict, the Markdown-rendered details for the PR comment, the pull
// requests it maps to, and the working tree the action policy may run in.
// An empty PullRequests slice means the pipeline produces no notification
// and no action.
type CandidateResult struct {
	Pipeline circleci.Pipeline
	Safe     bool
	Details  string

	PullRequests []int

	// Tree is the candidate checkout; nil when even the temporary
	// directory could not be created. Released by the run's final sweep,
	// not by the check.
	Tree WorkTree
}

// checkPipeline verifies a single backlog pipeline against the reference
// snapshot. It never returns an error: every failure mode degrades into an
// unsafe verdict or an empty pull-request set, so one broken pipeline
// cannot abort the run.
func (e *Engine) checkPipeline(ctx context.Context, p circleci.Pipeline, ref verify.Snapshot, tracker *treeTracker) CandidateResult {
	result := CandidateResult{Pipeline: p}

	pipelineConfig, configErr := e.dir.GetPipelineConfig(ctx, p.ID)

	tree, err := e.trees.Materialize(ctx, p.VCS.OriginRepositoryURL, p.VCS.Revision)
	tracker.track(tree)
	result.Tree = tree
	if err != nil {
		result.Details = fmt.Sprintf("Unable to checkout revision %s on contributor repo for pipeline #%d (%s)!",
			p.VCS.Revision, p.Number, p.ID)
		e.logSafetyCheck(result)
		return result
	}
	if configErr != nil {
		result.Details = fmt.Sprintf("Unable to retrieve the configuration of pipeline #%d (%s): %v",
			p.Number, p.ID, configErr)
		e.logSafetyCheck(result)
		return result
	}

	files, err := fingerprint.Files(tree.Root(), e.cfg.Verification.ProtectedFiles)
	if err != nil {
		result.Details = fmt.Sprintf("Unable to fingerprint protected files of pipeline #%d (%s): %v",
			p.Number, p.ID, err)
		e.logSafetyCheck(result)
		return result
	}
	submodule, err := tree.SubmoduleRevision(ctx, e.cfg.Verification.SubmoduleName)
	if err != nil {
		result.Details = fmt.Sprintf("Unable to read the submodule revision of pipeline #%d (%s): %v",
			p.Number, p.ID, err)
		e.logSafetyCheck(result)
		return result
	}

	verdict := verify.Verify(ref, verify.Snapshot{
		ProtectedFiles:    files,
		ConfigDigest:      fingerprint.Bytes([]byte(pipelineConfig.Compiled)),
		SubmoduleRevision: submodule,
	})
	result.Safe = verdict.Safe
	result.Details = verdict.Details()
	e.logSafetyCheck(result)

	prs, err := e.resolvePullRequests(ctx, p)
	if err != nil {
		fmt.Fprintf(e.log, "Unable to retrieve PR for pipeline #%d (%s): %v\n", p.Number, p.ID, err)
		return result
	}
	result.PullRequests = prs
	return result
}

// resolvePullRequests maps a pipeline to its pull requests. Internal
// pipelines need the provider API (the branch name carries no PR number);
// forked pipelines encode the number in the branch and need no network.
func (e *Engine) resolvePullRequests(ctx context.Context, p circleci.Pipeline) ([]int, error) {
	if p.Internal() {
		workflows, err := e.dir.GetPipelineWorkflows(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(workflows) == 0 {
			return nil, nil
		}
		return e.dir.GetWorkflowPullRequests(ctx, workflows[0].ID)
	}

	n, ok := p.ForkedPullRequest()
	if !ok {
		return nil, fmt.Errorf("no pull-request number in branch %q", p.VCS.Branch)
	}
	return []int{n}, nil
}

func (e *Engine) logSafetyCheck(c CandidateResult) {
	summary := gh.FailMessage(e.cfg.Project.ReferenceBranch)
	if c.Safe {
		summary = gh.PassMessage(e.cfg.Project.ReferenceBranch)
	}
	fmt.Fprintf(e.log, "Safety check for pipeline #%d (id: %s)\n%s\n%s", c.Pipeline.Number, c.Pipeline.ID, summary, c.Details)
}
