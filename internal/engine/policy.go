package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/immuni-app/immuni-ci-scheduler/internal/circleci"
	"github.com/immuni-app/immuni-ci-scheduler/internal/danger"
)

// ActionPolicy decides what happens to a verified pipeline after its pull
// request has been notified. Eligible is consulted once per deduplicated
// pull request; Dispatch runs in the bounded action pool.
type ActionPolicy interface {
	Name() string
	Eligible(c *CandidateResult) bool
	Dispatch(ctx context.Context, c *CandidateResult, pullRequest int) error
}

// ReviewToolPolicy runs the downstream review tool on safe forked
// pipelines. Internal pipelines are skipped: the tool already ran on
// commit.
type ReviewToolPolicy struct {
	Runner *danger.Runner
}

func (ReviewToolPolicy) Name() string { return "review-tool" }

func (ReviewToolPolicy) Eligible(c *CandidateResult) bool {
	return c.Safe && !c.Pipeline.Internal()
}

func (p ReviewToolPolicy) Dispatch(ctx context.Context, c *CandidateResult, pullRequest int) error {
	return p.Runner.Run(ctx, danger.Execution{
		Commit:      c.Pipeline.VCS.Revision,
		PullRequest: pullRequest,
		RepoDir:     c.Tree.Root(),
	})
}

// RerunPolicy re-runs the allow-listed workflows of a safe pipeline that
// are waiting on hold. Unlike the review tool it applies to internal
// pipelines too.
type RerunPolicy struct {
	Directory           circleci.Directory
	AuthorizedWorkflows []string
}

func (RerunPolicy) Name() string { return "rerun" }

func (RerunPolicy) Eligible(c *CandidateResult) bool {
	return c.Safe
}

func (p RerunPolicy) Dispatch(ctx context.Context, c *CandidateResult, pullRequest int) error {
	workflows, err := p.Directory.GetPipelineWorkflows(ctx, c.Pipeline.ID)
	if err != nil {
		return fmt.Errorf("list workflows of pipeline #%d: %w", c.Pipeline.Number, err)
	}

	authorized := make(map[string]bool, len(p.AuthorizedWorkflows))
	for _, name := range p.AuthorizedWorkflows {
		authorized[name] = true
	}

	var errs []error
	for _, wf := range workflows {
		if wf.Status != circleci.WorkflowStatusOnHold || !authorized[wf.Name] {
			continue
		}
		if err := p.Directory.RerunWorkflow(ctx, wf.ID); err != nil {
			errs = append(errs, fmt.Errorf("rerun workflow %s: %w", wf.Name, err))
		}
	}
	return errors.Join(errs...)
}
