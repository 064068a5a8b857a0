package circleci

import (
	"context"
	"fmt"
	"net/url"
)

// ListOptions controls ListPipelines.
type ListOptions struct {
	// Branch restricts the listing to pipelines of one branch.
	Branch string

	// ContainingWorkflows keeps only pipelines whose workflows include
	// every named workflow. Each evaluation costs a workflow lookup.
	ContainingWorkflows []string

	// NotContainingWorkflows keeps only pipelines whose workflows include
	// none of the named workflows.
	NotContainingWorkflows []string

	// SuccessfulOnly keeps only pipelines whose workflows all succeeded.
	// When ContainingWorkflows is set, only those workflows are checked.
	SuccessfulOnly bool

	// Limit bounds the number of returned pipelines. It is enforced
	// against post-filter matches, so it also bounds the secondary
	// workflow lookups. Zero means unlimited.
	Limit int

	// Multipage follows continuation tokens across pages. When false only
	// the first page is inspected.
	Multipage bool

	// StopAtPipelineID is an exclusive stop token: listing ends at the
	// first occurrence of this pipeline, which itself is not returned.
	// Each page is trimmed before the continuation decision, so a match
	// on an early page prevents any further page from being fetched.
	StopAtPipelineID string
}

func (o ListOptions) hasWorkflowFilters() bool {
	return len(o.ContainingWorkflows) > 0 || len(o.NotContainingWorkflows) > 0 || o.SuccessfulOnly
}

// ListPipelines enumerates the project's pipelines, newest first, honoring
// the pagination, filter, and stop-token semantics of ListOptions.
func (c *Client) ListPipelines(ctx context.Context, opts ListOptions) ([]Pipeline, error) {
	params := url.Values{}
	if opts.Branch != "" {
		params.Set("branch", opts.Branch)
	}

	var retrieved []Pipeline
	for {
		var page itemsEnvelope[Pipeline]
		if err := c.getV2(ctx, fmt.Sprintf("project/%s/pipeline", c.slug), params, &page); err != nil {
			return nil, err
		}

		kept, foundStop := TrimAtAndAfter(page.Items, opts.StopAtPipelineID)

		if opts.hasWorkflowFilters() {
			for _, pipeline := range kept {
				if opts.Limit > 0 && len(retrieved) >= opts.Limit {
					foundStop = true
					break
				}
				matching, err := c.pipelineMatches(ctx, pipeline, opts)
				if err != nil {
					return nil, err
				}
				if matching {
					retrieved = append(retrieved, pipeline)
				}
			}
		} else {
			retrieved = append(retrieved, kept...)
			if opts.Limit > 0 && len(retrieved) >= opts.Limit {
				retrieved = retrieved[:opts.Limit]
				foundStop = true
			}
		}

		if foundStop || page.NextPageToken == "" || !opts.Multipage {
			return retrieved, nil
		}
		// Continuation requests carry only the page token.
		params = url.Values{}
		params.Set("page-token", page.NextPageToken)
	}
}

func (c *Client) pipelineMatches(ctx context.Context, pipeline Pipeline, opts ListOptions) (bool, error) {
	workflows, err := c.GetPipelineWorkflows(ctx, pipeline.ID)
	if err != nil {
		return false, err
	}

	names := make(map[string]bool, len(workflows))
	for _, w := range workflows {
		names[w.Name] = true
	}

	for _, required := range opts.ContainingWorkflows {
		if !names[required] {
			return false, nil
		}
	}
	for _, excluded := range opts.NotContainingWorkflows {
		if names[excluded] {
			return false, nil
		}
	}
	if opts.SuccessfulOnly {
		only := make(map[string]bool, len(opts.ContainingWorkflows))
		for _, name := range opts.ContainingWorkflows {
			only[name] = true
		}
		for _, w := range workflows {
			if len(only) > 0 && !only[w.Name] {
				continue
			}
			if w.Status != WorkflowStatusSuccess {
				return false, nil
			}
		}
	}
	return true, nil
}

// TrimAtAndAfter returns the pipelines strictly before the stop pipeline in
// the given order, and whether the stop pipeline was found. An empty stop id
// keeps everything.
func TrimAtAndAfter(pipelines []Pipeline, stopID string) (kept []Pipeline, found bool) {
	if stopID == "" {
		return pipelines, false
	}
	for i, p := range pipelines {
		if p.ID == stopID {
			return pipelines[:i:i], true
		}
	}
	return pipelines, false
}

// TrimThrough returns the pipelines strictly after the stop pipeline in the
// given order. With a newest-first listing this drops the stop pipeline and
// everything newer, which is how the scheduler excludes pipelines submitted
// at or after its own start. An absent stop id keeps everything.
func TrimThrough(pipelines []Pipeline, stopID string) []Pipeline {
	if stopID == "" {
		return pipelines
	}
	for i, p := range pipelines {
		if p.ID == stopID {
			return pipelines[i+1:]
		}
	}
	return pipelines
}
