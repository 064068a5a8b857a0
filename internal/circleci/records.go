package circleci

import (
	"strconv"
	"strings"
)

// Pipeline is one CI pipeline as returned by the provider. Records are
// decoded once at the API boundary; nothing downstream touches raw JSON.
type Pipeline struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	State  string `json:"state"`
	VCS    VCS    `json:"vcs"`
}

// VCS carries the source-control coordinates of a pipeline.
type VCS struct {
	Revision            string `json:"revision"`
	Branch              string `json:"branch"`
	OriginRepositoryURL string `json:"origin_repository_url"`
	TargetRepositoryURL string `json:"target_repository_url"`
}

// Internal reports whether the pipeline was submitted from the target
// repository itself rather than a fork.
func (p Pipeline) Internal() bool {
	return p.VCS.OriginRepositoryURL == p.VCS.TargetRepositoryURL
}

// ForkedPullRequest extracts the pull-request number encoded in a forked
// pipeline's branch name ("pull/<number>"). It needs no network access:
// everything required is already on the pipeline record.
func (p Pipeline) ForkedPullRequest() (int, bool) {
	_, after, found := strings.Cut(p.VCS.Branch, "pull/")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(after, "/head"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Workflow statuses the scheduler cares about.
const (
	WorkflowStatusSuccess = "success"
	WorkflowStatusOnHold  = "on_hold"
)

// Workflow is one workflow of a pipeline.
type Workflow struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	PipelineID     string `json:"pipeline_id"`
	PipelineNumber int    `json:"pipeline_number"`
}

// Job is one job of a workflow.
type Job struct {
	ID        string `json:"id"`
	JobNumber int    `json:"job_number"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// Config is a pipeline's configuration as retrieved from the provider:
// the source text and the fully compiled form actually executed.
type Config struct {
	Source   string `json:"source"`
	Compiled string `json:"compiled"`
}

// jobDetail is the v1.1 job payload; only the linked pull requests matter.
type jobDetail struct {
	PullRequests []struct {
		URL string `json:"url"`
	} `json:"pull_requests"`
}

// pullRequestNumberFromURL parses the trailing number of a pull-request URL
// such as "https://github.com/acme/app/pull/42".
func pullRequestNumberFromURL(url string) (int, bool) {
	_, after, found := strings.Cut(url, "pull/")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimRight(after, "/"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
