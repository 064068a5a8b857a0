package output

// Event is one structured run-lifecycle record. A run emits run.started,
// one pipeline.checked per evaluated pipeline, pr.notified and
// action.dispatched/action.failed per deduplicated pull request, and a
// final run.finished with the tallies.
type Event struct {
	Type string `json:"type"`

	// Pipeline coordinates, set on pipeline.checked.
	PipelineNumber int    `json:"pipeline_number,omitempty"`
	PipelineID     string `json:"pipeline_id,omitempty"`
	Safe           *bool  `json:"safe,omitempty"`

	// PullRequest is set on pr.notified and action events.
	PullRequest int `json:"pull_request,omitempty"`

	// Error carries the failure text on action.failed.
	Error string `json:"error,omitempty"`

	// Run tallies, set on run.started and run.finished.
	Backlog    int `json:"backlog,omitempty"`
	Checked    int `json:"checked,omitempty"`
	Notified   int `json:"notified,omitempty"`
	Dispatched int `json:"dispatched,omitempty"`
}

// Bool is a small helper for the optional Safe field.
func Bool(v bool) *bool {
	return &v
}
