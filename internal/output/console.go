package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// ConsoleSink renders events as human-readable lines.
type ConsoleSink struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleSink{writer: w}
}

var (
	safeLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	unsafeLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	dimLabel    = color.New(color.Faint).SprintFunc()
)

func (s *ConsoleSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch e.Type {
	case "run.started":
		_, err = fmt.Fprintf(s.writer, "Checking %d pipelines submitted since the last scheduler pass...\n", e.Backlog)
	case "pipeline.checked":
		label := safeLabel("safe")
		if e.Safe == nil || !*e.Safe {
			label = unsafeLabel("unsafe")
		}
		_, err = fmt.Fprintf(s.writer, "Pipeline #%d (%s): %s\n", e.PipelineNumber, dimLabel(e.PipelineID), label)
	case "pr.notified":
		_, err = fmt.Fprintf(s.writer, "PR #%d: safety check comment updated\n", e.PullRequest)
	case "action.dispatched":
		_, err = fmt.Fprintf(s.writer, "PR #%d: downstream action dispatched\n", e.PullRequest)
	case "action.failed":
		_, err = fmt.Fprintf(s.writer, "PR #%d: downstream action failed: %s\n", e.PullRequest, e.Error)
	case "run.finished":
		_, err = fmt.Fprintf(s.writer, "Done: %d pipelines checked, %d PRs notified, %d actions dispatched.\n",
			e.Checked, e.Notified, e.Dispatched)
	}
	return err
}

func (s *ConsoleSink) Close() error {
	return nil
}
