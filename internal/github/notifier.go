package github

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"

	"github.com/immuni-app/immuni-ci-scheduler/internal/markdown"
)

// commentTitle marks the scheduler's status comment on a pull request. The
// edit-over-create lookup keys on it together with the bot login.
const commentTitle = "🚔 **Safety Check** 🚔"

// PassMessage is the comment body line for a pipeline whose configuration
// matches the reference branch.
func PassMessage(referenceBranch string) string {
	return fmt.Sprintf("✅ All configuration files are in line with the %s branch.", referenceBranch)
}

// FailMessage is the comment body line for a pipeline with configuration
// divergences.
func FailMessage(referenceBranch string) string {
	return fmt.Sprintf(
		"⚠️ Some configuration files don't match the %s branch. If you did not "+
			"perform these changes, **please rebase on the %s branch**.",
		referenceBranch, referenceBranch)
}

// noFilesMessage warns that the protected-file list is empty.
func noFilesMessage(referenceBranch string) string {
	return fmt.Sprintf("⚠️ No files of the %s branch have been specified for check.", referenceBranch)
}

// Notification is everything one status comment needs.
type Notification struct {
	PullRequest int
	Commit      string
	Safe        bool

	// Details is the Markdown-rendered findings of the safety check
	// (empty for a safe pipeline).
	Details string

	// SchedulerPipelineNumber and SchedulerPipelineID identify the
	// scheduler run for the diagnostic section; both read "devmode" when
	// the scheduler runs outside the CI provider.
	SchedulerPipelineNumber string
	SchedulerPipelineID     string

	CheckedAt time.Time
}

// Notifier posts or edits the single safety-check comment on a pull
// request. The engine's per-run deduplication guarantees each pull request
// sees at most one Notify call per run; the notifier's own contract is that
// repeated calls edit the existing comment instead of stacking new ones.
type Notifier struct {
	client          *Client
	owner           string
	repo            string
	botLogin        string
	referenceBranch string
	protectedFiles  []string
}

func NewNotifier(client *Client, owner, repo, botLogin, referenceBranch string, protectedFiles []string) *Notifier {
	return &Notifier{
		client:          client,
		owner:           owner,
		repo:            repo,
		botLogin:        botLogin,
		referenceBranch: referenceBranch,
		protectedFiles:  protectedFiles,
	}
}

// Notify writes the safety-check comment for n. If a comment authored by
// the bot with the title marker already exists, it is edited in place.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	body := n.buildComment(note)

	existing, err := n.findExistingComment(ctx, note.PullRequest)
	if err != nil {
		return fmt.Errorf("list comments on PR #%d: %w", note.PullRequest, err)
	}

	issues := n.client.Client.Issues
	if existing != 0 {
		_, _, err = issues.EditComment(ctx, n.owner, n.repo, existing, &github.IssueComment{Body: &body})
		if err != nil {
			return fmt.Errorf("edit comment %d on PR #%d: %w", existing, note.PullRequest, err)
		}
		return nil
	}

	_, _, err = issues.CreateComment(ctx, n.owner, n.repo, note.PullRequest, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("create comment on PR #%d: %w", note.PullRequest, err)
	}
	return nil
}

// findExistingComment returns the id of the first comment authored by the
// bot that carries the title marker, or zero when there is none. There
// should be at most one by construction.
func (n *Notifier) findExistingComment(ctx context.Context, pr int) (int64, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := n.client.Client.Issues.ListComments(ctx, n.owner, n.repo, pr, opts)
		if err != nil {
			return 0, err
		}
		for _, c := range comments {
			if c.GetUser().GetLogin() == n.botLogin && strings.Contains(c.GetBody(), commentTitle) {
				return c.GetID(), nil
			}
		}
		if resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

func (n *Notifier) buildComment(note Notification) string {
	var b strings.Builder
	b.WriteString(commentTitle + "\n")
	b.WriteString("\n🔰 **Result** 🔰\n")
	b.WriteString(note.Details)
	if note.Safe {
		b.WriteString("\n" + PassMessage(n.referenceBranch) + "\n")
	} else {
		b.WriteString("\n" + FailMessage(n.referenceBranch) + "\n")
	}
	b.WriteString("\n🛠 **Diagnostic information** 🛠\n")
	fmt.Fprintf(&b, "- CI scheduler pipeline: #%s (id: %s)\n", note.SchedulerPipelineNumber, note.SchedulerPipelineID)
	fmt.Fprintf(&b, "- Last verified commit: %s\n", note.Commit)
	fmt.Fprintf(&b, "- Time of check: %s UTC\n", note.CheckedAt.UTC().Format("02/01/2006, 15:04:05"))
	if len(n.protectedFiles) > 0 {
		files := append([]string(nil), n.protectedFiles...)
		sort.Strings(files)
		fmt.Fprintf(&b, "- The following protected files have been checked for changes: %s.\n", markdown.EscapeJoin(files))
	} else {
		b.WriteString("\n" + noFilesMessage(n.referenceBranch) + "\n")
	}
	return b.String()
}
