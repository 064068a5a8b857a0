package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v81/github"
)

func newTestNotifier(t *testing.T, mux *http.ServeMux, protectedFiles []string) *Notifier {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ghClient := github.NewClient(nil)
	u, err := url.Parse(server.URL + "/")
	if err != nil {
		t.Fatalf("parse base URL: %v", err)
	}
	ghClient.BaseURL = u

	return NewNotifier(&Client{Client: ghClient}, "acme", "app", "acme-bot", "master", protectedFiles)
}

func sampleNotification(safe bool) Notification {
	return Notification{
		PullRequest:             42,
		Commit:                  "abc123",
		Safe:                    safe,
		Details:                 "",
		SchedulerPipelineNumber: "17",
		SchedulerPipelineID:     "pipe-17",
		CheckedAt:               time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestNotify_CreatesCommentWhenNoneExists(t *testing.T) {
	var created string

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `[{"id":1,"user":{"login":"somebody"},"body":"unrelated"}]`)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Body string `json:"body"`
			}
			_ = json.Unmarshal(body, &payload)
			created = payload.Body
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":99}`)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	n := newTestNotifier(t, mux, []string{"config.yaml", "Dangerfile"})
	if err := n.Notify(context.Background(), sampleNotification(true)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if !strings.Contains(created, commentTitle) {
		t.Error("comment must carry the title marker")
	}
	if !strings.Contains(created, "All configuration files are in line with the master branch") {
		t.Errorf("comment missing pass message:\n%s", created)
	}
	if !strings.Contains(created, "Last verified commit: abc123") {
		t.Errorf("comment missing commit line:\n%s", created)
	}
	if !strings.Contains(created, "14/03/2021, 09:26:53 UTC") {
		t.Errorf("comment missing check time:\n%s", created)
	}
	// Protected files are listed sorted.
	if !strings.Contains(created, "checked for changes: Dangerfile, config.yaml.") {
		t.Errorf("comment missing sorted protected files:\n%s", created)
	}
}

func TestNotify_EditsExistingBotComment(t *testing.T) {
	var edited string
	var createCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprintf(w, `[
				{"id":1,"user":{"login":"somebody"},"body":"unrelated"},
				{"id":2,"user":{"login":"acme-bot"},"body":"%s\nolder content"},
				{"id":3,"user":{"login":"acme-bot"},"body":"not a safety check"}
			]`, commentTitle)
		case http.MethodPost:
			createCalls++
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":100}`)
		}
	})
	mux.HandleFunc("/repos/acme/app/issues/comments/2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Body string `json:"body"`
		}
		_ = json.Unmarshal(body, &payload)
		edited = payload.Body
		fmt.Fprint(w, `{"id":2}`)
	})

	n := newTestNotifier(t, mux, nil)
	note := sampleNotification(false)
	note.Details = "- The following files have been modified: config.yaml.\n"
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if createCalls != 0 {
		t.Errorf("comment created %d times, expected edit instead", createCalls)
	}
	if !strings.Contains(edited, "files have been modified: config.yaml") {
		t.Errorf("edited comment missing findings:\n%s", edited)
	}
	if !strings.Contains(edited, "please rebase on the master branch") {
		t.Errorf("edited comment missing fail message:\n%s", edited)
	}
	// Zero protected files configured: the comment carries the notice.
	if !strings.Contains(edited, "No files of the master branch have been specified") {
		t.Errorf("edited comment missing no-files notice:\n%s", edited)
	}
}

func TestNotify_PaginatesCommentListing(t *testing.T) {
	var edits int

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprintf(w, `[{"id":7,"user":{"login":"acme-bot"},"body":"%s"}]`, commentTitle)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
		fmt.Fprint(w, `[{"id":1,"user":{"login":"somebody"},"body":"x"}]`)
	})
	mux.HandleFunc("/repos/acme/app/issues/comments/7", func(w http.ResponseWriter, r *http.Request) {
		edits++
		fmt.Fprint(w, `{"id":7}`)
	})

	n := newTestNotifier(t, mux, nil)
	if err := n.Notify(context.Background(), sampleNotification(true)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if edits != 1 {
		t.Errorf("bot comment on page 2 not edited (edits = %d)", edits)
	}
}

func TestResolveAuthToken(t *testing.T) {
	if tok, err := ResolveAuthToken("explicit"); err != nil || tok != "explicit" {
		t.Errorf("explicit token: (%q, %v)", tok, err)
	}
	t.Setenv("GITHUB_TOKEN", "from-env")
	if tok, err := ResolveAuthToken(""); err != nil || tok != "from-env" {
		t.Errorf("env token: (%q, %v)", tok, err)
	}
	t.Setenv("GITHUB_TOKEN", "")
	if _, err := ResolveAuthToken("  "); err == nil {
		t.Error("expected error when no token is available")
	}
}
