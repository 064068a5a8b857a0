package cli

import (
	"testing"

	"github.com/immuni-app/immuni-ci-scheduler/internal/config"
	"github.com/immuni-app/immuni-ci-scheduler/internal/engine"
)

func TestPolicyFor_DefaultsToReviewTool(t *testing.T) {
	c := config.New()
	c.Project.Repository = "acme/app"
	c.Project.ProjectPath = "/srv/app"
	c.Credentials.GitHubToken = "tok"

	policy := policyFor(c, nil)
	rt, ok := policy.(engine.ReviewToolPolicy)
	if !ok {
		t.Fatalf("policy = %T, want ReviewToolPolicy", policy)
	}
	if rt.Runner.ProjectPath != "/srv/app" || rt.Runner.Repository != "acme/app" {
		t.Errorf("runner wired with %q/%q, want /srv/app and acme/app", rt.Runner.ProjectPath, rt.Runner.Repository)
	}
}

func TestPolicyFor_RerunMode(t *testing.T) {
	c := config.New()
	c.Action.Mode = config.ModeRerun
	c.Action.AuthorizedWorkflows = []string{"deploy"}

	policy := policyFor(c, nil)
	rp, ok := policy.(engine.RerunPolicy)
	if !ok {
		t.Fatalf("policy = %T, want RerunPolicy", policy)
	}
	if len(rp.AuthorizedWorkflows) != 1 || rp.AuthorizedWorkflows[0] != "deploy" {
		t.Errorf("authorized workflows = %v, want [deploy]", rp.AuthorizedWorkflows)
	}
}

func TestRunCommandFlagDefaults(t *testing.T) {
	cases := []struct {
		flag string
		want string
	}{
		{"config", "scheduler.yml"},
		{"reference-branch", "master"},
		{"scheduler-branch", "master"},
		{"mode", "review-tool"},
		{"verify-concurrency", "4"},
		{"action-concurrency", "4"},
		{"git-timeout", "5m0s"},
		{"http-timeout", "30s"},
		{"emit", ""},
	}
	for _, tc := range cases {
		f := runCmd.Flags().Lookup(tc.flag)
		if f == nil {
			t.Errorf("flag --%s is not registered", tc.flag)
			continue
		}
		if f.DefValue != tc.want {
			t.Errorf("flag --%s default = %q, want %q", tc.flag, f.DefValue, tc.want)
		}
	}
}
