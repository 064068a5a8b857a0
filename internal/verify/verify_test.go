package verify

import (
	"strings"
	"testing"

	"github.com/immuni-app/immuni-ci-scheduler/internal/fingerprint"
)

func baseline() Snapshot {
	return Snapshot{
		ProtectedFiles: map[string]string{
			"config.yaml":  "d1",
			"Dangerfile":   "d2",
			"missing.json": fingerprint.Missing,
		},
		ConfigDigest:      "cfg",
		SubmoduleRevision: "abc123",
	}
}

func TestVerify_Safe(t *testing.T) {
	verdict := Verify(baseline(), baseline())
	if !verdict.Safe {
		t.Fatalf("identical snapshots must be safe, findings: %v", verdict.Findings)
	}
	if len(verdict.Findings) != 0 {
		t.Errorf("safe verdict must carry no findings, got %v", verdict.Findings)
	}
}

func TestVerify_EachDimensionIndependently(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		finding string
	}{
		{
			name:    "added file",
			mutate:  func(s *Snapshot) { s.ProtectedFiles["missing.json"] = "now-here" },
			finding: "added: missing.json",
		},
		{
			name:    "deleted file",
			mutate:  func(s *Snapshot) { s.ProtectedFiles["Dangerfile"] = fingerprint.Missing },
			finding: "deleted: Dangerfile",
		},
		{
			name:    "modified file",
			mutate:  func(s *Snapshot) { s.ProtectedFiles["config.yaml"] = "d1-changed" },
			finding: "modified: config.yaml",
		},
		{
			name:    "config digest mismatch",
			mutate:  func(s *Snapshot) { s.ConfigDigest = "other" },
			finding: "CI configuration file has been modified",
		},
		{
			name:    "submodule revision mismatch",
			mutate:  func(s *Snapshot) { s.SubmoduleRevision = "def456" },
			finding: "scheduler submodule has changed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := baseline()
			// Deep copy the map so mutations stay local to the case.
			files := make(map[string]string, len(candidate.ProtectedFiles))
			for k, v := range candidate.ProtectedFiles {
				files[k] = v
			}
			candidate.ProtectedFiles = files
			tt.mutate(&candidate)

			verdict := Verify(baseline(), candidate)
			if verdict.Safe {
				t.Fatal("expected unsafe verdict")
			}
			if len(verdict.Findings) != 1 {
				t.Fatalf("expected exactly one finding, got %v", verdict.Findings)
			}
			if !strings.Contains(verdict.Findings[0], tt.finding) {
				t.Errorf("finding %q does not mention %q", verdict.Findings[0], tt.finding)
			}
		})
	}
}

func TestVerify_DistinctFindingsNotMerged(t *testing.T) {
	candidate := baseline()
	candidate.ProtectedFiles = map[string]string{
		"config.yaml":  "changed",
		"Dangerfile":   fingerprint.Missing,
		"missing.json": "added",
	}
	candidate.ConfigDigest = "other"
	candidate.SubmoduleRevision = "def456"

	verdict := Verify(baseline(), candidate)
	if verdict.Safe {
		t.Fatal("expected unsafe verdict")
	}
	if len(verdict.Findings) != 5 {
		t.Fatalf("expected 5 separate findings, got %d: %v", len(verdict.Findings), verdict.Findings)
	}
}

func TestVerify_EmptySubmoduleRevisionsEqual(t *testing.T) {
	ref := baseline()
	cand := baseline()
	ref.SubmoduleRevision = ""
	cand.SubmoduleRevision = ""
	if verdict := Verify(ref, cand); !verdict.Safe {
		t.Errorf("both-absent submodule must compare equal, findings: %v", verdict.Findings)
	}
}

func TestVerify_ZeroProtectedFiles(t *testing.T) {
	ref := Snapshot{ProtectedFiles: map[string]string{}, ConfigDigest: "cfg"}
	cand := Snapshot{ProtectedFiles: map[string]string{}, ConfigDigest: "cfg"}
	if verdict := Verify(ref, cand); !verdict.Safe {
		t.Errorf("zero protected files must be a no-op, findings: %v", verdict.Findings)
	}
}

func TestVerify_SortedFileLists(t *testing.T) {
	ref := Snapshot{ProtectedFiles: map[string]string{}}
	cand := Snapshot{ProtectedFiles: map[string]string{"z.yml": "1", "a.yml": "1", "m.yml": "1"}}
	verdict := Verify(ref, cand)
	if len(verdict.Findings) != 1 {
		t.Fatalf("expected one finding, got %v", verdict.Findings)
	}
	want := "The following files have been added: a.yml, m.yml, z.yml."
	if verdict.Findings[0] != want {
		t.Errorf("finding = %q, want %q", verdict.Findings[0], want)
	}
}

func TestVerdict_Details(t *testing.T) {
	v := Verdict{Findings: []string{"one", "two"}}
	want := "- one\n- two\n"
	if got := v.Details(); got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}
	if (Verdict{Safe: true}).Details() != "" {
		t.Error("safe verdict must render empty details")
	}
}
