// Package verify implements the safety comparison between a trusted
// reference snapshot and a candidate pipeline snapshot. It is pure: both
// snapshots are fully materialized before Verify runs, so the comparison
// itself performs no network or filesystem access.
package verify

import (
	"fmt"
	"sort"

	"github.com/immuni-app/immuni-ci-scheduler/internal/fingerprint"
	"github.com/immuni-app/immuni-ci-scheduler/internal/markdown"
)

// Snapshot is the integrity-relevant state of a repository at one revision:
// the fingerprints of every protected file (absent files carry
// fingerprint.Missing), the digest of the compiled CI configuration, and the
// revision of the scheduler submodule (empty when the submodule is absent).
type Snapshot struct {
	ProtectedFiles    map[string]string
	ConfigDigest      string
	SubmoduleRevision string
}

// Verdict is the outcome of a safety check. Findings lists every failing
// dimension in a human-readable form; it is empty exactly when Safe is true.
type Verdict struct {
	Safe     bool
	Findings []string
}

// Details renders the findings as Markdown list items, one per line.
func (v Verdict) Details() string {
	var out string
	for _, f := range v.Findings {
		out += "- " + f + "\n"
	}
	return out
}

// Verify compares candidate against reference and reports every dimension
// in which they diverge: protected files added, deleted, or modified; a
// changed compiled configuration; a changed submodule revision. Distinct
// failure reasons are never merged into one finding.
func Verify(reference, candidate Snapshot) Verdict {
	verdict := Verdict{Safe: true}

	added, deleted, modified := diffProtectedFiles(reference.ProtectedFiles, candidate.ProtectedFiles)

	if len(added) > 0 {
		verdict.Safe = false
		verdict.Findings = append(verdict.Findings,
			fmt.Sprintf("The following files have been added: %s.", markdown.EscapeJoin(added)))
	}
	if len(deleted) > 0 {
		verdict.Safe = false
		verdict.Findings = append(verdict.Findings,
			fmt.Sprintf("The following files have been deleted: %s.", markdown.EscapeJoin(deleted)))
	}
	if len(modified) > 0 {
		verdict.Safe = false
		verdict.Findings = append(verdict.Findings,
			fmt.Sprintf("The following files have been modified: %s.", markdown.EscapeJoin(modified)))
	}

	if reference.ConfigDigest != candidate.ConfigDigest {
		verdict.Safe = false
		verdict.Findings = append(verdict.Findings, "The CI configuration file has been modified.")
	}

	if reference.SubmoduleRevision != candidate.SubmoduleRevision {
		verdict.Safe = false
		verdict.Findings = append(verdict.Findings, "The revision of the scheduler submodule has changed.")
	}

	return verdict
}

// diffProtectedFiles partitions the protected-file fingerprints. Presence
// means a non-Missing fingerprint: paths present only in the candidate are
// added, only in the reference are deleted, and present in both with
// different digests are modified. Each slice comes back sorted so findings
// are stable.
func diffProtectedFiles(reference, candidate map[string]string) (added, deleted, modified []string) {
	for path, digest := range candidate {
		if digest == fingerprint.Missing {
			continue
		}
		ref, ok := reference[path]
		if !ok || ref == fingerprint.Missing {
			added = append(added, path)
		} else if ref != digest {
			modified = append(modified, path)
		}
	}
	for path, digest := range reference {
		if digest == fingerprint.Missing {
			continue
		}
		cand, ok := candidate[path]
		if !ok || cand == fingerprint.Missing {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(added)
	sort.Strings(deleted)
	sort.Strings(modified)
	return added, deleted, modified
}
