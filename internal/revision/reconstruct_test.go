package revision

import (
	"errors"
	"testing"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"codesession/pkg/types"
)

func strPtr(s string) *string { return &s }

// patchText computes the patch transforming before into after, the same
// way the recorder stores diffs
func patchText(t *testing.T, before, after string) string {
	t.Helper()
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(before, after))
}

func snapshotRev(id, code string) *types.Revision {
	return &types.Revision{
		ID:        id,
		SessionID: "session-1",
		StudentID: "student-1",
		Timestamp: time.Now(),
		FullCode:  strPtr(code),
	}
}

func diffRev(id, baseID, diff string) *types.Revision {
	return &types.Revision{
		ID:             id,
		SessionID:      "session-1",
		StudentID:      "student-1",
		Timestamp:      time.Now(),
		IsDiff:         true,
		Diff:           strPtr(diff),
		BaseRevisionID: baseID,
	}
}

func TestReconstructSnapshotAndDiffChain(t *testing.T) {
	v1 := "x = 1\n"
	v2 := "x = 1\ny = 2\n"
	v3 := "x = 1\ny = 2\nz = 3\n"

	revisions := []*types.Revision{
		snapshotRev("r1", v1),
		diffRev("r2", "r1", patchText(t, v1, v2)),
		diffRev("r3", "r2", patchText(t, v2, v3)),
	}

	codes, err := Reconstruct(revisions)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	want := []string{v1, v2, v3}
	for i, code := range codes {
		if code != want[i] {
			t.Errorf("revision %d: got %q, want %q", i, code, want[i])
		}
	}
}

func TestReconstructSnapshotResetsChain(t *testing.T) {
	v1 := "a\n"
	v2 := "a\nb\n"
	v3 := "fresh start\n"
	v4 := "fresh start\nmore\n"

	revisions := []*types.Revision{
		snapshotRev("r1", v1),
		diffRev("r2", "r1", patchText(t, v1, v2)),
		snapshotRev("r3", v3),
		diffRev("r4", "r3", patchText(t, v3, v4)),
	}

	codes, err := Reconstruct(revisions)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	want := []string{v1, v2, v3, v4}
	for i, code := range codes {
		if code != want[i] {
			t.Errorf("revision %d: got %q, want %q", i, code, want[i])
		}
	}
}

func TestReconstructDiffsBeforeFirstSnapshot(t *testing.T) {
	v1 := "hello\n"
	v2 := "hello world\n"

	// History opens with orphaned diffs: reconstruction yields "" for
	// them rather than failing, and resumes at the first snapshot
	revisions := []*types.Revision{
		diffRev("r1", "r0", patchText(t, "whatever", "something")),
		diffRev("r2", "r1", patchText(t, "something", "else")),
		snapshotRev("r3", v1),
		diffRev("r4", "r3", patchText(t, v1, v2)),
	}

	codes, err := Reconstruct(revisions)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	want := []string{"", "", v1, v2}
	for i, code := range codes {
		if code != want[i] {
			t.Errorf("revision %d: got %q, want %q", i, code, want[i])
		}
	}
}

func TestReconstructEmptyHistory(t *testing.T) {
	codes, err := Reconstruct(nil)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("expected empty result, got %v", codes)
	}
}

func TestReconstructEmptySnapshot(t *testing.T) {
	// "" as full code is a legitimate snapshot (student cleared the editor)
	revisions := []*types.Revision{
		snapshotRev("r1", "code\n"),
		snapshotRev("r2", ""),
	}

	codes, err := Reconstruct(revisions)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if codes[1] != "" {
		t.Errorf("expected empty code, got %q", codes[1])
	}
}

func TestReconstructBadPatch(t *testing.T) {
	revisions := []*types.Revision{
		snapshotRev("r1", "code\n"),
		diffRev("r2", "r1", "this is not a patch"),
	}

	if _, err := Reconstruct(revisions); !errors.Is(err, ErrBadPatch) {
		t.Errorf("expected ErrBadPatch, got %v", err)
	}
}

func TestReconstructCorruptRevision(t *testing.T) {
	revisions := []*types.Revision{
		snapshotRev("r1", "code\n"),
		{
			ID:        "r2",
			SessionID: "session-1",
			StudentID: "student-1",
			Timestamp: time.Now(),
			IsDiff:    true,
			// Neither diff nor fullCode populated
		},
	}

	if _, err := Reconstruct(revisions); !errors.Is(err, types.ErrAmbiguousRevision) {
		t.Errorf("expected ErrAmbiguousRevision, got %v", err)
	}
}

func TestReconstructAllPairsIdentity(t *testing.T) {
	v1 := "a\n"
	revisions := []*types.Revision{snapshotRev("r1", v1)}

	out, err := ReconstructAll(revisions)
	if err != nil {
		t.Fatalf("ReconstructAll failed: %v", err)
	}
	if len(out) != 1 || out[0].ID != "r1" || out[0].Code != v1 {
		t.Errorf("unexpected result: %+v", out)
	}
}
