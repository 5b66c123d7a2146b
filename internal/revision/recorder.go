package revision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

// Recorder persists each code change for a (session, student) pair as one
// revision appended to that pair's sequence.
//
// Snapshot policy: the first revision in a sequence is always a full
// snapshot; after that a full snapshot is written every snapshotEvery
// revisions, and whenever the diff text would be at least as large as the
// code itself. Everything else is stored as a patch against the previous
// reconstructed code.
type Recorder struct {
	store         interfaces.RevisionStore
	snapshotEvery int
	dmp           *diffmatchpatch.DiffMatchPatch
}

// NewRecorder creates a recorder with the given snapshot cadence.
// A cadence below 1 is clamped to 1, which degenerates to all-snapshots.
func NewRecorder(store interfaces.RevisionStore, snapshotEvery int) *Recorder {
	if snapshotEvery < 1 {
		snapshotEvery = 1
	}
	return &Recorder{
		store:         store,
		snapshotEvery: snapshotEvery,
		dmp:           diffmatchpatch.New(),
	}
}

// Record appends one revision capturing the given code state.
// The prior code is reconstructed from the existing sequence rather than
// read from the live student row, so the revision chain stays internally
// consistent even if the row was updated out of band.
func (r *Recorder) Record(ctx context.Context, namespaceID, sessionID, studentID, code string, execResult *types.ExecutionResult) (*types.Revision, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	if studentID == "" {
		return nil, ErrEmptyStudent
	}

	existing, err := r.store.ListRevisions(ctx, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	rev := &types.Revision{
		ID:              uuid.New().String(),
		NamespaceID:     namespaceID,
		SessionID:       sessionID,
		StudentID:       studentID,
		Timestamp:       time.Now(),
		ExecutionResult: execResult,
	}

	if err := r.buildBody(existing, code, rev); err != nil {
		return nil, fmt.Errorf("failed to build revision: %w", err)
	}

	if err := r.store.AppendRevision(ctx, rev); err != nil {
		return nil, fmt.Errorf("failed to append revision: %w", err)
	}
	return rev, nil
}

// buildBody decides snapshot-vs-diff and fills in the revision body
func (r *Recorder) buildBody(existing []*types.Revision, code string, rev *types.Revision) error {
	// First revision in a sequence is always a full snapshot
	if len(existing) == 0 || len(existing)%r.snapshotEvery == 0 {
		rev.IsDiff = false
		rev.FullCode = &code
		return nil
	}

	codes, err := Reconstruct(existing)
	if err != nil {
		return err
	}
	prev := codes[len(codes)-1]

	diffText := r.dmp.PatchToText(r.dmp.PatchMake(prev, code))
	if len(diffText) >= len(code) {
		// Patch larger than the code it encodes; store a snapshot instead
		rev.IsDiff = false
		rev.FullCode = &code
		return nil
	}

	rev.IsDiff = true
	rev.Diff = &diffText
	rev.BaseRevisionID = existing[len(existing)-1].ID
	return nil
}
