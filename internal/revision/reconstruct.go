package revision

import (
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"codesession/pkg/types"
)

// Reconstruct produces, for every revision in the ordered sequence of a
// (session, student) pair, the full code text at that revision.
//
// A snapshot revision reconstructs to its own full code. A diff revision
// reconstructs by applying every patch since the nearest prior snapshot.
// A diff with no prior snapshot reconstructs to the empty string; a
// missing snapshot is a data-completeness condition the reconstructor
// cannot itself repair, so it is not an error.
//
// TECHNICAL DISCOVERY: a single forward pass with a running accumulator
// is equivalent to recomputing each revision from its nearest snapshot,
// because patches apply in sequence order and a snapshot resets the
// accumulator outright.
func Reconstruct(revisions []*types.Revision) ([]string, error) {
	dmp := diffmatchpatch.New()
	codes := make([]string, len(revisions))

	running := ""
	seenSnapshot := false

	for i, rev := range revisions {
		if rev.FullCode != nil {
			running = *rev.FullCode
			seenSnapshot = true
			codes[i] = running
			continue
		}

		if !seenSnapshot {
			// Gap: every diff before the first snapshot yields ""
			codes[i] = ""
			continue
		}

		if rev.Diff == nil {
			// Neither field populated; Validate rejects this on write,
			// so treat it as corrupt data on read
			return nil, fmt.Errorf("revision %s: %w", rev.ID, types.ErrAmbiguousRevision)
		}

		patches, err := dmp.PatchFromText(*rev.Diff)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w: %v", rev.ID, ErrBadPatch, err)
		}

		running, _ = dmp.PatchApply(patches, running)
		codes[i] = running
	}

	return codes, nil
}

// ReconstructedRevision pairs a revision's identity with its
// reconstructed code, as returned by the revisions endpoint
type ReconstructedRevision struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
}

// ReconstructAll reconstructs every revision in the sequence and pairs
// each with its identity for API responses
func ReconstructAll(revisions []*types.Revision) ([]ReconstructedRevision, error) {
	codes, err := Reconstruct(revisions)
	if err != nil {
		return nil, err
	}

	out := make([]ReconstructedRevision, len(revisions))
	for i, rev := range revisions {
		out[i] = ReconstructedRevision{
			ID:        rev.ID,
			Timestamp: rev.Timestamp,
			Code:      codes[i],
		}
	}
	return out, nil
}
