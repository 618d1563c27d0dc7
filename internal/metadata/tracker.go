// Package metadata implements the conflict-detection metadata tracker:
// generating and updating versioned, content-hashed records, validating
// their invariants, and classifying a local/remote pair into a conflict
// reason with an advisory resolution.
package metadata

import (
	"time"

	"github.com/driftsync/syncore/internal/hashutil"
	"github.com/driftsync/syncore/internal/model"
)

// concurrentModificationWindow is the timestamp proximity under which two
// same-version, different-hash edits from different devices are treated as
// concurrent rather than a plain overwrite.
const concurrentModificationWindow = 5 * time.Second

// Generate creates the initial Metadata for a newly created transaction.
func Generate(payload any, userID, deviceID string, parentIDs []string) model.Metadata {
	now := time.Now().UTC()
	return model.Metadata{
		Version:         1,
		ServerTimestamp: nil,
		DeviceTimestamp: now,
		ContentHash:     hashutil.Hash(payload),
		ParentIDs:       parentIDs,
		LastModified:    now,
		CreatedAt:       now,
		UserID:          userID,
		DeviceID:        deviceID,
	}
}

// Update bumps metadata to a new version after a local edit. Identity
// fields (UserID, DeviceID, CreatedAt, ParentIDs) are preserved; only
// Version, ContentHash, DeviceTimestamp, and LastModified change.
func Update(current model.Metadata, newPayload any) model.Metadata {
	now := time.Now().UTC()
	next := current
	next.Version = current.Version + 1
	next.ContentHash = hashutil.Hash(newPayload)
	next.DeviceTimestamp = now
	next.LastModified = now
	return next
}

// Validate enforces a Metadata record's invariants. It returns the first
// violated invariant as an ErrValidationFailed, or nil if metadata is
// well-formed.
func Validate(m model.Metadata) error {
	if m.Version < 1 {
		return ErrValidationFailed{Field: "version", Reason: "must be >= 1"}
	}
	if !hashutil.Valid(m.ContentHash) {
		return ErrValidationFailed{Field: "contentHash", Reason: "must be 64 lowercase hex characters"}
	}
	if m.DeviceTimestamp.IsZero() {
		return ErrValidationFailed{Field: "deviceTimestamp", Reason: "must be set"}
	}
	if m.LastModified.IsZero() {
		return ErrValidationFailed{Field: "lastModified", Reason: "must be set"}
	}
	if m.CreatedAt.IsZero() {
		return ErrValidationFailed{Field: "createdAt", Reason: "must be set"}
	}
	if m.UserID == "" {
		return ErrValidationFailed{Field: "userId", Reason: "must be set"}
	}
	if m.DeviceID == "" {
		return ErrValidationFailed{Field: "deviceId", Reason: "must be set"}
	}
	return nil
}

// Reason names why detect classified a local/remote pair as it did.
type Reason string

const (
	ReasonNone                  Reason = "none"
	ReasonVersionMismatch       Reason = "version_mismatch"
	ReasonHashMismatch          Reason = "hash_mismatch"
	ReasonCausalityViolation    Reason = "causality_violation"
	ReasonConcurrentModification Reason = "concurrent_modification"
)

// Resolution is the advisory side to prefer. It never executes a merge —
// only names which side a caller should apply.
type Resolution string

const (
	ResolutionNone        Resolution = "none"
	ResolutionUseLocal    Resolution = "use_local"
	ResolutionUseRemote   Resolution = "use_remote"
	ResolutionManual      Resolution = "manual"
)

// ConflictResult is the outcome of comparing a local and remote Metadata
// pair for the same entity.
type ConflictResult struct {
	Conflict   bool
	Reason     Reason
	Resolution Resolution
}

// Detect classifies a local/remote metadata pair.
//
// No-conflict and version-mismatch are checked first; then, within the
// "same version, different hash" branch, causality and concurrent
// modification are checked before falling back to a plain hash mismatch.
// Treating causality and concurrent-modification as independent top-level
// conditions (rather than refinements of the same-version branch) makes
// them unreachable, since no-conflict and version-mismatch alone already
// partition every (version, hash) pair — and it would misclassify the
// same-version/different-hash/different-device/close-timestamp case as a
// plain hash mismatch instead of a concurrent modification.
func Detect(local, remote model.Metadata) ConflictResult {
	if local.Version == remote.Version && local.ContentHash == remote.ContentHash {
		return ConflictResult{Conflict: false, Reason: ReasonNone, Resolution: ResolutionNone}
	}

	if local.Version != remote.Version {
		return ConflictResult{
			Conflict:   true,
			Reason:     ReasonVersionMismatch,
			Resolution: lastWriteWins(local, remote),
		}
	}

	// Same version, different content hash from here on.

	if causalityViolated(local, remote) {
		return ConflictResult{Conflict: true, Reason: ReasonCausalityViolation, Resolution: ResolutionManual}
	}

	if withinConcurrentWindow(local, remote) && local.DeviceID != remote.DeviceID {
		return ConflictResult{
			Conflict:   true,
			Reason:     ReasonConcurrentModification,
			Resolution: lastWriteWins(local, remote),
		}
	}

	return ConflictResult{
		Conflict:   true,
		Reason:     ReasonHashMismatch,
		Resolution: lastWriteWins(local, remote),
	}
}

func withinConcurrentWindow(local, remote model.Metadata) bool {
	delta := local.LastModified.Sub(remote.LastModified)
	if delta < 0 {
		delta = -delta
	}
	return delta < concurrentModificationWindow
}

// causalityViolated implements the minimum causality rule: both sides
// must already claim an explicit, disjoint parent lineage for this to
// fire. Normal forward progress — a newer version with no parent
// reference on either side — is never flagged, and this branch is only
// reached once a version match has already ruled out the "remote is
// simply ahead" case.
func causalityViolated(local, remote model.Metadata) bool {
	if len(local.ParentIDs) == 0 || len(remote.ParentIDs) == 0 {
		return false
	}
	localSet := make(map[string]bool, len(local.ParentIDs))
	for _, id := range local.ParentIDs {
		localSet[id] = true
	}
	for _, id := range remote.ParentIDs {
		if localSet[id] {
			return false // shared ancestor reference: not a violation
		}
	}
	return true // disjoint, explicit lineages claimed by both sides
}

// lastWriteWins compares ServerTimestamp (falling back to LastModified);
// strictly greater wins; on an exact tie the larger deviceId
// (lexicographic) wins.
func lastWriteWins(local, remote model.Metadata) Resolution {
	lt := local.EffectiveTimestamp()
	rt := remote.EffectiveTimestamp()

	if lt.After(rt) {
		return ResolutionUseLocal
	}
	if rt.After(lt) {
		return ResolutionUseRemote
	}
	if local.DeviceID > remote.DeviceID {
		return ResolutionUseLocal
	}
	return ResolutionUseRemote
}
