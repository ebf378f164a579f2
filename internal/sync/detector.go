package sync

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultAbsenceDebounce is the minimum interval between two consistent
// absence observations before a missing file counts as deleted.
const DefaultAbsenceDebounce = 30 * time.Second

// Detector classifies one logical path by comparing the baseline entry
// against the current local and remote observations.
//
// A missing file with no deletion marker is never trusted from a single
// sample: the first absence only starts a timer, and the verdict stays
// indeterminate until a second scan confirms the absence after the debounce
// interval. A listing hiccup therefore cannot delete live data.
type Detector struct {
	clock        clockwork.Clock
	debounce     time.Duration
	localAbsent  map[string]time.Time
	remoteAbsent map[string]time.Time
}

func NewDetector(clock clockwork.Clock, debounce time.Duration) *Detector {
	if debounce <= 0 {
		debounce = DefaultAbsenceDebounce
	}
	return &Detector{
		clock:        clock,
		debounce:     debounce,
		localAbsent:  make(map[string]time.Time),
		remoteAbsent: make(map[string]time.Time),
	}
}

// Classify produces the verdict for one path. Any of entry, local, remote,
// tombstone may be nil when that view has no record of the path.
func (d *Detector) Classify(relPath string, entry *Entry, local *LocalFile, remote *RemoteInfo, tombstone *Tombstone) Verdict {
	localPresent := local != nil
	remoteAlive := remote != nil && !remote.Deleted()
	remoteMarked := remote != nil && remote.Deleted()

	if localPresent {
		delete(d.localAbsent, relPath)
	}
	if remote != nil {
		delete(d.remoteAbsent, relPath)
	}

	if entry == nil {
		switch {
		case localPresent && remote == nil:
			return VerdictLocalNew
		case localPresent && remoteMarked:
			// recreated after a soft delete; upload clears the marker
			return VerdictLocalNew
		case localPresent && remoteAlive:
			if local.Hash == remote.Hash {
				return VerdictUnchanged
			}
			// both sides hold content with no shared baseline
			return VerdictBothModified
		case !localPresent && remoteAlive:
			return VerdictRemoteNew
		default:
			return VerdictUnchanged
		}
	}

	if entry.State == EntryStateDeleted {
		if localPresent {
			// resurrection after a tombstone
			return VerdictLocalNew
		}
		if remoteAlive && tombstone != nil && tombstone.Origin == OriginLocal {
			// marker write has not landed yet; re-apply
			return VerdictLocalDeleted
		}
		return VerdictUnchanged
	}

	if !localPresent {
		if remoteMarked {
			return VerdictRemoteDeleted
		}
		// no deletion marker anywhere; require a debounced re-check
		verdict := d.debouncedAbsence(d.localAbsent, relPath, VerdictLocalDeleted)
		if verdict == VerdictLocalDeleted && remoteAlive &&
			contentChanged(entry.LastRemoteHash, remote.Hash, entry.LastRemoteSize, remote.Size, entry.LastRemoteMtimeMS, remote.MtimeMS) {
			// delete vs modify: the remote moved past the baseline, so the
			// edit survives and comes back down
			return VerdictRemoteModified
		}
		return verdict
	}

	changedLocal := contentChanged(entry.LastLocalHash, local.Hash, entry.LastLocalSize, local.Size, entry.LastLocalMtimeMS, local.MtimeMS)

	if remoteMarked {
		if changedLocal {
			// modify vs delete: retain the edit, re-upload clears the marker
			return VerdictLocalModified
		}
		return VerdictRemoteDeleted
	}

	if remote == nil {
		verdict := d.debouncedAbsence(d.remoteAbsent, relPath, VerdictRemoteDeleted)
		if verdict == VerdictRemoteDeleted && changedLocal {
			return VerdictLocalModified
		}
		return verdict
	}

	changedRemote := contentChanged(entry.LastRemoteHash, remote.Hash, entry.LastRemoteSize, remote.Size, entry.LastRemoteMtimeMS, remote.MtimeMS)

	switch {
	case changedLocal && changedRemote:
		if local.Hash != "" && local.Hash == remote.Hash {
			// independent edits converged; no conflict
			return VerdictUnchanged
		}
		return VerdictBothModified
	case changedLocal:
		return VerdictLocalModified
	case changedRemote:
		return VerdictRemoteModified
	default:
		return VerdictUnchanged
	}
}

// debouncedAbsence turns a repeated absence into confirmed once the debounce
// interval has elapsed since the first observation.
func (d *Detector) debouncedAbsence(seen map[string]time.Time, relPath string, confirmed Verdict) Verdict {
	first, ok := seen[relPath]
	if !ok {
		seen[relPath] = d.clock.Now()
		return VerdictIndeterminate
	}
	if d.clock.Since(first) < d.debounce {
		return VerdictIndeterminate
	}
	delete(seen, relPath)
	return confirmed
}

// contentChanged applies the comparison order: a known hash pair is always
// decisive, otherwise size then mtime against the baseline.
func contentChanged(baseHash, hash string, baseSize, size, baseMtimeMS, mtimeMS int64) bool {
	if baseHash != "" && hash != "" {
		return baseHash != hash
	}
	if size != baseSize {
		return true
	}
	return mtimeMS != baseMtimeMS
}
