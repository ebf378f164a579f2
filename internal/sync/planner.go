package sync

import (
	"sort"
	"strings"
)

// Planner turns the four views of a task into an ordered operation list.
// Conflicts and deletions come first so transfers never move bytes that the
// same cycle is about to supersede; uploads run parents before children and
// delete propagation runs children before parents.
type Planner struct {
	detector *Detector
}

func NewPlanner(detector *Detector) *Planner {
	return &Planner{detector: detector}
}

func (p *Planner) Plan(entries map[string]*Entry, local map[string]*LocalFile, remote map[string]*RemoteInfo, tombstones map[string]*Tombstone) []*Operation {
	paths := make(map[string]struct{}, len(entries)+len(local)+len(remote))
	for path := range entries {
		paths[path] = struct{}{}
	}
	for path := range local {
		paths[path] = struct{}{}
	}
	for path := range remote {
		paths[path] = struct{}{}
	}
	for path := range tombstones {
		paths[path] = struct{}{}
	}

	var conflicts, deletes, downloads, uploads, housekeeping []*Operation

	for path := range paths {
		entry := entries[path]
		localFile := local[path]
		remoteInfo := remote[path]
		tombstone := tombstones[path]

		verdict := p.detector.Classify(path, entry, localFile, remoteInfo, tombstone)
		op := &Operation{
			RelPath: path,
			Verdict: verdict,
			Local:   localFile,
			Remote:  remoteInfo,
			Entry:   entry,
		}

		switch verdict {
		case VerdictBothModified:
			op.Type = OpConflict
			conflicts = append(conflicts, op)
		case VerdictLocalDeleted:
			op.Type = OpDeleteRemote
			deletes = append(deletes, op)
		case VerdictRemoteDeleted:
			op.Type = OpDeleteLocal
			deletes = append(deletes, op)
		case VerdictLocalNew, VerdictLocalModified:
			op.Type = OpUpload
			uploads = append(uploads, op)
		case VerdictRemoteNew, VerdictRemoteModified:
			op.Type = OpDownload
			downloads = append(downloads, op)
		case VerdictUnchanged:
			if hk := housekeepingOp(op); hk != nil {
				housekeeping = append(housekeeping, hk)
			}
		case VerdictIndeterminate:
			// deferred; next cycle re-checks
		}
	}

	sortParentsFirst(uploads)
	sortParentsFirst(downloads)
	sortChildrenFirst(deletes)
	sortParentsFirst(conflicts)
	sortParentsFirst(housekeeping)

	plan := make([]*Operation, 0, len(conflicts)+len(deletes)+len(downloads)+len(uploads)+len(housekeeping))
	plan = append(plan, conflicts...)
	plan = append(plan, deletes...)
	plan = append(plan, downloads...)
	plan = append(plan, uploads...)
	plan = append(plan, housekeeping...)
	return plan
}

// housekeepingOp covers the unchanged verdicts that still need a store write:
// a stale or missing baseline gets refreshed, and a fully propagated deletion
// gets its entry cleaned up.
func housekeepingOp(op *Operation) *Operation {
	if op.Entry != nil && op.Entry.State == EntryStateDeleted {
		if op.Local == nil && (op.Remote == nil || op.Remote.Deleted()) {
			op.Type = OpCleanup
			return op
		}
		return nil
	}
	if op.Local == nil || op.Remote == nil {
		return nil
	}
	if op.Entry == nil ||
		op.Entry.LastLocalHash != op.Local.Hash ||
		op.Entry.LastRemoteHash != op.Remote.Hash ||
		op.Entry.LastLocalMtimeMS != op.Local.MtimeMS ||
		op.Entry.LastRemoteMtimeMS != op.Remote.MtimeMS {
		op.Type = OpRefreshBaseline
		return op
	}
	return nil
}

func pathDepth(path string) int {
	return strings.Count(path, "/")
}

func sortParentsFirst(ops []*Operation) {
	sort.Slice(ops, func(i, j int) bool {
		di, dj := pathDepth(ops[i].RelPath), pathDepth(ops[j].RelPath)
		if di != dj {
			return di < dj
		}
		return ops[i].RelPath < ops[j].RelPath
	})
}

func sortChildrenFirst(ops []*Operation) {
	sort.Slice(ops, func(i, j int) bool {
		di, dj := pathDepth(ops[i].RelPath), pathDepth(ops[j].RelPath)
		if di != dj {
			return di > dj
		}
		return ops[i].RelPath < ops[j].RelPath
	})
}
