package store

import (
	"slices"
	"time"
)

// Lock is an exclusive lease on one file held by one instance.
type Lock struct {
	FilePath   string    `json:"file_path" yaml:"file_path"`
	InstanceID string    `json:"instance_id" yaml:"instance_id"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

// Expired reports whether the lease has run out at now.
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// WorkClaim records which instance is working on a task.
type WorkClaim struct {
	TaskID     string    `json:"task_id" yaml:"task_id"`
	InstanceID string    `json:"instance_id" yaml:"instance_id"`
	ClaimedAt  time.Time `json:"claimed_at" yaml:"claimed_at"`
	ExpiresAt  time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"` // zero = no expiry
}

// Expired reports whether the claim has run out at now. Claims without an
// expiry never expire.
func (c WorkClaim) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Snapshot is the full persisted coordination state.
type Snapshot struct {
	Locks  []Lock      `json:"locks" yaml:"locks"`
	Claims []WorkClaim `json:"work_claims" yaml:"work_claims"`
}

// Empty reports whether the snapshot holds no entries.
func (s Snapshot) Empty() bool {
	return len(s.Locks) == 0 && len(s.Claims) == 0
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Locks:  slices.Clone(s.Locks),
		Claims: slices.Clone(s.Claims),
	}
}

// FindLock returns the index of the lock on path, or -1.
func (s *Snapshot) FindLock(path string) int {
	return slices.IndexFunc(s.Locks, func(l Lock) bool { return l.FilePath == path })
}

// FindClaim returns the index of the claim on taskID, or -1.
func (s *Snapshot) FindClaim(taskID string) int {
	return slices.IndexFunc(s.Claims, func(c WorkClaim) bool { return c.TaskID == taskID })
}

// RemoveLocks deletes every lock matching fn and returns how many were removed.
func (s *Snapshot) RemoveLocks(fn func(Lock) bool) int {
	before := len(s.Locks)
	s.Locks = slices.DeleteFunc(s.Locks, fn)
	return before - len(s.Locks)
}

// RemoveClaims deletes every claim matching fn and returns how many were removed.
func (s *Snapshot) RemoveClaims(fn func(WorkClaim) bool) int {
	before := len(s.Claims)
	s.Claims = slices.DeleteFunc(s.Claims, fn)
	return before - len(s.Claims)
}

// Purged counts the entries dropped by PurgeExpired.
type Purged struct {
	Locks  []Lock
	Claims []WorkClaim
}

// Total returns the number of purged entries.
func (p Purged) Total() int {
	return len(p.Locks) + len(p.Claims)
}

// PurgeExpired returns s without entries whose lease ended at or before now,
// together with the entries it dropped. s is not modified.
func PurgeExpired(s Snapshot, now time.Time) (Snapshot, Purged) {
	var (
		out    Snapshot
		purged Purged
	)
	for _, l := range s.Locks {
		if l.Expired(now) {
			purged.Locks = append(purged.Locks, l)
			continue
		}
		out.Locks = append(out.Locks, l)
	}
	for _, c := range s.Claims {
		if c.Expired(now) {
			purged.Claims = append(purged.Claims, c)
			continue
		}
		out.Claims = append(out.Claims, c)
	}
	return out, purged
}

// sanitize drops entries with missing keys or owners and keeps one entry per
// key. Hand-edited or merged files can contain either. Among duplicates the
// entry that expires last is kept, so a stale copy never shadows a live one;
// ties keep the first.
func sanitize(s Snapshot) (Snapshot, int) {
	var (
		out     Snapshot
		dropped int
	)

	paths := make(map[string]int, len(s.Locks))
	for _, l := range s.Locks {
		if l.FilePath == "" || l.InstanceID == "" {
			dropped++
			continue
		}
		if i, ok := paths[l.FilePath]; ok {
			dropped++
			if l.ExpiresAt.After(out.Locks[i].ExpiresAt) {
				out.Locks[i] = l
			}
			continue
		}
		paths[l.FilePath] = len(out.Locks)
		out.Locks = append(out.Locks, l)
	}

	tasks := make(map[string]int, len(s.Claims))
	for _, c := range s.Claims {
		if c.TaskID == "" || c.InstanceID == "" {
			dropped++
			continue
		}
		if i, ok := tasks[c.TaskID]; ok {
			dropped++
			if claimOutlives(c, out.Claims[i]) {
				out.Claims[i] = c
			}
			continue
		}
		tasks[c.TaskID] = len(out.Claims)
		out.Claims = append(out.Claims, c)
	}
	return out, dropped
}

// claimOutlives reports whether a expires after b. A zero expiry never expires.
func claimOutlives(a, b WorkClaim) bool {
	switch {
	case b.ExpiresAt.IsZero():
		return false
	case a.ExpiresAt.IsZero():
		return true
	default:
		return a.ExpiresAt.After(b.ExpiresAt)
	}
}

// normalize replaces nil slices so the file always carries both arrays.
func normalize(s Snapshot) Snapshot {
	if s.Locks == nil {
		s.Locks = []Lock{}
	}
	if s.Claims == nil {
		s.Claims = []WorkClaim{}
	}
	return s
}
