package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "filelock.acquired")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeLockAcquired   = "filelock.acquired"
	TypeLockDenied     = "filelock.denied"
	TypeLockReleased   = "filelock.released"
	TypeLockExpired    = "filelock.expired"
	TypeClaimClaimed   = "workclaim.claimed"
	TypeClaimDenied    = "workclaim.denied"
	TypeClaimReleased  = "workclaim.released"
	TypeClaimExpired   = "workclaim.expired"
	TypeInstanceReaped = "reaper.reaped"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string, at time.Time) baseEvent {
	return baseEvent{eventType: eventType, timestamp: at}
}

// -----------------------------------------------------------------------------
// File Lock Events
// -----------------------------------------------------------------------------

// LockAcquiredEvent is emitted when an instance is granted a file lock.
type LockAcquiredEvent struct {
	baseEvent
	InstanceID string
	Path       string
	ExpiresAt  time.Time
	Renewed    bool // the instance already held the lock
	Degraded   bool // granted without a working store
}

// NewLockAcquiredEvent creates a LockAcquiredEvent.
func NewLockAcquiredEvent(at time.Time, instanceID, path string, expiresAt time.Time, renewed, degraded bool) LockAcquiredEvent {
	return LockAcquiredEvent{
		baseEvent:  newBaseEvent(TypeLockAcquired, at),
		InstanceID: instanceID,
		Path:       path,
		ExpiresAt:  expiresAt,
		Renewed:    renewed,
		Degraded:   degraded,
	}
}

// LockDeniedEvent is emitted when a lock request conflicts with another holder.
type LockDeniedEvent struct {
	baseEvent
	InstanceID string
	Path       string
	Holder     string
}

// NewLockDeniedEvent creates a LockDeniedEvent.
func NewLockDeniedEvent(at time.Time, instanceID, path, holder string) LockDeniedEvent {
	return LockDeniedEvent{
		baseEvent:  newBaseEvent(TypeLockDenied, at),
		InstanceID: instanceID,
		Path:       path,
		Holder:     holder,
	}
}

// LockReleasedEvent is emitted when an instance releases a lock it held.
type LockReleasedEvent struct {
	baseEvent
	InstanceID string
	Path       string
}

// NewLockReleasedEvent creates a LockReleasedEvent.
func NewLockReleasedEvent(at time.Time, instanceID, path string) LockReleasedEvent {
	return LockReleasedEvent{
		baseEvent:  newBaseEvent(TypeLockReleased, at),
		InstanceID: instanceID,
		Path:       path,
	}
}

// LockExpiredEvent is emitted when a stale lock is purged.
type LockExpiredEvent struct {
	baseEvent
	InstanceID string
	Path       string
	ExpiredAt  time.Time
}

// NewLockExpiredEvent creates a LockExpiredEvent.
func NewLockExpiredEvent(at time.Time, instanceID, path string, expiredAt time.Time) LockExpiredEvent {
	return LockExpiredEvent{
		baseEvent:  newBaseEvent(TypeLockExpired, at),
		InstanceID: instanceID,
		Path:       path,
		ExpiredAt:  expiredAt,
	}
}

// -----------------------------------------------------------------------------
// Work Claim Events
// -----------------------------------------------------------------------------

// ClaimClaimedEvent is emitted when an instance claims a task.
type ClaimClaimedEvent struct {
	baseEvent
	InstanceID string
	TaskID     string
	Renewed    bool
}

// NewClaimClaimedEvent creates a ClaimClaimedEvent.
func NewClaimClaimedEvent(at time.Time, instanceID, taskID string, renewed bool) ClaimClaimedEvent {
	return ClaimClaimedEvent{
		baseEvent:  newBaseEvent(TypeClaimClaimed, at),
		InstanceID: instanceID,
		TaskID:     taskID,
		Renewed:    renewed,
	}
}

// ClaimDeniedEvent is emitted when a task is already claimed by another instance.
type ClaimDeniedEvent struct {
	baseEvent
	InstanceID string
	TaskID     string
	Holder     string
}

// NewClaimDeniedEvent creates a ClaimDeniedEvent.
func NewClaimDeniedEvent(at time.Time, instanceID, taskID, holder string) ClaimDeniedEvent {
	return ClaimDeniedEvent{
		baseEvent:  newBaseEvent(TypeClaimDenied, at),
		InstanceID: instanceID,
		TaskID:     taskID,
		Holder:     holder,
	}
}

// ClaimReleasedEvent is emitted when an instance releases a task claim.
type ClaimReleasedEvent struct {
	baseEvent
	InstanceID string
	TaskID     string
}

// NewClaimReleasedEvent creates a ClaimReleasedEvent.
func NewClaimReleasedEvent(at time.Time, instanceID, taskID string) ClaimReleasedEvent {
	return ClaimReleasedEvent{
		baseEvent:  newBaseEvent(TypeClaimReleased, at),
		InstanceID: instanceID,
		TaskID:     taskID,
	}
}

// ClaimExpiredEvent is emitted when a stale claim is purged.
type ClaimExpiredEvent struct {
	baseEvent
	InstanceID string
	TaskID     string
}

// NewClaimExpiredEvent creates a ClaimExpiredEvent.
func NewClaimExpiredEvent(at time.Time, instanceID, taskID string) ClaimExpiredEvent {
	return ClaimExpiredEvent{
		baseEvent:  newBaseEvent(TypeClaimExpired, at),
		InstanceID: instanceID,
		TaskID:     taskID,
	}
}

// -----------------------------------------------------------------------------
// Reaper Events
// -----------------------------------------------------------------------------

// InstanceReapedEvent is emitted when an ending session's state is removed.
type InstanceReapedEvent struct {
	baseEvent
	InstanceID string
	Locks      int
	Claims     int
	Expired    int
}

// NewInstanceReapedEvent creates an InstanceReapedEvent.
func NewInstanceReapedEvent(at time.Time, instanceID string, locks, claims, expired int) InstanceReapedEvent {
	return InstanceReapedEvent{
		baseEvent:  newBaseEvent(TypeInstanceReaped, at),
		InstanceID: instanceID,
		Locks:      locks,
		Claims:     claims,
		Expired:    expired,
	}
}
