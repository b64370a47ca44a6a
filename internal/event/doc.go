// Package event provides a synchronous pub-sub bus for coordination events.
//
// The lock manager, claim tracker and reaper publish what they decided;
// the audit logger and the live dashboard subscribe. Neither side knows the
// other.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// File locks:
//   - [LockAcquiredEvent], [LockDeniedEvent], [LockReleasedEvent], [LockExpiredEvent]
//
// Work claims:
//   - [ClaimClaimedEvent], [ClaimDeniedEvent], [ClaimReleasedEvent], [ClaimExpiredEvent]
//
// Session end:
//   - [InstanceReapedEvent]
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously and protected against panics. A nil *Bus accepts Publish
// calls and drops them.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeLockDenied, func(e event.Event) {
//	    denied := e.(event.LockDeniedEvent)
//	    fmt.Printf("%s is held by %s\n", denied.Path, denied.Holder)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Info("coordination event", "type", e.EventType())
//	})
package event
