// Package state is the authoritative in-memory mirror of a device's
// attributes.
//
// A Store maps DevicePath to AttributeValue. Every Apply assigns the next
// per-path revision and notifies each matching Subscription exactly once,
// after the value is readable through Snapshot. Subscriptions are
// independent cursors with unbounded queues:
//
//	sub := store.Subscribe(state.WithPrefix("/Device/ZoneOutputs"), state.WithReplay())
//	defer sub.Close()
//	for change := range sub.All(ctx) {
//	    fmt.Println(change.Path, change.Value, change.Revision)
//	}
//
// Paths are never deleted. When the session drops, the store is marked
// stale and keeps serving last-known values until a new baseline arrives.
package state
