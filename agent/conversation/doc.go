// Package conversation defines the shared session state: the typed slot set
// of facts gathered from the user, the ordered turn history, and the active
// agent marker.
//
// Two invariants matter here. First, the slot set is append/overwrite-only:
// once a fact is known it never silently reverts to unknown (SlotSet.Merge
// rejects conflicting overwrites; SlotSet.Clear exists solely for the
// evaluator's audited inconsistency path). Second, the live Context is owned
// by the handoff controller; agents only ever see Snapshot copies and
// propose updates through their results.
package conversation
