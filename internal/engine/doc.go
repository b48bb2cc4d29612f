// Package engine implements the attendance status transition engine.
//
// The engine is the only writer of attendance records. It admits subjects,
// applies status transitions and answers read-only queries, reporting every
// accepted change to the audit log.
//
// Transition Flow:
//  1. Validate the request (subject, actor, recognised status)
//  2. Ask the PermissionGate; a refusal stops here
//  3. Take the subject's lock, then read the record from the store
//  4. Check the edge against the transition table
//  5. Write the new record with compare-and-set on the stored version,
//     reloading and re-checking on a version conflict
//  6. Append a success entry to the audit log
//  7. Publish TransitionCommitted
//
// Steps 3 to 5 form the critical section for one subject. Different
// subjects never share a lock and proceed in parallel. Compare-and-set
// extends the same guarantee to other processes sharing the store.
//
// Nothing is cached between calls: the store is the source of truth, so a
// failed write leaves no in-memory trace to roll back.
//
// The audit entry is a best-effort follow-up. An audit failure is logged
// and surfaced as an event, but the committed transition stands.
package engine
