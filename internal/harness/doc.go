// Package harness runs attendance scenarios as executable contract tests.
//
// A scenario admits subjects, drives them through transitions and drafts,
// checks each step's outcome and finally asserts on the resulting state and
// audit log. Every run uses a fresh in-memory store, a fixed clock and
// sequential audit ids, so the trace it produces is reproducible and can be
// compared against a golden file.
//
// # Scenario Format
//
//	name: triage_to_vaccination
//	description: "What this scenario validates"
//	actors:
//	  nurse: { id: u1, name: Ana Souza, roles: [nurse] }
//	permissions:            # optional, defaults to allow-all
//	  default_allow: false
//	  rules:
//	    - action: admit
//	      roles: [nurse]
//	setup:
//	  - admit: p1
//	    name: Joao Silva
//	    as: nurse
//	flow:
//	  - transition: p1
//	    to: initial-listening
//	    as: nurse
//	    expect: { status: initial-listening }
//	  - transition: p1
//	    to: waiting
//	    as: nurse
//	    expect: { error: INVALID_TRANSITION }
//	  - save_draft: triage
//	    payload: { complaint: headache }
//	assertions:
//	  - type: final_status
//	    subject: p1
//	    status: initial-listening
//	  - type: audit_count
//	    module: attendance
//	    count: 2
//
// Setup steps must succeed. Flow steps without an expect clause must
// succeed too; an expect clause can name the error code a step has to fail
// with, the status it has to leave the subject in, or whether a draft save
// was kept.
//
// # Assertion Types
//
//   - final_status: the subject's current status
//   - history_length: the number of transitions the subject went through
//   - audit_contains: an entry with the given action (and optional module,
//     severity, subject) was retained
//   - audit_count: exactly count entries match the optional filter
//   - draft_present / draft_absent: whether a slot holds a draft
package harness
