// Package attendance defines the patient attendance state machine.
//
// The transition table in status.go is the only place that decides which
// status changes are legal. Everything else (allowed-next lists, the
// initial-listening and start-attendance predicates, history verification)
// is computed from it on demand, so there are no stored flags that can
// drift away from the current status.
//
//	waiting            → initial-listening, in-service, vaccination, cancelled, did-not-wait
//	initial-listening  → in-service, vaccination, completed, cancelled
//	in-service         → completed, cancelled
//	pre-service        → in-service, vaccination, cancelled
//	vaccination        → completed, cancelled
//	completed, cancelled, did-not-wait are terminal
package attendance
