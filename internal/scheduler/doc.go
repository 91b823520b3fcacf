// Package scheduler wraps host scheduling primitives so that a panicking
// callback is reported instead of tearing down the loop that runs it.
//
// Responsibilities:
//   - Repeat/Once/Frame register a wrapped callback with the Host and return
//     the host's handle unchanged.
//   - A panic in the callback is recovered, logged with its timer kind, and
//     fanned out to every ErrorHandler in registration order.
//   - The schedule is never cancelled because of a failure.
//   - Cancel* never panic and never return an error; host failures are logged.
//
// The package holds no state besides its ErrorHandler registry.
package scheduler
