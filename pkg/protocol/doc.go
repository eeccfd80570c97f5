// Package protocol defines the wire-level types exchanged between the
// client under test and the simulated relay.
//
// This package contains the pieces of the relay protocol the simulator
// needs to be correct about:
//   - Event: an immutable, author-signed record with kind, tags, content
//     and timestamp. Signatures are carried but never verified.
//   - Tag: a validated name/values record replacing the protocol's
//     loosely-typed positional string arrays.
//   - Filter: a declarative predicate set, with Matches as the single
//     matching interpreter used for both backlog replay and live fan-out.
//   - Address: the kind:pubkey:identifier coordinate used to reference
//     the current version of an addressable entity (repository, etc.).
//   - Envelopes: the JSON-array frames of the wire protocol
//     (REQ/CLOSE/EVENT inbound, EVENT/EOSE/OK/NOTICE outbound).
//
// Everything here is pure data and pure functions; no I/O, no state.
package protocol
