// Package core provides the foundational domain types and contracts shared by
// the KenPire mesh engines. It defines the core abstractions for:
//
//   - Tasks (immutable units of cognitive work with a caller deadline)
//   - BackendResponses and FusedResults (the fan-out/fan-in data model)
//   - Proposals, Votes and Outcomes (the consensus data model)
//   - The CardStore contract (TTL-bounded ephemeral cache, pointers only)
//   - The shared error taxonomy
//
// The package intentionally keeps implementation concerns (concrete backends,
// fusion strategy, quorum arithmetic, transports) out of scope, exposing small
// types and interfaces so the engines stay independently testable and
// replaceable.
package core
