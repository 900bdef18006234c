/*
Package raft implements the Raft consensus state machine as a pure,
synchronous transducer: Consensus.Step consumes one Event and returns
the Tasks the host must perform. The package never does I/O, never
spawns goroutines, and never reads the wall clock; every externally
visible change, including timeouts, arrives as an Event produced by a
host-owned collaborator (storage, transport, FSM, clock).

# Architecture

	┌────────────────────── CONSENSUS CORE ─────────────────────┐
	│                                                             │
	│   Event  ──────────────▶  Consensus.Step  ──────────────▶ Tasks
	│                                 │                          │
	│     ┌───────────────────────────┼───────────────────────┐ │
	│     │                           │                       │ │
	│  ┌──▼───┐  ┌───────────┐  ┌─────▼─────┐  ┌────────────┐ │ │
	│  │ Log  │  │Configuration│  │ Progress  │  │ Election   │ │ │
	│  │      │  │(membership) │  │ Tracker   │  │ Tracker    │ │ │
	│  └──────┘  └───────────┘  └───────────┘  └────────────┘ │ │
	│     owned by the single Consensus instance, by value      │ │
	│                                                             │
	│  ┌────────────────────────────────────────────────────┐  │
	│  │          Client-Request Registry                    │  │
	│  │  APPLY / BARRIER / CHANGE / TRANSFER, keyed by       │  │
	│  │  anchoring log index                                 │  │
	│  └────────────────────────────────────────────────────┘  │
	└─────────────────────────────────────────────────────────┘

The host (see package node) owns one Consensus per server, feeds it
Events in arrival order, executes the returned Tasks (possibly in
parallel, across goroutines or processes), and feeds completions back
as further Events. No task's execution may begin before the step that
produced it returns; no two steps on the same instance may overlap.
*/
package raft
