/*
Package log provides structured logging for raftd using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("transport")                │          │
	│  │  - WithNodeID("node-1")                      │          │
	│  │  - WithTerm(current_term)                    │          │
	│  │  - WithPeerID("node-2")                      │          │
	│  │  - WithRole("leader")                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "node",                     │          │
	│  │    "node_id": "node-1",                     │          │
	│  │    "term": 4,                               │          │
	│  │    "time": "2026-01-13T10:30:00Z",         │          │
	│  │    "message": "became leader"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-01-13T10:30:00Z INF became leader component=node node_id=node-1 term=4 │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every raftd package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs ("node", "transport", "storage")
  - WithNodeID: Add this server's ID to all logs
  - WithTerm: Add the current Raft term to all logs
  - WithPeerID: Add a remote peer's ID to all logs
  - WithRole: Add the current role (follower/candidate/leader) to all logs

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "evaluating vote request: candidate term=5 last_log_index=120"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "became leader (term=6)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "transport send failed, will retry on next heartbeat"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "failed to persist log entries: disk full"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open data directory: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/raftcore/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("cluster bootstrapped")
	log.Debug("tick received")
	log.Warn("election timeout approaching")
	log.Error("failed to dial peer")
	log.Fatal("cannot start without a data directory")

Structured Logging:

	log.Logger.Info().
		Str("node_id", "node-1").
		Uint64("term", 6).
		Msg("became leader")

	log.Logger.Error().
		Err(err).
		Str("peer_id", "node-2").
		Msg("append entries rejected")

Component Loggers:

	nodeLog := log.WithComponent("node")
	nodeLog.Info().Msg("starting event loop")

	// Chained context fields, the way the node's host loop attaches
	// identity once per instance rather than per log line.
	raftLog := log.WithNodeID("node-1").With().Str("component", "raft").Logger()
	raftLog.Info().Msg("vote granted")

Context Logger Helpers:

	// Per-node logs
	nodeLog := log.WithNodeID("node-1")
	nodeLog.Info().Msg("node joined cluster")

	// Per-term logs, useful around elections
	termLog := log.WithTerm(7)
	termLog.Info().Msg("election started")

	// Per-peer logs, useful in the replication loop
	peerLog := log.WithPeerID("node-2")
	peerLog.Warn().Msg("peer lagging behind by 500 entries")

# Integration Points

This package is used by:

  - pkg/raft: never logs directly (the consensus core performs no I/O); callers
    log around the Step/Task boundary instead
  - pkg/node: logs role transitions, task dispatch failures, and apply errors
  - pkg/transport: logs a stopped gRPC server and inbound messages dropped on a
    full receive buffer; dial and send errors are returned to pkg/node, which
    logs them
  - pkg/storage and pkg/security: do not log; they return errors to their callers
  - cmd/raftd: logs startup, shutdown, and CLI command results

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"node","node_id":"node-1","term":4,"time":"2026-01-13T10:30:00Z","message":"became leader"}
	{"level":"warn","component":"transport","peer_id":"node-2","time":"2026-01-13T10:30:01Z","message":"send failed, retrying"}
	{"level":"error","component":"storage","error":"disk full","time":"2026-01-13T10:30:02Z","message":"failed to persist entries"}

Console Format (Development):

	2026-01-13T10:30:00Z INF became leader component=node node_id=node-1 term=4
	2026-01-13T10:30:01Z WRN send failed, retrying component=transport peer_id=node-2
	2026-01-13T10:30:02Z ERR failed to persist entries component=storage error="disk full"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Uint64, .Err)
  - Enables log aggregation and querying
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: near-zero cost (level check short-circuits)
  - JSON encode: a few hundred ns per log line
  - String/int fields: tens of ns per field

Log Level Impact:
  - Debug: high volume, development only (e.g. per-tick noise)
  - Info: moderate volume, suitable for production (role changes, commits)
  - Warn/Error: low volume, minimal impact

# Troubleshooting

No Log Output:
  - Check: log.Init() called before logging (cmd/raftd does this in
    cobra.OnInitialize, before any command's RunE runs)
  - Check: log level set appropriately (Debug < Info < Warn < Error)

Missing Context Fields:
  - Cause: using the global Logger instead of a context logger
  - Solution: use WithNodeID/WithComponent/WithTerm/WithPeerID/WithRole

# Security

Log Content:
  - Never log private key material, the cluster CA's root key, or client
    tokens; pkg/security only ever logs certificate subjects and serial
    numbers, never key bytes
  - Use structured fields (.Str, .Int) instead of string concatenation for
    any value that originates from a peer or client, to avoid log injection

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
