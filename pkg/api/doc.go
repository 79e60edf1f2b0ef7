// Package api contains the core building blocks of the procflow process
// engine: process definitions, the process and process-instance contracts,
// work items, signals, correlations, timer descriptions, error kinds and
// observability hooks.
//
// Most users interact with the higher-level procflow package, which
// re-exports selected types and helpers from this package. The api package
// is intended for advanced use cases, custom integrations (stores, hubs,
// schedulers, work-item handlers), or contributors extending the engine.
//
// # Process Definitions
//
// A Definition is an immutable graph of nodes (start, end, task, action,
// event, sub-process) and connections. Definitions declare the variables of
// their model; the engine binds instance variables through that explicit
// Schema instead of reflection.
//
// # Process Instances
//
// A ProcessInstance moves through PENDING, ACTIVE, and then either the
// terminal COMPLETED/ABORTED or ERROR (recoverable through Failure) and
// SUSPENDED. Every mutating call runs under a per-instance lock and is
// synchronized with the store before it returns.
//
// # Errors
//
// Failures are reported with the sentinel kinds declared in errors.go,
// usually wrapped in an *InstanceError. Match them with errors.Is.
//
// # Observability
//
// The Observer interface receives lifecycle events once the unit of work
// that produced them commits. LoggingObserver, BasicMetrics and
// CompositeObserver are ready-made implementations.
package api
