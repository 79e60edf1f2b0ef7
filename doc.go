// Package procflow provides an embeddable process-instance lifecycle engine
// for Go.
//
// procflow drives instances of graph-shaped process definitions (start,
// task, action, event, sub-process and end nodes) through their lifecycle:
// creation, start, signals, variable updates, human-task work items,
// failure recovery, abort, migration and completion. Every operation on an
// instance runs under a per-instance lock and is synchronized with the
// instance store before it returns.
//
// # Core Concepts
//
//  1. Definition and ProcessBuilder
//  2. Engine and Process
//  3. ProcessInstance
//  4. ProcessService
//  5. Application
//
// # Definitions
//
// A Definition is an immutable graph. ProcessBuilder is the ergonomic way to
// write one; consecutive nodes are connected automatically:
//
//	def := procflow.New("approval").
//	    Variables("amount", "approved").
//	    Start("start").
//	    Task("review", "Human Task", procflow.WithParameters(map[string]any{
//	        "GroupId": "finance",
//	        "Amount":  "#{amount}",
//	    })).
//	    End("end").
//	    MustBuild()
//
// # Engine
//
// The Engine owns registered processes and the services they share: the
// instance store backend, the event history, the signal hub, the timer
// scheduler and the correlation service. Engines can be backed by:
//
//   - In-memory stores (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//   - bbolt
//
// The durable constructors also route signals and sub-process completions
// through a database-backed queue, so a completion that could not be
// delivered is retried instead of lost.
//
// # ProcessService
//
// ProcessService is the boundary API (create, get, signal, update, abort,
// work-item transitions, migration) with one OpenTelemetry span per
// operation. Application bundles an Engine with its service:
//
//	app, err := procflow.NewApplication(ctx, procflow.Config{
//	    Definitions: []*procflow.Definition{def},
//	})
//	pi, err := app.Service.CreateProcessInstance(ctx, "approval", procflow.CreateRequest{
//	    Variables: map[string]any{"amount": 120},
//	})
//
// # Observability
//
// Observers (LoggingObserver, BasicMetrics, CompositeObserver) receive
// lifecycle events when the unit of work that produced them commits.
package procflow
