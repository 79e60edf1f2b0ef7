// Package engine drives process instances through their lifecycle: it
// binds definitions to execution runtimes, serializes operations per
// instance id, and keeps the instance store, correlations, timers and the
// signal hub in step with every operation.
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/internal/correlation"
	"github.com/petrijr/procflow/internal/jobs"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/internal/signal"
	"github.com/petrijr/procflow/internal/taskqueue"
	"github.com/petrijr/procflow/pkg/api"
	"github.com/petrijr/procflow/pkg/worker"
)

// Engine owns the registered processes and the services they share.
type Engine struct {
	backend      persistence.Backend
	events       persistence.EventStore
	hub          api.SignalHub
	jobs         api.JobsService
	correlations api.CorrelationService
	observer     api.Observer
	logger       *slog.Logger
	handlers     []api.WorkItemHandler
	now          func() time.Time

	locks     *lockMap
	processes *processRegistry
	// closers release the services New created itself.
	closers []func() error

	dropped atomic.Int64
}

// New creates an Engine. Unset services default to in-process
// implementations: a watermill-backed signal hub, a cron scheduler, an
// in-memory correlation service and no event history.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		backend:      cfg.Backend,
		events:       cfg.Events,
		hub:          cfg.Hub,
		jobs:         cfg.Jobs,
		correlations: cfg.Correlations,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		handlers:     cfg.Handlers,
		now:          cfg.Now,
		locks:        newLockMap(),
		processes:    newProcessRegistry(),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.events == nil {
		e.events = persistence.NoopEventStore{}
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.correlations == nil {
		e.correlations = correlation.NewMemoryService()
	}
	if e.hub == nil {
		hub := signal.NewHub(e.logger)
		e.hub = hub
		e.closers = append(e.closers, hub.Close)
	}
	if e.jobs == nil {
		sched := jobs.NewScheduler(e.logger)
		e.jobs = sched
		e.closers = append(e.closers, func() error { sched.Stop(); return nil })
	}
	return e, nil
}

// NewInMemoryEngine returns an engine keeping instances and history in
// memory.
func NewInMemoryEngine() *Engine {
	p := persistence.NewInMemoryPersistence()
	e, err := New(Config{Backend: p.Instances, Events: p.Events})
	if err != nil {
		// The config is always valid.
		panic(err)
	}
	return e
}

// newQueueEngine routes signals and child completions through a durable
// QueueHub on q, so a completion survives a restart and failed deliveries
// are retried.
func newQueueEngine(cfg Config, q taskqueue.Queue) (*Engine, error) {
	hub := signal.NewQueueHub(q, worker.Config{Logger: cfg.Logger})
	cfg.Hub = hub
	e, err := New(cfg)
	if err != nil {
		return nil, multierr.Append(err, hub.Close())
	}
	e.closers = append(e.closers, hub.Close)
	return e, nil
}

// NewSQLiteEngine stores instances, their history and pending signals in
// db.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	inst, err := persistence.NewSQLiteBackend(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return newQueueEngine(Config{Backend: inst, Events: events}, q)
}

// NewPostgresEngine stores instances and pending signals in db. History
// stays in memory.
func NewPostgresEngine(db *sql.DB) (*Engine, error) {
	inst, err := persistence.NewPostgresBackend(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}
	return newQueueEngine(Config{Backend: inst, Events: persistence.NewMemoryEventStore()}, q)
}

// NewRedisEngine stores instances and pending signals in Redis under the
// "procflow:" prefix.
func NewRedisEngine(client *redis.Client) (*Engine, error) {
	return newQueueEngine(Config{
		Backend: persistence.NewRedisBackend(client, "procflow:"),
		Events:  persistence.NewMemoryEventStore(),
	}, taskqueue.NewRedisQueue(client, "procflow:"))
}

// NewMongoEngine stores instances in the given collection and pending
// signals in "<collection>_queue".
func NewMongoEngine(client *mongo.Client, database, collection string) (*Engine, error) {
	return newQueueEngine(Config{
		Backend: persistence.NewMongoBackend(client, database, collection),
		Events:  persistence.NewMemoryEventStore(),
	}, taskqueue.NewMongoQueue(client, database, collection+"_queue"))
}

// NewBoltEngine stores instances in an embedded bbolt file.
func NewBoltEngine(db *bbolt.DB) (*Engine, error) {
	inst, err := persistence.NewBoltBackend(db)
	if err != nil {
		return nil, err
	}
	return New(Config{Backend: inst, Events: persistence.NewMemoryEventStore()})
}

// Register validates def and adds it as a new process. The definition is
// copied; a missing version defaults to DefaultVersion.
func (e *Engine) Register(def *api.Definition) (*Process, error) {
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	d := *def
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	p := newProcess(e, &d)
	if err := e.processes.Register(p); err != nil {
		return nil, err
	}
	e.logger.Info("process_registered",
		slog.String("process", d.ID),
		slog.String("version", d.Version),
	)
	return p, nil
}

// Process returns the most recently registered version of id.
func (e *Engine) Process(id string) (*Process, error) {
	return e.processes.Get(id, "")
}

// ProcessVersion returns the given version of id.
func (e *Engine) ProcessVersion(id, version string) (*Process, error) {
	return e.processes.Get(id, version)
}

// Versions lists the registered versions of id.
func (e *Engine) Versions(id string) []string {
	return e.processes.Versions(id)
}

// Processes returns every registered process.
func (e *Engine) Processes() []*Process {
	return e.processes.All()
}

func (e *Engine) lookup(ref api.ProcessRef) (*Process, error) {
	return e.processes.Get(ref.ID, ref.Version)
}

// Activate activates every registered process.
func (e *Engine) Activate(ctx context.Context) error {
	for _, p := range e.processes.All() {
		if err := p.Activate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate deactivates every registered process.
func (e *Engine) Deactivate(ctx context.Context) error {
	var errs error
	for _, p := range e.processes.All() {
		errs = multierr.Append(errs, p.Deactivate(ctx))
	}
	return errs
}

// Hub returns the signal hub.
func (e *Engine) Hub() api.SignalHub { return e.hub }

// Events returns the event history.
func (e *Engine) Events() persistence.EventStore { return e.events }

// Correlations returns the correlation service.
func (e *Engine) Correlations() api.CorrelationService { return e.correlations }

// DroppedCompletions counts child completions whose parent could not be
// found.
func (e *Engine) DroppedCompletions() int64 { return e.dropped.Load() }

// Close deactivates every process and stops the services New created.
func (e *Engine) Close(ctx context.Context) error {
	errs := e.Deactivate(ctx)
	for _, c := range e.closers {
		errs = multierr.Append(errs, c())
	}
	return errs
}
