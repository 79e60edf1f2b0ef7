package procflow

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/internal/service"
	"github.com/petrijr/procflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Definition      = api.Definition
	Node            = api.Node
	NodeKind        = api.NodeKind
	Connection      = api.Connection
	TimerDefinition = api.TimerDefinition
	TimerKind       = api.TimerKind
	ActionContext   = api.ActionContext
	ActionFunc      = api.ActionFunc
	ProcessInstance = api.ProcessInstance
	ProcessRef      = api.ProcessRef
	Status          = api.Status
	WorkItem        = api.WorkItem
	WorkItemSchema  = api.WorkItemSchema
	Policy          = api.Policy
	SecurityPolicy  = api.SecurityPolicy
	Correlation     = api.Correlation

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Engine         = engine.Engine
	EngineConfig   = engine.Config
	Process        = engine.Process
	ProcessService = service.ProcessService
	CreateRequest  = service.CreateRequest
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewSecurityPolicy    = api.NewSecurityPolicy
	SimpleCorrelation    = api.SimpleCorrelation
	CompositeCorrelation = api.CompositeCorrelation
)

// Re-export status values and node kinds for convenience.

const (
	StatusPending   = api.StatusPending
	StatusActive    = api.StatusActive
	StatusCompleted = api.StatusCompleted
	StatusAborted   = api.StatusAborted
	StatusSuspended = api.StatusSuspended
	StatusError     = api.StatusError

	NodeStart      = api.NodeStart
	NodeEnd        = api.NodeEnd
	NodeTask       = api.NodeTask
	NodeAction     = api.NodeAction
	NodeEvent      = api.NodeEvent
	NodeSubProcess = api.NodeSubProcess

	TimeCycle    = api.TimeCycle
	TimeDuration = api.TimeDuration
	TimeDate     = api.TimeDate
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() *Engine {
	return engine.NewInMemoryEngine()
}

// NewEngine builds an Engine from cfg. Only cfg.Backend is required.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	return engine.New(cfg)
}

// NewSQLiteEngine returns an Engine that keeps instances, their history and
// pending signals in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewPostgresEngine returns an Engine that persists instances and pending
// signals in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (*Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewRedisEngine returns an Engine that persists instances and pending
// signals in Redis.
func NewRedisEngine(client *redis.Client) (*Engine, error) {
	return engine.NewRedisEngine(client)
}

// NewMongoEngine returns an Engine that persists instances in the given
// MongoDB collection.
func NewMongoEngine(client *mongo.Client, database, collection string) (*Engine, error) {
	return engine.NewMongoEngine(client, database, collection)
}

// NewBoltEngine returns an Engine that persists instances in a bbolt file.
func NewBoltEngine(db *bbolt.DB) (*Engine, error) {
	return engine.NewBoltEngine(db)
}

// Config wires an Application.
type Config struct {
	// Engine is used as is when set. Otherwise one is built from
	// EngineConfig, defaulting to in-memory instances and history.
	Engine       *Engine
	EngineConfig EngineConfig

	// Definitions are registered and activated by NewApplication.
	Definitions []*Definition

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Application bundles an Engine with the ProcessService built on it.
type Application struct {
	Engine  *Engine
	Service *ProcessService
}

// NewApplication constructs the engine and service described by cfg and
// registers cfg.Definitions.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:procflow.db?_pragma=journal_mode(WAL)")
//	eng, _ := procflow.NewSQLiteEngine(db)
//	app, err := procflow.NewApplication(ctx, procflow.Config{
//	    Engine:      eng,
//	    Definitions: []*procflow.Definition{orders},
//	})
//	pi, err := app.Service.CreateProcessInstance(ctx, "orders", procflow.CreateRequest{})
func NewApplication(ctx context.Context, cfg Config) (*Application, error) {
	eng := cfg.Engine
	if eng == nil {
		ecfg := cfg.EngineConfig
		if ecfg.Backend == nil {
			p := persistence.NewInMemoryPersistence()
			ecfg.Backend = p.Instances
			if ecfg.Events == nil {
				ecfg.Events = p.Events
			}
		}
		if ecfg.Logger == nil {
			ecfg.Logger = cfg.Logger
		}
		var err error
		if eng, err = engine.New(ecfg); err != nil {
			return nil, err
		}
	}

	var opts []service.Option
	if cfg.Tracer != nil {
		opts = append(opts, service.WithTracer(cfg.Tracer))
	}
	if cfg.Logger != nil {
		opts = append(opts, service.WithLogger(cfg.Logger))
	}
	app := &Application{Engine: eng, Service: service.New(eng, opts...)}

	for _, def := range cfg.Definitions {
		if _, err := app.Register(ctx, def); err != nil {
			return nil, multierr.Append(err, eng.Close(ctx))
		}
	}
	return app, nil
}

// Register adds def to the engine and activates it.
func (a *Application) Register(ctx context.Context, def *Definition) (*Process, error) {
	p, err := a.Engine.Register(def)
	if err != nil {
		return nil, err
	}
	if err := p.Activate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close deactivates every process and releases the engine's services.
func (a *Application) Close(ctx context.Context) error {
	return a.Engine.Close(ctx)
}
