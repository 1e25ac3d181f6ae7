package engine

import (
	"context"
	"sync"

	"github.com/jarabaimpact/agentflow/approval"
	"github.com/jarabaimpact/agentflow/config"
	"github.com/jarabaimpact/agentflow/executor"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/metadata"
	"github.com/jarabaimpact/agentflow/metrics"
	"github.com/jarabaimpact/agentflow/orchestrator"
	"github.com/jarabaimpact/agentflow/persistence"
	"github.com/jarabaimpact/agentflow/persistence/inmem"
	"github.com/jarabaimpact/agentflow/persistence/redis"
	"github.com/jarabaimpact/agentflow/rest"
	"github.com/jarabaimpact/agentflow/steplog"
	"go.uber.org/zap"
)

// Engine assembles the full execution stack from configuration: storage,
// handler registry, flow executor, approval gate, orchestrator and the REST
// server. Construction is ordered; each setup step may depend on earlier ones.
type Engine struct {
	Config          config.Config
	storage         persistence.Storage
	metadataStorage persistence.MetadataStorage
	registry        *handler.Registry
	recorder        *steplog.Recorder
	collector       steplog.Collector
	executor        *executor.FlowExecutor
	gate            *approval.Gate
	sweeper         *approval.Sweeper
	orchestrator    *orchestrator.Orchestrator
	dispatcher      *orchestrator.Dispatcher
	statsCollector  *metrics.Collector
	httpServer      *rest.Server
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(conf config.Config) (*Engine, error) {
	e := &Engine{Config: conf}
	setup := []func() error{
		e.setupStorage,
		e.setupRegistry,
		e.setupRecorder,
		e.setupExecutor,
		e.setupApproval,
		e.setupOrchestrator,
		e.setupMetrics,
		e.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) setupStorage() error {
	switch e.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		e.storage = redis.NewStorage(redis.Config{
			Addrs:     e.Config.RedisConfig.Addrs,
			Namespace: e.Config.RedisConfig.Namespace,
			Password:  e.Config.RedisConfig.Password,
			PoolSize:  e.Config.RedisConfig.PoolSize,
		})
	default:
		e.storage = inmem.NewStorage()
	}
	e.metadataStorage = metadata.NewCachedStorage(e.storage.Metadata())
	return nil
}

func (e *Engine) setupRegistry() error {
	invoker := handler.NewLocalInvoker()
	e.registry = handler.NewRegistry(
		handler.NewLlmHandler(invoker),
		handler.NewToolHandler(invoker),
		handler.NewScriptHandler(),
		handler.NewTransformHandler(),
		handler.NewNoopHandler(),
	)
	return nil
}

func (e *Engine) setupRecorder() error {
	if e.Config.AuditFile != "" {
		collector, err := steplog.NewLogFileCollector(e.Config.AuditFile)
		if err != nil {
			return err
		}
		e.collector = collector
	} else {
		e.collector = steplog.NoopCollector{}
	}
	e.recorder = steplog.NewRecorder(e.storage.StepLogs(), e.collector)
	return nil
}

func (e *Engine) setupExecutor() error {
	e.executor = executor.NewFlowExecutor(e.storage, e.metadataStorage, e.recorder, e.registry, e.Config, &e.wg)
	return nil
}

func (e *Engine) setupApproval() error {
	e.gate = approval.NewGate(e.storage, e.Config.ApprovalTTL)
	e.gate.SetController(e.executor)
	e.executor.SetApprovalGate(e.gate)
	e.sweeper = approval.NewSweeper(e.gate, e.Config.SweepInterval, &e.wg)
	return nil
}

func (e *Engine) setupOrchestrator() error {
	e.orchestrator = orchestrator.New(e.storage, e.metadataStorage, e.executor, e.Config)
	e.dispatcher = orchestrator.NewDispatcher(e.orchestrator, e.Config.DispatchInterval, &e.wg)
	return nil
}

func (e *Engine) setupMetrics() error {
	e.statsCollector = metrics.NewCollector(e.storage.Executions())
	return metrics.RegisterViews()
}

func (e *Engine) setupHttpServer() error {
	var err error
	metadataService := metadata.NewService(e.metadataStorage, e.registry)
	e.httpServer, err = rest.NewServer(e.Config.HttpPort, e.orchestrator, e.gate, metadataService, e.recorder, e.statsCollector)
	return err
}

func (e *Engine) Start() error {
	e.executor.Start()
	if recovered, err := e.executor.Recover(context.Background()); err != nil {
		logger.Error("error recovering in flight executions", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered in flight executions", zap.Int("count", recovered))
	}
	e.dispatcher.Start()
	e.sweeper.Start()
	go func() {
		if err := e.httpServer.Start(); err != nil {
			logger.Error("http server stopped: " + err.Error())
		}
	}()
	return nil
}

func (e *Engine) Shutdown() error {
	e.shutdownLock.Lock()
	defer e.shutdownLock.Unlock()
	if e.shutdown {
		return nil
	}
	e.shutdown = true

	shutdown := []func() error{
		e.httpServer.Stop,
		func() error { e.sweeper.Stop(); return nil },
		func() error { e.dispatcher.Stop(); return nil },
		func() error { e.executor.Stop(); return nil },
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown")
	e.wg.Wait()
	if closer, ok := e.collector.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return nil
}
