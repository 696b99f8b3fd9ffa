package cli

import (
	"context"
	"errors"
	"io"

	"github.com/sheikh-saqib/banking-ledger/internal/audit"
	"github.com/sheikh-saqib/banking-ledger/internal/config"
	"github.com/sheikh-saqib/banking-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/banking-ledger/internal/events/redis"
	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/ledger"
	"github.com/sheikh-saqib/banking-ledger/internal/logging"
	"github.com/sheikh-saqib/banking-ledger/internal/metrics"
	"github.com/sheikh-saqib/banking-ledger/internal/storage"
)

// App is the wired ledger with everything it reports to.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Backend *storage.Backend
	Auditor *audit.Auditor
	Metrics *metrics.MetricsCollector
	Ledger  *ledger.Ledger

	closers []io.Closer
}

// NewApp opens the store and the audit sinks named in cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Backend: backend,
		Metrics: metrics.NewMetricsCollector(logger),
	}

	sinks, err := app.openSinks(ctx)
	if err != nil {
		_ = app.closeAll()
		_ = backend.Close()
		return nil, err
	}

	app.Auditor = audit.NewAuditor(logger, sinks,
		audit.WithQueueSize(cfg.AuditQueueSize),
		audit.WithDropHook(app.Metrics.AuditDropped),
	)
	app.Ledger = ledger.NewLedger(backend.Ledger,
		ledger.WithLogger(logger),
		ledger.WithAuditor(app.Auditor),
		ledger.WithMetrics(app.Metrics),
		ledger.WithAccountCache(cfg.AccountCacheTTL),
	)
	return app, nil
}

func (a *App) openSinks(ctx context.Context) ([]interfaces.AuditSink, error) {
	var sinks []interfaces.AuditSink

	if a.Config.AuditLogFile != "" {
		logSink, err := audit.NewLogSink(a.Config.AuditLogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, logSink)
		a.closers = append(a.closers, logSink)
	}

	if a.Backend.AuditSink != nil {
		sinks = append(sinks, a.Backend.AuditSink)
	}

	if a.Config.KafkaEnabled() {
		publisher := kafka.NewPublisher(a.Config.KafkaBrokers, a.Config.KafkaTopic)
		sinks = append(sinks, publisher)
		a.closers = append(a.closers, publisher)
	}

	if a.Config.RedisAddr != "" {
		stream, err := redis.NewStreamSink(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisStream)
		if err != nil {
			// audit is best effort; the ledger runs without this sink
			a.Logger.WithError(err).Warn("redis audit stream disabled")
		} else {
			sinks = append(sinks, stream)
			a.closers = append(a.closers, stream)
		}
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.Logger.WithField("sinks", names).Debug("audit sinks ready")
	return sinks, nil
}

// Close drains the auditor, then closes the sinks and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Auditor != nil {
		errs = append(errs, a.Auditor.Close(ctx))
	}
	errs = append(errs, a.closeAll())
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
