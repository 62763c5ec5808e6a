// consumes provisioning requests from Kafka and runs the plan on the
// requested machine, one request at a time

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/internal/persistence"
	"github.com/andrej220/provchain/internal/serverutil"
	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/andrej220/provchain/pkg/config/configstore"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/andrej220/provchain/pkg/kafkautil"
	"github.com/andrej220/provchain/pkg/metrics"
	reportstore "github.com/andrej220/provchain/pkg/persistence"
	dm "github.com/andrej220/provchain/pkg/shared-models"
	"github.com/andrej220/provchain/pkg/steps"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const readRetryDelay = time.Second

type reportSaver interface {
	Save(ctx context.Context, machine string, rep *chain.Report) error
}

type requestReader interface {
	Read(ctx context.Context) (dm.Request, error)
}

type provisioner struct {
	mu       sync.RWMutex
	cfg      *config.Settings
	runner   executor.Runner
	registry *steps.Registry
	reports  reportSaver
	observer chain.Observer
	logger   lg.Logger
}

// handle runs the plan for one request and stores its report.
func (p *provisioner) handle(ctx context.Context, req dm.Request) (*chain.Report, error) {
	logger := p.logger.With(lg.String("machine", req.Machine), lg.String("run_id", req.RunID.String()))

	// Requests read from the topic never passed the HTTP validation.
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	cfg := p.settings()
	m, err := cfg.Machines.Lookup(req.Machine)
	if err != nil {
		return nil, err
	}

	buildDir := cfg.BuildDir
	if req.BuildDir != "" {
		buildDir = req.BuildDir
	}
	opts := []chain.Option{chain.WithLogger(logger)}
	if p.observer != nil {
		opts = append(opts, chain.WithObserver(p.observer))
	}
	c, err := cfg.Plan.Build(p.registry, steps.Deps{Runner: p.runner, BuildDir: buildDir, Logger: logger}, opts...)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	env := chain.NewEnv(m)
	if req.RunID != uuid.Nil {
		env.SetRunID(req.RunID)
	}

	rep, runErr := c.Run(ctx, env)
	if err := p.reports.Save(ctx, m.Name, rep); err != nil {
		logger.Error("failed to save report", lg.Err(err))
	}
	return rep, runErr
}

func (p *provisioner) settings() *config.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// reload swaps in new settings. Runs in progress keep the old ones; SSH
// tuning changes need a restart.
func (p *provisioner) reload(store configstore.ConfigStore) {
	cfg, err := loadConfig(store)
	if err != nil {
		p.logger.Error("configuration reload failed, keeping current settings", lg.Err(err))
		return
	}
	p.mu.Lock()
	p.cfg = &cfg.Settings
	p.mu.Unlock()
	p.logger.Info("configuration reloaded", lg.Int("machines", len(cfg.Machines)), lg.String("plan", cfg.Plan.Name))
}

// consume reads requests until ctx is done.
func (p *provisioner) consume(ctx context.Context, reader requestReader) error {
	for {
		req, err := reader.Read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var decodeErr *kafkautil.DecodeError
			if errors.As(err, &decodeErr) {
				p.logger.Warn("skipping malformed request", lg.Err(err))
				continue
			}
			p.logger.Error("failed to read request", lg.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}

		p.logger.Debug("received request", lg.Any("request", req))
		rep, err := p.handle(ctx, req)
		if err != nil {
			p.logger.Error("provisioning failed", lg.String("machine", req.Machine), lg.Err(err))
			continue
		}
		p.logger.Info("provisioning finished",
			lg.String("machine", req.Machine),
			lg.String("state", string(rep.State)),
			lg.String("reason", string(rep.Reason)),
			lg.Duration("elapsed", rep.Elapsed()))
	}
}

func openReports(ctx context.Context, cfg *ProvisionerConfig, logger lg.Logger) (reportSaver, func(), error) {
	if cfg.Database.MongoURI == "" {
		logger.Info("no MongoDB configured, writing reports to files", lg.String("dir", cfg.ReportDir))
		return persistence.ReportFiles{Dir: cfg.ReportDir}, func() {}, nil
	}
	store, disconnect, err := reportstore.Connect(ctx, cfg.Database.MongoURI, cfg.Database.DBName, cfg.Database.Collection,
		reportstore.Options{Overwrite: true})
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := disconnect(context.Background()); err != nil {
			logger.Error("failed to disconnect from MongoDB", lg.Err(err))
		}
	}, nil
}

func main() {
	logCfg := lg.NewConfigFromFlags(SERVICENAME)
	logger := lg.New(logCfg)
	defer logger.Sync()

	store, err := openConfigStore(os.Getenv)
	if err != nil {
		logger.Error("failed to open configuration", lg.Err(err))
		os.Exit(1)
	}
	cfg, err := loadConfig(store)
	if err != nil {
		logger.Error("failed to load configuration", lg.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, closeReports, err := openReports(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open report store", lg.Err(err))
		os.Exit(1)
	}
	defer closeReports()

	runner := cfg.NewRunner(logger)
	defer runner.Close()

	collector := metrics.NewCollector()
	p := &provisioner{
		cfg:      &cfg.Settings,
		runner:   runner,
		registry: steps.NewRegistry(),
		reports:  reports,
		observer: collector,
		logger:   logger,
	}

	if err := store.Watch(func() { p.reload(store) }); err != nil {
		logger.Warn("configuration hot reload disabled", lg.Err(err))
	}

	cons, err := kafkautil.NewConsumer[dm.Request](cfg.Kafka)
	if err != nil {
		logger.Error("failed to create consumer", lg.Err(err))
		os.Exit(1)
	}
	defer cons.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srvCfg := serverutil.DefaultServerConfig()
	srvCfg.Port = cfg.Server.Port
	srvCfg.Logger = logger

	logger.Info("starting service",
		lg.String("port", cfg.Server.Port),
		lg.Strings("brokers", cfg.Kafka.Brokers),
		lg.String("topic", cfg.Kafka.Topic))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.consume(gctx, cons) })
	g.Go(func() error { return serverutil.Run(gctx, mux, srvCfg) })
	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", lg.Err(err))
		os.Exit(1)
	}
	logger.Info("service stopped")
}
