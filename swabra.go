// Package swabra wires the workspace cleaner services of a CI server: the
// handle.exe tool provisioning, the clean checkout causality records and the
// collector removing stale ones, behind one HTTP API.
package swabra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/causality"
	"github.com/loykin/swabra/internal/cleanup"
	cfg "github.com/loykin/swabra/internal/config"
	"github.com/loykin/swabra/internal/events"
	"github.com/loykin/swabra/internal/handle"
	"github.com/loykin/swabra/internal/history"
	hfactory "github.com/loykin/swabra/internal/history/factory"
	"github.com/loykin/swabra/internal/logger"
	"github.com/loykin/swabra/internal/metrics"
	"github.com/loykin/swabra/internal/properties"
	iapi "github.com/loykin/swabra/internal/server"
	"github.com/loykin/swabra/internal/store"
	sfactory "github.com/loykin/swabra/internal/store/factory"
	itls "github.com/loykin/swabra/internal/tls"
	"github.com/loykin/swabra/internal/tools"
	"github.com/loykin/swabra/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
)

// Re-export the types embedders need.

type Config = cfg.FileConfig

type BuildType = build.BuildType

type Run = build.Run

type CleanupReport = cleanup.Report

type InstalledTool = tools.Installed

// Service owns every component built from one configuration.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	closers []io.Closer

	store    store.Store
	sink     history.Sink
	registry *build.MemoryRegistry
	props    properties.Properties
	watcher  *causality.Watcher
	bus      *events.Bus
	runner   *cleanup.Runner
	tools    *tools.Manager
	resolver *usage.Resolver
}

// LoadConfig reads a TOML configuration file with environment overrides.
func LoadConfig(path string) (*Config, *viper.Viper, error) { return cfg.Load(path) }

// OpenFile loads path and opens a Service from it. Properties follow the file
// as it changes on disk.
func OpenFile(ctx context.Context, path string) (*Service, error) {
	c, v, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, c, v)
}

// Open builds a Service. v may be nil, in which case properties are fixed to
// c.Properties.
func Open(ctx context.Context, c *Config, v *viper.Viper) (*Service, error) {
	if c == nil {
		d := cfg.Default()
		c = &d
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: c}

	log, logCloser, err := logger.New(c.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	s.logger = log
	s.closers = append(s.closers, logCloser)

	if err := s.openStorage(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.registry = build.NewMemoryRegistry(c.BuildTypes...)
	if v != nil {
		vp := properties.NewViper(v, "")
		if v.ConfigFileUsed() != "" {
			if err := vp.Watch(log.With("component", "properties")); err != nil {
				_ = s.Close()
				return nil, err
			}
			s.closers = append(s.closers, vp)
		}
		s.props = vp
	} else {
		s.props = properties.NewMap(c.Properties)
	}

	wopts := []causality.Option{
		causality.WithResponsibility(causality.StaticResponsibility(c.Node.ManageProjectConfigs)),
		causality.WithProperties(s.props),
		causality.WithLogger(log.With("component", "causality")),
	}
	if s.sink != nil {
		wopts = append(wopts, causality.WithHistory(s.sink))
	}
	s.watcher = causality.NewWatcher(s.store, s.registry, wopts...)

	s.bus = events.NewBus(log.With("component", "events"))
	s.bus.OnBuildFinished("causality", s.watcher.OnBuildFinished)

	s.runner = cleanup.NewRunner(log.With("component", "cleanup"))
	s.runner.Register("causality", s.watcher)

	trust := itls.FileTrustStore{
		Files:         c.Tools.TrustFiles,
		Dirs:          c.Tools.TrustDirs,
		IncludeSystem: c.Tools.IncludeSystemRoots,
	}
	toolLog := log.With("component", "tools")
	s.tools = tools.NewManager(c.Tools.Dir, handle.NewProvider(nil, toolLog), trust, toolLog)
	s.resolver = usage.NewResolver(s.tools, s.props, log.With("component", "usage"))

	return s, nil
}

func (s *Service) openStorage(ctx context.Context) error {
	st, err := sfactory.NewFromDSN(s.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st
	s.closers = append(s.closers, st)
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("store schema: %w", err)
	}

	if s.cfg.History.DSN == "" {
		return nil
	}
	sink, err := hfactory.NewSinkFromDSN(s.cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	s.sink = sink
	if c, ok := sink.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	return nil
}

func (s *Service) Logger() *slog.Logger              { return s.logger }
func (s *Service) Watcher() *causality.Watcher       { return s.watcher }
func (s *Service) Registry() *build.MemoryRegistry   { return s.registry }
func (s *Service) Bus() *events.Bus                  { return s.bus }
func (s *Service) Cleanup() *cleanup.Runner          { return s.runner }
func (s *Service) Tools() *tools.Manager             { return s.tools }
func (s *Service) Resolver() *usage.Resolver         { return s.resolver }
func (s *Service) Properties() properties.Properties { return s.props }

// RegisterMetrics registers the service collectors on r. Serve registers them
// on the default registry.
func (s *Service) RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Handler returns the HTTP API, with /metrics served from the default registry.
func (s *Service) Handler() http.Handler {
	return iapi.NewRouter(iapi.Deps{
		Causes:       s.watcher,
		Events:       s.bus,
		Requirements: s.resolver,
		Tools:        s.tools,
		Cleanup:      s.runner,
		BuildTypes:   s.registry,
		Metrics:      metrics.Handler(),
		Logger:       s.logger.With("component", "api"),
	}, s.cfg.Server.BasePath).Handler()
}

// Serve registers metrics, starts the cleanup schedule and serves the API
// until ctx is done. A running cleanup cycle is interrupted on the way out.
func (s *Service) Serve(ctx context.Context) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if s.cfg.Cleanup.Schedule != "" {
		if err := s.runner.Start(s.cfg.Cleanup.Schedule); err != nil {
			return err
		}
		defer s.runner.Stop()
	}

	tlsCfg, err := itls.SetupTLS(&s.cfg.Server.TLS)
	if err != nil {
		return err
	}
	srv := iapi.NewServer(s.cfg.Server.Listen, s.Handler(), tlsCfg)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", srv.Addr, "tls", tlsCfg != nil, "base_path", s.cfg.Server.BasePath)
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.runner.Interrupt()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases the store, the history sink and the log file.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
