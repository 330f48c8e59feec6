package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"autoloom/internal/config"
	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/observability"
	"autoloom/internal/server"
	"autoloom/internal/session"
	"autoloom/internal/status"
	"autoloom/internal/store"
)

// Container holds the process-wide collaborators shared by every command.
type Container struct {
	Config  config.Config
	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
	// Store is nil when persistence is disabled.
	Store *store.Store

	closers []func(context.Context) error
}

func buildContainer(v *viper.Viper, configFile string) (*Container, error) {
	var opts []config.Option
	opts = append(opts, config.WithViper(v))
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg}
	closeLog, err := logging.Configure(logging.Options{Path: cfg.Logging.File, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return closeLog() })
	c.Logger = logging.NewComponentLogger("autoloom")

	metrics, err := observability.NewMetricsCollector(cfg.Observability.Metrics, logging.NewComponentLogger("metrics"))
	if err != nil {
		_ = c.Cleanup()
		return nil, err
	}
	c.Metrics = metrics
	c.closers = append(c.closers, metrics.Shutdown)

	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		c.Logger.Warn("Tracing disabled: %v", err)
		tracer = observability.NoopTracer()
	}
	c.Tracer = tracer
	c.closers = append(c.closers, tracer.Shutdown)

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			c.Logger.Warn("History store disabled: %v", err)
		} else {
			c.Store = st
			c.closers = append(c.closers, func(context.Context) error { return st.Close() })
		}
	}
	return c, nil
}

// Cleanup releases resources in reverse order of acquisition.
func (c *Container) Cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) deps(component string) llm.Deps {
	return llm.Deps{
		Logger:  logging.NewComponentLogger(component),
		Metrics: c.Metrics,
		Tracer:  c.Tracer,
	}
}

// sessionParams are supplied by the frontend.
type sessionParams struct {
	Prompt string
	// ResumeID continues a stored session instead of starting from Prompt.
	ResumeID string
	Selector session.Selector
	Status   status.Reporter
}

// NewSession wires generator, classifier, store and orchestrator for one run.
func (c *Container) NewSession(ctx context.Context, params sessionParams) (*session.Orchestrator, error) {
	cfg := c.Config
	if err := cfg.RequireCredentials(cfg.Generation.Model, cfg.Classifier.Model); err != nil {
		return nil, err
	}

	generator, err := llm.NewGenerator(ctx, cfg, c.deps("generator"))
	if err != nil {
		return nil, err
	}
	classifier, err := llm.NewClassifierFromConfig(cfg, c.deps("classifier"))
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		SessionID: params.ResumeID,
		Prompt:    params.Prompt,
		Request: llm.BatchRequest{
			Model:       cfg.Generation.Model,
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
			TopP:        cfg.Generation.TopP,
			N:           cfg.Generation.N,
		},
		WaitTime:  cfg.Session.WaitTime,
		MaxRounds: cfg.Session.MaxRounds,
		Generator: generator,
		Scorer:    classifier,
		Selector:  params.Selector,
		Status:    params.Status,
		Logger:    logging.NewComponentLogger("session"),
		Metrics:   c.Metrics,
		Tracer:    c.Tracer,
	}

	if params.ResumeID != "" {
		if c.Store == nil {
			return nil, fmt.Errorf("cannot resume %s: history store is disabled", params.ResumeID)
		}
		history, err := c.Store.LoadHistory(ctx, params.ResumeID)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", params.ResumeID, err)
		}
		opts.History = history
	} else {
		opts.SessionID = uuid.NewString()
		if c.Store != nil {
			err := c.Store.CreateSession(ctx, store.SessionInfo{
				ID:         opts.SessionID,
				Prompt:     params.Prompt,
				Model:      cfg.Generation.Model,
				Classifier: cfg.Classifier.Model,
				CreatedAt:  time.Now(),
			})
			if err != nil {
				c.Logger.Warn("Failed to record session %s: %v", opts.SessionID, err)
			}
		}
	}
	if c.Store != nil {
		opts.Recorder = c.Store
	}

	orch, err := session.New(opts)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("Session %s started (model %s, classifier %s, n=%d)", orch.SessionID(), cfg.Generation.Model, cfg.Classifier.Model, cfg.Generation.N)
	return orch, nil
}

// startServer serves the session over HTTP when a listen address is set. The
// returned func stops it.
func (c *Container) startServer(ctx context.Context, src server.Source) func() {
	if c.Config.Server.Listen == "" {
		return func() {}
	}
	srv := server.New(server.Config{
		Listen:     c.Config.Server.Listen,
		EnableCORS: c.Config.Server.EnableCORS,
		Debug:      c.Config.Logging.Level == "debug",
	}, src, c.Metrics, logging.NewComponentLogger("server"))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			c.Logger.Error("Server stopped: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
