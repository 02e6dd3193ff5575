package main

import (
	"context"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/repoagent/agentloop"
	"github.com/martinemde/repoagent/observability"
	"github.com/martinemde/repoagent/repostore"
	"github.com/martinemde/repoagent/server"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Addr    string   `help:"Listen address. Overrides the config file."`
	Load    []string `help:"Load a directory into the repository store before serving, as repo-id=dir." placeholder:"ID=DIR"`
	Metrics bool     `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:""`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	client, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := openPersistence(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	for _, spec := range c.Load {
		repoID, dir, err := splitLoad(spec)
		if err != nil {
			return err
		}
		n, err := repostore.LoadDir(ctx, repo, repoID, dir)
		if err != nil {
			return err
		}
		logger.Info("repository loaded", "repo_id", repoID, "dir", dir, "files", n)
	}

	sections, err := baseSections(cfg)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if c.Metrics {
		metrics = observability.NewMetrics()
	}

	runner := agentloop.NewRunner(agentloop.Deps{
		LLM:          client,
		Repo:         repo,
		Store:        store,
		Logger:       logger,
		Metrics:      metrics,
		Sections:     sections,
		DefaultModel: cfg.Agent.DefaultModel,
	}, loopConfig(cfg), agentloop.WithRetention(cfg.Agent.EventRetention))

	srv := server.New(runner, server.WithLogger(logger), server.WithMetrics(metrics))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("stopping running sessions")
		runner.Close()
		return nil
	})
	return g.Wait()
}
