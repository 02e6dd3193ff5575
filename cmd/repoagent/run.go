package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/repoagent/agentloop"
	"github.com/martinemde/repoagent/persistence"
	"github.com/martinemde/repoagent/repostore"
)

// RunCmd runs a single task against a local directory. The directory is
// loaded into an in-memory repository; nothing on disk changes unless
// --apply is given.
type RunCmd struct {
	Task               string `short:"t" required:"" help:"Task description."`
	Dir                string `short:"d" required:"" type:"existingdir" help:"Directory to load as the repository."`
	RepoID             string `default:"local" help:"Repository identifier used for the session."`
	Model              string `short:"m" help:"Model name, optionally provider-prefixed. Defaults to the configured model."`
	Mode               string `help:"Iteration mode (single_task, iterative_loop, continuous_improvement)." default:"single_task"`
	MaxIterations      int    `help:"Iteration limit. Zero uses the mode default."`
	AutoCommit         bool   `help:"Let the agent finish without asking for a commit."`
	ProjectExploration bool   `help:"Include a directory summary in the project context."`
	Apply              bool   `help:"Write staged changes back into --dir when the session ends."`
	Stream             bool   `help:"Print model output as it streams."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}

	repo := repostore.NewMemoryStore()
	n, err := repostore.LoadDir(ctx, repo, c.RepoID, c.Dir)
	if err != nil {
		return err
	}
	logger.Info("repository loaded", "repo_id", c.RepoID, "dir", c.Dir, "files", n)

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

	sections, err := baseSections(cfg)
	if err != nil {
		return err
	}

	sess, err := agentloop.NewSession(ctx, agentloop.Deps{
		LLM:          client,
		Repo:         repo,
		Store:        store,
		Logger:       logger,
		Sections:     sections,
		DefaultModel: cfg.Agent.DefaultModel,
	}, agentloop.TaskRequest{
		RepoID:             c.RepoID,
		TaskDescription:    c.Task,
		Mode:               c.Mode,
		AutoCommit:         c.AutoCommit,
		MaxIterations:      c.MaxIterations,
		Model:              c.Model,
		ProjectExploration: c.ProjectExploration,
	}, loopConfig(cfg))
	if err != nil {
		return err
	}

	var rec persistence.Session
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printEvents(os.Stdout, sess.Events(), c.Stream)
		return nil
	})
	g.Go(func() error {
		var err error
		rec, err = sess.Run(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	staged, err := repo.ListStaged(ctx, c.RepoID)
	if err != nil {
		return err
	}
	fmt.Printf("\nsession %s: %s after %d iterations\n", rec.ID, rec.Status, rec.CurrentIteration)
	for _, ch := range staged {
		fmt.Printf("  %-6s %s\n", ch.Kind, ch.Path)
	}

	if c.Apply && len(staged) > 0 {
		written, err := repostore.WriteStaged(context.WithoutCancel(ctx), repo, c.RepoID, c.Dir)
		if err != nil {
			return fmt.Errorf("apply staged changes: %w", err)
		}
		fmt.Printf("applied %d changes to %s\n", len(written), c.Dir)
	}

	if rec.Status == persistence.StatusFailed {
		return fmt.Errorf("session failed: %s", rec.Error)
	}
	return nil
}

// printEvents renders session events as they arrive until the stream closes.
func printEvents(w io.Writer, events <-chan agentloop.SessionEvent, stream bool) {
	streaming := false
	for ev := range events {
		if streaming && ev.Kind != agentloop.EventLLMStreaming {
			fmt.Fprintln(w)
			streaming = false
		}
		switch ev.Kind {
		case agentloop.EventLLMStreaming:
			if stream {
				fmt.Fprint(w, ev.Data["delta"])
				streaming = true
			}
		case agentloop.EventOperationComplete:
			fmt.Fprintf(w, "[%d] %v\n", ev.Iteration, ev.Data["summary"])
		case agentloop.EventIterationComplete:
			fmt.Fprintf(w, "[%d] iteration complete: %v\n", ev.Iteration, ev.Data["status"])
		case agentloop.EventLoopDetection, agentloop.EventWarning:
			fmt.Fprintf(w, "[%d] %s: %v\n", ev.Iteration, ev.Kind, ev.Data["message"])
		case agentloop.EventError:
			fmt.Fprintf(w, "[%d] error: %v\n", ev.Iteration, ev.Data["error"])
		}
	}
}

// splitLoad parses a repo-id=dir argument.
func splitLoad(spec string) (repoID, dir string, err error) {
	repoID, dir, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(repoID) == "" || strings.TrimSpace(dir) == "" {
		return "", "", fmt.Errorf("invalid --load %q: expected repo-id=dir", spec)
	}
	return strings.TrimSpace(repoID), strings.TrimSpace(dir), nil
}
