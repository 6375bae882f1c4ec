package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/agents"
	"github.com/c360studio/legion/comms"
	"github.com/c360studio/legion/config"
	"github.com/c360studio/legion/inbox"
	"github.com/c360studio/legion/metric"
	"github.com/c360studio/legion/natsbridge"
	"github.com/c360studio/legion/source/web"
	"github.com/c360studio/legion/state"
	"github.com/c360studio/legion/storage"
	"github.com/c360studio/legion/stream"
	"github.com/c360studio/legion/workflow"
)

// App wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics      *metric.Metrics
	hub          *stream.Hub
	reconciler   *state.Reconciler
	comms        *comms.Manager
	orchestrator *workflow.Orchestrator

	// NATS
	nats   *natsbridge.Conn
	ingest *natsbridge.Ingest
	store  *storage.Store

	inbox *inbox.Watcher
}

// NewApp builds the in-process components. NATS and the inbox are started
// by Start.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.New(),
		hub:     stream.NewHub(cfg.Server.SubscriberBuffer, logger),
	}

	notifiers := state.MultiNotifier{a.hub}
	if cfg.NATS.Enabled {
		if err := a.startNATS(ctx); err != nil {
			return nil, fmt.Errorf("start NATS: %w", err)
		}
		notifiers = append(notifiers, natsbridge.NewPublisher(a.nats.NC, cfg.NATS.SubjectPrefix, logger))
	}

	a.reconciler = state.NewReconciler(notifiers, logger,
		state.WithLimits(state.Limits{Comms: cfg.Limits.Comms, Operations: cfg.Limits.Operations}),
		state.WithRecorder(a.metrics))

	commsOpts := []comms.Option{
		comms.WithHistoryCap(cfg.Limits.PairHistory),
		comms.WithContextWindow(cfg.Limits.ContextWindow),
	}
	if cfg.Agents.RoutesFile != "" {
		router, err := comms.LoadRoutes(cfg.Agents.RoutesFile)
		if err != nil {
			a.Shutdown()
			return nil, err
		}
		commsOpts = append(commsOpts, comms.WithRouter(router))
	}
	a.comms = comms.NewManager(a.reconciler, logger, commsOpts...)

	team, err := buildTeam(cfg, a.reconciler, logger)
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	a.orchestrator = workflow.NewOrchestrator(a.comms, a.reconciler, logger, workflow.WithMetrics(a.metrics))
	for _, ag := range team {
		a.orchestrator.RegisterAgent(ag)
	}

	if a.nats != nil {
		if a.ingest, err = natsbridge.StartIngest(a.nats.NC, cfg.NATS.SubjectPrefix, a.reconciler, logger); err != nil {
			a.Shutdown()
			return nil, err
		}
	}
	return a, nil
}

func buildTeam(cfg *config.Config, applier state.Applier, logger *slog.Logger) ([]agent.Agent, error) {
	var rules *agents.RuleSet
	if cfg.Agents.RulesFile != "" {
		var err error
		if rules, err = agents.LoadRules(cfg.Agents.RulesFile); err != nil {
			return nil, fmt.Errorf("load clarification rules: %w", err)
		}
	}

	fetcher := web.NewFetcher(web.FetcherConfig{
		Timeout:        cfg.Agents.FetchTimeout,
		UserAgent:      cfg.Agents.UserAgent,
		MaxContentSize: cfg.Agents.MaxContentSize,
		AllowPrivate:   cfg.Agents.AllowPrivate,
		Retry:          web.DefaultRetryConfig(),
	}, logger)

	return agents.Team(agents.TeamConfig{
		Researcher: agents.ResearcherConfig{
			Fetcher:                 fetcher,
			ClarifyOnMissingContext: cfg.Agents.ClarifyOnMissingContext,
			MaxSources:              cfg.Agents.MaxSources,
		},
		Writer: agents.WriterConfig{
			OutputDir: cfg.Agents.OutputDir,
			Formats:   cfg.Agents.Formats,
		},
		Rules: rules,
	}, applier, logger), nil
}

func (a *App) startNATS(ctx context.Context) error {
	conn, err := natsbridge.Connect(ctx, natsbridge.Config{
		URL:       a.cfg.NATS.URL,
		Embedded:  a.cfg.NATS.Embedded,
		JetStream: a.cfg.NATS.Archive,
		StoreDir:  a.cfg.NATS.StoreDir,
	}, a.logger)
	if err != nil {
		return err
	}
	a.nats = conn
	a.logger.Info("NATS bridge ready", "url", conn.ClientURL(), "prefix", a.cfg.NATS.SubjectPrefix)

	if !a.cfg.NATS.Archive {
		return nil
	}
	js, err := jetstream.New(conn.NC)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if a.store, err = storage.NewStore(ctx, js, ""); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	return nil
}

// Start starts the mission inbox when enabled.
func (a *App) Start(ctx context.Context) error {
	if !a.cfg.Inbox.Enabled {
		return nil
	}
	w, err := inbox.NewWatcher(inbox.Config{
		Dir:      a.cfg.Inbox.Dir,
		Patterns: a.cfg.Inbox.Patterns,
		Debounce: a.cfg.Inbox.Debounce,
	}, func(ctx context.Context, _ string, m *inbox.Mission) error {
		_, err := a.StartMission(ctx, m.ChatID, m.Context)
		return err
	}, a.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.inbox = w
	return nil
}

// StartMission fills in default questions when the mission has none, starts
// it in the background and archives the outcome when it finishes.
func (a *App) StartMission(ctx context.Context, chatID string, mc *workflow.MissionContext) (*workflow.Run, error) {
	withDefaultQuestions(mc)
	run, err := a.orchestrator.Start(ctx, chatID, mc)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Mission started", "chat_id", chatID, "workflow_id", run.WorkflowID, "questions", len(mc.Questions))

	go func() {
		<-run.Done()
		if _, err := run.Result(); err != nil {
			a.logger.Warn("Mission failed", "chat_id", chatID, "workflow_id", run.WorkflowID, "error", err)
		}
		a.archive(context.WithoutCancel(ctx), run.WorkflowID)
	}()
	return run, nil
}

// RunMission runs a mission to completion.
func (a *App) RunMission(ctx context.Context, chatID string, mc *workflow.MissionContext) (*workflow.Result, *workflow.Instance, error) {
	withDefaultQuestions(mc)
	result, err := a.orchestrator.Execute(ctx, chatID, mc)

	var w *workflow.Instance
	if result != nil {
		w, _ = a.orchestrator.Workflow(result.WorkflowID)
	} else if runs := a.orchestrator.Workflows(chatID); len(runs) > 0 {
		w = runs[len(runs)-1]
	}
	if w != nil {
		a.archive(ctx, w.ID)
	}
	return result, w, err
}

func (a *App) archive(ctx context.Context, workflowID string) {
	if a.store == nil {
		return
	}
	w, ok := a.orchestrator.Workflow(workflowID)
	if !ok {
		return
	}
	if _, err := a.store.SaveWorkflow(ctx, w); err != nil {
		a.logger.Warn("Failed to archive workflow", "workflow_id", workflowID, "error", err)
	}
}

// withDefaultQuestions plans the standard question set for missions that
// arrive without any.
func withDefaultQuestions(mc *workflow.MissionContext) {
	if len(mc.Questions) > 0 {
		return
	}
	for _, q := range agents.DefaultQuestions(mc.ResearchFocus) {
		mc.Questions = append(mc.Questions, &workflow.ResearchQuestion{
			ID:       q.ID,
			Question: q.Question,
			Category: q.Category,
			Priority: q.Priority,
			Context:  q.Context,
		})
	}
	mc.Normalize()
}

// Shutdown stops all components.
func (a *App) Shutdown() {
	if a.inbox != nil {
		if err := a.inbox.Stop(); err != nil {
			a.logger.Debug("Inbox stop failed", "error", err)
		}
	}
	if a.ingest != nil {
		if err := a.ingest.Close(); err != nil {
			a.logger.Debug("Ingest close failed", "error", err)
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
}

// waitForActive blocks until no workflow is running or the timeout passes.
func (a *App) waitForActive(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(a.orchestrator.ListActiveWorkflows()) > 0 {
		if time.Now().After(deadline) {
			ids := make([]string, 0)
			for _, w := range a.orchestrator.ListActiveWorkflows() {
				ids = append(ids, w.ID)
			}
			return errors.New("workflows still running: " + strings.Join(ids, ", "))
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
