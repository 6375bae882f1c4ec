// Package agents provides the reference planner, researcher, analyst and
// writer. They are deterministic: no model calls, every answer is derived
// from the task parameters, so a full mission runs offline.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// handlerFunc performs the work for one task type.
type handlerFunc func(ctx context.Context, task *agent.Task) (*agent.Response, error)

// ClarifyFunc inspects a task before any work starts and returns the
// questions the agent needs answered, or nil to proceed.
type ClarifyFunc func(task *agent.Task) []string

// Base carries what every role agent shares: task dispatch by type,
// operation events for observers and conversion of failures and panics into
// status=error responses.
type Base struct {
	name        string
	personality string
	applier     state.Applier
	logger      *slog.Logger
	handlers    map[agent.TaskType]handlerFunc
	labels      map[agent.TaskType]string

	// ShouldClarify, when set, runs before the handler. It is skipped once
	// the task carries clarification_provided.
	ShouldClarify ClarifyFunc
}

func newBase(name, personality string, applier state.Applier, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		name:        name,
		personality: personality,
		applier:     applier,
		logger:      logger.With("agent", name),
		handlers:    make(map[agent.TaskType]handlerFunc),
		labels:      make(map[agent.TaskType]string),
	}
}

// Name returns the agent's role name.
func (b *Base) Name() string { return b.name }

// Personality returns the agent's one-line description.
func (b *Base) Personality() string { return b.personality }

// handle registers fn for taskType. label is the operation type shown to
// observers ("planning", "searching", ...).
func (b *Base) handle(taskType agent.TaskType, label string, fn handlerFunc) {
	b.handlers[taskType] = fn
	b.labels[taskType] = label
}

// Accepts lists the registered task types.
func (b *Base) Accepts() []agent.TaskType {
	out := make([]agent.TaskType, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ReceiveTask runs the handler for the task's type. Handler errors and panics
// become status=error responses; the returned error is always nil.
func (b *Base) ReceiveTask(ctx context.Context, task *agent.Task) (resp *agent.Response, err error) {
	fn, ok := b.handlers[task.Type]
	if !ok {
		return agent.Failed(task.ID, fmt.Sprintf("%s does not handle task type %s", b.name, task.Type)), nil
	}

	if b.ShouldClarify != nil && !task.Params.Bool("clarification_provided") {
		if questions := b.ShouldClarify(task); len(questions) > 0 {
			b.logger.Info("Requesting clarification", "task_id", task.ID, "questions", len(questions))
			return agent.NeedsClarification(task.ID, questions...), nil
		}
	}

	opID := b.name + "-" + task.ID
	b.emit(ctx, task.ChatID, state.AgentOperation{
		OperationID: opID,
		Agent:       b.name,
		Type:        b.labels[task.Type],
		Title:       fmt.Sprintf("%s: %s", b.name, task.Type),
		Status:      "active",
		Progress:    10,
	})

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Task handler panicked",
				"task_id", task.ID,
				"task_type", task.Type,
				"panic", r,
				"stack", string(debug.Stack()))
			msg := fmt.Sprintf("%s panicked handling %s: %v", b.name, task.Type, r)
			b.emit(ctx, task.ChatID, state.OperationUpdated{OperationID: opID, Status: "error", Details: msg})
			resp, err = agent.Failed(task.ID, msg), nil
		}
	}()

	resp, err = fn(ctx, task)
	if err != nil {
		b.logger.Warn("Task failed", "task_id", task.ID, "task_type", task.Type, "error", err)
		b.emit(ctx, task.ChatID, state.OperationUpdated{OperationID: opID, Status: "error", Details: err.Error()})
		return agent.Failed(task.ID, err.Error()), nil
	}

	b.emit(ctx, task.ChatID, state.OperationUpdated{
		OperationID: opID,
		Status:      "complete",
		Details:     resp.Message,
		Progress:    100,
	})
	return resp, nil
}

func (b *Base) emit(ctx context.Context, chatID string, ev state.Event) {
	if b.applier == nil || chatID == "" {
		return
	}
	if err := b.applier.Apply(ctx, chatID, ev); err != nil {
		b.logger.Warn("Failed to apply event", "kind", ev.Kind(), "chat_id", chatID, "error", err)
	}
}
