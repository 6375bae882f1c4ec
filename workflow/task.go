package workflow

import (
	"context"
	"fmt"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/comms"
)

// executeTask issues one task and returns its completed response. A
// needs_clarification response is resolved through the planner and the same
// task is retried exactly once. Every task issued here, including the
// clarification sub-task, ends with a terminal response.
func (o *Orchestrator) executeTask(ctx context.Context, w *Instance, to string, taskType agent.TaskType, params agent.Params) (resp *agent.Response, err error) {
	ctx, span := startStepSpan(ctx, string(taskType), to)
	defer func() { endSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := o.agent(to)
	if err != nil {
		return nil, err
	}

	task, err := o.comms.SendTask(ctx, comms.Dispatch{
		From:   agent.RoleOrchestrator,
		To:     to,
		Type:   taskType,
		Params: params,
		ChatID: w.ChatID,
	})
	if err != nil {
		return nil, err
	}
	o.metrics.TaskDispatched(to, string(taskType))

	first := o.invoke(ctx, target, task)
	switch first.Status {
	case agent.StatusCompleted:
		return o.respond(ctx, task, first)
	case agent.StatusNeedsClarification:
		if _, err := o.respond(ctx, task, first); err != nil {
			return nil, err
		}
		return o.clarifyAndRetry(ctx, w, target, task, first.Questions())
	default:
		return nil, o.reject(ctx, task, first)
	}
}

// clarifyAndRetry answers the agent's questions through the planner, merges
// the answers into the task and resubmits it under the same id.
func (o *Orchestrator) clarifyAndRetry(ctx context.Context, w *Instance, target agent.Agent, task *agent.Task, questions []string) (*agent.Response, error) {
	o.metrics.ClarificationRequested(task.ToAgent)
	o.update(func() { w.Clarifications++ })
	o.logger.Warn("Agent needs clarification",
		"workflow_id", w.ID,
		"task_id", task.ID,
		"agent", task.ToAgent,
		"questions", len(questions))

	if err := o.comms.RequestClarification(ctx, task.ID, questions, o.roles.Planner); err != nil {
		return nil, err
	}

	answers, err := o.askPlanner(ctx, w, task, questions)
	if err != nil {
		o.close(ctx, task, "clarification unavailable: "+err.Error())
		return nil, err
	}

	if err := o.comms.ProvideClarification(ctx, task.ID, o.roles.Planner, answers); err != nil {
		return nil, err
	}
	retry, err := o.comms.UpdateTaskParameters(task.ID, agent.Params{
		"clarifications":         answers,
		"clarification_provided": true,
	})
	if err != nil {
		return nil, err
	}

	second := o.invoke(ctx, target, retry)
	switch second.Status {
	case agent.StatusCompleted:
		return o.respond(ctx, retry, second)
	case agent.StatusNeedsClarification:
		if _, err := o.respond(ctx, retry, second); err != nil {
			return nil, err
		}
		msg := "still needs clarification after one clarified retry"
		o.close(ctx, retry, msg)
		return nil, &AgentError{
			Agent:   retry.ToAgent,
			TaskID:  retry.ID,
			Status:  second.Status,
			Message: msg,
			Err:     ErrClarificationExhausted,
		}
	default:
		return nil, o.reject(ctx, retry, second)
	}
}

// askPlanner issues the clarification sub-task and returns the planner's
// answers keyed question_1..question_n.
func (o *Orchestrator) askPlanner(ctx context.Context, w *Instance, task *agent.Task, questions []string) (map[string]string, error) {
	planner, err := o.agent(o.roles.Planner)
	if err != nil {
		return nil, err
	}
	params, err := agent.Encode(agent.ProvideClarification{
		OriginalTask:     task.ID,
		OriginalTaskType: task.Type,
		AskingAgent:      task.ToAgent,
		AgentQuestions:   questions,
		Context:          task.Params,
		MissionTitle:     w.Mission.Title(),
	})
	if err != nil {
		return nil, err
	}

	sub, err := o.comms.SendTask(ctx, comms.Dispatch{
		From:   task.ToAgent,
		To:     o.roles.Planner,
		Type:   agent.TaskProvideClarification,
		Params: params,
		ChatID: task.ChatID,
		TaskID: agent.ClarificationTaskID(task.ID),
	})
	if err != nil {
		return nil, err
	}
	o.metrics.TaskDispatched(o.roles.Planner, string(agent.TaskProvideClarification))

	resp := o.invoke(ctx, planner, sub)
	switch resp.Status {
	case agent.StatusCompleted:
		if _, err := o.respond(ctx, sub, resp); err != nil {
			return nil, err
		}
		return clarificationAnswers(resp.Data), nil
	case agent.StatusError:
		return nil, o.reject(ctx, sub, resp)
	default:
		if _, err := o.respond(ctx, sub, resp); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("planner answered clarification with status %s", resp.Status)
		o.close(ctx, sub, msg)
		return nil, &AgentError{Agent: sub.ToAgent, TaskID: sub.ID, Status: resp.Status, Message: msg}
	}
}

// invoke calls the agent and normalises its answer into a response for the
// task. An infrastructure error becomes a status=error response.
func (o *Orchestrator) invoke(ctx context.Context, target agent.Agent, task *agent.Task) *agent.Response {
	resp, err := target.ReceiveTask(ctx, task)
	if err != nil {
		return agent.Failed(task.ID, err.Error())
	}
	if resp == nil {
		return agent.Failed(task.ID, "agent returned no response")
	}
	out := *resp
	if out.TaskID != task.ID {
		if out.TaskID != "" {
			o.logger.Warn("Agent answered with foreign task id",
				"agent", task.ToAgent,
				"task_id", task.ID,
				"answered_id", out.TaskID)
		}
		out.TaskID = task.ID
	}
	return &out
}

// respond records a response with the communication manager.
func (o *Orchestrator) respond(ctx context.Context, task *agent.Task, resp *agent.Response) (*agent.Response, error) {
	out, err := o.comms.SendResponse(ctx, resp)
	if err != nil {
		return nil, err
	}
	o.metrics.ResponseReceived(task.ToAgent, string(resp.Status))
	return out, nil
}

// reject records a non-completing response and converts it into an
// AgentError. Non-terminal statuses are closed with an error response.
func (o *Orchestrator) reject(ctx context.Context, task *agent.Task, resp *agent.Response) error {
	if _, err := o.respond(ctx, task, resp); err != nil {
		return err
	}
	msg := resp.Message
	if msg == "" {
		msg = resp.Data.String("error")
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %s", resp.Status)
	}
	if !resp.Status.IsTerminal() {
		o.close(ctx, task, msg)
	}
	return &AgentError{Agent: task.ToAgent, TaskID: task.ID, Status: resp.Status, Message: msg}
}

// close ends a pending task with an error response.
func (o *Orchestrator) close(ctx context.Context, task *agent.Task, message string) {
	if _, err := o.respond(ctx, task, agent.Failed(task.ID, message)); err != nil {
		o.logger.Warn("Failed to close task", "task_id", task.ID, "error", err)
	}
}

func clarificationAnswers(data agent.Params) map[string]string {
	out := make(map[string]string)
	switch answers := data["clarifications"].(type) {
	case map[string]string:
		for k, v := range answers {
			out[k] = v
		}
	case map[string]any:
		for k, v := range answers {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
