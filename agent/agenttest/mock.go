// Package agenttest provides test doubles for the agent package.
package agenttest

import (
	"context"
	"sync"

	"github.com/c360studio/legion/agent"
)

// MockAgent is a thread-safe scripted agent for testing.
// It records every task it receives and answers from a per-task-type script.
//
// Usage:
//
//	// Always complete
//	mock := agenttest.New("researcher")
//
//	// Ask for clarification once, then complete
//	mock := agenttest.New("researcher")
//	mock.Script(agent.TaskCollectQuestionData,
//	    agent.NeedsClarification("", "Which sources?"),
//	    nil, // nil falls through to the default completed response
//	)
//
//	// Fail every analysis task
//	mock := agenttest.New("analyst")
//	mock.Script(agent.TaskAnalyzeAll, agent.Failed("", "model unavailable"))
type MockAgent struct {
	name string

	mu      sync.Mutex
	scripts map[agent.TaskType][]*agent.Response
	tasks   []*agent.Task

	// Handler, when set, replaces scripted responses entirely.
	Handler func(ctx context.Context, task *agent.Task) (*agent.Response, error)

	// Err is returned from every ReceiveTask call when set.
	Err error
}

// New creates a mock agent with the given name.
func New(name string) *MockAgent {
	return &MockAgent{
		name:    name,
		scripts: make(map[agent.TaskType][]*agent.Response),
	}
}

// Name implements agent.Agent.
func (m *MockAgent) Name() string { return m.name }

// Personality implements agent.Agent.
func (m *MockAgent) Personality() string { return "scripted test agent " + m.name }

// Script queues responses for a task type. Responses are consumed in order;
// a nil entry, or an exhausted script, yields the default completed response.
func (m *MockAgent) Script(taskType agent.TaskType, responses ...*agent.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[taskType] = append(m.scripts[taskType], responses...)
}

// ReceiveTask implements agent.Agent.
func (m *MockAgent) ReceiveTask(ctx context.Context, task *agent.Task) (*agent.Response, error) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	handler := m.Handler
	err := m.Err

	var scripted *agent.Response
	if queue := m.scripts[task.Type]; len(queue) > 0 {
		scripted = queue[0]
		m.scripts[task.Type] = queue[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if handler != nil {
		return handler(ctx, task)
	}
	if scripted == nil {
		return agent.Completed(task.ID, agent.Params{
			"agent":     m.name,
			"task_type": string(task.Type),
			"summary":   m.name + " handled " + string(task.Type),
		}, ""), nil
	}

	resp := *scripted
	if resp.TaskID == "" {
		resp.TaskID = task.ID
	}
	return &resp, nil
}

// Tasks returns a copy of every task received so far.
func (m *MockAgent) Tasks() []*agent.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agent.Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// TasksOfType returns received tasks filtered by type.
func (m *MockAgent) TasksOfType(taskType agent.TaskType) []*agent.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*agent.Task
	for _, t := range m.tasks {
		if t.Type == taskType {
			out = append(out, t)
		}
	}
	return out
}

// CallCount returns the number of ReceiveTask calls.
func (m *MockAgent) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
