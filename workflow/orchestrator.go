// Package workflow drives question-driven research runs: a planner
// coordinates the mission, each research question is collected in turn,
// the analyst sees every answer at once and the writer produces the
// deliverables.
//
// One run exists per chat at a time. Runs for different chats are
// independent and may execute concurrently.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/comms"
	"github.com/c360studio/legion/metric"
	"github.com/c360studio/legion/state"
)

// WorkflowType names the execution mode announced to observers.
const WorkflowType = "question_driven"

// Roles names the agents that own the fixed workflow steps. Question
// collection is routed per category by the communication manager.
type Roles struct {
	Planner string
	Analyst string
	Writer  string
}

// DefaultRoles returns the built-in role names.
func DefaultRoles() Roles {
	return Roles{
		Planner: agent.RolePlanner,
		Analyst: agent.RoleAnalyst,
		Writer:  agent.RoleWriter,
	}
}

// Result is what a completed run produced.
type Result struct {
	WorkflowID    string                `json:"workflow_id"`
	Coordination  agent.Params          `json:"coordination"`
	CollectedData []agent.CollectedData `json:"collected_data"`
	Analysis      agent.Params          `json:"analysis"`
	Synthesis     agent.Params          `json:"synthesis"`
	Deliverables  []agent.Artifact      `json:"deliverables"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records dispatches, responses and run outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRoles overrides the agents owning the fixed steps.
func WithRoles(r Roles) Option {
	return func(o *Orchestrator) { o.roles = r }
}

// Orchestrator sequences agent tasks for research missions.
type Orchestrator struct {
	comms   *comms.Manager
	applier state.Applier
	metrics *metric.Metrics
	logger  *slog.Logger
	roles   Roles
	now     func() time.Time

	mu           sync.Mutex
	agents       map[string]agent.Agent
	workflows    map[string]*Instance
	activeByChat map[string]string
}

// NewOrchestrator creates an orchestrator issuing tasks through cm and
// reporting progress to applier. applier should be the reconciler cm
// reports to.
func NewOrchestrator(cm *comms.Manager, applier state.Applier, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		comms:        cm,
		applier:      applier,
		logger:       logger,
		roles:        DefaultRoles(),
		now:          time.Now,
		agents:       make(map[string]agent.Agent),
		workflows:    make(map[string]*Instance),
		activeByChat: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterAgent makes an agent addressable by its name. Agents that publish
// a card are also registered for capability discovery.
func (o *Orchestrator) RegisterAgent(a agent.Agent) {
	o.mu.Lock()
	o.agents[a.Name()] = a
	o.mu.Unlock()

	if carded, ok := a.(agent.Carded); ok {
		o.comms.RegisterCard(carded.Card())
	}
	o.logger.Info("Registered agent", "agent", a.Name())
}

// Agents returns the registered agent names, sorted.
func (o *Orchestrator) Agents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) agent(name string) (agent.Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRegistered, name)
	}
	return a, nil
}

// Execute runs a mission for the chat and blocks until it completes or
// fails. A failed run is reported to observers once and its error returned.
func (o *Orchestrator) Execute(ctx context.Context, chatID string, mission *MissionContext) (*Result, error) {
	w, err := o.begin(chatID, mission)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, w)
}

// Run is a handle on a workflow started in the background.
type Run struct {
	WorkflowID string
	ChatID     string

	done   chan struct{}
	result *Result
	err    error
}

// Done is closed when the run finishes.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome of a finished run. It must only be called
// after Done is closed.
func (r *Run) Result() (*Result, error) {
	return r.result, r.err
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start launches a mission in its own goroutine and returns immediately.
// The run is not cancelled when ctx is.
func (o *Orchestrator) Start(ctx context.Context, chatID string, mission *MissionContext) (*Run, error) {
	w, err := o.begin(chatID, mission)
	if err != nil {
		return nil, err
	}
	run := &Run{WorkflowID: w.ID, ChatID: chatID, done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(run.done)
		run.result, run.err = o.run(runCtx, w)
	}()
	return run, nil
}

// Workflow returns a copy of a run by id.
func (o *Orchestrator) Workflow(id string) (*Instance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[id]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// ActiveWorkflow returns a copy of the chat's running workflow.
func (o *Orchestrator) ActiveWorkflow(chatID string) (*Instance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.activeByChat[chatID]
	if !ok {
		return nil, false
	}
	return o.workflows[id].clone(), true
}

// ListActiveWorkflows returns copies of every running workflow, oldest
// first.
func (o *Orchestrator) ListActiveWorkflows() []*Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Instance, 0, len(o.activeByChat))
	for _, id := range o.activeByChat {
		out = append(out, o.workflows[id].clone())
	}
	slices.SortFunc(out, func(a, b *Instance) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Workflows returns copies of every run the chat has had, oldest first.
func (o *Orchestrator) Workflows(chatID string) []*Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Instance
	for _, w := range o.workflows {
		if w.ChatID == chatID {
			out = append(out, w.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Instance) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// begin validates the mission and claims the chat.
func (o *Orchestrator) begin(chatID string, mission *MissionContext) (*Instance, error) {
	if chatID == "" {
		return nil, state.ErrChatIDRequired
	}
	if mission == nil {
		return nil, ErrNoQuestions
	}
	mc := cloneMission(mission)
	mc.Normalize()
	if err := mc.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if id, busy := o.activeByChat[chatID]; busy {
		return nil, fmt.Errorf("%w: %s (workflow %s)", ErrWorkflowActive, chatID, id)
	}
	w := &Instance{
		ID:        "question_research_" + uuid.NewString(),
		ChatID:    chatID,
		Status:    StatusActive,
		Phase:     PhaseCreated,
		StartedAt: o.now(),
		Mission:   mc,
	}
	o.workflows[w.ID] = w
	o.activeByChat[chatID] = w.ID
	return w, nil
}

// run drives the workflow to a terminal state.
func (o *Orchestrator) run(ctx context.Context, w *Instance) (*Result, error) {
	ctx, span := startWorkflowSpan(ctx, w)
	o.metrics.WorkflowStarted()
	questions := w.Mission.Questions

	o.logger.Info("Workflow started",
		"workflow_id", w.ID,
		"chat_id", w.ChatID,
		"questions", len(questions))

	o.emit(ctx, w.ChatID, state.WorkflowStarted{
		WorkflowID:     w.ID,
		WorkflowType:   WorkflowType,
		ResearchFocus:  w.Mission.ResearchFocus,
		TotalQuestions: len(questions),
	})
	planned := make([]state.PlannedQuestion, len(questions))
	for i, q := range questions {
		planned[i] = state.PlannedQuestion{ID: q.ID, Question: q.Question, Category: q.Category, Priority: q.Priority}
	}
	o.emit(ctx, w.ChatID, state.QuestionsPlanned{Questions: planned, WorkflowType: WorkflowType})

	result, err := o.execute(ctx, w)

	o.mu.Lock()
	delete(o.activeByChat, w.ChatID)
	o.mu.Unlock()

	elapsed := o.now().Sub(w.StartedAt)
	if err != nil {
		o.fail(ctx, w, err)
		o.metrics.WorkflowFinished(string(StatusFailed), elapsed)
		endSpan(span, err)
		return nil, err
	}
	o.metrics.WorkflowFinished(string(StatusCompleted), elapsed)
	endSpan(span, nil)
	return result, nil
}

// execute performs the four steps in order.
func (o *Orchestrator) execute(ctx context.Context, w *Instance) (*Result, error) {
	mission := w.Mission
	questions := mission.Questions
	total := len(questions)
	result := &Result{WorkflowID: w.ID}

	// Step 1: coordinate. Advisory only; its content gates nothing.
	if err := o.transition(w, PhaseCoordinating); err != nil {
		return nil, err
	}
	coordinate, err := agent.Encode(agent.Coordinate{
		ResearchFocus:  mission.ResearchFocus,
		MissionTitle:   mission.Title(),
		Objectives:     mission.Objectives(),
		QuestionCount:  total,
		WorkflowType:   WorkflowType,
		MissionContext: mission.Map(),
	})
	if err != nil {
		return nil, err
	}
	resp, err := o.step(ctx, w, 1, o.roles.Planner, agent.TaskCoordinateMission, coordinate)
	if err != nil {
		return nil, err
	}
	result.Coordination = resp.Data

	// Step 2: one question at a time, ascending id.
	if err := o.transition(w, PhaseCollecting); err != nil {
		return nil, err
	}
	refs := make([]comms.QuestionRef, total)
	for i, q := range questions {
		refs[i] = comms.QuestionRef{ID: q.ID, Category: q.Category}
	}
	assignments := o.comms.AssignQuestions(ctx, w.ChatID, refs)

	for i, q := range questions {
		if err := o.collect(ctx, w, q, assignments[q.ID]); err != nil {
			return nil, err
		}
		o.comms.TrackWorkflowProgress(ctx, w.ChatID, i+1, total)
	}
	o.update(func() { w.CurrentQuestion = 0 })
	result.CollectedData = o.collected(w)

	// Step 3: the analyst sees every answer in one batch.
	if err := o.transition(w, PhaseAnalyzing); err != nil {
		return nil, err
	}
	analyze, err := agent.Encode(agent.AnalyzeAll{
		CollectedData:  result.CollectedData,
		TotalQuestions: total,
		ResearchFocus:  mission.ResearchFocus,
		MissionTitle:   mission.Title(),
	})
	if err != nil {
		return nil, err
	}
	resp, err = o.step(ctx, w, total+2, o.roles.Analyst, agent.TaskAnalyzeAll, analyze)
	if err != nil {
		return nil, err
	}
	result.Analysis = resp.Data
	o.update(func() { w.Analysis = resp.Data })

	// Step 4: synthesis.
	if err := o.transition(w, PhaseSynthesizing); err != nil {
		return nil, err
	}
	synthesize, err := agent.Encode(agent.SynthesizeReport{
		CollectedData:  result.CollectedData,
		Analysis:       result.Analysis,
		TotalQuestions: total,
		ResearchFocus:  mission.ResearchFocus,
		MissionTitle:   mission.Title(),
	})
	if err != nil {
		return nil, err
	}
	resp, err = o.step(ctx, w, total+3, o.roles.Writer, agent.TaskSynthesizeReport, synthesize)
	if err != nil {
		return nil, err
	}
	result.Synthesis = resp.Data
	result.Deliverables = resp.Artifacts

	for _, a := range resp.Artifacts {
		o.emit(ctx, w.ChatID, state.DeliverableCreated{Deliverable: state.Deliverable{
			Title:    a.Title,
			Type:     a.Type,
			Format:   a.Format,
			Content:  a.Content,
			URI:      a.URI,
			Agent:    o.roles.Writer,
			Metadata: a.Metadata,
		}})
	}

	if err := o.complete(ctx, w, resp.Artifacts); err != nil {
		return nil, err
	}
	return result, nil
}

// step runs one of the fixed steps, bracketed by step events.
func (o *Orchestrator) step(ctx context.Context, w *Instance, number int, to string, taskType agent.TaskType, params agent.Params) (*agent.Response, error) {
	o.emit(ctx, w.ChatID, state.WorkflowStepStarted{
		WorkflowID: w.ID,
		StepNumber: number,
		Agent:      to,
		TaskType:   string(taskType),
	})
	resp, err := o.executeTask(ctx, w, to, taskType, params)
	if err != nil {
		return nil, &StepError{Step: string(taskType), Agent: to, Err: err}
	}
	o.emit(ctx, w.ChatID, state.WorkflowStepCompleted{
		WorkflowID: w.ID,
		StepNumber: number,
		Agent:      to,
		TaskType:   string(taskType),
	})
	return resp, nil
}

// collect gathers data for one research question.
func (o *Orchestrator) collect(ctx context.Context, w *Instance, q *ResearchQuestion, collector string) error {
	stepName := fmt.Sprintf("%s#%d", agent.TaskCollectQuestionData, q.ID)
	o.update(func() { w.CurrentQuestion = q.ID })

	o.comms.SendQuestionStarted(ctx, w.ChatID, collector, q.ID, q.Question)
	opID := fmt.Sprintf("%s-question-%d", w.ID, q.ID)
	o.emit(ctx, w.ChatID, state.AgentOperation{
		OperationID: opID,
		Agent:       collector,
		Type:        "searching",
		Title:       fmt.Sprintf("Researching Question %d", q.ID),
		Details:     "Collecting data for: " + q.Question,
		Status:      "active",
		QuestionID:  q.ID,
	})

	sources := q.Sources
	if len(sources) == 0 {
		sources = w.Mission.Sources
	}
	params, err := agent.Encode(agent.CollectQuestion{
		QuestionID:    q.ID,
		Question:      q.Question,
		Category:      q.Category,
		Context:       q.Context,
		Priority:      q.Priority,
		Sources:       sources,
		ResearchFocus: w.Mission.ResearchFocus,
		MissionTitle:  w.Mission.Title(),
	})
	if err != nil {
		return &StepError{Step: stepName, Agent: collector, Err: err}
	}

	resp, err := o.executeTask(ctx, w, collector, agent.TaskCollectQuestionData, params)
	if err != nil {
		o.emit(ctx, w.ChatID, state.OperationUpdated{OperationID: opID, Status: "error", Details: err.Error()})
		return &StepError{Step: stepName, Agent: collector, Err: err}
	}

	data := map[string]any(resp.Data)
	o.update(func() {
		q.Answered = true
		q.CollectedData = data
		w.CollectedData = append(w.CollectedData, agent.CollectedData{
			QuestionID: q.ID,
			Question:   q.Question,
			Category:   q.Category,
			Data:       data,
		})
	})

	o.comms.SendQuestionProgress(ctx, w.ChatID, collector, q.ID, 90, fmt.Sprintf("Collected %d sources", resp.Data.Int("source_count")))
	o.emit(ctx, w.ChatID, state.OperationUpdated{OperationID: opID, Status: "complete", Progress: 100})
	summary := resp.Data.String("summary")
	if summary == "" {
		summary = fmt.Sprintf("Data collected for question %d", q.ID)
	}
	o.comms.SendQuestionCompletion(ctx, w.ChatID, collector, q.ID, q.Question, summary)
	return nil
}

// complete moves the run to its terminal success state.
func (o *Orchestrator) complete(ctx context.Context, w *Instance, artifacts []agent.Artifact) error {
	if err := o.transition(w, PhaseCompleted); err != nil {
		return err
	}
	o.update(func() {
		now := o.now()
		w.Status = StatusCompleted
		w.CompletedAt = &now
		w.Deliverables = artifacts
	})
	o.emit(ctx, w.ChatID, state.WorkflowCompleted{
		WorkflowID:        w.ID,
		QuestionsAnswered: len(w.Mission.Questions),
		Deliverables:      len(artifacts),
	})
	o.logger.Info("Workflow completed",
		"workflow_id", w.ID,
		"chat_id", w.ChatID,
		"deliverables", len(artifacts))
	return nil
}

// fail records the failure on the run and notifies observers once.
func (o *Orchestrator) fail(ctx context.Context, w *Instance, err error) {
	step, agentName := string(w.Phase), ""
	var se *StepError
	if errors.As(err, &se) {
		step, agentName = se.Step, se.Agent
	}

	o.update(func() {
		now := o.now()
		w.Status = StatusFailed
		w.Phase = PhaseFailed
		w.CompletedAt = &now
		w.Error = err.Error()
		w.FailedStep = step
		w.FailedAgent = agentName
	})
	o.emit(ctx, w.ChatID, state.WorkflowFailed{
		WorkflowID: w.ID,
		Agent:      agentName,
		Step:       step,
		Error:      err.Error(),
	})
	if agentName != "" {
		o.comms.BroadcastStatus(ctx, w.ChatID, agentName, "error", err.Error())
	}
	o.logger.Error("Workflow failed",
		"workflow_id", w.ID,
		"chat_id", w.ChatID,
		"step", step,
		"agent", agentName,
		"error", err)
}

func (o *Orchestrator) transition(w *Instance, target Phase) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !w.Phase.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Phase, target)
	}
	w.Phase = target
	return nil
}

// update mutates the run under the orchestrator lock so readers see
// consistent copies.
func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Orchestrator) collected(w *Instance) []agent.CollectedData {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(w.CollectedData)
}

// emit reports an event to the reconciler. Failures are logged; observers
// never fail a run.
func (o *Orchestrator) emit(ctx context.Context, chatID string, ev state.Event) {
	if o.applier == nil {
		return
	}
	if err := o.applier.Apply(ctx, chatID, ev); err != nil {
		o.logger.Warn("Failed to apply event", "chat_id", chatID, "kind", ev.Kind(), "error", err)
	}
}

func cloneMission(m *MissionContext) *MissionContext {
	out := *m
	out.Questions = make([]*ResearchQuestion, len(m.Questions))
	for i, q := range m.Questions {
		cp := *q
		cp.Answered = false
		cp.CollectedData = nil
		out.Questions[i] = &cp
	}
	if m.Plan != nil {
		plan := *m.Plan
		out.Plan = &plan
	}
	return &out
}
