package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Default log bounds. Both logs drop their oldest entries once full.
const (
	DefaultCommsLimit      = 100
	DefaultOperationsLimit = 50
)

const (
	synthesisTaskID       = "synthesis"
	missionCompleteTaskID = "mission-complete"
	questionTitleMaxLen   = 60
	systemActor           = "system"
)

// ErrChatIDRequired is returned when an event is applied without a chat id.
var ErrChatIDRequired = errors.New("chat id required")

// Limits bounds the per-chat logs.
type Limits struct {
	Comms      int
	Operations int
}

// DefaultLimits returns the default log bounds.
func DefaultLimits() Limits {
	return Limits{Comms: DefaultCommsLimit, Operations: DefaultOperationsLimit}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLimits overrides the log bounds. Non-positive values keep the default.
func WithLimits(l Limits) Option {
	return func(r *Reconciler) {
		if l.Comms > 0 {
			r.limits.Comms = l.Comms
		}
		if l.Operations > 0 {
			r.limits.Operations = l.Operations
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithRecorder counts every applied event.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// Reconciler owns all per-chat state. Chats are created lazily on first
// reference and live for the life of the process.
type Reconciler struct {
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	limits   Limits
	now      func() time.Time

	mu    sync.Mutex
	chats map[string]*chat
}

type chat struct {
	mu sync.Mutex
	st *chatState
}

// NewReconciler creates a reconciler that reports changes to notifier.
func NewReconciler(notifier Notifier, logger *slog.Logger, opts ...Option) *Reconciler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		notifier: notifier,
		logger:   logger,
		limits:   DefaultLimits(),
		now:      time.Now,
		chats:    make(map[string]*chat),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limits returns the configured log bounds.
func (r *Reconciler) Limits() Limits {
	return r.limits
}

func (r *Reconciler) chat(chatID string) *chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		c = &chat{st: newChatState()}
		r.chats[chatID] = c
	}
	return c
}

// Chats returns the ids of every known chat, sorted.
func (r *Reconciler) Chats() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := slices.Collect(maps.Keys(r.chats))
	sort.Strings(ids)
	return ids
}

// Apply merges ev into the chat's state and notifies observers of the views
// it changed. Events for one chat are applied and notified in call order.
// Unknown variants are ignored.
func (r *Reconciler) Apply(_ context.Context, chatID string, ev Event) error {
	if chatID == "" {
		return ErrChatIDRequired
	}
	if ev == nil {
		return nil
	}

	c := r.chat(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()

	streams, known := r.dispatch(c.st, ev)
	if !known {
		r.logger.Debug("Ignoring unknown event", "chat_id", chatID, "kind", ev.Kind())
		return nil
	}

	for _, s := range Streams {
		if slices.Contains(streams, s) {
			r.notifier.Notify(chatID, s, c.st.view(s))
		}
	}
	r.notifier.Push(chatID, ev)

	if r.recorder != nil {
		r.recorder.EventApplied(ev.Kind())
	}
	return nil
}

// dispatch routes the event to its handler. The handler's return value is
// the set of streams whose view changed.
func (r *Reconciler) dispatch(cs *chatState, ev Event) ([]Stream, bool) {
	switch e := ev.(type) {
	case QuestionsPlanned:
		return r.onQuestionsPlanned(cs, e), true
	case QuestionStarted:
		return r.onQuestionStarted(cs, e), true
	case QuestionCompleted:
		return r.onQuestionCompleted(cs, e), true
	case QuestionProgress:
		return r.onQuestionProgress(cs, e), true
	case QuestionAssigned:
		return r.onQuestionAssigned(cs, e), true
	case WorkflowProgress:
		return r.onWorkflowProgress(cs, e), true
	case PlannerThinking:
		return r.onPlannerThinking(cs, e), true
	case PlannerResponse:
		return r.onPlannerResponse(cs, e), true
	case AgentConversation:
		return r.onAgentConversation(cs, e), true
	case AgentOperation:
		return r.onAgentOperation(cs, e), true
	case OperationUpdated:
		return r.onOperationUpdated(cs, e), true
	case AgentStatus:
		return r.onAgentStatus(cs, e), true
	case WorkflowStarted:
		return r.onWorkflowStarted(cs, e), true
	case WorkflowStepStarted:
		return r.onWorkflowStepStarted(cs, e), true
	case WorkflowStepCompleted:
		return r.onWorkflowStepCompleted(cs, e), true
	case WorkflowCompleted:
		return r.onWorkflowCompleted(cs, e), true
	case WorkflowFailed:
		return r.onWorkflowFailed(cs, e), true
	case DeliverableCreated:
		return r.onDeliverableCreated(cs, e), true
	case DeliverableUpdated:
		return r.onDeliverableUpdated(cs, e), true
	case MissionTransition:
		return r.onMissionTransition(cs, e), true
	}
	return nil, false
}

// Question lifecycle

func (r *Reconciler) onQuestionsPlanned(cs *chatState, ev QuestionsPlanned) []Stream {
	now := r.now()
	cs.workflowType = ev.WorkflowType
	if cs.workflowType == "" {
		cs.workflowType = "question_driven"
	}

	planned := slices.Clone(ev.Questions)
	for i := range planned {
		if planned[i].ID == 0 {
			planned[i].ID = i + 1
		}
	}
	sort.SliceStable(planned, func(i, j int) bool { return planned[i].ID < planned[j].ID })

	kept := cs.tasks[:0:0]
	for _, t := range cs.tasks {
		if t.QuestionID == 0 && t.ID != synthesisTaskID && t.ID != missionCompleteTaskID {
			kept = append(kept, t)
		}
	}

	cs.questions = make(map[int]*QuestionEntry, len(planned))
	cs.answered = nil
	for _, q := range planned {
		cs.questions[q.ID] = &QuestionEntry{
			QuestionID: q.ID,
			Question:   q.Question,
			Category:   q.Category,
			Status:     QuestionStatusQueued,
			Phase:      "queued",
		}
		kept = append(kept, TaskEntry{
			ID:         questionTaskID(q.ID),
			Title:      questionTitle(q.ID, q.Question),
			Status:     TaskPending,
			QuestionID: q.ID,
			Phase:      "queued",
			UpdatedAt:  now,
		})
	}
	kept = append(kept, TaskEntry{
		ID:        synthesisTaskID,
		Title:     "Synthesize findings into deliverables",
		Status:    TaskPending,
		UpdatedAt: now,
	})
	cs.tasks = kept

	r.addComm(cs, Comm{
		From:    systemActor,
		To:      "team",
		Type:    "system",
		Message: fmt.Sprintf("Research plan ready: %d questions", len(planned)),
	})
	return []Stream{StreamTasks, StreamQuestions, StreamComms}
}

func (r *Reconciler) onQuestionStarted(cs *chatState, ev QuestionStarted) []Stream {
	q := r.ensureQuestion(cs, ev.QuestionID, ev.Question)
	if q.Status == QuestionStatusCompleted {
		return nil
	}
	now := r.now()
	q.StartedAt = &now
	r.setQuestion(cs, q, QuestionStatusActive, max(q.Progress, 10), "researching", ev.Agent)

	r.addComm(cs, Comm{
		From:       actorOr(ev.Agent),
		To:         "team",
		Type:       "question_started",
		QuestionID: q.QuestionID,
		Message:    fmt.Sprintf("Started research on question #%d: %s", q.QuestionID, q.Question),
	})
	return []Stream{StreamTasks, StreamQuestions, StreamComms}
}

func (r *Reconciler) onQuestionCompleted(cs *chatState, ev QuestionCompleted) []Stream {
	q := r.ensureQuestion(cs, ev.QuestionID, ev.Question)
	if q.Status == QuestionStatusCompleted {
		return nil
	}
	r.completeQuestion(cs, q, ev.Agent)

	msg := fmt.Sprintf("Question #%d answered", q.QuestionID)
	if ev.Summary != "" {
		msg += ": " + ev.Summary
	}
	r.addComm(cs, Comm{
		From:       actorOr(ev.Agent),
		To:         "team",
		Type:       "question_completed",
		QuestionID: q.QuestionID,
		Message:    msg,
	})
	return []Stream{StreamTasks, StreamQuestions, StreamComms}
}

func (r *Reconciler) onQuestionProgress(cs *chatState, ev QuestionProgress) []Stream {
	q := r.ensureQuestion(cs, ev.QuestionID, "")
	if q.Status == QuestionStatusCompleted {
		return nil
	}
	progress := min(max(ev.Progress, 0), 100)
	if progress == 100 {
		r.completeQuestion(cs, q, ev.Agent)
		return []Stream{StreamTasks, StreamQuestions}
	}

	status := q.Status
	if status == QuestionStatusQueued && progress > 0 {
		status = QuestionStatusActive
		now := r.now()
		q.StartedAt = &now
	}
	r.setQuestion(cs, q, status, progress, ev.Phase, ev.Agent)
	return []Stream{StreamTasks, StreamQuestions}
}

func (r *Reconciler) onQuestionAssigned(cs *chatState, ev QuestionAssigned) []Stream {
	q := r.ensureQuestion(cs, ev.QuestionID, "")
	r.setQuestion(cs, q, q.Status, q.Progress, "", ev.Agent)
	return []Stream{StreamTasks, StreamQuestions}
}

func (r *Reconciler) onWorkflowProgress(cs *chatState, ev WorkflowProgress) []Stream {
	if cs.stats == nil {
		cs.stats = make(map[string]any)
	}
	cs.stats["completed_questions"] = ev.Completed
	cs.stats["total_questions"] = ev.Total
	cs.stats["progress_percentage"] = ev.Percentage
	return []Stream{StreamQuestions}
}

// ensureQuestion returns the question entry for id, creating it and its
// task entry when the question was never planned.
func (r *Reconciler) ensureQuestion(cs *chatState, id int, text string) *QuestionEntry {
	q, ok := cs.questions[id]
	if !ok {
		q = &QuestionEntry{QuestionID: id, Question: text, Status: QuestionStatusQueued, Phase: "queued"}
		cs.questions[id] = q
	} else if q.Question == "" && text != "" {
		q.Question = text
	}
	if cs.questionTask(id) == nil {
		entry := TaskEntry{
			ID:         questionTaskID(id),
			Title:      questionTitle(id, q.Question),
			Status:     TaskPending,
			QuestionID: id,
			Phase:      q.Phase,
			UpdatedAt:  r.now(),
		}
		idx := slices.IndexFunc(cs.tasks, func(t TaskEntry) bool { return t.ID == synthesisTaskID })
		if idx < 0 {
			cs.tasks = append(cs.tasks, entry)
		} else {
			cs.tasks = slices.Insert(cs.tasks, idx, entry)
		}
	}
	return q
}

// setQuestion updates a question's progress entry and its task entry
// together. This is the only place either is written for a question.
func (r *Reconciler) setQuestion(cs *chatState, q *QuestionEntry, status QuestionStatus, progress int, phase, agent string) {
	r.ensureQuestion(cs, q.QuestionID, q.Question)
	if status == QuestionStatusCompleted {
		progress = 100
	}
	q.Status = status
	q.Progress = progress
	if phase != "" {
		q.Phase = phase
	}
	if agent != "" {
		q.AssignedAgent = agent
	}

	t := cs.questionTask(q.QuestionID)
	t.Status = taskStatusFor(status)
	t.Progress = progress
	t.Phase = q.Phase
	t.Agent = q.AssignedAgent
	t.UpdatedAt = r.now()
}

func (r *Reconciler) completeQuestion(cs *chatState, q *QuestionEntry, agent string) {
	now := r.now()
	q.CompletedAt = &now
	if q.StartedAt == nil {
		q.StartedAt = &now
	}
	r.setQuestion(cs, q, QuestionStatusCompleted, 100, "completed", agent)
	if !slices.Contains(cs.answered, q.QuestionID) {
		cs.answered = append(cs.answered, q.QuestionID)
	}
}

func (cs *chatState) questionTask(id int) *TaskEntry {
	for i := range cs.tasks {
		if cs.tasks[i].QuestionID == id {
			return &cs.tasks[i]
		}
	}
	return nil
}

func (cs *chatState) taskByID(id string) *TaskEntry {
	for i := range cs.tasks {
		if cs.tasks[i].ID == id {
			return &cs.tasks[i]
		}
	}
	return nil
}

// Planner dialogue

func (r *Reconciler) onPlannerThinking(cs *chatState, ev PlannerThinking) []Stream {
	cs.planner.Messages = append(cs.planner.Messages, PlannerTurn{Role: "thinking", Message: ev.Message, Timestamp: r.now()})
	r.addComm(cs, Comm{From: "planner", To: "user", Type: "thinking", Message: ev.Message})
	return []Stream{StreamComms}
}

func (r *Reconciler) onPlannerResponse(cs *chatState, ev PlannerResponse) []Stream {
	cs.planner.Messages = append(cs.planner.Messages, PlannerTurn{Role: "planner", Message: ev.Message, Timestamp: r.now()})
	if ev.Stage != "" {
		cs.planner.Stage = ev.Stage
	}
	if ev.Plan != nil {
		cs.planner.Plan = ev.Plan
	}
	r.addComm(cs, Comm{From: "planner", To: "user", Type: "response", Message: ev.Message})

	if len(ev.Questions) == 0 {
		return []Stream{StreamComms}
	}
	return r.onQuestionsPlanned(cs, QuestionsPlanned{Questions: ev.Questions, WorkflowType: cs.workflowType})
}

// Conversations and operations

func (r *Reconciler) onAgentConversation(cs *chatState, ev AgentConversation) []Stream {
	kind := ev.Type
	if kind == "" {
		kind = "conversation"
	}
	r.addComm(cs, Comm{
		Timestamp:  ev.Timestamp,
		From:       ev.From,
		To:         ev.To,
		Type:       kind,
		QuestionID: ev.QuestionID,
		Message:    ev.Message,
	})
	return []Stream{StreamComms}
}

func (r *Reconciler) onAgentOperation(cs *chatState, ev AgentOperation) []Stream {
	status := ev.Status
	if status == "" {
		status = "processing"
	}
	r.addOperation(cs, Operation{
		ID:         ev.OperationID,
		Agent:      ev.Agent,
		Type:       ev.Type,
		Title:      ev.Title,
		Details:    ev.Details,
		Status:     status,
		QuestionID: ev.QuestionID,
		Progress:   ev.Progress,
	})
	return []Stream{StreamOperations}
}

func (r *Reconciler) onOperationUpdated(cs *chatState, ev OperationUpdated) []Stream {
	op := cs.operation(ev.OperationID)
	if op == nil {
		r.logger.Debug("Operation not found for update", "operation_id", ev.OperationID)
		return nil
	}
	if ev.Status != "" {
		op.Status = ev.Status
	}
	if ev.Details != "" {
		op.Details = ev.Details
	}
	if ev.Progress > 0 {
		op.Progress = ev.Progress
	}
	op.Timestamp = r.now()
	return []Stream{StreamOperations}
}

func (r *Reconciler) onAgentStatus(cs *chatState, ev AgentStatus) []Stream {
	details := ev.Message
	r.addOperation(cs, Operation{
		Agent:   ev.Agent,
		Type:    "status",
		Title:   fmt.Sprintf("%s is %s", ev.Agent, ev.Status),
		Details: details,
		Status:  ev.Status,
	})
	return []Stream{StreamOperations}
}

func (cs *chatState) operation(id string) *Operation {
	if id == "" {
		return nil
	}
	for i := len(cs.operations) - 1; i >= 0; i-- {
		if cs.operations[i].ID == id {
			return &cs.operations[i]
		}
	}
	return nil
}

// Workflow lifecycle

// onWorkflowStarted begins a new mission lifecycle: the mission becomes
// ACTIVE even when an earlier run left it COMPLETED. MissionTransition
// events stay forward-only.
func (r *Reconciler) onWorkflowStarted(cs *chatState, ev WorkflowStarted) []Stream {
	cs.mission = MissionActive
	cs.workflow = WorkflowSummary{WorkflowID: ev.WorkflowID, Status: "active"}
	if ev.WorkflowType != "" {
		cs.workflowType = ev.WorkflowType
	}
	msg := fmt.Sprintf("Workflow started with %d research questions", ev.TotalQuestions)
	if ev.ResearchFocus != "" {
		msg += ": " + ev.ResearchFocus
	}
	r.addComm(cs, Comm{From: systemActor, To: "team", Type: "system", Message: msg})
	return []Stream{StreamComms}
}

func (r *Reconciler) onWorkflowStepStarted(cs *chatState, ev WorkflowStepStarted) []Stream {
	cs.workflow.CurrentStep = ev.TaskType
	cs.workflow.StepNumber = ev.StepNumber
	cs.workflow.Agent = ev.Agent
	r.addOperation(cs, Operation{
		ID:     stepOperationID(ev.WorkflowID, ev.StepNumber),
		Agent:  ev.Agent,
		Type:   "workflow_step",
		Title:  fmt.Sprintf("Step %d: %s", ev.StepNumber, ev.TaskType),
		Status: "processing",
	})

	streams := []Stream{StreamOperations}
	if t := cs.taskByID(synthesisTaskID); t != nil && isSynthesis(ev.TaskType) {
		t.Status = TaskInProgress
		t.Agent = ev.Agent
		t.UpdatedAt = r.now()
		streams = append(streams, StreamTasks)
	}
	return streams
}

func (r *Reconciler) onWorkflowStepCompleted(cs *chatState, ev WorkflowStepCompleted) []Stream {
	if op := cs.operation(stepOperationID(ev.WorkflowID, ev.StepNumber)); op != nil {
		op.Status = "complete"
		op.Timestamp = r.now()
	} else {
		r.addOperation(cs, Operation{
			ID:     stepOperationID(ev.WorkflowID, ev.StepNumber),
			Agent:  ev.Agent,
			Type:   "workflow_step",
			Title:  fmt.Sprintf("Step %d: %s", ev.StepNumber, ev.TaskType),
			Status: "complete",
		})
	}

	streams := []Stream{StreamOperations}
	if t := cs.taskByID(synthesisTaskID); t != nil && isSynthesis(ev.TaskType) {
		t.Status = TaskCompleted
		t.Progress = 100
		t.UpdatedAt = r.now()
		streams = append(streams, StreamTasks)
	}
	return streams
}

func (r *Reconciler) onWorkflowCompleted(cs *chatState, ev WorkflowCompleted) []Stream {
	cs.workflow.Status = "completed"
	cs.workflow.CurrentStep = ""
	cs.mission = MissionCompleted
	r.completeMission(cs, map[string]any{
		"questions_answered": ev.QuestionsAnswered,
		"deliverables":       ev.Deliverables,
	})
	r.addComm(cs, Comm{
		From:    systemActor,
		To:      "team",
		Type:    "system",
		Message: fmt.Sprintf("Workflow completed: %d questions answered, %d deliverables", ev.QuestionsAnswered, ev.Deliverables),
	})
	return []Stream{StreamTasks, StreamComms, StreamQuestions}
}

func (r *Reconciler) onWorkflowFailed(cs *chatState, ev WorkflowFailed) []Stream {
	cs.workflow.Status = "failed"
	cs.workflow.Error = ev.Error
	cs.workflow.Agent = ev.Agent
	cs.workflow.CurrentStep = ev.Step

	for _, q := range cs.questions {
		if q.Status == QuestionStatusActive {
			r.setQuestion(cs, q, QuestionStatusFailed, q.Progress, "failed", "")
		}
	}
	if t := cs.taskByID(synthesisTaskID); t != nil && t.Status == TaskInProgress {
		t.Status = TaskFailed
		t.UpdatedAt = r.now()
	}

	r.addComm(cs, Comm{
		From:    actorOr(ev.Agent),
		To:      "team",
		Type:    "error",
		Message: fmt.Sprintf("Workflow failed at %s (%s): %s", ev.Step, ev.Agent, ev.Error),
	})
	return []Stream{StreamTasks, StreamComms, StreamQuestions}
}

// completeMission closes every task and question and appends the completion
// entry.
func (r *Reconciler) completeMission(cs *chatState, stats map[string]any) {
	now := r.now()
	for _, q := range cs.questions {
		if q.Status != QuestionStatusCompleted {
			r.completeQuestion(cs, q, "")
		}
	}
	for i := range cs.tasks {
		cs.tasks[i].Status = TaskCompleted
		cs.tasks[i].Progress = 100
		cs.tasks[i].UpdatedAt = now
	}
	slices.Sort(cs.answered)
	if cs.taskByID(missionCompleteTaskID) == nil {
		cs.tasks = append(cs.tasks, TaskEntry{
			ID:        missionCompleteTaskID,
			Title:     "Mission complete",
			Status:    TaskCompleted,
			Progress:  100,
			UpdatedAt: now,
		})
	}
	if cs.stats == nil {
		cs.stats = make(map[string]any)
	}
	maps.Copy(cs.stats, stats)
	cs.stats["completed_at"] = now
	cs.stats["total_deliverables"] = len(cs.deliverables)
}

// Deliverables and mission

func (r *Reconciler) onDeliverableCreated(cs *chatState, ev DeliverableCreated) []Stream {
	d := ev.Deliverable
	now := r.now()
	if d.ID == "" {
		d.ID = cs.nextID("deliverable")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	cs.deliverables = append(cs.deliverables, d)

	r.addComm(cs, Comm{
		From:    actorOr(d.Agent),
		To:      "team",
		Type:    "deliverable",
		Message: fmt.Sprintf("New deliverable: %s", d.Title),
	})
	return []Stream{StreamComms}
}

func (r *Reconciler) onDeliverableUpdated(cs *chatState, ev DeliverableUpdated) []Stream {
	d := ev.Deliverable
	now := r.now()
	d.UpdatedAt = now
	for i := range cs.deliverables {
		if cs.deliverables[i].Title == d.Title {
			d.ID = cs.deliverables[i].ID
			d.CreatedAt = cs.deliverables[i].CreatedAt
			cs.deliverables[i] = d
			return nil
		}
	}
	if d.ID == "" {
		d.ID = cs.nextID("deliverable")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	cs.deliverables = append(cs.deliverables, d)
	return nil
}

func (r *Reconciler) onMissionTransition(cs *chatState, ev MissionTransition) []Stream {
	if ev.To.rank() < 0 || ev.To.rank() <= cs.mission.rank() {
		r.logger.Debug("Ignoring mission transition", "from", cs.mission, "to", ev.To)
		return nil
	}
	cs.mission = ev.To

	msg := fmt.Sprintf("Mission %s", strings.ToLower(string(ev.To)))
	if ev.Reason != "" {
		msg += ": " + ev.Reason
	}
	r.addComm(cs, Comm{From: systemActor, To: "team", Type: "mission", Message: msg})

	if ev.To == MissionCompleted {
		r.completeMission(cs, ev.Stats)
		return []Stream{StreamTasks, StreamComms, StreamQuestions}
	}
	return []Stream{StreamComms}
}

// Bounded logs

func (r *Reconciler) addComm(cs *chatState, c Comm) {
	if c.ID == "" {
		c.ID = cs.nextID("comm")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = r.now()
	}
	cs.comms = insertCommBounded(cs.comms, c, r.limits.Comms)
}

// insertCommBounded keeps the log ordered by timestamp, entries with equal
// timestamps in arrival order, and drops the oldest entries beyond limit.
// An entry older than everything in a full log is dropped at once.
func insertCommBounded(s []Comm, c Comm, limit int) []Comm {
	i := sort.Search(len(s), func(i int) bool { return s[i].Timestamp.After(c.Timestamp) })
	s = slices.Insert(s, i, c)
	if over := len(s) - limit; limit > 0 && over > 0 {
		s = slices.Delete(s, 0, over)
	}
	return s
}

func (r *Reconciler) addOperation(cs *chatState, op Operation) {
	if op.ID == "" {
		op.ID = cs.nextID("op")
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = r.now()
	}
	cs.operations = appendBounded(cs.operations, op, r.limits.Operations)
}

// appendBounded appends v and drops the oldest entries beyond limit.
func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; limit > 0 && over > 0 {
		s = slices.Delete(s, 0, over)
	}
	return s
}

func (cs *chatState) nextID(prefix string) string {
	cs.seq++
	return fmt.Sprintf("%s-%d", prefix, cs.seq)
}

// Helpers

func questionTaskID(id int) string {
	return fmt.Sprintf("question-%d", id)
}

func stepOperationID(workflowID string, step int) string {
	return fmt.Sprintf("%s-step-%d", workflowID, step)
}

func questionTitle(id int, text string) string {
	runes := []rune(text)
	if len(runes) > questionTitleMaxLen {
		text = string(runes[:questionTitleMaxLen]) + "..."
	}
	return fmt.Sprintf("Q%d: %s", id, text)
}

func taskStatusFor(s QuestionStatus) TaskStatus {
	switch s {
	case QuestionStatusActive:
		return TaskInProgress
	case QuestionStatusCompleted:
		return TaskCompleted
	case QuestionStatusFailed:
		return TaskFailed
	}
	return TaskPending
}

func isSynthesis(taskType string) bool {
	return taskType == "synthesize_comprehensive_report"
}

func actorOr(name string) string {
	if name == "" {
		return systemActor
	}
	return name
}
