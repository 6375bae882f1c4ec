package state

import "slices"

// read runs fn with the chat's state locked.
func (r *Reconciler) read(chatID string, fn func(cs *chatState)) {
	c := r.chat(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.st)
}

// Tasks returns the chat's user-visible task list.
func (r *Reconciler) Tasks(chatID string) []TaskEntry {
	var out []TaskEntry
	r.read(chatID, func(cs *chatState) { out = nonNil(slices.Clone(cs.tasks)) })
	return out
}

// Comms returns the chat's conversation log, oldest first.
func (r *Reconciler) Comms(chatID string) []Comm {
	var out []Comm
	r.read(chatID, func(cs *chatState) { out = nonNil(slices.Clone(cs.comms)) })
	return out
}

// Operations returns the chat's operations log, oldest first.
func (r *Reconciler) Operations(chatID string) []Operation {
	var out []Operation
	r.read(chatID, func(cs *chatState) { out = nonNil(slices.Clone(cs.operations)) })
	return out
}

// Deliverables returns the chat's deliverables.
func (r *Reconciler) Deliverables(chatID string) []Deliverable {
	var out []Deliverable
	r.read(chatID, func(cs *chatState) { out = nonNil(slices.Clone(cs.deliverables)) })
	return out
}

// MissionState returns the chat's mission lifecycle state.
func (r *Reconciler) MissionState(chatID string) MissionState {
	var out MissionState
	r.read(chatID, func(cs *chatState) { out = cs.mission })
	return out
}

// Questions returns the question workflow status of the chat.
func (r *Reconciler) Questions(chatID string) QuestionView {
	var out QuestionView
	r.read(chatID, func(cs *chatState) { out = cs.questionView() })
	return out
}

// PlannerConversation returns the planner's dialogue state for the chat.
func (r *Reconciler) PlannerConversation(chatID string) PlannerConversation {
	var out PlannerConversation
	r.read(chatID, func(cs *chatState) {
		out = PlannerConversation{
			Stage:    cs.planner.Stage,
			Messages: slices.Clone(cs.planner.Messages),
			Plan:     cs.planner.Plan,
		}
	})
	return out
}

// Workflow returns the chat's current or last workflow summary.
func (r *Reconciler) Workflow(chatID string) WorkflowSummary {
	var out WorkflowSummary
	r.read(chatID, func(cs *chatState) { out = cs.workflow })
	return out
}

// Snapshot returns a consistent copy of the chat's full state.
func (r *Reconciler) Snapshot(chatID string) Snapshot {
	var out Snapshot
	r.read(chatID, func(cs *chatState) { out = cs.snapshot(chatID) })
	return out
}

// View returns the current data of one stream, as Notify would deliver it.
func (r *Reconciler) View(chatID string, stream Stream) any {
	var out any
	r.read(chatID, func(cs *chatState) { out = cs.view(stream) })
	return out
}
