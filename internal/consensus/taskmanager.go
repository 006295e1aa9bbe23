// Package consensus implements the validation-task manager and the
// Submitted -> Validating -> Processing -> Finalized workflow of spec
// §4.4-§4.5, wiring the mempool and the events bus together without
// either side holding a back-reference to the other.
package consensus

import (
	"fmt"
	"sync"
)

// Task is one validator's outstanding obligation to validate a raw
// transaction (spec §4.4).
type Task struct {
	RawTxID     string
	ValidatorID string
	Complete    bool
}

// Name returns the task's unique identifier.
func (t *Task) Name() string {
	return TaskName(t.RawTxID, t.ValidatorID)
}

// TaskName builds the canonical "{raw_tx_id}:{validator_id}:validate" name.
func TaskName(rawTxID, validatorID string) string {
	return fmt.Sprintf("%s:%s:validate", rawTxID, validatorID)
}

// TaskManager holds per-validator queues of validation tasks (spec §4.4).
// It has no persistence of its own: tasks live only in memory, and nothing
// in this package rebuilds them from the mempool's raw records after a
// restart.
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]map[string]*Task // validatorID -> taskName -> Task
}

// NewTaskManager returns an empty TaskManager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]map[string]*Task)}
}

// CreateTasks produces one task per validator in validators, all
// incomplete, and returns them without storing them (spec §4.4).
func CreateTasks(rawTxID string, validators []string) []*Task {
	out := make([]*Task, 0, len(validators))
	for _, v := range validators {
		out = append(out, &Task{RawTxID: rawTxID, ValidatorID: v})
	}
	return out
}

// Assign stores each task in its validator's queue.
func (m *TaskManager) Assign(tasks []*Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		q := m.tasks[t.ValidatorID]
		if q == nil {
			q = make(map[string]*Task)
			m.tasks[t.ValidatorID] = q
		}
		q[t.Name()] = t
	}
}

// Complete marks the named task done for validatorID and reports whether
// this call was the one that did so. A missing task is a silent no-op
// (false) — validators may crash and retry (spec §4.4). A task already
// marked complete also reports false, so a validator's repeat completion
// (e.g. a retried request after a crash mid-round-trip) is distinguishable
// from its first: callers use this to avoid double-recording the same
// validator's timestamp.
func (m *TaskManager) Complete(validatorID, taskName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.tasks[validatorID]
	if q == nil {
		return false
	}
	t, ok := q[taskName]
	if !ok || t.Complete {
		return false
	}
	t.Complete = true
	return true
}

// Get looks up the named task for validatorID, or returns nil.
func (m *TaskManager) Get(validatorID, taskName string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.tasks[validatorID]
	if q == nil {
		return nil
	}
	return q[taskName]
}
