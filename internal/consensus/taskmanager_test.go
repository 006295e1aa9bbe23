package consensus

import "testing"

func TestCreateTasksOnePerValidator(t *testing.T) {
	tasks := CreateTasks("raw1", []string{"v1", "v2", "v3"})
	if len(tasks) != 3 {
		t.Fatalf("len = %d, want 3", len(tasks))
	}
	for _, task := range tasks {
		if task.Complete {
			t.Fatalf("task %s created already complete", task.Name())
		}
	}
}

func TestTaskNameFormat(t *testing.T) {
	got := TaskName("raw1", "v1")
	want := "raw1:v1:validate"
	if got != want {
		t.Fatalf("task name = %q, want %q", got, want)
	}
}

func TestCompleteUnknownTaskIsNoOp(t *testing.T) {
	m := NewTaskManager()
	if m.Complete("v1", "raw1:v1:validate") {
		t.Fatalf("expected Complete on an unknown task to report false")
	}
	if got := m.Get("v1", "raw1:v1:validate"); got != nil {
		t.Fatalf("expected no task to exist, got %+v", got)
	}
}

func TestAssignThenCompleteThenGet(t *testing.T) {
	m := NewTaskManager()
	tasks := CreateTasks("raw1", []string{"v1", "v2"})
	m.Assign(tasks)

	if !m.Complete("v1", TaskName("raw1", "v1")) {
		t.Fatalf("expected first completion to report true")
	}

	got := m.Get("v1", TaskName("raw1", "v1"))
	if got == nil || !got.Complete {
		t.Fatalf("expected task v1 to be complete, got %+v", got)
	}
	other := m.Get("v2", TaskName("raw1", "v2"))
	if other == nil || other.Complete {
		t.Fatalf("expected task v2 to remain incomplete, got %+v", other)
	}
}

func TestCompleteTwiceReportsFalseOnRepeat(t *testing.T) {
	m := NewTaskManager()
	tasks := CreateTasks("raw1", []string{"v1"})
	m.Assign(tasks)

	if !m.Complete("v1", TaskName("raw1", "v1")) {
		t.Fatalf("expected first completion to report true")
	}
	if m.Complete("v1", TaskName("raw1", "v1")) {
		t.Fatalf("expected repeat completion to report false")
	}
}
