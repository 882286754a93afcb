package store

import (
	"testing"
	"time"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	started := time.Now().Truncate(time.Second)

	if err := s.BeginRun("run-1", "main", started); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	r, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Entry != "main" || r.Status != "running" || r.FinishedAt != nil {
		t.Errorf("run = %+v", r)
	}

	finished := started.Add(2 * time.Second)
	if err := s.FinishRun("run-1", "completed", "approved", finished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	r, err = s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != "completed" || r.Result != "approved" || r.FinishedAt == nil {
		t.Errorf("finished run = %+v", r)
	}
}

func TestDuplicateRunID(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "main", time.Now()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.BeginRun("run-1", "main", time.Now()); err == nil {
		t.Error("duplicate run_id did not error")
	}
}

func TestEventsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "main", time.Now()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	events := []streetrace.Event{
		{Type: streetrace.EventRunStarted, RunID: "run-1", Message: "main", Time: time.Now()},
		{Type: streetrace.EventRetry, RunID: "run-1", Agent: "judge", Attempt: 2, Err: "not json", Time: time.Now()},
		{Type: streetrace.EventRunFinished, RunID: "run-1", Message: "completed", Time: time.Now()},
	}
	for i, ev := range events {
		if err := s.RecordEvent("run-1", i+1, ev); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	got, err := s.ListEvents("run-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Type != streetrace.EventRunStarted || got[2].Type != streetrace.EventRunFinished {
		t.Errorf("event order: %v, %v", got[0].Type, got[2].Type)
	}
	if got[1].Agent != "judge" || got[1].Attempt != 2 || got[1].Err != "not json" {
		t.Errorf("retry event lost fields: %+v", got[1])
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := s.BeginRun(id, "main", time.Now()); err != nil {
			t.Fatalf("BeginRun %s: %v", id, err)
		}
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Errorf("order = %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestStoreUsableAsRecorder(t *testing.T) {
	var _ streetrace.RunRecorder = openTestStore(t)
}
