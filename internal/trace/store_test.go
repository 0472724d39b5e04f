package trace

import (
	"context"
	"testing"
	"time"

	"github.com/toolplan/toolplan/internal/executor"
	"github.com/toolplan/toolplan/internal/policy"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func sampleResult() *executor.Result {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &executor.Result{
		RunID:      "run_test-1234",
		Status:     executor.PlanPartial,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Steps: []executor.StepResult{
			{
				StepID:     "s1",
				Tool:       "add_numbers",
				Status:     executor.StepSucceeded,
				Output:     5.0,
				Attempts:   1,
				StartedAt:  start,
				FinishedAt: start.Add(time.Second),
			},
			{
				StepID:       "s2",
				Tool:         "add_task",
				Status:       executor.StepFailed,
				ErrorCode:    policy.CodeToolFailure,
				ErrorMessage: "disk full",
				Attempts:     3,
			},
			{
				StepID:    "s3",
				Tool:      "list_tasks",
				Status:    executor.StepSkipped,
				ErrorCode: policy.CodeSkipped,
			},
		},
		Events: []executor.Event{
			{Time: start, StepID: "s1", Type: executor.EventStepStarted},
			{Time: start.Add(time.Second), StepID: "s1", Type: executor.EventStepSucceeded},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	want := sampleResult()
	if err := store.SaveRun(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, want.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != want.Status {
		t.Errorf("status = %s, want %s", got.Status, want.Status)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(got.Steps))
	}
	// Steps come back in execution order.
	for i, id := range []string{"s1", "s2", "s3"} {
		if got.Steps[i].StepID != id {
			t.Errorf("step[%d] = %s, want %s", i, got.Steps[i].StepID, id)
		}
	}
	if got.Steps[0].Output != 5.0 {
		t.Errorf("s1 output = %v, want 5", got.Steps[0].Output)
	}
	if got.Steps[1].ErrorCode != policy.CodeToolFailure || got.Steps[1].Attempts != 3 {
		t.Errorf("s2 = %+v", got.Steps[1])
	}
	if got.Steps[2].Status != executor.StepSkipped {
		t.Errorf("s3 status = %s", got.Steps[2].Status)
	}
	if len(got.Events) != 2 {
		t.Errorf("events = %d, want 2", len(got.Events))
	}
}

func TestReopenKeepsDataAndSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(db)
	res := sampleResult()
	if err := store.SaveRun(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := NewStore(db).GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 3 {
		t.Errorf("steps after reopen = %d, want 3", len(got.Steps))
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.GetRun(context.Background(), "run_missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	older := sampleResult()
	older.RunID = "run_old"
	newer := sampleResult()
	newer.RunID = "run_new"
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	newer.FinishedAt = newer.StartedAt.Add(time.Second)

	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(ctx, newer); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].RunID != "run_new" || runs[1].RunID != "run_old" {
		t.Errorf("order = [%s %s], want [run_new run_old]", runs[0].RunID, runs[1].RunID)
	}
	if runs[0].Steps != 3 {
		t.Errorf("step count = %d, want 3", runs[0].Steps)
	}
}

func TestDeleteRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	res := sampleResult()
	if err := store.SaveRun(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteRun(ctx, res.RunID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRun(ctx, res.RunID); err == nil {
		t.Fatal("run should be gone")
	}
}
