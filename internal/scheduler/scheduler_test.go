package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []string
	err      error
}

func (f *fakeRunner) RunRequest(_ context.Context, request string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, request)
	return "run_fake", nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestAddAndListJobs(t *testing.T) {
	s := New(&fakeRunner{}, t.TempDir())
	if err := s.AddJob(Job{Name: "nightly", Schedule: "@daily", Request: "list tasks"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "am-check", Schedule: "0 9 * * *", Request: "list tasks"}, "alice"); err != nil {
		t.Fatal(err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	// Sorted by name.
	if jobs[0].Name != "am-check" || jobs[1].Name != "nightly" {
		t.Errorf("order = [%s %s]", jobs[0].Name, jobs[1].Name)
	}
	if jobs[0].Source != "dynamic" || jobs[0].CreatedBy != "alice" {
		t.Errorf("job = %+v", jobs[0])
	}
}

func TestAddJobValidation(t *testing.T) {
	s := New(&fakeRunner{}, t.TempDir())
	cases := []Job{
		{Name: "", Schedule: "@daily", Request: "x"},
		{Name: "bad-schedule", Schedule: "not a cron", Request: "x"},
		{Name: "no-request", Schedule: "@daily"},
	}
	for _, job := range cases {
		if err := s.AddJob(job, "alice"); err == nil {
			t.Errorf("job %+v accepted, want error", job)
		}
	}
	if err := s.AddJob(Job{Name: "dup", Schedule: "@daily", Request: "x"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "dup", Schedule: "@daily", Request: "x"}, "alice"); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestConfigJobsAreProtected(t *testing.T) {
	s := New(&fakeRunner{}, t.TempDir())
	if err := s.Start([]Job{{Name: "builtin", Schedule: "@hourly", Request: "list tasks"}}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.RemoveJob("builtin", "alice"); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("remove config job: err = %v, want ErrConfigProtected", err)
	}
	sched := "@daily"
	if err := s.UpdateJob("builtin", "alice", &sched, nil); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("update config job: err = %v, want ErrConfigProtected", err)
	}
}

func TestApproverPolicy(t *testing.T) {
	s := NewWithPolicy(&fakeRunner{}, t.TempDir(), []string{"ops"}, 0)
	job := Job{Name: "j1", Schedule: "@daily", Request: "list tasks"}

	if err := s.AddJob(job, "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("err = %v, want ErrNotAuthorized", err)
	}
	if err := s.AddJob(job, "ops"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("j1", "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("remove: err = %v, want ErrNotAuthorized", err)
	}
}

func TestMaxJobsPerUser(t *testing.T) {
	s := NewWithPolicy(&fakeRunner{}, t.TempDir(), nil, 2)
	for i, name := range []string{"a", "b"} {
		if err := s.AddJob(Job{Name: name, Schedule: "@daily", Request: "x"}, "bob"); err != nil {
			t.Fatalf("job %d: %v", i, err)
		}
	}
	if err := s.AddJob(Job{Name: "c", Schedule: "@daily", Request: "x"}, "bob"); err == nil {
		t.Error("third job accepted, want limit error")
	}
}

func TestPauseAndResume(t *testing.T) {
	s := New(&fakeRunner{}, t.TempDir())
	if err := s.AddJob(Job{Name: "j1", Schedule: "@daily", Request: "x"}, "alice"); err != nil {
		t.Fatal(err)
	}

	if err := s.PauseJob("j1"); err != nil {
		t.Fatal(err)
	}
	job, ok := s.GetJob("j1")
	if !ok || !job.Paused {
		t.Fatalf("job = %+v, want paused", job)
	}

	if err := s.ResumeJob("j1"); err != nil {
		t.Fatal(err)
	}
	job, _ = s.GetJob("j1")
	if job.Paused {
		t.Error("job still paused after resume")
	}
	if err := s.ResumeJob("j1"); err == nil {
		t.Error("resuming a running job should error")
	}
}

func TestDynamicJobsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s := New(&fakeRunner{}, dir)
	if err := s.AddJob(Job{Name: "j1", Schedule: "@daily", Request: "list tasks"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scheduler", "jobs.yaml")); err != nil {
		t.Fatalf("jobs file not written: %v", err)
	}

	restarted := New(&fakeRunner{}, dir)
	if err := restarted.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer restarted.Stop()

	job, ok := restarted.GetJob("j1")
	if !ok {
		t.Fatal("dynamic job lost after restart")
	}
	if job.Request != "list tasks" || job.Source != "dynamic" {
		t.Errorf("job = %+v", job)
	}
}

func TestExecuteJobRunsRequest(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, t.TempDir())
	s.executeJob(Job{Name: "j1", Schedule: "@daily", Request: "list tasks"})
	if runner.count() != 1 {
		t.Fatalf("runner invoked %d times, want 1", runner.count())
	}

	// Runner failures are logged, not fatal.
	s = New(&fakeRunner{err: errors.New("boom")}, t.TempDir())
	s.executeJob(Job{Name: "j1", Schedule: "@daily", Request: "list tasks"})
}
