package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/toolplan/toolplan/internal/metrics"
)

// PlanRunner plans and executes a natural-language request. Implemented by
// the engine wiring in cmd; returns the run id.
type PlanRunner interface {
	RunRequest(ctx context.Context, request string) (string, error)
}

// Job is a recurring plan run. Schedule takes a standard 5-field cron
// expression or a descriptor such as "@every 15m" or "@hourly".
type Job struct {
	Name      string `yaml:"name" json:"name"`
	Schedule  string `yaml:"schedule" json:"schedule"`
	Request   string `yaml:"request" json:"request"`
	Paused    bool   `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source    string `yaml:"source,omitempty" json:"source,omitempty"`         // "config" or "dynamic"
	CreatedBy string `yaml:"created_by,omitempty" json:"created_by,omitempty"` // user who created the job
}

var (
	ErrConfigProtected = fmt.Errorf("config-defined jobs cannot be modified or removed")
	ErrNotAuthorized   = fmt.Errorf("not authorized: only designated approvers can manage scheduled jobs")
)

func (j *Job) validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Request == "" {
		return fmt.Errorf("job %q: request is required", j.Name)
	}
	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	return nil
}

type scheduledJob struct {
	job     Job
	entryID cron.EntryID // zero while paused
}

// Scheduler triggers recurring plan runs. Config-defined jobs are immutable
// at runtime; dynamic jobs persist under the data directory and survive
// restarts.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	runner  PlanRunner
	metrics *metrics.Metrics
	dataDir string
	cron    *cron.Cron

	approvers      map[string]bool
	maxJobsPerUser int

	runTimeout time.Duration
}

func New(runner PlanRunner, dataDir string) *Scheduler {
	return NewWithPolicy(runner, dataDir, nil, 0)
}

// NewWithPolicy creates a scheduler with governance rules. approvers: if
// non-empty, only listed users can create/delete/update dynamic jobs.
// maxPerUser: if > 0, limits dynamic jobs per user.
func NewWithPolicy(runner PlanRunner, dataDir string, approvers []string, maxPerUser int) *Scheduler {
	aMap := make(map[string]bool, len(approvers))
	for _, a := range approvers {
		aMap[a] = true
	}
	return &Scheduler{
		jobs:           make(map[string]*scheduledJob),
		runner:         runner,
		dataDir:        dataDir,
		cron:           cron.New(),
		approvers:      aMap,
		maxJobsPerUser: maxPerUser,
		runTimeout:     5 * time.Minute,
	}
}

// SetMetrics wires run counters; safe to skip.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Scheduler) isApprover(userID string) bool {
	if len(s.approvers) == 0 {
		return true
	}
	return s.approvers[userID]
}

func (s *Scheduler) countUserJobs(userID string) int {
	count := 0
	for _, sj := range s.jobs {
		if sj.job.Source == "dynamic" && sj.job.CreatedBy == userID {
			count++
		}
	}
	return count
}

// Start loads static jobs and persisted dynamic jobs, then starts the cron
// loop.
func (s *Scheduler) Start(staticJobs []Job) error {
	for i := range staticJobs {
		staticJobs[i].Source = "config"
		if err := s.add(staticJobs[i]); err != nil {
			log.Printf("scheduler: skipping static job %q: %v", staticJobs[i].Name, err)
		}
	}

	dynamicJobs, err := s.loadDynamic()
	if err != nil {
		log.Printf("scheduler: loading dynamic jobs: %v", err)
	}
	for _, j := range dynamicJobs {
		j.Source = "dynamic"
		if err := s.add(j); err != nil {
			log.Printf("scheduler: skipping dynamic job %q: %v", j.Name, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// AddJob creates a new dynamic job at runtime.
func (s *Scheduler) AddJob(job Job, userID string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	job.Source = "dynamic"
	job.CreatedBy = userID

	if s.maxJobsPerUser > 0 {
		s.mu.RLock()
		count := s.countUserJobs(userID)
		s.mu.RUnlock()
		if count >= s.maxJobsPerUser {
			return fmt.Errorf("job limit reached: user %q already has %d jobs (max %d)", userID, count, s.maxJobsPerUser)
		}
	}

	if err := s.add(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// RemoveJob stops and removes a job by name. Config-defined jobs cannot be
// removed.
func (s *Scheduler) RemoveJob(name, userID string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if sj.job.Source == "config" {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	if sj.entryID != 0 {
		s.cron.Remove(sj.entryID)
	}
	delete(s.jobs, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

// PauseJob unschedules a job without forgetting it.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if sj.entryID != 0 {
		s.cron.Remove(sj.entryID)
		sj.entryID = 0
	}
	sj.job.Paused = true
	s.mu.Unlock()

	return s.persistDynamic()
}

// ResumeJob puts a paused job back on the schedule.
func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if !sj.job.Paused {
		s.mu.Unlock()
		return fmt.Errorf("job %q is not paused", name)
	}
	sj.job.Paused = false
	job := sj.job
	s.mu.Unlock()

	if err := s.schedule(sj, job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// UpdateJob changes the schedule and/or request of a dynamic job.
func (s *Scheduler) UpdateJob(name, userID string, schedule, request *string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if sj.job.Source == "config" {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	if sj.entryID != 0 {
		s.cron.Remove(sj.entryID)
		sj.entryID = 0
	}
	if schedule != nil {
		sj.job.Schedule = *schedule
	}
	if request != nil {
		sj.job.Request = *request
	}
	sj.job.Paused = false
	job := sj.job
	s.mu.Unlock()

	if err := job.validate(); err != nil {
		return err
	}
	if err := s.schedule(sj, job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// ListJobs returns all registered jobs sorted by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, sj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetJob returns a job by name.
func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, ok := s.jobs[name]
	if !ok {
		return Job{}, false
	}
	return sj.job, true
}

func (s *Scheduler) add(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %q already exists", job.Name)
	}
	sj := &scheduledJob{job: job}
	s.jobs[job.Name] = sj
	s.mu.Unlock()

	if job.Paused {
		return nil
	}
	return s.schedule(sj, job)
}

func (s *Scheduler) schedule(sj *scheduledJob, job Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.executeJob(job) })
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}
	s.mu.Lock()
	sj.entryID = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) executeJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	runID, err := s.runner.RunRequest(ctx, job.Request)
	if err != nil {
		log.Printf("scheduler: job %q: %v", job.Name, err)
		return
	}
	s.metrics.ObserveScheduledRun(job.Name)
	log.Printf("scheduler: job %q completed run %s", job.Name, runID)
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	s.mu.RLock()
	var dynamicJobs []Job
	for _, sj := range s.jobs {
		if sj.job.Source == "dynamic" {
			dynamicJobs = append(dynamicJobs, sj.job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(dynamicJobs, func(i, j int) bool { return dynamicJobs[i].Name < dynamicJobs[j].Name })

	dir := filepath.Dir(s.persistPath())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}

	data, err := yaml.Marshal(dynamicJobs)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}

	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Job, error) {
	if s.dataDir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}
