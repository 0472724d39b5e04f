package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
data_dir: /var/lib/toolplan
registry: tools.yaml
executor:
  max_retries: 3
  backoff_base: 100ms
  step_timeout: 5s
  plan_deadline: 30s
  max_concurrency: 8
cache:
  backend: redis
  addr: localhost:6379
breaker:
  window: 2m
  buckets: 4
  min_requests: 10
  failure_threshold: 0.5
  cooldown: 30s
scheduler:
  approvers: [ops]
  max_jobs_per_user: 3
  jobs:
    - name: nightly
      schedule: "@daily"
      request: list tasks
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/toolplan" || cfg.Registry != "tools.yaml" {
		t.Errorf("paths = %q %q", cfg.DataDir, cfg.Registry)
	}

	pol, err := cfg.Executor.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if pol.MaxRetries != 3 || pol.BackoffBase != 100*time.Millisecond {
		t.Errorf("policy = %+v", pol)
	}
	timeout, err := cfg.Executor.StepTimeoutDuration()
	if err != nil || timeout != 5*time.Second {
		t.Errorf("step timeout = %v, %v", timeout, err)
	}
	deadline, err := cfg.Executor.PlanDeadlineDuration()
	if err != nil || deadline != 30*time.Second {
		t.Errorf("plan deadline = %v, %v", deadline, err)
	}

	if cfg.Cache.Backend != "redis" || cfg.Cache.Addr != "localhost:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}

	breaker, err := cfg.Breaker.Build()
	if err != nil {
		t.Fatal(err)
	}
	if breaker.Window != 2*time.Minute || breaker.Buckets != 4 || breaker.FailureThreshold != 0.5 {
		t.Errorf("breaker = %+v", breaker)
	}

	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Name != "nightly" {
		t.Errorf("scheduler jobs = %+v", cfg.Scheduler.Jobs)
	}
	if cfg.Scheduler.MaxJobsPerUser != 3 {
		t.Errorf("max jobs per user = %d", cfg.Scheduler.MaxJobsPerUser)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`registry: tools.yaml`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "data" {
		t.Errorf("data_dir = %q, want data", cfg.DataDir)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q, want memory", cfg.Cache.Backend)
	}
	pol, err := cfg.Executor.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if pol.MaxRetries != 2 || pol.BackoffBase != 250*time.Millisecond {
		t.Errorf("default policy = %+v", pol)
	}
	timeout, _ := cfg.Executor.StepTimeoutDuration()
	if timeout != 10*time.Second {
		t.Errorf("default step timeout = %v", timeout)
	}
	deadline, _ := cfg.Executor.PlanDeadlineDuration()
	if deadline != 0 {
		t.Errorf("default plan deadline = %v, want 0 (none)", deadline)
	}
	breaker, err := cfg.Breaker.Build()
	if err != nil {
		t.Fatal(err)
	}
	if breaker.Window != 5*time.Minute || breaker.MinRequests != 50 {
		t.Errorf("default breaker = %+v", breaker)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("TOOLPLAN_DATA", "/srv/tp")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	cfg, err := Parse([]byte(`
data_dir: ${TOOLPLAN_DATA}
cache:
  backend: redis
  addr: ${REDIS_ADDR}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/srv/tp" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Cache.Addr != "redis.internal:6379" {
		t.Errorf("cache addr = %q", cfg.Cache.Addr)
	}
}

func TestParseUnsetEnvLeftVerbatim(t *testing.T) {
	cfg, err := Parse([]byte("data_dir: ${TOOLPLAN_UNSET_VAR}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "${TOOLPLAN_UNSET_VAR}" {
		t.Errorf("data_dir = %q, want placeholder kept", cfg.DataDir)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "cache:\n  backend: memcached\n", "unknown cache backend"},
		{"redis without addr", "cache:\n  backend: redis\n", "cache.addr is required"},
		{"bad duration", "executor:\n  step_timeout: soon\n", "step_timeout"},
		{"negative retries", "executor:\n  max_retries: -1\n", "max_retries"},
		{"bad breaker window", "breaker:\n  window: wide\n", "breaker.window"},
		{"zero breaker window", "breaker:\n  window: 0s\n", "breaker.window"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}
}
