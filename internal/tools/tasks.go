package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/toolplan/toolplan/internal/policy"
)

// Task is one entry in the persistent task list.
type Task struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	Done        bool      `json:"done"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskStore persists tasks as a JSON file under the data directory. All
// mutations write through to disk so a crashed run loses nothing.
type TaskStore struct {
	mu     sync.Mutex
	path   string
	tasks  []Task
	nextID int
}

func NewTaskStore(dataDir string) (*TaskStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("tasks: create data dir: %w", err)
	}
	s := &TaskStore{path: filepath.Join(dataDir, "tasks.json"), nextID: 1}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TaskStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tasks: read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &s.tasks); err != nil {
		return fmt.Errorf("tasks: parse %s: %w", s.path, err)
	}
	for _, t := range s.tasks {
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
	return nil
}

func (s *TaskStore) save() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tasks: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

func (s *TaskStore) addTask(_ context.Context, input map[string]any) (any, error) {
	desc, _ := input["description"].(string)
	if desc == "" {
		return nil, policy.Fatal(policy.CodeToolFailure, "description is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Task{ID: s.nextID, Description: desc, CreatedAt: time.Now().UTC()}
	s.nextID++
	s.tasks = append(s.tasks, t)
	if err := s.save(); err != nil {
		// Disk trouble may clear up; let the retry policy decide.
		return nil, policy.Transient(policy.CodeToolFailure, "%v", err)
	}
	return map[string]any{
		"id":      t.ID,
		"message": fmt.Sprintf("Added task #%d: %q", t.ID, t.Description),
	}, nil
}

func (s *TaskStore) listTasks(_ context.Context, input map[string]any) (any, error) {
	includeDone, _ := input["include_done"].(bool)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Done && !includeDone {
			continue
		}
		out = append(out, map[string]any{
			"id":          t.ID,
			"description": t.Description,
			"done":        t.Done,
		})
	}
	return out, nil
}

func (s *TaskStore) completeTask(_ context.Context, input map[string]any) (any, error) {
	id, err := intArg(input, "id")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Done = true
			if err := s.save(); err != nil {
				return nil, policy.Transient(policy.CodeToolFailure, "%v", err)
			}
			return map[string]any{"id": id, "message": fmt.Sprintf("Completed task #%d", id)}, nil
		}
	}
	return nil, policy.Fatal(policy.CodeToolFailure, "no task with id %d", id)
}

func (s *TaskStore) deleteTask(_ context.Context, input map[string]any) (any, error) {
	id, err := intArg(input, "id")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			if err := s.save(); err != nil {
				return nil, policy.Transient(policy.CodeToolFailure, "%v", err)
			}
			return map[string]any{"id": id, "message": fmt.Sprintf("Deleted task #%d", id)}, nil
		}
	}
	return nil, policy.Fatal(policy.CodeToolFailure, "no task with id %d", id)
}

func intArg(input map[string]any, name string) (int, error) {
	n, err := numArg(input, name)
	if err != nil {
		return 0, err
	}
	if n != float64(int(n)) {
		return 0, policy.Fatal(policy.CodeToolFailure, "argument %q must be an integer", name)
	}
	return int(n), nil
}
