package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcravey/gantry/internal/apierror"
	"github.com/dcravey/gantry/internal/middleware"
)

// Task is one unit of work tracked by the API.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskStore is the in-memory task repository. All access is guarded by
// one RWMutex; list and search return copies so callers never alias the
// stored values.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string // insertion order, for stable listings
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]Task)}
}

// Create stores a new task and returns it with its generated ID.
func (s *TaskStore) Create(t Task) Task {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = "open"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return t
}

// Get returns the task by ID.
func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// List returns up to limit tasks in insertion order, optionally filtered
// by status. limit <= 0 means no cap.
func (s *TaskStore) List(status string, limit int) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Search returns up to limit tasks whose name or description contains q,
// case-insensitively, ordered by priority (highest first).
func (s *TaskStore) Search(q string, limit int) []Task {
	q = strings.ToLower(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Task
	for _, id := range s.order {
		t := s.tasks[id]
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountByStatus returns the number of tasks per status.
func (s *TaskStore) CountByStatus() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}

// CreateTask creates a task from the validated body. The name is
// guaranteed present by the route schema; priority and description are
// optional.
//
//	POST /v1/tasks
func CreateTask(store *TaskStore) http.Handler {
	return middleware.E(func(w http.ResponseWriter, r *http.Request) error {
		v := middleware.ValidatedFromContext(r.Context())
		id, _ := middleware.IdentityFromContext(r.Context())

		t := Task{
			Name:      v.Body["name"].(string),
			Priority:  3,
			CreatedBy: id.UserID,
		}
		if desc, ok := v.Body["description"].(string); ok {
			t.Description = desc
		}
		if p, ok := v.Body["priority"].(int); ok {
			t.Priority = p
		}
		if status, ok := v.Body["status"].(string); ok {
			t.Status = status
		}

		created := store.Create(t)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		return json.NewEncoder(w).Encode(created)
	})
}

// ListTasks lists tasks, honoring the validated status and limit query
// parameters.
//
//	GET /v1/tasks
func ListTasks(store *TaskStore) http.Handler {
	return middleware.E(func(w http.ResponseWriter, r *http.Request) error {
		v := middleware.ValidatedFromContext(r.Context())

		status, _ := v.Query["status"].(string)
		limit, ok := v.Query["limit"].(int)
		if !ok {
			limit = 50
		}

		tasks := store.List(status, limit)
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]any{
			"tasks": tasks,
			"count": len(tasks),
		})
	})
}

// GetTask fetches one task by its validated path parameter.
//
//	GET /v1/tasks/{id}
func GetTask(store *TaskStore) http.Handler {
	return middleware.E(func(w http.ResponseWriter, r *http.Request) error {
		v := middleware.ValidatedFromContext(r.Context())
		id, _ := v.Params["id"].(string)

		t, ok := store.Get(id)
		if !ok {
			return apierror.NotFound("Task not found")
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(t)
	})
}
