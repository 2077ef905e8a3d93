package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

// registerAPIRoutes registers the authenticated REST routes.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.addDependency)
	mux.HandleFunc("GET /api/tasks/{id}/notifications", s.listNotifications)
	mux.HandleFunc("POST /api/tasks/{id}/dispatch", s.dispatchTask)

	mux.HandleFunc("POST /api/ask", s.ask)
	mux.HandleFunc("POST /api/goals", s.submitGoal)
	mux.HandleFunc("GET /api/history", s.listHistory)
	mux.HandleFunc("GET /api/handlers", s.listHandlers)

	mux.HandleFunc("POST /api/backup", s.backup)
	mux.HandleFunc("POST /api/restore", s.restore)

	mux.HandleFunc("GET /api/version", s.handleVersion)
}

// storeError maps a task store error onto an HTTP response.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, task.ErrCycle):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Task handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	if v := q.Get("status"); v != "" {
		st := task.Status(v)
		filter.Status = &st
	}
	if v := q.Get("priority"); v != "" {
		p := task.Priority(v)
		filter.Priority = &p
	}
	if v := q.Get("handler"); v != "" {
		filter.Handler = v
	}
	if v := q.Get("parent_id"); v != "" {
		filter.ParentID = v
	}
	if v := q.Get("tag"); v != "" {
		filter.Tag = v
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := s.tasks.List(filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := s.tasks.Create(&t)
	if err != nil {
		storeError(w, err)
		return
	}
	t.ID = id
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// updateTask applies a partial update. Status changes must follow the task
// state machine; everything else is merged as-is.
func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.tasks.Get(id)
	if err != nil {
		storeError(w, err)
		return
	}
	prior := existing.Status

	// Decode partial update over existing task
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	existing.ID = id // ensure ID is not overwritten

	if existing.Status != prior && !task.CanTransition(prior, existing.Status) {
		writeJSONError(w, http.StatusConflict,
			"cannot transition task from "+string(prior)+" to "+string(existing.Status))
		return
	}

	if err := s.tasks.Update(existing); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.PathValue("id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dependencyRequest is the body accepted by POST /api/tasks/{id}/dependencies.
type dependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

func (s *Server) addDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DependsOn == "" {
		writeJSONError(w, http.StatusBadRequest, "depends_on is required")
		return
	}
	if err := s.tasks.AddDependency(r.PathValue("id"), req.DependsOn); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	notifications := t.Notifications
	if notifications == nil {
		notifications = []task.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// dispatchTask submits an existing task to the work queue. Tasks whose
// dependencies are unfinished are rejected.
func (s *Server) dispatchTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.tasks.Get(id)
	if err != nil {
		storeError(w, err)
		return
	}
	if t.Status.Terminal() {
		writeJSONError(w, http.StatusConflict, "task is already "+string(t.Status))
		return
	}

	g := task.NewGraph(s.tasks.Get)
	ready, blocking, err := g.Ready(id)
	if err != nil {
		storeError(w, err)
		return
	}
	if !ready {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "task has unfinished dependencies",
			"blocking": blocking,
		})
		return
	}

	query := t.Description
	if query == "" {
		query = t.Title
	}
	if err := s.supervisor.Enqueue(dispatch.WorkItem{
		TaskID:          id,
		Query:           query,
		AssignedHandler: t.AssignedHandler,
	}); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task_id": id})
}

// --- Dispatch handlers ---

// askRequest is the body accepted by POST /api/ask.
type askRequest struct {
	Query   string `json:"query"`
	TaskID  string `json:"task_id,omitempty"`
	Handler string `json:"handler,omitempty"`
}

// ask enqueues a free-form query for dispatch. The response arrives on the
// event stream once a handler finishes.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	if err := s.supervisor.Enqueue(dispatch.WorkItem{
		TaskID:          req.TaskID,
		Query:           req.Query,
		AssignedHandler: req.Handler,
	}); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// goalRequest is the body accepted by POST /api/goals.
type goalRequest struct {
	Goal string `json:"goal"`
}

// submitGoal decomposes a complex goal into a parent task with subtasks.
func (s *Server) submitGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	parentID, err := s.supervisor.EnqueueComplexGoal(r.Context(), req.Goal)
	if err != nil {
		if errors.Is(err, task.ErrValidation) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"parent_id": parentID})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	et := comms.EventType(r.URL.Query().Get("type"))
	if et == "" {
		et = comms.TypeExchange
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events := s.bus.Recent(et, limit)
	if events == nil {
		events = []*comms.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listHandlers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// --- Backup handlers ---

// backupRequest is the body accepted by POST /api/backup and /api/restore.
type backupRequest struct {
	Path string `json:"path"`
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.tasks.Backup(req.Path); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.tasks.Restore(req.Path); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

// --- Status / version ---

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
