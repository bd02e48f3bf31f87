package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/engine"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", s.listConversations)
	mux.HandleFunc("POST /api/conversations/{conv}/tasks", s.createTask)
	mux.HandleFunc("GET /api/conversations/{conv}/agents", s.listAgents)
	mux.HandleFunc("GET /api/conversations/{conv}/agents/{id}", s.getAgent)
	mux.HandleFunc("POST /api/conversations/{conv}/agents/{id}/feedback", s.feedback)
	mux.HandleFunc("POST /api/conversations/{conv}/agents/{id}/{action}", s.agentAction)
	mux.HandleFunc("GET /api/conversations/{conv}/status", s.getConversationStatus)
	mux.HandleFunc("GET /api/conversations/{conv}/files", s.listFiles)
	mux.HandleFunc("GET /api/conversations/{conv}/files/{path...}", s.getFile)
	mux.HandleFunc("GET /api/conversations/{conv}/deployments", s.listDeployments)

	mux.HandleFunc("GET /api/dependencies", s.listDependencies)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.pool.Conversations(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []string{}
	}
	jsonResponse(w, convs)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task         string            `json:"task"`
		Wait         bool              `json:"wait"`
		Difficulty   int               `json:"difficulty"`
		TemplateVars map[string]string `json:"template_vars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Task) == "" {
		jsonError(w, "task is required", http.StatusBadRequest)
		return
	}

	a, err := s.engine.Submit(r.Context(), r.PathValue("conv"), body.Task, engine.SubmitOptions{
		WaitForSlot:  body.Wait,
		Difficulty:   body.Difficulty,
		TemplateVars: body.TemplateVars,
	})
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.pool.List(r.Context(), r.PathValue("conv"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":           a.ID,
			"parent_id":    a.ParentID,
			"role":         a.Role,
			"status":       a.Status,
			"progress":     a.Progress,
			"step":         a.Step,
			"task":         a.Task,
			"deployed_url": a.DeployedURL,
			"updated":      formatTime(a.UpdatedAt),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.pool.Get(r.Context(), r.PathValue("conv"), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	jsonResponse(w, a)
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.Feedback(r.Context(), r.PathValue("conv"), r.PathValue("id"), body.Message); err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) agentAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, id := r.PathValue("conv"), r.PathValue("id")

	var err error
	resp := map[string]string{"status": "ok"}
	switch r.PathValue("action") {
	case "confirm":
		err = s.engine.Confirm(ctx, conv, id)
	case "cancel":
		err = s.engine.Cancel(ctx, conv, id)
	case "retry":
		err = s.engine.Retry(ctx, conv, id)
	case "rebuild":
		var url string
		url, err = s.engine.Rebuild(ctx, conv, id)
		resp["url"] = url
	default:
		jsonError(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	jsonResponse(w, resp)
}

func (s *Server) getConversationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.pool.Project(r.Context(), r.PathValue("conv"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": status})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	project, ok := s.files.Lookup(r.PathValue("conv"))
	if !ok {
		jsonResponse(w, []any{})
		return
	}
	owners := project.Owners()
	out := make([]map[string]any, 0, len(owners))
	for _, path := range project.List() {
		content, _ := project.Read(path)
		out = append(out, map[string]any{
			"path":  path,
			"owner": owners[path],
			"size":  len(content),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	project, ok := s.files.Lookup(r.PathValue("conv"))
	if !ok {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	path := r.PathValue("path")
	content, ok := project.Read(path)
	if !ok {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"path": path, "owner": project.Owner(path), "content": content})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.store.ListDeployments(r.PathValue("conv"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(deployments))
	for _, d := range deployments {
		entry := map[string]any{
			"id":       d.ID,
			"agent_id": d.AgentID,
			"url":      d.URL,
			"title":    d.Title,
			"created":  formatTime(d.CreatedAt),
		}
		if d.ReviewWarning != "" {
			entry["review_warning"] = d.ReviewWarning
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) listDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.store.MissingDependencies()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, deps)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	convs, _ := s.pool.Conversations(r.Context())
	running := s.engine.Running()

	active := 0
	for _, c := range convs {
		agents, err := s.pool.Active(r.Context(), c)
		if err == nil {
			active += len(agents)
		}
	}

	jsonResponse(w, map[string]any{
		"version":       s.version,
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"conversations": len(convs),
		"active_agents": active,
		"running_loops": len(running),
		"ws_clients":    s.hub.Len(),
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrAgentBusy), errors.Is(err, agent.ErrQuotaExceeded), errors.Is(err, agent.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, agent.ErrCompileFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
