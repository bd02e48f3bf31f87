package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/webforge/internal/agent"
)

const slotProject = "project"

type projectState struct {
	Files  map[string]string `json:"files"`
	Owners map[string]string `json:"owners"`
}

// saveProject persists the conversation's files next to its agents.
func (e *Engine) saveProject(conversation string) {
	project, ok := e.files.Lookup(conversation)
	if !ok {
		return
	}
	data, err := json.Marshal(projectState{Files: project.Snapshot(), Owners: project.Owners()})
	if err != nil {
		slog.Error("encode project failed", "conversation", conversation, "error", err)
		return
	}
	if err := e.deps.Store.PutBlob(conversation, slotProject, data); err != nil {
		slog.Error("save project failed", "conversation", conversation, "error", err)
	}
}

func (e *Engine) loadProject(conversation string) error {
	data, err := e.deps.Store.GetBlob(conversation, slotProject)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if data == nil {
		return nil
	}
	var st projectState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode project: %w", err)
	}
	e.files.Get(conversation).Restore(st.Files, st.Owners)
	return nil
}

// Resume restores saved projects and restarts the loops of roots that were
// waiting for the user. Agents caught mid-round by a shutdown are marked
// failed so they can be retried.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	convs, err := e.pool.Conversations(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, conv := range convs {
		if err := e.loadProject(conv); err != nil {
			slog.Warn("project not restored", "conversation", conv, "error", err)
		}
		agents, err := e.pool.List(ctx, conv)
		if err != nil {
			return started, err
		}
		for _, a := range agents {
			switch {
			case a.Status == agent.StatusWaitingInput && a.IsRoot():
				if err := e.Start(ctx, conv, a.ID); err != nil {
					slog.Warn("resume failed", "conversation", conv, "agent", a.ID, "error", err)
					continue
				}
				started++
			case a.Status.IsActive():
				_, err := e.pool.Mutate(ctx, conv, a.ID, func(a *agent.Agent) error {
					a.Status = agent.StatusFailed
					a.Error = "Interrupted by a restart."
					a.Step = "interrupted"
					return nil
				})
				if err != nil {
					slog.Warn("mark interrupted failed", "conversation", conv, "agent", a.ID, "error", err)
				}
			}
		}
	}
	slog.Info("engine resumed", "conversations", len(convs), "loops", started)
	return started, nil
}
