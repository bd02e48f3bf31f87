package pool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
)

// childRole picks the role of a child created under parent.
func childRole(spec agent.Spec) agent.Role {
	if spec.Role == "" {
		return agent.RoleEngineer
	}
	return agent.ParseRole(spec.Role)
}

// Spawn creates a child of parent and links it in the same write. It waits
// for a free slot like any other creation.
func (p *Pool) Spawn(ctx context.Context, parent *agent.Agent, spec agent.Spec) (*agent.Agent, error) {
	difficulty := spec.Difficulty
	if difficulty == 0 {
		difficulty = parent.Difficulty
	}
	child, err := p.Create(ctx, parent.Conversation, spec.Task, CreateOptions{
		WaitForSlot:  true,
		Role:         childRole(spec),
		Difficulty:   difficulty,
		TemplateVars: parent.TemplateVars,
		ParentID:     parent.ID,
		Spec:         &spec,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn child of %s: %w", parent.ID, err)
	}
	parent.AddChild(child.ID)
	slog.Info("agent spawned", "conversation", parent.Conversation, "id", child.ID, "role", child.Role, "parent", parent.ID)
	return child, nil
}

// Reawaken puts a finished agent back to work on a new task under parent.
// File ownership is left as it is.
func (p *Pool) Reawaken(ctx context.Context, parent *agent.Agent, id, task string, spec *agent.Spec) (*agent.Agent, error) {
	conversation := parent.Conversation
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return nil, err
	}
	target, ok := st.Agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}
	if target.Status == agent.StatusWorking {
		return nil, fmt.Errorf("reawaken %s: %w", id, agent.ErrAgentBusy)
	}

	now := p.now()
	target.Status = agent.StatusPending
	target.Task = task
	target.SetProgress(0, "reawakened")
	target.Error = ""
	target.Output = ""
	target.OutputReady = false
	target.Iterations = 0
	target.ConsecutiveFailures = 0
	target.AddMessage(agent.SenderSystem, agent.MessageInstruction,
		fmt.Sprintf("You have been reactivated to continue working. New task: %s", task))
	switch {
	case spec != nil:
		s := *spec
		target.Spec = &s
	case target.Spec != nil:
		s := *target.Spec
		s.Task = task
		target.Spec = &s
	}
	if target.Metadata == nil {
		target.Metadata = make(map[string]string)
	}
	target.Metadata["reawakened"] = "true"

	if target.ParentID != parent.ID && target.ParentID != "" {
		if old, ok := st.Agents[target.ParentID]; ok {
			old.Children = slices.DeleteFunc(old.Children, func(c string) bool { return c == id })
		}
	}
	target.ParentID = parent.ID
	target.UpdatedAt = now

	if stored, ok := st.Agents[parent.ID]; ok {
		stored.AddChild(id)
		stored.UpdatedAt = now
	}
	parent.AddChild(id)

	if err := p.save(conversation, st); err != nil {
		return nil, err
	}
	slog.Info("agent reawakened", "conversation", conversation, "id", id, "parent", parent.ID)
	return target.Clone(), nil
}

// Retry moves a failed agent back to pending with counters reset.
func (p *Pool) Retry(ctx context.Context, conversation, id string) (*agent.Agent, error) {
	return p.Mutate(ctx, conversation, id, func(a *agent.Agent) error {
		switch a.Status {
		case agent.StatusFailed:
		case agent.StatusCancelled:
			return fmt.Errorf("retry %s: %w", id, agent.ErrCancelled)
		default:
			return fmt.Errorf("retry %s: agent is %s, not failed", id, a.Status)
		}
		a.Status = agent.StatusPending
		a.Error = ""
		a.Iterations = 0
		a.ConsecutiveFailures = 0
		a.ReviewRounds = 0
		a.SetProgress(0, "retrying")
		a.AddMessage(agent.SenderSystem, agent.MessageInstruction, "Retrying the task after a failure.")
		return nil
	})
}

// Archive removes terminal agents older than maxAge. retain reports agents
// that must stay, such as ones still owning files.
func (p *Pool) Archive(ctx context.Context, conversation string, maxAge time.Duration, retain func(id string) bool) (int, error) {
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return 0, err
	}

	cutoff := p.now().Add(-maxAge)
	archived := 0
	for id, a := range st.Agents {
		if !a.Status.IsTerminal() || !a.UpdatedAt.Before(cutoff) {
			continue
		}
		if retain != nil && retain(id) {
			continue
		}
		delete(st.Agents, id)
		archived++
	}
	if archived == 0 {
		return 0, nil
	}

	for _, a := range st.Agents {
		a.Children = slices.DeleteFunc(a.Children, func(c string) bool {
			_, ok := st.Agents[c]
			return !ok
		})
	}
	if err := p.save(conversation, st); err != nil {
		return 0, err
	}
	slog.Info("agents archived", "conversation", conversation, "count", archived)
	return archived, nil
}

// Descendants returns the ids below id, depth first.
func (p *Pool) Descendants(ctx context.Context, conversation, id string) ([]string, error) {
	all, err := p.List(ctx, conversation)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*agent.Agent, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}
	if _, ok := byID[id]; !ok {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}

	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(cur string) {
		for _, c := range byID[cur].Children {
			if seen[c] || byID[c] == nil {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out, nil
}
