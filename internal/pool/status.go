package pool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
)

const noActiveAgents = "No active agents."

// Project renders the active agents of a conversation as an indented tree.
func (p *Pool) Project(ctx context.Context, conversation string) (string, error) {
	active, err := p.Active(ctx, conversation)
	if err != nil {
		return "", err
	}
	return RenderTree(active), nil
}

// RenderTree renders agents as a tree. Agents whose parent is not in the
// list are shown at the top level.
func RenderTree(agents []*agent.Agent) string {
	if len(agents) == 0 {
		return noActiveAgents
	}

	byID := make(map[string]*agent.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Build Agents (%d)\n", len(agents))

	seen := make(map[string]bool, len(agents))
	var write func(a *agent.Agent, depth int)
	write = func(a *agent.Agent, depth int) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(FormatLine(a))
		sb.WriteByte('\n')
		for _, c := range a.Children {
			if child, ok := byID[c]; ok {
				write(child, depth+1)
			}
		}
	}

	for _, a := range agents {
		if _, ok := byID[a.ParentID]; ok {
			continue
		}
		write(a, 0)
	}
	for _, a := range agents {
		write(a, 0)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatLine renders one agent as "- **[id]** status (n%) role: step".
func FormatLine(a *agent.Agent) string {
	step := a.Step
	if step == "" {
		step = truncate(a.Task, 30)
	}
	return fmt.Sprintf("- **[%s]** %s (%d%%) %s: %s", a.ID, a.Status, a.Progress, a.Role, step)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
