package prompt

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
)

const (
	maxPeersShown   = 8
	maxExportsShown = 5
)

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

func identity(a *agent.Agent) string {
	return fmt.Sprintf("# Identity: %s [%s]\n\n- Status: %s\n- Progress: %d%%\n- Difficulty: %d/5\n",
		a.Role, a.ID, a.Status, a.Progress, a.Difficulty)
}

// fileTree lists project files with ownership and, for files owned by
// someone else, their exports so imports can be written correctly.
func fileTree(a *agent.Agent, files []FileInfo) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Project files\n\n```\n")
	var mine []string
	for _, f := range files {
		switch f.Owner {
		case a.ID:
			mine = append(mine, f.Path)
			fmt.Fprintf(&sb, "  [yours] %s (%d chars)\n", f.Path, f.Size)
		case "":
			fmt.Fprintf(&sb, "  [free]  %s (%d chars)\n", f.Path, f.Size)
		default:
			fmt.Fprintf(&sb, "  [%s] %s (%d chars)\n", f.Owner, f.Path, f.Size)
			if len(f.Exports) > 0 {
				shown := f.Exports[:min(len(f.Exports), maxExportsShown)]
				line := strings.Join(shown, ", ")
				if extra := len(f.Exports) - len(shown); extra > 0 {
					line += fmt.Sprintf(" (+%d more)", extra)
				}
				fmt.Fprintf(&sb, "      exports: %s\n", line)
			}
		}
	}
	sb.WriteString("```\n")
	if len(mine) > 0 {
		fmt.Fprintf(&sb, "\nYour files: %s\n", strings.Join(mine, ", "))
	}
	sb.WriteString("Only modify files marked [yours] or [free]. Use a transfer to take over another agent's file.\n")
	return sb.String()
}

// peers shows the caller's working children and finished agents it may reuse.
func peers(a *agent.Agent, all []Peer) string {
	var working, reusable []Peer
	for _, p := range all {
		if p.ID == a.ID {
			continue
		}
		switch {
		case p.Status == agent.StatusWorking && p.ParentID == a.ID:
			working = append(working, p)
		case (p.Status == agent.StatusCompleted || p.Status == agent.StatusFailed) &&
			(p.Role == agent.RoleEngineer || p.Role == agent.RoleCreator):
			reusable = append(reusable, p)
		}
	}

	var sb strings.Builder
	if len(working) > 0 {
		sb.WriteString("\n## Your working sub-agents\n\n| Agent | Role | Task | Progress |\n|---|---|---|---|\n")
		for _, p := range working[:min(len(working), maxPeersShown)] {
			fmt.Fprintf(&sb, "| %s | %s | %s | %d%% |\n", p.ID, p.Role, clip(p.Task, 35), p.Progress)
		}
	}
	if len(reusable) > 0 {
		sb.WriteString("\n## Reusable agents\n\nSet `reuse: <id>` in a spawn to give one of these a new task. They keep their files.\n\n")
		sb.WriteString("| Agent | Role | Status | Last task | Files |\n|---|---|---|---|---|\n")
		for _, p := range reusable[:min(len(reusable), maxPeersShown)] {
			owned := "-"
			if len(p.Owned) > 0 {
				owned = strings.Join(p.Owned[:min(len(p.Owned), 3)], ", ")
				if len(p.Owned) > 3 {
					owned += fmt.Sprintf(" (+%d)", len(p.Owned)-3)
				}
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n", p.ID, p.Role, p.Status, clip(p.Task, 30), owned)
		}
	}
	return sb.String()
}

func modules(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "\n## Available modules\n\nImport these directly; nothing else resolves at build time:\n" +
		strings.Join(names, ", ") + "\n"
}

func language(lang string) string {
	if lang == "" {
		return ""
	}
	return fmt.Sprintf("\nWrite all user-facing text, status steps and messages in %s.\n", lang)
}

func templateVars(a *agent.Agent) string {
	if len(a.TemplateVars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Template variables\n\nThese placeholders are replaced at deploy time:\n")
	for _, k := range sortedKeys(a.TemplateVars) {
		fmt.Fprintf(&sb, "- `{{%s}}`\n", k)
	}
	return sb.String()
}

func contract(a *agent.Agent) string {
	if a.Spec == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Contract\n\n")
	if a.Spec.Context != "" {
		sb.WriteString(a.Spec.Context)
		sb.WriteString("\n")
	} else {
		sb.WriteString("No context provided. View the files you depend on before writing.\n")
	}
	if len(a.Spec.Constraints) > 0 {
		sb.WriteString("\nConstraints:\n")
		for _, c := range a.Spec.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	return sb.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

const toolReference = `
## Actions

Write files as blocks, one per file, full paths:

<<<FILE: src/components/Card.tsx>>>
export default function Card() { return <div /> }
<<<END_FILE>>>

Directives go on their own line:

@@read paths="src/types.ts src/store.ts"
@@progress percent="40" step="layout done"
@@depends names="tailwind leaflet"
@@transfer path="src/x.ts" to="Web_0004"
@@delete path="src/old.ts" confirmed="true"
@@message content="question or note for your parent"
@@abort reason="why the task cannot be done"

Reading and writing in the same response defers the writes until you have seen the files.
`

const spawnReference = `
## Delegation

Spawn sub-agents for new, self-contained files. Give each the exact imports and interfaces it needs:

<spawn_children>
- role: engineer
  task: Create src/components/ItemList.tsx
  difficulty: 3
  output_key: item_list
  context: |
    export default function ItemList()
    import { useStore } from '../store';
- reuse: Web_0005
  task: Fix the import error in your TechTree.tsx
</spawn_children>

Send a follow-up to a child with <delegate to="Web_0005">instructions</delegate>.
`
