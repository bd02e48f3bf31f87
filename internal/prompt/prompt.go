// Package prompt renders the generation request for one agent round.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
)

// Mode selects the prompt variant for an agent.
type Mode int

const (
	ModeCoordinator Mode = iota
	ModeEngineer
	ModeCreator
	ModeReviewer
)

func (m Mode) String() string {
	switch m {
	case ModeCoordinator:
		return "coordinator"
	case ModeEngineer:
		return "engineer"
	case ModeCreator:
		return "creator"
	case ModeReviewer:
		return "reviewer"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// SelectMode picks Coordinator for roots and agents with children, and
// otherwise follows the role.
func SelectMode(a *agent.Agent) Mode {
	if a.IsRoot() || a.HasChildren() {
		return ModeCoordinator
	}
	switch a.Role {
	case agent.RoleCreator:
		return ModeCreator
	case agent.RoleReviewer:
		return ModeReviewer
	default:
		return ModeEngineer
	}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is a rendered chat request.
type Prompt struct {
	Mode     Mode
	Messages []Message
}

// System returns the system message content.
func (p Prompt) System() string {
	for _, m := range p.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// FileInfo describes one project file for the file tree section.
type FileInfo struct {
	Path    string
	Owner   string
	Size    int
	Exports []string
}

// Peer is another agent of the same conversation.
type Peer struct {
	ID       string
	ParentID string
	Role     agent.Role
	Status   agent.Status
	Task     string
	Progress int
	Owned    []string
}

// Input is everything a render needs; renders never look anything up.
type Input struct {
	Agent    *agent.Agent
	Files    []FileInfo
	Peers    []Peer
	Modules  []string
	// Injected holds file contents shown to the agent this round.
	Injected map[string]string
	Language string
}

// Render dispatches on the agent's mode.
func Render(in Input) Prompt {
	mode := SelectMode(in.Agent)
	var system string
	switch mode {
	case ModeCoordinator:
		system = renderCoordinator(in)
	case ModeCreator:
		system = renderCreator(in)
	case ModeReviewer:
		system = renderReviewer(in)
	default:
		system = renderEngineer(in)
	}
	return Prompt{Mode: mode, Messages: conversation(in, system)}
}

// conversation builds the system, mission and history messages.
func conversation(in Input, system string) []Message {
	a := in.Agent
	msgs := []Message{{Role: RoleSystem, Content: system}}

	task := a.Task
	if a.Spec != nil {
		task = "[Task assigned by your parent]\n\n" + a.Spec.Task
		if a.Spec.OutputFormat != "" {
			task += "\n\nExpected output: " + a.Spec.OutputFormat
		}
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: "[Mission start]\n\n" + task})

	for i, m := range a.Messages {
		if i == 0 && m.Type == agent.MessageInstruction {
			continue
		}
		if m.Sender == agent.SenderSelf || m.Sender == a.ID {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: m.Content})
			continue
		}
		msgs = appendUser(msgs, prefix(m.Type)+" "+m.Content)
	}

	if len(in.Injected) > 0 {
		msgs = appendUser(msgs, renderInjected(in.Injected))
	}
	if a.Status == agent.StatusWorking {
		msgs = appendUser(msgs, "Proceed.")
	}
	return msgs
}

// appendUser merges consecutive user turns.
func appendUser(msgs []Message, content string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == RoleUser {
		msgs[n-1].Content += "\n\n" + content
		return msgs
	}
	return append(msgs, Message{Role: RoleUser, Content: content})
}

func prefix(t agent.MessageType) string {
	switch t {
	case agent.MessageInstruction:
		return "[Instruction]"
	case agent.MessageFeedback:
		return "[Feedback]"
	case agent.MessageError:
		return "[System error]"
	case agent.MessageResult:
		return "[Result]"
	}
	return "[System message]"
}

func renderInjected(files map[string]string) string {
	var sb strings.Builder
	sb.WriteString("[Requested files]\n")
	for _, path := range sortedKeys(files) {
		fmt.Fprintf(&sb, "\n### %s\n```\n%s\n```\n", path, files[path])
	}
	return sb.String()
}
