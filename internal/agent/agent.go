package agent

import (
	"maps"
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusWorking      Status = "working"
	StatusReviewing    Status = "reviewing"
	StatusWaitingInput Status = "waiting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether the status ends an agent's loop.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the agent occupies a concurrency slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusWorking, StatusReviewing, StatusWaitingInput:
		return true
	}
	return false
}

// HoldsSlot reports whether the status counts against the concurrency
// limit. A root waiting for the user does not.
func (s Status) HoldsSlot() bool {
	return s.IsActive() && s != StatusWaitingInput
}

func (s Status) Known() bool {
	return s.IsActive() || s.IsTerminal()
}

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleEngineer    Role = "engineer"
	RoleCreator     Role = "creator"
	RoleReviewer    Role = "reviewer"
)

// ParseRole maps free-form role names onto the closed role set. Unknown
// names fall back to engineer.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coordinator", "architect", "root", "lead":
		return RoleCoordinator
	case "creator", "content", "writer", "designer", "copywriter":
		return RoleCreator
	case "reviewer", "qa":
		return RoleReviewer
	default:
		return RoleEngineer
	}
}

type MessageType string

const (
	MessageInstruction MessageType = "instruction"
	MessageFeedback    MessageType = "feedback"
	MessageProgress    MessageType = "progress"
	MessageResult      MessageType = "result"
	MessageQuestion    MessageType = "question"
	MessageError       MessageType = "error"
	MessageInfo        MessageType = "info"
)

// Senders used in message logs besides agent ids.
const (
	SenderSystem = "system"
	SenderUser   = "user"
	SenderSelf   = "self"
)

type Message struct {
	Time    time.Time   `json:"time"`
	Sender  string      `json:"sender"`
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// Spec is the assignment contract a parent hands to a child.
type Spec struct {
	Role         string   `json:"role"`
	Task         string   `json:"task"`
	Context      string   `json:"context,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	Difficulty   int      `json:"difficulty,omitempty"`
	Reuse        string   `json:"reuse,omitempty"`
	OutputKey    string   `json:"output_key,omitempty"`
}

const (
	ReviewPass = "PASS"
	ReviewFail = "FAIL"
)

type Agent struct {
	ID           string   `json:"id"`
	Conversation string   `json:"conversation"`
	Role         Role     `json:"role"`
	Status       Status   `json:"status"`
	ParentID     string   `json:"parent_id,omitempty"`
	Children     []string `json:"children,omitempty"`
	Task         string   `json:"task"`
	Spec         *Spec    `json:"spec,omitempty"`
	Difficulty   int      `json:"difficulty"`

	Progress int       `json:"progress"`
	Step     string    `json:"step,omitempty"`
	Messages []Message `json:"messages,omitempty"`

	Output      string `json:"output,omitempty"`
	OutputReady bool   `json:"output_ready,omitempty"`

	Dependencies      []string          `json:"dependencies,omitempty"`
	ReviewStatus      string            `json:"review_status,omitempty"`
	ReviewedDigest    string            `json:"reviewed_digest,omitempty"`
	ReviewWarning     string            `json:"review_warning,omitempty"`
	LastReviewComment string            `json:"last_review_comment,omitempty"`
	TemplateVars      map[string]string `json:"template_vars,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	Iterations          int    `json:"iterations"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	ReviewRounds        int    `json:"review_rounds"`
	Error               string `json:"error,omitempty"`
	DeployedURL         string `json:"deployed_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Agent) IsRoot() bool { return a.ParentID == "" }

func (a *Agent) HasChildren() bool { return len(a.Children) > 0 }

// AddMessage appends to the message log.
func (a *Agent) AddMessage(sender string, typ MessageType, content string) {
	a.Messages = append(a.Messages, Message{
		Time:    time.Now().UTC(),
		Sender:  sender,
		Type:    typ,
		Content: content,
	})
}

// SetProgress clamps progress to 0..100 and records the step when given.
func (a *Agent) SetProgress(progress int, step string) {
	a.Progress = min(max(progress, 0), 100)
	if step != "" {
		a.Step = step
	}
}

// AddChild records a child id once.
func (a *Agent) AddChild(id string) {
	if !slices.Contains(a.Children, id) {
		a.Children = append(a.Children, id)
	}
}

// MergeDependencies adds names not yet declared, keeping order.
func (a *Agent) MergeDependencies(names []string) {
	for _, n := range names {
		if n != "" && !slices.Contains(a.Dependencies, n) {
			a.Dependencies = append(a.Dependencies, n)
		}
	}
}

// OutputKey names the slot a parent stores this agent's delivery under.
func (a *Agent) OutputKey() string {
	if a.Spec != nil && a.Spec.OutputKey != "" {
		return a.Spec.OutputKey
	}
	if a.Role != "" {
		return string(a.Role)
	}
	return a.ID
}

// Clone returns a deep copy.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Children = slices.Clone(a.Children)
	c.Messages = slices.Clone(a.Messages)
	c.Dependencies = slices.Clone(a.Dependencies)
	c.TemplateVars = maps.Clone(a.TemplateVars)
	c.Metadata = maps.Clone(a.Metadata)
	if a.Spec != nil {
		s := *a.Spec
		s.Constraints = slices.Clone(a.Spec.Constraints)
		c.Spec = &s
	}
	return &c
}
