package engine

import (
	"log/slog"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/natsbus"
)

// Event types published by the engine.
const (
	EventStatus   = "agent_status"
	EventProgress = "agent_progress"
	EventStream   = "agent_stream"
	EventFile     = "file_written"
	EventBuild    = "build"
	EventReview   = "review"
	EventDeploy   = "deploy"
)

type Event struct {
	Type         string         `json:"type"`
	Conversation string         `json:"conversation"`
	AgentID      string         `json:"agent_id"`
	Timestamp    string         `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

func (e *Engine) publish(conversation, id, typ string, data map[string]any) {
	if e.deps.Events == nil {
		return
	}
	ev := Event{
		Type:         typ,
		Conversation: conversation,
		AgentID:      id,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Data:         data,
	}
	topic := natsbus.TopicEventsAgent(conversation, id)
	if typ == EventDeploy {
		topic = natsbus.TopicEventsDeploy(conversation)
	}
	if err := e.deps.Events.PublishJSON(topic, ev); err != nil {
		slog.Debug("event publish failed", "type", typ, "agent", id, "error", err)
	}
}

func (e *Engine) publishStatus(a *agent.Agent) {
	e.publish(a.Conversation, a.ID, EventStatus, map[string]any{
		"status":   a.Status,
		"role":     a.Role,
		"parent":   a.ParentID,
		"progress": a.Progress,
		"step":     a.Step,
		"error":    a.Error,
	})
}
