package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/natsbus"
)

// Publisher is the side channel used to wake the conversational loop.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Trigger is published on the conversation trigger topic.
type Trigger struct {
	Conversation string            `json:"conversation"`
	AgentID      string            `json:"agent_id"`
	Type         agent.MessageType `json:"type"`
	Content      string            `json:"content"`
	Timestamp    string            `json:"timestamp"`
}

// Bus appends messages to agent logs.
type Bus struct {
	pool *Pool
	pub  Publisher
}

// NewBus returns a bus; pub may be nil when no conversational loop listens.
func NewBus(pool *Pool, pub Publisher) *Bus {
	return &Bus{pool: pool, pub: pub}
}

// Send appends content to the target's log and, with trigger set, wakes the
// conversational loop of the conversation.
func (b *Bus) Send(ctx context.Context, conversation, target, content string, typ agent.MessageType, trigger bool) error {
	return b.SendFrom(ctx, conversation, target, agent.SenderSystem, content, typ, trigger)
}

func (b *Bus) SendFrom(ctx context.Context, conversation, target, sender, content string, typ agent.MessageType, trigger bool) error {
	_, err := b.pool.Mutate(ctx, conversation, target, func(a *agent.Agent) error {
		a.AddMessage(sender, typ, content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}

	if trigger && b.pub != nil {
		t := Trigger{
			Conversation: conversation,
			AgentID:      target,
			Type:         typ,
			Content:      fmt.Sprintf("[%s] %s", target, content),
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		if err := b.pub.PublishJSON(natsbus.TopicTrigger(conversation), t); err != nil {
			slog.Warn("trigger publish failed", "conversation", conversation, "agent", target, "error", err)
		}
	}
	return nil
}
