package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Token makes an id safe to embed as a single subject token.
func Token(id string) string {
	if id == "" {
		return "_"
	}
	return tokenReplacer.Replace(id)
}

func TopicEventsAgent(conversation, agentID string) string {
	return fmt.Sprintf("events.agent.%s.%s", Token(conversation), Token(agentID))
}

func TopicEventsDeploy(conversation string) string {
	return fmt.Sprintf("events.deploy.%s", Token(conversation))
}

// TopicTrigger wakes the conversational loop that owns a conversation.
func TopicTrigger(conversation string) string {
	return fmt.Sprintf("conversation.%s.trigger", Token(conversation))
}

func TopicIPC(conversation string) string {
	return fmt.Sprintf("host.ipc.%s", Token(conversation))
}

const (
	TopicEventsAll     = "events.>"
	TopicEventsAgents  = "events.agent.>"
	TopicEventsJanitor = "events.janitor"
	TopicTriggerAll    = "conversation.*.trigger"
	TopicIPCAll        = "host.ipc.*"
)
