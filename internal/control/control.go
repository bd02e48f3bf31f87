// Package control serves operator commands over NATS request/reply on
// host.ipc.<conversation>.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/engine"
	"github.com/mtzanidakis/webforge/internal/natsbus"
	"github.com/mtzanidakis/webforge/internal/pool"
	"github.com/mtzanidakis/webforge/internal/store"
)

const (
	CmdCreateTask  = "create_task"
	CmdListAgents  = "list_agents"
	CmdShowAgent   = "show_agent"
	CmdCancel      = "cancel_agent"
	CmdFeedback    = "feedback"
	CmdConfirm     = "confirm"
	CmdRetry       = "retry"
	CmdRebuild     = "rebuild"
	CmdStatus      = "status"
	CmdRunning     = "running"
	CmdDeps        = "deps"
	CmdDeployments = "deployments"
)

// Command is one request on host.ipc.<conversation>.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply carries the result of a command. Only the fields relevant to the
// command are set.
type Reply struct {
	OK          bool                    `json:"ok"`
	Error       string                  `json:"error,omitempty"`
	Agent       *agent.Agent            `json:"agent,omitempty"`
	Agents      []*agent.Agent          `json:"agents,omitempty"`
	Status      string                  `json:"status,omitempty"`
	URL         string                  `json:"url,omitempty"`
	Running     []engine.RunInfo        `json:"running,omitempty"`
	Deps        []store.DependencyCount `json:"deps,omitempty"`
	Deployments []store.Deployment      `json:"deployments,omitempty"`
}

// TaskRequest is the payload of create_task.
type TaskRequest struct {
	Task         string            `json:"task"`
	Wait         bool              `json:"wait,omitempty"`
	Difficulty   int               `json:"difficulty,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

// AgentRequest addresses one agent; Message is used by feedback.
type AgentRequest struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

type Engine interface {
	Submit(ctx context.Context, conversation, task string, opts engine.SubmitOptions) (*agent.Agent, error)
	Cancel(ctx context.Context, conversation, id string) error
	Feedback(ctx context.Context, conversation, id, content string) error
	Confirm(ctx context.Context, conversation, id string) error
	Retry(ctx context.Context, conversation, id string) error
	Rebuild(ctx context.Context, conversation, id string) (string, error)
	Running() []engine.RunInfo
}

type Store interface {
	MissingDependencies() ([]store.DependencyCount, error)
	ListDeployments(conversation string) ([]store.Deployment, error)
}

type Server struct {
	client  *natsbus.Client
	pool    *pool.Pool
	engine  Engine
	store   Store
	timeout time.Duration
	sub     *nats.Subscription
}

func NewServer(client *natsbus.Client, p *pool.Pool, eng Engine, st Store, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{client: client, pool: p, engine: eng, store: st, timeout: timeout}
}

func (s *Server) Start() error {
	sub, err := s.client.Subscribe(natsbus.TopicIPCAll, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	s.sub = sub
	slog.Info("control server listening", "subject", natsbus.TopicIPCAll)
	return nil
}

func (s *Server) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func (s *Server) handle(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid control command", "error", err)
		respond(msg, Reply{Error: "invalid command"})
		return
	}
	conv := strings.TrimPrefix(msg.Subject, "host.ipc.")
	slog.Info("control command received", "type", cmd.Type, "conversation", conv)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reply, err := s.dispatch(ctx, conv, cmd)
	if err != nil {
		slog.Warn("control command failed", "type", cmd.Type, "conversation", conv, "error", err)
		respond(msg, Reply{Error: err.Error()})
		return
	}
	reply.OK = true
	respond(msg, reply)
}

func (s *Server) dispatch(ctx context.Context, conv string, cmd Command) (Reply, error) {
	switch cmd.Type {
	case CmdCreateTask:
		var req TaskRequest
		if err := decode(cmd.Payload, &req); err != nil {
			return Reply{}, err
		}
		if strings.TrimSpace(req.Task) == "" {
			return Reply{}, errors.New("task is required")
		}
		a, err := s.engine.Submit(ctx, conv, req.Task, engine.SubmitOptions{
			WaitForSlot:  req.Wait,
			Difficulty:   req.Difficulty,
			TemplateVars: req.TemplateVars,
		})
		if err != nil {
			return Reply{}, err
		}
		slog.Info("task created via control", "conversation", conv, "agent", a.ID)
		return Reply{Agent: a}, nil

	case CmdListAgents:
		agents, err := s.pool.List(ctx, conv)
		return Reply{Agents: agents}, err

	case CmdStatus:
		status, err := s.pool.Project(ctx, conv)
		return Reply{Status: status}, err

	case CmdRunning:
		return Reply{Running: s.engine.Running()}, nil

	case CmdDeps:
		deps, err := s.store.MissingDependencies()
		return Reply{Deps: deps}, err

	case CmdDeployments:
		deployments, err := s.store.ListDeployments(conv)
		return Reply{Deployments: deployments}, err
	}

	var req AgentRequest
	if err := decode(cmd.Payload, &req); err != nil {
		return Reply{}, err
	}
	if req.ID == "" {
		return Reply{}, errors.New("id is required")
	}

	switch cmd.Type {
	case CmdShowAgent:
		a, err := s.pool.Get(ctx, conv, req.ID)
		return Reply{Agent: a}, err
	case CmdCancel:
		return Reply{}, s.engine.Cancel(ctx, conv, req.ID)
	case CmdFeedback:
		if strings.TrimSpace(req.Message) == "" {
			return Reply{}, errors.New("message is required")
		}
		return Reply{}, s.engine.Feedback(ctx, conv, req.ID, req.Message)
	case CmdConfirm:
		return Reply{}, s.engine.Confirm(ctx, conv, req.ID)
	case CmdRetry:
		return Reply{}, s.engine.Retry(ctx, conv, req.ID)
	case CmdRebuild:
		url, err := s.engine.Rebuild(ctx, conv, req.ID)
		return Reply{URL: url}, err
	default:
		return Reply{}, fmt.Errorf("unknown command: %s", cmd.Type)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

func respond(msg *nats.Msg, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to marshal control reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to control command", "error", err)
	}
}

// Client sends commands to a control server.
type Client struct {
	nc      *natsbus.Client
	timeout time.Duration
}

func NewClient(nc *natsbus.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{nc: nc, timeout: timeout}
}

// Call sends a command for conversation and returns the reply. A reply
// that reports an error is returned as an error.
func (c *Client) Call(conversation, typ string, payload any) (*Reply, error) {
	cmd := Command{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		cmd.Payload = data
	}
	var reply Reply
	if err := c.nc.RequestJSON(natsbus.TopicIPC(conversation), cmd, &reply, c.timeout); err != nil {
		return nil, err
	}
	if !reply.OK {
		return &reply, fmt.Errorf("%s: %s", typ, reply.Error)
	}
	return &reply, nil
}
